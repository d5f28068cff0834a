// Package metrics exposes prometheus counters for the recalculation
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassesTotal counts depth calculation passes, by kind
	// ("incremental" or "full").
	PassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sewernet_passes_total",
		Help: "Depth calculation passes run.",
	}, []string{"kind"})

	// SegmentsRecalculated counts segments whose depths were rewritten.
	SegmentsRecalculated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sewernet_segments_recalculated_total",
		Help: "Segments with depths rewritten by a pass.",
	})

	// CascadeStops counts segments where a cascade terminated because the
	// recalculated depth was within tolerance of the stored one.
	CascadeStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sewernet_cascade_stops_total",
		Help: "Segments where a depth cascade stopped early.",
	})

	// ConvergentConflicts counts convergent junction depth conflicts
	// resolved in favor of the established depth.
	ConvergentConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sewernet_convergent_conflicts_total",
		Help: "Convergent depth conflicts resolved by keeping the established depth.",
	})

	// SegmentsSkipped counts segments skipped for missing data.
	SegmentsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sewernet_segments_skipped_total",
		Help: "Segments skipped during a pass (missing elevation or geometry).",
	})

	// ValidationWarnings counts findings produced by topology validation.
	ValidationWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sewernet_validation_warnings_total",
		Help: "Topology validation warnings reported.",
	})

	// PassDuration observes wall time per pass, by kind.
	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sewernet_pass_duration_seconds",
		Help:    "Wall time of depth calculation passes.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
