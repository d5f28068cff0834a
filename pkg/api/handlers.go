package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/paulmach/orb"

	"sewernet/pkg/cascade"
	"sewernet/pkg/changes"
	"sewernet/pkg/config"
	"sewernet/pkg/impact"
	"sewernet/pkg/metrics"
	"sewernet/pkg/network"
	"sewernet/pkg/topology"
)

const (
	maxNetworkBytes = 16 << 20
	maxRequestBytes = 1 << 20
)

// Handlers holds the HTTP handlers and their dependencies. A single mutex
// serializes every pass: the store and detector baselines are shared state
// and passes are run-to-completion by design.
type Handlers struct {
	mu       sync.Mutex
	cfg      config.Config
	store    *network.MemStore
	detector *changes.Detector
	engine   *cascade.Engine
	logger   *log.Logger
}

// NewHandlers wires a store, change detector, and cascade engine from the
// given configuration.
func NewHandlers(cfg config.Config, logger *log.Logger) *Handlers {
	store := network.NewMemStore()
	return &Handlers{
		cfg:      cfg,
		store:    store,
		detector: changes.NewDetector(cfg.Tolerances.MovementM),
		engine: &cascade.Engine{
			Params:               cfg.Params(),
			DepthTolerance:       cfg.Tolerances.DepthM,
			InitialDepthOverride: cfg.InitialDepthM,
			Store:                store,
			Logger:               logger,
		},
		logger: logger,
	}
}

// HandleLoadNetwork handles POST /api/v1/network: replaces the working
// network with the posted GeoJSON FeatureCollection and re-baselines
// change detection.
func (h *Handlers) HandleLoadNetwork(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNetworkBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "")
		return
	}
	res, err := network.UnmarshalNetwork(data, h.cfg.Fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_geojson", "")
		return
	}

	h.mu.Lock()
	h.store.Replace(res.Segments)
	h.detector.Capture(h.store.Segments())
	h.mu.Unlock()

	h.logger.Info("network loaded", "segments", len(res.Segments), "skipped", res.Skipped)
	writeJSON(w, LoadResponse{Segments: len(res.Segments), Skipped: res.Skipped})
}

// HandleRecalculate handles POST /api/v1/recalculate: applies an edit
// batch, diffs topology before and after, and runs an incremental cascade
// pass over the affected segments.
func (h *Handlers) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req RecalculateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return
	}
	if len(req.Changes) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "changes")
		return
	}
	for _, ch := range req.Changes {
		if _, err := parseRole(ch.Role); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_role", "changes")
			return
		}
		if !finite(ch.New[0]) || !finite(ch.New[1]) {
			writeError(w, http.StatusBadRequest, "invalid_coordinates", "changes")
			return
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	start := time.Now()

	before := topology.Build(h.store.Segments(), h.cfg.Tolerances.NodeKeyPrecision)

	for _, ch := range req.Changes {
		role, _ := parseRole(ch.Role)
		if err := h.store.MoveVertex(ch.SegmentID, role, orb.Point(ch.New)); err != nil {
			writeError(w, http.StatusNotFound, "segment_not_found", "changes")
			return
		}
	}

	elevations := make(map[int64]map[network.Role]float64)
	for _, el := range req.Elevations {
		role, err := parseRole(el.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_role", "elevations")
			return
		}
		if err := h.store.SetElevation(el.SegmentID, role, el.Value); err != nil {
			writeError(w, http.StatusNotFound, "segment_not_found", "elevations")
			return
		}
		if elevations[el.SegmentID] == nil {
			elevations[el.SegmentID] = make(map[network.Role]float64)
		}
		elevations[el.SegmentID][role] = el.Value
	}

	// Sub-tolerance moves fall out here: the detector only reports
	// displacement beyond the movement tolerance.
	events := h.detector.Detect(h.store.Segments())
	after := topology.Build(h.store.Segments(), h.cfg.Tolerances.NodeKeyPrecision)
	impacts := impact.Analyze(before, after, events)

	res, err := h.engine.Run(cascade.Pass{
		After:      after,
		Impacts:    impacts,
		Elevations: elevations,
	})
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) || errors.Is(err, cascade.ErrNoParams) {
			writeError(w, http.StatusConflict, "configuration_missing", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	observePass("incremental", start, res)
	for _, id := range res.NoChange {
		if impacts.ConvergentAffected[id] {
			metrics.ConvergentConflicts.Inc()
		}
	}

	writeJSON(w, res)
}

// HandleCompute handles POST /api/v1/compute: a full-network calculation
// from the root segments.
func (h *Handlers) HandleCompute(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := time.Now()

	snap := topology.Build(h.store.Segments(), h.cfg.Tolerances.NodeKeyPrecision)
	res, err := h.engine.ComputeNetwork(snap)
	if err != nil {
		if errors.Is(err, cascade.ErrNoParams) {
			writeError(w, http.StatusConflict, "configuration_missing", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	// Depth writes do not move geometry, but re-baseline for symmetry
	// with load.
	h.detector.Capture(h.store.Segments())

	observePass("full", start, res)
	writeJSON(w, res)
}

// HandleValidate handles GET /api/v1/validate.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	snap := topology.Build(h.store.Segments(), h.cfg.Tolerances.NodeKeyPrecision)
	h.mu.Unlock()

	report := topology.Validate(snap, h.cfg.Tolerances.MovementM)
	metrics.ValidationWarnings.Add(float64(len(report.Warnings)))
	writeJSON(w, report)
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	snap := topology.Build(h.store.Segments(), h.cfg.Tolerances.NodeKeyPrecision)
	h.mu.Unlock()
	writeJSON(w, snap.Stats())
}

// HandleExport handles GET /api/v1/network: the working network with
// current depths as GeoJSON.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	segs := h.store.Segments()
	h.mu.Unlock()

	data, err := network.MarshalNetwork(segs, h.cfg.Fields)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(data)
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Segments: h.store.Len()})
}

func observePass(kind string, start time.Time, res *cascade.Result) {
	metrics.PassesTotal.WithLabelValues(kind).Inc()
	metrics.PassDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.SegmentsRecalculated.Add(float64(len(res.Recalculated) + len(res.ConvergentUpdated)))
	metrics.CascadeStops.Add(float64(len(res.CascadeStopped)))
	metrics.SegmentsSkipped.Add(float64(len(res.Skipped)))
}

func parseRole(s string) (network.Role, error) {
	switch s {
	case "p1", "upstream":
		return network.RoleUpstream, nil
	case "p2", "downstream":
		return network.RoleDownstream, nil
	}
	return "", errors.New("role must be p1 or p2")
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" && mediaType != "application/geo+json" {
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code, Field: field})
}
