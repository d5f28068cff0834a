// Package changes detects endpoint movement between geometry snapshots and
// turns it into vertex-change events for impact analysis.
package changes

import (
	"sort"

	"github.com/paulmach/orb"

	"sewernet/pkg/geo"
	"sewernet/pkg/network"
)

type endpoints struct {
	p1, p2 orb.Point
}

// Detector captures segment endpoint geometry and reports moves that
// exceed the movement tolerance. Sub-tolerance jitter (snapping noise,
// coordinate round-trips) produces no events.
type Detector struct {
	tol   float64
	known map[int64]endpoints
}

// NewDetector creates a detector with the given movement tolerance in map
// units.
func NewDetector(tol float64) *Detector {
	return &Detector{tol: tol, known: make(map[int64]endpoints)}
}

// Capture records the current endpoint geometry as the new baseline.
func (d *Detector) Capture(segs []network.Segment) {
	d.known = make(map[int64]endpoints, len(segs))
	for _, s := range segs {
		d.known[s.ID] = endpoints{p1: s.P1, p2: s.P2}
	}
}

// Detect compares current geometry against the baseline and returns one
// VertexChange per endpoint that moved beyond the tolerance, ordered by
// segment id. The baseline is then advanced to the current geometry.
// Segments absent from the baseline are captured without an event.
func (d *Detector) Detect(segs []network.Segment) []network.VertexChange {
	var out []network.VertexChange
	next := make(map[int64]endpoints, len(segs))

	for _, s := range segs {
		next[s.ID] = endpoints{p1: s.P1, p2: s.P2}
		old, ok := d.known[s.ID]
		if !ok {
			continue
		}
		if dist := geo.Dist2D(old.p1, s.P1); dist > d.tol {
			out = append(out, network.VertexChange{
				SegmentID: s.ID,
				Role:      network.RoleUpstream,
				Old:       old.p1,
				New:       s.P1,
				Distance:  dist,
			})
		}
		if dist := geo.Dist2D(old.p2, s.P2); dist > d.tol {
			out = append(out, network.VertexChange{
				SegmentID: s.ID,
				Role:      network.RoleDownstream,
				Old:       old.p2,
				New:       s.P2,
				Distance:  dist,
			})
		}
	}

	d.known = next
	sort.SliceStable(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out
}
