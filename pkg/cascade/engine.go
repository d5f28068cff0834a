// Package cascade recalculates invert depths across the network: full
// passes seeded at the root segments, and incremental passes that walk an
// impact classification in dependency order and stop where depths settle.
package cascade

import (
	"errors"
	"math"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"sewernet/pkg/hydraulics"
	"sewernet/pkg/impact"
	"sewernet/pkg/network"
	"sewernet/pkg/topology"
)

// ErrNoParams aborts a pass started without hydraulic parameters.
var ErrNoParams = errors.New("cascade: hydraulic parameters not configured")

// Engine runs depth calculation passes. One engine is reusable across
// passes; it holds no per-pass state.
type Engine struct {
	Params hydraulics.Params
	// DepthTolerance bounds cascades: a recalculated depth within this of
	// the stored value is not significant.
	DepthTolerance float64
	// InitialDepthOverride, when positive, replaces the rule minimum as
	// the starting depth at roots.
	InitialDepthOverride float64

	Store network.DepthStore
	// Elevations, when set, backfills ground elevations for endpoints that
	// have none stored (a surface raster, or a synthetic plane in tests).
	Elevations network.ElevationSource
	Logger     *log.Logger
}

// Pass is the input to one incremental recalculation.
type Pass struct {
	After   *topology.Snapshot
	Impacts *impact.Classification

	// Elevations carries ground elevations re-sampled after the edits,
	// keyed by segment id and endpoint. They take precedence over the
	// elevations stored on the segments.
	Elevations map[int64]map[network.Role]float64
}

// Result reports what one pass did. The id sets are disjoint: every
// processed segment lands in exactly one.
type Result struct {
	PassID string `json:"pass_id"`

	Recalculated      []int64 `json:"recalculated"`
	ConvergentUpdated []int64 `json:"convergent_updated"`
	CascadeStopped    []int64 `json:"cascade_stopped"`
	NoChange          []int64 `json:"no_change"`
	Skipped           []int64 `json:"skipped"`
	Failed            []int64 `json:"failed"`

	Warnings []string `json:"warnings,omitempty"`
}

func newResult() *Result {
	return &Result{
		PassID:            uuid.NewString(),
		Recalculated:      []int64{},
		ConvergentUpdated: []int64{},
		CascadeStopped:    []int64{},
		NoChange:          []int64{},
		Skipped:           []int64{},
		Failed:            []int64{},
	}
}

// endpointDepths is a segment's depths as resolved during this pass, used
// so downstream segments read this pass's values instead of stale storage.
type endpointDepths struct {
	p1, p2 float64
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// Run executes one incremental pass over the affected segments in
// dependency order. Per-segment failures are recorded and never abort the
// batch.
func (e *Engine) Run(pass Pass) (*Result, error) {
	if e.Params.MinimumDepth() <= 0 {
		return nil, ErrNoParams
	}

	res := newResult()
	order := pass.Impacts.ProcessingOrder(pass.After)
	res.Warnings = append(res.Warnings, pass.Impacts.Warnings...)

	logger := e.logger().With("pass", res.PassID)
	logger.Info("cascade pass starting", "affected", len(order))

	computed := make(map[int64]endpointDepths)
	for _, id := range order {
		seg, ok := pass.After.Segment(id)
		if !ok {
			res.Skipped = append(res.Skipped, id)
			continue
		}

		p1Elev, p2Elev, ok := e.resolveElevations(pass, seg)
		if !ok {
			logger.Warn("segment missing ground elevation, skipped", "segment", id)
			res.Skipped = append(res.Skipped, id)
			continue
		}

		up, upCase := e.upstreamDepth(pass, seg, computed)
		p1d, p2d := e.Params.SegmentDepths(up, p1Elev, p2Elev, seg.Length)
		logger.Debug("depths evaluated",
			"segment", id, "case", upCase, "p1", p1d, "p2", p2d)

		isConvergent := pass.Impacts.ConvergentAffected[id] ||
			upstreamNodeConvergent(pass.After, seg)

		// Convergent conflict resolution. The established upstream depth
		// is a binding constraint from a sibling branch: a calculated
		// depth that exceeds it beyond tolerance is rejected, a stricter
		// (shallower) one is accepted, and within tolerance the larger of
		// the two wins.
		conflictAccept := false
		if isConvergent && seg.P1Depth != nil {
			existing := *seg.P1Depth
			reject := p1d > existing+e.DepthTolerance ||
				(math.Abs(p1d-existing) <= e.DepthTolerance && existing > p1d)
			if reject {
				// Propagate the established depth downstream instead.
				keepP2 := p2d
				if seg.P2Depth != nil {
					keepP2 = *seg.P2Depth
				} else {
					_, keepP2 = e.Params.SegmentDepths(existing, p1Elev, p2Elev, seg.Length)
				}
				computed[id] = endpointDepths{p1: existing, p2: keepP2}
				logger.Debug("convergent conflict: established depth kept",
					"segment", id, "calculated", p1d, "established", existing)
				res.NoChange = append(res.NoChange, id)
				continue
			}
			// A larger calculated depth inside the tolerance still wins
			// the max rule and must be committed, but only when it moves
			// the persisted value; reruns stay write-free.
			conflictAccept = network.RoundDepth(p1d) > existing
		}

		// Cascade continuation: an insignificant change stops the walk
		// unless the segment's topology itself changed.
		changed := conflictAccept || seg.P1Depth == nil || seg.P2Depth == nil ||
			math.Abs(p1d-*seg.P1Depth) > e.DepthTolerance ||
			math.Abs(p2d-*seg.P2Depth) > e.DepthTolerance
		if !changed {
			computed[id] = endpointDepths{p1: *seg.P1Depth, p2: *seg.P2Depth}
			if pass.Impacts.TopologyChanged(id) || isConvergent {
				res.NoChange = append(res.NoChange, id)
			} else {
				res.CascadeStopped = append(res.CascadeStopped, id)
			}
			continue
		}

		computed[id] = endpointDepths{p1: p1d, p2: p2d}
		if err := e.writeDepths(id, p1d, p2d); err != nil {
			logger.Error("depth write failed", "segment", id, "err", err)
			res.Failed = append(res.Failed, id)
			continue
		}
		if isConvergent {
			res.ConvergentUpdated = append(res.ConvergentUpdated, id)
		} else {
			res.Recalculated = append(res.Recalculated, id)
		}
	}

	sortResult(res)
	logger.Info("cascade pass finished",
		"recalculated", len(res.Recalculated),
		"convergent", len(res.ConvergentUpdated),
		"stopped", len(res.CascadeStopped),
		"unchanged", len(res.NoChange),
		"skipped", len(res.Skipped),
		"failed", len(res.Failed))
	return res, nil
}

// upstreamDepth resolves the depth at a segment's upstream endpoint. The
// cases are checked in priority order; the returned label names the case
// for debug logs.
func (e *Engine) upstreamDepth(pass Pass, seg *topology.SegmentInfo, computed map[int64]endpointDepths) (float64, string) {
	imp := pass.Impacts
	id := seg.ID

	// Orphaned chain: feed is gone, restart from the rule minimum
	// regardless of what was stored.
	if imp.OrphanedDownstream[id] {
		return e.Params.MinimumDepth(), "orphaned-downstream"
	}

	// Orphaned feeder: discharges nowhere now, keep what it had.
	if imp.OrphanedUpstream[id] {
		if seg.P1Depth != nil {
			return *seg.P1Depth, "orphaned-upstream"
		}
		return e.Params.MinimumDepth(), "orphaned-upstream"
	}

	node, _ := pass.After.Node(seg.UpKey)

	// Convergent junction: deepest feeder governs.
	if imp.ConvergentAffected[id] || (node != nil && node.Convergent) {
		if d, ok := e.maxFeederDepth(pass.After, node, computed); ok {
			return d, "convergent-max"
		}
		return e.Params.MinimumDepth(), "convergent-min"
	}

	// Single feeder: its downstream depth, preferring this pass's value.
	if node != nil && len(node.Upstream) == 1 {
		uid := node.Upstream[0]
		if d, ok := computed[uid]; ok {
			return d.p2, "upstream-computed"
		}
		if usi, ok := pass.After.Segment(uid); ok && usi.P2Depth != nil {
			return *usi.P2Depth, "upstream-stored"
		}
	}

	// Root (or feeder without data): stored depth, override, or minimum.
	existing := 0.0
	if seg.P1Depth != nil {
		existing = *seg.P1Depth
	}
	return e.Params.InitialDepth(e.InitialDepthOverride, existing), "root"
}

// maxFeederDepth returns the deepest downstream depth among the segments
// feeding a junction, preferring values computed earlier in this pass.
func (e *Engine) maxFeederDepth(s *topology.Snapshot, node *topology.Node, computed map[int64]endpointDepths) (float64, bool) {
	if node == nil {
		return 0, false
	}
	best, found := 0.0, false
	for _, uid := range node.Upstream {
		var d float64
		if c, ok := computed[uid]; ok {
			d = c.p2
		} else if usi, ok := s.Segment(uid); ok && usi.P2Depth != nil {
			d = *usi.P2Depth
		} else {
			continue
		}
		if !found || d > best {
			best, found = d, true
		}
	}
	return best, found
}

func (e *Engine) resolveElevations(pass Pass, seg *topology.SegmentInfo) (p1, p2 float64, ok bool) {
	get := func(role network.Role, stored *float64) (float64, bool) {
		if m, ok := pass.Elevations[seg.ID]; ok {
			if v, ok := m[role]; ok {
				return v, true
			}
		}
		if stored != nil {
			return *stored, true
		}
		if e.Elevations != nil {
			return e.Elevations.ElevationAt(seg.Endpoint(role))
		}
		return 0, false
	}
	p1, ok1 := get(network.RoleUpstream, seg.P1Elev)
	p2, ok2 := get(network.RoleDownstream, seg.P2Elev)
	return p1, p2, ok1 && ok2
}

func (e *Engine) writeDepths(id int64, p1d, p2d float64) error {
	if err := e.Store.SetDepth(id, network.RoleUpstream, p1d); err != nil {
		return err
	}
	return e.Store.SetDepth(id, network.RoleDownstream, p2d)
}

func upstreamNodeConvergent(s *topology.Snapshot, seg *topology.SegmentInfo) bool {
	n, ok := s.Node(seg.UpKey)
	return ok && n.Convergent
}

func sortResult(res *Result) {
	for _, ids := range [][]int64{
		res.Recalculated, res.ConvergentUpdated, res.CascadeStopped,
		res.NoChange, res.Skipped, res.Failed,
	} {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
}
