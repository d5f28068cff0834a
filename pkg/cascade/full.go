package cascade

import (
	"fmt"

	"sewernet/pkg/topology"
)

// ComputeNetwork runs a full depth calculation over the whole snapshot:
// depths start at the root segments and flow downstream, with convergent
// junctions released only once every feeder has been processed, using the
// deepest feeder as the continuation basis. Every reachable segment is
// rewritten; segments behind missing data or cycles are skipped.
func (e *Engine) ComputeNetwork(s *topology.Snapshot) (*Result, error) {
	if e.Params.MinimumDepth() <= 0 {
		return nil, ErrNoParams
	}

	res := newResult()
	logger := e.logger().With("pass", res.PassID)
	logger.Info("full network calculation starting",
		"segments", len(s.Segments), "roots", len(s.Roots()))

	computed := make(map[int64]endpointDepths)
	processed := make(map[int64]bool)

	type item struct {
		id int64
		up float64
	}
	var queue []item
	for _, id := range s.Roots() {
		si := s.Segments[id]
		existing := 0.0
		if si.P1Depth != nil {
			existing = *si.P1Depth
		}
		queue = append(queue, item{id, e.Params.InitialDepth(e.InitialDepthOverride, existing)})
	}

	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if processed[it.id] {
			continue
		}
		processed[it.id] = true

		si, _ := s.Segment(it.id)
		p1Elev, p2Elev, ok := e.resolveElevations(Pass{}, si)
		if !ok {
			logger.Warn("segment missing ground elevation, skipped", "segment", it.id)
			res.Skipped = append(res.Skipped, it.id)
			continue
		}

		p1d, p2d := e.Params.SegmentDepths(it.up, p1Elev, p2Elev, si.Length)
		computed[it.id] = endpointDepths{p1: p1d, p2: p2d}
		if err := e.writeDepths(it.id, p1d, p2d); err != nil {
			logger.Error("depth write failed", "segment", it.id, "err", err)
			res.Failed = append(res.Failed, it.id)
		} else {
			res.Recalculated = append(res.Recalculated, it.id)
		}

		node := s.Nodes[si.DownKey]
		if node.Convergent {
			// Hold the junction until the last feeder arrives, then
			// continue from the deepest one.
			ready := true
			for _, uid := range node.Upstream {
				if !processed[uid] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			up, ok := e.maxFeederDepth(s, node, computed)
			if !ok {
				up = e.Params.MinimumDepth()
			}
			for _, did := range node.Downstream {
				if !processed[did] {
					queue = append(queue, item{did, up})
				}
			}
		} else {
			for _, did := range node.Downstream {
				if !processed[did] {
					queue = append(queue, item{did, p2d})
				}
			}
		}
	}

	var unreached int
	for _, id := range s.SegmentIDs() {
		if !processed[id] {
			res.Skipped = append(res.Skipped, id)
			unreached++
		}
	}
	if unreached > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d segments unreachable from any root (cycle or missing data upstream)", unreached))
	}

	sortResult(res)
	logger.Info("full network calculation finished",
		"recalculated", len(res.Recalculated),
		"skipped", len(res.Skipped),
		"failed", len(res.Failed))
	return res, nil
}
