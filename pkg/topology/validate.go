package topology

import (
	"fmt"
	"sort"

	"sewernet/pkg/geo"
)

// Report is the outcome of validating a snapshot. Findings are advisory:
// depth calculation proceeds in degraded form on a flawed topology, so
// nothing here is an error.
type Report struct {
	IsolatedSegments []int64    `json:"isolated_segments,omitempty"`
	CycleSegments    []int64    `json:"cycle_segments,omitempty"`
	OutletCount      int        `json:"outlet_count"`
	Components       int        `json:"components"`
	NearMisses       []NearMiss    `json:"near_misses,omitempty"`
	MidspanMisses    []MidspanMiss `json:"midspan_misses,omitempty"`
	Warnings         []string      `json:"warnings,omitempty"`
}

// Validate inspects a snapshot for structural problems: segments connected
// to nothing, cycles (gravity networks must be acyclic), missing or
// multiple outfalls, split sub-networks, and endpoints within nearTol of a
// junction or pipe run they fail to join.
func Validate(s *Snapshot, nearTol float64) Report {
	r := Report{
		OutletCount: len(s.Outlets()),
		Components:  Components(s),
	}

	for _, id := range s.SegmentIDs() {
		si := s.Segments[id]
		up := s.Nodes[si.UpKey]
		down := s.Nodes[si.DownKey]
		if len(up.Upstream)+len(up.Downstream) == 1 && len(down.Upstream)+len(down.Downstream) == 1 {
			r.IsolatedSegments = append(r.IsolatedSegments, id)
		}
	}

	r.CycleSegments = findCycleSegments(s)

	if nearTol > 0 {
		r.NearMisses = NearMisses(s, nearTol)
		r.MidspanMisses = MidspanMisses(s, nearTol)
	}

	if len(s.Segments) > 0 && r.OutletCount == 0 {
		r.Warnings = append(r.Warnings, "network has no outlet")
	}
	if r.OutletCount > 1 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("network has %d outlets", r.OutletCount))
	}
	if r.Components > 1 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("network splits into %d disconnected parts", r.Components))
	}
	if len(r.CycleSegments) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d segments participate in flow cycles", len(r.CycleSegments)))
	}
	if len(r.IsolatedSegments) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d segments are isolated", len(r.IsolatedSegments)))
	}
	if len(r.NearMisses) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d junction pairs nearly touch without joining", len(r.NearMisses)))
	}
	if len(r.MidspanMisses) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d junctions nearly touch a pipe run without joining", len(r.MidspanMisses)))
	}
	return r
}

// findCycleSegments runs a coloring DFS over junctions and collects every
// segment that is part of a directed cycle (lies on a path closed by a
// back edge).
func findCycleSegments(s *Snapshot) []int64 {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[geo.Key]int, len(s.Nodes))
	inCycle := make(map[int64]bool)

	type frame struct {
		key   geo.Key
		next  int // index into node.Downstream
		segIn int64
	}

	for _, start := range sortedNodeKeys(s) {
		if color[start] != white {
			continue
		}
		stack := []frame{{key: start, segIn: -1}}
		color[start] = gray

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			n := s.Nodes[f.key]
			if f.next < len(n.Downstream) {
				segID := n.Downstream[f.next]
				f.next++
				to := s.Segments[segID].DownKey
				switch color[to] {
				case white:
					color[to] = gray
					stack = append(stack, frame{key: to, segIn: segID})
				case gray:
					// Back edge: everything on the stack from `to`
					// down to here is cyclic.
					inCycle[segID] = true
					for i := len(stack) - 1; i >= 0; i-- {
						if stack[i].key == to {
							break
						}
						if stack[i].segIn >= 0 {
							inCycle[stack[i].segIn] = true
						}
					}
				}
			} else {
				color[f.key] = black
				stack = stack[:len(stack)-1]
			}
		}
	}

	if len(inCycle) == 0 {
		return nil
	}
	out := make([]int64, 0, len(inCycle))
	for id := range inCycle {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
