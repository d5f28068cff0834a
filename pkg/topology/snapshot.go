// Package topology builds an immutable junction graph over sewer segments.
// Endpoints are merged into nodes by snapped coordinate key; per node the
// graph records which segments drain into it and which drain out of it,
// and whether flow converges (>1 in) or diverges (>1 out) there.
package topology

import (
	"sort"

	"github.com/paulmach/orb"

	"sewernet/pkg/geo"
	"sewernet/pkg/network"
)

// SegmentInfo is a segment as placed in the graph, with its node keys and
// cached length.
type SegmentInfo struct {
	network.Segment
	UpKey   geo.Key
	DownKey geo.Key
	Length  float64
}

// Node is one junction. Upstream lists segments whose downstream endpoint
// lands here; Downstream lists segments that start here.
type Node struct {
	Key        geo.Key
	Coord      orb.Point
	Upstream   []int64
	Downstream []int64

	// Depth is the first stored endpoint depth seen at this node during
	// the build, if any.
	Depth *float64

	Convergent bool
	Divergent  bool
}

// Snapshot is an immutable view of the network topology at one instant.
// Build one before and one after a geometry edit to diff connectivity.
type Snapshot struct {
	Precision int
	Nodes     map[geo.Key]*Node
	Segments  map[int64]*SegmentInfo

	// Skipped lists segments excluded from the graph because their
	// geometry is degenerate (zero length, or both endpoints snap to the
	// same node).
	Skipped []int64
}

// Build constructs a Snapshot from segments. Degenerate segments are
// excluded and recorded in Skipped rather than failing the build.
func Build(segs []network.Segment, precision int) *Snapshot {
	s := &Snapshot{
		Precision: precision,
		Nodes:     make(map[geo.Key]*Node),
		Segments:  make(map[int64]*SegmentInfo, len(segs)),
	}

	// Node interning: one record per snapped coordinate.
	addNode := func(key geo.Key, coord orb.Point) *Node {
		if n, ok := s.Nodes[key]; ok {
			return n
		}
		n := &Node{Key: key, Coord: coord}
		s.Nodes[key] = n
		return n
	}

	for i := range segs {
		seg := segs[i]
		length := seg.Length()
		upKey := geo.NodeKey(seg.P1, precision)
		downKey := geo.NodeKey(seg.P2, precision)
		if length <= 0 || upKey == downKey {
			s.Skipped = append(s.Skipped, seg.ID)
			continue
		}

		s.Segments[seg.ID] = &SegmentInfo{
			Segment: seg,
			UpKey:   upKey,
			DownKey: downKey,
			Length:  length,
		}

		up := addNode(upKey, seg.P1)
		up.Downstream = append(up.Downstream, seg.ID)
		if up.Depth == nil && seg.P1Depth != nil {
			up.Depth = seg.P1Depth
		}

		down := addNode(downKey, seg.P2)
		down.Upstream = append(down.Upstream, seg.ID)
		if down.Depth == nil && seg.P2Depth != nil {
			down.Depth = seg.P2Depth
		}
	}

	for _, n := range s.Nodes {
		// Deterministic adjacency regardless of input order.
		sort.Slice(n.Upstream, func(i, j int) bool { return n.Upstream[i] < n.Upstream[j] })
		sort.Slice(n.Downstream, func(i, j int) bool { return n.Downstream[i] < n.Downstream[j] })
		n.Convergent = len(n.Upstream) > 1
		n.Divergent = len(n.Downstream) > 1
	}

	return s
}

// Node returns the junction at a snapped coordinate key.
func (s *Snapshot) Node(key geo.Key) (*Node, bool) {
	n, ok := s.Nodes[key]
	return n, ok
}

// Segment returns one placed segment by id.
func (s *Snapshot) Segment(id int64) (*SegmentInfo, bool) {
	si, ok := s.Segments[id]
	return si, ok
}

// SegmentIDs returns all placed segment ids in ascending order.
func (s *Snapshot) SegmentIDs() []int64 {
	ids := make([]int64, 0, len(s.Segments))
	for id := range s.Segments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Roots returns segments whose upstream node receives no flow: the starting
// points for a full-network calculation.
func (s *Snapshot) Roots() []int64 {
	var out []int64
	for _, id := range s.SegmentIDs() {
		si := s.Segments[id]
		if n := s.Nodes[si.UpKey]; len(n.Upstream) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Outlets returns segments whose downstream node discharges nowhere.
func (s *Snapshot) Outlets() []int64 {
	var out []int64
	for _, id := range s.SegmentIDs() {
		si := s.Segments[id]
		if n := s.Nodes[si.DownKey]; len(n.Downstream) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// ConvergentNodes returns the keys of all junctions where flow converges,
// sorted for determinism.
func (s *Snapshot) ConvergentNodes() []geo.Key {
	var out []geo.Key
	for key, n := range s.Nodes {
		if n.Convergent {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WalkDownstream returns every segment reachable by following flow from the
// given node, in breadth-first order. The walk is iterative and keeps a
// visited set, so it terminates on cyclic topologies too.
func (s *Snapshot) WalkDownstream(from geo.Key) []int64 {
	var out []int64
	visited := make(map[int64]bool)
	queue := []geo.Key{from}
	seenNodes := map[geo.Key]bool{from: true}

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		n, ok := s.Nodes[key]
		if !ok {
			continue
		}
		for _, id := range n.Downstream {
			if visited[id] {
				continue
			}
			visited[id] = true
			out = append(out, id)
			next := s.Segments[id].DownKey
			if !seenNodes[next] {
				seenNodes[next] = true
				queue = append(queue, next)
			}
		}
	}
	return out
}

// Stats summarizes a snapshot for reporting.
type Stats struct {
	Segments        int     `json:"segments"`
	Nodes           int     `json:"nodes"`
	Roots           int     `json:"roots"`
	Outlets         int     `json:"outlets"`
	ConvergentNodes int     `json:"convergent_nodes"`
	DivergentNodes  int     `json:"divergent_nodes"`
	Components      int     `json:"components"`
	SkippedSegments int     `json:"skipped_segments"`
	TotalLength     float64 `json:"total_length"`
}

// Stats computes summary statistics over the snapshot.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Segments:        len(s.Segments),
		Nodes:           len(s.Nodes),
		Roots:           len(s.Roots()),
		Outlets:         len(s.Outlets()),
		Components:      Components(s),
		SkippedSegments: len(s.Skipped),
	}
	for _, n := range s.Nodes {
		if n.Convergent {
			st.ConvergentNodes++
		}
		if n.Divergent {
			st.DivergentNodes++
		}
	}
	for _, si := range s.Segments {
		st.TotalLength += si.Length
	}
	return st
}
