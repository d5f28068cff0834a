package topology

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"

	"sewernet/pkg/geo"
)

// EndpointIndex is an R-tree over junction coordinates. It answers radius
// queries for near-miss detection: endpoints digitized close enough to look
// joined but snapping to different node keys.
type EndpointIndex struct {
	tr rtree.RTree
}

// NewEndpointIndex builds the index over all nodes of a snapshot.
func NewEndpointIndex(s *Snapshot) *EndpointIndex {
	ix := &EndpointIndex{}
	for _, n := range s.Nodes {
		p := [2]float64{n.Coord[0], n.Coord[1]}
		ix.tr.Insert(p, p, n.Key)
	}
	return ix
}

// Near returns the keys of all indexed junctions within radius of pt,
// sorted for determinism. The R-tree gives box candidates; an exact
// distance check trims the corners.
func (ix *EndpointIndex) Near(pt orb.Point, radius float64) []geo.Key {
	min := [2]float64{pt[0] - radius, pt[1] - radius}
	max := [2]float64{pt[0] + radius, pt[1] + radius}

	var out []geo.Key
	ix.tr.Search(min, max, func(min, _ [2]float64, value interface{}) bool {
		if geo.Dist2D(pt, orb.Point{min[0], min[1]}) <= radius {
			out = append(out, value.(geo.Key))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NearMiss is a pair of distinct junctions closer than the tolerance.
type NearMiss struct {
	A, B     geo.Key
	Distance float64
}

// NearMisses finds all junction pairs within tol of each other that do not
// share a node key. Each pair is reported once, with A < B.
func NearMisses(s *Snapshot, tol float64) []NearMiss {
	ix := NewEndpointIndex(s)
	var out []NearMiss
	for _, key := range sortedNodeKeys(s) {
		n := s.Nodes[key]
		for _, other := range ix.Near(n.Coord, tol) {
			if other <= key {
				continue
			}
			out = append(out, NearMiss{
				A:        key,
				B:        other,
				Distance: geo.Dist2D(n.Coord, s.Nodes[other].Coord),
			})
		}
	}
	return out
}

// MidspanMiss is a junction lying within tolerance of the interior of a
// segment it is not an endpoint of: a tee digitized short of the main it
// was meant to tap.
type MidspanMiss struct {
	Node     geo.Key `json:"node"`
	Segment  int64   `json:"segment"`
	Distance float64 `json:"distance"`
}

// MidspanMisses finds all junction-segment pairs where the junction falls
// within tol of the segment's run, strictly between its endpoints.
// End-to-end proximity is NearMisses' concern and is excluded here.
func MidspanMisses(s *Snapshot, tol float64) []MidspanMiss {
	var tr rtree.RTree
	for id, si := range s.Segments {
		min := [2]float64{math.Min(si.P1[0], si.P2[0]), math.Min(si.P1[1], si.P2[1])}
		max := [2]float64{math.Max(si.P1[0], si.P2[0]), math.Max(si.P1[1], si.P2[1])}
		tr.Insert(min, max, id)
	}

	var out []MidspanMiss
	for _, key := range sortedNodeKeys(s) {
		n := s.Nodes[key]
		qmin := [2]float64{n.Coord[0] - tol, n.Coord[1] - tol}
		qmax := [2]float64{n.Coord[0] + tol, n.Coord[1] + tol}
		tr.Search(qmin, qmax, func(_, _ [2]float64, value interface{}) bool {
			id := value.(int64)
			si := s.Segments[id]
			if si.UpKey == key || si.DownKey == key {
				return true
			}
			dist, ratio := geo.PointToSegmentDist(n.Coord, si.P1, si.P2)
			if dist <= tol && ratio > 0 && ratio < 1 {
				out = append(out, MidspanMiss{Node: key, Segment: id, Distance: dist})
			}
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].Segment < out[j].Segment
	})
	return out
}

func sortedNodeKeys(s *Snapshot) []geo.Key {
	keys := make([]geo.Key, 0, len(s.Nodes))
	for key := range s.Nodes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
