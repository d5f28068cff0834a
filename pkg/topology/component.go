package topology

// UnionFind implements a disjoint-set structure with path halving and union
// by rank, over dense node indices.
type UnionFind struct {
	parent []uint32
	rank   []byte
	size   []uint32
}

// NewUnionFind creates a UnionFind for n elements.
func NewUnionFind(n uint32) *UnionFind {
	parent := make([]uint32, n)
	size := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		parent[i] = i
		size[i] = 1
	}
	return &UnionFind{
		parent: parent,
		rank:   make([]byte, n),
		size:   size,
	}
}

// Find returns the representative of the set containing x, with path halving.
func (uf *UnionFind) Find(x uint32) uint32 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets containing x and y. Returns false if already same set.
func (uf *UnionFind) Union(x, y uint32) bool {
	rx := uf.Find(x)
	ry := uf.Find(y)
	if rx == ry {
		return false
	}

	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
	return true
}

// Size returns the size of the set containing x.
func (uf *UnionFind) Size(x uint32) uint32 {
	return uf.size[uf.Find(x)]
}

// Components counts the weakly connected sub-networks in a snapshot,
// treating each segment as an undirected link between its two junctions.
// A healthy catchment has exactly one.
func Components(s *Snapshot) int {
	if len(s.Nodes) == 0 {
		return 0
	}

	idx := make(map[*Node]uint32, len(s.Nodes))
	var i uint32
	for _, n := range s.Nodes {
		idx[n] = i
		i++
	}

	uf := NewUnionFind(uint32(len(s.Nodes)))
	for _, si := range s.Segments {
		uf.Union(idx[s.Nodes[si.UpKey]], idx[s.Nodes[si.DownKey]])
	}

	roots := make(map[uint32]bool)
	for _, n := range idx {
		roots[uf.Find(n)] = true
	}
	return len(roots)
}
