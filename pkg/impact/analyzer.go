// Package impact classifies how a batch of vertex edits changes network
// connectivity, by diffing a topology snapshot taken before the edits
// against one taken after. The classification drives which segments get
// recalculated and how their upstream depth is resolved.
package impact

import (
	"fmt"
	"sort"

	"sewernet/pkg/geo"
	"sewernet/pkg/network"
	"sewernet/pkg/topology"
)

// Classification holds the impact category sets for one edit batch. A
// segment can appear in several categories; the cascade engine checks them
// in priority order.
type Classification struct {
	// Moved: segments with at least one endpoint edit.
	Moved map[int64]bool
	// NewlyConnected: segments that gained a shared junction with a moved
	// endpoint's new location.
	NewlyConnected map[int64]bool
	// NewlyDisconnected: segments that shared the old location and lost
	// the connection.
	NewlyDisconnected map[int64]bool
	// OrphanedDownstream: segments left with no upstream feed; their
	// depths restart from the rule minimum.
	OrphanedDownstream map[int64]bool
	// OrphanedUpstream: segments that now discharge nowhere; they keep
	// their existing upstream depth.
	OrphanedUpstream map[int64]bool
	// ConvergentAffected: segments downstream of a junction whose inflow
	// set changed where flow converges.
	ConvergentAffected map[int64]bool
	// DownstreamCascade: segments strictly downstream of a moved segment.
	DownstreamCascade map[int64]bool

	// ConvergentNodes are junctions the edits formed or fed convergence at.
	ConvergentNodes map[geo.Key]bool

	Warnings []string
}

func newClassification() *Classification {
	return &Classification{
		Moved:              make(map[int64]bool),
		NewlyConnected:     make(map[int64]bool),
		NewlyDisconnected:  make(map[int64]bool),
		OrphanedDownstream: make(map[int64]bool),
		OrphanedUpstream:   make(map[int64]bool),
		ConvergentAffected: make(map[int64]bool),
		DownstreamCascade:  make(map[int64]bool),
		ConvergentNodes:    make(map[geo.Key]bool),
	}
}

// Analyze diffs connectivity around each vertex change and returns the
// classified impact. Disconnection effects are traced in the before
// snapshot (the chain as it was), connection and convergence effects in the
// after snapshot (the chain as it is now).
func Analyze(before, after *topology.Snapshot, changes []network.VertexChange) *Classification {
	c := newClassification()

	for _, ch := range changes {
		c.Moved[ch.SegmentID] = true

		oldKey := geo.NodeKey(ch.Old, before.Precision)
		newKey := geo.NodeKey(ch.New, after.Precision)
		if oldKey == newKey {
			continue
		}

		if ch.Role == network.RoleUpstream {
			c.classifyFeedTransition(before, after, ch.SegmentID, oldKey, newKey)
		}
		c.classifyDisconnections(before, after, ch.SegmentID, oldKey)
		c.classifyConnections(after, ch.SegmentID, newKey)
	}

	// Everything strictly downstream of a moved segment recalculates.
	for id := range c.Moved {
		si, ok := after.Segment(id)
		if !ok {
			continue
		}
		for _, did := range after.WalkDownstream(si.DownKey) {
			c.DownstreamCascade[did] = true
		}
	}

	return c
}

// classifyFeedTransition compares how many segments feed the moved
// segment's upstream junction before vs after a P1 move.
func (c *Classification) classifyFeedTransition(before, after *topology.Snapshot, id int64, oldKey, newKey geo.Key) {
	oldFeeds := upstreamCount(before, oldKey)
	newFeeds := upstreamCount(after, newKey)

	switch {
	case oldFeeds > 0 && newFeeds == 0:
		// Lost all feeders: the segment and its chain restart from minimum.
		c.OrphanedDownstream[id] = true
		if si, ok := after.Segment(id); ok {
			for _, did := range after.WalkDownstream(si.DownKey) {
				c.OrphanedDownstream[did] = true
			}
		}
	case newFeeds > oldFeeds, oldFeeds > 0 && newFeeds > 0:
		c.ConvergentAffected[id] = true
	}
}

// classifyDisconnections finds segments that shared the vacated junction
// and traces what the loss does to their chains, in the before snapshot.
func (c *Classification) classifyDisconnections(before, after *topology.Snapshot, moved int64, oldKey geo.Key) {
	node, ok := before.Node(oldKey)
	if !ok {
		return
	}

	// Whether any feeder still reaches the vacated junction decides if the
	// chains below it are orphaned or merely re-based.
	fedAfter := upstreamCount(after, oldKey) > 0

	for _, did := range connectedIDs(node) {
		if did == moved {
			continue
		}
		c.NewlyDisconnected[did] = true

		// A receiver at a junction that lost its last feeder restarts from
		// the rule minimum, along with its former downstream chain.
		if bsi, ok := before.Segment(did); ok && bsi.UpKey == oldKey && !fedAfter {
			c.OrphanedDownstream[did] = true
			for _, cid := range before.WalkDownstream(bsi.DownKey) {
				c.OrphanedDownstream[cid] = true
			}
		}

		// A feeder that now discharges nowhere keeps its depth.
		if si, ok := after.Segment(did); ok {
			if dn, ok := after.Node(si.DownKey); ok && len(dn.Downstream) == 0 {
				if bsi, ok := before.Segment(did); ok {
					if bn, ok := before.Node(bsi.DownKey); ok && len(bn.Downstream) > 0 {
						c.OrphanedUpstream[did] = true
					}
				}
			}
		}
	}
}

// classifyConnections finds segments now sharing the destination junction
// and, where the junction converges, marks its whole downstream chain.
func (c *Classification) classifyConnections(after *topology.Snapshot, moved int64, newKey geo.Key) {
	node, ok := after.Node(newKey)
	if !ok {
		return
	}

	for _, nid := range connectedIDs(node) {
		if nid == moved {
			continue
		}
		c.NewlyConnected[nid] = true
	}

	if node.Convergent {
		c.ConvergentNodes[newKey] = true
		for _, cid := range after.WalkDownstream(newKey) {
			c.ConvergentAffected[cid] = true
		}
	}
}

// Affected returns the union of all category sets, ascending.
func (c *Classification) Affected() []int64 {
	set := make(map[int64]bool)
	for _, m := range []map[int64]bool{
		c.Moved, c.NewlyConnected, c.NewlyDisconnected,
		c.OrphanedDownstream, c.OrphanedUpstream,
		c.ConvergentAffected, c.DownstreamCascade,
	} {
		for id := range m {
			set[id] = true
		}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TopologyChanged reports whether the segment is in any category that
// forces propagation through the cascade-continuation threshold.
func (c *Classification) TopologyChanged(id int64) bool {
	return c.Moved[id] || c.NewlyConnected[id] || c.NewlyDisconnected[id] ||
		c.OrphanedDownstream[id] || c.OrphanedUpstream[id]
}

// ProcessingOrder returns the affected segments in dependency order:
// Kahn's algorithm over the affected subgraph of the after snapshot, so
// every segment is visited after all affected segments that feed it. If a
// cycle survives, the remainder is appended in id order and a warning is
// recorded on the classification.
func (c *Classification) ProcessingOrder(after *topology.Snapshot) []int64 {
	affected := make(map[int64]bool)
	for _, id := range c.Affected() {
		if _, ok := after.Segment(id); ok {
			affected[id] = true
		}
	}
	if len(affected) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// startsAt: affected segments leaving each junction.
	startsAt := make(map[geo.Key][]int64)
	inDeg := make(map[int64]int, len(ids))
	for _, id := range ids {
		si, _ := after.Segment(id)
		startsAt[si.UpKey] = append(startsAt[si.UpKey], id)
	}
	for _, id := range ids {
		si, _ := after.Segment(id)
		for _, vid := range startsAt[si.DownKey] {
			inDeg[vid]++
		}
	}

	order := make([]int64, 0, len(ids))
	var queue []int64
	for _, id := range ids {
		if inDeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		si, _ := after.Segment(id)
		for _, vid := range startsAt[si.DownKey] {
			inDeg[vid]--
			if inDeg[vid] == 0 {
				queue = append(queue, vid)
			}
		}
	}

	if len(order) < len(ids) {
		placed := make(map[int64]bool, len(order))
		for _, id := range order {
			placed[id] = true
		}
		var rest []int64
		for _, id := range ids {
			if !placed[id] {
				rest = append(rest, id)
			}
		}
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("cycle among %d affected segments; appended in id order", len(rest)))
		order = append(order, rest...)
	}
	return order
}

func upstreamCount(s *topology.Snapshot, key geo.Key) int {
	if n, ok := s.Node(key); ok {
		return len(n.Upstream)
	}
	return 0
}

func connectedIDs(n *topology.Node) []int64 {
	out := make([]int64, 0, len(n.Upstream)+len(n.Downstream))
	out = append(out, n.Upstream...)
	out = append(out, n.Downstream...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
