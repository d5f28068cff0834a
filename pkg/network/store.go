package network

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
)

// RoundDepth rounds a depth to centimeters, the precision depths are
// persisted at.
func RoundDepth(d float64) float64 {
	return math.Round(d*100) / 100
}

// MemStore is an in-memory segment store. It implements DepthStore and
// backs both the CLI and the HTTP service.
type MemStore struct {
	mu       sync.RWMutex
	segments map[int64]*Segment
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{segments: make(map[int64]*Segment)}
}

// Replace swaps in a full set of segments, discarding previous contents.
func (m *MemStore) Replace(segs []Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = make(map[int64]*Segment, len(segs))
	for i := range segs {
		s := segs[i]
		m.segments[s.ID] = &s
	}
}

// Segments returns a copy of all segments in ascending id order.
func (m *MemStore) Segments() []Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Segment, 0, len(m.segments))
	for _, s := range m.segments {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one segment by id.
func (m *MemStore) Get(id int64) (Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.segments[id]
	if !ok {
		return Segment{}, false
	}
	return *s, true
}

// Len returns the number of stored segments.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.segments)
}

// SetDepth stores a computed invert depth, rounded to centimeters.
func (m *MemStore) SetDepth(id int64, role Role, depth float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok {
		return fmt.Errorf("store: segment %d not found", id)
	}
	d := RoundDepth(depth)
	if role == RoleUpstream {
		s.P1Depth = &d
	} else {
		s.P2Depth = &d
	}
	return nil
}

// SetElevation stores a ground elevation for one endpoint.
func (m *MemStore) SetElevation(id int64, role Role, elev float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok {
		return fmt.Errorf("store: segment %d not found", id)
	}
	if role == RoleUpstream {
		s.P1Elev = &elev
	} else {
		s.P2Elev = &elev
	}
	return nil
}

// MoveVertex updates one endpoint's geometry.
func (m *MemStore) MoveVertex(id int64, role Role, pt orb.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok {
		return fmt.Errorf("store: segment %d not found", id)
	}
	if role == RoleUpstream {
		s.P1 = pt
	} else {
		s.P2 = pt
	}
	return nil
}
