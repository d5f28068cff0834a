package cascade

import (
	"errors"
	"io"
	"math"
	"reflect"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/paulmach/orb"

	"sewernet/pkg/hydraulics"
	"sewernet/pkg/impact"
	"sewernet/pkg/network"
	"sewernet/pkg/topology"
)

func fp(v float64) *float64 { return &v }

func testEngine(st *network.MemStore) *Engine {
	return &Engine{
		Params:         hydraulics.Params{MinCoverM: 0.9, DiameterM: 0.15, SlopeMPerM: 0.001},
		DepthTolerance: 0.01,
		Store:          st,
		Logger:         log.New(io.Discard),
	}
}

func depthOf(t *testing.T, st *network.MemStore, id int64, role network.Role) float64 {
	t.Helper()
	s, ok := st.Get(id)
	if !ok {
		t.Fatalf("segment %d missing from store", id)
	}
	var d *float64
	if role == network.RoleUpstream {
		d = s.P1Depth
	} else {
		d = s.P2Depth
	}
	if d == nil {
		t.Fatalf("segment %d has no %s depth", id, role)
	}
	return *d
}

// flatChain builds 1 -> 2 -> 3, each 10 m long on flat ground at 100 m.
func flatChain() []network.Segment {
	mk := func(id int64, x1, x2 float64) network.Segment {
		return network.Segment{
			ID: id,
			P1: orb.Point{x1, 0}, P2: orb.Point{x2, 0},
			P1Elev: fp(100), P2Elev: fp(100),
		}
	}
	return []network.Segment{mk(1, 0, 10), mk(2, 10, 20), mk(3, 20, 30)}
}

func movedOnly(ids ...int64) *impact.Classification {
	c := &impact.Classification{Moved: make(map[int64]bool)}
	for _, id := range ids {
		c.Moved[id] = true
	}
	return c
}

func TestRunSteepDownhillClampsToMinimum(t *testing.T) {
	// Ground falls 100 -> 95 over 10 m, far steeper than the design
	// slope, so minimum cover governs at both ends.
	st := network.NewMemStore()
	st.Replace([]network.Segment{{
		ID: 1,
		P1: orb.Point{0, 0}, P2: orb.Point{10, 0},
		P1Elev: fp(100), P2Elev: fp(95),
	}})
	e := testEngine(st)
	e.Params.SlopeMPerM = 0.005

	snap := topology.Build(st.Segments(), 6)
	res, err := e.Run(Pass{After: snap, Impacts: movedOnly(1)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Recalculated, []int64{1}) {
		t.Fatalf("Recalculated = %v, want [1]", res.Recalculated)
	}
	if got := depthOf(t, st, 1, network.RoleUpstream); got != 1.05 {
		t.Errorf("p1 depth = %v, want 1.05", got)
	}
	if got := depthOf(t, st, 1, network.RoleDownstream); got != 1.05 {
		t.Errorf("p2 depth = %v, want 1.05", got)
	}
}

func TestRunCascadePropagation(t *testing.T) {
	st := network.NewMemStore()
	st.Replace(flatChain())
	e := testEngine(st)

	snap := topology.Build(st.Segments(), 6)
	c := movedOnly(1)
	c.DownstreamCascade = map[int64]bool{2: true, 3: true}

	res, err := e.Run(Pass{After: snap, Impacts: c})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Recalculated, []int64{1, 2, 3}) {
		t.Fatalf("Recalculated = %v, want [1 2 3]", res.Recalculated)
	}

	// Flat ground: each 10 m run adds 10 * 0.001 = 0.01 of fall.
	wants := []struct {
		id     int64
		p1, p2 float64
	}{
		{1, 1.05, 1.06},
		{2, 1.06, 1.07},
		{3, 1.07, 1.08},
	}
	for _, w := range wants {
		if got := depthOf(t, st, w.id, network.RoleUpstream); got != w.p1 {
			t.Errorf("segment %d p1 = %v, want %v", w.id, got, w.p1)
		}
		if got := depthOf(t, st, w.id, network.RoleDownstream); got != w.p2 {
			t.Errorf("segment %d p2 = %v, want %v", w.id, got, w.p2)
		}
	}
}

func TestRunIdempotence(t *testing.T) {
	st := network.NewMemStore()
	st.Replace(flatChain())
	e := testEngine(st)

	c := movedOnly(1)
	c.DownstreamCascade = map[int64]bool{2: true, 3: true}

	snap := topology.Build(st.Segments(), 6)
	if _, err := e.Run(Pass{After: snap, Impacts: c}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := st.Segments()

	// Same edit batch again, now against the settled depths.
	snap2 := topology.Build(st.Segments(), 6)
	res, err := e.Run(Pass{After: snap2, Impacts: c})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(res.Recalculated) != 0 || len(res.ConvergentUpdated) != 0 {
		t.Errorf("second run wrote depths: recalculated=%v convergent=%v",
			res.Recalculated, res.ConvergentUpdated)
	}
	if !reflect.DeepEqual(st.Segments(), before) {
		t.Error("stored depths changed on idempotent rerun")
	}
}

func TestRunConvergentMaxRule(t *testing.T) {
	// Feeders with downstream depths 1.20 and 1.45 meet at a junction;
	// the continuing segment must start from 1.45.
	st := network.NewMemStore()
	st.Replace([]network.Segment{
		{ID: 1, P1: orb.Point{0, 0}, P2: orb.Point{10, 0},
			P1Elev: fp(100), P2Elev: fp(100), P1Depth: fp(1.05), P2Depth: fp(1.20)},
		{ID: 2, P1: orb.Point{0, 5}, P2: orb.Point{10, 0},
			P1Elev: fp(100), P2Elev: fp(100), P1Depth: fp(1.05), P2Depth: fp(1.45)},
		{ID: 3, P1: orb.Point{10, 0}, P2: orb.Point{20, 0},
			P1Elev: fp(100), P2Elev: fp(100)},
	})
	e := testEngine(st)

	snap := topology.Build(st.Segments(), 6)
	c := &impact.Classification{ConvergentAffected: map[int64]bool{3: true}}

	res, err := e.Run(Pass{After: snap, Impacts: c})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.ConvergentUpdated, []int64{3}) {
		t.Fatalf("ConvergentUpdated = %v, want [3]", res.ConvergentUpdated)
	}
	if got := depthOf(t, st, 3, network.RoleUpstream); got != 1.45 {
		t.Errorf("upstream basis = %v, want deepest feeder 1.45", got)
	}
	if got := depthOf(t, st, 3, network.RoleDownstream); got != 1.46 {
		t.Errorf("p2 depth = %v, want 1.46", got)
	}
}

func TestRunConvergentConflict(t *testing.T) {
	build := func(existingP1 float64, feederP2 float64) (*network.MemStore, *topology.Snapshot, *impact.Classification) {
		st := network.NewMemStore()
		st.Replace([]network.Segment{
			{ID: 1, P1: orb.Point{0, 0}, P2: orb.Point{10, 0},
				P1Elev: fp(100), P2Elev: fp(100), P1Depth: fp(1.05), P2Depth: fp(feederP2)},
			{ID: 2, P1: orb.Point{0, 5}, P2: orb.Point{10, 0},
				P1Elev: fp(100), P2Elev: fp(100), P1Depth: fp(1.05), P2Depth: fp(1.10)},
			{ID: 3, P1: orb.Point{10, 0}, P2: orb.Point{20, 0},
				P1Elev: fp(100), P2Elev: fp(100), P1Depth: fp(existingP1), P2Depth: fp(existingP1 + 0.01)},
		})
		snap := topology.Build(st.Segments(), 6)
		return st, snap, &impact.Classification{ConvergentAffected: map[int64]bool{3: true}}
	}

	t.Run("deeper calculated rejected", func(t *testing.T) {
		// Established 1.20, calculated 1.45: sibling constraint holds.
		st, snap, c := build(1.20, 1.45)
		res, err := testEngine(st).Run(Pass{After: snap, Impacts: c})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !reflect.DeepEqual(res.NoChange, []int64{3}) {
			t.Fatalf("NoChange = %v, want [3]", res.NoChange)
		}
		if got := depthOf(t, st, 3, network.RoleUpstream); got != 1.20 {
			t.Errorf("p1 depth = %v, want established 1.20", got)
		}
	})

	t.Run("shallower calculated accepted", func(t *testing.T) {
		// Established 2.00, calculated 1.45: stricter constraint wins.
		st, snap, c := build(2.00, 1.45)
		res, err := testEngine(st).Run(Pass{After: snap, Impacts: c})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !reflect.DeepEqual(res.ConvergentUpdated, []int64{3}) {
			t.Fatalf("ConvergentUpdated = %v, want [3]", res.ConvergentUpdated)
		}
		if got := depthOf(t, st, 3, network.RoleUpstream); got != 1.45 {
			t.Errorf("p1 depth = %v, want 1.45", got)
		}
	})

	t.Run("within tolerance larger calculated accepted", func(t *testing.T) {
		// Established 1.44, calculated 1.448: within 0.01, and the
		// calculated value is the larger, so the max rule commits it.
		st, snap, c := build(1.44, 1.448)
		res, err := testEngine(st).Run(Pass{After: snap, Impacts: c})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !reflect.DeepEqual(res.ConvergentUpdated, []int64{3}) {
			t.Fatalf("ConvergentUpdated = %v, want [3]", res.ConvergentUpdated)
		}
		if got := depthOf(t, st, 3, network.RoleUpstream); got != 1.45 {
			t.Errorf("p1 depth = %v, want calculated 1.448 rounded to 1.45", got)
		}
	})

	t.Run("within tolerance existing larger kept", func(t *testing.T) {
		// Established 1.45, calculated 1.445: within 0.01, max rule
		// keeps the established value.
		st, snap, c := build(1.45, 1.445)
		res, err := testEngine(st).Run(Pass{After: snap, Impacts: c})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !reflect.DeepEqual(res.NoChange, []int64{3}) {
			t.Fatalf("NoChange = %v, want [3]", res.NoChange)
		}
		if got := depthOf(t, st, 3, network.RoleUpstream); got != 1.45 {
			t.Errorf("p1 depth = %v, want 1.45", got)
		}
	})
}

func TestRunOrphanReset(t *testing.T) {
	// A previously deep segment loses its feed: depths restart from the
	// rule minimum, regardless of what was stored.
	st := network.NewMemStore()
	st.Replace([]network.Segment{{
		ID: 1,
		P1: orb.Point{0, 0}, P2: orb.Point{10, 0},
		P1Elev: fp(100), P2Elev: fp(100),
		P1Depth: fp(5.0), P2Depth: fp(5.01),
	}})
	e := testEngine(st)

	snap := topology.Build(st.Segments(), 6)
	c := &impact.Classification{
		Moved:              map[int64]bool{1: true},
		OrphanedDownstream: map[int64]bool{1: true},
	}
	if _, err := e.Run(Pass{After: snap, Impacts: c}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := depthOf(t, st, 1, network.RoleUpstream); got != 1.05 {
		t.Errorf("p1 depth = %v, want minimum 1.05", got)
	}
}

func TestRunDownstreamSeverResetsReceiver(t *testing.T) {
	// Chain 1 -> 2 -> 3 with settled deep depths. Segment 1's downstream
	// end is dragged off the junction: 2 and 3 lose their only feed and
	// must reset to the rule minimum, not keep their stored values.
	st := network.NewMemStore()
	st.Replace([]network.Segment{
		{ID: 1, P1: orb.Point{0, 0}, P2: orb.Point{10, 0},
			P1Elev: fp(100), P2Elev: fp(100), P1Depth: fp(4.99), P2Depth: fp(5.0)},
		{ID: 2, P1: orb.Point{10, 0}, P2: orb.Point{20, 0},
			P1Elev: fp(100), P2Elev: fp(100), P1Depth: fp(5.0), P2Depth: fp(5.01)},
		{ID: 3, P1: orb.Point{20, 0}, P2: orb.Point{30, 0},
			P1Elev: fp(100), P2Elev: fp(100), P1Depth: fp(5.01), P2Depth: fp(5.02)},
	})
	before := topology.Build(st.Segments(), 6)

	if err := st.MoveVertex(1, network.RoleDownstream, orb.Point{50, 50}); err != nil {
		t.Fatalf("MoveVertex: %v", err)
	}
	after := topology.Build(st.Segments(), 6)
	c := impact.Analyze(before, after, []network.VertexChange{{
		SegmentID: 1,
		Role:      network.RoleDownstream,
		Old:       orb.Point{10, 0},
		New:       orb.Point{50, 50},
	}})

	e := testEngine(st)
	if _, err := e.Run(Pass{After: after, Impacts: c}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := depthOf(t, st, 2, network.RoleUpstream); got != 1.05 {
		t.Errorf("receiver p1 depth = %v, want minimum 1.05", got)
	}
	if got := depthOf(t, st, 3, network.RoleUpstream); got != 1.05 {
		t.Errorf("chain p1 depth = %v, want reset 1.05", got)
	}
}

func TestRunOrphanedUpstreamKeepsDepth(t *testing.T) {
	st := network.NewMemStore()
	st.Replace([]network.Segment{{
		ID: 1,
		P1: orb.Point{0, 0}, P2: orb.Point{10, 0},
		P1Elev: fp(100), P2Elev: fp(100),
		P1Depth: fp(2.5), P2Depth: fp(0.5), // downstream value is stale
	}})
	e := testEngine(st)

	snap := topology.Build(st.Segments(), 6)
	c := &impact.Classification{
		NewlyDisconnected: map[int64]bool{1: true},
		OrphanedUpstream:  map[int64]bool{1: true},
	}
	if _, err := e.Run(Pass{After: snap, Impacts: c}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := depthOf(t, st, 1, network.RoleUpstream); got != 2.5 {
		t.Errorf("p1 depth = %v, want kept 2.5", got)
	}
	if got := depthOf(t, st, 1, network.RoleDownstream); got != 2.51 {
		t.Errorf("p2 depth = %v, want recomputed 2.51", got)
	}
}

func TestRunMissingElevationSkipped(t *testing.T) {
	st := network.NewMemStore()
	st.Replace([]network.Segment{{
		ID: 1, P1: orb.Point{0, 0}, P2: orb.Point{10, 0}, P1Elev: fp(100),
	}})
	e := testEngine(st)

	snap := topology.Build(st.Segments(), 6)
	res, err := e.Run(Pass{After: snap, Impacts: movedOnly(1)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Skipped, []int64{1}) {
		t.Errorf("Skipped = %v, want [1]", res.Skipped)
	}
	if s, _ := st.Get(1); s.P1Depth != nil {
		t.Error("skipped segment must not be written")
	}
}

func TestRunElevationUpdatesOverrideStored(t *testing.T) {
	st := network.NewMemStore()
	st.Replace([]network.Segment{{
		ID: 1, P1: orb.Point{0, 0}, P2: orb.Point{10, 0},
		P1Elev: fp(100), P2Elev: fp(100),
	}})
	e := testEngine(st)

	snap := topology.Build(st.Segments(), 6)
	_, err := e.Run(Pass{
		After:   snap,
		Impacts: movedOnly(1),
		Elevations: map[int64]map[network.Role]float64{
			1: {network.RoleDownstream: 102},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Re-sampled downstream ground at 102: depth 102 - 98.94 = 3.06.
	if got := depthOf(t, st, 1, network.RoleDownstream); got != 3.06 {
		t.Errorf("p2 depth = %v, want 3.06", got)
	}
}

func TestRunElevationSourceFallback(t *testing.T) {
	// No elevations stored on the segment; the attached source covers it.
	st := network.NewMemStore()
	st.Replace([]network.Segment{{
		ID: 1, P1: orb.Point{0, 0}, P2: orb.Point{10, 0},
	}})
	e := testEngine(st)
	e.Elevations = network.PlaneElevation{Base: 100}

	res, err := e.Run(Pass{After: topology.Build(st.Segments(), 6), Impacts: movedOnly(1)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Recalculated, []int64{1}) {
		t.Fatalf("Recalculated = %v, want [1]", res.Recalculated)
	}
	if got := depthOf(t, st, 1, network.RoleDownstream); got != 1.06 {
		t.Errorf("p2 depth = %v, want 1.06", got)
	}

	// Swap in a source with no coverage: the segment is skipped.
	st2 := network.NewMemStore()
	st2.Replace([]network.Segment{{ID: 1, P1: orb.Point{0, 0}, P2: orb.Point{10, 0}}})
	e2 := testEngine(st2)
	e2.Elevations = network.NullElevation{}
	res2, err := e2.Run(Pass{After: topology.Build(st2.Segments(), 6), Impacts: movedOnly(1)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res2.Skipped, []int64{1}) {
		t.Errorf("Skipped = %v, want [1]", res2.Skipped)
	}
}

func TestRunNoParams(t *testing.T) {
	e := &Engine{Store: network.NewMemStore(), Logger: log.New(io.Discard)}
	_, err := e.Run(Pass{After: topology.Build(nil, 6), Impacts: movedOnly()})
	if !errors.Is(err, ErrNoParams) {
		t.Errorf("err = %v, want ErrNoParams", err)
	}
}

func TestRunMinimumDepthFloor(t *testing.T) {
	// Whatever the terrain does, no committed depth may be shallower
	// than cover + diameter (within 1 mm for cm rounding).
	st := network.NewMemStore()
	segs := []network.Segment{
		{ID: 1, P1: orb.Point{0, 0}, P2: orb.Point{10, 0}, P1Elev: fp(100), P2Elev: fp(92)},
		{ID: 2, P1: orb.Point{10, 0}, P2: orb.Point{20, 0}, P1Elev: fp(92), P2Elev: fp(97)},
		{ID: 3, P1: orb.Point{20, 0}, P2: orb.Point{30, 0}, P1Elev: fp(97), P2Elev: fp(90)},
	}
	st.Replace(segs)
	e := testEngine(st)

	snap := topology.Build(st.Segments(), 6)
	c := movedOnly(1)
	c.DownstreamCascade = map[int64]bool{2: true, 3: true}
	if _, err := e.Run(Pass{After: snap, Impacts: c}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	floor := e.Params.MinimumDepth() - 0.001
	for _, s := range st.Segments() {
		for _, d := range []*float64{s.P1Depth, s.P2Depth} {
			if d != nil && *d < floor {
				t.Errorf("segment %d depth %v below floor %v", s.ID, *d, floor)
			}
		}
	}
}

func TestRunRepeatable(t *testing.T) {
	run := func() []network.Segment {
		st := network.NewMemStore()
		st.Replace(flatChain())
		e := testEngine(st)
		c := movedOnly(1)
		c.DownstreamCascade = map[int64]bool{2: true, 3: true}
		if _, err := e.Run(Pass{After: topology.Build(st.Segments(), 6), Impacts: c}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return st.Segments()
	}

	first := run()
	for i := 0; i < 5; i++ {
		if again := run(); !reflect.DeepEqual(again, first) {
			t.Fatalf("run %d differs from first", i)
		}
	}
}

func TestRunUphillAccumulates(t *testing.T) {
	st := network.NewMemStore()
	st.Replace([]network.Segment{{
		ID: 1, P1: orb.Point{0, 0}, P2: orb.Point{10, 0},
		P1Elev: fp(100), P2Elev: fp(102),
	}})
	e := testEngine(st)
	e.Params.SlopeMPerM = 0.005

	if _, err := e.Run(Pass{After: topology.Build(st.Segments(), 6), Impacts: movedOnly(1)}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Invert 98.95 falls to 98.90; depth 102 - 98.90 = 3.10.
	if got := depthOf(t, st, 1, network.RoleDownstream); math.Abs(got-3.10) > 1e-9 {
		t.Errorf("p2 depth = %v, want 3.10", got)
	}
}
