package layout

import (
	"errors"
	"math"
	"testing"

	"github.com/latebit/torunveil/internal/topology"
)

type pinMap map[string]Point

func (p pinMap) Pin(id string) (Point, bool) {
	pt, ok := p[id]
	return pt, ok
}

func chain() *topology.Snapshot {
	return &topology.Snapshot{
		Nodes: []topology.Node{
			{ID: "A", Category: topology.Guard},
			{ID: "B", Category: topology.Relay},
			{ID: "C", Category: topology.Exit},
		},
		Links: []topology.Link{
			{Source: "A", Target: "B"},
			{Source: "B", Target: "C"},
		},
	}
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func TestLoadRejectsMissingEndpoint(t *testing.T) {
	e := New(DefaultConfig())
	if err := e.Load(chain()); err != nil {
		t.Fatalf("Load(valid) = %v", err)
	}
	before, _ := e.Position("A")

	bad := chain()
	bad.Links = append(bad.Links, topology.Link{Source: "C", Target: "Z"})
	err := e.Load(bad)
	if !errors.Is(err, topology.ErrMissingNode) {
		t.Fatalf("Load(bad) = %v, want ErrMissingNode", err)
	}
	if e.Len() != 3 {
		t.Errorf("Len() = %d after rejected load, want 3", e.Len())
	}
	if after, _ := e.Position("A"); after != before {
		t.Errorf("rejected load moved A from %v to %v", before, after)
	}
}

func TestPinnedNodeLandsExactlyOnPin(t *testing.T) {
	e := New(DefaultConfig())
	pins := pinMap{}
	e.SetPins(pins)
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}
	for range 10 {
		e.Step()
	}

	p := Point{X: 250, Y: -175}
	pins["B"] = p
	e.Step()

	got, _ := e.Position("B")
	if got != p {
		t.Errorf("Position(B) = %v, want exactly %v", got, p)
	}
	for _, b := range e.Bodies() {
		if b.ID == "B" {
			if !b.Pinned || b.VX != 0 || b.VY != 0 {
				t.Errorf("pinned body state = %+v, want pinned with zero velocity", b)
			}
		}
	}

	// Still exact after further ticks.
	for range 5 {
		e.Step()
	}
	if got, _ := e.Position("B"); got != p {
		t.Errorf("Position(B) drifted to %v while pinned", got)
	}
}

func TestUnpinnedNodeResumesMoving(t *testing.T) {
	e := New(DefaultConfig())
	pins := pinMap{"A": {X: 300, Y: 300}}
	e.SetPins(pins)
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}
	e.Step()
	pinned, _ := e.Position("A")

	delete(pins, "A")
	e.Step()
	got, _ := e.Position("A")
	if got == pinned {
		t.Errorf("A did not move after unpinning: %v", got)
	}
}

func TestReloadPreservesRetainedPositions(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}
	e.Settle(100)
	a, _ := e.Position("A")
	b, _ := e.Position("B")

	next := chain()
	next.Nodes = append(next.Nodes[:2], topology.Node{ID: "D", Category: topology.Origin})
	next.Links = []topology.Link{{Source: "A", Target: "B"}, {Source: "D", Target: "A"}}
	if err := e.Load(next); err != nil {
		t.Fatal(err)
	}

	if got, _ := e.Position("A"); got != a {
		t.Errorf("A jumped from %v to %v", a, got)
	}
	if got, _ := e.Position("B"); got != b {
		t.Errorf("B jumped from %v to %v", b, got)
	}
	if _, ok := e.Position("C"); ok {
		t.Error("removed node C is still simulated")
	}
	d, ok := e.Position("D")
	if !ok {
		t.Fatal("new node D missing")
	}
	if dist(d, Point{}) > cfg.ScatterRadius {
		t.Errorf("new node D at %v, want within %v of origin", d, cfg.ScatterRadius)
	}
}

func TestNewNodeStartsAtOriginWithoutScatter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScatterRadius = 0
	e := New(cfg)
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}
	for _, b := range e.Bodies() {
		if b.X != 0 || b.Y != 0 {
			t.Errorf("%s starts at (%v, %v), want origin", b.ID, b.X, b.Y)
		}
	}
	// Coincident nodes are separated by the jiggle.
	e.Settle(50)
	a, _ := e.Position("A")
	c, _ := e.Position("C")
	if dist(a, c) < 1 {
		t.Errorf("A and C still coincide after settling: %v %v", a, c)
	}
}

func TestDeterministicWithSeed(t *testing.T) {
	run := func() []Body {
		e := New(DefaultConfig())
		if err := e.Load(chain()); err != nil {
			t.Fatal(err)
		}
		e.Settle(1000)
		return e.Bodies()
	}
	first, second := run(), run()
	for i := range first {
		if math.Abs(first[i].X-second[i].X) > 1e-9 || math.Abs(first[i].Y-second[i].Y) > 1e-9 {
			t.Errorf("body %s differs between runs: %+v vs %+v", first[i].ID, first[i], second[i])
		}
	}
}

func TestTicksStopWhenIdle(t *testing.T) {
	e := New(DefaultConfig())
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}
	var last Tick
	n := 0
	for tick := range e.Ticks() {
		last = tick
		n++
		if n > 10000 {
			t.Fatal("tick sequence did not end")
		}
	}
	if last.Active {
		t.Error("final tick should report inactive")
	}
	if !e.Idle() {
		t.Error("engine should be idle after the sequence ends")
	}
	// Default decay reaches AlphaMin in about 300 steps.
	if n < 250 || n > 350 {
		t.Errorf("ticks = %d, want about 300", n)
	}
}

func TestAlphaTargetKeepsSimulationWarm(t *testing.T) {
	e := New(DefaultConfig())
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}
	e.SetAlphaTarget(0.3)
	n := 0
	for range e.Ticks() {
		n++
		if n == 2000 {
			break
		}
	}
	if n != 2000 {
		t.Fatalf("sequence ended after %d ticks while warm", n)
	}
	if math.Abs(e.Alpha()-0.3) > 1e-3 {
		t.Errorf("Alpha() = %v, want about 0.3", e.Alpha())
	}
}

func TestReheatOnlyWhenIdle(t *testing.T) {
	e := New(DefaultConfig())
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}
	e.Reheat(0.3)
	if e.Alpha() != 1 {
		t.Errorf("Reheat changed a running simulation: alpha = %v", e.Alpha())
	}
	e.Settle(10000)
	e.Reheat(0.3)
	if e.Alpha() != 0.3 {
		t.Errorf("Alpha() = %v after reheat, want 0.3", e.Alpha())
	}
	if e.Idle() {
		t.Error("engine idle after reheat")
	}
}

func TestForcesShapeLayout(t *testing.T) {
	e := New(DefaultConfig())
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}
	e.Settle(10000)

	a, _ := e.Position("A")
	b, _ := e.Position("B")
	c, _ := e.Position("C")

	// Linked pairs sit roughly at link distance.
	for _, d := range []float64{dist(a, b), dist(b, c)} {
		if d < 60 || d > 180 {
			t.Errorf("linked distance %v far from 100", d)
		}
	}
	// Repulsion keeps the unlinked ends further apart than either link.
	if dist(a, c) <= dist(a, b) {
		t.Errorf("A-C (%v) should exceed A-B (%v)", dist(a, c), dist(a, b))
	}
	// Centering keeps the centroid near the origin.
	cx, cy := (a.X+b.X+c.X)/3, (a.Y+b.Y+c.Y)/3
	if math.Hypot(cx, cy) > 1 {
		t.Errorf("centroid (%v, %v) drifted from origin", cx, cy)
	}
}

func TestBounds(t *testing.T) {
	e := New(DefaultConfig())
	if got := e.Bounds(); got != (Rect{}) {
		t.Errorf("Bounds() on empty engine = %v", got)
	}
	pins := pinMap{"A": {X: -50, Y: 10}, "B": {X: 0, Y: -20}, "C": {X: 70, Y: 40}}
	e.SetPins(pins)
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}
	e.Step()
	r := e.Bounds()
	if r.Min != (Point{X: -50, Y: -20}) || r.Max != (Point{X: 70, Y: 40}) {
		t.Errorf("Bounds() = %+v", r)
	}
	if r.Width() != 120 || r.Height() != 60 {
		t.Errorf("size = %vx%v, want 120x60", r.Width(), r.Height())
	}
}

func TestSettleHonoursLimit(t *testing.T) {
	for _, limit := range []int{-1, 0, 1, 5} {
		e := New(DefaultConfig())
		if err := e.Load(chain()); err != nil {
			t.Fatal(err)
		}
		before := e.Alpha()
		got := e.Settle(limit)
		if want := max(limit, 0); got != want {
			t.Errorf("Settle(%d) = %d, want %d", limit, got, want)
		}
		if limit <= 0 && e.Alpha() != before {
			t.Errorf("Settle(%d) stepped: alpha %v -> %v", limit, before, e.Alpha())
		}
	}
}

func TestExtremePinsStayFinite(t *testing.T) {
	e := New(DefaultConfig())
	pins := pinMap{"B": {X: 1e200, Y: 1e200}}
	e.SetPins(pins)
	if err := e.Load(chain()); err != nil {
		t.Fatal(err)
	}

	check := func(stage string) {
		t.Helper()
		for _, b := range e.Bodies() {
			if !(Point{X: b.X, Y: b.Y}).Finite() || !(Point{X: b.VX, Y: b.VY}).Finite() {
				t.Fatalf("%s: body %s = %+v", stage, b.ID, b)
			}
		}
	}

	for range 20 {
		e.Step()
	}
	check("overflowing pin")

	pins["B"] = Point{X: math.NaN(), Y: 0}
	for range 20 {
		e.Step()
	}
	check("nan pin")
	if p, _ := e.Position("B"); !(p.Finite()) {
		t.Errorf("B = %v under a NaN pin", p)
	}

	delete(pins, "B")
	for range 20 {
		e.Step()
	}
	check("released")
}
