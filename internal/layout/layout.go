// Package layout implements the force-directed simulation that positions
// topology nodes in two dimensions.
//
// The model follows the velocity-Verlet scheme popularised by d3-force: each
// step cools a global energy (alpha) toward a target, accumulates link,
// charge and centering forces into node velocities, then integrates.
// Pinned nodes are read from a PinSource every step and placed exactly.
//
// An Engine is not safe for concurrent use. It is meant to be owned by a
// single event loop that also handles pointer input.
package layout

import (
	"iter"
	"math"
	"math/rand"

	"github.com/latebit/torunveil/internal/topology"
)

// Point is a position in world coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Rect is an axis-aligned bounding box.
type Rect struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// Width returns the horizontal extent of r.
func (r Rect) Width() float64 { return r.Max.X - r.Min.X }

// Height returns the vertical extent of r.
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

// PinSource supplies user-imposed positions. It is consulted on every step,
// so pins never need to be written into the engine.
type PinSource interface {
	Pin(id string) (Point, bool)
}

// Config holds the simulation parameters. Start from DefaultConfig; zero
// values for charge, centering and scatter are honoured as "disabled".
type Config struct {
	LinkDistance      float64 `toml:"link_distance"`
	LinkStrength      float64 `toml:"link_strength"` // 0 = 1/min(degree) per link
	ChargeStrength    float64 `toml:"charge_strength"`
	CenteringStrength float64 `toml:"centering_strength"`
	CenterMean        bool    `toml:"center_mean"` // shift the centroid onto the origin every step
	Alpha             float64 `toml:"alpha"`
	AlphaMin          float64 `toml:"alpha_min"`
	AlphaDecay        float64 `toml:"alpha_decay"`
	VelocityDecay     float64 `toml:"velocity_decay"`
	ScatterRadius     float64 `toml:"scatter_radius"` // new nodes start within this radius of the origin
	Seed              int64   `toml:"seed"`
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		LinkDistance:      100,
		ChargeStrength:    -300,
		CenteringStrength: 0.05,
		CenterMean:        true,
		Alpha:             1,
		AlphaMin:          0.001,
		AlphaDecay:        1 - math.Pow(0.001, 1.0/300),
		VelocityDecay:     0.4,
		ScatterRadius:     10,
		Seed:              1,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.LinkDistance <= 0 {
		c.LinkDistance = d.LinkDistance
	}
	if c.Alpha <= 0 {
		c.Alpha = d.Alpha
	}
	if c.AlphaMin <= 0 {
		c.AlphaMin = d.AlphaMin
	}
	if c.AlphaDecay <= 0 || c.AlphaDecay >= 1 {
		c.AlphaDecay = d.AlphaDecay
	}
	if c.VelocityDecay <= 0 || c.VelocityDecay > 1 {
		c.VelocityDecay = d.VelocityDecay
	}
	if c.ScatterRadius < 0 {
		c.ScatterRadius = 0
	}
}

// Body is a read-only view of one node's layout state.
type Body struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Pinned bool    `json:"pinned"`
}

// Tick describes one completed simulation step.
type Tick struct {
	Seq    uint64
	Alpha  float64
	Active bool // false on the step that took the simulation to rest
}

type body struct {
	id     string
	x, y   float64
	vx, vy float64
	pinned bool
}

type spring struct {
	source, target int
	strength, bias float64
}

// distanceMin2 bounds the charge force for nearly coincident nodes.
const distanceMin2 = 1.0

// Engine runs the simulation for one topology at a time.
type Engine struct {
	cfg    Config
	rng    *rand.Rand
	bodies []body
	index  map[string]int
	links  []spring
	alpha  float64
	target float64
	pins   PinSource
	seq    uint64
}

// New creates an engine with no nodes. The engine starts idle.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		index: make(map[string]int),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// SetPins installs the pin side-table consulted on every step.
func (e *Engine) SetPins(p PinSource) { e.pins = p }

// Load replaces the simulated topology. A snapshot that fails validation is
// rejected whole and the engine keeps its previous state. Nodes whose ids
// survive keep their positions; new nodes start near the origin; removed
// nodes are discarded. Alpha is reset so the new layout settles.
func (e *Engine) Load(s *topology.Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}

	bodies := make([]body, len(s.Nodes))
	index := make(map[string]int, len(s.Nodes))
	for i, n := range s.Nodes {
		b := body{id: n.ID}
		if j, ok := e.index[n.ID]; ok {
			b.x, b.y = e.bodies[j].x, e.bodies[j].y
		} else {
			b.x, b.y = e.scatter()
		}
		bodies[i] = b
		index[n.ID] = i
	}

	degree := make([]int, len(bodies))
	for _, l := range s.Links {
		degree[index[l.Source]]++
		degree[index[l.Target]]++
	}
	links := make([]spring, 0, len(s.Links))
	for _, l := range s.Links {
		si, ti := index[l.Source], index[l.Target]
		if si == ti {
			continue // a self-loop has no length to hold
		}
		strength := e.cfg.LinkStrength
		if strength == 0 {
			strength = 1 / float64(min(degree[si], degree[ti]))
		}
		links = append(links, spring{
			source:   si,
			target:   ti,
			strength: strength,
			bias:     float64(degree[si]) / float64(degree[si]+degree[ti]),
		})
	}

	e.bodies = bodies
	e.index = index
	e.links = links
	e.alpha = e.cfg.Alpha
	return nil
}

func (e *Engine) scatter() (float64, float64) {
	if e.cfg.ScatterRadius == 0 {
		return 0, 0
	}
	r := e.cfg.ScatterRadius * math.Sqrt(e.rng.Float64())
	theta := 2 * math.Pi * e.rng.Float64()
	return r * math.Cos(theta), r * math.Sin(theta)
}

func (e *Engine) jiggle() float64 {
	return (e.rng.Float64() - 0.5) * 1e-6
}

// Len returns the number of simulated nodes.
func (e *Engine) Len() int { return len(e.bodies) }

// Alpha returns the current simulation energy.
func (e *Engine) Alpha() float64 { return e.alpha }

// AlphaTarget returns the value alpha is currently decaying toward.
func (e *Engine) AlphaTarget() float64 { return e.target }

// SetAlpha sets the energy unconditionally.
func (e *Engine) SetAlpha(a float64) { e.alpha = max(a, 0) }

// SetAlphaTarget sets the value alpha decays toward. A target above AlphaMin
// keeps the simulation running indefinitely.
func (e *Engine) SetAlphaTarget(t float64) { e.target = max(t, 0) }

// Reheat raises alpha to level if the simulation has gone idle.
func (e *Engine) Reheat(level float64) {
	if e.Idle() {
		e.alpha = level
	}
}

// Idle reports whether the simulation is at rest.
func (e *Engine) Idle() bool {
	return e.alpha < e.cfg.AlphaMin && e.target < e.cfg.AlphaMin
}

// Position returns the current position of a node.
func (e *Engine) Position(id string) (Point, bool) {
	i, ok := e.index[id]
	if !ok {
		return Point{}, false
	}
	return Point{X: e.bodies[i].x, Y: e.bodies[i].y}, true
}

// Bodies returns a copy of every node's layout state in topology order.
func (e *Engine) Bodies() []Body {
	out := make([]Body, len(e.bodies))
	for i, b := range e.bodies {
		out[i] = Body{ID: b.id, X: b.x, Y: b.y, VX: b.vx, VY: b.vy, Pinned: b.pinned}
	}
	return out
}

// Bounds returns the bounding box of all node positions. The zero Rect is
// returned for an empty engine.
func (e *Engine) Bounds() Rect {
	if len(e.bodies) == 0 {
		return Rect{}
	}
	r := Rect{
		Min: Point{X: e.bodies[0].x, Y: e.bodies[0].y},
		Max: Point{X: e.bodies[0].x, Y: e.bodies[0].y},
	}
	for _, b := range e.bodies[1:] {
		r.Min.X = min(r.Min.X, b.x)
		r.Min.Y = min(r.Min.Y, b.y)
		r.Max.X = max(r.Max.X, b.x)
		r.Max.Y = max(r.Max.Y, b.y)
	}
	return r
}

// Step advances the simulation by one tick, whether or not it is idle.
func (e *Engine) Step() Tick {
	e.alpha += (e.target - e.alpha) * e.cfg.AlphaDecay

	e.applyLinks()
	e.applyCharge()
	e.applyCentering()

	for i := range e.bodies {
		b := &e.bodies[i]
		if p, ok := e.pin(b.id); ok && p.Finite() {
			b.x, b.y = p.X, p.Y
			b.vx, b.vy = 0, 0
			b.pinned = true
			continue
		}
		b.pinned = false
		b.vx *= 1 - e.cfg.VelocityDecay
		b.vy *= 1 - e.cfg.VelocityDecay
		b.x += b.vx
		b.y += b.vy
	}

	e.seq++
	return Tick{Seq: e.seq, Alpha: e.alpha, Active: !e.Idle()}
}

// Ticks returns a lazy sequence of steps. The sequence ends once the
// simulation comes to rest and never ends while the alpha target keeps it
// warm; stop ranging to stop stepping.
func (e *Engine) Ticks() iter.Seq[Tick] {
	return func(yield func(Tick) bool) {
		for !e.Idle() {
			if !yield(e.Step()) {
				return
			}
		}
	}
}

// Settle steps until the simulation is idle or limit steps have run, and
// returns the number of steps taken.
func (e *Engine) Settle(limit int) int {
	n := 0
	for n < limit && !e.Idle() {
		e.Step()
		n++
	}
	return n
}

func (e *Engine) pin(id string) (Point, bool) {
	if e.pins == nil {
		return Point{}, false
	}
	return e.pins.Pin(id)
}

func (e *Engine) applyLinks() {
	for _, l := range e.links {
		s, t := &e.bodies[l.source], &e.bodies[l.target]
		x := t.x + t.vx - s.x - s.vx
		if x == 0 {
			x = e.jiggle()
		}
		y := t.y + t.vy - s.y - s.vy
		if y == 0 {
			y = e.jiggle()
		}
		d := math.Sqrt(x*x + y*y)
		if math.IsInf(d, 0) || math.IsNaN(d) {
			continue
		}
		k := (d - e.cfg.LinkDistance) / d * e.alpha * l.strength
		x *= k
		y *= k
		t.vx -= x * l.bias
		t.vy -= y * l.bias
		s.vx += x * (1 - l.bias)
		s.vy += y * (1 - l.bias)
	}
}

// applyCharge computes exact pairwise repulsion. Pairs are visited in node
// order, which is what breaks ties between equidistant pairs.
func (e *Engine) applyCharge() {
	if e.cfg.ChargeStrength == 0 {
		return
	}
	strength := e.cfg.ChargeStrength * e.alpha
	for i := range e.bodies {
		bi := &e.bodies[i]
		for j := range e.bodies {
			if i == j {
				continue
			}
			bj := &e.bodies[j]
			dx := bj.x - bi.x
			if dx == 0 {
				dx = e.jiggle()
			}
			dy := bj.y - bi.y
			if dy == 0 {
				dy = e.jiggle()
			}
			l := dx*dx + dy*dy
			if math.IsInf(l, 0) || math.IsNaN(l) {
				continue
			}
			if l < distanceMin2 {
				l = math.Sqrt(distanceMin2 * l)
			}
			bi.vx += dx * strength / l
			bi.vy += dy * strength / l
		}
	}
}

func (e *Engine) applyCentering() {
	if len(e.bodies) == 0 {
		return
	}
	if e.cfg.CenterMean {
		var sx, sy float64
		for _, b := range e.bodies {
			sx += b.x
			sy += b.y
		}
		sx /= float64(len(e.bodies))
		sy /= float64(len(e.bodies))
		for i := range e.bodies {
			e.bodies[i].x -= sx
			e.bodies[i].y -= sy
		}
	}
	if k := e.cfg.CenteringStrength * e.alpha; k != 0 {
		for i := range e.bodies {
			b := &e.bodies[i]
			b.vx -= b.x * k
			b.vy -= b.y * k
		}
	}
}
