// Package interact turns pointer gestures into pins on the layout and into
// pan/zoom changes of the viewport.
package interact

import (
	"errors"
	"maps"
	"math"

	"github.com/latebit/torunveil/internal/layout"
)

var (
	// ErrUnknownNode is returned when a node id is not in the layout.
	ErrUnknownNode = errors.New("unknown node")
	// ErrPointerBusy is returned when a pointer already drags another node.
	ErrPointerBusy = errors.New("pointer already dragging")
	// ErrNoDrag is returned when a pointer holds no drag.
	ErrNoDrag = errors.New("pointer is not dragging")
	// ErrBadPoint is returned for coordinates that are NaN or infinite.
	ErrBadPoint = errors.New("point is not finite")
)

// MaxCoord bounds pinned world coordinates and view offsets on each axis.
const MaxCoord = 1e6

// PointerID distinguishes concurrent pointers (mouse, touch points).
type PointerID int

// Viewport maps world coordinates to view coordinates. The view origin is the
// centre of the drawing surface; the renderer adds the half extent.
type Viewport struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

// ToScreen converts a world point to view coordinates.
func (v Viewport) ToScreen(p layout.Point) layout.Point {
	return layout.Point{X: p.X*v.Scale + v.X, Y: p.Y*v.Scale + v.Y}
}

// ToWorld converts a view point to world coordinates.
func (v Viewport) ToWorld(p layout.Point) layout.Point {
	return layout.Point{X: (p.X - v.X) / v.Scale, Y: (p.Y - v.Y) / v.Scale}
}

// Config bounds zoom and sets the simulation energy used while dragging.
type Config struct {
	MinScale     float64 `toml:"min_scale"`
	MaxScale     float64 `toml:"max_scale"`
	ActiveAlpha  float64 `toml:"active_alpha"`
	InitialScale float64 `toml:"initial_scale"`
}

// DefaultConfig returns the reference interaction parameters.
func DefaultConfig() Config {
	return Config{MinScale: 0.1, MaxScale: 4, ActiveAlpha: 0.3, InitialScale: 1}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MinScale <= 0 {
		c.MinScale = d.MinScale
	}
	if c.MaxScale < c.MinScale {
		c.MaxScale = max(d.MaxScale, c.MinScale)
	}
	if c.ActiveAlpha <= 0 {
		c.ActiveAlpha = d.ActiveAlpha
	}
	if c.InitialScale <= 0 {
		c.InitialScale = d.InitialScale
	}
	c.InitialScale = min(max(c.InitialScale, c.MinScale), c.MaxScale)
}

// Simulation is the part of the layout engine the controller drives.
type Simulation interface {
	Position(id string) (layout.Point, bool)
	SetAlphaTarget(t float64)
	Reheat(level float64)
}

// Controller owns the pin side-table and the per-pointer drag table. It
// implements layout.PinSource. Like the engine, it belongs to one event loop.
type Controller struct {
	cfg   Config
	sim   Simulation
	view  Viewport
	pins  map[string]layout.Point
	drags map[PointerID]string
}

// New creates a controller driving sim.
func New(sim Simulation, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:   cfg,
		sim:   sim,
		view:  Viewport{Scale: cfg.InitialScale},
		pins:  make(map[string]layout.Point),
		drags: make(map[PointerID]string),
	}
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Pin implements layout.PinSource.
func (c *Controller) Pin(id string) (layout.Point, bool) {
	p, ok := c.pins[id]
	return p, ok
}

// Pins returns a copy of the pin table.
func (c *Controller) Pins() map[string]layout.Point {
	return maps.Clone(c.pins)
}

// Dragging returns the node held by pointer p.
func (c *Controller) Dragging(p PointerID) (string, bool) {
	id, ok := c.drags[p]
	return id, ok
}

// ActiveDrags returns the number of pointers currently dragging.
func (c *Controller) ActiveDrags() int { return len(c.drags) }

// BeginDrag pins node id at its current simulated position on behalf of
// pointer p. The first concurrent drag keeps the simulation warm at the
// active alpha and reheats it if it had come to rest.
func (c *Controller) BeginDrag(p PointerID, id string) error {
	if held, ok := c.drags[p]; ok {
		if held == id {
			return nil
		}
		return ErrPointerBusy
	}
	pos, ok := c.sim.Position(id)
	if !ok {
		return ErrUnknownNode
	}
	if len(c.drags) == 0 {
		// Reheat checks for rest, so it must run before the target changes.
		c.sim.Reheat(c.cfg.ActiveAlpha)
		c.sim.SetAlphaTarget(c.cfg.ActiveAlpha)
	}
	c.drags[p] = id
	if _, pinned := c.pins[id]; !pinned {
		c.pins[id] = pos
	}
	return nil
}

// UpdateDrag moves the pin held by pointer p to world.
func (c *Controller) UpdateDrag(p PointerID, world layout.Point) error {
	id, ok := c.drags[p]
	if !ok {
		return ErrNoDrag
	}
	if !world.Finite() {
		return ErrBadPoint
	}
	c.pins[id] = clampPoint(world)
	return nil
}

// EndDrag releases pointer p. The pin is cleared once no pointer holds the
// node. When the last drag ends the alpha target drops to zero and the
// simulation cools down on its own.
func (c *Controller) EndDrag(p PointerID) error {
	id, ok := c.drags[p]
	if !ok {
		return ErrNoDrag
	}
	delete(c.drags, p)
	if !c.held(id) {
		delete(c.pins, id)
	}
	if len(c.drags) == 0 {
		c.sim.SetAlphaTarget(0)
	}
	return nil
}

func (c *Controller) held(id string) bool {
	for _, d := range c.drags {
		if d == id {
			return true
		}
	}
	return false
}

// Retain drops pins and drags for nodes that are no longer present.
func (c *Controller) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	had := len(c.drags)
	maps.DeleteFunc(c.drags, func(_ PointerID, id string) bool {
		_, ok := keep[id]
		return !ok
	})
	maps.DeleteFunc(c.pins, func(id string, _ layout.Point) bool {
		_, ok := keep[id]
		return !ok
	})
	if had > 0 && len(c.drags) == 0 {
		c.sim.SetAlphaTarget(0)
	}
}

// Viewport returns the current transform.
func (c *Controller) Viewport() Viewport { return c.view }

// Pan shifts the view by (dx, dy) view units.
func (c *Controller) Pan(dx, dy float64) {
	d := layout.Point{X: c.view.X + dx, Y: c.view.Y + dy}
	if !d.Finite() {
		return
	}
	d = clampPoint(d)
	c.view.X, c.view.Y = d.X, d.Y
}

// Zoom multiplies the scale by factor, clamped to the configured range, and
// keeps the world point under anchor (view coordinates) fixed on screen.
func (c *Controller) Zoom(factor float64, anchor layout.Point) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) || !anchor.Finite() {
		return
	}
	w := c.view.ToWorld(anchor)
	c.view.Scale = c.clamp(c.view.Scale * factor)
	o := clampPoint(layout.Point{X: anchor.X - w.X*c.view.Scale, Y: anchor.Y - w.Y*c.view.Scale})
	c.view.X, c.view.Y = o.X, o.Y
}

// Reset restores the initial transform.
func (c *Controller) Reset() {
	c.view = Viewport{Scale: c.cfg.InitialScale}
}

// Fit scales and centres the view so bounds fills a w×h surface minus padding.
func (c *Controller) Fit(bounds layout.Rect, w, h, padding float64) {
	if w <= 0 || h <= 0 {
		return
	}
	gw, gh := bounds.Width(), bounds.Height()
	if gw <= 0 {
		gw = 1
	}
	if gh <= 0 {
		gh = 1
	}
	s := min((w-2*padding)/gw, (h-2*padding)/gh)
	if s <= 0 {
		s = c.cfg.InitialScale
	}
	s = c.clamp(s)
	cx := (bounds.Min.X + bounds.Max.X) / 2
	cy := (bounds.Min.Y + bounds.Max.Y) / 2
	c.view = Viewport{X: -cx * s, Y: -cy * s, Scale: s}
}

// Focus centres the view on a world point at the given scale.
func (c *Controller) Focus(world layout.Point, scale float64) {
	if !world.Finite() {
		return
	}
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = c.view.Scale
	}
	s := c.clamp(scale)
	c.view = Viewport{X: -world.X * s, Y: -world.Y * s, Scale: s}
}

func clampPoint(p layout.Point) layout.Point {
	return layout.Point{
		X: min(max(p.X, -MaxCoord), MaxCoord),
		Y: min(max(p.Y, -MaxCoord), MaxCoord),
	}
}

func (c *Controller) clamp(s float64) float64 {
	return min(max(s, c.cfg.MinScale), c.cfg.MaxScale)
}
