// Package view composes the layout engine, the interaction controller and
// the render bridge into one graph view with an explicit lifetime.
package view

import (
	"errors"
	"math"
	"time"

	"github.com/latebit/torunveil/internal/interact"
	"github.com/latebit/torunveil/internal/layout"
	"github.com/latebit/torunveil/internal/render"
	"github.com/latebit/torunveil/internal/topology"
)

// ErrNoSnapshot is returned by operations that need a loaded topology.
var ErrNoSnapshot = errors.New("no topology loaded")

// Options configures a Session.
type Options struct {
	Layout   layout.Config
	Interact interact.Config
	Render   render.Options
	// Inspect receives clicked nodes. It overrides Render.Inspect when set.
	Inspect func(topology.Node)
	// DragThreshold is the pointer travel, in screen units, that turns a
	// press into a drag instead of a click.
	DragThreshold float64
}

type gesture struct {
	start layout.Point
	last  layout.Point
	node  string // "" when panning
	moved bool
}

// Session is a single graph view. It is not safe for concurrent use; Loop
// owns it from one goroutine.
type Session struct {
	engine    *layout.Engine
	ctrl      *interact.Controller
	bridge    *render.Bridge
	snap      topology.Snapshot
	loaded    bool
	gestures  map[interact.PointerID]*gesture
	threshold float64
}

// NewSession creates an empty view.
func NewSession(opts Options) *Session {
	ro := opts.Render
	if opts.Inspect != nil {
		ro.Inspect = opts.Inspect
	}
	threshold := opts.DragThreshold
	if threshold <= 0 {
		threshold = 3
	}
	e := layout.New(opts.Layout)
	c := interact.New(e, opts.Interact)
	e.SetPins(c)
	return &Session{
		engine:    e,
		ctrl:      c,
		bridge:    render.New(&ro),
		gestures:  make(map[interact.PointerID]*gesture),
		threshold: threshold,
	}
}

// Engine exposes the layout engine.
func (s *Session) Engine() *layout.Engine { return s.engine }

// Controller exposes the interaction controller.
func (s *Session) Controller() *interact.Controller { return s.ctrl }

// Bridge exposes the render bridge.
func (s *Session) Bridge() *render.Bridge { return s.bridge }

// Load replaces the topology. A malformed snapshot is rejected and the
// previous one stays in place. Positions of retained nodes are kept; pins,
// drags, hover and focus on removed nodes are dropped.
func (s *Session) Load(snap topology.Snapshot) error {
	next := snap.Clone()
	if err := s.engine.Load(&next); err != nil {
		return err
	}
	s.snap = next
	s.loaded = true

	ids := next.NodeIDs()
	s.ctrl.Retain(ids)
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	for p, g := range s.gestures {
		if g.node != "" && !present[g.node] {
			delete(s.gestures, p)
		}
	}
	if !present[s.bridge.Hovered()] {
		s.bridge.Hover("")
	}
	if !present[s.bridge.Focused()] {
		s.bridge.Focus("")
	}
	return nil
}

// Loaded reports whether a topology has been accepted.
func (s *Session) Loaded() bool { return s.loaded }

// Snapshot returns a copy of the current topology.
func (s *Session) Snapshot() topology.Snapshot { return s.snap.Clone() }

// Step advances the simulation one tick.
func (s *Session) Step() layout.Tick { return s.engine.Step() }

// Active reports whether the simulation still needs ticks.
func (s *Session) Active() bool { return !s.engine.Idle() }

// Animate advances emphasis animation.
func (s *Session) Animate(d time.Duration) { s.bridge.Animate(d) }

// Resize re-frames the view for a new surface size.
func (s *Session) Resize(w, h float64) { s.bridge.Resize(w, h) }

// Frame draws the current state. It reports false when there is nothing to
// draw: no topology yet, or a zero-sized surface.
func (s *Session) Frame() (render.Frame, bool) {
	if !s.loaded {
		return render.Frame{}, false
	}
	return s.bridge.Draw(&s.snap, s.engine, s.ctrl.Viewport())
}

func (s *Session) nodeAt(screen layout.Point) (topology.Node, bool) {
	f, ok := s.Frame()
	if !ok {
		return topology.Node{}, false
	}
	return s.bridge.NodeAt(f, screen)
}

func (s *Session) toWorld(screen layout.Point) layout.Point {
	return s.ctrl.Viewport().ToWorld(s.bridge.ToView(screen))
}

// PointerDown starts a gesture. Pressing a node begins a drag on it;
// pressing empty space begins a pan.
func (s *Session) PointerDown(p interact.PointerID, screen layout.Point) error {
	if !screen.Finite() {
		return interact.ErrBadPoint
	}
	if _, busy := s.gestures[p]; busy {
		return interact.ErrPointerBusy
	}
	g := &gesture{start: screen, last: screen}
	if n, ok := s.nodeAt(screen); ok {
		if err := s.ctrl.BeginDrag(p, n.ID); err != nil {
			return err
		}
		g.node = n.ID
	}
	s.gestures[p] = g
	return nil
}

// PointerMove continues a gesture, or updates hover when p is not pressed.
// Non-finite points are ignored.
func (s *Session) PointerMove(p interact.PointerID, screen layout.Point) {
	if !screen.Finite() {
		return
	}
	g, ok := s.gestures[p]
	if !ok {
		if n, hit := s.nodeAt(screen); hit {
			s.bridge.Hover(n.ID)
		} else {
			s.bridge.Hover("")
		}
		return
	}
	if !g.moved && math.Hypot(screen.X-g.start.X, screen.Y-g.start.Y) > s.threshold {
		g.moved = true
	}
	if g.node != "" {
		if g.moved {
			_ = s.ctrl.UpdateDrag(p, s.toWorld(screen))
		}
	} else {
		s.ctrl.Pan(screen.X-g.last.X, screen.Y-g.last.Y)
	}
	g.last = screen
}

// PointerUp ends a gesture. A press and release on a node without drag
// travel is a click: the node is dispatched to the inspection callback
// exactly once and PointerUp returns true.
func (s *Session) PointerUp(p interact.PointerID, screen layout.Point) bool {
	g, ok := s.gestures[p]
	if !ok {
		return false
	}
	delete(s.gestures, p)
	if g.node == "" {
		return false
	}
	_ = s.ctrl.EndDrag(p)
	if g.moved {
		return false
	}
	n, ok := s.snap.Node(g.node)
	if !ok {
		return false
	}
	s.bridge.Click(n)
	return true
}

// PointerCancel abandons a gesture without a click.
func (s *Session) PointerCancel(p interact.PointerID) {
	g, ok := s.gestures[p]
	if !ok {
		return
	}
	delete(s.gestures, p)
	if g.node != "" {
		_ = s.ctrl.EndDrag(p)
	}
}

// Wheel zooms by factor around the screen point.
func (s *Session) Wheel(factor float64, screen layout.Point) {
	s.ctrl.Zoom(factor, s.bridge.ToView(screen))
}

// Zoom zooms around the centre of the surface.
func (s *Session) Zoom(factor float64) {
	s.ctrl.Zoom(factor, layout.Point{})
}

// Pan shifts the view by screen units.
func (s *Session) Pan(dx, dy float64) { s.ctrl.Pan(dx, dy) }

// Fit frames every node with the given padding.
func (s *Session) Fit(padding float64) {
	w, h := s.bridge.Size()
	s.ctrl.Fit(s.engine.Bounds(), w, h, padding)
}

// Reset restores the initial pan and zoom.
func (s *Session) Reset() { s.ctrl.Reset() }

// Focus centres the view on node id and marks it focused.
func (s *Session) Focus(id string) error {
	p, ok := s.engine.Position(id)
	if !ok {
		return interact.ErrUnknownNode
	}
	s.bridge.Focus(id)
	s.ctrl.Focus(p, 0)
	return nil
}

// Inspect dispatches node id as if it had been clicked.
func (s *Session) Inspect(id string) error {
	if !s.loaded {
		return ErrNoSnapshot
	}
	n, ok := s.snap.Node(id)
	if !ok {
		return interact.ErrUnknownNode
	}
	s.bridge.Click(n)
	return nil
}
