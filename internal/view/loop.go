package view

import (
	"context"
	"time"

	"github.com/latebit/torunveil/internal/interact"
	"github.com/latebit/torunveil/internal/layout"
	"github.com/latebit/torunveil/internal/render"
	"github.com/latebit/torunveil/internal/topology"
)

// Input is an event delivered to a running Loop.
type Input interface {
	apply(s *Session) error
}

// PointerDown presses a pointer at a screen point.
type PointerDown struct {
	Pointer interact.PointerID
	At      layout.Point
}

func (in PointerDown) apply(s *Session) error { return s.PointerDown(in.Pointer, in.At) }

// PointerMove moves a pointer, dragging or panning while it is pressed.
type PointerMove struct {
	Pointer interact.PointerID
	At      layout.Point
}

func (in PointerMove) apply(s *Session) error {
	s.PointerMove(in.Pointer, in.At)
	return nil
}

// PointerUp releases a pointer; a release without travel on a node is a click.
type PointerUp struct {
	Pointer interact.PointerID
	At      layout.Point
}

func (in PointerUp) apply(s *Session) error {
	s.PointerUp(in.Pointer, in.At)
	return nil
}

// PointerCancel abandons a pointer's gesture without a click.
type PointerCancel struct {
	Pointer interact.PointerID
}

func (in PointerCancel) apply(s *Session) error {
	s.PointerCancel(in.Pointer)
	return nil
}

// Wheel zooms by Factor around a screen point.
type Wheel struct {
	Factor float64
	At     layout.Point
}

func (in Wheel) apply(s *Session) error {
	s.Wheel(in.Factor, in.At)
	return nil
}

// Resize sets the drawing surface size.
type Resize struct {
	Width  float64
	Height float64
}

func (in Resize) apply(s *Session) error {
	s.Resize(in.Width, in.Height)
	return nil
}

// Replace swaps in a new topology, keeping positions of retained nodes.
type Replace struct {
	Snapshot topology.Snapshot
}

func (in Replace) apply(s *Session) error { return s.Load(in.Snapshot) }

// Fit frames the whole layout.
type Fit struct {
	Padding float64
}

func (in Fit) apply(s *Session) error {
	s.Fit(in.Padding)
	return nil
}

// Zoom zooms around the centre of the surface.
type Zoom struct {
	Factor float64
}

func (in Zoom) apply(s *Session) error {
	s.Zoom(in.Factor)
	return nil
}

// Pan shifts the view by screen units.
type Pan struct {
	DX, DY float64
}

func (in Pan) apply(s *Session) error {
	s.Pan(in.DX, in.DY)
	return nil
}

// Reset restores the initial pan and zoom.
type Reset struct{}

func (Reset) apply(s *Session) error {
	s.Reset()
	return nil
}

// Focus centres the view on a node and marks it focused.
type Focus struct {
	ID string
}

func (in Focus) apply(s *Session) error { return s.Focus(in.ID) }

// Inspect dispatches a node as if it had been clicked.
type Inspect struct {
	ID string
}

func (in Inspect) apply(s *Session) error { return s.Inspect(in.ID) }

// Update is what Loop publishes after every tick or input.
type Update struct {
	Frame render.Frame
	Drawn bool // false when the frame was skipped
	Tick  layout.Tick
	Err   error // the input that triggered this update failed
}

// Loop owns s and drives it until ctx is cancelled or inputs is closed.
// Ticks and inputs are handled in arrival order on this goroutine. The
// ticker runs only while the simulation is active, and is stopped on return.
func Loop(ctx context.Context, s *Session, interval time.Duration, inputs <-chan Input, publish func(Update)) error {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	ticker.Stop()
	defer ticker.Stop()

	var ticks <-chan time.Time
	schedule := func() {
		switch {
		case s.Active() && ticks == nil:
			ticker.Reset(interval)
			ticks = ticker.C
		case !s.Active() && ticks != nil:
			ticker.Stop()
			ticks = nil
		}
	}
	emit := func(u Update) {
		u.Frame, u.Drawn = s.Frame()
		if publish != nil {
			publish(u)
		}
	}

	schedule()
	emit(Update{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			tick := s.Step()
			s.Animate(interval)
			emit(Update{Tick: tick})
		case in, ok := <-inputs:
			if !ok {
				return nil
			}
			err := in.apply(s)
			emit(Update{Err: err})
		}
		schedule()
	}
}
