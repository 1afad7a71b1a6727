package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/latebit/torunveil/internal/interact"
	"github.com/latebit/torunveil/internal/layout"
	"github.com/latebit/torunveil/internal/render"
	"github.com/latebit/torunveil/internal/topology"
	"github.com/latebit/torunveil/internal/view"
)

const writeWait = 5 * time.Second

// inbound is a browser event.
type inbound struct {
	Type    string  `json:"type"`
	Pointer int     `json:"pointer"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Factor  float64 `json:"factor"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	DX      float64 `json:"dx"`
	DY      float64 `json:"dy"`
	Padding float64 `json:"padding"`
	ID      string  `json:"id"`
}

func (m inbound) input() (view.Input, error) {
	p := interact.PointerID(m.Pointer)
	at := layout.Point{X: m.X, Y: m.Y}
	switch m.Type {
	case "down":
		return view.PointerDown{Pointer: p, At: at}, nil
	case "move":
		return view.PointerMove{Pointer: p, At: at}, nil
	case "up":
		return view.PointerUp{Pointer: p, At: at}, nil
	case "cancel":
		return view.PointerCancel{Pointer: p}, nil
	case "wheel":
		return view.Wheel{Factor: m.Factor, At: at}, nil
	case "zoom":
		return view.Zoom{Factor: m.Factor}, nil
	case "pan":
		return view.Pan{DX: m.DX, DY: m.DY}, nil
	case "resize":
		return view.Resize{Width: m.Width, Height: m.Height}, nil
	case "fit":
		return view.Fit{Padding: m.Padding}, nil
	case "reset":
		return view.Reset{}, nil
	case "focus":
		return view.Focus{ID: m.ID}, nil
	case "inspect":
		return view.Inspect{ID: m.ID}, nil
	}
	return nil, fmt.Errorf("unknown message type %q", m.Type)
}

// outbound is a server event.
type outbound struct {
	Type   string         `json:"type"` // frame, inspect, snapshot, error
	Frame  *render.Frame  `json:"frame,omitempty"`
	Active bool           `json:"active,omitempty"`
	Node   *topology.Node `json:"node,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// client is one websocket connection with its own graph view.
type client struct {
	conn   *websocket.Conn
	log    *slog.Logger
	inputs chan view.Input
	events chan []byte
	frames chan []byte // latest frame only
	done   chan struct{}
}

func newClient(conn *websocket.Conn, log *slog.Logger) *client {
	return &client{
		conn:   conn,
		log:    log,
		inputs: make(chan view.Input, 64),
		events: make(chan []byte, 32),
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
}

func (c *client) event(m outbound) {
	data, err := json.Marshal(m)
	if err != nil {
		c.log.Error("marshal websocket event", "type", m.Type, "error", err)
		return
	}
	select {
	case c.events <- data:
	default:
		c.log.Warn("websocket event dropped", "type", m.Type)
	}
}

// frame replaces any frame not yet written. Only the loop goroutine calls it.
func (c *client) frame(data []byte) {
	select {
	case c.frames <- data:
		return
	default:
	}
	select {
	case <-c.frames:
	default:
	}
	select {
	case c.frames <- data:
	default:
	}
}

// replace queues a new topology for this view.
func (c *client) replace(snap topology.Snapshot) {
	select {
	case c.inputs <- view.Replace{Snapshot: snap}:
		c.event(outbound{Type: "snapshot"})
	case <-c.done:
	}
}

func (c *client) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		var m inbound
		if err := c.conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read", "error", err)
			}
			return
		}
		in, err := m.input()
		if err != nil {
			c.event(outbound{Type: "error", Error: err.Error()})
			continue
		}
		select {
		case c.inputs <- in:
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	write := func(data []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.log.Debug("websocket write", "error", err)
			return false
		}
		return true
	}
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-c.events:
			if !write(data) {
				return
			}
		case data := <-c.frames:
			if !write(data) {
				return
			}
		}
	}
}

// hub tracks connected views so topology changes reach all of them.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Len returns the number of connected views.
func (h *hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(snap topology.Snapshot) {
	for _, c := range h.snapshot() {
		c.replace(snap.Clone())
	}
}

func (h *hub) closeAll() {
	for _, c := range h.snapshot() {
		_ = c.conn.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := newClient(conn, s.log.With("remote", r.RemoteAddr))
	defer conn.Close()
	defer close(c.done)

	opts := s.opts.View
	opts.Inspect = func(n topology.Node) {
		c.event(outbound{Type: "inspect", Node: &n})
	}
	sess := view.NewSession(opts)
	if err := sess.Load(s.Snapshot()); err != nil {
		c.log.Error("load topology into view", "error", err)
		return
	}

	s.hub.add(c)
	defer s.hub.remove(c)
	c.log.Debug("view connected", "views", s.hub.Len())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.readLoop(ctx, cancel) }()
	go func() { defer wg.Done(); c.writeLoop(ctx, cancel) }()

	err = view.Loop(ctx, sess, s.opts.FrameInterval, c.inputs, func(u view.Update) {
		if u.Err != nil {
			c.event(outbound{Type: "error", Error: u.Err.Error()})
		}
		if !u.Drawn {
			return
		}
		data, err := json.Marshal(outbound{Type: "frame", Frame: &u.Frame, Active: sess.Active()})
		if err != nil {
			c.log.Error("marshal frame", "error", err)
			return
		}
		c.frame(data)
	})
	cancel()
	_ = conn.Close()
	wg.Wait()
	c.log.Debug("view disconnected", "reason", err)
}
