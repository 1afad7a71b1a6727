// Package render turns a topology and its layout positions into a draw
// description in screen space, and routes node clicks to an inspection
// callback. Backends draw a Frame to a braille terminal canvas or to SVG.
package render

import (
	"math"
	"time"

	"github.com/latebit/torunveil/internal/interact"
	"github.com/latebit/torunveil/internal/layout"
	"github.com/latebit/torunveil/internal/topology"
)

// Colours per category, plus link and path styling.
const (
	ColorGuard  = "#2563eb"
	ColorRelay  = "#9ca3af"
	ColorExit   = "#dc2626"
	ColorOrigin = "#16a34a"
	ColorLink   = "#444444"
	ColorPath   = "#00ff99"
	ColorLabel  = "#ffffff"
)

// Color returns the fill colour for a category.
func Color(c topology.Category) string {
	switch c {
	case topology.Guard:
		return ColorGuard
	case topology.Exit:
		return ColorExit
	case topology.Origin:
		return ColorOrigin
	default:
		return ColorRelay
	}
}

// Positions supplies the current world position of each node.
type Positions interface {
	Position(id string) (layout.Point, bool)
}

// Segment is a line between two nodes in screen space.
type Segment struct {
	Source string       `json:"source"`
	Target string       `json:"target"`
	From   layout.Point `json:"from"`
	To     layout.Point `json:"to"`
}

// Disc is a node body.
type Disc struct {
	Node    topology.Node `json:"node"`
	Center  layout.Point  `json:"center"`
	Radius  float64       `json:"radius"`
	Color   string        `json:"color"`
	Hovered bool          `json:"hovered,omitempty"`
}

// Ring is the emphasis ring drawn around a highlighted-path endpoint.
type Ring struct {
	ID      string       `json:"id"`
	Center  layout.Point `json:"center"`
	Radius  float64      `json:"radius"`
	Opacity float64      `json:"opacity"`
}

// Label is the text shown for a hovered or focused node.
type Label struct {
	ID   string       `json:"id"`
	At   layout.Point `json:"at"`
	Text string       `json:"text"`
}

// Frame is one draw description. Fields are listed back to front: links,
// highlighted path, node bodies, rings, labels.
type Frame struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`

	Links []Segment `json:"links"`
	Path  []Segment `json:"path"`
	// Phase is the position in the pulse cycle, in [0, 1).
	Phase  float64 `json:"phase"`
	Nodes  []Disc  `json:"nodes"`
	Rings  []Ring  `json:"rings"`
	Labels []Label `json:"labels"`
}

// Options configures node geometry and the inspection callback.
type Options struct {
	// Inspect receives the full node record once per click. It runs on the
	// caller's event loop and must hand off any slow work.
	Inspect func(topology.Node)

	BaseRadius  float64       // guard and relay bodies
	LargeRadius float64       // origin and exit bodies
	RingInset   float64       // ring radius beyond the body at phase 0
	RingPulse   float64       // extra ring radius reached at the end of a pulse
	PulsePeriod time.Duration // one pulse cycle
	HitSlop     float64       // extra screen distance accepted by NodeAt
}

func (o *Options) withDefaults() Options {
	d := Options{
		BaseRadius:  8,
		LargeRadius: 12,
		RingInset:   4,
		RingPulse:   8,
		PulsePeriod: 1500 * time.Millisecond,
		HitSlop:     2,
	}
	if o == nil {
		return d
	}
	d.Inspect = o.Inspect
	if o.BaseRadius > 0 {
		d.BaseRadius = o.BaseRadius
	}
	if o.LargeRadius > 0 {
		d.LargeRadius = o.LargeRadius
	}
	if o.RingInset > 0 {
		d.RingInset = o.RingInset
	}
	if o.RingPulse > 0 {
		d.RingPulse = o.RingPulse
	}
	if o.PulsePeriod > 0 {
		d.PulsePeriod = o.PulsePeriod
	}
	if o.HitSlop > 0 {
		d.HitSlop = o.HitSlop
	}
	return d
}

// Bridge holds the surface extent and the hover/focus/animation state.
type Bridge struct {
	opts    Options
	width   float64
	height  float64
	hover   string
	focus   string
	elapsed time.Duration
}

// New creates a bridge with a zero-sized surface.
func New(opts *Options) *Bridge {
	return &Bridge{opts: opts.withDefaults()}
}

// Resize sets the surface extent. The coordinate origin moves to the new
// centre; node positions are not touched.
func (b *Bridge) Resize(w, h float64) {
	if !(layout.Point{X: w, Y: h}).Finite() {
		w, h = 0, 0
	}
	b.width = max(w, 0)
	b.height = max(h, 0)
}

// Size returns the surface extent.
func (b *Bridge) Size() (w, h float64) { return b.width, b.height }

// Origin returns the screen position of the view origin.
func (b *Bridge) Origin() layout.Point {
	return layout.Point{X: b.width / 2, Y: b.height / 2}
}

// ToView converts a surface position to view coordinates.
func (b *Bridge) ToView(screen layout.Point) layout.Point {
	o := b.Origin()
	return layout.Point{X: screen.X - o.X, Y: screen.Y - o.Y}
}

// Hover marks the node under the pointer; "" clears it.
func (b *Bridge) Hover(id string) { b.hover = id }

// Hovered returns the hovered node id.
func (b *Bridge) Hovered() string { return b.hover }

// Focus marks a node as focused (keyboard selection); "" clears it.
func (b *Bridge) Focus(id string) { b.focus = id }

// Focused returns the focused node id.
func (b *Bridge) Focused() string { return b.focus }

// Animate advances the pulse animation by d.
func (b *Bridge) Animate(d time.Duration) {
	b.elapsed = (b.elapsed + d) % b.opts.PulsePeriod
}

func (b *Bridge) phase() float64 {
	return float64(b.elapsed) / float64(b.opts.PulsePeriod)
}

// Radius returns the body radius for a category before view scaling.
func (b *Bridge) Radius(c topology.Category) float64 {
	if c == topology.Origin || c == topology.Exit {
		return b.opts.LargeRadius
	}
	return b.opts.BaseRadius
}

// Draw builds the frame for snap at the given positions and transform. It
// reports false, and draws nothing, while the surface has no area. Nodes
// without a position are left out together with their links.
func (b *Bridge) Draw(snap *topology.Snapshot, pos Positions, v interact.Viewport) (Frame, bool) {
	if b.width <= 0 || b.height <= 0 || snap == nil {
		return Frame{}, false
	}
	origin := b.Origin()
	screen := make(map[string]layout.Point, len(snap.Nodes))
	for _, n := range snap.Nodes {
		p, ok := pos.Position(n.ID)
		if !ok {
			continue
		}
		s := v.ToScreen(p)
		screen[n.ID] = layout.Point{X: s.X + origin.X, Y: s.Y + origin.Y}
	}

	segment := func(l topology.Link) (Segment, bool) {
		from, okS := screen[l.Source]
		to, okT := screen[l.Target]
		return Segment{Source: l.Source, Target: l.Target, From: from, To: to}, okS && okT
	}

	f := Frame{Width: b.width, Height: b.height, Scale: v.Scale, Phase: b.phase()}
	for _, l := range snap.Links {
		if s, ok := segment(l); ok {
			f.Links = append(f.Links, s)
		}
	}
	for _, l := range snap.PathSegments() {
		if s, ok := segment(l); ok {
			f.Path = append(f.Path, s)
		}
	}

	ends := snap.PathEndpoints()
	for _, n := range snap.Nodes {
		c, ok := screen[n.ID]
		if !ok {
			continue
		}
		r := b.Radius(n.Category) * v.Scale
		f.Nodes = append(f.Nodes, Disc{
			Node:    n,
			Center:  c,
			Radius:  r,
			Color:   Color(n.Category),
			Hovered: n.ID == b.hover,
		})
		if ends[n.ID] {
			f.Rings = append(f.Rings, Ring{
				ID:      n.ID,
				Center:  c,
				Radius:  r + (b.opts.RingInset+b.opts.RingPulse*f.Phase)*v.Scale,
				Opacity: 1 - f.Phase,
			})
		}
		if n.ID == b.hover || n.ID == b.focus {
			f.Labels = append(f.Labels, Label{
				ID:   n.ID,
				At:   layout.Point{X: c.X + r + 4, Y: c.Y},
				Text: n.Label(),
			})
		}
	}
	return f, true
}

// NodeAt returns the topmost node whose body contains the screen point.
func (b *Bridge) NodeAt(f Frame, screen layout.Point) (topology.Node, bool) {
	for i := len(f.Nodes) - 1; i >= 0; i-- {
		d := f.Nodes[i]
		if math.Hypot(screen.X-d.Center.X, screen.Y-d.Center.Y) <= d.Radius+b.opts.HitSlop {
			return d.Node, true
		}
	}
	return topology.Node{}, false
}

// Click hands n to the inspection callback. Callers invoke it once per
// discrete click gesture.
func (b *Bridge) Click(n topology.Node) {
	if b.opts.Inspect != nil {
		b.opts.Inspect(n)
	}
}

// SetInspect replaces the inspection callback.
func (b *Bridge) SetInspect(fn func(topology.Node)) { b.opts.Inspect = fn }
