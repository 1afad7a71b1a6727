package render

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// braille dot bits indexed by [dy][dx] within a 2x4 cell.
var brailleBits = [4][2]uint8{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

// Canvas is a terminal raster of braille cells. Each cell holds 2x4 dots,
// so a cols×rows canvas is addressed as a (2*cols)×(4*rows) dot grid.
// Later writes win the cell colour.
type Canvas struct {
	cols, rows int
	dots       []uint8
	color      []string
	text       []rune
	textColor  []string
}

// NewCanvas allocates a blank canvas.
func NewCanvas(cols, rows int) *Canvas {
	cols, rows = max(cols, 0), max(rows, 0)
	n := cols * rows
	return &Canvas{
		cols:      cols,
		rows:      rows,
		dots:      make([]uint8, n),
		color:     make([]string, n),
		text:      make([]rune, n),
		textColor: make([]string, n),
	}
}

// Size returns the dot dimensions.
func (c *Canvas) Size() (w, h int) { return c.cols * 2, c.rows * 4 }

// Set lights one dot. Out-of-range dots are ignored.
func (c *Canvas) Set(x, y int, color string) {
	if x < 0 || y < 0 || x >= c.cols*2 || y >= c.rows*4 {
		return
	}
	i := (y/4)*c.cols + x/2
	c.dots[i] |= brailleBits[y%4][x%2]
	c.color[i] = color
}

// Line draws from (x0, y0) to (x1, y1). When dash is non-nil, the i-th dot
// along the line is drawn only if dash(i) is true.
func (c *Canvas) Line(x0, y0, x1, y1 int, color string, dash func(i int) bool) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for i := 0; ; i++ {
		if dash == nil || dash(i) {
			c.Set(x0, y0, color)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// Circle draws a disc (fill) or an outline of radius r around (cx, cy).
func (c *Canvas) Circle(cx, cy int, r float64, color string, fill bool) {
	if r < 0.5 {
		c.Set(cx, cy, color)
		return
	}
	ir := int(math.Ceil(r))
	for dy := -ir; dy <= ir; dy++ {
		for dx := -ir; dx <= ir; dx++ {
			d := math.Hypot(float64(dx), float64(dy))
			if (fill && d <= r) || (!fill && math.Abs(d-r) <= 0.5) {
				c.Set(cx+dx, cy+dy, color)
			}
		}
	}
}

// Text writes s starting at the cell containing dot (x, y). Text replaces
// any dots in the cells it covers.
func (c *Canvas) Text(x, y int, s string, color string) {
	if y < 0 || y >= c.rows*4 {
		return
	}
	row, col := y/4, x/2
	for _, r := range s {
		if col >= c.cols {
			return
		}
		if col >= 0 {
			i := row*c.cols + col
			c.text[i] = r
			c.textColor[i] = color
		}
		col++
	}
}

// String renders the canvas as rows of styled braille text.
func (c *Canvas) String() string {
	var b strings.Builder
	for row := range c.rows {
		if row > 0 {
			b.WriteByte('\n')
		}
		var run strings.Builder
		runColor := ""
		flush := func() {
			if run.Len() == 0 {
				return
			}
			if runColor == "" {
				b.WriteString(run.String())
			} else {
				b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(runColor)).Render(run.String()))
			}
			run.Reset()
		}
		for col := range c.cols {
			i := row*c.cols + col
			ch, color := ' ', ""
			switch {
			case c.text[i] != 0:
				ch, color = c.text[i], c.textColor[i]
			case c.dots[i] != 0:
				ch, color = rune(0x2800+int(c.dots[i])), c.color[i]
			}
			if color != runColor {
				flush()
				runColor = color
			}
			run.WriteRune(ch)
		}
		flush()
	}
	return b.String()
}

// Paint draws a frame onto the canvas. The frame is expected to have been
// built for a surface sized to the canvas dot grid.
func (c *Canvas) Paint(f Frame) {
	for _, s := range f.Links {
		c.Line(iround(s.From.X), iround(s.From.Y), iround(s.To.X), iround(s.To.Y), ColorLink, nil)
	}
	offset := int(f.Phase * 6)
	dash := func(i int) bool { return (i+6-offset)%6 < 4 }
	for _, s := range f.Path {
		c.Line(iround(s.From.X), iround(s.From.Y), iround(s.To.X), iround(s.To.Y), ColorPath, dash)
	}
	for _, d := range f.Nodes {
		c.Circle(iround(d.Center.X), iround(d.Center.Y), d.Radius, d.Color, true)
	}
	for _, r := range f.Rings {
		if r.Opacity < 0.2 {
			continue
		}
		c.Circle(iround(r.Center.X), iround(r.Center.Y), r.Radius, ColorPath, false)
	}
	for _, l := range f.Labels {
		c.Text(iround(l.At.X), iround(l.At.Y), l.Text, ColorLabel)
	}
}

func iround(v float64) int { return int(math.Round(v)) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
