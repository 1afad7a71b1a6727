package render

import (
	"fmt"
	"io"

	svg "github.com/ajstarks/svgo"
)

// WriteSVG writes f as a standalone SVG document.
func WriteSVG(w io.Writer, f Frame) error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("render: empty frame")
	}
	width, height := iround(f.Width), iround(f.Height)
	canvas := svg.New(w)
	canvas.Start(width, height)
	canvas.Rect(0, 0, width, height, "fill:#111111")

	stroke := max(1, f.Scale)
	canvas.Gstyle(fmt.Sprintf("stroke:%s;stroke-opacity:0.6;stroke-width:%.2f", ColorLink, stroke*1.5))
	for _, s := range f.Links {
		canvas.Line(iround(s.From.X), iround(s.From.Y), iround(s.To.X), iround(s.To.Y))
	}
	canvas.Gend()

	canvas.Gstyle(fmt.Sprintf("stroke:%s;stroke-width:%.2f;stroke-dasharray:8 4;stroke-dashoffset:%.1f",
		ColorPath, stroke*3, -12*f.Phase))
	for _, s := range f.Path {
		canvas.Line(iround(s.From.X), iround(s.From.Y), iround(s.To.X), iround(s.To.Y))
	}
	canvas.Gend()

	for _, d := range f.Nodes {
		canvas.Circle(iround(d.Center.X), iround(d.Center.Y), max(1, iround(d.Radius)),
			fmt.Sprintf("fill:%s;stroke:#ffffff;stroke-width:1.5", d.Color))
	}
	for _, r := range f.Rings {
		canvas.Circle(iround(r.Center.X), iround(r.Center.Y), max(1, iround(r.Radius)),
			fmt.Sprintf("fill:none;stroke:%s;stroke-width:2;stroke-opacity:%.2f", ColorPath, r.Opacity))
	}
	for _, l := range f.Labels {
		canvas.Text(iround(l.At.X), iround(l.At.Y), l.Text,
			fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace;dominant-baseline:middle", ColorLabel))
	}
	canvas.End()
	return nil
}
