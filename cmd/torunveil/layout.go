package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/latebit/torunveil/internal/layout"
	"github.com/latebit/torunveil/internal/render"
	"github.com/latebit/torunveil/internal/view"
)

// layoutResult is the JSON form of a settled layout.
type layoutResult struct {
	Ticks   int           `json:"ticks"`
	Alpha   float64       `json:"alpha"`
	Settled bool          `json:"settled"`
	Nodes   []layout.Body `json:"nodes"`
}

func (a *app) layoutCmd() *cobra.Command {
	var (
		format        string
		out           string
		width, height float64
		limit         int
		padding       float64
	)
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Settle the force layout and print node positions",
		Long: "Runs the simulation headless until it comes to rest (or --max-ticks) and\n" +
			"writes the positions as JSON, or the framed graph as SVG.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "svg" {
				return fmt.Errorf("unknown layout format %q (want json or svg)", format)
			}
			snap, err := a.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			sess := view.NewSession(view.Options{Layout: a.cfg.Layout, Interact: a.cfg.Interact})
			if err := sess.Load(snap); err != nil {
				return err
			}
			ticks := sess.Engine().Settle(limit)
			a.log.Debug("layout settled", "ticks", ticks, "alpha", sess.Engine().Alpha())

			return writeOutput(cmd, out, func(w io.Writer) error {
				if format == "json" {
					return writeLayoutJSON(w, sess.Engine(), ticks)
				}
				sess.Resize(width, height)
				sess.Fit(padding)
				f, ok := sess.Frame()
				if !ok {
					return errors.New("nothing to draw: surface has no area")
				}
				return render.WriteSVG(w, f)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or svg")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	cmd.Flags().Float64Var(&width, "width", 960, "SVG width")
	cmd.Flags().Float64Var(&height, "height", 640, "SVG height")
	cmd.Flags().Float64Var(&padding, "padding", 40, "SVG padding around the graph")
	cmd.Flags().IntVar(&limit, "max-ticks", 1000, "stop after this many ticks")
	return cmd
}

func writeLayoutJSON(w io.Writer, e *layout.Engine, ticks int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(layoutResult{
		Ticks:   ticks,
		Alpha:   e.Alpha(),
		Settled: e.Idle(),
		Nodes:   e.Bodies(),
	})
}
