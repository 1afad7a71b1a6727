package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/latebit/torunveil/internal/report"
	"github.com/latebit/torunveil/internal/topology"
)

func (a *app) candidatesCmd() *cobra.Command {
	var timeline bool
	cmd := &cobra.Command{
		Use:     "candidates",
		Aliases: []string{"ls"},
		Short:   "List origin candidates by confidence",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printCandidates(w, snap.Candidates)
			if timeline {
				fmt.Fprintln(w)
				printTimeline(w, snap.Events)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&timeline, "timeline", "t", false, "also print the event timeline")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the forensic report",
		Long: "Writes the candidate report. CSV matches the dashboard download (" + report.DefaultFileName + ");\n" +
			"md and html add the per-candidate evidence and the event timeline.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if !slices.Contains(report.Formats(), format) && format != "markdown" {
				return fmt.Errorf("%w: %q", report.ErrUnknownFormat, format)
			}
			snap, err := a.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, func(w io.Writer) error {
				return report.Write(w, snap, format, time.Now())
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "report format: csv, md or html")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func printCandidates(w io.Writer, cands []topology.Candidate) {
	if len(cands) == 0 {
		fmt.Fprintln(w, "  No origin candidates.")
		return
	}
	rows := make([][]string, 0, len(cands))
	for _, c := range cands {
		rows = append(rows, []string{c.IP, c.Country, strconv.Itoa(c.Confidence) + "%", string(report.BandOf(c.Confidence))})
	}
	table(w, []string{"IP ADDRESS", "COUNTRY", "CONFIDENCE", "BAND"}, rows, func(r, col int) *color.Color {
		switch col {
		case 0:
			return brand
		case 2, 3:
			return bandColor(report.BandOf(cands[r].Confidence))
		}
		return nil
	})
}

func printTimeline(w io.Writer, events []topology.Event) {
	for _, e := range events {
		fmt.Fprintf(w, "  %s  %s  %s\n",
			subtle.Sprint(e.Timestamp.Format(time.RFC3339)),
			kindColor(e.Kind).Sprintf("%-14s", e.Kind),
			e.Description)
	}
}

func kindColor(k topology.EventKind) *color.Color {
	switch k {
	case topology.EventIdentification:
		return bad
	case topology.EventCorrelation:
		return warn
	case topology.EventDetection:
		return info
	}
	return subtle
}
