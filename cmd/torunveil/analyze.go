package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/latebit/torunveil/internal/source"
)

func (a *app) analyzeCmd() *cobra.Command {
	var (
		delay time.Duration
		out   string
	)
	cmd := &cobra.Command{
		Use:   "analyze CAPTURE",
		Short: "Analyze a traffic capture and merge the identified origin",
		Long: "Runs traffic analysis on the capture, prints the identified origin and the\n" +
			"updated candidate ranking. With --out the merged topology is written as\n" +
			"TOML, YAML or JSON, by extension, ready for --topology.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out != "" {
				switch format := formatFor(out); format {
				case "toml", "yaml", "json":
				default:
					return fmt.Errorf("%w: %q", source.ErrUnknownFormat, format)
				}
			}
			snap, err := a.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			subtle.Fprintf(cmd.ErrOrStderr(), "Analyzing %s...\n", args[0])
			finding, err := source.Analyzer{Delay: delay}.Analyze(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}
			next := snap.Apply(finding)
			a.log.Info("origin identified", "origin", finding.Origin.ID, "confidence", finding.Candidate.Confidence)

			w := cmd.OutOrStdout()
			good.Fprintf(w, "%s Origin identified: %s [%s] (%d%%)\n", statusIcon(true),
				finding.Origin.ID, finding.Origin.Country, finding.Candidate.Confidence)
			for _, l := range finding.Path {
				subtle.Fprintf(w, "    %s → %s\n", l.Source, l.Target)
			}
			fmt.Fprintln(w)
			printCandidates(w, next.Candidates)

			if out == "" {
				return nil
			}
			return writeOutput(cmd, out, func(w io.Writer) error {
				return source.Encode(w, next, formatFor(out))
			})
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", source.DefaultAnalysisDelay, "analysis time; negative skips the wait")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the merged topology to this file")
	return cmd
}
