package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/latebit/torunveil/internal/assess"
	"github.com/latebit/torunveil/internal/config"
)

func (a *app) inspectCmd() *cobra.Command {
	var (
		raw     bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "inspect NODE_ID",
		Short: "Generate a threat assessment for one node",
		Long: "Asks the text-generation service for an assessment of the node, the same\n" +
			"report the dashboard shows on click. Results are cached per node and model.\n" +
			"The key comes from " + config.APIKeyEnv + " or `torunveil key set`.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			n, ok := snap.Node(args[0])
			if !ok {
				return fmt.Errorf("unknown node %q", args[0])
			}

			client := assess.FromConfig(a.cfg.Assess, a.apiKey(assess.Provider), a.log)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := client.Assess(ctx, n)
			if errors.Is(err, assess.ErrNoAPIKey) {
				return fmt.Errorf("%w: set %s or run `torunveil key set`", err, config.APIKeyEnv)
			}
			if err != nil {
				return fmt.Errorf("failed to analyze node: %w", err)
			}

			w := cmd.OutOrStdout()
			brand.Fprintf(w, "Node Intelligence: %s\n", n.ID)
			subtle.Fprintf(w, "%s · %s · uptime %gh · %g KB/s · %s", n.Category, n.Country, n.Uptime, n.Bandwidth, res.Model)
			if res.FromCache {
				subtle.Fprint(w, " (cached)")
			}
			fmt.Fprint(w, "\n\n")

			if raw {
				fmt.Fprintln(w, res.Text)
				return nil
			}
			r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
			if err != nil {
				return err
			}
			rendered, err := r.Render(res.Text)
			if err != nil {
				return err
			}
			fmt.Fprint(w, rendered)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the markdown without rendering")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long")
	return cmd
}
