package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/latebit/torunveil/internal/assess"
	"github.com/latebit/torunveil/internal/ratelimit"
	"github.com/latebit/torunveil/internal/source"
	"github.com/latebit/torunveil/internal/topology"
	"github.com/latebit/torunveil/internal/view"
	"github.com/latebit/torunveil/internal/web"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard in the browser",
		Long: "Serves the graph view over HTTP. Each browser tab gets its own simulation,\n" +
			"streamed over a websocket; topology reloads and captures analysed through\n" +
			"the page are pushed to every open view. SIGHUP re-reads the topology.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Web.Addr
			}
			snap, err := a.snapshot(cmd.Context())
			if err != nil {
				return err
			}

			limiter := ratelimit.New(a.cfg.Web.Rate, a.cfg.Web.Burst)
			defer limiter.Stop()

			srv, err := web.New(snap, web.Options{
				View:          view.Options{Layout: a.cfg.Layout, Interact: a.cfg.Interact},
				FrameInterval: a.cfg.Web.FrameInterval.Duration,
				Assessor:      assess.FromConfig(a.cfg.Assess, a.apiKey(assess.Provider), a.log),
				Limiter:       limiter,
				Logger:        a.log,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.startReloader(ctx, srv)
			if path := a.cfg.Source.Topology; (watch || a.cfg.Source.Watch) && path != "" {
				go a.watchTopology(ctx, path, srv)
			}

			brand.Fprintf(cmd.OutOrStdout(), "torunveil dashboard on http://%s\n", addr)
			if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8642)")
	cmd.Flags().BoolVar(&watch, "watch", false, "push topology file changes to open views")
	return cmd
}

// watchTopology replaces the served topology whenever the file changes.
// Rejected reloads keep the current topology.
func (a *app) watchTopology(ctx context.Context, path string, srv *web.Server) {
	err := source.Watch(ctx, path, a.cfg.Source.Debounce.Duration, func(snap topology.Snapshot, err error) {
		if err == nil {
			err = srv.Replace(snap)
		}
		if err != nil {
			a.log.Warn("topology reload rejected", "path", path, "error", err)
			return
		}
		a.log.Info("topology reloaded", "path", path, "nodes", len(snap.Nodes))
	})
	if err != nil {
		a.log.Error("topology watch stopped", "path", path, "error", err)
	}
}
