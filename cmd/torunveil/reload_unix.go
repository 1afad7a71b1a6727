//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/latebit/torunveil/internal/web"
)

// startReloader re-reads the topology on SIGHUP and pushes it to every open
// view. A rejected topology leaves the served one in place.
func (a *app) startReloader(ctx context.Context, srv *web.Server) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sighup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
			}
			snap, err := a.snapshot(ctx)
			if err == nil {
				err = srv.Replace(snap)
			}
			if err != nil {
				a.log.Error("topology reload failed", "error", err)
				continue
			}
			a.log.Info("topology reloaded", "source", a.cfg.Source.Topology, "nodes", len(snap.Nodes))
		}
	}()
}
