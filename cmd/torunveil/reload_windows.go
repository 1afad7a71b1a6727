//go:build windows

package main

import (
	"context"

	"github.com/latebit/torunveil/internal/web"
)

func (a *app) startReloader(_ context.Context, _ *web.Server) {
	// SIGHUP is not available on Windows. Use --watch or restart to reload.
}
