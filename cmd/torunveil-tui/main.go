package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/latebit/torunveil/internal/assess"
	"github.com/latebit/torunveil/internal/config"
	"github.com/latebit/torunveil/internal/interact"
	"github.com/latebit/torunveil/internal/keys"
	"github.com/latebit/torunveil/internal/logging"
	"github.com/latebit/torunveil/internal/render"
	"github.com/latebit/torunveil/internal/report"
	"github.com/latebit/torunveil/internal/source"
	"github.com/latebit/torunveil/internal/topology"
	"github.com/latebit/torunveil/internal/view"
)

// Terminal geometry, in braille dots.
var tuiRender = render.Options{BaseRadius: 2, LargeRadius: 3, RingInset: 1, RingPulse: 2}

func main() {
	configPath := flag.String("config", "", "config file (default $XDG_CONFIG_HOME/torunveil/config.toml)")
	topologyPath := flag.String("topology", "", "topology file (.toml, .yaml or .json); the built-in network when empty")
	watch := flag.Bool("watch", false, "reload the topology file when it changes")
	capture := flag.String("capture", "", "capture file analyzed with [a]")
	export := flag.String("export", report.DefaultFileName, "CSV export path")
	logFile := flag.String("log-file", "", "append logs to this file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *topologyPath != "" {
		cfg.Source.Topology = *topologyPath
	}
	if *watch {
		cfg.Source.Watch = true
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	logger, closeLog, err := logging.Open(cfg.Log.File, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open log: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := deps{
		supplier:   source.Fixture{Path: cfg.Source.Topology, Latency: cfg.Source.Latency.Duration},
		analyzer:   source.Analyzer{},
		assessor:   assess.FromConfig(cfg.Assess, keys.Lookup(assess.Provider, config.APIKeyEnv), logger),
		capture:    *capture,
		exportPath: *export,
	}
	if cfg.Source.Watch && cfg.Source.Topology != "" {
		d.watch = startWatch(ctx, cfg.Source.Topology, cfg.Source.Debounce.Duration)
	}

	opts := view.Options{Layout: cfg.Layout, Interact: cfg.Interact, Render: tuiRender}
	if opts.Interact.InitialScale == interact.DefaultConfig().InitialScale {
		opts.Interact.InitialScale = 0.5
	}

	p := tea.NewProgram(
		newModel(d, opts),
		tea.WithAltScreen(),
		tea.WithMouseAllMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// startWatch forwards topology file reloads until ctx is done.
func startWatch(ctx context.Context, path string, debounce time.Duration) <-chan watchMsg {
	ch := make(chan watchMsg)
	go func() {
		defer close(ch)
		err := source.Watch(ctx, path, debounce, func(snap topology.Snapshot, err error) {
			select {
			case ch <- watchMsg{snap: snap, err: err}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			slog.Error("topology watch stopped", "path", path, "error", err)
		}
	}()
	return ch
}
