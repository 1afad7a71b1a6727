// Command torunveil is the headless companion to the dashboard: it settles
// layouts, exports reports, inspects nodes, runs capture analysis, manages
// API keys and serves the browser view.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/latebit/torunveil/internal/config"
	"github.com/latebit/torunveil/internal/keys"
	"github.com/latebit/torunveil/internal/logging"
	"github.com/latebit/torunveil/internal/source"
	"github.com/latebit/torunveil/internal/topology"
)

var version = "0.1.0"

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	topology   string
	keysPath   string
	logLevel   string

	cfg *config.Config
	log *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		bad.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "torunveil",
		Short: "TOR network forensics dashboard",
		Long: brand.Sprint("torunveil") + " visualises a relay network, the traced path and the ranked\n" +
			"origin candidates.\n" +
			subtle.Sprint("Run torunveil-tui for the terminal view or `torunveil serve` for the browser."),
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup() },
	}
	root.SetVersionTemplate("torunveil {{ .Version }}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/torunveil/config.toml)")
	pf.StringVar(&a.topology, "topology", "", "topology file (.toml, .yaml or .json); the built-in network when empty")
	pf.StringVar(&a.keysPath, "keys-file", "", "API key file (default $XDG_CONFIG_HOME/torunveil/keys.toml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.layoutCmd(),
		a.candidatesCmd(),
		a.exportCmd(),
		a.inspectCmd(),
		a.analyzeCmd(),
		a.serveCmd(),
		a.keyCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.topology != "" {
		cfg.Source.Topology = a.topology
	}
	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Log.Format, level, os.Stderr)
	slog.SetDefault(a.log)
	return nil
}

// snapshot loads the configured topology without the simulated latency.
func (a *app) snapshot(ctx context.Context) (topology.Snapshot, error) {
	return source.Fixture{Path: a.cfg.Source.Topology, Latency: -1}.Fetch(ctx)
}

func (a *app) keyStore() (*keys.Store, error) {
	path := a.keysPath
	if path == "" {
		path = keys.DefaultPath()
	}
	return keys.Load(path)
}

// apiKey resolves the assessment key from the environment or the key file.
func (a *app) apiKey(provider string) string {
	store, err := a.keyStore()
	if err != nil {
		a.log.Warn("key file unreadable", "error", err)
	}
	return store.Resolve(provider, config.APIKeyEnv)
}

// writeOutput runs fn against stdout, or against the file at path when one
// is given.
func writeOutput(cmd *cobra.Command, path string, fn func(io.Writer) error) error {
	if path == "" || path == "-" {
		return fn(cmd.OutOrStdout())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	good.Fprintf(cmd.ErrOrStderr(), "%s wrote %s\n", statusIcon(true), path)
	return nil
}

// formatFor derives a topology format from a file extension.
func formatFor(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "yml" {
		return "yaml"
	}
	return ext
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "torunveil %s\n", version)
		},
	}
}
