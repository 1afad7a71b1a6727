// Package source supplies topology snapshots and runs the capture analysis
// that produces new findings. Both are backed by fixtures: an embedded mock
// network, or a topology file on disk.
package source

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/latebit/torunveil/internal/topology"
)

//go:embed fixtures/*.toml
var fixtures embed.FS

// DefaultLatency is the delay before a fixture snapshot is delivered.
const DefaultLatency = 500 * time.Millisecond

// ErrUnknownFormat is returned for topology files with an unsupported extension.
var ErrUnknownFormat = errors.New("unknown topology format")

// Supplier provides topology snapshots.
type Supplier interface {
	Fetch(ctx context.Context) (topology.Snapshot, error)
}

// Fixture supplies the snapshot stored at Path, or the embedded mock
// network when Path is empty, after a fixed latency.
type Fixture struct {
	Path    string
	Latency time.Duration // negative disables the delay; zero means DefaultLatency
}

// Fetch waits out the latency, then loads, validates and normalizes the
// snapshot. It returns early with ctx.Err() if ctx is done first.
func (f Fixture) Fetch(ctx context.Context) (topology.Snapshot, error) {
	latency := f.Latency
	if latency == 0 {
		latency = DefaultLatency
	}
	if err := sleep(ctx, latency); err != nil {
		return topology.Snapshot{}, err
	}
	if f.Path == "" {
		return Default()
	}
	return LoadFile(f.Path)
}

// Default returns the embedded mock network.
func Default() (topology.Snapshot, error) {
	data, err := fixtures.ReadFile("fixtures/network.toml")
	if err != nil {
		return topology.Snapshot{}, err
	}
	return Decode(bytes.NewReader(data), "toml")
}

// LoadFile reads a snapshot from a .toml, .yaml, .yml or .json file.
func LoadFile(path string) (topology.Snapshot, error) {
	format, err := formatOf(path)
	if err != nil {
		return topology.Snapshot{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return topology.Snapshot{}, fmt.Errorf("open topology: %w", err)
	}
	defer f.Close()
	snap, err := Decode(f, format)
	if err != nil {
		return topology.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml", nil
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// Decode parses a snapshot in the given format ("toml", "yaml" or "json"),
// validates it and normalizes candidate and event order.
func Decode(r io.Reader, format string) (topology.Snapshot, error) {
	var snap topology.Snapshot
	switch format {
	case "toml":
		if _, err := toml.NewDecoder(r).Decode(&snap); err != nil {
			return snap, fmt.Errorf("decode toml: %w", err)
		}
	case "yaml":
		if err := yaml.NewDecoder(r).Decode(&snap); err != nil && !errors.Is(err, io.EOF) {
			return snap, fmt.Errorf("decode yaml: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return snap, fmt.Errorf("decode json: %w", err)
		}
	default:
		return snap, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err := snap.Validate(); err != nil {
		return topology.Snapshot{}, err
	}
	snap.Normalize()
	return snap, nil
}

// Encode writes snap in the given format.
func Encode(w io.Writer, snap topology.Snapshot, format string) error {
	switch format {
	case "toml":
		return toml.NewEncoder(w).Encode(snap)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
