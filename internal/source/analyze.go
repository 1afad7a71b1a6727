package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/latebit/torunveil/internal/topology"
)

// DefaultAnalysisDelay is how long a capture analysis takes.
const DefaultAnalysisDelay = 2 * time.Second

// ErrEmptyCapture is returned when the capture has no content.
var ErrEmptyCapture = errors.New("capture is empty")

// Analyzer stands in for traffic analysis. It consumes the capture, waits
// a fixed delay and reports the fixture finding. The capture content is not
// interpreted.
type Analyzer struct {
	Delay time.Duration // negative disables the delay; zero means DefaultAnalysisDelay
	Now   func() time.Time
}

type findingFile struct {
	Origin    topology.Node      `toml:"origin"`
	Path      []topology.Link    `toml:"path"`
	Candidate topology.Candidate `toml:"candidate"`
	Events    []struct {
		Offset      string             `toml:"offset"`
		Description string             `toml:"description"`
		Kind        topology.EventKind `toml:"type"`
	} `toml:"events"`
}

// Analyze reads the capture to the end, then returns the finding once the
// delay has passed. Event timestamps are relative to completion time.
func (a Analyzer) Analyze(ctx context.Context, capture io.Reader) (topology.Finding, error) {
	n, err := io.Copy(io.Discard, capture)
	if err != nil {
		return topology.Finding{}, fmt.Errorf("read capture: %w", err)
	}
	if n == 0 {
		return topology.Finding{}, ErrEmptyCapture
	}

	delay := a.Delay
	if delay == 0 {
		delay = DefaultAnalysisDelay
	}
	if err := sleep(ctx, delay); err != nil {
		return topology.Finding{}, err
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return loadFinding(now())
}

func loadFinding(at time.Time) (topology.Finding, error) {
	data, err := fixtures.ReadFile("fixtures/analysis.toml")
	if err != nil {
		return topology.Finding{}, err
	}
	var ff findingFile
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&ff); err != nil {
		return topology.Finding{}, fmt.Errorf("decode finding: %w", err)
	}
	f := topology.Finding{
		Origin:    ff.Origin,
		Path:      ff.Path,
		Candidate: ff.Candidate,
	}
	for _, e := range ff.Events {
		off, err := time.ParseDuration(e.Offset)
		if err != nil {
			return topology.Finding{}, fmt.Errorf("event offset %q: %w", e.Offset, err)
		}
		f.Events = append(f.Events, topology.Event{
			Timestamp:   at.Add(off),
			Description: e.Description,
			Kind:        e.Kind,
		})
	}
	return f, nil
}
