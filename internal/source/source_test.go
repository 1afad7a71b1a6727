package source

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/latebit/torunveil/internal/topology"
)

func TestDefaultFixture(t *testing.T) {
	snap, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Nodes) != 10 || len(snap.Links) != 7 || len(snap.Path) != 3 {
		t.Errorf("sizes: nodes=%d links=%d path=%d", len(snap.Nodes), len(snap.Links), len(snap.Path))
	}
	if snap.Candidates[0].IP != "192.168.1.10" || snap.Candidates[2].Confidence != 31 {
		t.Errorf("candidates not sorted by confidence: %+v", snap.Candidates)
	}
	if snap.Events[0].Kind != topology.EventIdentification {
		t.Errorf("newest event first, got %+v", snap.Events[0])
	}
	n, ok := snap.Node("55.66.77.88")
	if !ok || n.Category != topology.Exit || n.Uptime != 500 || n.Bandwidth != 7000 {
		t.Errorf("exit node = %+v", n)
	}
}

func TestFetchHonoursLatency(t *testing.T) {
	start := time.Now()
	snap, err := Fixture{Latency: 20 * time.Millisecond}.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Fetch returned before the latency elapsed")
	}
	if len(snap.Nodes) == 0 {
		t.Error("empty snapshot")
	}
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Fixture{Latency: time.Hour}.Fetch(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() = %v, want context.Canceled", err)
	}
}

func TestLoadFileFormats(t *testing.T) {
	snap, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	for _, format := range []string{"toml", "yaml", "json"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, snap, format); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			path := filepath.Join(dir, "net."+format)
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if len(got.Nodes) != len(snap.Nodes) || len(got.Path) != len(snap.Path) {
				t.Errorf("nodes=%d path=%d", len(got.Nodes), len(got.Path))
			}
			if !got.Events[0].Timestamp.Equal(snap.Events[0].Timestamp) {
				t.Errorf("timestamp %v, want %v", got.Events[0].Timestamp, snap.Events[0].Timestamp)
			}
		})
	}
}

func TestLoadFileRejects(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	content := `nodes:
  - {id: a, type: guard}
links:
  - {source: a, target: b}
`
	if err := os.WriteFile(bad, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(bad); !errors.Is(err, topology.ErrMissingNode) {
		t.Errorf("LoadFile(missing endpoint) = %v", err)
	}

	if _, err := LoadFile(filepath.Join(dir, "net.xml")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("LoadFile(.xml) = %v", err)
	}
	if _, err := LoadFile(filepath.Join(dir, "absent.toml")); err == nil {
		t.Error("LoadFile(absent) = nil")
	}
}

func TestAnalyze(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Analyzer{Delay: time.Millisecond, Now: func() time.Time { return at }}

	f, err := a.Analyze(context.Background(), strings.NewReader("pcap bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if f.Origin.Category != topology.Origin || f.Candidate.IP != f.Origin.ID {
		t.Errorf("finding = %+v", f)
	}
	last := f.Events[len(f.Events)-1]
	if !last.Timestamp.Equal(at) {
		t.Errorf("last event at %v, want %v", last.Timestamp, at)
	}

	base, _ := Default()
	next := base.Apply(f)
	if err := next.Validate(); err != nil {
		t.Errorf("finding does not fit the default network: %v", err)
	}
	if got := len(next.PathSegments()); got != len(f.Path) {
		t.Errorf("drawable path segments = %d, want %d", got, len(f.Path))
	}
}

func TestAnalyzeErrors(t *testing.T) {
	if _, err := (Analyzer{Delay: -1}).Analyze(context.Background(), strings.NewReader("")); !errors.Is(err, ErrEmptyCapture) {
		t.Errorf("Analyze(empty) = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Analyzer{Delay: time.Hour}).Analyze(ctx, strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Analyze(cancelled) = %v", err)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "net.json")
	write := func(snap topology.Snapshot) {
		var buf bytes.Buffer
		if err := Encode(&buf, snap, "json"); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	snap, _ := Default()
	write(snap)

	type result struct {
		snap topology.Snapshot
		err  error
	}
	results := make(chan result, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func(s topology.Snapshot, err error) {
			results <- result{s, err}
		})
	}()

	// Give the watcher time to register before changing the file.
	time.Sleep(100 * time.Millisecond)
	snap.Nodes = append(snap.Nodes, topology.Node{ID: "203.0.113.7", Category: topology.Relay, Country: "IS"})
	write(snap)

	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case r := <-results:
			// A reload can observe the file mid-write; wait for a clean one.
			if r.err != nil {
				continue
			}
			if _, ok := r.snap.Node("203.0.113.7"); !ok {
				t.Error("reloaded snapshot missing the new node")
			}
			reloaded = true
		case <-deadline:
			t.Fatal("no reload after write")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatchRejectsUnknownFormat(t *testing.T) {
	err := Watch(context.Background(), "topology.ini", 0, func(topology.Snapshot, error) {})
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Watch(.ini) = %v", err)
	}
}
