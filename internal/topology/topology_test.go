package topology

import (
	"errors"
	"testing"
	"time"
)

func sample() Snapshot {
	return Snapshot{
		Nodes: []Node{
			{ID: "10.0.0.1", Category: Guard, Country: "DE", Uptime: 10, Bandwidth: 100},
			{ID: "10.0.0.2", Category: Relay, Country: "FR", Uptime: 20, Bandwidth: 200},
			{ID: "10.0.0.3", Category: Exit, Country: "RU", Uptime: 30, Bandwidth: 300},
		},
		Links: []Link{
			{Source: "10.0.0.1", Target: "10.0.0.2"},
			{Source: "10.0.0.2", Target: "10.0.0.3"},
		},
		Path: []Link{
			{Source: "10.0.0.1", Target: "10.0.0.3"},
		},
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	s := sample()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateConfidenceBounds(t *testing.T) {
	s := sample()
	s.Candidates = []Candidate{{IP: "10.0.0.1", Confidence: 0}, {IP: "10.0.0.2", Confidence: 100}}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
		want   error
	}{
		{
			name:   "missing link target",
			mutate: func(s *Snapshot) { s.Links = append(s.Links, Link{Source: "10.0.0.1", Target: "10.9.9.9"}) },
			want:   ErrMissingNode,
		},
		{
			name:   "missing link source",
			mutate: func(s *Snapshot) { s.Links = append(s.Links, Link{Source: "10.9.9.9", Target: "10.0.0.1"}) },
			want:   ErrMissingNode,
		},
		{
			name:   "duplicate id",
			mutate: func(s *Snapshot) { s.Nodes = append(s.Nodes, Node{ID: "10.0.0.1", Category: Relay}) },
			want:   ErrDuplicateNode,
		},
		{
			name:   "empty id",
			mutate: func(s *Snapshot) { s.Nodes = append(s.Nodes, Node{Category: Relay}) },
			want:   ErrEmptyID,
		},
		{
			name:   "bad category",
			mutate: func(s *Snapshot) { s.Nodes[0].Category = "bridge" },
			want:   ErrInvalidCategory,
		},
		{
			name:   "negative uptime",
			mutate: func(s *Snapshot) { s.Nodes[1].Uptime = -1 },
			want:   ErrNegativeAttribute,
		},
		{
			name:   "confidence above 100",
			mutate: func(s *Snapshot) { s.Candidates = []Candidate{{IP: "10.0.0.1", Confidence: 250}} },
			want:   ErrConfidenceRange,
		},
		{
			name:   "negative confidence",
			mutate: func(s *Snapshot) { s.Candidates = []Candidate{{IP: "10.0.0.1", Confidence: -5}} },
			want:   ErrConfidenceRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sample()
			tt.mutate(&s)
			err := s.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.want)
			}
			if !errors.Is(err, ErrInvalidTopology) {
				t.Errorf("expected error to match ErrInvalidTopology, got %v", err)
			}
		})
	}
}

func TestValidateIgnoresDanglingPath(t *testing.T) {
	s := sample()
	s.Path = append(s.Path, Link{Source: "10.0.0.3", Target: "10.9.9.9"})
	if err := s.Validate(); err != nil {
		t.Fatalf("dangling path segment should not fail validation: %v", err)
	}
	if got := len(s.PathSegments()); got != 1 {
		t.Errorf("PathSegments() = %d, want 1", got)
	}
}

func TestPathEndpoints(t *testing.T) {
	s := Snapshot{
		Nodes: []Node{{ID: "A", Category: Guard}, {ID: "B", Category: Exit}, {ID: "C", Category: Relay}},
		Links: []Link{{Source: "A", Target: "B"}, {Source: "B", Target: "C"}},
		Path:  []Link{{Source: "A", Target: "B"}, {Source: "C", Target: "Z"}},
	}
	ends := s.PathEndpoints()
	if !ends["A"] || !ends["B"] {
		t.Errorf("expected A and B to be endpoints, got %v", ends)
	}
	if ends["C"] {
		t.Error("C only terminates a skipped segment and should not be an endpoint")
	}
	if len(ends) != 2 {
		t.Errorf("len(endpoints) = %d, want 2", len(ends))
	}
}

func TestNormalize(t *testing.T) {
	t0 := time.Date(2024, 7, 28, 14, 35, 10, 0, time.UTC)
	s := Snapshot{
		Candidates: []Candidate{
			{IP: "10.0.0.5", Confidence: 31},
			{IP: "192.168.1.10", Confidence: 92},
			{IP: "192.168.1.25", Confidence: 65},
		},
		Events: []Event{
			{Timestamp: t0, Description: "first"},
			{Timestamp: t0.Add(time.Minute), Description: "last"},
			{Timestamp: t0.Add(time.Second), Description: "middle"},
		},
	}
	s.Normalize()

	wantIPs := []string{"192.168.1.10", "192.168.1.25", "10.0.0.5"}
	for i, ip := range wantIPs {
		if s.Candidates[i].IP != ip {
			t.Errorf("Candidates[%d].IP = %q, want %q", i, s.Candidates[i].IP, ip)
		}
	}
	wantEvents := []string{"last", "middle", "first"}
	for i, d := range wantEvents {
		if s.Events[i].Description != d {
			t.Errorf("Events[%d] = %q, want %q", i, s.Events[i].Description, d)
		}
	}
}

func TestApplyFinding(t *testing.T) {
	s := sample()
	s.Candidates = []Candidate{{IP: "10.0.0.9", Confidence: 40}}

	f := Finding{
		Origin:    Node{ID: "172.16.0.4", Category: Origin, Country: "US"},
		Path:      []Link{{Source: "172.16.0.4", Target: "10.0.0.1"}},
		Candidate: Candidate{IP: "172.16.0.4", Confidence: 88, Evidence: []string{"timing"}},
		Events:    []Event{{Timestamp: time.Now(), Description: "found", Kind: EventIdentification}},
	}
	out := s.Apply(f)

	if _, ok := out.Node("172.16.0.4"); !ok {
		t.Fatal("origin node was not added")
	}
	if len(out.Nodes) != len(s.Nodes)+1 {
		t.Errorf("len(Nodes) = %d, want %d", len(out.Nodes), len(s.Nodes)+1)
	}
	if len(out.Path) != 1 || out.Path[0].Source != "172.16.0.4" {
		t.Errorf("path not replaced: %v", out.Path)
	}
	if out.Candidates[0].IP != "172.16.0.4" {
		t.Errorf("highest confidence candidate = %q, want new origin", out.Candidates[0].IP)
	}
	if err := out.Validate(); err != nil {
		t.Errorf("applied snapshot invalid: %v", err)
	}

	// The receiver must be untouched.
	if len(s.Nodes) != 3 || len(s.Candidates) != 1 {
		t.Error("Apply mutated its receiver")
	}

	// Applying twice replaces rather than duplicates.
	again := out.Apply(f)
	if len(again.Nodes) != len(out.Nodes) {
		t.Errorf("re-apply duplicated origin: %d nodes", len(again.Nodes))
	}
	if len(again.Candidates) != len(out.Candidates) {
		t.Errorf("re-apply duplicated candidate: %d", len(again.Candidates))
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := sample()
	s.Candidates = []Candidate{{IP: "1.1.1.1", Evidence: []string{"a"}}}
	c := s.Clone()
	c.Nodes[0].Country = "XX"
	c.Candidates[0].Evidence[0] = "changed"
	if s.Nodes[0].Country == "XX" {
		t.Error("Clone shares node storage")
	}
	if s.Candidates[0].Evidence[0] == "changed" {
		t.Error("Clone shares evidence storage")
	}
}

func TestLabel(t *testing.T) {
	n := Node{ID: "55.66.77.88", Country: "RU"}
	if got := n.Label(); got != "55.66.77.88 [RU]" {
		t.Errorf("Label() = %q", got)
	}
}
