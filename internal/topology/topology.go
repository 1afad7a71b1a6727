// Package topology provides the network snapshot consumed by the graph view:
// relay nodes, the links between them, the traced path, origin candidates and
// the event timeline.
package topology

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Category classifies a node by its role in a circuit.
type Category string

const (
	Guard  Category = "guard"
	Relay  Category = "relay"
	Exit   Category = "exit"
	Origin Category = "origin"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case Guard, Relay, Exit, Origin:
		return true
	}
	return false
}

// Node is a single host in the network, identified by its address.
type Node struct {
	ID        string   `json:"id" toml:"id" yaml:"id"`
	Category  Category `json:"type" toml:"type" yaml:"type"`
	Country   string   `json:"country" toml:"country" yaml:"country"`
	Uptime    float64  `json:"uptime" toml:"uptime" yaml:"uptime"`          // hours
	Bandwidth float64  `json:"bandwidth" toml:"bandwidth" yaml:"bandwidth"` // KB/s
}

// Label is the text shown next to a node: "<id> [<country>]".
func (n Node) Label() string {
	return fmt.Sprintf("%s [%s]", n.ID, n.Country)
}

// Link is a directed connection between two nodes.
type Link struct {
	Source string `json:"source" toml:"source" yaml:"source"`
	Target string `json:"target" toml:"target" yaml:"target"`
}

// Candidate is a possible origin address with a confidence score.
type Candidate struct {
	IP         string   `json:"ip" toml:"ip" yaml:"ip"`
	Country    string   `json:"country" toml:"country" yaml:"country"`
	Confidence int      `json:"confidence" toml:"confidence" yaml:"confidence"` // 0-100
	Evidence   []string `json:"evidence" toml:"evidence" yaml:"evidence"`
}

// EventKind classifies timeline entries.
type EventKind string

const (
	EventDetection      EventKind = "detection"
	EventCorrelation    EventKind = "correlation"
	EventIdentification EventKind = "identification"
	EventInfo           EventKind = "info"
)

// Event is a timeline entry.
type Event struct {
	Timestamp   time.Time `json:"timestamp" toml:"timestamp" yaml:"timestamp"`
	Description string    `json:"description" toml:"description" yaml:"description"`
	Kind        EventKind `json:"type" toml:"type" yaml:"type"`
}

// Snapshot is the atomic unit handed to the graph view. It is treated as
// immutable for the duration of one render pass; use Clone before editing.
type Snapshot struct {
	Nodes      []Node      `json:"nodes" toml:"nodes" yaml:"nodes"`
	Links      []Link      `json:"links" toml:"links" yaml:"links"`
	Path       []Link      `json:"path" toml:"path" yaml:"path"`
	Candidates []Candidate `json:"candidates" toml:"candidates" yaml:"candidates"`
	Events     []Event     `json:"events" toml:"events" yaml:"events"`
}

// Finding is the result of a traffic analysis run: a newly identified origin,
// the path traced to it, its candidate entry and the timeline that led there.
type Finding struct {
	Origin    Node      `json:"origin" toml:"origin" yaml:"origin"`
	Path      []Link    `json:"path" toml:"path" yaml:"path"`
	Candidate Candidate `json:"candidate" toml:"candidate" yaml:"candidate"`
	Events    []Event   `json:"events" toml:"events" yaml:"events"`
}

// Validation errors. Every error returned by Validate matches ErrInvalidTopology.
var (
	ErrInvalidTopology   = errors.New("invalid topology")
	ErrEmptyID           = errors.New("node has empty id")
	ErrDuplicateNode     = errors.New("duplicate node id")
	ErrInvalidCategory   = errors.New("invalid node category")
	ErrNegativeAttribute = errors.New("negative node attribute")
	ErrMissingNode       = errors.New("link references unknown node")
	ErrConfidenceRange   = errors.New("candidate confidence outside 0-100")
)

type dataError struct {
	err    error
	detail string
}

func (e *dataError) Error() string { return e.detail + ": " + e.err.Error() }

func (e *dataError) Is(target error) bool {
	return target == ErrInvalidTopology || target == e.err
}

func (e *dataError) Unwrap() error { return e.err }

func invalid(err error, format string, args ...any) error {
	return &dataError{err: err, detail: fmt.Sprintf(format, args...)}
}

// Validate checks node uniqueness, attribute and confidence ranges and that
// every link endpoint exists. All problems are reported together. Highlighted
// path segments with missing endpoints are not errors; they are skipped when
// drawn.
func (s *Snapshot) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(s.Nodes))
	for i, n := range s.Nodes {
		if n.ID == "" {
			errs = append(errs, invalid(ErrEmptyID, "node %d", i))
			continue
		}
		if _, dup := seen[n.ID]; dup {
			errs = append(errs, invalid(ErrDuplicateNode, "node %q", n.ID))
		}
		seen[n.ID] = struct{}{}
		if !n.Category.Valid() {
			errs = append(errs, invalid(ErrInvalidCategory, "node %q type %q", n.ID, n.Category))
		}
		if n.Uptime < 0 || n.Bandwidth < 0 {
			errs = append(errs, invalid(ErrNegativeAttribute, "node %q", n.ID))
		}
	}
	for _, c := range s.Candidates {
		if c.Confidence < 0 || c.Confidence > 100 {
			errs = append(errs, invalid(ErrConfidenceRange, "candidate %q confidence %d", c.IP, c.Confidence))
		}
	}
	for i, l := range s.Links {
		for _, end := range []string{l.Source, l.Target} {
			if _, ok := seen[end]; !ok {
				errs = append(errs, invalid(ErrMissingNode, "link %d (%s -> %s) endpoint %q", i, l.Source, l.Target, end))
			}
		}
	}
	return errors.Join(errs...)
}

// Node returns the node with the given id.
func (s *Snapshot) Node(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodeIDs returns the node ids in snapshot order.
func (s *Snapshot) NodeIDs() []string {
	ids := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// PathSegments returns the highlighted path links whose endpoints both exist.
func (s *Snapshot) PathSegments() []Link {
	ids := make(map[string]struct{}, len(s.Nodes))
	for _, n := range s.Nodes {
		ids[n.ID] = struct{}{}
	}
	var out []Link
	for _, l := range s.Path {
		_, okS := ids[l.Source]
		_, okT := ids[l.Target]
		if okS && okT {
			out = append(out, l)
		}
	}
	return out
}

// PathEndpoints returns the ids of nodes that terminate a drawable path segment.
func (s *Snapshot) PathEndpoints() map[string]bool {
	out := make(map[string]bool)
	for _, l := range s.PathSegments() {
		out[l.Source] = true
		out[l.Target] = true
	}
	return out
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() Snapshot {
	c := Snapshot{
		Nodes:      slices.Clone(s.Nodes),
		Links:      slices.Clone(s.Links),
		Path:       slices.Clone(s.Path),
		Candidates: make([]Candidate, len(s.Candidates)),
		Events:     slices.Clone(s.Events),
	}
	for i, cand := range s.Candidates {
		cand.Evidence = slices.Clone(cand.Evidence)
		c.Candidates[i] = cand
	}
	return c
}

// Normalize orders candidates by confidence (highest first) and events by
// timestamp (newest first). Both sorts are stable.
func (s *Snapshot) Normalize() {
	slices.SortStableFunc(s.Candidates, func(a, b Candidate) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	slices.SortStableFunc(s.Events, func(a, b Event) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
}

// Apply merges an analysis finding into a copy of s. The origin replaces any
// node with the same id, the traced path is replaced, and the candidate
// replaces any entry with the same address.
func (s *Snapshot) Apply(f Finding) Snapshot {
	out := s.Clone()

	if i := slices.IndexFunc(out.Nodes, func(n Node) bool { return n.ID == f.Origin.ID }); i >= 0 {
		out.Nodes[i] = f.Origin
	} else {
		out.Nodes = append(out.Nodes, f.Origin)
	}

	out.Path = slices.Clone(f.Path)

	cand := f.Candidate
	cand.Evidence = slices.Clone(cand.Evidence)
	if i := slices.IndexFunc(out.Candidates, func(c Candidate) bool { return c.IP == cand.IP }); i >= 0 {
		out.Candidates[i] = cand
	} else {
		out.Candidates = append(out.Candidates, cand)
	}

	out.Events = append(out.Events, f.Events...)
	out.Normalize()
	return out
}
