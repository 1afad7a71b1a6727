package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/latebit/torunveil/internal/topology"
)

func testSnapshot() topology.Snapshot {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return topology.Snapshot{
		Nodes: []topology.Node{{ID: "10.0.0.1", Category: topology.Guard}, {ID: "10.0.0.2", Category: topology.Exit}},
		Links: []topology.Link{{Source: "10.0.0.1", Target: "10.0.0.2"}},
		Candidates: []topology.Candidate{
			{IP: "203.0.113.5", Country: "NL", Confidence: 40, Evidence: []string{"weak timing"}},
			{IP: "192.168.1.10", Country: "US", Confidence: 92, Evidence: []string{"Timing correlation", "Packet size, match"}},
		},
		Events: []topology.Event{
			{Timestamp: t0, Description: "first seen", Kind: topology.EventDetection},
			{Timestamp: t0.Add(time.Minute), Description: "origin identified", Kind: topology.EventIdentification},
		},
	}
}

func TestBandOf(t *testing.T) {
	tests := []struct {
		conf int
		want Band
	}{
		{100, High}, {76, High}, {75, Medium}, {51, Medium}, {50, Low}, {0, Low},
	}
	for _, tt := range tests {
		if got := BandOf(tt.conf); got != tt.want {
			t.Errorf("BandOf(%d) = %s, want %s", tt.conf, got, tt.want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	snap := testSnapshot()
	var buf bytes.Buffer
	if err := WriteCSV(&buf, snap.Candidates); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "IP Address,Country,Confidence,Evidence\n") {
		t.Errorf("header line: %q", buf.String())
	}

	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	want := []string{"192.168.1.10", "US", "92", "Timing correlation; Packet size, match"}
	for i, f := range want {
		if recs[2][i] != f {
			t.Errorf("field %d = %q, want %q", i, recs[2][i], f)
		}
	}
}

func TestMarkdown(t *testing.T) {
	at := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	md := Markdown(testSnapshot(), at)

	for _, want := range []string{
		"# Forensic Report",
		"Generated 2025-03-02T00:00:00Z.",
		"| 192.168.1.10 | US | 92% | high |",
		"| 203.0.113.5 | NL | 40% | low |",
		"- Packet size, match",
		"**identification** origin identified",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Index(md, "192.168.1.10 |") > strings.Index(md, "203.0.113.5 |") {
		t.Error("candidates not ranked by confidence")
	}
	if strings.Index(md, "origin identified") > strings.Index(md, "first seen") {
		t.Error("timeline not newest first")
	}
}

func TestMarkdownDoesNotReorderInput(t *testing.T) {
	snap := testSnapshot()
	_ = Markdown(snap, time.Time{})
	if snap.Candidates[0].IP != "203.0.113.5" {
		t.Error("Markdown mutated the caller's snapshot")
	}
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, testSnapshot(), time.Time{}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"<!DOCTYPE html>", "<h1>Forensic Report</h1>", "<table>", "<td>192.168.1.10</td>"} {
		if !strings.Contains(out, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestWriteFormats(t *testing.T) {
	for _, f := range Formats() {
		var buf bytes.Buffer
		if err := Write(&buf, testSnapshot(), f, time.Now()); err != nil {
			t.Errorf("Write(%s): %v", f, err)
		}
		if buf.Len() == 0 {
			t.Errorf("Write(%s) produced nothing", f)
		}
	}
	if err := Write(&bytes.Buffer{}, testSnapshot(), "pdf", time.Now()); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Write(pdf) = %v", err)
	}
}
