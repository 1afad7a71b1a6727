// Package report exports origin candidates and the event timeline as CSV,
// Markdown or HTML.
package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/latebit/torunveil/internal/topology"
)

// DefaultFileName is the name suggested for a CSV export.
const DefaultFileName = "tor_unveil_report.csv"

// Header is the first CSV record.
var Header = []string{"IP Address", "Country", "Confidence", "Evidence"}

// ErrUnknownFormat is returned by Write for formats other than Formats().
var ErrUnknownFormat = errors.New("unknown report format")

// Band is a coarse confidence level.
type Band string

const (
	High   Band = "high"
	Medium Band = "medium"
	Low    Band = "low"
)

// BandOf maps a confidence score to its band.
func BandOf(confidence int) Band {
	switch {
	case confidence > 75:
		return High
	case confidence > 50:
		return Medium
	}
	return Low
}

// Formats lists the names accepted by Write.
func Formats() []string { return []string{"csv", "md", "html"} }

// Write renders snap in the named format.
func Write(w io.Writer, snap topology.Snapshot, format string, generated time.Time) error {
	switch strings.ToLower(format) {
	case "csv":
		return WriteCSV(w, snap.Candidates)
	case "md", "markdown":
		_, err := io.WriteString(w, Markdown(snap, generated))
		return err
	case "html":
		return WriteHTML(w, snap, generated)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// WriteCSV writes one record per candidate. Evidence items are joined
// with "; " into a single field.
func WriteCSV(w io.Writer, candidates []topology.Candidate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, c := range candidates {
		rec := []string{c.IP, c.Country, strconv.Itoa(c.Confidence), strings.Join(c.Evidence, "; ")}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Markdown renders the forensic report: candidates ranked by confidence,
// then the timeline newest first.
func Markdown(snap topology.Snapshot, generated time.Time) string {
	snap = snap.Clone()
	snap.Normalize()

	var b strings.Builder
	b.WriteString("# Forensic Report\n\n")
	if !generated.IsZero() {
		fmt.Fprintf(&b, "Generated %s.\n\n", generated.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "%d nodes, %d links, %d path hops.\n\n", len(snap.Nodes), len(snap.Links), len(snap.Path))

	b.WriteString("## Origin Candidates\n\n")
	if len(snap.Candidates) == 0 {
		b.WriteString("No candidates.\n\n")
	} else {
		b.WriteString("| IP Address | Country | Confidence | Band |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, c := range snap.Candidates {
			fmt.Fprintf(&b, "| %s | %s | %d%% | %s |\n", c.IP, c.Country, c.Confidence, BandOf(c.Confidence))
		}
		b.WriteString("\n")
		for _, c := range snap.Candidates {
			if len(c.Evidence) == 0 {
				continue
			}
			fmt.Fprintf(&b, "### %s [%s]\n\n", c.IP, c.Country)
			for _, e := range c.Evidence {
				fmt.Fprintf(&b, "- %s\n", e)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Timeline\n\n")
	if len(snap.Events) == 0 {
		b.WriteString("No events.\n")
	}
	for _, e := range snap.Events {
		fmt.Fprintf(&b, "- `%s` **%s** %s\n", e.Timestamp.UTC().Format(time.RFC3339), e.Kind, e.Description)
	}
	return b.String()
}

// WriteHTML renders the Markdown report as a standalone HTML page.
func WriteHTML(w io.Writer, snap topology.Snapshot, generated time.Time) error {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(snap, generated)), &body); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	_, err := fmt.Fprintf(w, htmlPage, body.String())
	return err
}

const htmlPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Forensic Report</title>
<style>
body { background: #0d1117; color: #c9d1d9; font-family: monospace; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #30363d; padding: 4px 8px; }
h1, h2, h3 { color: #39d353; }
</style>
</head>
<body>
%s</body>
</html>
`
