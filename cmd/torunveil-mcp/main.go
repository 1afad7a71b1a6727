// Command torunveil-mcp is an MCP server that exposes the network view as
// tools for LLM agents: reading the topology and candidate ranking,
// assessing nodes, exporting reports, settling layouts and analysing
// captures, over stdio transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/latebit/torunveil/internal/assess"
	"github.com/latebit/torunveil/internal/config"
	"github.com/latebit/torunveil/internal/keys"
	"github.com/latebit/torunveil/internal/layout"
	"github.com/latebit/torunveil/internal/logging"
	"github.com/latebit/torunveil/internal/report"
	"github.com/latebit/torunveil/internal/source"
	"github.com/latebit/torunveil/internal/topology"
)

func main() {
	configPath := flag.String("config", "", "config file (default $XDG_CONFIG_HOME/torunveil/config.toml)")
	topologyPath := flag.String("topology", "", "topology file; the built-in network when empty")
	analysisDelay := flag.Duration("analysis-delay", source.DefaultAnalysisDelay, "capture analysis time; negative skips the wait")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *topologyPath != "" {
		cfg.Source.Topology = *topologyPath
	}
	// stdout carries the protocol.
	logger := logging.New(cfg.Log.Format, cfg.Log.Level, os.Stderr)

	snap, err := source.Fixture{Path: cfg.Source.Topology, Latency: -1}.Fetch(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	h := &handler{
		snap:     snap,
		assessor: assess.FromConfig(cfg.Assess, keys.Lookup(assess.Provider, config.APIKeyEnv), logger),
		analyzer: source.Analyzer{Delay: *analysisDelay},
		layout:   cfg.Layout,
	}

	s := server.NewMCPServer("torunveil-mcp", "0.1.0")
	s.AddTool(topologySnapshotTool(), h.topologySnapshot)
	s.AddTool(inspectNodeTool(), h.inspectNode)
	s.AddTool(exportReportTool(), h.exportReport)
	s.AddTool(layoutPositionsTool(), h.layoutPositions)
	s.AddTool(analyzeCaptureTool(), h.analyzeCapture)

	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}

type assessor interface {
	Assess(ctx context.Context, n topology.Node) (assess.Result, error)
}

type handler struct {
	mu   sync.Mutex
	snap topology.Snapshot

	assessor assessor
	analyzer source.Analyzer
	layout   layout.Config
	now      func() time.Time
}

func (h *handler) snapshot() topology.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.Clone()
}

func (h *handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// Tool definitions.

func topologySnapshotTool() mcp.Tool {
	return mcp.NewTool("topology_snapshot",
		mcp.WithDescription(
			"Describe the relay network under investigation: nodes with their role "+
				"(guard, relay, exit, origin), country, uptime and bandwidth; the links; "+
				"the traced circuit; origin candidates ranked by confidence; and the event "+
				"timeline, newest first.",
		),
	)
}

func inspectNodeTool() mcp.Tool {
	return mcp.NewTool("inspect_node",
		mcp.WithDescription(
			"Generate a threat assessment for one node: risk level, the jurisdiction's "+
				"role in the circuit and a confidence estimate for de-anonymisation. "+
				"Returns markdown. Use topology_snapshot to find node ids.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("node id (its IP address), e.g. 55.66.77.88"),
		),
	)
}

func exportReportTool() mcp.Tool {
	return mcp.NewTool("export_report",
		mcp.WithDescription(
			"Export the forensic report. csv has one row per origin candidate "+
				"(IP Address, Country, Confidence, Evidence); md adds per-candidate "+
				"evidence and the event timeline.",
		),
		mcp.WithString("format",
			mcp.Description("csv (default) or md"),
			mcp.Enum("csv", "md"),
		),
	)
}

func layoutPositionsTool() mcp.Tool {
	return mcp.NewTool("layout_positions",
		mcp.WithDescription(
			"Run the force-directed layout until it settles and return each node's "+
				"position. Nodes that sit close together are tightly linked.",
		),
		mcp.WithNumber("max_ticks",
			mcp.Description("Maximum simulation ticks (default 1000, max 5000)"),
		),
	)
}

func analyzeCaptureTool() mcp.Tool {
	return mcp.NewTool("analyze_capture",
		mcp.WithDescription(
			"Analyze a traffic capture file on the server's filesystem. The identified "+
				"origin, its traced path, candidate entry and timeline are merged into "+
				"the topology returned by later topology_snapshot calls.",
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("capture file path, e.g. /tmp/traffic.pcap"),
		),
	)
}

// Tool handlers.
// Handler signatures are dictated by mcp-go's ToolHandlerFunc type.

func (h *handler) topologySnapshot(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) { //nolint:gocritic // signature required by mcp-go
	return mcp.NewToolResultText(formatSnapshot(h.snapshot())), nil
}

func (h *handler) inspectNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) { //nolint:gocritic // signature required by mcp-go
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	snap := h.snapshot()
	n, ok := snap.Node(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown node %q", id)), nil
	}
	if h.assessor == nil {
		return mcp.NewToolResultError("assessment unavailable: " + assess.ErrNoAPIKey.Error()), nil
	}

	res, err := h.assessor.Assess(ctx, n)
	switch {
	case errors.Is(err, assess.ErrNoAPIKey):
		return mcp.NewToolResultError(fmt.Sprintf("assessment unavailable: set %s", config.APIKeyEnv)), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("failed to analyze node: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "node: %s [%s] %s\nmodel: %s", n.ID, n.Country, n.Category, res.Model)
	if res.FromCache {
		b.WriteString(" (cached)")
	}
	fmt.Fprintf(&b, "\n\n%s", res.Text)
	return mcp.NewToolResultText(b.String()), nil
}

func (h *handler) exportReport(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) { //nolint:gocritic // signature required by mcp-go
	format := strings.ToLower(req.GetString("format", "csv"))
	if format != "csv" && format != "md" {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported format %q (want csv or md)", format)), nil
	}
	var b strings.Builder
	if err := report.Write(&b, h.snapshot(), format, h.clock()); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (h *handler) layoutPositions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) { //nolint:gocritic // signature required by mcp-go
	limit := max(1, min(req.GetInt("max_ticks", 1000), 5000))

	snap := h.snapshot()
	e := layout.New(h.layout)
	if err := e.Load(&snap); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("layout failed: %v", err)), nil
	}
	ticks := e.Settle(limit)
	return mcp.NewToolResultText(formatLayout(e, ticks)), nil
}

func (h *handler) analyzeCapture(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) { //nolint:gocritic // signature required by mcp-go
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required"), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open capture: %v", err)), nil
	}
	defer f.Close()

	finding, err := h.analyzer.Analyze(ctx, f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}

	h.mu.Lock()
	h.snap = h.snap.Apply(finding)
	h.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Origin identified: %s [%s] confidence %d%%\n",
		finding.Origin.ID, finding.Origin.Country, finding.Candidate.Confidence)
	b.WriteString("\nTraced path:\n")
	for _, l := range finding.Path {
		fmt.Fprintf(&b, "  %s -> %s\n", l.Source, l.Target)
	}
	if len(finding.Candidate.Evidence) > 0 {
		b.WriteString("\nEvidence:\n")
		for _, e := range finding.Candidate.Evidence {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// formatSnapshot renders a topology as a plain-text summary for LLM consumption.
func formatSnapshot(s topology.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Network: %d nodes, %d links, %d traced hops\n", len(s.Nodes), len(s.Links), len(s.Path))

	if len(s.Nodes) > 0 {
		b.WriteString("\nNodes:\n")
		for _, n := range s.Nodes {
			fmt.Fprintf(&b, "  [%-6s] %-16s %-3s uptime %gh  bandwidth %g KB/s\n", n.Category, n.ID, n.Country, n.Uptime, n.Bandwidth)
		}
	}
	if len(s.Links) > 0 {
		b.WriteString("\nLinks:\n")
		for _, l := range s.Links {
			fmt.Fprintf(&b, "  %s -> %s\n", l.Source, l.Target)
		}
	}
	if segs := s.PathSegments(); len(segs) > 0 {
		b.WriteString("\nTraced path:\n")
		for _, l := range segs {
			fmt.Fprintf(&b, "  %s -> %s\n", l.Source, l.Target)
		}
	}
	if len(s.Candidates) > 0 {
		b.WriteString("\nOrigin candidates:\n")
		for _, c := range s.Candidates {
			fmt.Fprintf(&b, "  %-16s %-3s %3d%%  %s\n", c.IP, c.Country, c.Confidence, report.BandOf(c.Confidence))
		}
	}
	if len(s.Events) > 0 {
		b.WriteString("\nTimeline:\n")
		for _, e := range s.Events {
			fmt.Fprintf(&b, "  %s  %-14s %s\n", e.Timestamp.Format(time.RFC3339), e.Kind, e.Description)
		}
	}
	return b.String()
}

func formatLayout(e *layout.Engine, ticks int) string {
	var b strings.Builder
	state := "settled"
	if !e.Idle() {
		state = "still moving"
	}
	fmt.Fprintf(&b, "Layout %s after %d ticks (alpha %.4f)\n\n", state, ticks, e.Alpha())
	for _, body := range e.Bodies() {
		fmt.Fprintf(&b, "  %-16s x=%8.1f y=%8.1f\n", body.ID, body.X, body.Y)
	}
	return b.String()
}
