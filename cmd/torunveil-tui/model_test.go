package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/latebit/torunveil/internal/assess"
	"github.com/latebit/torunveil/internal/interact"
	"github.com/latebit/torunveil/internal/layout"
	"github.com/latebit/torunveil/internal/source"
	"github.com/latebit/torunveil/internal/topology"
	"github.com/latebit/torunveil/internal/view"
)

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEscape}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func defaultSnapshot(t *testing.T) topology.Snapshot {
	t.Helper()
	snap, err := source.Default()
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

// newLoadedModel returns a model sized to 120x40 with the default network
// loaded and ticking.
func newLoadedModel(t *testing.T) model {
	t.Helper()
	lc := layout.DefaultConfig()
	lc.AlphaDecay = 0.2
	ic := interact.DefaultConfig()
	ic.InitialScale = 0.5
	m := newModel(deps{
		supplier:   source.Fixture{Latency: -1},
		analyzer:   source.Analyzer{Delay: -1},
		exportPath: filepath.Join(t.TempDir(), "report.csv"),
	}, view.Options{Layout: lc, Interact: ic, Render: tuiRender})

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, cmd := update(t, m, snapshotMsg{snap: defaultSnapshot(t)})
	if cmd == nil || !m.ticking {
		t.Fatal("loading a snapshot should start the tick chain")
	}
	return m
}

func settle(t *testing.T, m model) model {
	t.Helper()
	for i := 0; m.ticking && i < 1000; i++ {
		m, _ = update(t, m, tickMsg{gen: m.gen})
	}
	if m.ticking {
		t.Fatal("simulation did not come to rest")
	}
	return m
}

func TestStaleTickIgnored(t *testing.T) {
	m := newLoadedModel(t)
	alpha := m.sess.Engine().Alpha()

	m, cmd := update(t, m, tickMsg{gen: m.gen - 1})
	if cmd != nil || m.sess.Engine().Alpha() != alpha {
		t.Error("stale tick advanced the simulation")
	}

	m, cmd = update(t, m, tickMsg{gen: m.gen})
	if cmd == nil {
		t.Error("current tick should schedule the next one")
	}
	if m.sess.Engine().Alpha() >= alpha {
		t.Error("current tick did not advance the simulation")
	}
}

func TestTicksStopAtRestAndFit(t *testing.T) {
	m := settle(t, newLoadedModel(t))
	if m.sess.Active() {
		t.Error("session still active after the chain stopped")
	}
	if !m.fitted {
		t.Error("view was not fitted once the layout settled")
	}
	f, ok := m.sess.Frame()
	if !ok {
		t.Fatal("no frame")
	}
	for _, d := range f.Nodes {
		if d.Center.X < 0 || d.Center.Y < 0 || d.Center.X > f.Width || d.Center.Y > f.Height {
			t.Errorf("node %s outside the pane after fit: %+v", d.Node.ID, d.Center)
		}
	}
}

func TestReplaceRestartsTickChain(t *testing.T) {
	m := settle(t, newLoadedModel(t))
	old := m.gen

	snap := defaultSnapshot(t)
	snap.Nodes = append(snap.Nodes, topology.Node{ID: "203.0.113.9", Category: topology.Relay, Country: "IS"})
	m, _ = update(t, m, watchMsg{snap: snap})
	if m.gen != old+1 || !m.ticking {
		t.Fatalf("gen=%d ticking=%v after reload", m.gen, m.ticking)
	}
	if _, ok := m.sess.Engine().Position("203.0.113.9"); !ok {
		t.Error("reloaded node has no position")
	}

	alpha := m.sess.Engine().Alpha()
	m, _ = update(t, m, tickMsg{gen: old})
	if m.sess.Engine().Alpha() != alpha {
		t.Error("tick from the previous chain was applied")
	}
}

func TestReloadErrorKeepsTopology(t *testing.T) {
	m := newLoadedModel(t)
	bad := topology.Snapshot{Links: []topology.Link{{Source: "x", Target: "y"}}}

	m, _ = update(t, m, watchMsg{err: errors.New("parse failure")})
	if !strings.Contains(m.status, "parse failure") {
		t.Errorf("status = %q", m.status)
	}
	m, _ = update(t, m, snapshotMsg{snap: bad})
	if m.err == nil {
		t.Error("malformed snapshot accepted")
	}
	if n := len(m.sess.Snapshot().Nodes); n != 10 {
		t.Errorf("nodes = %d, want previous 10", n)
	}
}

func TestClickOpensModal(t *testing.T) {
	m := settle(t, newLoadedModel(t))
	f, _ := m.sess.Frame()
	top := f.Nodes[len(f.Nodes)-1]
	x, y := int(top.Center.X)/2, int(top.Center.Y)/4+headerLines

	p, ok := m.toDots(x, y)
	if !ok {
		t.Fatalf("cell (%d,%d) outside the pane", x, y)
	}
	want, hit := m.sess.Bridge().NodeAt(f, p)
	if !hit {
		t.Fatalf("no node under cell (%d,%d)", x, y)
	}

	m, _ = update(t, m, tea.MouseMsg{X: x, Y: y, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	m, cmd := update(t, m, tea.MouseMsg{X: x, Y: y, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})
	if cmd == nil {
		t.Fatal("click should start an assessment")
	}
	if !m.modal.open || !m.modal.loading || m.modal.node.ID != want.ID {
		t.Fatalf("modal = %+v, want loading for %s", m.modal, want.ID)
	}

	seq := m.inspectSeq
	m, _ = update(t, m, assessMsg{seq: seq - 1, res: assess.Result{Text: "stale"}})
	if !m.modal.loading {
		t.Error("stale assessment was applied")
	}
	m, _ = update(t, m, assessMsg{seq: seq, res: assess.Result{Text: "Exit relay in a **high-risk** region."}})
	if m.modal.loading || m.modal.text == "" {
		t.Errorf("modal = %+v", m.modal)
	}
	if v := m.View(); !strings.Contains(v, "Node Intelligence: "+want.ID) {
		t.Errorf("modal view missing title:\n%s", v)
	}
}

func TestDragIsNotClick(t *testing.T) {
	m := settle(t, newLoadedModel(t))
	f, _ := m.sess.Frame()
	top := f.Nodes[len(f.Nodes)-1]
	x, y := int(top.Center.X)/2, int(top.Center.Y)/4+headerLines

	m, _ = update(t, m, tea.MouseMsg{X: x, Y: y, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	m, _ = update(t, m, tea.MouseMsg{X: x + 6, Y: y + 2, Action: tea.MouseActionMotion, Button: tea.MouseButtonLeft})
	m, _ = update(t, m, tea.MouseMsg{X: x + 6, Y: y + 2, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})
	if m.modal.open {
		t.Error("drag opened the inspection modal")
	}
	if !m.touched {
		t.Error("drag should mark the view as touched")
	}
}

func TestAssessmentErrorShown(t *testing.T) {
	m := newLoadedModel(t)
	m, _ = update(t, m, key("tab"))
	m, _ = update(t, m, key("enter"))
	if !m.modal.open {
		t.Fatal("enter on a focused node should open the modal")
	}
	m, _ = update(t, m, assessMsg{seq: m.inspectSeq, err: assess.ErrInvalidAPIKey})
	if !errors.Is(m.modal.err, assess.ErrInvalidAPIKey) {
		t.Errorf("modal err = %v", m.modal.err)
	}
	if v := m.modal.body.View(); !strings.Contains(v, "Failed to analyze node") {
		t.Errorf("modal body:\n%s", v)
	}

	m, _ = update(t, m, key("esc"))
	if m.modal.open {
		t.Error("esc did not close the modal")
	}
}

func TestClosedModalIgnoresResult(t *testing.T) {
	m := newLoadedModel(t)
	m, _ = update(t, m, key("tab"))
	m, _ = update(t, m, key("enter"))
	seq := m.inspectSeq
	m, _ = update(t, m, key("esc"))
	m, _ = update(t, m, assessMsg{seq: seq, res: assess.Result{Text: "late"}})
	if m.modal.open || m.modal.text != "" {
		t.Errorf("late assessment reopened the modal: %+v", m.modal)
	}
}

func TestFocusCycles(t *testing.T) {
	m := newLoadedModel(t)
	snap := m.sess.Snapshot()
	ids := snap.NodeIDs()

	m, _ = update(t, m, key("tab"))
	if m.sess.Bridge().Focused() != ids[0] {
		t.Errorf("focused %q, want %q", m.sess.Bridge().Focused(), ids[0])
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.sess.Bridge().Focused() != ids[len(ids)-1] {
		t.Errorf("shift+tab focused %q, want %q", m.sess.Bridge().Focused(), ids[len(ids)-1])
	}
}

func TestZoomKeys(t *testing.T) {
	m := newLoadedModel(t)
	before := m.sess.Controller().Viewport().Scale
	m, _ = update(t, m, key("+"))
	if got := m.sess.Controller().Viewport().Scale; got <= before {
		t.Errorf("scale %v after zoom in, was %v", got, before)
	}
	m, _ = update(t, m, key("r"))
	if got := m.sess.Controller().Viewport().Scale; got != 0.5 {
		t.Errorf("scale after reset = %v, want 0.5", got)
	}
}

func TestExport(t *testing.T) {
	m := newLoadedModel(t)
	_, cmd := update(t, m, key("e"))
	if cmd == nil {
		t.Fatal("export returned no command")
	}
	msg, ok := cmd().(exportMsg)
	if !ok || msg.err != nil {
		t.Fatalf("export = %+v", msg)
	}
	data, err := os.ReadFile(m.exportPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "IP Address,Country,Confidence,Evidence\n") {
		t.Errorf("export content: %q", data)
	}
	m, _ = update(t, m, msg)
	if !strings.Contains(m.status, "Report saved") {
		t.Errorf("status = %q", m.status)
	}
}

func TestAnalyze(t *testing.T) {
	m := newLoadedModel(t)
	m, cmd := update(t, m, key("a"))
	if cmd != nil || !strings.Contains(m.status, "No capture file") {
		t.Errorf("analyze without capture: cmd=%v status=%q", cmd != nil, m.status)
	}

	m.capture = filepath.Join(t.TempDir(), "traffic.pcap")
	if err := os.WriteFile(m.capture, []byte("captured"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, cmd = update(t, m, key("a"))
	if !m.analyzing || cmd == nil {
		t.Fatal("analysis did not start")
	}

	var result analysisMsg
	found := false
	for _, c := range cmd().(tea.BatchMsg) {
		if r, ok := c().(analysisMsg); ok {
			result, found = r, true
		}
	}
	if !found || result.err != nil {
		t.Fatalf("analysis result = %+v", result)
	}

	m, _ = update(t, m, result)
	snap := m.sess.Snapshot()
	if _, ok := snap.Node(result.finding.Origin.ID); !ok {
		t.Error("origin not added to the view")
	}
	if !strings.Contains(m.status, "Origin identified") {
		t.Errorf("status = %q", m.status)
	}
}

func TestQuitEndsTickChain(t *testing.T) {
	m := newLoadedModel(t)
	gen := m.gen
	m, cmd := update(t, m, key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
	if m.gen == gen || m.ticking {
		t.Error("quit left the tick chain running")
	}
}

func TestToDots(t *testing.T) {
	m := newLoadedModel(t)
	if _, ok := m.toDots(m.cols, 5); ok {
		t.Error("side panel column mapped into the graph pane")
	}
	if _, ok := m.toDots(3, 0); ok {
		t.Error("header row mapped into the graph pane")
	}
	p, ok := m.toDots(3, 1)
	if !ok || p != (layout.Point{X: 7, Y: 2}) {
		t.Errorf("toDots(3, 1) = %+v, %v", p, ok)
	}
}

func TestViewRenders(t *testing.T) {
	m := newLoadedModel(t)
	v := m.View()
	for _, want := range []string{"TOR UNVEIL", "Origin Candidates", "Event Timeline", "192.168.1.10"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
