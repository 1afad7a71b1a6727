package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/latebit/torunveil/internal/assess"
	"github.com/latebit/torunveil/internal/interact"
	"github.com/latebit/torunveil/internal/layout"
	"github.com/latebit/torunveil/internal/report"
	"github.com/latebit/torunveil/internal/source"
	"github.com/latebit/torunveil/internal/topology"
	"github.com/latebit/torunveil/internal/view"
)

const (
	sideWidth   = 38
	headerLines = 1
	footerLines = 1
	fitPadding  = 6
	mousePtr    = interact.PointerID(0)
)

// assessor produces node assessments for the modal.
type assessor interface {
	Assess(ctx context.Context, n topology.Node) (assess.Result, error)
}

// deps are the collaborators the dashboard talks to.
type deps struct {
	supplier   source.Supplier
	analyzer   source.Analyzer
	assessor   assessor // nil when no key is configured
	capture    string   // capture file analyzed by "a"
	exportPath string
	interval   time.Duration
	watch      <-chan watchMsg
}

type snapshotMsg struct {
	snap topology.Snapshot
	err  error
}

type watchMsg struct {
	snap topology.Snapshot
	err  error
}

// tickMsg advances the simulation. gen identifies the tick chain; ticks
// from a superseded chain are dropped.
type tickMsg struct {
	gen uint64
}

type assessMsg struct {
	seq uint64
	res assess.Result
	err error
}

type analysisMsg struct {
	finding topology.Finding
	err     error
}

type exportMsg struct {
	path string
	err  error
}

// inbox receives nodes dispatched by the view's inspection callback. It is
// shared by every copy of the model.
type inbox struct {
	node *topology.Node
}

type modal struct {
	open      bool
	node      topology.Node
	loading   bool
	err       error
	text      string
	fromCache bool
	body      viewport.Model
}

type model struct {
	deps
	sess  *view.Session
	inbox *inbox

	width, height int
	cols, rows    int // graph pane in cells
	ready         bool

	gen     uint64
	ticking bool
	fitted  bool
	touched bool
	pressed bool

	loading    bool
	analyzing  bool
	inspectSeq uint64
	modal      modal
	spinner    spinner.Model
	status     string
	err        error
	focusIdx   int
}

func newModel(d deps, opts view.Options) model {
	if d.interval <= 0 {
		d.interval = 33 * time.Millisecond
	}
	if d.exportPath == "" {
		d.exportPath = report.DefaultFileName
	}
	in := &inbox{}
	opts.Inspect = func(n topology.Node) { in.node = &n }

	s := spinner.New()
	s.Spinner = spinner.Dot

	return model{
		deps:     d,
		sess:     view.NewSession(opts),
		inbox:    in,
		loading:  true,
		spinner:  s,
		focusIdx: -1,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.fetch()}
	if m.watch != nil {
		cmds = append(cmds, waitForWatch(m.watch))
	}
	return tea.Batch(cmds...)
}

func (m model) fetch() tea.Cmd {
	supplier := m.supplier
	return func() tea.Msg {
		snap, err := supplier.Fetch(context.Background())
		return snapshotMsg{snap: snap, err: err}
	}
}

func waitForWatch(ch <-chan watchMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m model) tick() tea.Cmd {
	gen := m.gen
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{gen: gen} })
}

// ensureTicking starts a tick chain if the simulation needs one.
func (m *model) ensureTicking() tea.Cmd {
	if m.ticking || !m.sess.Active() {
		return nil
	}
	m.ticking = true
	return m.tick()
}

// load swaps in snap and restarts the tick chain.
func (m *model) load(snap topology.Snapshot) tea.Cmd {
	if err := m.sess.Load(snap); err != nil {
		m.err = err
		return nil
	}
	m.err = nil
	m.gen++
	m.ticking = false
	m.focusIdx = -1
	return m.ensureTicking()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.cols = max(m.width-sideWidth-1, 1)
		m.rows = max(m.height-headerLines-footerLines, 1)
		m.sess.Resize(float64(m.cols*2), float64(m.rows*4))
		m.ready = true
		if m.modal.open {
			m.sizeModal()
			m.renderModal()
		}
		return m, nil

	case snapshotMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		cmd := m.load(msg.snap)
		return m, cmd

	case watchMsg:
		next := waitForWatch(m.watch)
		if msg.err != nil {
			m.status = "Reload rejected: " + msg.err.Error()
			return m, next
		}
		m.status = "Topology reloaded"
		cmd := m.load(msg.snap)
		return m, tea.Batch(next, cmd)

	case tickMsg:
		if msg.gen != m.gen || !m.ticking {
			return m, nil
		}
		m.sess.Step()
		m.sess.Animate(m.interval)
		if m.sess.Active() {
			return m, m.tick()
		}
		m.ticking = false
		if !m.fitted && !m.touched {
			m.sess.Fit(fitPadding)
			m.fitted = true
		}
		return m, nil

	case assessMsg:
		if msg.seq != m.inspectSeq || !m.modal.open {
			return m, nil
		}
		m.modal.loading = false
		m.modal.err = msg.err
		m.modal.text = msg.res.Text
		m.modal.fromCache = msg.res.FromCache
		m.renderModal()
		return m, nil

	case analysisMsg:
		m.analyzing = false
		if msg.err != nil {
			m.status = "Analysis failed: " + msg.err.Error()
			return m, nil
		}
		snap := m.sess.Snapshot()
		m.status = fmt.Sprintf("Origin identified: %s (%d%%)", msg.finding.Origin.ID, msg.finding.Candidate.Confidence)
		cmd := m.load(snap.Apply(msg.finding))
		return m, cmd

	case exportMsg:
		if msg.err != nil {
			m.status = "Export failed: " + msg.err.Error()
		} else {
			m.status = "Report saved to " + msg.path
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) busy() bool {
	return m.loading || m.analyzing || (m.modal.open && m.modal.loading)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m.quit()
	}

	if m.modal.open {
		switch msg.String() {
		case "esc", "q", "enter":
			m.modal = modal{}
			m.inspectSeq++
			return m, nil
		}
		var cmd tea.Cmd
		m.modal.body, cmd = m.modal.body.Update(msg)
		return m, cmd
	}

	pan := float64(8)
	switch msg.String() {
	case "q":
		return m.quit()
	case "+", "=":
		m.sess.Zoom(1.25)
		m.touched = true
	case "-", "_":
		m.sess.Zoom(0.8)
		m.touched = true
	case "left", "h":
		m.sess.Pan(pan, 0)
		m.touched = true
	case "right", "l":
		m.sess.Pan(-pan, 0)
		m.touched = true
	case "up", "k":
		m.sess.Pan(0, pan)
		m.touched = true
	case "down", "j":
		m.sess.Pan(0, -pan)
		m.touched = true
	case "f":
		m.sess.Fit(fitPadding)
	case "r", "0":
		m.sess.Reset()
	case "tab", "shift+tab":
		m.cycleFocus(msg.String() == "tab")
	case "enter", " ":
		if m.focusIdx >= 0 {
			snap := m.sess.Snapshot()
			ids := snap.NodeIDs()
			if m.focusIdx < len(ids) {
				_ = m.sess.Inspect(ids[m.focusIdx])
			}
		}
		cmd := m.takeInspect()
		return m, cmd
	case "e":
		return m, m.export()
	case "a":
		cmd := m.analyze()
		return m, cmd
	}
	return m, nil
}

func (m *model) cycleFocus(forward bool) {
	snap := m.sess.Snapshot()
	ids := snap.NodeIDs()
	if len(ids) == 0 {
		return
	}
	if forward {
		m.focusIdx = (m.focusIdx + 1) % len(ids)
	} else {
		m.focusIdx = (m.focusIdx - 1 + len(ids)) % len(ids)
	}
	_ = m.sess.Focus(ids[m.focusIdx])
	m.touched = true
}

func (m model) quit() (tea.Model, tea.Cmd) {
	m.gen++
	m.ticking = false
	return m, tea.Quit
}

// toDots maps a terminal cell in the graph pane to the centre of its dot
// block. ok is false outside the pane.
func (m model) toDots(x, y int) (layout.Point, bool) {
	row := y - headerLines
	if x < 0 || x >= m.cols || row < 0 || row >= m.rows {
		return layout.Point{}, false
	}
	return layout.Point{X: float64(x*2 + 1), Y: float64(row*4 + 2)}, true
}

func (m model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if m.modal.open {
		var cmd tea.Cmd
		m.modal.body, cmd = m.modal.body.Update(msg)
		return m, cmd
	}
	p, inPane := m.toDots(msg.X, msg.Y)

	switch {
	case msg.Button == tea.MouseButtonWheelUp && inPane:
		m.sess.Wheel(1.25, p)
		m.touched = true
	case msg.Button == tea.MouseButtonWheelDown && inPane:
		m.sess.Wheel(0.8, p)
		m.touched = true
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft && inPane:
		if err := m.sess.PointerDown(mousePtr, p); err == nil {
			m.pressed = true
		}
	case msg.Action == tea.MouseActionMotion:
		if !inPane {
			return m, nil
		}
		m.sess.PointerMove(mousePtr, p)
		if m.pressed {
			m.touched = true
		}
	case msg.Action == tea.MouseActionRelease:
		if !m.pressed {
			return m, nil
		}
		m.pressed = false
		if !inPane {
			m.sess.PointerCancel(mousePtr)
			break
		}
		m.sess.PointerUp(mousePtr, p)
		inspect := m.takeInspect()
		tick := m.ensureTicking()
		return m, tea.Batch(inspect, tick)
	}
	cmd := m.ensureTicking()
	return m, cmd
}

// takeInspect opens the modal for a node dispatched by the view, if any,
// and starts its assessment.
func (m *model) takeInspect() tea.Cmd {
	if m.inbox.node == nil {
		return nil
	}
	n := *m.inbox.node
	m.inbox.node = nil

	m.inspectSeq++
	m.modal = modal{open: true, node: n, loading: true}
	m.sizeModal()
	m.renderModal()

	seq := m.inspectSeq
	a := m.assessor
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		if a == nil {
			return assessMsg{seq: seq, err: assess.ErrNoAPIKey}
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		res, err := a.Assess(ctx, n)
		return assessMsg{seq: seq, res: res, err: err}
	})
}

func (m model) export() tea.Cmd {
	snap := m.sess.Snapshot()
	path := m.exportPath
	return func() tea.Msg {
		f, err := os.Create(path)
		if err != nil {
			return exportMsg{path: path, err: err}
		}
		if err := report.WriteCSV(f, snap.Candidates); err != nil {
			f.Close()
			return exportMsg{path: path, err: err}
		}
		return exportMsg{path: path, err: f.Close()}
	}
}

func (m *model) analyze() tea.Cmd {
	if m.analyzing {
		return nil
	}
	if m.capture == "" {
		m.status = "No capture file (start with --capture FILE)"
		return nil
	}
	m.analyzing = true
	m.status = "Analyzing " + m.capture
	analyzer, path := m.analyzer, m.capture
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return analysisMsg{err: err}
		}
		defer f.Close()
		finding, err := analyzer.Analyze(context.Background(), f)
		return analysisMsg{finding: finding, err: err}
	})
}

func (m *model) sizeModal() {
	w, h := m.modalSize()
	m.modal.body = viewport.New(w-4, max(h-6, 1))
}

func (m model) modalSize() (int, int) {
	return max(min(m.width-8, 80), 20), max(min(m.height-4, 24), 8)
}

func (m *model) renderModal() {
	if !m.modal.open || m.modal.loading {
		return
	}
	if m.modal.err != nil {
		m.modal.body.SetContent(errorStyle.Render("Failed to analyze node: " + m.modal.err.Error()))
		return
	}
	rendered, err := renderMarkdown(m.modal.text, m.modal.body.Width)
	if err != nil {
		m.modal.body.SetContent(m.modal.text)
		return
	}
	m.modal.body.SetContent(rendered)
	m.modal.body.GotoTop()
}

func renderMarkdown(body string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		return "", err
	}
	return r.Render(body)
}
