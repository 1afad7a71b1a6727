package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/latebit/torunveil/internal/render"
	"github.com/latebit/torunveil/internal/report"
	"github.com/latebit/torunveil/internal/topology"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(render.ColorPath))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	modalStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(render.ColorPath)).
			Padding(0, 1)
	bandColors = map[report.Band]lipgloss.Color{
		report.High:   lipgloss.Color(render.ColorPath),
		report.Medium: lipgloss.Color("11"),
		report.Low:    lipgloss.Color("9"),
	}
)

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.modal.open {
		return m.modalView()
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteByte('\n')

	graph := m.graphView()
	divider := borderStyle.Render(strings.TrimSuffix(strings.Repeat("│\n", m.rows), "\n"))
	side := m.sideView()
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, graph, divider, side))
	b.WriteByte('\n')

	b.WriteString(m.statusBarView())
	return b.String()
}

func (m model) headerView() string {
	legend := []string{
		swatch(topology.Guard), swatch(topology.Relay), swatch(topology.Exit), swatch(topology.Origin),
	}
	title := titleStyle.Render("TOR UNVEIL")
	return lipgloss.NewStyle().Width(m.width).MaxHeight(1).Render(title + "  " + strings.Join(legend, " "))
}

func swatch(c topology.Category) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(render.Color(c))).Render("●") + " " + string(c)
}

func (m model) graphView() string {
	pane := lipgloss.NewStyle().Width(m.cols).Height(m.rows)
	if m.loading {
		return pane.Render(fmt.Sprintf(" %s Fetching topology...", m.spinner.View()))
	}
	f, ok := m.sess.Frame()
	if !ok {
		return pane.Render("")
	}
	canvas := render.NewCanvas(m.cols, m.rows)
	canvas.Paint(f)
	return canvas.String()
}

func (m model) sideView() string {
	snap := m.sess.Snapshot()
	width := sideWidth
	inner := width - 2

	var b strings.Builder
	b.WriteString(titleStyle.Render("Origin Candidates"))
	b.WriteByte('\n')
	if len(snap.Candidates) == 0 {
		b.WriteString(dimStyle.Render("none"))
		b.WriteByte('\n')
	}
	for i, c := range snap.Candidates {
		b.WriteString(candidateView(c, inner, i == 0))
	}

	b.WriteByte('\n')
	b.WriteString(titleStyle.Render("Event Timeline"))
	b.WriteByte('\n')
	for _, e := range snap.Events {
		line := e.Timestamp.Local().Format("15:04:05") + " " + e.Description
		b.WriteString(truncate(line, inner))
		b.WriteByte('\n')
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.rows).
		MaxHeight(m.rows).
		PaddingLeft(1).
		Render(b.String())
}

func candidateView(c topology.Candidate, width int, top bool) string {
	band := report.BandOf(c.Confidence)
	color := bandColors[band]

	head := fmt.Sprintf("%s [%s]", c.IP, c.Country)
	pct := fmt.Sprintf("%d%%", c.Confidence)
	gap := max(width-lipgloss.Width(head)-len(pct), 1)
	name := head
	if top {
		name = lipgloss.NewStyle().Bold(true).Render(head)
	}

	barWidth := width
	filled := c.Confidence * barWidth / 100
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", barWidth-filled))

	var b strings.Builder
	b.WriteString(name + strings.Repeat(" ", gap) + lipgloss.NewStyle().Foreground(color).Render(pct))
	b.WriteByte('\n')
	b.WriteString(bar)
	b.WriteByte('\n')
	for _, e := range c.Evidence {
		b.WriteString(dimStyle.Render(truncate("• "+e, width)))
		b.WriteByte('\n')
	}
	return b.String()
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

func (m model) statusBarView() string {
	style := lipgloss.NewStyle().Width(m.width).MaxHeight(1).Padding(0, 1)

	switch {
	case m.err != nil:
		return style.Foreground(lipgloss.Color("9")).Render("Error: " + m.err.Error())
	case m.analyzing:
		return style.Render(m.spinner.View() + " " + m.status)
	case m.status != "":
		return style.Render(m.status)
	}
	v := m.sess.Controller().Viewport()
	help := fmt.Sprintf("zoom %.0f%%  [click] inspect  [drag] pin/pan  [+/-] zoom  [f] fit  [tab] focus  [e] export  [a] analyze  [q] quit", v.Scale*100)
	return style.Faint(true).Render(help)
}

func (m model) modalView() string {
	n := m.modal.node
	w, _ := m.modalSize()

	var b strings.Builder
	b.WriteString(titleStyle.Render("Node Intelligence: " + n.ID))
	b.WriteByte('\n')
	b.WriteString(dimStyle.Render(fmt.Sprintf("Type: %s  Country: %s  Uptime: %gh  Bandwidth: %g KB/s",
		n.Category, n.Country, n.Uptime, n.Bandwidth)))
	b.WriteString("\n\n")
	if m.modal.loading {
		b.WriteString(m.spinner.View() + " Generating threat assessment...")
	} else {
		b.WriteString(m.modal.body.View())
	}
	b.WriteString("\n\n")
	footer := "[esc] close"
	if m.modal.fromCache {
		footer += "  (cached)"
	}
	b.WriteString(dimStyle.Render(footer))

	box := modalStyle.Width(w).Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
