package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/canfuzz/engine"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(16)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	findingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const refreshInterval = 250 * time.Millisecond

type tickMsg time.Time

type statsSource interface {
	Stats() engine.Stats
}

type monitorModel struct {
	source   statsSource
	stop     func()
	target   string
	coverage string
	dir      string
	stats    engine.Stats
	spinner  spinner.Model
	bar      progress.Model
	quitting bool
}

func newMonitorModel(src statsSource, stop func(), target, coverage, dir string) *monitorModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &monitorModel{
		source:   src,
		stop:     stop,
		target:   target,
		coverage: coverage,
		dir:      dir,
		spinner:  sp,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.stop()
			return m, tea.Quit
		}

	case tickMsg:
		m.stats = m.source.Stats()
		if m.stats.Done {
			return m, tea.Quit
		}
		return m, tick()

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-24, 10), 60)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *monitorModel) View() string {
	s := m.stats
	var b strings.Builder

	b.WriteString(titleStyle.Render("canfuzz"))
	b.WriteString(" ")
	b.WriteString(m.target)
	if !s.Done && !m.quitting {
		b.WriteString(" ")
		b.WriteString(m.spinner.View())
	}
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	row("coverage target", m.coverage)
	row("run", s.RunID)
	row("elapsed", s.Elapsed.Truncate(time.Second).String())
	row("execs", fmt.Sprintf("%d (%.0f/s)", s.Execs, s.ExecsPerSec()))
	row("corpus", fmt.Sprintf("%d", s.Corpus))
	if s.LastFind.IsZero() {
		row("last find", "none")
	} else {
		row("last find", time.Since(s.LastFind).Truncate(time.Second).String()+" ago")
	}
	if s.CoverageErrors > 0 {
		row("coverage errors", fmt.Sprintf("%d", s.CoverageErrors))
	}

	b.WriteString(labelStyle.Render("edges"))
	ratio := 0.0
	if s.Edges > 0 {
		ratio = float64(s.Covered) / float64(s.Edges)
	}
	b.WriteString(m.bar.ViewAs(ratio))
	b.WriteString(valueStyle.Render(fmt.Sprintf(" %d/%d", s.Covered, s.Edges)))
	b.WriteString("\n\n")

	findings := fmt.Sprintf("crashes %d  timeouts %d", s.Crashes, s.Timeouts)
	if s.Crashes+s.Timeouts > 0 {
		b.WriteString(findingStyle.Render(findings))
	} else {
		b.WriteString(valueStyle.Render(findings))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.dir))
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("q quit"))
	b.WriteString("\n")
	return b.String()
}

// runMonitor blocks until the user quits, the engine finishes or ctx is
// done.
func runMonitor(ctx context.Context, m *monitorModel) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
