// Package tui is the terminal front end: it lists the score's steps, follows
// the playback cursor and maps keys to transport controls.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bep/debounce"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/stepcue"
)

const (
	refreshInterval = 250 * time.Millisecond
	tempoDebounce   = 200 * time.Millisecond
	tempoStep       = 5
	minTempo        = stepcue.MinTempo
	maxTempo        = stepcue.MaxTempo
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	stateStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	outsideStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

// Controller is the playback surface driven by the UI.
type Controller interface {
	Toggle(ctx context.Context) error
	Stop() error
	JumpToStep(n int) error
	SetTempo(bpm float64) error
	SetLooping(looping bool) error
	Status() stepcue.Status
	Steps() []stepcue.StepInfo
}

type refreshMsg struct{}

type Model struct {
	ctrl    Controller
	cursor  *Cursor
	keys    keyMap
	help    help.Model
	steps   []stepcue.StepInfo
	status  stepcue.Status
	step    int
	visible bool
	// tempo leads status.Tempo while a change is debounced.
	tempo    float64
	debounce func(f func())
	err      error
	height   int
}

type Option func(*Model)

// WithTempoDebounce sets how long tempo keys are collected before the new
// tempo is applied.
func WithTempoDebounce(d time.Duration) Option {
	return func(m *Model) { m.debounce = debounce.New(d) }
}

func New(ctrl Controller, cursor *Cursor, opts ...Option) *Model {
	m := &Model{
		ctrl:     ctrl,
		cursor:   cursor,
		keys:     defaultKeyMap(),
		help:     help.New(),
		steps:    ctrl.Steps(),
		status:   ctrl.Status(),
		debounce: debounce.New(tempoDebounce),
		height:   24,
	}
	m.tempo = m.status.Tempo
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.cursor.Listen(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case cursorMsg:
		m.step = msg.Step
		m.visible = msg.Visible
		return m, m.cursor.Listen()
	case refreshMsg:
		m.refresh()
		return m, tick()
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	m.err = nil
	switch {
	case key.Matches(msg, m.keys.Quit):
		_ = m.ctrl.Stop()
		m.cursor.Close()
		return tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Toggle):
		m.err = m.ctrl.Toggle(context.Background())
	case key.Matches(msg, m.keys.Stop):
		m.err = m.ctrl.Stop()
	case key.Matches(msg, m.keys.Prev):
		m.err = m.ctrl.JumpToStep(max(m.step-1, 0))
	case key.Matches(msg, m.keys.Next):
		m.err = m.ctrl.JumpToStep(m.step + 1)
	case key.Matches(msg, m.keys.Loop):
		m.err = m.ctrl.SetLooping(!m.status.Looping)
	case key.Matches(msg, m.keys.Faster):
		m.changeTempo(tempoStep)
	case key.Matches(msg, m.keys.Slower):
		m.changeTempo(-tempoStep)
	}
	m.refresh()
	return nil
}

func (m *Model) changeTempo(delta float64) {
	m.tempo = min(max(m.tempo+delta, minTempo), maxTempo)
	bpm, ctrl := m.tempo, m.ctrl
	m.debounce(func() { _ = ctrl.SetTempo(bpm) })
}

func (m *Model) refresh() {
	prev := m.status.Tempo
	m.status = m.ctrl.Status()
	if m.status.Tempo != prev {
		m.tempo = m.status.Tempo
	}
}

func (m *Model) View() string {
	var b strings.Builder
	title := m.status.Title
	if title == "" {
		title = "stepcue"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("  ")
	b.WriteString(stateStyle.Render(m.status.State))
	loop := "off"
	if m.status.Looping {
		loop = "on"
	}
	fmt.Fprintf(&b, "  step %d/%d  %.0f bpm  loop %s\n", m.step+1, len(m.steps), m.tempo, loop)

	var lines []string
	first, last := m.window()
	for i := first; i < last; i++ {
		st := m.steps[i]
		line := fmt.Sprintf("%4d  %-8s %s", st.Index+1, st.Position, st.Notes)
		switch {
		case i == m.step && m.visible:
			lines = append(lines, currentStyle.Render("▶ "+line))
		case i < m.status.RangeStart || i >= m.status.RangeEnd:
			lines = append(lines, outsideStyle.Render("  "+line))
		default:
			lines = append(lines, stepStyle.Render("  "+line))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, outsideStyle.Render("no steps"))
	}
	b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// window returns the range of steps shown, keeping the cursor in view.
func (m *Model) window() (first, last int) {
	rows := max(m.height-6, 3)
	if len(m.steps) <= rows {
		return 0, len(m.steps)
	}
	first = min(max(m.step-rows/2, 0), len(m.steps)-rows)
	return first, first + rows
}
