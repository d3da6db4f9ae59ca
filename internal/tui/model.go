// Package tui is the interactive terminal player used by the playback CLI.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/dshills/playback-go/internal/algo"
	"github.com/dshills/playback-go/playback"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	sortedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// maxProgress bounds the inversion history kept for the chart.
const maxProgress = 120

// Player is the subset of *playback.Controller the model drives.
type Player interface {
	Start(src playback.Source[algo.Frame]) error
	Pause()
	Resume()
	Step() error
	Cancel()
	Reset()
	SetSpeed(d time.Duration) time.Duration
	Status() playback.Status
}

// Model is the Bubble Tea model of the player.
type Model struct {
	title  string
	player Player
	bridge *Bridge
	keys   keyMap
	help   help.Model

	frame    algo.Frame
	seq      int
	final    bool
	state    playback.RunState
	delay    time.Duration
	last     playback.LifecycleKind
	err      error
	progress []float64

	width  int
	height int
}

// New creates the model. bridge must be registered as a renderer on the
// controller behind player.
func New(title string, player Player, bridge *Bridge) Model {
	st := player.Status()
	return Model{
		title:  title,
		player: player,
		bridge: bridge,
		keys:   defaultKeyMap(),
		help:   help.New(),
		state:  st.State,
		delay:  st.Delay,
		width:  80,
		height: 24,
	}
}

// Init starts the first run and listens for controller callbacks.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.bridge.wait(), func() tea.Msg {
		if err := m.player.Start(nil); err != nil {
			return errMsg{err}
		}
		return nil
	})
}

type errMsg struct{ err error }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case batchMsg:
		for _, inner := range msg {
			m = m.apply(inner)
		}
		return m, m.bridge.wait()
	case errMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func (m Model) apply(msg tea.Msg) Model {
	switch msg := msg.(type) {
	case stepMsg:
		m.frame = msg.step.Payload
		m.seq = msg.step.Seq
		m.final = msg.step.Final
		m.state = msg.state
		m.progress = append(m.progress, float64(algo.Inversions(m.frame.Values)))
		if len(m.progress) > maxProgress {
			m.progress = m.progress[len(m.progress)-maxProgress:]
		}
	case lifecycleMsg:
		m.state = msg.State
		m.last = msg.Kind
		m.err = msg.Err
		switch msg.Kind {
		case playback.LifecycleStarted, playback.LifecycleReset:
			m.progress = nil
			m.frame = algo.Frame{}
			m.seq = 0
			m.final = false
		}
	}
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.player.Cancel()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Toggle):
		switch m.player.Status().State {
		case playback.Running, playback.Stepping:
			m.player.Pause()
		case playback.Paused:
			m.player.Resume()
		default:
			m.err = m.player.Start(nil)
		}
	case key.Matches(msg, m.keys.Step):
		m.err = m.player.Step()
	case key.Matches(msg, m.keys.Faster):
		m.delay = m.player.SetSpeed(m.delay / 2)
	case key.Matches(msg, m.keys.Slower):
		m.delay = m.player.SetSpeed(m.delay*2 + 10*time.Millisecond)
	case key.Matches(msg, m.keys.Restart):
		if m.player.Status().State.HoldsSource() {
			m.player.Cancel()
		}
		m.err = m.player.Start(nil)
	case key.Matches(msg, m.keys.Cancel):
		m.player.Cancel()
	case key.Matches(msg, m.keys.Reset):
		m.player.Reset()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  step %d  delay %s", m.state, m.seq, m.delay)))
	if m.last != "" {
		b.WriteString(dimStyle.Render("  last: " + string(m.last)))
	}
	b.WriteString("\n\n")

	b.WriteString(m.bars())
	if m.frame.Note != "" {
		b.WriteString(dimStyle.Render("  " + m.frame.Note))
		b.WriteString("\n")
	}

	if len(m.progress) > 1 {
		width := m.width - 10
		if width < 10 {
			width = 10
		}
		b.WriteString("\n")
		b.WriteString(asciigraph.Plot(m.progress,
			asciigraph.Height(6),
			asciigraph.Width(width),
			asciigraph.Caption("inversions left")))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// bars draws one horizontal bar per value.
func (m Model) bars() string {
	if len(m.frame.Values) == 0 {
		return dimStyle.Render("  waiting for the first step") + "\n"
	}

	active := make(map[int]bool, len(m.frame.Active))
	for _, i := range m.frame.Active {
		active[i] = true
	}
	sorted := make(map[int]bool, len(m.frame.Sorted))
	for _, i := range m.frame.Sorted {
		sorted[i] = true
	}

	var b strings.Builder
	for i, v := range m.frame.Values {
		style := barStyle
		switch {
		case active[i]:
			style = activeStyle
		case sorted[i] || m.final:
			style = sortedStyle
		}
		fmt.Fprintf(&b, "%3d ", v)
		b.WriteString(style.Render(strings.Repeat("█", v/2+1)))
		b.WriteString("\n")
	}
	return b.String()
}
