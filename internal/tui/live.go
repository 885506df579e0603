// Package tui implements the small live viewers backing `swarm peek --live`
// and `swarm ralph logs --live`: a scrollable viewport redrawn on an
// interval from a polling function.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// PollFunc returns the latest content to display, or an error string to
// show inline instead of tearing down the viewer.
type PollFunc func() (string, error)

type tickMsg time.Time

type model struct {
	vp       viewport.Model
	poll     PollFunc
	interval time.Duration
	title    string
	lastErr  error
	ready    bool
}

func (m model) Init() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		headerHeight := 1
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-headerHeight)
			m.vp.YPosition = headerHeight
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - headerHeight
		}
		return m, nil
	case tickMsg:
		content, err := m.poll()
		m.lastErr = err
		if err == nil {
			atBottom := m.vp.AtBottom()
			m.vp.SetContent(content)
			if atBottom {
				m.vp.GotoBottom()
			}
		}
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}
	header := m.title
	if m.lastErr != nil {
		header = fmt.Sprintf("%s (error: %v)", m.title, m.lastErr)
	}
	return header + "\n" + m.vp.View()
}

// Run drives the live viewer until the user quits (q/Esc/Ctrl-C). interval
// is how often poll is called to refresh the viewport's content.
func Run(title string, interval time.Duration, poll PollFunc) error {
	m := model{poll: poll, interval: interval, title: title}
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
