package console

import (
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type loadDoneMsg struct{}

type spinModel struct {
	spinner spinner.Model
	label   string
	done    bool
}

func newSpinModel(label string) spinModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))
	return spinModel{spinner: s, label: label}
}

func (m spinModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.label + "\n"
}

// Spin runs fn while showing a spinner on w. When w is not a terminal fn
// runs without any animation. The returned error is fn's.
func Spin(w io.Writer, label string, fn func() error) error {
	if !IsTerminal(w) {
		return fn()
	}

	p := tea.NewProgram(newSpinModel(label),
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	errc := make(chan error, 1)
	go func() {
		errc <- fn()
		p.Send(loadDoneMsg{})
	}()

	// A failing UI only loses the animation.
	_, _ = p.Run()
	return <-errc
}
