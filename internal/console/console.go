// Package console renders session output with per-state terminal colours.
package console

import (
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// State selects how subsequent output is coloured.
type State int

const (
	// StateDefault prints generated text uncoloured.
	StateDefault State = iota
	// StatePrompt prints echoed prompt and instruction text in yellow.
	StatePrompt
	// StateUserInput leaves the terminal in bold green while the operator types.
	StateUserInput
)

func (s State) String() string {
	switch s {
	case StatePrompt:
		return "prompt"
	case StateUserInput:
		return "user-input"
	default:
		return "default"
	}
}

var resetSeq = termenv.CSI + termenv.ResetSeq + "m"

// Console serializes writes from the generation loop and the interrupt
// watcher onto one writer.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	state  State
	prompt lipgloss.Style
	input  string
}

// New returns a console writing to w. With color false every state prints
// plain text.
func New(w io.Writer, color bool) *Console {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}

	green := termenv.ANSI.Color("2").Sequence(false)
	return &Console{
		w:      w,
		color:  color,
		prompt: r.NewStyle().Foreground(lipgloss.Color("3")).TabWidth(lipgloss.NoTabConversion),
		input:  termenv.CSI + termenv.BoldSeq + ";" + green + "m",
	}
}

// AutoColor reports whether w is a terminal and the environment does not
// ask for plain output.
func AutoColor(w io.Writer) bool {
	return IsTerminal(w) && !termenv.EnvNoColor()
}

// IsTerminal reports whether w is backed by a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// Color reports whether colour output is enabled.
func (c *Console) Color() bool { return c.color }

// State returns the current colour state.
func (c *Console) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState switches the colour state. The user-input state leaves the
// terminal coloured so the operator's typing is echoed in it.
func (c *Console) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == c.state {
		return
	}
	prev := c.state
	c.state = s
	if !c.color {
		return
	}
	if prev == StateUserInput {
		io.WriteString(c.w, resetSeq)
	}
	if s == StateUserInput {
		io.WriteString(c.w, c.input)
	}
}

// Print writes text in the current state's colour. Lines are styled one
// at a time so newlines pass through untouched.
func (c *Console) Print(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.color || c.state != StatePrompt {
		io.WriteString(c.w, text)
		return
	}

	lines := strings.Split(text, "\n")
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if line != "" {
			sb.WriteString(c.prompt.Render(line))
		}
	}
	io.WriteString(c.w, sb.String())
}

// Flush pushes buffered output to the terminal if the writer buffers.
func (c *Console) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.w.(interface{ Flush() error }); ok {
		f.Flush()
	}
}

// Close restores the default terminal colour.
func (c *Console) Close() {
	c.SetState(StateDefault)
	c.Flush()
}
