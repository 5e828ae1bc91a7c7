package session

import (
	"context"
	"os"
	"sync/atomic"
)

// TurnState is who holds control of the conversation.
type TurnState int32

const (
	// Generating means the model is producing tokens.
	Generating TurnState = iota
	// AwaitingInput means the loop reads the operator's next turn once the
	// queue drains.
	AwaitingInput
	// Interrupted means the operator interjected while the model was
	// generating. The loop converts it to AwaitingInput at its next check.
	Interrupted
)

func (s TurnState) String() string {
	switch s {
	case Generating:
		return "generating"
	case AwaitingInput:
		return "awaiting-input"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// ExitInterrupted is the process exit code for an interrupt with nothing
// left to interrupt.
const ExitInterrupted = 130

// Interrupter holds the turn state shared between the generation loop and
// the signal watcher.
type Interrupter struct {
	state atomic.Int32
	exit  func(int)

	// OnInterrupt runs on the raising goroutine after a successful
	// Generating to Interrupted transition.
	OnInterrupt func()
}

// NewInterrupter starts in initial. exit is called with ExitInterrupted
// on escalation; nil means os.Exit.
func NewInterrupter(initial TurnState, exit func(int)) *Interrupter {
	if exit == nil {
		exit = os.Exit
	}
	i := &Interrupter{exit: exit}
	i.state.Store(int32(initial))
	return i
}

// State returns the current turn state.
func (i *Interrupter) State() TurnState {
	return TurnState(i.state.Load())
}

// Raise interrupts generation. Raising while not Generating terminates the
// process.
func (i *Interrupter) Raise() {
	if i.state.CompareAndSwap(int32(Generating), int32(Interrupted)) {
		if i.OnInterrupt != nil {
			i.OnInterrupt()
		}
		return
	}
	i.exit(ExitInterrupted)
}

// Watch calls Raise for every value received on sig until ctx is done or
// sig is closed.
func (i *Interrupter) Watch(ctx context.Context, sig <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sig:
			if !ok {
				return
			}
			i.Raise()
		}
	}
}

// poll converts a pending interrupt into AwaitingInput and reports whether
// control now belongs to the operator.
func (i *Interrupter) poll() bool {
	i.state.CompareAndSwap(int32(Interrupted), int32(AwaitingInput))
	return i.State() == AwaitingInput
}

// await hands control to the operator.
func (i *Interrupter) await() {
	i.state.Store(int32(AwaitingInput))
}

// resume hands control back to the model.
func (i *Interrupter) resume() {
	i.state.Store(int32(Generating))
}
