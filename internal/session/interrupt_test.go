package session

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestInterruptWhileGenerating(t *testing.T) {
	var exits []int
	in := NewInterrupter(Generating, func(code int) { exits = append(exits, code) })
	calls := 0
	in.OnInterrupt = func() { calls++ }

	in.Raise()
	if in.State() != Interrupted {
		t.Fatalf("State() = %v, want interrupted", in.State())
	}
	if calls != 1 || len(exits) != 0 {
		t.Fatalf("OnInterrupt calls = %d, exits = %v", calls, exits)
	}

	if !in.poll() {
		t.Fatal("poll() = false after interrupt")
	}
	if in.State() != AwaitingInput {
		t.Fatalf("State() = %v, want awaiting-input", in.State())
	}

	in.Raise()
	if len(exits) != 1 || exits[0] != ExitInterrupted {
		t.Errorf("exits = %v, want [130]", exits)
	}
	if calls != 1 {
		t.Errorf("OnInterrupt ran on escalation")
	}
}

func TestInterruptEscalatesBeforePoll(t *testing.T) {
	var exits []int
	in := NewInterrupter(Generating, func(code int) { exits = append(exits, code) })
	in.Raise()
	in.Raise()
	if len(exits) != 1 || exits[0] != ExitInterrupted {
		t.Errorf("exits = %v, want [130]", exits)
	}
}

func TestPollWithoutInterrupt(t *testing.T) {
	in := NewInterrupter(Generating, func(int) {})
	if in.poll() {
		t.Error("poll() = true while generating")
	}
	in.await()
	if !in.poll() {
		t.Error("poll() = false while awaiting input")
	}
	in.resume()
	if in.State() != Generating {
		t.Errorf("State() = %v after resume", in.State())
	}
}

func TestWatchRaisesOnSignal(t *testing.T) {
	in := NewInterrupter(Generating, func(int) { t.Error("unexpected exit") })
	raised := make(chan struct{})
	in.OnInterrupt = func() { close(raised) }

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		in.Watch(ctx, sig)
		close(done)
	}()

	sig <- syscall.SIGINT
	select {
	case <-raised:
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}
	if in.State() != Interrupted {
		t.Errorf("State() = %v", in.State())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestTurnStateString(t *testing.T) {
	for s, want := range map[TurnState]string{
		Generating:    "generating",
		AwaitingInput: "awaiting-input",
		Interrupted:   "interrupted",
		TurnState(9):  "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
