package console

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestPlainConsoleWritesVerbatim(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, false)

	c.SetState(StatePrompt)
	c.Print("\n\n### Instruction:\n\n")
	c.SetState(StateUserInput)
	c.Print("hi\tthere")
	c.SetState(StateDefault)
	c.Print("ok")

	want := "\n\n### Instruction:\n\nhi\tthereok"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestColorPromptState(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, true)

	c.SetState(StatePrompt)
	c.Print("one\n\ntwo")

	out := buf.String()
	if !strings.Contains(out, "\x1b[") {
		t.Fatalf("expected ANSI sequences, got %q", out)
	}
	if got := stripANSI(out); got != "one\n\ntwo" {
		t.Errorf("stripped output = %q, want %q", got, "one\n\ntwo")
	}
}

func TestColorUserInputLeavesTerminalColoured(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, true)

	c.SetState(StateUserInput)
	if !strings.HasPrefix(buf.String(), "\x1b[1;") {
		t.Fatalf("user-input state did not emit bold sequence: %q", buf.String())
	}

	buf.Reset()
	c.SetState(StateDefault)
	if buf.String() != resetSeq {
		t.Errorf("leaving user-input wrote %q, want reset", buf.String())
	}

	buf.Reset()
	c.SetState(StateDefault)
	if buf.Len() != 0 {
		t.Errorf("repeated state change wrote %q", buf.String())
	}
}

func TestDefaultStateUncoloured(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, true)
	c.Print("generated")
	if buf.String() != "generated" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestConcurrentPrint(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Print("x")
			}
		}()
	}
	wg.Wait()
	if buf.Len() != 400 {
		t.Errorf("wrote %d bytes, want 400", buf.Len())
	}
}

func TestStateString(t *testing.T) {
	if StateUserInput.String() != "user-input" || StatePrompt.String() != "prompt" || StateDefault.String() != "default" {
		t.Error("unexpected state names")
	}
}

func TestBannerPlain(t *testing.T) {
	out, err := Banner(false)
	if err != nil {
		t.Fatalf("Banner: %v", err)
	}
	for _, want := range []string{"interactive mode", "Ctrl+C", "Return"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
}

func TestSpinWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	called := false
	err := Spin(&buf, "loading", func() error {
		called = true
		return errors.New("boom")
	})
	if !called {
		t.Fatal("fn not called")
	}
	if err == nil || err.Error() != "boom" {
		t.Errorf("Spin() = %v, want boom", err)
	}
	if buf.Len() != 0 {
		t.Errorf("non-terminal spin wrote %q", buf.String())
	}
}

func TestAutoColorNonTerminal(t *testing.T) {
	if AutoColor(&bytes.Buffer{}) {
		t.Error("AutoColor(buffer) = true")
	}
}

func stripANSI(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			i += 2
			for i < len(s) && (s[i] < '@' || s[i] > '~') {
				i++
			}
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
