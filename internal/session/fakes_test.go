package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"Instruct/internal/console"
	"Instruct/internal/runtime"
)

// byteTokenizer maps every byte b to id b+3 and keeps ids 0..2 for
// unknown, BOS and EOS.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string, addBOS bool) ([]runtime.Token, error) {
	var out []runtime.Token
	if addBOS {
		out = append(out, 1)
	}
	for i := 0; i < len(text); i++ {
		out = append(out, runtime.Token(text[i])+3)
	}
	return out, nil
}

func (byteTokenizer) Decode(t runtime.Token) string {
	if t < 3 || t > 258 {
		return ""
	}
	return string([]byte{byte(t - 3)})
}

func (byteTokenizer) BOS() runtime.Token { return 1 }
func (byteTokenizer) EOS() runtime.Token { return 2 }

func tokens(text string) []runtime.Token {
	out, _ := byteTokenizer{}.Encode(text, false)
	return out
}

const vocabSize = 259

type evalCall struct {
	pos    int
	tokens []runtime.Token
}

type fakeEngine struct {
	capacity int
	logits   []float32
	calls    []evalCall
	failAt   int // 1-based call index that fails, 0 never
}

func newFakeEngine(capacity int) *fakeEngine {
	return &fakeEngine{capacity: capacity, logits: make([]float32, vocabSize)}
}

func (e *fakeEngine) Evaluate(toks []runtime.Token, pos, threads int) error {
	e.calls = append(e.calls, evalCall{pos: pos, tokens: append([]runtime.Token(nil), toks...)})
	if e.failAt == len(e.calls) {
		return errors.New("device lost")
	}
	if pos+len(toks) > e.capacity {
		return fmt.Errorf("%w: %d+%d > %d", runtime.ErrContextFull, pos, len(toks), e.capacity)
	}
	return nil
}

func (e *fakeEngine) Logits() []float32 { return e.logits }
func (e *fakeEngine) ContextSize() int  { return e.capacity }

// evaluated flattens every evaluated token in call order.
func (e *fakeEngine) evaluated() []runtime.Token {
	var out []runtime.Token
	for _, c := range e.calls {
		out = append(out, c.tokens...)
	}
	return out
}

// scriptSampler returns its script in order and EOS once exhausted.
type scriptSampler struct {
	script  []runtime.Token
	n       int
	recents [][]runtime.Token
	logits  [][]float32
	onCall  func(n int)
}

func (s *scriptSampler) Sample(logits []float32, recent []runtime.Token, _ runtime.SamplingParams) runtime.Token {
	s.recents = append(s.recents, append([]runtime.Token(nil), recent...))
	s.logits = append(s.logits, append([]float32(nil), logits...))
	s.n++
	if s.onCall != nil {
		s.onCall(s.n)
	}
	if s.n <= len(s.script) {
		return s.script[s.n-1]
	}
	return 2
}

type fakeDisplay struct {
	mu     sync.Mutex
	out    strings.Builder
	states []console.State
}

func (d *fakeDisplay) Print(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.WriteString(text)
}

func (d *fakeDisplay) SetState(s console.State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, s)
}

func (d *fakeDisplay) Flush() {}

func (d *fakeDisplay) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.String()
}

// hookReader runs before on every read and then delegates.
type hookReader struct {
	before func()
	next   TurnReader
}

func (h *hookReader) ReadTurn() (string, error) {
	if h.before != nil {
		h.before()
	}
	return h.next.ReadTurn()
}

type exitCode int

// panicExit stands in for os.Exit so tests can observe escalation.
func panicExit(code int) { panic(exitCode(code)) }
