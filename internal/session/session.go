// Package session drives an instruction-following conversation against a
// token-level inference engine: it queues prompt and operator input,
// compacts the context when it fills, samples replies and hands control
// back to the operator on reverse prompts, end-of-sequence, budget
// exhaustion or interrupts.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"Instruct/internal/config"
	"Instruct/internal/console"
	"Instruct/internal/runtime"
)

// Display receives everything the session prints.
type Display interface {
	Print(text string)
	SetState(console.State)
	Flush()
}

// TurnReader supplies operator turns. It returns io.EOF at end of input.
type TurnReader interface {
	ReadTurn() (string, error)
}

// Params are the knobs the generation loop consumes.
type Params struct {
	Prompt            string
	InstructionPrefix string
	ResponseSuffix    string
	// Antiprompts are checked in order; duplicates are dropped.
	Antiprompts      []string
	InputPrefix      string
	MaxTokens        int // per-turn budget, config.Unbounded disables it
	BatchSize        int
	Threads          int
	RepeatLastN      int
	Sampling         runtime.SamplingParams
	IgnoreEOS        bool
	InteractiveFirst bool
}

// ParamsFromConfig maps resolved configuration onto loop parameters. The
// instruct antiprompt is registered after the operator's reverse prompts.
func ParamsFromConfig(cfg config.Config, prompt string) Params {
	g := cfg.Generation
	antiprompts := append([]string(nil), cfg.Instruct.ReversePrompts...)
	antiprompts = append(antiprompts, cfg.Instruct.Antiprompt)
	return Params{
		Prompt:            prompt,
		InstructionPrefix: cfg.Instruct.InstructionPrefix,
		ResponseSuffix:    cfg.Instruct.ResponseSuffix,
		Antiprompts:       antiprompts,
		InputPrefix:       cfg.Instruct.InputPrefix,
		MaxTokens:         g.MaxTokens,
		BatchSize:         g.BatchSize,
		Threads:           cfg.Model.Threads,
		RepeatLastN:       g.RepeatLastN,
		Sampling: runtime.SamplingParams{
			Temperature:   g.Temperature,
			TopK:          g.TopK,
			TopP:          g.TopP,
			RepeatPenalty: g.RepeatPenalty,
		},
		IgnoreEOS:        g.IgnoreEOS,
		InteractiveFirst: cfg.InteractiveFirst(),
	}
}

// Options wires a session to its collaborators.
type Options struct {
	Engine      runtime.Engine
	Tokenizer   runtime.Tokenizer
	Sampler     runtime.Sampler
	Display     Display
	Input       TurnReader
	Interrupter *Interrupter // nil creates one that exits the process
	Logger      *zap.Logger  // nil discards logs
	Params      Params
}

// Stats counts the work done by a session.
type Stats struct {
	PromptTokens int
	Evaluated    int
	Sampled      int
	UserTokens   int
	Turns        int
	Compactions  int
	Elapsed      time.Duration
}

// Session owns the loop state. It is not safe for concurrent use apart
// from its Interrupter.
type Session struct {
	engine  runtime.Engine
	tok     runtime.Tokenizer
	sampler runtime.Sampler
	display Display
	input   TurnReader
	turn    *Interrupter
	log     *zap.Logger
	params  Params

	recent      *Recency
	window      *Window
	antiprompts *Antiprompts

	prompt   []runtime.Token
	prefix   []runtime.Token
	suffix   []runtime.Token
	queue    []runtime.Token
	consumed int

	batch     []runtime.Token
	remaining int
	noEcho    bool

	stats Stats
}

var errEndOfInput = errors.New("session: end of input")

// New tokenizes the prompt and framing and prepares an idle session. The
// prompt gets a leading space and BOS; it must leave at least four
// positions of the engine's context free.
func New(opts Options) (*Session, error) {
	if opts.Engine == nil || opts.Tokenizer == nil || opts.Sampler == nil {
		return nil, errors.New("session: engine, tokenizer and sampler are required")
	}
	if opts.Display == nil || opts.Input == nil {
		return nil, errors.New("session: display and input are required")
	}

	p := opts.Params
	if p.BatchSize < 1 {
		p.BatchSize = 1
	}
	if p.Threads < 1 {
		p.Threads = 1
	}

	capacity := opts.Engine.ContextSize()
	if capacity <= promptHeadroom {
		return nil, fmt.Errorf("%w: %d positions", ErrContextTooSmall, capacity)
	}

	prompt, err := opts.Tokenizer.Encode(" "+p.Prompt, true)
	if err != nil {
		return nil, fmt.Errorf("session: tokenize prompt: %w", err)
	}
	if len(prompt) > capacity-promptHeadroom {
		return nil, fmt.Errorf("%w: %d tokens, max %d", ErrPromptTooLong, len(prompt), capacity-promptHeadroom)
	}
	prefix, err := opts.Tokenizer.Encode(p.InstructionPrefix, true)
	if err != nil {
		return nil, fmt.Errorf("session: tokenize instruction prefix: %w", err)
	}
	suffix, err := opts.Tokenizer.Encode(p.ResponseSuffix, false)
	if err != nil {
		return nil, fmt.Errorf("session: tokenize response suffix: %w", err)
	}

	window, err := NewWindow(capacity, len(prompt))
	if err != nil {
		return nil, err
	}

	initial := Generating
	if p.InteractiveFirst {
		initial = AwaitingInput
	}
	turn := opts.Interrupter
	if turn == nil {
		turn = NewInterrupter(initial, nil)
	} else {
		turn.state.Store(int32(initial))
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{
		engine:      opts.Engine,
		tok:         opts.Tokenizer,
		sampler:     opts.Sampler,
		display:     opts.Display,
		input:       opts.Input,
		turn:        turn,
		log:         log,
		params:      p,
		recent:      NewRecency(capacity),
		window:      window,
		antiprompts: NewAntiprompts(p.Antiprompts...),
		prompt:      prompt,
		prefix:      prefix,
		suffix:      suffix,
		queue:       append([]runtime.Token(nil), prompt...),
		remaining:   p.MaxTokens,
		batch:       make([]runtime.Token, 0, p.BatchSize),
	}
	s.stats.PromptTokens = len(prompt)
	return s, nil
}

// Keep returns the number of pinned prompt tokens.
func (s *Session) Keep() int { return s.window.Keep() }

// Capacity returns the engine context size.
func (s *Session) Capacity() int { return s.window.Capacity() }

// Antiprompts returns the reverse prompts in check order.
func (s *Session) Antiprompts() []string { return s.antiprompts.List() }

// State returns the current turn state.
func (s *Session) State() TurnState { return s.turn.State() }

// Stats returns counters collected so far.
func (s *Session) Stats() Stats { return s.stats }

// PromptReport lists the prompt tokens and the pinned text.
func (s *Session) PromptReport() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "prompt: '%s'\n", " "+s.params.Prompt)
	fmt.Fprintf(&sb, "number of tokens in prompt = %d\n", len(s.prompt))
	for _, t := range s.prompt {
		fmt.Fprintf(&sb, "%6d -> '%s'\n", t, s.tok.Decode(t))
	}
	fmt.Fprintf(&sb, "static prompt based on n_keep: '%s'\n", s.decode(s.prompt[:s.window.Keep()]))
	return sb.String()
}

// Run loops until the operator closes the input or the engine fails. End
// of input returns nil.
func (s *Session) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.stats.Elapsed = time.Since(start)
		s.display.SetState(console.StateDefault)
		s.display.Flush()
		s.log.Info("session finished",
			zap.Int("prompt_tokens", s.stats.PromptTokens),
			zap.Int("evaluated", s.stats.Evaluated),
			zap.Int("sampled", s.stats.Sampled),
			zap.Int("user_tokens", s.stats.UserTokens),
			zap.Int("turns", s.stats.Turns),
			zap.Int("compactions", s.stats.Compactions),
			zap.Duration("elapsed", s.stats.Elapsed),
		)
	}()

	// The prompt is echoed first.
	s.display.SetState(console.StatePrompt)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.step(); err != nil {
			if errors.Is(err, errEndOfInput) {
				return nil
			}
			return err
		}
	}
}

// step runs one iteration: evaluate the pending batch, then either sample
// a token or draw queued input, echo, and decide whose turn it is.
func (s *Session) step() error {
	if err := s.evaluate(); err != nil {
		return err
	}

	if s.consumed >= len(s.queue) && s.turn.State() == Generating {
		s.sample()
	} else {
		s.drain()
	}

	if !s.noEcho {
		s.display.Print(s.decode(s.batch))
		s.display.Flush()
		if s.consumed == len(s.queue) {
			s.display.SetState(console.StateDefault)
		}
	}

	if s.consumed >= len(s.queue) {
		if err := s.interact(); err != nil {
			return err
		}
	}

	if n := len(s.batch); n > 0 && s.batch[n-1] == s.tok.EOS() {
		s.log.Debug("end of sequence")
		s.turn.await()
	}

	if s.remaining <= 0 && s.params.MaxTokens != config.Unbounded {
		s.log.Debug("turn budget exhausted", zap.Int("max_tokens", s.params.MaxTokens))
		s.remaining = s.params.MaxTokens
		s.turn.await()
	}
	return nil
}

func (s *Session) evaluate() error {
	if len(s.batch) == 0 {
		return nil
	}
	batch, compacted, err := s.window.Fit(s.batch, s.recent)
	if err != nil {
		return err
	}
	if compacted {
		s.stats.Compactions++
		text := s.decode(batch)
		s.log.Debug("context compacted",
			zap.Int("keep", s.window.Keep()),
			zap.Int("batch", len(batch)),
			zap.String("lead_in", text),
		)
		s.display.Print("\n---\nresetting: '" + text + "'\n\n---\n")
	}
	if err := s.engine.Evaluate(batch, s.window.Past(), s.params.Threads); err != nil {
		return fmt.Errorf("%w at position %d: %w", ErrEvaluate, s.window.Past(), err)
	}
	s.window.Advance(len(batch))
	s.stats.Evaluated += len(batch)
	s.batch = s.batch[:0]
	return nil
}

func (s *Session) sample() {
	logits := s.engine.Logits()
	if s.params.IgnoreEOS {
		if eos := int(s.tok.EOS()); eos >= 0 && eos < len(logits) {
			logits = append([]float32(nil), logits...)
			logits[eos] = 0
		}
	}
	id := s.sampler.Sample(logits, s.recent.Window(s.params.RepeatLastN), s.params.Sampling)
	s.recent.Push(id)
	s.batch = append(s.batch, id)
	s.noEcho = false
	s.remaining--
	s.stats.Sampled++
}

func (s *Session) drain() {
	for s.consumed < len(s.queue) {
		t := s.queue[s.consumed]
		s.batch = append(s.batch, t)
		s.recent.Push(t)
		s.consumed++
		if len(s.batch) >= s.params.BatchSize {
			break
		}
	}
}

// interact runs once the queue is drained. It checks for interrupts and
// reverse prompts and, when the operator holds control and the engine has
// seen the prompt, reads the next turn.
func (s *Session) interact() error {
	awaiting := s.turn.poll()
	if !awaiting {
		if match, ok := s.antiprompts.Match(s.recent.Text(s.tok.Decode)); ok {
			s.log.Debug("reverse prompt matched", zap.String("antiprompt", match))
			s.turn.await()
			awaiting = true
			s.display.SetState(console.StateUserInput)
			s.display.Flush()
		}
	}
	if !awaiting || s.window.Past() == 0 {
		return nil
	}

	s.consumed = len(s.queue)
	s.display.SetState(console.StateUserInput)
	s.display.Print("\n> ")
	buf := s.params.InputPrefix
	s.display.Print(buf)
	s.display.Flush()

	line, err := s.input.ReadTurn()
	if errors.Is(err, io.EOF) {
		s.log.Debug("end of input")
		return errEndOfInput
	}
	if err != nil {
		return fmt.Errorf("session: read input: %w", err)
	}
	buf += line
	s.display.SetState(console.StateDefault)

	if len(buf) > 1 {
		user, err := s.tok.Encode(buf, false)
		if err != nil {
			return fmt.Errorf("session: tokenize input: %w", err)
		}
		s.queue = append(s.queue, s.prefix...)
		s.queue = append(s.queue, user...)
		s.queue = append(s.queue, s.suffix...)
		s.remaining -= len(user)
		s.stats.Turns++
		s.stats.UserTokens += len(user)
		s.log.Debug("operator turn queued", zap.Int("tokens", len(user)), zap.Int("queued", len(s.queue)-s.consumed))
	}
	s.noEcho = true
	s.turn.resume()
	return nil
}

func (s *Session) decode(tokens []runtime.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(s.tok.Decode(t))
	}
	return sb.String()
}
