package runtime

import (
	"errors"
	"io"
)

// ErrContextFull is returned by engines asked to evaluate past their context capacity.
var ErrContextFull = errors.New("runtime: context window exhausted")

// Token is an opaque vocabulary id.
type Token int32

// SamplingParams maps to the classic llama.cpp sampling controls.
type SamplingParams struct {
	Temperature   float64
	TopK          int
	TopP          float64
	RepeatPenalty float64
}

// Engine evaluates token batches into a running context and exposes the
// output distribution of the last evaluated position.
type Engine interface {
	// Evaluate appends tokens to the running context starting at pos.
	Evaluate(tokens []Token, pos, threads int) error

	// Logits returns the scores for the last evaluated position, sized to
	// the vocabulary. The slice is owned by the engine and is overwritten
	// by the next Evaluate.
	Logits() []float32

	// ContextSize reports how many positions the context can hold.
	ContextSize() int
}

// Tokenizer converts between text and vocabulary ids.
type Tokenizer interface {
	Encode(text string, addBOS bool) ([]Token, error)
	Decode(token Token) string
	BOS() Token
	EOS() Token
}

// Sampler picks the next token from a logit vector.
type Sampler interface {
	Sample(logits []float32, recent []Token, params SamplingParams) Token
}

// Model is a loaded backend: an engine together with its vocabulary.
type Model interface {
	Engine
	Tokenizer
	io.Closer

	Name() string
	Describe() string
}
