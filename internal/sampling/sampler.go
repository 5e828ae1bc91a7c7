// Package sampling turns a logit vector into the next token.
package sampling

import (
	"math"
	"math/rand"
	"sort"

	"Instruct/internal/runtime"
)

type candidate struct {
	id    runtime.Token
	logit float32
	prob  float64
}

// Sampler applies the classic llama.cpp pipeline:
//
//	repetition penalty -> top-k -> temperature -> softmax -> top-p -> draw
//
// A temperature of zero or below short-circuits to greedy selection after
// the penalty. The logits handed to Sample are never modified.
//
// A Sampler is not safe for concurrent use; the generation loop owns one.
type Sampler struct {
	rng        *rand.Rand
	candidates []candidate
	seen       map[runtime.Token]struct{}
}

// New returns a sampler whose random draws are fully determined by seed.
func New(seed int64) *Sampler {
	return &Sampler{
		rng:  rand.New(rand.NewSource(seed)),
		seen: make(map[runtime.Token]struct{}),
	}
}

// Sample picks a token id from logits. recent holds the tokens eligible for
// the repetition penalty, oldest first.
func (s *Sampler) Sample(logits []float32, recent []runtime.Token, params runtime.SamplingParams) runtime.Token {
	if len(logits) == 0 {
		return 0
	}

	if cap(s.candidates) < len(logits) {
		s.candidates = make([]candidate, len(logits))
	}
	cands := s.candidates[:len(logits)]
	for i, l := range logits {
		cands[i] = candidate{id: runtime.Token(i), logit: l}
	}

	s.penalize(cands, recent, params.RepeatPenalty)

	if params.Temperature <= 0 {
		return argmax(cands)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].logit > cands[j].logit
	})

	if params.TopK > 0 && params.TopK < len(cands) {
		cands = cands[:params.TopK]
	}

	softmax(cands, params.Temperature)

	if params.TopP > 0 && params.TopP < 1 {
		cum := 0.0
		keep := len(cands)
		for i := range cands {
			cum += cands[i].prob
			if cum >= params.TopP {
				keep = i + 1
				break
			}
		}
		cands = cands[:keep]
	}

	return s.draw(cands)
}

// penalize discourages tokens seen in recent. Each distinct id is penalized
// once: negative logits grow more negative, positive ones shrink.
func (s *Sampler) penalize(cands []candidate, recent []runtime.Token, penalty float64) {
	if penalty <= 0 || penalty == 1 || len(recent) == 0 {
		return
	}
	clear(s.seen)
	p := float32(penalty)
	for _, tok := range recent {
		if tok < 0 || int(tok) >= len(cands) {
			continue
		}
		if _, dup := s.seen[tok]; dup {
			continue
		}
		s.seen[tok] = struct{}{}
		if cands[tok].logit < 0 {
			cands[tok].logit *= p
		} else {
			cands[tok].logit /= p
		}
	}
}

func (s *Sampler) draw(cands []candidate) runtime.Token {
	total := 0.0
	for _, c := range cands {
		total += c.prob
	}
	coin := s.rng.Float64() * total
	cdf := 0.0
	for _, c := range cands {
		cdf += c.prob
		if coin < cdf {
			return c.id
		}
	}
	return cands[len(cands)-1].id
}

// argmax returns the highest scoring id, preferring the lowest id on ties.
func argmax(cands []candidate) runtime.Token {
	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].logit > cands[best].logit {
			best = i
		}
	}
	return cands[best].id
}

func softmax(cands []candidate, temperature float64) {
	maxLogit := float64(cands[0].logit) / temperature
	for _, c := range cands[1:] {
		if v := float64(c.logit) / temperature; v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	for i := range cands {
		cands[i].prob = math.Exp(float64(cands[i].logit)/temperature - maxLogit)
		sum += cands[i].prob
	}
	for i := range cands {
		cands[i].prob /= sum
	}
}
