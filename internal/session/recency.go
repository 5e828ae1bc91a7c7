package session

import (
	"strings"

	"Instruct/internal/runtime"
)

// Recency is a fixed-capacity FIFO of the most recent tokens. It starts
// filled with the zero token and never changes length: every Push evicts
// the oldest entry.
type Recency struct {
	buf  []runtime.Token
	head int // index of the oldest entry
}

// NewRecency returns a buffer holding capacity zero tokens. capacity is
// raised to 1 if smaller.
func NewRecency(capacity int) *Recency {
	if capacity < 1 {
		capacity = 1
	}
	return &Recency{buf: make([]runtime.Token, capacity)}
}

// Len returns the fixed capacity.
func (r *Recency) Len() int { return len(r.buf) }

// Push evicts the oldest token and appends t as the newest.
func (r *Recency) Push(t runtime.Token) {
	r.buf[r.head] = t
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
	}
}

// At returns the token at logical index i, 0 being the oldest.
func (r *Recency) At(i int) runtime.Token {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns the newest token.
func (r *Recency) Last() runtime.Token {
	return r.At(len(r.buf) - 1)
}

// Range copies the logical slice [i, j) oldest first. The caller guarantees
// 0 <= i <= j <= Len().
func (r *Recency) Range(i, j int) []runtime.Token {
	out := make([]runtime.Token, 0, j-i)
	for k := i; k < j; k++ {
		out = append(out, r.At(k))
	}
	return out
}

// Window returns the newest k tokens oldest first. k is clamped to
// [0, Len()].
func (r *Recency) Window(k int) []runtime.Token {
	k = max(0, min(k, len(r.buf)))
	return r.Range(len(r.buf)-k, len(r.buf))
}

// Text decodes the whole buffer oldest first.
func (r *Recency) Text(decode func(runtime.Token) string) string {
	var sb strings.Builder
	for i := range r.buf {
		sb.WriteString(decode(r.At(i)))
	}
	return sb.String()
}
