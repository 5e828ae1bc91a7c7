package session

import (
	"errors"
	"fmt"

	"Instruct/internal/runtime"
)

var (
	// ErrWindowConfig reports a context window that cannot be compacted
	// without corrupting positions.
	ErrWindowConfig = errors.New("session: context window misconfigured")

	// ErrPromptTooLong is returned when the tokenized prompt leaves no room
	// for generation.
	ErrPromptTooLong = errors.New("session: prompt is too long")

	// ErrContextTooSmall is returned for engines reporting an unusable
	// capacity.
	ErrContextTooSmall = errors.New("session: context too small")

	// ErrEvaluate wraps engine failures.
	ErrEvaluate = errors.New("session: evaluate failed")
)

// promptHeadroom is the number of positions the prompt must leave free.
const promptHeadroom = 4

// Window tracks how many positions the engine holds and compacts the
// context when a batch would overflow it. The first keep positions are
// never evicted.
type Window struct {
	capacity int
	keep     int
	past     int
}

// NewWindow returns an empty window.
func NewWindow(capacity, keep int) (*Window, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrContextTooSmall, capacity)
	}
	if keep < 0 || keep > capacity {
		return nil, fmt.Errorf("%w: keep %d outside [0,%d]", ErrWindowConfig, keep, capacity)
	}
	return &Window{capacity: capacity, keep: keep}, nil
}

// Capacity returns the engine context size.
func (w *Window) Capacity() int { return w.capacity }

// Keep returns the number of pinned positions.
func (w *Window) Keep() int { return w.keep }

// Past returns the number of positions the engine currently holds.
func (w *Window) Past() int { return w.past }

// Advance records that n more positions were evaluated.
func (w *Window) Advance(n int) { w.past += n }

// Fit returns the batch to evaluate at Past(). When batch would overflow
// the context, Past() drops back to Keep() and the returned batch is
// prefixed with the n_left/2 recency tokens that immediately precede the
// batch's own tokens, where n_left = Past()-Keep(). The second return
// value reports whether compaction happened.
//
// The lead-in is never clamped: a lead-in that would start before the
// recency buffer, or a compacted batch that still does not fit, is an
// ErrWindowConfig.
func (w *Window) Fit(batch []runtime.Token, recent *Recency) ([]runtime.Token, bool, error) {
	if w.past+len(batch) <= w.capacity {
		return batch, false, nil
	}

	left := w.past - w.keep
	if left < 0 {
		return nil, false, fmt.Errorf("%w: past %d below keep %d", ErrWindowConfig, w.past, w.keep)
	}

	end := recent.Len() - len(batch)
	start := end - left/2
	if start < 0 || end < 0 {
		return nil, false, fmt.Errorf("%w: lead-in [%d,%d) outside recency buffer of %d", ErrWindowConfig, start, end, recent.Len())
	}

	out := make([]runtime.Token, 0, left/2+len(batch))
	out = append(out, recent.Range(start, end)...)
	out = append(out, batch...)
	if w.keep+len(out) > w.capacity {
		return nil, false, fmt.Errorf("%w: compacted batch of %d does not fit after %d kept positions in %d",
			ErrWindowConfig, len(out), w.keep, w.capacity)
	}

	w.past = w.keep
	return out, true, nil
}
