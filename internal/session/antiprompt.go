package session

import "strings"

// Antiprompts is an insertion-ordered set of reverse prompts.
type Antiprompts struct {
	list []string
}

// NewAntiprompts builds a set from candidates, dropping empty strings and
// repeats while keeping first-seen order.
func NewAntiprompts(candidates ...string) *Antiprompts {
	a := &Antiprompts{}
	for _, c := range candidates {
		a.Add(c)
	}
	return a
}

// Add appends s unless it is empty or already present.
func (a *Antiprompts) Add(s string) {
	if s == "" {
		return
	}
	for _, have := range a.list {
		if have == s {
			return
		}
	}
	a.list = append(a.list, s)
}

// List returns the prompts in check order.
func (a *Antiprompts) List() []string {
	return append([]string(nil), a.list...)
}

// Match reports the first prompt that is an exact suffix of text.
func (a *Antiprompts) Match(text string) (string, bool) {
	for _, s := range a.list {
		if strings.HasSuffix(text, s) {
			return s, true
		}
	}
	return "", false
}
