package game

import (
	"math/rand/v2"
	"time"
)

// CurrentSlide is the slide a player is answering and when it was shown.
type CurrentSlide struct {
	Index       int
	ActivatedAt time.Time
}

// Deck is a player's private, shuffled traversal of a template's slides.
// It only moves forward: every index in [0, size) is shown at most once.
type Deck struct {
	remaining []int
	current   *CurrentSlide
	answered  []int
	advanced  bool
}

// NewDeck builds a uniformly shuffled permutation of [0, size).
func NewDeck(size int) *Deck {
	remaining := make([]int, size)
	for i := range remaining {
		remaining[i] = i
	}
	rand.Shuffle(len(remaining), func(i, j int) {
		remaining[i], remaining[j] = remaining[j], remaining[i]
	})

	return &Deck{
		remaining: remaining,
		answered:  make([]int, 0, size),
	}
}

// Advance retires the current slide and activates the next one at now.
// The second result is false once the deck is exhausted, in which case there
// is no current slide anymore.
func (d *Deck) Advance(now time.Time) (int, bool) {
	d.advanced = true

	if d.current != nil {
		d.answered = append(d.answered, d.current.Index)
		d.current = nil
	}

	if len(d.remaining) == 0 {
		return 0, false
	}

	last := len(d.remaining) - 1
	next := d.remaining[last]
	d.remaining = d.remaining[:last]
	d.current = &CurrentSlide{Index: next, ActivatedAt: now}

	return next, true
}

// Current returns the active slide, if any.
func (d *Deck) Current() (CurrentSlide, bool) {
	if d.current == nil {
		return CurrentSlide{}, false
	}

	return *d.current, true
}

// Started reports whether Advance has been called at least once.
func (d *Deck) Started() bool {
	return d.advanced
}

// Exhausted reports whether the deck has been advanced past its last slide.
func (d *Deck) Exhausted() bool {
	return d.advanced && d.current == nil && len(d.remaining) == 0
}

// Answered returns the slides already advanced past, oldest first.
func (d *Deck) Answered() []int {
	return append([]int(nil), d.answered...)
}

// Remaining returns how many slides have not been shown yet.
func (d *Deck) Remaining() int {
	return len(d.remaining)
}
