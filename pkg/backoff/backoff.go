// Package backoff implements the exponential idle backoff used by the
// stats collector thread when the event queue is empty, so it doesn't spin
// a CPU core waiting for packets.
package backoff

import "time"

const defaultCeiling = time.Second

// Backoff produces successive delays starting near zero and doubling up to
// a ceiling. It is not safe for concurrent use; each long-running thread
// that needs backoff owns its own instance (the source this is modeled on
// kept this state in function-local statics, which only works for a single
// instance per process — here it's a plain owned value instead, so tests
// can run several aggregators side by side).
type Backoff struct {
	ceiling time.Duration
	current time.Duration
}

// New returns a Backoff capped at the default 1s ceiling.
func New() *Backoff {
	return NewWithCeiling(defaultCeiling)
}

// NewWithCeiling returns a Backoff capped at ceiling.
func NewWithCeiling(ceiling time.Duration) *Backoff {
	return &Backoff{ceiling: ceiling}
}

// Next returns the next delay to sleep for and advances the internal
// counter, doubling it (starting from 1ms) until the ceiling is reached.
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = time.Millisecond
		return b.current
	}
	b.current *= 2
	if b.current > b.ceiling {
		b.current = b.ceiling
	}
	return b.current
}

// Reset zeroes the backoff so the next call to Next starts from the
// minimum delay again. Called whenever a consume succeeds.
func (b *Backoff) Reset() {
	b.current = 0
}
