package stream

import "time"

type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

// Next returns the delay before the upcoming retry. The first retry already
// waits twice the base.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	d := b.Base << b.attempt
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	return d
}

func (b *Backoff) Attempts() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
}
