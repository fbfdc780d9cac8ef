package player

import "time"

// Backoff produces exponentially growing reconnect delays capped at a maximum.
type Backoff struct {
	base time.Duration
	max  time.Duration
	next time.Duration
}

// NewBackoff creates a backoff starting at base and capped at max.
func NewBackoff(base, limit time.Duration) *Backoff {
	return &Backoff{base: base, max: limit, next: base}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(b.next*2, b.max)
	return d
}

// Reset returns the delay to the base value.
func (b *Backoff) Reset() {
	b.next = b.base
}
