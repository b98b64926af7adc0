package feed

import "time"

// errorBreaker counts errors in a rolling window and trips once the count
// reaches the threshold. It is not safe for concurrent use; Conn guards it.
type errorBreaker struct {
	threshold int
	window    time.Duration
	events    []time.Time
}

func newErrorBreaker(threshold int, window time.Duration) *errorBreaker {
	return &errorBreaker{threshold: threshold, window: window}
}

// record adds an error at now and reports whether the breaker tripped. A trip
// resets the count.
func (b *errorBreaker) record(now time.Time) bool {
	if b.threshold <= 0 {
		return false
	}
	cutoff := now.Add(-b.window)
	kept := b.events[:0]
	for _, t := range b.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.events = append(kept, now)

	if len(b.events) >= b.threshold {
		b.events = b.events[:0]
		return true
	}
	return false
}

func (b *errorBreaker) count() int {
	return len(b.events)
}

func (b *errorBreaker) reset() {
	b.events = b.events[:0]
}
