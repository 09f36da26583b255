package relay

import "time"

// Default reconnection parameters.
const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// Backoff is the exponential delay between reconnection attempts. It doubles
// after every failure up to a ceiling and returns to its initial value after
// any success. The zero value uses 1s initial and 30s max.
//
// Backoff is not safe for concurrent use; the [Manager] owns it.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	current time.Duration
}

// NewBackoff returns a Backoff with the given bounds. Non-positive values
// select the defaults.
func NewBackoff(initial, ceiling time.Duration) *Backoff {
	b := &Backoff{Initial: initial, Max: ceiling}
	b.Reset()
	return b
}

func (b *Backoff) bounds() (time.Duration, time.Duration) {
	initial, ceiling := b.Initial, b.Max
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	if ceiling <= 0 {
		ceiling = defaultMaxBackoff
	}
	return initial, max(ceiling, initial)
}

// Current returns the delay the next call to [Backoff.Next] will return.
func (b *Backoff) Current() time.Duration {
	if b.current == 0 {
		initial, _ := b.bounds()
		return initial
	}
	return b.current
}

// AtInitial reports whether the delay has not grown since the last reset.
func (b *Backoff) AtInitial() bool {
	initial, _ := b.bounds()
	return b.Current() == initial
}

// Next returns the delay to wait now and doubles the stored delay, capped at
// Max.
func (b *Backoff) Next() time.Duration {
	d := b.Current()
	_, ceiling := b.bounds()
	b.current = min(d*2, ceiling)
	return d
}

// Reset returns the delay to Initial.
func (b *Backoff) Reset() {
	initial, _ := b.bounds()
	b.current = initial
}
