package presence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBackoffBase   = 250 * time.Millisecond
	DefaultBackoffMax    = 30 * time.Second
	DefaultBackoffJitter = 0.5
)

// Backoff configures the retry schedule shared by every reconnect loop.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter is the randomization factor in [0, 1]. Zero retries on the
	// exact exponential steps.
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBackoffBase, Max: DefaultBackoffMax, Jitter: DefaultBackoffJitter}
}

// New returns a fresh schedule that doubles from Base up to Max and never
// gives up. Callers Reset it after a success.
func (b Backoff) New() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = DefaultBackoffBase
	}
	eb.MaxInterval = b.Max
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.Multiplier = 2
	eb.RandomizationFactor = b.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Wait sleeps for d. It returns false when ctx ends first.
func Wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
