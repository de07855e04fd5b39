package connection

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides how long to wait before each reconnect attempt.
//
// The manager enforces MaxReconnectAttempts on its own; a Retryer may stop
// earlier by returning false.
type Retryer interface {
	// NextDelay returns the delay before reconnect attempt number attempt
	// (0 for the first reconnect after a disconnect) and whether to retry at
	// all. lastErr is the cause of the disconnect.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// FixedDelayRetryer waits the same interval before every attempt.
type FixedDelayRetryer struct {
	Delay time.Duration

	// MaxRetries is the maximum number of attempts (0 for no own limit).
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// ExponentialBackoffRetryer doubles (by Multiplier) the delay after every
// attempt, up to MaxDelay, optionally with jitter.
//
// The notesync CLI selects it with --reconnect-backoff exponential, starting
// from the reconnect interval.
type ExponentialBackoffRetryer struct {
	// InitialDelay is the delay before the first reconnect.
	InitialDelay time.Duration
	// MaxDelay caps the delay before jitter is added.
	MaxDelay   time.Duration
	Multiplier float64

	// MaxRetries is the maximum number of attempts (0 for no own limit).
	MaxRetries int

	Jitter bool
	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64
}

func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}
