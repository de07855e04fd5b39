package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoffRetryer(t *testing.T) {
	t.Run("default configuration", func(t *testing.T) {
		retryer := NewExponentialBackoffRetryer()

		for attempt, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
			delay, ok := retryer.NextDelay(attempt, nil)
			assert.True(t, ok)
			assert.GreaterOrEqual(t, delay, base*7/10)
			assert.LessOrEqual(t, delay, base*13/10)
		}
	})

	t.Run("without jitter", func(t *testing.T) {
		retryer := &ExponentialBackoffRetryer{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
		}

		want := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			time.Second,
			time.Second,
		}
		for attempt, w := range want {
			delay, ok := retryer.NextDelay(attempt, nil)
			assert.True(t, ok)
			assert.Equal(t, w, delay, "attempt %d", attempt)
		}
	})

	t.Run("with max retries", func(t *testing.T) {
		retryer := &ExponentialBackoffRetryer{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			MaxRetries:   3,
		}

		for attempt := 0; attempt < 3; attempt++ {
			_, ok := retryer.NextDelay(attempt, nil)
			assert.True(t, ok)
		}
		_, ok := retryer.NextDelay(3, nil)
		assert.False(t, ok)
	})
}

func TestFixedDelayRetryer(t *testing.T) {
	retryer := NewFixedDelayRetryer(3*time.Second, 2)

	delay, ok := retryer.NextDelay(0, errors.New("refused"))
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, delay)

	delay, ok = retryer.NextDelay(1, nil)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, delay)

	_, ok = retryer.NextDelay(2, nil)
	assert.False(t, ok)

	unlimited := NewFixedDelayRetryer(time.Second, 0)
	_, ok = unlimited.NextDelay(1000, nil)
	assert.True(t, ok)
}
