// Package fakeclock provides a manually advanced clock for tests of code that
// waits on timers.
package fakeclock

import (
	"sort"
	"sync"
	"time"

	"github.com/simplenotes/notesync/pkg/connection"
)

// Clock only moves when Advance is called.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*Timer
	// created counts every timer ever created, stopped or not.
	created int
}

var _ connection.Clock = (*Clock)(nil)

func New() *Clock {
	return &Clock{now: time.Unix(0, 0).UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTimer returns a timer that fires once the clock was advanced by d.
func (c *Clock) NewTimer(d time.Duration) connection.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &Timer{
		clock:    c,
		deadline: c.now.Add(d),
		ch:       make(chan time.Time, 1),
		Duration: d,
	}
	c.created++
	if d <= 0 {
		t.ch <- c.now
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires every timer that is due, in
// deadline order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})

	kept := c.timers[:0]
	for _, t := range c.timers {
		if t.deadline.After(c.now) {
			kept = append(kept, t)
			continue
		}
		select {
		case t.ch <- c.now:
		default:
		}
	}
	c.timers = kept
}

// Pending returns the durations of the timers that have neither fired nor
// been stopped, in creation order.
func (c *Clock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.Duration)
	}
	return out
}

// Created returns how many timers were created so far.
func (c *Clock) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

func (c *Clock) stop(t *Timer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

type Timer struct {
	clock    *Clock
	deadline time.Time
	ch       chan time.Time

	// Duration is the delay the timer was created with.
	Duration time.Duration
}

func (t *Timer) C() <-chan time.Time { return t.ch }

// Stop reports whether the timer was still pending.
func (t *Timer) Stop() bool { return t.clock.stop(t) }
