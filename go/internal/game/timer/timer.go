// Package timer implements the shared countdown protocol. A timer is
// published as a start instant plus a duration and every client derives the
// remaining time from its own clock.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	SelectionPreview = 10 * time.Second
	Judging          = 30 * time.Second
	FinalResponse    = 90 * time.Second

	// TickInterval is how often a Countdown re-evaluates the remaining time.
	TickInterval = 250 * time.Millisecond
)

// Timer is the wire form of a countdown.
type Timer struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// New returns a timer starting at start.
func New(start time.Time, d time.Duration) Timer {
	return Timer{StartedAt: start, Duration: d}
}

// Deadline is the instant the timer reaches zero.
func (t Timer) Deadline() time.Time {
	return t.StartedAt.Add(t.Duration)
}

// Remaining returns max(0, start+duration-now).
func (t Timer) Remaining(now time.Time) time.Duration {
	left := t.Deadline().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the timer has reached zero at now.
func (t Timer) Expired(now time.Time) bool {
	return t.Remaining(now) == 0
}

// IsZero reports whether the timer was never set.
func (t Timer) IsZero() bool {
	return t.StartedAt.IsZero() && t.Duration == 0
}

// Countdown drives a Timer against a clock, reporting remaining time on every
// tick and firing onExpire exactly once when it reaches zero. Reported values
// never increase even if the local clock steps backwards.
type Countdown struct {
	timer    Timer
	clock    clockwork.Clock
	onTick   func(time.Duration)
	onExpire func()

	mu        sync.Mutex
	last      time.Duration
	expired   bool
	cancelled bool
	stop      chan struct{}
}

// Start begins a countdown. onTick may be nil.
func Start(clock clockwork.Clock, t Timer, onTick func(time.Duration), onExpire func()) *Countdown {
	c := &Countdown{
		timer:    t,
		clock:    clock,
		onTick:   onTick,
		onExpire: onExpire,
		last:     t.Duration,
		stop:     make(chan struct{}),
	}
	if c.evaluate() {
		return c
	}
	go c.run()
	return c
}

func (c *Countdown) run() {
	ticker := c.clock.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			if c.evaluate() {
				return
			}
		}
	}
}

// evaluate reports whether the countdown is finished.
func (c *Countdown) evaluate() bool {
	c.mu.Lock()
	if c.cancelled || c.expired {
		c.mu.Unlock()
		return true
	}
	left := c.timer.Remaining(c.clock.Now())
	if left > c.last {
		left = c.last
	}
	c.last = left
	fire := left == 0
	if fire {
		c.expired = true
	}
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(left)
	}
	if fire && c.onExpire != nil {
		c.onExpire()
	}
	return fire
}

// Remaining returns the last reported remaining time.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Timer returns the timer being counted down.
func (c *Countdown) Timer() Timer {
	return c.timer
}

// Cancel stops the countdown without firing expiry. It is safe to call more than once.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || c.expired {
		return
	}
	c.cancelled = true
	close(c.stop)
}

// Expired reports whether expiry has fired.
func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}
