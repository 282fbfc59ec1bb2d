package services

import (
	"sync"
	"time"
)

// Countdown is a one-second repeating timer that counts a budget of seconds
// down to zero.
type Countdown struct {
	Interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

// NewCountdown creates a countdown ticking every interval; a non-positive
// interval means one second.
func NewCountdown(interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{Interval: interval}
}

// Start begins ticking from totalSeconds. onTick receives every new remaining
// value; onExpire fires exactly once when zero is reached, after which the
// countdown stops itself. Starting a running countdown replaces the old run.
func (c *Countdown) Start(totalSeconds int, onTick func(remaining int), onExpire func()) {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
	}
	stop := make(chan struct{})
	c.stop = stop
	interval := c.Interval
	c.mu.Unlock()

	if interval <= 0 {
		interval = time.Second
	}
	go c.run(stop, interval, totalSeconds, onTick, onExpire)
}

func (c *Countdown) run(stop chan struct{}, interval time.Duration, remaining int, onTick func(int), onExpire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for remaining > 0 {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		// Stop may have raced with the tick.
		select {
		case <-stop:
			return
		default:
		}

		remaining--
		if onTick != nil {
			onTick(remaining)
		}
	}

	if !c.finish(stop) {
		return
	}
	if onExpire != nil {
		onExpire()
	}
}

// finish clears the run if it is still the current one.
func (c *Countdown) finish(stop chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != stop {
		return false
	}
	close(stop)
	c.stop = nil
	return true
}

// Stop cancels the current run. Stopping an idle countdown is a no-op.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// Running reports whether a run is in progress.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}
