// Package typing coordinates outbound typing signals and the decay of the
// peer's inbound typing indicator.
package typing

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Defaults for chat sessions.
const (
	DefaultWindow   = 2 * time.Second
	DefaultThrottle = 500 * time.Millisecond
)

// Coordinator is owned by a single session goroutine and is not safe for
// concurrent use. Expiry is reported through onExpire with the generation
// of the timer that fired; stale generations are ignored by Expire.
type Coordinator struct {
	clock    clockwork.Clock
	window   time.Duration
	limiter  *rate.Limiter
	onExpire func(gen uint64)

	typing bool
	gen    uint64
	timer  clockwork.Timer
}

// New creates a coordinator. A zero window uses DefaultWindow; a zero
// throttle disables outbound rate limiting.
func New(clock clockwork.Clock, window, throttle time.Duration, onExpire func(gen uint64)) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	limit := rate.Inf
	if throttle > 0 {
		limit = rate.Every(throttle)
	}
	if onExpire == nil {
		onExpire = func(uint64) {}
	}
	return &Coordinator{
		clock:    clock,
		window:   window,
		limiter:  rate.NewLimiter(limit, 1),
		onExpire: onExpire,
	}
}

// ShouldSignal reports whether an input change to text warrants publishing
// a typing signal now.
func (c *Coordinator) ShouldSignal(text string) bool {
	if text == "" {
		return false
	}
	return c.limiter.AllowN(c.clock.Now(), 1)
}

// Received marks the peer as typing and restarts the decay window.
// It reports whether the indicator changed.
func (c *Coordinator) Received() bool {
	changed := !c.typing
	c.typing = true
	c.stopTimer()
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.window, func() { c.onExpire(gen) })
	return changed
}

// Expire clears the indicator if gen is the current decay window.
func (c *Coordinator) Expire(gen uint64) bool {
	if gen != c.gen || !c.typing {
		return false
	}
	c.typing = false
	c.timer = nil
	return true
}

// Clear forces the indicator off and cancels any pending decay.
func (c *Coordinator) Clear() bool {
	changed := c.typing
	c.typing = false
	c.stopTimer()
	c.gen++
	return changed
}

// Typing returns the peer's typing indicator.
func (c *Coordinator) Typing() bool {
	return c.typing
}

// Stop cancels pending timers. The indicator keeps its value.
func (c *Coordinator) Stop() {
	c.stopTimer()
	c.gen++
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
