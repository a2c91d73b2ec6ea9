package sched

import "time"

// TimeSource reports elapsed time since an arbitrary fixed origin.
//
// The capability set is split into small interfaces on purpose: production
// code needs Now and Wait, tests need Now and FastForward, and nothing
// needs all three through a single type except the test clock.
type TimeSource interface {
	Now() time.Duration
}

// Waiter blocks the calling goroutine for a duration. Used only by the
// blocking wait loop; a sleep runs to completion and cannot be interrupted.
type Waiter interface {
	Wait(d time.Duration)
}

// FastForwarder advances a virtual clock without sleeping.
type FastForwarder interface {
	FastForward(d time.Duration)
}

// SteadyClock measures real elapsed time against a monotonic origin and
// sleeps for real. It is the default time source.
type SteadyClock struct {
	origin time.Time
}

func NewSteadyClock() *SteadyClock {
	return &SteadyClock{origin: time.Now()}
}

// Now reports elapsed time since the clock was created. time.Since reads
// the monotonic component, so wall clock adjustments do not affect it.
func (c *SteadyClock) Now() time.Duration {
	return time.Since(c.origin)
}

func (c *SteadyClock) Wait(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// ManualClock is a controllable virtual clock for tests. Wait advances the
// clock instead of sleeping, so wait loops complete instantly and
// deterministically.
type ManualClock struct {
	now time.Duration
}

func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) Now() time.Duration {
	return c.now
}

func (c *ManualClock) Wait(d time.Duration) {
	if d > 0 {
		c.now += d
	}
}

func (c *ManualClock) FastForward(d time.Duration) {
	if d < 0 {
		panic("sched: cannot fast-forward backwards")
	}
	c.now += d
}
