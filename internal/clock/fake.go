package clock

import (
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. AfterFunc callbacks run
// synchronously inside Advance, in deadline order. Callbacks may schedule
// new timers; those fire within the same Advance if their deadline is
// covered by it.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	done     bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: f}
	c.waiters = append(c.waiters, t)
	return t
}

// Advance moves the clock forward by d and fires every timer that
// became due, earliest first.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := c.popDue(target)
		if next == nil {
			break
		}
		c.now = next.deadline
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending reports how many timers are armed and not yet fired.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.done {
			n++
		}
	}
	return n
}

// popDue removes and returns the earliest live timer due at or before
// target. Caller holds c.mu.
func (c *FakeClock) popDue(target time.Time) *fakeTimer {
	idx := -1
	for i, w := range c.waiters {
		if w.done || w.deadline.After(target) {
			continue
		}
		if idx < 0 || w.deadline.Before(c.waiters[idx].deadline) {
			idx = i
		}
	}
	if idx < 0 {
		c.compact()
		return nil
	}
	w := c.waiters[idx]
	w.done = true
	c.waiters = append(c.waiters[:idx], c.waiters[idx+1:]...)
	return w
}

func (c *FakeClock) compact() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.done {
			live = append(live, w)
		}
	}
	c.waiters = live
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
