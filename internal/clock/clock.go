// Package clock abstracts timers so retry schedules can be driven
// deterministically in tests. Production code uses Real(); tests use Fake().
package clock

import "time"

// Clock is the subset of the time package the signaling layer needs.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. The returned Timer cancels
	// the pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call. It reports false if the call already
	// happened or the timer was stopped before.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
