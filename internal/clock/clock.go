// Package clock abstracts wall-clock time and timers so that session timers
// can be cancelled together and driven by hand in tests.
package clock

import "time"

// Timer is a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running and reports whether it did.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real returns the system clock.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
