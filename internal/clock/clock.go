// Package clock abstracts time for the scheduler and monitor tick loops so
// unit tests can drive ticks without sleeping on wall time.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// After behaves like time.After. Loops use it for their tick wait only;
	// due-time math always goes through Now().
	After(d time.Duration) <-chan time.Time
}

// System returns the wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
