// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements capture.Clock using the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// After waits for d on a real timer.
func (Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
