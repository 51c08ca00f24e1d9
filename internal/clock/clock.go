// Package clock abstracts wall-clock reads so loops and leases can be driven
// deterministically in tests.
package clock

import "time"

// Clock returns the current time
type Clock interface {
	Now() time.Time
}

// Real reads the system clock in UTC
type Real struct{}

// Now returns time.Now in UTC
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Or returns c, or the system clock when c is nil
func Or(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
