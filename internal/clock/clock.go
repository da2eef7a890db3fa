// Package clock abstracts time so scheduled billing behavior is testable.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystemClock returns a Clock backed by the wall clock, in UTC.
func NewSystemClock() Clock { return systemClock{} }
