package ratelimit

import "time"

// Clock abstracts time so bucket behavior is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
