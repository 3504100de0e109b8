package shared

import "time"

// Clock supplies the current time. A nil Clock reads the system clock.
type Clock func() time.Time

// Now returns the current UTC time.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// FixedClock returns a Clock pinned to t. Intended for tests.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
