package utils

import "time"

// Clock supplies "now" to code that stamps or synthesizes times.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// MockClock returns FixedNow until moved with SetNow. It is not safe for
// concurrent use.
type MockClock struct {
	FixedNow time.Time
}

func (m *MockClock) Now() time.Time {
	return m.FixedNow
}

// SetNow moves the clock to now.
func (m *MockClock) SetNow(now time.Time) {
	m.FixedNow = now
}
