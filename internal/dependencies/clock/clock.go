package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock provides time operations that can be faked for testing
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// New returns the system clock
func New() Clock {
	return clockwork.NewRealClock()
}

// NewFake returns a fake clock pinned at t, advanced explicitly by tests
func NewFake(t time.Time) *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(t)
}

// Monotonic wraps a clock so that Now never goes backwards within the process
type Monotonic struct {
	Clock

	mu   sync.Mutex
	last time.Time
}

// NewMonotonic wraps c
func NewMonotonic(c Clock) *Monotonic {
	return &Monotonic{Clock: c}
}

// Now returns the wrapped clock's time, or the last returned time if the wrapped clock stepped back
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Clock.Now()
	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}
