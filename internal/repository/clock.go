package repository

import (
	"sync"
	"time"
)

// monotonicClock hands out strictly increasing UTC timestamps so two appends
// in the same clock tick still read back in append order.
type monotonicClock struct {
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newMonotonicClock(now func() time.Time) *monotonicClock {
	return &monotonicClock{now: now}
}

func (m *monotonicClock) next() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now().UTC()
	if !ts.After(m.last) {
		ts = m.last.Add(time.Nanosecond)
	}
	m.last = ts
	return ts
}
