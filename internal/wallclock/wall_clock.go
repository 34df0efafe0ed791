// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package wallclock

import (
	"sync"
	"time"
)

type (
	// WallClock abstracts the subset of package time used by the aggregator,
	// so that receipt timestamps and backoff intervals can be controlled in
	// tests.
	WallClock interface {
		After(d time.Duration) <-chan time.Time
		NewTicker(d time.Duration) *time.Ticker
		Now() time.Time
	}

	wallClock struct{}

	// Manual is a WallClock whose Now only moves when told to. After and
	// NewTicker still use real time.
	Manual struct {
		now time.Time
		mu  sync.Mutex
	}
)

// After indirects time.After.
func (wallClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTicker indirects time.NewTicker.
func (wallClock) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// Now indirects time.Now.
func (wallClock) Now() time.Time {
	return time.Now()
}

// NewManual creates a manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// After indirects time.After.
func (*Manual) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTicker indirects time.NewTicker.
func (*Manual) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the manual time forward.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Instance is a WallClock singleton used for indirect time-based references to
// package time. Test code can set the instance to interpose on functions and
// control apparent time.
var Instance WallClock = wallClock{}
