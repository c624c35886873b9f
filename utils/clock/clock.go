// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package clock provides a process-wide clock that can be faked in tests.
package clock

import (
	"sync"
	"time"
)

// Clock wraps global time so that cooldown and vesting math can be
// driven deterministically in tests. It is safe for concurrent use.
type Clock struct {
	mu    sync.RWMutex
	faked bool
	now   time.Time
}

// Set pins the clock to t. Until Sync is called, Time returns t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faked = true
	c.now = t
}

// Advance moves a pinned clock forward by d. If the clock is not pinned
// it is pinned to time.Now().Add(d) first.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.faked {
		c.faked = true
		c.now = time.Now()
	}
	c.now = c.now.Add(d)
}

// Sync releases a pinned clock back to global time.
func (c *Clock) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faked = false
}

// Time returns the current time on this clock.
func (c *Clock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.faked {
		return c.now
	}
	return time.Now()
}

// Unix returns the current clock time as unix seconds. Negative times
// clamp to zero. No operation in this module depends on sub-second
// precision.
func (c *Clock) Unix() uint64 {
	unix := c.Time().Unix()
	if unix < 0 {
		unix = 0
	}
	return uint64(unix)
}
