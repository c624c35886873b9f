// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

var (
	// ErrInvalidWindow indicates a non-positive TWAP window.
	ErrInvalidWindow = errors.New("TWAP window must be positive")

	// DefaultTWAPWindow is the default smoothing window.
	DefaultTWAPWindow = 30 * time.Minute

	// maxObservations bounds the retained history.
	maxObservations = 1000
)

type observation struct {
	price *big.Int
	at    time.Time
}

// TWAP smooths an upstream price feed into a time-weighted average,
// resisting single-update manipulation of the conversion rate. It
// implements PriceOracle.
type TWAP struct {
	mu           sync.RWMutex
	observations []observation
	window       time.Duration
}

func NewTWAP(window time.Duration) (*TWAP, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	return &TWAP{
		observations: make([]observation, 0, 64),
		window:       window,
	}, nil
}

// Record adds a price observation. Non-positive prices are dropped.
func (t *TWAP) Record(price *big.Int, at time.Time) {
	if price == nil || price.Sign() <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.observations = append(t.observations, observation{
		price: new(big.Int).Set(price),
		at:    at,
	})
	t.prune(at)
}

// prune drops observations older than twice the window and caps the
// retained history. Must be called with the lock held.
func (t *TWAP) prune(now time.Time) {
	cutoff := now.Add(-2 * t.window)
	start := 0
	for start < len(t.observations) && !t.observations[start].at.After(cutoff) {
		start++
	}
	if start > 0 {
		t.observations = append(t.observations[:0], t.observations[start:]...)
	}
	if excess := len(t.observations) - maxObservations; excess > 0 {
		t.observations = append(t.observations[:0], t.observations[excess:]...)
	}
}

// Price returns the time-weighted average over the window ending now.
func (t *TWAP) Price() (*big.Int, error) {
	return t.PriceAt(time.Now())
}

// PriceAt returns the time-weighted average over the window ending at
// the given instant.
func (t *TWAP) PriceAt(at time.Time) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.observations) == 0 {
		return nil, ErrNoPrice
	}

	windowStart := at.Add(-t.window)
	var relevant []observation
	// The price in force when the window opened counts for the stretch
	// before the first in-window update, clamped to the window start.
	for i := len(t.observations) - 1; i >= 0; i-- {
		if !t.observations[i].at.After(windowStart) {
			relevant = append(relevant, observation{
				price: t.observations[i].price,
				at:    windowStart,
			})
			break
		}
	}
	for _, obs := range t.observations {
		if obs.at.After(windowStart) && !obs.at.After(at) {
			relevant = append(relevant, obs)
		}
	}

	if len(relevant) == 0 {
		// The window is empty; fall back to the latest observation at
		// or before the query time.
		for i := len(t.observations) - 1; i >= 0; i-- {
			if !t.observations[i].at.After(at) {
				return new(big.Int).Set(t.observations[i].price), nil
			}
		}
		return nil, ErrNoPrice
	}
	if len(relevant) == 1 {
		return new(big.Int).Set(relevant[0].price), nil
	}

	// TWAP = sum(price_i * held_i) / sum(held_i), where held_i is how
	// long observation i was the latest price.
	weighted := big.NewInt(0)
	var totalSecs int64
	for i := 0; i < len(relevant)-1; i++ {
		secs := int64(relevant[i+1].at.Sub(relevant[i].at).Seconds())
		if secs <= 0 {
			continue
		}
		weighted.Add(weighted, new(big.Int).Mul(relevant[i].price, big.NewInt(secs)))
		totalSecs += secs
	}
	last := relevant[len(relevant)-1]
	if secs := int64(at.Sub(last.at).Seconds()); secs > 0 {
		weighted.Add(weighted, new(big.Int).Mul(last.price, big.NewInt(secs)))
		totalSecs += secs
	}

	if totalSecs == 0 {
		// All observations share one timestamp.
		return new(big.Int).Set(last.price), nil
	}
	return weighted.Div(weighted, big.NewInt(totalSecs)), nil
}

// LastPrice returns the most recent observation.
func (t *TWAP) LastPrice() (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.observations) == 0 {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(t.observations[len(t.observations)-1].price), nil
}

// ObservationCount returns the number of retained observations.
func (t *TWAP) ObservationCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.observations)
}

// Window returns the smoothing window.
func (t *TWAP) Window() time.Duration {
	return t.window
}
