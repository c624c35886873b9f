// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle provides the reserve-to-stable price feed consumed by
// the issuance ledger.
package oracle

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// ErrNoPrice indicates the oracle has no price to report.
	ErrNoPrice = errors.New("no oracle price available")

	// PrecisionFactor is the 1e18 fixed-point scale shared by prices
	// and monetary amounts.
	PrecisionFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// PriceOracle supplies the current reserve-to-stable conversion rate,
// scaled by PrecisionFactor. Implementations are untrusted input: a
// zero rate must be rejected by the consumer, not here.
type PriceOracle interface {
	Price() (*big.Int, error)
}

// StaticOracle is a settable in-memory oracle for tests and fixed-rate
// deployments.
type StaticOracle struct {
	mu    sync.RWMutex
	price *big.Int
}

func NewStaticOracle(price *big.Int) *StaticOracle {
	o := &StaticOracle{}
	if price != nil {
		o.price = new(big.Int).Set(price)
	}
	return o
}

// SetPrice replaces the reported price.
func (o *StaticOracle) SetPrice(price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = new(big.Int).Set(price)
}

// Price returns the configured price.
func (o *StaticOracle) Price() (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price == nil {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(o.price), nil
}
