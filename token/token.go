// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token implements the in-memory balance books for the issued
// stable token and the reserve asset. All amounts are unsigned
// fixed-point integers scaled by 1e18.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/ids"
)

var (
	ErrZeroAddress         = errors.New("zero address")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Token is a mutex-serialized fungible balance book. Supply is created
// by Mint, destroyed by Burn, and conserved by Transfer.
type Token struct {
	mu          sync.RWMutex
	name        string
	balances    map[ids.ShortID]*big.Int
	totalSupply *big.Int
}

func New(name string) *Token {
	return &Token{
		name:        name,
		balances:    make(map[ids.ShortID]*big.Int),
		totalSupply: big.NewInt(0),
	}
}

func (t *Token) Name() string {
	return t.name
}

// Mint credits amount to addr, growing total supply.
func (t *Token) Mint(addr ids.ShortID, amount *big.Int) error {
	if addr == ids.ShortEmpty {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.credit(addr, amount)
	t.totalSupply.Add(t.totalSupply, amount)
	return nil
}

// Burn debits amount from addr, shrinking total supply.
func (t *Token) Burn(addr ids.ShortID, amount *big.Int) error {
	if addr == ids.ShortEmpty {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.debit(addr, amount); err != nil {
		return err
	}
	t.totalSupply.Sub(t.totalSupply, amount)
	return nil
}

// Transfer moves amount from one holder to another. Supply is
// unchanged.
func (t *Token) Transfer(from, to ids.ShortID, amount *big.Int) error {
	if from == ids.ShortEmpty || to == ids.ShortEmpty {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

// BalanceOf returns a copy of addr's balance.
func (t *Token) BalanceOf(addr ids.ShortID) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	balance, ok := t.balances[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// TotalSupply returns a copy of the current total supply.
func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

// Balances returns a copy of every non-zero balance, for snapshots and
// audit tooling.
func (t *Token) Balances() map[ids.ShortID]*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[ids.ShortID]*big.Int, len(t.balances))
	for addr, balance := range t.balances {
		if balance.Sign() > 0 {
			out[addr] = new(big.Int).Set(balance)
		}
	}
	return out
}

// Restore replaces the book's contents with a persisted snapshot. The
// supplied total must equal the sum of the balances.
func (t *Token) Restore(balances map[ids.ShortID]*big.Int, total *big.Int) error {
	sum := big.NewInt(0)
	restored := make(map[ids.ShortID]*big.Int, len(balances))
	for addr, balance := range balances {
		if addr == ids.ShortEmpty {
			return ErrZeroAddress
		}
		if balance == nil || balance.Sign() < 0 {
			return ErrInvalidAmount
		}
		restored[addr] = new(big.Int).Set(balance)
		sum.Add(sum, balance)
	}
	if total == nil || sum.Cmp(total) != 0 {
		return fmt.Errorf("%w: balances sum to %s, snapshot total is %s", ErrInvalidAmount, sum, total)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = restored
	t.totalSupply = new(big.Int).Set(total)
	return nil
}

// credit must be called with the lock held.
func (t *Token) credit(addr ids.ShortID, amount *big.Int) {
	balance, ok := t.balances[addr]
	if !ok {
		balance = big.NewInt(0)
		t.balances[addr] = balance
	}
	balance.Add(balance, amount)
}

// debit must be called with the lock held.
func (t *Token) debit(addr ids.ShortID, amount *big.Int) error {
	balance, ok := t.balances[addr]
	if !ok || balance.Cmp(amount) < 0 {
		have := big.NewInt(0)
		if ok {
			have = balance
		}
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amount)
	}
	balance.Sub(balance, amount)
	return nil
}
