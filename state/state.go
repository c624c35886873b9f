// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state persists the engine's observable surface: ledger
// counters, token balance books, buffer settings, and the vault share
// and cooldown records.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
)

var (
	ErrStateCorrupted = errors.New("state corrupted")

	// Database prefixes
	prefixLedger   = []byte("ledger")
	prefixBuffer   = []byte("buffer")
	prefixVault    = []byte("vault")
	prefixPolicy   = []byte("policy")
	prefixBalances = []byte("balances:")
)

// LedgerState is the persisted issuance-ledger surface.
type LedgerState struct {
	TotalIssued              *big.Int `json:"totalIssued"`
	TotalReserveUnderCustody *big.Int `json:"totalReserveUnderCustody"`
	MintFeeBps               uint16   `json:"mintFeeBps"`
	RedemptionFeeBps         uint16   `json:"redemptionFeeBps"`
}

// BufferState is the persisted buffer configuration. The buffer's
// balance itself lives in the reserve token's balance book.
type BufferState struct {
	TargetPercentageBps uint16      `json:"targetPercentageBps"`
	MinimumBalance      *big.Int    `json:"minimumBalance"`
	Custodian           ids.ShortID `json:"custodian"`
}

// CooldownState is one holder's pending withdrawal.
type CooldownState struct {
	UnderlyingAmount *big.Int  `json:"underlyingAmount"`
	UnlockAt         time.Time `json:"unlockAt"`
}

// VaultState is the persisted vault surface. Maps are keyed by the
// holder's string form so the encoding stays readable in audits.
type VaultState struct {
	Shares           map[string]*big.Int       `json:"shares"`
	Cooldowns        map[string]*CooldownState `json:"cooldowns"`
	CooldownDuration time.Duration             `json:"cooldownDuration"`
	FastExitEnabled  bool                      `json:"fastExitEnabled"`
	FastExitFeeBps   uint16                    `json:"fastExitFeeBps"`
}

// PolicyState is the persisted role assignment.
type PolicyState struct {
	Whitelisted []ids.ShortID `json:"whitelisted"`
	Admins      []ids.ShortID `json:"admins"`
	Restricted  []ids.ShortID `json:"restricted"`
}

// Store reads and writes engine snapshots. All writes in a Save go
// through one batch so a crash never leaves half a snapshot.
type Store struct {
	db database.Database
}

func New(db database.Database) *Store {
	return &Store{db: db}
}

func (s *Store) put(batch database.Batch, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return batch.Put(key, data)
}

func (s *Store) get(key []byte, v interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s", ErrStateCorrupted, err)
	}
	return true, nil
}

func balancesKey(token string) []byte {
	return append(prefixBalances, token...)
}

// SaveLedger persists the ledger counters and fee rates.
func (s *Store) SaveLedger(batch database.Batch, ls *LedgerState) error {
	return s.put(batch, prefixLedger, ls)
}

// LoadLedger returns the persisted ledger surface, or false when none
// has been written yet.
func (s *Store) LoadLedger() (*LedgerState, bool, error) {
	ls := &LedgerState{}
	ok, err := s.get(prefixLedger, ls)
	if !ok || err != nil {
		return nil, false, err
	}
	if ls.TotalIssued == nil || ls.TotalReserveUnderCustody == nil {
		return nil, false, ErrStateCorrupted
	}
	return ls, true, nil
}

// SaveBuffer persists the buffer configuration.
func (s *Store) SaveBuffer(batch database.Batch, bs *BufferState) error {
	return s.put(batch, prefixBuffer, bs)
}

// LoadBuffer returns the persisted buffer configuration.
func (s *Store) LoadBuffer() (*BufferState, bool, error) {
	bs := &BufferState{}
	ok, err := s.get(prefixBuffer, bs)
	if !ok || err != nil {
		return nil, false, err
	}
	return bs, true, nil
}

// SaveVault persists the vault surface.
func (s *Store) SaveVault(batch database.Batch, vs *VaultState) error {
	return s.put(batch, prefixVault, vs)
}

// LoadVault returns the persisted vault surface.
func (s *Store) LoadVault() (*VaultState, bool, error) {
	vs := &VaultState{}
	ok, err := s.get(prefixVault, vs)
	if !ok || err != nil {
		return nil, false, err
	}
	return vs, true, nil
}

// SavePolicy persists the role assignment.
func (s *Store) SavePolicy(batch database.Batch, ps *PolicyState) error {
	return s.put(batch, prefixPolicy, ps)
}

// LoadPolicy returns the persisted role assignment.
func (s *Store) LoadPolicy() (*PolicyState, bool, error) {
	ps := &PolicyState{}
	ok, err := s.get(prefixPolicy, ps)
	if !ok || err != nil {
		return nil, false, err
	}
	return ps, true, nil
}

// SaveBalances persists one token's balance book under its name.
func (s *Store) SaveBalances(batch database.Batch, token string, balances map[ids.ShortID]*big.Int) error {
	book := make(map[string]*big.Int, len(balances))
	for addr, bal := range balances {
		book[addr.String()] = bal
	}
	return s.put(batch, balancesKey(token), book)
}

// LoadBalances returns one token's persisted balance book.
func (s *Store) LoadBalances(token string) (map[ids.ShortID]*big.Int, bool, error) {
	book := make(map[string]*big.Int)
	ok, err := s.get(balancesKey(token), &book)
	if !ok || err != nil {
		return nil, false, err
	}
	balances := make(map[ids.ShortID]*big.Int, len(book))
	for addr, bal := range book {
		id, err := ids.ShortFromString(addr)
		if err != nil {
			return nil, false, fmt.Errorf("%w: bad address %q", ErrStateCorrupted, addr)
		}
		if bal == nil || bal.Sign() < 0 {
			return nil, false, fmt.Errorf("%w: bad balance for %q", ErrStateCorrupted, addr)
		}
		balances[id] = bal
	}
	return balances, true, nil
}

// NewBatch starts a snapshot write.
func (s *Store) NewBatch() database.Batch {
	return s.db.NewBatch()
}
