// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package buffer implements the fast-access liquidity buffer serving
// immediate redemptions without custodian involvement.
package buffer

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/stable/events"
	"github.com/luxfi/stable/policy"
	"github.com/luxfi/stable/token"
	"github.com/luxfi/stable/utils/clock"
)

var (
	ErrUnauthorizedCaller        = errors.New("unauthorized caller")
	ErrInvalidReceiver           = errors.New("invalid receiver")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInsufficientBufferBalance = errors.New("insufficient buffer balance")
	ErrPercentageTooHigh         = errors.New("target percentage exceeds 10000 bps")
	ErrZeroAddress               = errors.New("zero address")

	// MaxBps is the basis-point denominator: 10000 bps = 100%.
	MaxBps = big.NewInt(10000)
)

// AUMProvider reports the live assets-under-management the buffer
// targets a slice of. Implemented by the issuance ledger.
type AUMProvider interface {
	TotalReserveUnderCustody() *big.Int
}

// RebalanceAction describes what a Rebalance call did.
type RebalanceAction uint8

const (
	// NoChange: the buffer already sits exactly on target.
	NoChange RebalanceAction = iota
	// TopUpRequested: a shortfall was reported to the custodian; no
	// local balance change.
	TopUpRequested
	// ExcessPushed: surplus was transferred to the custodian.
	ExcessPushed
)

func (a RebalanceAction) String() string {
	switch a {
	case NoChange:
		return "no_change"
	case TopUpRequested:
		return "top_up_requested"
	case ExcessPushed:
		return "excess_pushed"
	default:
		return "unknown"
	}
}

// RebalanceResult reports the action taken and the amount it covered.
type RebalanceResult struct {
	Action RebalanceAction
	Amount *big.Int
	Target *big.Int
}

// Config wires a Buffer's collaborators and initial parameters.
type Config struct {
	Reserve        *token.Token
	Address        ids.ShortID
	Custodian      ids.ShortID
	Issuer         ids.ShortID
	AUM            AUMProvider
	Policy         policy.AccessPolicy
	TargetBps      uint16
	MinimumBalance *big.Int
	Events         events.Emitter
	Clock          *clock.Clock
	Log            log.Logger
}

// Buffer holds a slice of reserve assets for immediate redemptions and
// rebalances against a target derived from reported AUM.
type Buffer struct {
	mu sync.Mutex

	reserve   *token.Token
	addr      ids.ShortID
	custodian ids.ShortID
	issuer    ids.ShortID
	aum       AUMProvider
	policy    policy.AccessPolicy

	targetBps      uint16
	minimumBalance *big.Int

	events events.Emitter
	clk    *clock.Clock
	log    log.Logger
}

func New(cfg Config) (*Buffer, error) {
	switch {
	// AUM may be bound late via SetAUMProvider: the ledger implements
	// it but needs the buffer to be constructed first.
	case cfg.Reserve == nil || cfg.Policy == nil || cfg.Clock == nil:
		return nil, errors.New("missing collaborator")
	case cfg.Address == ids.ShortEmpty || cfg.Custodian == ids.ShortEmpty || cfg.Issuer == ids.ShortEmpty:
		return nil, ErrZeroAddress
	case cfg.TargetBps > 10000:
		return nil, ErrPercentageTooHigh
	}

	minimum := big.NewInt(0)
	if cfg.MinimumBalance != nil {
		if cfg.MinimumBalance.Sign() < 0 {
			return nil, ErrInvalidAmount
		}
		minimum = new(big.Int).Set(cfg.MinimumBalance)
	}

	emitter := cfg.Events
	if emitter == nil {
		emitter = events.NoOp{}
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.NoLog{}
	}

	return &Buffer{
		reserve:        cfg.Reserve,
		addr:           cfg.Address,
		custodian:      cfg.Custodian,
		issuer:         cfg.Issuer,
		aum:            cfg.AUM,
		policy:         cfg.Policy,
		targetBps:      cfg.TargetBps,
		minimumBalance: minimum,
		events:         emitter,
		clk:            cfg.Clock,
		log:            logger,
	}, nil
}

// SetAUMProvider binds the AUM source. Must be called before Target
// or Rebalance when construction left it nil.
func (b *Buffer) SetAUMProvider(aum AUMProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aum = aum
}

// Address returns the buffer's reserve account.
func (b *Buffer) Address() ids.ShortID {
	return b.addr
}

// Available returns the reserve balance currently held by the buffer.
func (b *Buffer) Available() *big.Int {
	return b.reserve.BalanceOf(b.addr)
}

// Custodian returns the configured custodian address.
func (b *Buffer) Custodian() ids.ShortID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.custodian
}

// TargetPercentageBps returns the configured AUM fraction in bps.
func (b *Buffer) TargetPercentageBps() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.targetBps
}

// MinimumBalance returns the absolute floor on the rebalance target.
func (b *Buffer) MinimumBalance() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.minimumBalance)
}

// Target returns max(AUM * targetBps / 10000, minimumBalance) with AUM
// read live from the issuance ledger.
func (b *Buffer) Target() *big.Int {
	aum := b.provider().TotalReserveUnderCustody()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target(aum)
}

func (b *Buffer) provider() AUMProvider {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aum
}

// target must be called with the lock held.
func (b *Buffer) target(aum *big.Int) *big.Int {
	t := new(big.Int).Mul(aum, big.NewInt(int64(b.targetBps)))
	t.Div(t, MaxBps)
	if t.Cmp(b.minimumBalance) < 0 {
		t.Set(b.minimumBalance)
	}
	return t
}

// ProcessTransfer moves amount from the buffer to receiver. Only the
// issuance ledger may call it.
func (b *Buffer) ProcessTransfer(caller, receiver ids.ShortID, amount *big.Int) error {
	if caller != b.issuer {
		return ErrUnauthorizedCaller
	}
	if receiver == ids.ShortEmpty || receiver == b.addr {
		return ErrInvalidReceiver
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	available := b.reserve.BalanceOf(b.addr)
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBufferBalance, amount, available)
	}
	if err := b.reserve.Transfer(b.addr, receiver, amount); err != nil {
		return err
	}

	b.events.Emit(&events.BufferTransfer{
		Receiver:  receiver,
		Amount:    new(big.Int).Set(amount),
		Timestamp: b.clk.Time(),
	})
	return nil
}

// Rebalance converges the buffer toward its target. Callable by
// anyone: it only moves funds toward a deterministic target. A
// shortfall is reported to the custodian for an asynchronous push; a
// surplus is transferred out immediately.
func (b *Buffer) Rebalance() (*RebalanceResult, error) {
	// Read AUM before taking the lock: the provider is the ledger,
	// which takes its own lock.
	aum := b.provider().TotalReserveUnderCustody()

	b.mu.Lock()
	defer b.mu.Unlock()

	target := b.target(aum)
	available := b.reserve.BalanceOf(b.addr)

	switch available.Cmp(target) {
	case 0:
		return &RebalanceResult{Action: NoChange, Amount: big.NewInt(0), Target: target}, nil

	case -1:
		shortfall := new(big.Int).Sub(target, available)
		b.events.Emit(&events.TopUpRequested{
			Custodian: b.custodian,
			Amount:    new(big.Int).Set(shortfall),
			Timestamp: b.clk.Time(),
		})
		b.log.Info("buffer top-up requested",
			"custodian", b.custodian,
			"shortfall", shortfall,
			"target", target,
		)
		return &RebalanceResult{Action: TopUpRequested, Amount: shortfall, Target: target}, nil

	default:
		excess := new(big.Int).Sub(available, target)
		if err := b.reserve.Transfer(b.addr, b.custodian, excess); err != nil {
			return nil, err
		}
		b.events.Emit(&events.ExcessPushed{
			Custodian: b.custodian,
			Amount:    new(big.Int).Set(excess),
			Timestamp: b.clk.Time(),
		})
		b.log.Info("buffer excess pushed to custodian",
			"custodian", b.custodian,
			"excess", excess,
			"target", target,
		)
		return &RebalanceResult{Action: ExcessPushed, Amount: excess, Target: target}, nil
	}
}

// Restore replaces the buffer settings from a persisted snapshot.
func (b *Buffer) Restore(targetBps uint16, minimum *big.Int, custodian ids.ShortID) error {
	if targetBps > 10000 {
		return ErrPercentageTooHigh
	}
	if minimum == nil || minimum.Sign() < 0 {
		return ErrInvalidAmount
	}
	if custodian == ids.ShortEmpty {
		return ErrZeroAddress
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.targetBps = targetBps
	b.minimumBalance = new(big.Int).Set(minimum)
	b.custodian = custodian
	return nil
}

// SetTargetPercentage updates the AUM fraction. Admin only.
func (b *Buffer) SetTargetPercentage(caller ids.ShortID, bps uint16) error {
	if !b.policy.IsAdmin(caller) {
		return ErrUnauthorizedCaller
	}
	if bps > 10000 {
		return ErrPercentageTooHigh
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.targetBps = bps
	return nil
}

// SetMinimumBalance updates the absolute target floor. Admin only.
func (b *Buffer) SetMinimumBalance(caller ids.ShortID, minimum *big.Int) error {
	if !b.policy.IsAdmin(caller) {
		return ErrUnauthorizedCaller
	}
	if minimum == nil || minimum.Sign() < 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.minimumBalance = new(big.Int).Set(minimum)
	return nil
}

// SetCustodian updates the custodian address. Admin only.
func (b *Buffer) SetCustodian(caller, custodian ids.ShortID) error {
	if !b.policy.IsAdmin(caller) {
		return ErrUnauthorizedCaller
	}
	if custodian == ids.ShortEmpty {
		return ErrZeroAddress
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.custodian = custodian
	return nil
}
