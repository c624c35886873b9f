// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements the issuance ledger: the mint/redeem/yield
// engine that owns the total-issued and reserve-under-custody counters
// and routes redemptions to the buffer or the custodian.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/stable/buffer"
	"github.com/luxfi/stable/events"
	"github.com/luxfi/stable/oracle"
	"github.com/luxfi/stable/policy"
	"github.com/luxfi/stable/token"
	"github.com/luxfi/stable/utils/clock"
)

var (
	ErrUnauthorizedCaller    = errors.New("unauthorized caller")
	ErrZeroAddress           = errors.New("zero address")
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrZeroOutput            = errors.New("output amount is zero")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInvalidPrice          = errors.New("invalid nav price")
	ErrAmountExceedsIssuance = errors.New("amount exceeds total issuance")
	ErrNoYieldAvailable      = errors.New("no yield available")
	ErrFeeTooHigh            = errors.New("fee exceeds maximum")

	// MaxFeeBps bounds both the mint and redemption fee rates.
	MaxFeeBps uint16 = 1000

	scale18  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	bpsDenom = big.NewInt(10000)
)

// YieldReceiver is notified synchronously when yield is distributed.
// A failure aborts the whole distribution.
type YieldReceiver interface {
	ProcessNewYield(amount *big.Int) error
}

// Config wires a Ledger's collaborators and initial fee rates.
type Config struct {
	Issued   *token.Token
	Reserve  *token.Token
	Buffer   *buffer.Buffer
	Oracle   oracle.PriceOracle
	Policy   policy.AccessPolicy
	Address  ids.ShortID // the ledger's caller identity toward the buffer
	Treasury ids.ShortID

	YieldReceiver YieldReceiver
	YieldAddress  ids.ShortID // token account yield is minted to

	MintFeeBps       uint16
	RedemptionFeeBps uint16

	Events events.Emitter
	Clock  *clock.Clock
	Log    log.Logger
}

// Ledger issues and redeems the stable token against the reserve asset
// at the oracle rate. All operations are serialized behind one mutex;
// every failure leaves the ledger untouched.
type Ledger struct {
	mu sync.Mutex

	issued  *token.Token
	reserve *token.Token
	buf     *buffer.Buffer
	oracle  oracle.PriceOracle
	policy  policy.AccessPolicy

	addr     ids.ShortID
	treasury ids.ShortID

	yieldReceiver YieldReceiver
	yieldAddr     ids.ShortID

	mintFeeBps       uint16
	redemptionFeeBps uint16

	// totalIssued mirrors the issued token's circulating supply.
	totalIssued *big.Int
	// totalReserveUnderCustody tracks reserve attributed to the
	// system: increased on mint, decreased on buffer-served
	// redemptions only. Custodian-path redemptions settle off-book
	// (see DESIGN.md).
	totalReserveUnderCustody *big.Int

	events events.Emitter
	clk    *clock.Clock
	log    log.Logger
}

func New(cfg Config) (*Ledger, error) {
	switch {
	case cfg.Issued == nil || cfg.Reserve == nil || cfg.Buffer == nil ||
		cfg.Oracle == nil || cfg.Policy == nil || cfg.Clock == nil:
		return nil, errors.New("missing collaborator")
	case cfg.Address == ids.ShortEmpty || cfg.Treasury == ids.ShortEmpty:
		return nil, ErrZeroAddress
	case cfg.MintFeeBps > MaxFeeBps || cfg.RedemptionFeeBps > MaxFeeBps:
		return nil, ErrFeeTooHigh
	}

	emitter := cfg.Events
	if emitter == nil {
		emitter = events.NoOp{}
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.NoLog{}
	}

	return &Ledger{
		issued:                   cfg.Issued,
		reserve:                  cfg.Reserve,
		buf:                      cfg.Buffer,
		oracle:                   cfg.Oracle,
		policy:                   cfg.Policy,
		addr:                     cfg.Address,
		treasury:                 cfg.Treasury,
		yieldReceiver:            cfg.YieldReceiver,
		yieldAddr:                cfg.YieldAddress,
		mintFeeBps:               cfg.MintFeeBps,
		redemptionFeeBps:         cfg.RedemptionFeeBps,
		totalIssued:              big.NewInt(0),
		totalReserveUnderCustody: big.NewInt(0),
		events:                   emitter,
		clk:                      cfg.Clock,
		log:                      logger,
	}, nil
}

// TotalIssued returns the circulating issued-token supply attributed
// to the ledger.
func (l *Ledger) TotalIssued() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.totalIssued)
}

// TotalReserveUnderCustody returns the reserve attributed to the
// system (buffer plus custodian-held). Implements buffer.AUMProvider.
func (l *Ledger) TotalReserveUnderCustody() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.totalReserveUnderCustody)
}

// MintFeeBps returns the current mint fee rate.
func (l *Ledger) MintFeeBps() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mintFeeBps
}

// RedemptionFeeBps returns the current redemption fee rate.
func (l *Ledger) RedemptionFeeBps() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redemptionFeeBps
}

// rate reads the oracle and rejects a missing or zero price.
func (l *Ledger) rate() (*big.Int, error) {
	rate, err := l.oracle.Price()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, err)
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return rate, nil
}

// Mint converts reserveAmount of the caller's reserve into newly
// issued stable tokens for recipient at the oracle rate, less the mint
// fee. Returns the issued amount.
func (l *Ledger) Mint(caller, recipient ids.ShortID, reserveAmount, minOut *big.Int) (*big.Int, error) {
	if !l.policy.IsWhitelisted(caller) {
		return nil, ErrUnauthorizedCaller
	}
	if recipient == ids.ShortEmpty {
		return nil, ErrZeroAddress
	}
	if reserveAmount == nil || reserveAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rate, err := l.rate()
	if err != nil {
		return nil, err
	}

	fee := new(big.Int).Mul(reserveAmount, big.NewInt(int64(l.mintFeeBps)))
	fee.Div(fee, bpsDenom)
	netReserve := new(big.Int).Sub(reserveAmount, fee)

	issuedAmount := new(big.Int).Mul(netReserve, rate)
	issuedAmount.Div(issuedAmount, scale18)
	if issuedAmount.Sign() == 0 {
		return nil, ErrZeroOutput
	}
	if minOut != nil && issuedAmount.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: out %s, min %s", ErrSlippageExceeded, issuedAmount, minOut)
	}

	// The caller must cover fee + net in one balance so no transfer
	// can fail after the first has been applied.
	if have := l.reserve.BalanceOf(caller); have.Cmp(reserveAmount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", token.ErrInsufficientBalance, have, reserveAmount)
	}

	if fee.Sign() > 0 {
		if err := l.reserve.Transfer(caller, l.treasury, fee); err != nil {
			return nil, err
		}
	}
	if err := l.reserve.Transfer(caller, l.buf.Address(), netReserve); err != nil {
		return nil, err
	}
	if err := l.issued.Mint(recipient, issuedAmount); err != nil {
		return nil, err
	}

	l.totalReserveUnderCustody.Add(l.totalReserveUnderCustody, netReserve)
	l.totalIssued.Add(l.totalIssued, issuedAmount)

	l.events.Emit(&events.Issuance{
		Recipient:  recipient,
		NetReserve: new(big.Int).Set(netReserve),
		Issued:     new(big.Int).Set(issuedAmount),
		Rate:       new(big.Int).Set(rate),
		FeeBps:     l.mintFeeBps,
		Timestamp:  l.clk.Time(),
	})
	l.log.Info("minted",
		"recipient", recipient,
		"netReserve", netReserve,
		"issued", issuedAmount,
		"rate", rate,
	)
	return issuedAmount, nil
}

// Redeem burns issuedAmount from the caller and pays out reserve to
// recipient, less the redemption fee. Redemptions the buffer can cover
// in full are served from it; otherwise the custodian is asked to fund
// the recipient and treasury directly. Returns the net reserve paid
// and whether the buffer served it.
func (l *Ledger) Redeem(caller, recipient ids.ShortID, issuedAmount, minOut *big.Int) (*big.Int, bool, error) {
	if !l.policy.IsWhitelisted(caller) {
		return nil, false, ErrUnauthorizedCaller
	}
	if recipient == ids.ShortEmpty {
		return nil, false, ErrZeroAddress
	}
	// The buffer cannot pay out to its own account; reject before any
	// state is touched so a failed redemption burns nothing.
	if recipient == l.buf.Address() {
		return nil, false, ErrInvalidRecipient
	}
	if issuedAmount == nil || issuedAmount.Sign() <= 0 {
		return nil, false, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if issuedAmount.Cmp(l.totalIssued) > 0 {
		return nil, false, fmt.Errorf("%w: requested %s, issued %s", ErrAmountExceedsIssuance, issuedAmount, l.totalIssued)
	}

	rate, err := l.rate()
	if err != nil {
		return nil, false, err
	}

	grossReserve := new(big.Int).Mul(issuedAmount, scale18)
	grossReserve.Div(grossReserve, rate)
	if grossReserve.Sign() == 0 {
		return nil, false, ErrZeroOutput
	}

	fee := new(big.Int).Mul(grossReserve, big.NewInt(int64(l.redemptionFeeBps)))
	fee.Div(fee, bpsDenom)
	netReserveOut := new(big.Int).Sub(grossReserve, fee)
	if minOut != nil && netReserveOut.Cmp(minOut) < 0 {
		return nil, false, fmt.Errorf("%w: out %s, min %s", ErrSlippageExceeded, netReserveOut, minOut)
	}

	if have := l.issued.BalanceOf(caller); have.Cmp(issuedAmount) < 0 {
		return nil, false, fmt.Errorf("%w: have %s, need %s", token.ErrInsufficientBalance, have, issuedAmount)
	}

	// Path selection: the buffer serves the redemption iff it can
	// cover the gross amount, with exact equality routed to the
	// buffer.
	servedFromBuffer := l.buf.Available().Cmp(grossReserve) >= 0

	if err := l.issued.Burn(caller, issuedAmount); err != nil {
		return nil, false, err
	}
	l.totalIssued.Sub(l.totalIssued, issuedAmount)

	if servedFromBuffer {
		if fee.Sign() > 0 {
			if err := l.buf.ProcessTransfer(l.addr, l.treasury, fee); err != nil {
				return nil, false, err
			}
		}
		if err := l.buf.ProcessTransfer(l.addr, recipient, netReserveOut); err != nil {
			return nil, false, err
		}
		l.totalReserveUnderCustody.Sub(l.totalReserveUnderCustody, grossReserve)
	} else {
		// Slow path: the custodian funds recipient and treasury
		// directly. Custody is intentionally not decremented here.
		l.events.Emit(&events.CustodianRedemption{
			Custodian: l.buf.Custodian(),
			Recipient: recipient,
			Treasury:  l.treasury,
			Net:       new(big.Int).Set(netReserveOut),
			Fee:       new(big.Int).Set(fee),
			Timestamp: l.clk.Time(),
		})
	}

	l.events.Emit(&events.Redemption{
		Recipient:        recipient,
		Burned:           new(big.Int).Set(issuedAmount),
		GrossReserve:     new(big.Int).Set(grossReserve),
		NetReserve:       new(big.Int).Set(netReserveOut),
		Fee:              new(big.Int).Set(fee),
		Rate:             new(big.Int).Set(rate),
		ServedFromBuffer: servedFromBuffer,
		Timestamp:        l.clk.Time(),
	})
	l.log.Info("redeemed",
		"recipient", recipient,
		"burned", issuedAmount,
		"netReserve", netReserveOut,
		"servedFromBuffer", servedFromBuffer,
	)
	return netReserveOut, servedFromBuffer, nil
}

// ProcessYield mints the appreciation of the reserve, measured at the
// oracle rate, to the yield receiver. Custody is unchanged: yield
// originates from price appreciation, not new reserve. The receiver is
// notified synchronously; its failure aborts the distribution.
func (l *Ledger) ProcessYield(caller ids.ShortID) (*big.Int, error) {
	if !l.policy.IsAdmin(caller) {
		return nil, ErrUnauthorizedCaller
	}
	if l.yieldReceiver == nil || l.yieldAddr == ids.ShortEmpty {
		return nil, errors.New("yield receiver not configured")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rate, err := l.rate()
	if err != nil {
		return nil, err
	}

	collateralValue := new(big.Int).Mul(l.totalReserveUnderCustody, rate)
	collateralValue.Div(collateralValue, scale18)
	if collateralValue.Cmp(l.totalIssued) <= 0 {
		return nil, fmt.Errorf("%w: collateral value %s, issued %s", ErrNoYieldAvailable, collateralValue, l.totalIssued)
	}

	yieldIssued := new(big.Int).Sub(collateralValue, l.totalIssued)
	if err := l.issued.Mint(l.yieldAddr, yieldIssued); err != nil {
		return nil, err
	}
	l.totalIssued.Add(l.totalIssued, yieldIssued)

	if err := l.yieldReceiver.ProcessNewYield(new(big.Int).Set(yieldIssued)); err != nil {
		// Roll the mint back so the failed distribution commits
		// nothing. The notification is synchronous and serialized, so
		// the minted tokens cannot have moved.
		if burnErr := l.issued.Burn(l.yieldAddr, yieldIssued); burnErr != nil {
			return nil, errors.Join(err, burnErr)
		}
		l.totalIssued.Sub(l.totalIssued, yieldIssued)
		return nil, fmt.Errorf("yield receiver rejected distribution: %w", err)
	}

	l.events.Emit(&events.Yield{
		Receiver:  l.yieldAddr,
		Amount:    new(big.Int).Set(yieldIssued),
		Rate:      new(big.Int).Set(rate),
		Timestamp: l.clk.Time(),
	})
	l.log.Info("yield distributed",
		"receiver", l.yieldAddr,
		"amount", yieldIssued,
		"rate", rate,
	)
	return yieldIssued, nil
}

// BurnExcess burns amount of the admin's own issued balance, shrinking
// totalIssued without touching custody.
func (l *Ledger) BurnExcess(caller ids.ShortID, amount *big.Int) error {
	if !l.policy.IsAdmin(caller) {
		return ErrUnauthorizedCaller
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.Cmp(l.totalIssued) > 0 {
		return fmt.Errorf("%w: requested %s, issued %s", ErrAmountExceedsIssuance, amount, l.totalIssued)
	}
	if err := l.issued.Burn(caller, amount); err != nil {
		return err
	}
	l.totalIssued.Sub(l.totalIssued, amount)
	return nil
}

// SetMintFee updates the mint fee rate. Admin only; bounded by
// MaxFeeBps.
func (l *Ledger) SetMintFee(caller ids.ShortID, bps uint16) error {
	if !l.policy.IsAdmin(caller) {
		return ErrUnauthorizedCaller
	}
	if bps > MaxFeeBps {
		return fmt.Errorf("%w: %d bps, max %d", ErrFeeTooHigh, bps, MaxFeeBps)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.mintFeeBps = bps
	return nil
}

// SetRedemptionFee updates the redemption fee rate. Admin only;
// bounded by MaxFeeBps.
func (l *Ledger) SetRedemptionFee(caller ids.ShortID, bps uint16) error {
	if !l.policy.IsAdmin(caller) {
		return ErrUnauthorizedCaller
	}
	if bps > MaxFeeBps {
		return fmt.Errorf("%w: %d bps, max %d", ErrFeeTooHigh, bps, MaxFeeBps)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.redemptionFeeBps = bps
	return nil
}

// Restore replaces the ledger's counters and fee rates from a
// persisted snapshot.
func (l *Ledger) Restore(totalIssued, custody *big.Int, mintFeeBps, redemptionFeeBps uint16) error {
	if totalIssued == nil || totalIssued.Sign() < 0 || custody == nil || custody.Sign() < 0 {
		return ErrInvalidAmount
	}
	if mintFeeBps > MaxFeeBps || redemptionFeeBps > MaxFeeBps {
		return ErrFeeTooHigh
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalIssued = new(big.Int).Set(totalIssued)
	l.totalReserveUnderCustody = new(big.Int).Set(custody)
	l.mintFeeBps = mintFeeBps
	l.redemptionFeeBps = redemptionFeeBps
	return nil
}
