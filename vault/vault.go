// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault implements the share-based staking vault over the
// stable token: deposits mint shares at the current share price,
// newly injected rewards vest linearly, and exits go through a
// cooldown, a fee-bearing fast path, or (when cooldown is disabled)
// instant withdrawal.
package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/stable/events"
	"github.com/luxfi/stable/policy"
	"github.com/luxfi/stable/token"
	"github.com/luxfi/stable/utils/clock"
)

var (
	ErrUnauthorizedCaller      = errors.New("unauthorized caller")
	ErrZeroAddress             = errors.New("zero address")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrZeroShares              = errors.New("share amount is zero")
	ErrMinSharesViolation      = errors.New("total shares below minimum")
	ErrOperationNotAllowed     = errors.New("operation not allowed")
	ErrExcessiveRedeemAmount   = errors.New("redeem amount exceeds share balance")
	ErrExcessiveWithdrawAmount = errors.New("withdraw amount exceeds max withdrawable")
	ErrFastRedeemDisabled      = errors.New("fast redeem disabled")
	ErrInvalidFastRedeemFee    = errors.New("invalid fast redeem fee")
	ErrNoActiveCooldown        = errors.New("no active cooldown")
	ErrCooldownNotFinished     = errors.New("cooldown not finished")
	ErrInvalidCooldown         = errors.New("invalid cooldown duration")
	ErrStillVesting            = errors.New("previous rewards still vesting")

	// MinShares is the floor on a non-zero total share supply. A vault
	// whose supply could land in (0, MinShares) is manipulable through
	// share-price rounding, so every share burn re-checks this bound.
	MinShares = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// MaxCooldownDuration bounds the administrative cooldown setting.
	MaxCooldownDuration = 90 * 24 * time.Hour

	// MaxFastExitFeeBps bounds the fast-exit fee rate. Zero is also
	// rejected: a free fast exit would make the cooldown meaningless.
	MaxFastExitFeeBps uint16 = 1000

	bpsDenom = big.NewInt(10000)
)

// Config wires a Vault's collaborators and initial settings.
type Config struct {
	Underlying *token.Token
	Policy     policy.AccessPolicy

	Address     ids.ShortID // the vault's account on the underlying token
	SiloAddress ids.ShortID // holds cooling funds, excluded from totalAssets
	FeeTreasury ids.ShortID

	CooldownDuration time.Duration
	VestingPeriod    time.Duration

	FastExitEnabled bool
	FastExitFeeBps  uint16

	Events events.Emitter
	Clock  *clock.Clock
	Log    log.Logger
}

// vestingRecord tracks the most recent reward injection. The injected
// amount is excluded from totalAssets until it linearly vests.
type vestingRecord struct {
	amount *big.Int
	at     time.Time
}

// Vault owns the share book, per-holder cooldown records, the vesting
// schedule, and the fast-exit configuration. One mutex serializes all
// operations; every failure leaves the vault untouched.
type Vault struct {
	mu sync.Mutex

	underlying *token.Token
	policy     policy.AccessPolicy

	addr        ids.ShortID
	silo        ids.ShortID
	feeTreasury ids.ShortID

	shares      map[ids.ShortID]*big.Int
	totalShares *big.Int

	cooldowns        map[ids.ShortID]*Cooldown
	cooldownDuration time.Duration

	vesting       vestingRecord
	vestingPeriod time.Duration

	fastExitEnabled bool
	fastExitFeeBps  uint16

	events events.Emitter
	clk    *clock.Clock
	log    log.Logger
}

func New(cfg Config) (*Vault, error) {
	switch {
	case cfg.Underlying == nil || cfg.Policy == nil || cfg.Clock == nil:
		return nil, errors.New("missing collaborator")
	case cfg.Address == ids.ShortEmpty || cfg.SiloAddress == ids.ShortEmpty || cfg.FeeTreasury == ids.ShortEmpty:
		return nil, ErrZeroAddress
	case cfg.Address == cfg.SiloAddress:
		return nil, errors.New("vault and silo share an address")
	case cfg.CooldownDuration < 0 || cfg.CooldownDuration > MaxCooldownDuration:
		return nil, ErrInvalidCooldown
	case cfg.FastExitFeeBps == 0 || cfg.FastExitFeeBps > MaxFastExitFeeBps:
		return nil, ErrInvalidFastRedeemFee
	case cfg.VestingPeriod < 0:
		return nil, errors.New("negative vesting period")
	}

	emitter := cfg.Events
	if emitter == nil {
		emitter = events.NoOp{}
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.NoLog{}
	}

	return &Vault{
		underlying:       cfg.Underlying,
		policy:           cfg.Policy,
		addr:             cfg.Address,
		silo:             cfg.SiloAddress,
		feeTreasury:      cfg.FeeTreasury,
		shares:           make(map[ids.ShortID]*big.Int),
		totalShares:      big.NewInt(0),
		cooldowns:        make(map[ids.ShortID]*Cooldown),
		cooldownDuration: cfg.CooldownDuration,
		vesting:          vestingRecord{amount: big.NewInt(0)},
		vestingPeriod:    cfg.VestingPeriod,
		fastExitEnabled:  cfg.FastExitEnabled,
		fastExitFeeBps:   cfg.FastExitFeeBps,
		events:           emitter,
		clk:              cfg.Clock,
		log:              logger,
	}, nil
}

// Address returns the vault's account on the underlying token. Yield
// is minted here before ProcessNewYield is called.
func (v *Vault) Address() ids.ShortID { return v.addr }

// SharesOf returns holder's share balance.
func (v *Vault) SharesOf(holder ids.ShortID) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bal, ok := v.shares[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// TotalShares returns the total share supply.
func (v *Vault) TotalShares() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalShares)
}

// TotalAssets returns the underlying backing the share supply: the
// vault's balance minus the still-vesting part of the latest reward
// injection. Cooling funds live in the silo account so they are
// already excluded.
func (v *Vault) TotalAssets() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAssets()
}

func (v *Vault) totalAssets() *big.Int {
	assets := v.underlying.BalanceOf(v.addr)
	return assets.Sub(assets, v.unvested())
}

// unvested returns the part of the last reward injection that has not
// linearly vested yet.
func (v *Vault) unvested() *big.Int {
	if v.vesting.amount.Sign() == 0 || v.vestingPeriod <= 0 {
		return big.NewInt(0)
	}
	elapsed := v.clk.Time().Sub(v.vesting.at)
	if elapsed >= v.vestingPeriod {
		return big.NewInt(0)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	vested := new(big.Int).Mul(v.vesting.amount, big.NewInt(int64(elapsed)))
	vested.Div(vested, big.NewInt(int64(v.vestingPeriod)))
	return new(big.Int).Sub(v.vesting.amount, vested)
}

// convertToShares prices assets in shares at the current share price,
// 1:1 on an empty vault.
func (v *Vault) convertToShares(assets *big.Int) *big.Int {
	total := v.totalAssets()
	if v.totalShares.Sign() == 0 || total.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	shares := new(big.Int).Mul(assets, v.totalShares)
	return shares.Div(shares, total)
}

// convertToAssets prices shares in assets at the current share price,
// 1:1 on an empty vault.
func (v *Vault) convertToAssets(shares *big.Int) *big.Int {
	if v.totalShares.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	assets := new(big.Int).Mul(shares, v.totalAssets())
	return assets.Div(assets, v.totalShares)
}

// checkMinShares enforces the supply floor: after a burn, totalShares
// is either zero or at least MinShares.
func (v *Vault) checkMinShares() error {
	if v.totalShares.Sign() != 0 && v.totalShares.Cmp(MinShares) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrMinSharesViolation, v.totalShares, MinShares)
	}
	return nil
}

func (v *Vault) mintShares(holder ids.ShortID, amount *big.Int) {
	bal, ok := v.shares[holder]
	if !ok {
		bal = big.NewInt(0)
		v.shares[holder] = bal
	}
	bal.Add(bal, amount)
	v.totalShares.Add(v.totalShares, amount)
}

func (v *Vault) burnShares(holder ids.ShortID, amount *big.Int) error {
	bal, ok := v.shares[holder]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrExcessiveRedeemAmount, bal, amount)
	}
	remaining := new(big.Int).Sub(v.totalShares, amount)
	if remaining.Sign() != 0 && remaining.Cmp(MinShares) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrMinSharesViolation, remaining, MinShares)
	}
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(v.shares, holder)
	}
	v.totalShares.Sub(v.totalShares, amount)
	return nil
}

// Deposit stakes assets from caller and mints shares to receiver at
// the current share price. Restricted addresses cannot participate.
func (v *Vault) Deposit(caller, receiver ids.ShortID, assets *big.Int) (*big.Int, error) {
	if receiver == ids.ShortEmpty {
		return nil, ErrZeroAddress
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if v.policy.IsRestricted(caller) || v.policy.IsRestricted(receiver) {
		return nil, ErrOperationNotAllowed
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	shares := v.convertToShares(assets)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := v.underlying.Transfer(caller, v.addr, assets); err != nil {
		return nil, err
	}
	v.mintShares(receiver, shares)

	v.events.Emit(&events.VaultDeposit{
		Caller:    caller,
		Receiver:  receiver,
		Assets:    new(big.Int).Set(assets),
		Shares:    new(big.Int).Set(shares),
		Timestamp: v.clk.Time(),
	})
	v.log.Info("deposit",
		"caller", caller,
		"receiver", receiver,
		"assets", assets,
		"shares", shares,
	)
	return new(big.Int).Set(shares), nil
}

// Redeem burns exactly shares from owner and pays the priced assets to
// receiver. Only available while cooldown is disabled.
func (v *Vault) Redeem(owner, receiver ids.ShortID, shares *big.Int) (*big.Int, error) {
	if receiver == ids.ShortEmpty {
		return nil, ErrZeroAddress
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if v.policy.IsRestricted(owner) || v.policy.IsRestricted(receiver) {
		return nil, ErrOperationNotAllowed
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cooldownDuration != 0 {
		return nil, fmt.Errorf("%w: cooldown is active, use InitiateCooldown", ErrOperationNotAllowed)
	}
	assets := v.convertToAssets(shares)
	if assets.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if err := v.exit(owner, receiver, shares, assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// Withdraw burns the shares worth exactly assets from owner and pays
// assets to receiver. Only available while cooldown is disabled.
func (v *Vault) Withdraw(owner, receiver ids.ShortID, assets *big.Int) (*big.Int, error) {
	if receiver == ids.ShortEmpty {
		return nil, ErrZeroAddress
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if v.policy.IsRestricted(owner) || v.policy.IsRestricted(receiver) {
		return nil, ErrOperationNotAllowed
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cooldownDuration != 0 {
		return nil, fmt.Errorf("%w: cooldown is active, use InitiateCooldownAssets", ErrOperationNotAllowed)
	}
	if bal, ok := v.shares[owner]; !ok || assets.Cmp(v.convertToAssets(bal)) > 0 {
		return nil, fmt.Errorf("%w: requested %s", ErrExcessiveWithdrawAmount, assets)
	}
	shares := v.convertToShares(assets)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := v.exit(owner, receiver, shares, assets); err != nil {
		return nil, err
	}
	return new(big.Int).Set(shares), nil
}

// exit burns owner's shares and pays assets to receiver. Caller holds
// the lock.
func (v *Vault) exit(owner, receiver ids.ShortID, shares, assets *big.Int) error {
	if err := v.burnShares(owner, shares); err != nil {
		return err
	}
	if err := v.underlying.Transfer(v.addr, receiver, assets); err != nil {
		// burnShares already validated the balance; a transfer failure
		// here means the vault account itself is short, which the
		// share book can never cause. Restore and surface.
		v.mintShares(owner, shares)
		return err
	}

	v.events.Emit(&events.VaultWithdrawal{
		Owner:     owner,
		Receiver:  receiver,
		Assets:    new(big.Int).Set(assets),
		Shares:    new(big.Int).Set(shares),
		Timestamp: v.clk.Time(),
	})
	v.log.Info("withdrawal",
		"owner", owner,
		"receiver", receiver,
		"assets", assets,
		"shares", shares,
	)
	return nil
}

// ProcessNewYield registers a reward injection that was already minted
// to the vault's account, starting a fresh vesting window. Fails while
// the previous injection is still vesting so reward accounting never
// overlaps. Implements the ledger's YieldReceiver.
func (v *Vault) ProcessNewYield(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if unvested := v.unvested(); unvested.Sign() > 0 {
		return fmt.Errorf("%w: %s unvested", ErrStillVesting, unvested)
	}
	v.vesting = vestingRecord{
		amount: new(big.Int).Set(amount),
		at:     v.clk.Time(),
	}

	v.events.Emit(&events.RewardsDistributed{
		Amount:    new(big.Int).Set(amount),
		Timestamp: v.clk.Time(),
	})
	v.log.Info("rewards distributed", "amount", amount)
	return nil
}

// Unvested returns the still-vesting part of the latest injection.
func (v *Vault) Unvested() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unvested()
}

// CooldownDuration returns the current cooldown setting.
func (v *Vault) CooldownDuration() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cooldownDuration
}

// FastExitConfig returns the fast-exit switch and fee rate.
func (v *Vault) FastExitConfig() (bool, uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fastExitEnabled, v.fastExitFeeBps
}

// SetCooldownDuration updates the cooldown. Zero disables cooldown,
// re-enabling instant withdraw/redeem and letting pending cooldowns
// claim immediately. Admin only.
func (v *Vault) SetCooldownDuration(caller ids.ShortID, d time.Duration) error {
	if !v.policy.IsAdmin(caller) {
		return ErrUnauthorizedCaller
	}
	if d < 0 || d > MaxCooldownDuration {
		return fmt.Errorf("%w: %s, max %s", ErrInvalidCooldown, d, MaxCooldownDuration)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.cooldownDuration = d
	return nil
}

// SetFastExit updates the fast-exit switch and fee rate. The fee must
// stay within (0, MaxFastExitFeeBps] even while disabled. Admin only.
func (v *Vault) SetFastExit(caller ids.ShortID, enabled bool, feeBps uint16) error {
	if !v.policy.IsAdmin(caller) {
		return ErrUnauthorizedCaller
	}
	if feeBps == 0 || feeBps > MaxFastExitFeeBps {
		return fmt.Errorf("%w: %d bps", ErrInvalidFastRedeemFee, feeBps)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.fastExitEnabled = enabled
	v.fastExitFeeBps = feeBps
	return nil
}

// SetFeeTreasury updates the fast-exit fee destination. Admin only.
func (v *Vault) SetFeeTreasury(caller, treasury ids.ShortID) error {
	if !v.policy.IsAdmin(caller) {
		return ErrUnauthorizedCaller
	}
	if treasury == ids.ShortEmpty {
		return ErrZeroAddress
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.feeTreasury = treasury
	return nil
}

// Shares returns a copy of the share book. Zero balances are elided.
func (v *Vault) Shares() map[ids.ShortID]*big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[ids.ShortID]*big.Int, len(v.shares))
	for holder, bal := range v.shares {
		if bal.Sign() > 0 {
			out[holder] = new(big.Int).Set(bal)
		}
	}
	return out
}

// RestoreSettings replaces the cooldown and fast-exit settings from a
// persisted snapshot.
func (v *Vault) RestoreSettings(cooldown time.Duration, fastExitEnabled bool, fastExitFeeBps uint16) error {
	if cooldown < 0 || cooldown > MaxCooldownDuration {
		return ErrInvalidCooldown
	}
	if fastExitFeeBps == 0 || fastExitFeeBps > MaxFastExitFeeBps {
		return ErrInvalidFastRedeemFee
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.cooldownDuration = cooldown
	v.fastExitEnabled = fastExitEnabled
	v.fastExitFeeBps = fastExitFeeBps
	return nil
}

// Restore replaces the share book and cooldown records from a
// persisted snapshot.
func (v *Vault) Restore(shares map[ids.ShortID]*big.Int, cooldowns map[ids.ShortID]*Cooldown) error {
	total := big.NewInt(0)
	book := make(map[ids.ShortID]*big.Int, len(shares))
	for holder, bal := range shares {
		if bal == nil || bal.Sign() < 0 {
			return ErrInvalidAmount
		}
		if bal.Sign() == 0 {
			continue
		}
		book[holder] = new(big.Int).Set(bal)
		total.Add(total, bal)
	}
	records := make(map[ids.ShortID]*Cooldown, len(cooldowns))
	for holder, cd := range cooldowns {
		if cd == nil || cd.UnderlyingAmount == nil || cd.UnderlyingAmount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		records[holder] = &Cooldown{
			UnderlyingAmount: new(big.Int).Set(cd.UnderlyingAmount),
			UnlockAt:         cd.UnlockAt,
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.shares = book
	v.totalShares = total
	v.cooldowns = records
	return v.checkMinShares()
}
