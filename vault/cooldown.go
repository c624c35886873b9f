// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/stable/events"
)

// Cooldown is a pending withdrawal: shares were already burned and
// the priced underlying moved to the silo, waiting for UnlockAt.
type Cooldown struct {
	UnderlyingAmount *big.Int  `json:"underlyingAmount"`
	UnlockAt         time.Time `json:"unlockAt"`
}

// CooldownOf returns a copy of holder's pending cooldown, if any.
func (v *Vault) CooldownOf(holder ids.ShortID) (*Cooldown, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cd, ok := v.cooldowns[holder]
	if !ok {
		return nil, false
	}
	return &Cooldown{
		UnderlyingAmount: new(big.Int).Set(cd.UnderlyingAmount),
		UnlockAt:         cd.UnlockAt,
	}, true
}

// Cooldowns returns a copy of every pending cooldown record.
func (v *Vault) Cooldowns() map[ids.ShortID]*Cooldown {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[ids.ShortID]*Cooldown, len(v.cooldowns))
	for holder, cd := range v.cooldowns {
		out[holder] = &Cooldown{
			UnderlyingAmount: new(big.Int).Set(cd.UnderlyingAmount),
			UnlockAt:         cd.UnlockAt,
		}
	}
	return out
}

// InitiateCooldown burns shares from holder at the current share
// price and locks the priced underlying in the silo until the
// cooldown elapses. Initiating again before claiming accumulates the
// locked underlying and restarts the timer.
func (v *Vault) InitiateCooldown(holder ids.ShortID, shares *big.Int) (*big.Int, time.Time, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, time.Time{}, ErrInvalidAmount
	}
	if v.policy.IsRestricted(holder) {
		return nil, time.Time{}, ErrOperationNotAllowed
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cooldownDuration == 0 {
		return nil, time.Time{}, fmt.Errorf("%w: cooldown disabled, use Redeem", ErrOperationNotAllowed)
	}
	if bal, ok := v.shares[holder]; !ok || shares.Cmp(bal) > 0 {
		return nil, time.Time{}, fmt.Errorf("%w: have %s, need %s", ErrExcessiveRedeemAmount, bal, shares)
	}
	assets := v.convertToAssets(shares)
	if assets.Sign() == 0 {
		return nil, time.Time{}, ErrInvalidAmount
	}
	return v.startCooldown(holder, shares, assets)
}

// InitiateCooldownAssets is the asset-denominated variant: it burns
// the shares worth exactly assets.
func (v *Vault) InitiateCooldownAssets(holder ids.ShortID, assets *big.Int) (*big.Int, time.Time, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, time.Time{}, ErrInvalidAmount
	}
	if v.policy.IsRestricted(holder) {
		return nil, time.Time{}, ErrOperationNotAllowed
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cooldownDuration == 0 {
		return nil, time.Time{}, fmt.Errorf("%w: cooldown disabled, use Withdraw", ErrOperationNotAllowed)
	}
	if bal, ok := v.shares[holder]; !ok || assets.Cmp(v.convertToAssets(bal)) > 0 {
		return nil, time.Time{}, fmt.Errorf("%w: requested %s", ErrExcessiveWithdrawAmount, assets)
	}
	shares := v.convertToShares(assets)
	if shares.Sign() == 0 {
		return nil, time.Time{}, ErrZeroShares
	}
	_, unlockAt, err := v.startCooldown(holder, shares, assets)
	if err != nil {
		return nil, time.Time{}, err
	}
	return new(big.Int).Set(shares), unlockAt, nil
}

// startCooldown burns the shares, moves the underlying to the silo,
// and records (or extends) the holder's cooldown. Caller holds the
// lock and has validated shares and assets.
func (v *Vault) startCooldown(holder ids.ShortID, shares, assets *big.Int) (*big.Int, time.Time, error) {
	if err := v.burnShares(holder, shares); err != nil {
		return nil, time.Time{}, err
	}
	if err := v.underlying.Transfer(v.addr, v.silo, assets); err != nil {
		v.mintShares(holder, shares)
		return nil, time.Time{}, err
	}

	unlockAt := v.clk.Time().Add(v.cooldownDuration)
	if cd, ok := v.cooldowns[holder]; ok {
		cd.UnderlyingAmount.Add(cd.UnderlyingAmount, assets)
		cd.UnlockAt = unlockAt
	} else {
		v.cooldowns[holder] = &Cooldown{
			UnderlyingAmount: new(big.Int).Set(assets),
			UnlockAt:         unlockAt,
		}
	}
	locked := new(big.Int).Set(v.cooldowns[holder].UnderlyingAmount)

	v.events.Emit(&events.CooldownStarted{
		Holder:     holder,
		Shares:     new(big.Int).Set(shares),
		Underlying: new(big.Int).Set(assets),
		UnlockAt:   unlockAt,
	})
	v.log.Info("cooldown started",
		"holder", holder,
		"shares", shares,
		"underlying", assets,
		"unlockAt", unlockAt,
	)
	return locked, unlockAt, nil
}

// Claim pays out holder's matured cooldown to receiver and clears the
// record. If cooldown has since been disabled, pending records claim
// immediately regardless of their unlock time.
func (v *Vault) Claim(holder, receiver ids.ShortID) (*big.Int, error) {
	if receiver == ids.ShortEmpty {
		return nil, ErrZeroAddress
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	cd, ok := v.cooldowns[holder]
	if !ok {
		return nil, ErrNoActiveCooldown
	}
	if v.cooldownDuration != 0 && v.clk.Time().Before(cd.UnlockAt) {
		return nil, fmt.Errorf("%w: unlocks at %s", ErrCooldownNotFinished, cd.UnlockAt)
	}

	amount := new(big.Int).Set(cd.UnderlyingAmount)
	if err := v.underlying.Transfer(v.silo, receiver, amount); err != nil {
		return nil, err
	}
	delete(v.cooldowns, holder)

	v.events.Emit(&events.CooldownClaimed{
		Holder:    holder,
		Amount:    new(big.Int).Set(amount),
		Timestamp: v.clk.Time(),
	})
	v.log.Info("cooldown claimed",
		"holder", holder,
		"receiver", receiver,
		"amount", amount,
	)
	return amount, nil
}

// FastRedeem burns shares from owner immediately, skipping the
// cooldown for a fee, and pays the net underlying to receiver.
// Returns the net amount.
func (v *Vault) FastRedeem(owner, receiver ids.ShortID, shares *big.Int) (*big.Int, error) {
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

	if err := v.fastExitAllowed(); err != nil {
		return nil, err
	}
	if bal, ok := v.shares[owner]; !ok || shares.Cmp(bal) > 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrExcessiveRedeemAmount, bal, shares)
	}
	gross := v.convertToAssets(shares)
	return v.fastExit(owner, receiver, shares, gross)
}

// FastWithdraw is the asset-denominated fast exit: it burns the
// shares worth exactly assets and pays assets minus the fee.
func (v *Vault) FastWithdraw(owner, receiver ids.ShortID, assets *big.Int) (*big.Int, error) {
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

	if err := v.fastExitAllowed(); err != nil {
		return nil, err
	}
	if bal, ok := v.shares[owner]; !ok || assets.Cmp(v.convertToAssets(bal)) > 0 {
		return nil, fmt.Errorf("%w: requested %s", ErrExcessiveWithdrawAmount, assets)
	}
	shares := v.convertToShares(assets)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	return v.fastExit(owner, receiver, shares, assets)
}

func (v *Vault) fastExitAllowed() error {
	if !v.fastExitEnabled {
		return ErrFastRedeemDisabled
	}
	if v.cooldownDuration == 0 {
		return fmt.Errorf("%w: cooldown disabled, use Redeem", ErrOperationNotAllowed)
	}
	return nil
}

// fastExit burns the shares and splits gross into fee and net. A zero
// fee is rejected so dust exits cannot bypass the cooldown for free.
// Caller holds the lock and has validated the amounts.
func (v *Vault) fastExit(owner, receiver ids.ShortID, shares, gross *big.Int) (*big.Int, error) {
	fee := new(big.Int).Mul(gross, big.NewInt(int64(v.fastExitFeeBps)))
	fee.Div(fee, bpsDenom)
	if fee.Sign() == 0 {
		return nil, fmt.Errorf("%w: fee rounds to zero on %s", ErrInvalidAmount, gross)
	}
	net := new(big.Int).Sub(gross, fee)

	if err := v.burnShares(owner, shares); err != nil {
		return nil, err
	}
	if err := v.underlying.Transfer(v.addr, v.feeTreasury, fee); err != nil {
		v.mintShares(owner, shares)
		return nil, err
	}
	if err := v.underlying.Transfer(v.addr, receiver, net); err != nil {
		// The fee transfer succeeded out of a balance that covered
		// gross, so this cannot fire unless the vault account itself
		// is short. Unwind both steps.
		if undoErr := v.underlying.Transfer(v.feeTreasury, v.addr, fee); undoErr != nil {
			return nil, undoErr
		}
		v.mintShares(owner, shares)
		return nil, err
	}

	v.events.Emit(&events.FastExit{
		Owner:     owner,
		Receiver:  receiver,
		Shares:    new(big.Int).Set(shares),
		Gross:     new(big.Int).Set(gross),
		Fee:       new(big.Int).Set(fee),
		Timestamp: v.clk.Time(),
	})
	v.log.Info("fast exit",
		"owner", owner,
		"receiver", receiver,
		"shares", shares,
		"gross", gross,
		"fee", fee,
	)
	return net, nil
}
