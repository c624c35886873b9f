// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"fmt"
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/stable/events"
)

// Destination is where redistributed shares go: a named holder, or
// destroyed outright. The tagged form keeps burning explicit instead
// of overloading a sentinel address.
type Destination struct {
	holder ids.ShortID
	burn   bool
}

// ToHolder redistributes to a holder.
func ToHolder(holder ids.ShortID) Destination {
	return Destination{holder: holder}
}

// ToBurn destroys the shares, raising the share price for everyone
// else.
func ToBurn() Destination {
	return Destination{burn: true}
}

// IsBurn reports whether the destination destroys the shares.
func (d Destination) IsBurn() bool { return d.burn }

// Holder returns the destination holder. Only meaningful when IsBurn
// is false.
func (d Destination) Holder() ids.ShortID { return d.holder }

// RedistributeLocked moves the full share balance of a fully
// restricted holder to dest, or burns it. The min-shares bound is
// checked on the post-burn supply before any re-mint, so even the
// transient state respects the floor. Admin only.
func (v *Vault) RedistributeLocked(caller, from ids.ShortID, dest Destination) (*big.Int, error) {
	if !v.policy.IsAdmin(caller) {
		return nil, ErrUnauthorizedCaller
	}
	if !v.policy.IsRestricted(from) {
		return nil, fmt.Errorf("%w: %s is not restricted", ErrOperationNotAllowed, from)
	}
	if !dest.burn {
		if dest.holder == ids.ShortEmpty {
			return nil, ErrZeroAddress
		}
		if v.policy.IsRestricted(dest.holder) {
			return nil, fmt.Errorf("%w: destination %s is restricted", ErrOperationNotAllowed, dest.holder)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal, ok := v.shares[from]
	if !ok || bal.Sign() == 0 {
		return nil, fmt.Errorf("%w: no shares to redistribute", ErrInvalidAmount)
	}
	amount := new(big.Int).Set(bal)

	if err := v.burnShares(from, amount); err != nil {
		return nil, err
	}
	if !dest.burn {
		v.mintShares(dest.holder, amount)
	}

	ev := &events.SharesRedistributed{
		From:      from,
		To:        dest.holder,
		Shares:    new(big.Int).Set(amount),
		Burned:    dest.burn,
		Timestamp: v.clk.Time(),
	}
	v.events.Emit(ev)
	v.log.Info("shares redistributed",
		"from", from,
		"to", dest.holder,
		"shares", amount,
		"burned", dest.burn,
	)
	return amount, nil
}
