// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package events defines the audit records emitted by the ledger,
// buffer, and vault, and the plumbing that publishes them over the
// pubsub event feed.
package events

import (
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/pubsub"
)

// Event is an audit record. FilterAddresses lists the participants a
// pubsub subscriber may filter on.
type Event interface {
	Type() string
	FilterAddresses() [][]byte
}

// Emitter receives events from the core components. The engine wires a
// pubsub-backed emitter; tests use a Recorder.
type Emitter interface {
	Emit(ev Event)
}

// Issuance records a successful mint.
type Issuance struct {
	Recipient  ids.ShortID `json:"recipient"`
	NetReserve *big.Int    `json:"netReserve"`
	Issued     *big.Int    `json:"issued"`
	Rate       *big.Int    `json:"rate"`
	FeeBps     uint16      `json:"feeBps"`
	Timestamp  time.Time   `json:"timestamp"`
}

func (*Issuance) Type() string { return "issuance" }

func (e *Issuance) FilterAddresses() [][]byte {
	return [][]byte{e.Recipient[:]}
}

// Redemption records a successful redemption on either path.
type Redemption struct {
	Recipient        ids.ShortID `json:"recipient"`
	Burned           *big.Int    `json:"burned"`
	GrossReserve     *big.Int    `json:"grossReserve"`
	NetReserve       *big.Int    `json:"netReserve"`
	Fee              *big.Int    `json:"fee"`
	Rate             *big.Int    `json:"rate"`
	ServedFromBuffer bool        `json:"servedFromBuffer"`
	Timestamp        time.Time   `json:"timestamp"`
}

func (*Redemption) Type() string { return "redemption" }

func (e *Redemption) FilterAddresses() [][]byte {
	return [][]byte{e.Recipient[:]}
}

// CustodianRedemption asks the custodian to fund a slow-path
// redemption directly: fee to the treasury, net to the recipient.
type CustodianRedemption struct {
	Custodian ids.ShortID `json:"custodian"`
	Recipient ids.ShortID `json:"recipient"`
	Treasury  ids.ShortID `json:"treasury"`
	Net       *big.Int    `json:"net"`
	Fee       *big.Int    `json:"fee"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*CustodianRedemption) Type() string { return "custodianRedemption" }

func (e *CustodianRedemption) FilterAddresses() [][]byte {
	return [][]byte{e.Custodian[:], e.Recipient[:]}
}

// Yield records a yield distribution.
type Yield struct {
	Receiver  ids.ShortID `json:"receiver"`
	Amount    *big.Int    `json:"amount"`
	Rate      *big.Int    `json:"rate"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*Yield) Type() string { return "yield" }

func (e *Yield) FilterAddresses() [][]byte {
	return [][]byte{e.Receiver[:]}
}

// BufferTransfer records reserve leaving the buffer.
type BufferTransfer struct {
	Receiver  ids.ShortID `json:"receiver"`
	Amount    *big.Int    `json:"amount"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*BufferTransfer) Type() string { return "bufferTransfer" }

func (e *BufferTransfer) FilterAddresses() [][]byte {
	return [][]byte{e.Receiver[:]}
}

// TopUpRequested asks the custodian to push funds into the buffer. No
// local balance changes until the custodian responds.
type TopUpRequested struct {
	Custodian ids.ShortID `json:"custodian"`
	Amount    *big.Int    `json:"amount"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*TopUpRequested) Type() string { return "topUpRequested" }

func (e *TopUpRequested) FilterAddresses() [][]byte {
	return [][]byte{e.Custodian[:]}
}

// ExcessPushed records buffer excess moved to the custodian.
type ExcessPushed struct {
	Custodian ids.ShortID `json:"custodian"`
	Amount    *big.Int    `json:"amount"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*ExcessPushed) Type() string { return "excessPushed" }

func (e *ExcessPushed) FilterAddresses() [][]byte {
	return [][]byte{e.Custodian[:]}
}

// VaultDeposit records underlying staked for newly minted shares.
type VaultDeposit struct {
	Caller    ids.ShortID `json:"caller"`
	Receiver  ids.ShortID `json:"receiver"`
	Assets    *big.Int    `json:"assets"`
	Shares    *big.Int    `json:"shares"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*VaultDeposit) Type() string { return "vaultDeposit" }

func (e *VaultDeposit) FilterAddresses() [][]byte {
	return [][]byte{e.Caller[:], e.Receiver[:]}
}

// VaultWithdrawal records shares burned for underlying paid out
// without a cooldown (only possible while cooldown is disabled).
type VaultWithdrawal struct {
	Owner     ids.ShortID `json:"owner"`
	Receiver  ids.ShortID `json:"receiver"`
	Assets    *big.Int    `json:"assets"`
	Shares    *big.Int    `json:"shares"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*VaultWithdrawal) Type() string { return "vaultWithdrawal" }

func (e *VaultWithdrawal) FilterAddresses() [][]byte {
	return [][]byte{e.Owner[:], e.Receiver[:]}
}

// CooldownStarted records shares burned into a pending withdrawal.
type CooldownStarted struct {
	Holder     ids.ShortID `json:"holder"`
	Shares     *big.Int    `json:"shares"`
	Underlying *big.Int    `json:"underlying"`
	UnlockAt   time.Time   `json:"unlockAt"`
}

func (*CooldownStarted) Type() string { return "cooldownStarted" }

func (e *CooldownStarted) FilterAddresses() [][]byte {
	return [][]byte{e.Holder[:]}
}

// CooldownClaimed records a matured cooldown paid out.
type CooldownClaimed struct {
	Holder    ids.ShortID `json:"holder"`
	Amount    *big.Int    `json:"amount"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*CooldownClaimed) Type() string { return "cooldownClaimed" }

func (e *CooldownClaimed) FilterAddresses() [][]byte {
	return [][]byte{e.Holder[:]}
}

// FastExit records a fee-bearing cooldown bypass.
type FastExit struct {
	Owner     ids.ShortID `json:"owner"`
	Receiver  ids.ShortID `json:"receiver"`
	Shares    *big.Int    `json:"shares"`
	Gross     *big.Int    `json:"gross"`
	Fee       *big.Int    `json:"fee"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*FastExit) Type() string { return "fastExit" }

func (e *FastExit) FilterAddresses() [][]byte {
	return [][]byte{e.Owner[:], e.Receiver[:]}
}

// RewardsDistributed records a reward injection entering vesting.
type RewardsDistributed struct {
	Amount    *big.Int  `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

func (*RewardsDistributed) Type() string { return "rewardsDistributed" }

func (*RewardsDistributed) FilterAddresses() [][]byte { return nil }

// SharesRedistributed records a compliance redistribution or burn.
type SharesRedistributed struct {
	From      ids.ShortID `json:"from"`
	To        ids.ShortID `json:"to"`
	Shares    *big.Int    `json:"shares"`
	Burned    bool        `json:"burned"`
	Timestamp time.Time   `json:"timestamp"`
}

func (*SharesRedistributed) Type() string { return "sharesRedistributed" }

func (e *SharesRedistributed) FilterAddresses() [][]byte {
	if e.Burned {
		return [][]byte{e.From[:]}
	}
	return [][]byte{e.From[:], e.To[:]}
}

// filterer adapts an Event to the pubsub filter protocol: a
// subscription matches when any of the event's participant addresses
// passes the subscriber's filter.
type filterer struct {
	ev Event
}

func NewFilterer(ev Event) pubsub.Filterer {
	return &filterer{ev: ev}
}

func (f *filterer) Filter(filters []pubsub.Filter) ([]bool, interface{}) {
	resp := make([]bool, len(filters))
	for i, filter := range filters {
		for _, addr := range f.ev.FilterAddresses() {
			if filter.Check(addr) {
				resp[i] = true
				break
			}
		}
	}
	return resp, f.ev
}

// Publisher forwards events to a pubsub server.
type Publisher struct {
	srv *pubsub.Server
}

func NewPublisher(srv *pubsub.Server) *Publisher {
	return &Publisher{srv: srv}
}

func (p *Publisher) Emit(ev Event) {
	p.srv.Publish(NewFilterer(ev))
}

// Recorder captures events in memory for tests and audit replay.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent event, or nil.
func (r *Recorder) Last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

// NoOp drops every event.
type NoOp struct{}

func (NoOp) Emit(Event) {}
