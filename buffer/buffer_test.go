// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package buffer

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/stable/events"
	"github.com/luxfi/stable/policy"
	"github.com/luxfi/stable/token"
	"github.com/luxfi/stable/utils/clock"
)

var scale18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// bigMul multiplies a value by 10^18
func bigMul(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), scale18)
}

// staticAUM reports a fixed assets-under-management figure.
type staticAUM struct {
	aum *big.Int
}

func (a *staticAUM) TotalReserveUnderCustody() *big.Int {
	return new(big.Int).Set(a.aum)
}

type testFixture struct {
	buffer    *Buffer
	reserve   *token.Token
	aum       *staticAUM
	events    *events.Recorder
	admin     ids.ShortID
	issuer    ids.ShortID
	custodian ids.ShortID
}

func newTestBuffer(t *testing.T, targetBps uint16, minimum *big.Int) *testFixture {
	t.Helper()
	require := require.New(t)

	f := &testFixture{
		reserve:   token.New("reserve"),
		aum:       &staticAUM{aum: big.NewInt(0)},
		events:    &events.Recorder{},
		admin:     ids.GenerateTestShortID(),
		issuer:    ids.GenerateTestShortID(),
		custodian: ids.GenerateTestShortID(),
	}

	var err error
	f.buffer, err = New(Config{
		Reserve:        f.reserve,
		Address:        ids.GenerateTestShortID(),
		Custodian:      f.custodian,
		Issuer:         f.issuer,
		AUM:            f.aum,
		Policy:         policy.New(f.admin),
		TargetBps:      targetBps,
		MinimumBalance: minimum,
		Events:         f.events,
		Clock:          &clock.Clock{},
	})
	require.NoError(err)
	return f
}

func (f *testFixture) fund(t *testing.T, amount *big.Int) {
	t.Helper()
	require.NoError(t, f.reserve.Mint(f.buffer.Address(), amount))
}

func TestNewValidation(t *testing.T) {
	require := require.New(t)

	admin := ids.GenerateTestShortID()
	base := Config{
		Reserve:   token.New("reserve"),
		Address:   ids.GenerateTestShortID(),
		Custodian: ids.GenerateTestShortID(),
		Issuer:    ids.GenerateTestShortID(),
		Policy:    policy.New(admin),
		Clock:     &clock.Clock{},
	}

	cfg := base
	cfg.TargetBps = 10001
	_, err := New(cfg)
	require.ErrorIs(err, ErrPercentageTooHigh)

	cfg = base
	cfg.Custodian = ids.ShortEmpty
	_, err = New(cfg)
	require.ErrorIs(err, ErrZeroAddress)

	cfg = base
	cfg.MinimumBalance = big.NewInt(-1)
	_, err = New(cfg)
	require.ErrorIs(err, ErrInvalidAmount)
}

func TestProcessTransfer(t *testing.T) {
	require := require.New(t)

	f := newTestBuffer(t, 500, nil)
	f.fund(t, bigMul(100))
	receiver := ids.GenerateTestShortID()

	require.NoError(f.buffer.ProcessTransfer(f.issuer, receiver, bigMul(40)))
	require.Equal(0, f.buffer.Available().Cmp(bigMul(60)))
	require.Equal(0, f.reserve.BalanceOf(receiver).Cmp(bigMul(40)))

	ev, ok := f.events.Last().(*events.BufferTransfer)
	require.True(ok)
	require.Equal(receiver, ev.Receiver)
	require.Equal(0, ev.Amount.Cmp(bigMul(40)))
}

func TestProcessTransferAuthorization(t *testing.T) {
	require := require.New(t)

	f := newTestBuffer(t, 500, nil)
	f.fund(t, bigMul(100))
	receiver := ids.GenerateTestShortID()

	// Only the issuance ledger may move buffer funds.
	err := f.buffer.ProcessTransfer(ids.GenerateTestShortID(), receiver, bigMul(1))
	require.ErrorIs(err, ErrUnauthorizedCaller)
	require.Equal(0, f.buffer.Available().Cmp(bigMul(100)))
}

func TestProcessTransferValidation(t *testing.T) {
	require := require.New(t)

	f := newTestBuffer(t, 500, nil)
	f.fund(t, bigMul(10))
	receiver := ids.GenerateTestShortID()

	require.ErrorIs(f.buffer.ProcessTransfer(f.issuer, ids.ShortEmpty, bigMul(1)), ErrInvalidReceiver)
	// Self-transfer is rejected.
	require.ErrorIs(f.buffer.ProcessTransfer(f.issuer, f.buffer.Address(), bigMul(1)), ErrInvalidReceiver)
	require.ErrorIs(f.buffer.ProcessTransfer(f.issuer, receiver, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(f.buffer.ProcessTransfer(f.issuer, receiver, bigMul(11)), ErrInsufficientBufferBalance)
}

func TestRebalanceShortfallRequestsTopUp(t *testing.T) {
	require := require.New(t)

	f := newTestBuffer(t, 1000, nil) // 10% of AUM
	f.aum.aum = bigMul(1000)         // target 100
	f.fund(t, bigMul(40))

	res, err := f.buffer.Rebalance()
	require.NoError(err)
	require.Equal(TopUpRequested, res.Action)
	require.Equal(0, res.Amount.Cmp(bigMul(60)))
	require.Equal(0, res.Target.Cmp(bigMul(100)))

	// Shortfall does not change the local balance.
	require.Equal(0, f.buffer.Available().Cmp(bigMul(40)))

	ev, ok := f.events.Last().(*events.TopUpRequested)
	require.True(ok)
	require.Equal(f.custodian, ev.Custodian)
	require.Equal(0, ev.Amount.Cmp(bigMul(60)))
}

func TestRebalanceExcessPushesToCustodian(t *testing.T) {
	require := require.New(t)

	f := newTestBuffer(t, 1000, nil)
	f.aum.aum = bigMul(1000)
	f.fund(t, bigMul(250))

	res, err := f.buffer.Rebalance()
	require.NoError(err)
	require.Equal(ExcessPushed, res.Action)
	require.Equal(0, res.Amount.Cmp(bigMul(150)))

	// The buffer converges exactly to target.
	require.Equal(0, f.buffer.Available().Cmp(bigMul(100)))
	require.Equal(0, f.reserve.BalanceOf(f.custodian).Cmp(bigMul(150)))
}

func TestRebalanceOnTargetIsNoOp(t *testing.T) {
	require := require.New(t)

	f := newTestBuffer(t, 1000, nil)
	f.aum.aum = bigMul(1000)
	f.fund(t, bigMul(100))

	res, err := f.buffer.Rebalance()
	require.NoError(err)
	require.Equal(NoChange, res.Action)
	require.Empty(f.events.Events())

	// Rebalancing twice in a row is a no-op.
	res, err = f.buffer.Rebalance()
	require.NoError(err)
	require.Equal(NoChange, res.Action)
}

func TestRebalanceMinimumBalanceOverridesPercentage(t *testing.T) {
	require := require.New(t)

	f := newTestBuffer(t, 100, bigMul(50)) // 1% of AUM, floor 50
	f.aum.aum = bigMul(1000)               // percentage target 10 < floor
	f.fund(t, bigMul(10))

	res, err := f.buffer.Rebalance()
	require.NoError(err)
	require.Equal(TopUpRequested, res.Action)
	require.Equal(0, res.Target.Cmp(bigMul(50)))
	require.Equal(0, res.Amount.Cmp(bigMul(40)))
}

func TestSetters(t *testing.T) {
	require := require.New(t)

	f := newTestBuffer(t, 500, nil)
	outsider := ids.GenerateTestShortID()

	require.ErrorIs(f.buffer.SetTargetPercentage(outsider, 100), ErrUnauthorizedCaller)
	require.ErrorIs(f.buffer.SetTargetPercentage(f.admin, 10001), ErrPercentageTooHigh)
	require.NoError(f.buffer.SetTargetPercentage(f.admin, 2000))
	require.Equal(uint16(2000), f.buffer.TargetPercentageBps())

	require.ErrorIs(f.buffer.SetMinimumBalance(f.admin, big.NewInt(-1)), ErrInvalidAmount)
	require.NoError(f.buffer.SetMinimumBalance(f.admin, bigMul(5)))
	require.Equal(0, f.buffer.MinimumBalance().Cmp(bigMul(5)))

	require.ErrorIs(f.buffer.SetCustodian(f.admin, ids.ShortEmpty), ErrZeroAddress)
	next := ids.GenerateTestShortID()
	require.NoError(f.buffer.SetCustodian(f.admin, next))
	require.Equal(next, f.buffer.Custodian())
}
