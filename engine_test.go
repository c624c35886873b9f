// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stable

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"

	"github.com/luxfi/stable/buffer"
	"github.com/luxfi/stable/config"
	"github.com/luxfi/stable/ledger"
	"github.com/luxfi/stable/vault"
)

var scale18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// bigMul multiplies a value by 10^18
func bigMul(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), scale18)
}

type engineFixture struct {
	cfg config.Config

	admin       ids.ShortID
	treasury    ids.ShortID
	custodian   ids.ShortID
	feeTreasury ids.ShortID
	user        ids.ShortID
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		admin:       ids.GenerateTestShortID(),
		treasury:    ids.GenerateTestShortID(),
		custodian:   ids.GenerateTestShortID(),
		feeTreasury: ids.GenerateTestShortID(),
		user:        ids.GenerateTestShortID(),
	}
	cfg := config.DefaultConfig()
	cfg.Admin = f.admin.String()
	cfg.Treasury = f.treasury.String()
	cfg.Custodian = f.custodian.String()
	cfg.FeeTreasury = f.feeTreasury.String()
	cfg.OracleWindow = 0 // raw static feed, priced explicitly per test
	f.cfg = cfg
	return f
}

// start builds an engine over db and onboards the test user: price
// pinned at 1.0, user whitelisted and funded with reserve.
func (f *engineFixture) start(t *testing.T, db database.Database) *Engine {
	t.Helper()
	require := require.New(t)

	e, err := New(f.cfg, db, nil)
	require.NoError(err)
	require.NoError(e.RecordPrice(f.admin, bigMul(1)))
	require.NoError(e.SetWhitelisted(f.admin, f.user, true))
	require.NoError(e.IssueReserve(f.admin, f.user, bigMul(1000)))
	return e
}

func TestEngineMintAndRedeem(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture()
	e := f.start(t, memdb.New())

	issued, err := e.Mint(f.user, f.user, bigMul(1000), nil)
	require.NoError(err)
	// 50 bps fee on 1000: issued 995.
	require.Equal(0, issued.Cmp(bigMul(995)))
	require.Equal(0, e.IssuedBalance(f.user).Cmp(bigMul(995)))
	require.Equal(0, e.ReserveBalance(f.treasury).Cmp(bigMul(5)))

	status := e.Status()
	require.Equal(0, status.TotalIssued.Cmp(bigMul(995)))
	require.Equal(0, status.TotalReserveUnderCustody.Cmp(bigMul(995)))
	require.Equal(0, status.BufferBalance.Cmp(bigMul(995)))

	net, servedFromBuffer, err := e.Redeem(f.user, f.user, bigMul(100), nil)
	require.NoError(err)
	require.True(servedFromBuffer)
	// 30 bps fee on gross 100: net 99.7.
	want := new(big.Int).Sub(bigMul(100), new(big.Int).Div(bigMul(3), big.NewInt(10)))
	require.Equal(0, net.Cmp(want))
	require.Equal(0, e.ReserveBalance(f.user).Cmp(want))

	status = e.Status()
	require.Equal(0, status.TotalIssued.Cmp(bigMul(895)))
	require.Equal(0, status.TotalReserveUnderCustody.Cmp(bigMul(895)))
}

func TestEngineRebalanceAndTopUp(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture()
	e := f.start(t, memdb.New())

	_, err := e.Mint(f.user, f.user, bigMul(1000), nil)
	require.NoError(err)

	// Minting parks the full net amount in the buffer; the 5% target
	// over 995 of custody is 49.75, so the excess goes to the
	// custodian.
	res, err := e.Rebalance()
	require.NoError(err)
	require.Equal(buffer.ExcessPushed, res.Action)

	status := e.Status()
	require.Equal(0, status.BufferBalance.Cmp(status.BufferTarget))
	excess := new(big.Int).Sub(bigMul(995), status.BufferTarget)
	require.Equal(0, e.ReserveBalance(f.custodian).Cmp(excess))

	// The custodian can push reserve back when the buffer runs short.
	require.ErrorIs(e.PushToBuffer(f.user, bigMul(1)), errNotCustodian)
	require.NoError(e.PushToBuffer(f.custodian, bigMul(10)))
	wantBuffer := new(big.Int).Add(status.BufferTarget, bigMul(10))
	require.Equal(0, e.Status().BufferBalance.Cmp(wantBuffer))
}

func TestEngineCustodianRotation(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture()
	e := f.start(t, memdb.New())

	next := ids.GenerateTestShortID()
	require.NoError(e.IssueReserve(f.admin, next, bigMul(10)))
	require.NoError(e.SetCustodian(f.admin, next))

	// Pushes follow the rotated custodian; the outgoing one loses the
	// capability immediately.
	require.ErrorIs(e.PushToBuffer(f.custodian, bigMul(1)), errNotCustodian)
	require.NoError(e.PushToBuffer(next, bigMul(10)))
	require.Equal(0, e.Status().BufferBalance.Cmp(bigMul(10)))
}

func TestEngineYieldAndVaultFlow(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture()
	e := f.start(t, memdb.New())

	_, err := e.Mint(f.user, f.user, bigMul(1000), nil)
	require.NoError(err)

	shares, err := e.Deposit(f.user, f.user, bigMul(500))
	require.NoError(err)
	require.Equal(0, shares.Cmp(bigMul(500)))
	require.Equal(0, e.SharesOf(f.user).Cmp(bigMul(500)))

	// Reserve appreciates 10%: custody 995 is now worth 1094.5, so
	// 99.5 of yield mints straight into the vault.
	price := new(big.Int).Div(new(big.Int).Mul(bigMul(1), big.NewInt(11)), big.NewInt(10))
	require.NoError(e.RecordPrice(f.admin, price))

	yield, err := e.ProcessYield(f.admin)
	require.NoError(err)
	wantYield := new(big.Int).Div(bigMul(995), big.NewInt(10))
	require.Equal(0, yield.Cmp(wantYield))

	// Rewards vest over the configured window before they back shares.
	require.Equal(0, e.Status().Unvested.Cmp(wantYield))
	require.Equal(0, e.Status().TotalAssets.Cmp(bigMul(500)))
	e.Clock().Advance(f.cfg.VestingPeriod)
	require.Zero(e.Status().Unvested.Sign())
	require.Equal(0, e.Status().TotalAssets.Cmp(new(big.Int).Add(bigMul(500), wantYield)))
}

func TestEngineCooldownCycle(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture()
	e := f.start(t, memdb.New())

	_, err := e.Mint(f.user, f.user, bigMul(1000), nil)
	require.NoError(err)
	_, err = e.Deposit(f.user, f.user, bigMul(500))
	require.NoError(err)

	// Instant exits are off while cooldown is configured.
	_, err = e.RedeemShares(f.user, f.user, bigMul(100))
	require.ErrorIs(err, vault.ErrOperationNotAllowed)

	locked, unlockAt, err := e.InitiateCooldown(f.user, bigMul(200))
	require.NoError(err)
	require.Equal(0, locked.Cmp(bigMul(200)))
	require.Equal(e.Clock().Time().Add(f.cfg.CooldownDuration), unlockAt)

	_, err = e.Claim(f.user, f.user)
	require.ErrorIs(err, vault.ErrCooldownNotFinished)

	e.Clock().Advance(f.cfg.CooldownDuration)
	amount, err := e.Claim(f.user, f.user)
	require.NoError(err)
	require.Equal(0, amount.Cmp(bigMul(200)))
	require.Equal(0, e.IssuedBalance(f.user).Cmp(bigMul(695)))
}

func TestEngineFastExit(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture()
	f.cfg.FastExitEnabled = true
	e := f.start(t, memdb.New())

	_, err := e.Mint(f.user, f.user, bigMul(1000), nil)
	require.NoError(err)
	_, err = e.Deposit(f.user, f.user, bigMul(500))
	require.NoError(err)

	// 100 bps fee on 100: net 99.
	net, err := e.FastRedeem(f.user, f.user, bigMul(100))
	require.NoError(err)
	require.Equal(0, net.Cmp(bigMul(99)))
	require.Equal(0, e.IssuedBalance(f.feeTreasury).Cmp(bigMul(1)))
}

func TestEngineRedistribute(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture()
	e := f.start(t, memdb.New())

	_, err := e.Mint(f.user, f.user, bigMul(1000), nil)
	require.NoError(err)
	_, err = e.Deposit(f.user, f.user, bigMul(500))
	require.NoError(err)

	require.NoError(e.SetRestricted(f.admin, f.user, true))
	burned, err := e.RedistributeLocked(f.admin, f.user, vault.ToBurn())
	require.NoError(err)
	require.Equal(0, burned.Cmp(bigMul(500)))
	require.Zero(e.SharesOf(f.user).Sign())
}

func TestEngineAdminGating(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture()
	e := f.start(t, memdb.New())

	require.ErrorIs(e.IssueReserve(f.user, f.user, bigMul(1)), ledger.ErrUnauthorizedCaller)
	require.ErrorIs(e.RecordPrice(f.user, bigMul(1)), ledger.ErrUnauthorizedCaller)
	require.ErrorIs(e.RecordPrice(f.admin, big.NewInt(0)), ledger.ErrInvalidPrice)
	require.ErrorIs(e.SetMintFee(f.user, 10), ledger.ErrUnauthorizedCaller)

	// Admin delegation works through the engine.
	second := ids.GenerateTestShortID()
	require.NoError(e.SetAdmin(f.admin, second, true))
	require.NoError(e.SetMintFee(second, 10))
	require.Equal(uint16(10), e.Status().MintFeeBps)
}

func TestEnginePersistence(t *testing.T) {
	require := require.New(t)

	f := newEngineFixture()
	db := memdb.New()
	e := f.start(t, db)

	_, err := e.Mint(f.user, f.user, bigMul(1000), nil)
	require.NoError(err)
	_, err = e.Deposit(f.user, f.user, bigMul(500))
	require.NoError(err)
	_, unlockAt, err := e.InitiateCooldown(f.user, bigMul(200))
	require.NoError(err)
	require.NoError(e.SetMintFee(f.admin, 25))
	require.NoError(e.Close())

	// A fresh engine over the same database picks up the snapshot.
	restored, err := New(f.cfg, db, nil)
	require.NoError(err)

	status := restored.Status()
	require.Equal(0, status.TotalIssued.Cmp(bigMul(995)))
	require.Equal(0, status.TotalReserveUnderCustody.Cmp(bigMul(995)))
	require.Equal(uint16(25), status.MintFeeBps)
	require.Equal(0, status.TotalShares.Cmp(bigMul(300)))

	require.Equal(0, restored.SharesOf(f.user).Cmp(bigMul(300)))
	require.Equal(0, restored.IssuedBalance(f.user).Cmp(bigMul(495)))
	require.Equal(0, restored.ReserveBalance(f.treasury).Cmp(bigMul(5)))

	cd, ok := restored.CooldownOf(f.user)
	require.True(ok)
	require.Equal(0, cd.UnderlyingAmount.Cmp(bigMul(200)))
	require.True(cd.UnlockAt.Equal(unlockAt))

	// The restored engine keeps operating: price the feed and redeem.
	require.NoError(restored.RecordPrice(f.admin, bigMul(1)))
	_, servedFromBuffer, err := restored.Redeem(f.user, f.user, bigMul(100), nil)
	require.NoError(err)
	require.True(servedFromBuffer)
}
