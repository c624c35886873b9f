// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
)

func TestLedgerRoundTrip(t *testing.T) {
	require := require.New(t)

	store := New(memdb.New())

	_, ok, err := store.LoadLedger()
	require.NoError(err)
	require.False(ok)

	batch := store.NewBatch()
	require.NoError(store.SaveLedger(batch, &LedgerState{
		TotalIssued:              big.NewInt(995),
		TotalReserveUnderCustody: big.NewInt(1000),
		MintFeeBps:               50,
		RedemptionFeeBps:         30,
	}))
	require.NoError(batch.Write())

	ls, ok, err := store.LoadLedger()
	require.NoError(err)
	require.True(ok)
	require.Equal(int64(995), ls.TotalIssued.Int64())
	require.Equal(int64(1000), ls.TotalReserveUnderCustody.Int64())
	require.Equal(uint16(50), ls.MintFeeBps)
	require.Equal(uint16(30), ls.RedemptionFeeBps)
}

func TestBufferRoundTrip(t *testing.T) {
	require := require.New(t)

	store := New(memdb.New())
	custodian := ids.GenerateTestShortID()

	batch := store.NewBatch()
	require.NoError(store.SaveBuffer(batch, &BufferState{
		TargetPercentageBps: 500,
		MinimumBalance:      big.NewInt(7),
		Custodian:           custodian,
	}))
	require.NoError(batch.Write())

	bs, ok, err := store.LoadBuffer()
	require.NoError(err)
	require.True(ok)
	require.Equal(uint16(500), bs.TargetPercentageBps)
	require.Equal(int64(7), bs.MinimumBalance.Int64())
	require.Equal(custodian, bs.Custodian)
}

func TestVaultRoundTrip(t *testing.T) {
	require := require.New(t)

	store := New(memdb.New())
	holder := ids.GenerateTestShortID()
	unlockAt := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)

	batch := store.NewBatch()
	require.NoError(store.SaveVault(batch, &VaultState{
		Shares: map[string]*big.Int{holder.String(): big.NewInt(42)},
		Cooldowns: map[string]*CooldownState{
			holder.String(): {UnderlyingAmount: big.NewInt(9), UnlockAt: unlockAt},
		},
		CooldownDuration: 7 * 24 * time.Hour,
		FastExitEnabled:  true,
		FastExitFeeBps:   100,
	}))
	require.NoError(batch.Write())

	vs, ok, err := store.LoadVault()
	require.NoError(err)
	require.True(ok)
	require.Equal(int64(42), vs.Shares[holder.String()].Int64())
	require.Equal(int64(9), vs.Cooldowns[holder.String()].UnderlyingAmount.Int64())
	require.True(unlockAt.Equal(vs.Cooldowns[holder.String()].UnlockAt))
	require.Equal(7*24*time.Hour, vs.CooldownDuration)
	require.True(vs.FastExitEnabled)
}

func TestPolicyRoundTrip(t *testing.T) {
	require := require.New(t)

	store := New(memdb.New())
	admin := ids.GenerateTestShortID()
	user := ids.GenerateTestShortID()

	batch := store.NewBatch()
	require.NoError(store.SavePolicy(batch, &PolicyState{
		Whitelisted: []ids.ShortID{user},
		Admins:      []ids.ShortID{admin},
	}))
	require.NoError(batch.Write())

	ps, ok, err := store.LoadPolicy()
	require.NoError(err)
	require.True(ok)
	require.Equal([]ids.ShortID{user}, ps.Whitelisted)
	require.Equal([]ids.ShortID{admin}, ps.Admins)
	require.Empty(ps.Restricted)
}

func TestBalancesRoundTrip(t *testing.T) {
	require := require.New(t)

	store := New(memdb.New())
	alice := ids.GenerateTestShortID()
	bob := ids.GenerateTestShortID()

	batch := store.NewBatch()
	require.NoError(store.SaveBalances(batch, "reserve", map[ids.ShortID]*big.Int{
		alice: big.NewInt(100),
		bob:   big.NewInt(200),
	}))
	require.NoError(batch.Write())

	balances, ok, err := store.LoadBalances("reserve")
	require.NoError(err)
	require.True(ok)
	require.Len(balances, 2)
	require.Equal(int64(100), balances[alice].Int64())
	require.Equal(int64(200), balances[bob].Int64())

	// Token books are stored per name.
	_, ok, err = store.LoadBalances("issued")
	require.NoError(err)
	require.False(ok)
}

func TestCorruptedStateSurfaces(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	store := New(db)

	require.NoError(db.Put([]byte("ledger"), []byte("not json")))
	_, _, err := store.LoadLedger()
	require.ErrorIs(err, ErrStateCorrupted)

	require.NoError(db.Put([]byte("balances:reserve"), []byte(`{"not-an-address": 5}`)))
	_, _, err = store.LoadBalances("reserve")
	require.ErrorIs(err, ErrStateCorrupted)
}
