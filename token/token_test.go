// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package token

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

var scale18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// bigMul multiplies a value by 10^18
func bigMul(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), scale18)
}

func TestMintAndBalance(t *testing.T) {
	require := require.New(t)

	tok := New("reserve")
	holder := ids.GenerateTestShortID()

	require.NoError(tok.Mint(holder, bigMul(100)))
	require.Equal(0, tok.BalanceOf(holder).Cmp(bigMul(100)))
	require.Equal(0, tok.TotalSupply().Cmp(bigMul(100)))

	// Supply is the sum of balances after further mints.
	other := ids.GenerateTestShortID()
	require.NoError(tok.Mint(other, bigMul(50)))
	require.Equal(0, tok.TotalSupply().Cmp(bigMul(150)))
}

func TestMintValidation(t *testing.T) {
	require := require.New(t)

	tok := New("reserve")
	holder := ids.GenerateTestShortID()

	require.ErrorIs(tok.Mint(ids.ShortEmpty, bigMul(1)), ErrZeroAddress)
	require.ErrorIs(tok.Mint(holder, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(tok.Mint(holder, big.NewInt(-5)), ErrInvalidAmount)
	require.ErrorIs(tok.Mint(holder, nil), ErrInvalidAmount)
}

func TestBurn(t *testing.T) {
	require := require.New(t)

	tok := New("issued")
	holder := ids.GenerateTestShortID()
	require.NoError(tok.Mint(holder, bigMul(10)))

	require.NoError(tok.Burn(holder, bigMul(4)))
	require.Equal(0, tok.BalanceOf(holder).Cmp(bigMul(6)))
	require.Equal(0, tok.TotalSupply().Cmp(bigMul(6)))

	err := tok.Burn(holder, bigMul(7))
	require.ErrorIs(err, ErrInsufficientBalance)
	// Failed burn changes nothing.
	require.Equal(0, tok.BalanceOf(holder).Cmp(bigMul(6)))
}

func TestTransfer(t *testing.T) {
	require := require.New(t)

	tok := New("reserve")
	from := ids.GenerateTestShortID()
	to := ids.GenerateTestShortID()
	require.NoError(tok.Mint(from, bigMul(100)))

	require.NoError(tok.Transfer(from, to, bigMul(30)))
	require.Equal(0, tok.BalanceOf(from).Cmp(bigMul(70)))
	require.Equal(0, tok.BalanceOf(to).Cmp(bigMul(30)))
	// Transfers conserve supply.
	require.Equal(0, tok.TotalSupply().Cmp(bigMul(100)))

	require.ErrorIs(tok.Transfer(from, to, bigMul(71)), ErrInsufficientBalance)
	require.ErrorIs(tok.Transfer(from, ids.ShortEmpty, bigMul(1)), ErrZeroAddress)
	require.ErrorIs(tok.Transfer(from, to, big.NewInt(0)), ErrInvalidAmount)
}

func TestBalanceCopiesAreIndependent(t *testing.T) {
	require := require.New(t)

	tok := New("reserve")
	holder := ids.GenerateTestShortID()
	require.NoError(tok.Mint(holder, bigMul(5)))

	bal := tok.BalanceOf(holder)
	bal.Add(bal, bigMul(100))
	require.Equal(0, tok.BalanceOf(holder).Cmp(bigMul(5)))

	book := tok.Balances()
	book[holder].SetInt64(0)
	require.Equal(0, tok.BalanceOf(holder).Cmp(bigMul(5)))
}

func TestRestore(t *testing.T) {
	require := require.New(t)

	a := ids.GenerateTestShortID()
	b := ids.GenerateTestShortID()
	book := map[ids.ShortID]*big.Int{
		a: bigMul(10),
		b: bigMul(20),
	}

	tok := New("issued")
	require.NoError(tok.Restore(book, bigMul(30)))
	require.Equal(0, tok.BalanceOf(a).Cmp(bigMul(10)))
	require.Equal(0, tok.TotalSupply().Cmp(bigMul(30)))

	// Mismatched total is rejected.
	require.Error(tok.Restore(book, bigMul(31)))
}
