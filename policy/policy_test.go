// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

func TestNewPolicy(t *testing.T) {
	require := require.New(t)

	admin := ids.GenerateTestShortID()
	p := New(admin)

	require.True(p.IsAdmin(admin))
	require.False(p.IsWhitelisted(admin))
	require.False(p.IsRestricted(admin))
}

func TestSetWhitelisted(t *testing.T) {
	require := require.New(t)

	admin := ids.GenerateTestShortID()
	user := ids.GenerateTestShortID()
	p := New(admin)

	require.NoError(p.SetWhitelisted(admin, user, true))
	require.True(p.IsWhitelisted(user))

	require.NoError(p.SetWhitelisted(admin, user, false))
	require.False(p.IsWhitelisted(user))
}

func TestMutationsAreAdminGated(t *testing.T) {
	require := require.New(t)

	admin := ids.GenerateTestShortID()
	outsider := ids.GenerateTestShortID()
	target := ids.GenerateTestShortID()
	p := New(admin)

	require.ErrorIs(p.SetWhitelisted(outsider, target, true), ErrUnauthorized)
	require.ErrorIs(p.SetAdmin(outsider, target, true), ErrUnauthorized)
	require.ErrorIs(p.SetRestricted(outsider, target, true), ErrUnauthorized)
	require.False(p.IsWhitelisted(target))
}

func TestAdminDelegation(t *testing.T) {
	require := require.New(t)

	admin := ids.GenerateTestShortID()
	second := ids.GenerateTestShortID()
	user := ids.GenerateTestShortID()
	p := New(admin)

	require.NoError(p.SetAdmin(admin, second, true))
	require.True(p.IsAdmin(second))
	require.NoError(p.SetWhitelisted(second, user, true))
	require.True(p.IsWhitelisted(user))

	require.NoError(p.SetAdmin(admin, second, false))
	require.False(p.IsAdmin(second))
	require.ErrorIs(p.SetWhitelisted(second, user, false), ErrUnauthorized)
}

func TestSetRestricted(t *testing.T) {
	require := require.New(t)

	admin := ids.GenerateTestShortID()
	holder := ids.GenerateTestShortID()
	p := New(admin)

	require.NoError(p.SetRestricted(admin, holder, true))
	require.True(p.IsRestricted(holder))
	require.NoError(p.SetRestricted(admin, holder, false))
	require.False(p.IsRestricted(holder))
}
