// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package policy holds the capability predicates consulted by the
// ledger, buffer, and vault. The core consults the policy; it never
// owns or mutates it as part of monetary operations.
package policy

import (
	"errors"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
)

var ErrUnauthorized = errors.New("unauthorized caller")

// AccessPolicy answers the capability queries the core depends on.
type AccessPolicy interface {
	// IsWhitelisted reports whether addr may mint and redeem.
	IsWhitelisted(addr ids.ShortID) bool
	// IsAdmin reports whether addr may perform administrative
	// mutations.
	IsAdmin(addr ids.ShortID) bool
	// IsRestricted reports whether addr is fully restricted
	// (compliance blacklist).
	IsRestricted(addr ids.ShortID) bool
}

// Policy is an in-memory AccessPolicy for tests and single-process
// deployments. Mutations are gated on an existing admin.
type Policy struct {
	mu          sync.RWMutex
	whitelisted set.Set[ids.ShortID]
	admins      set.Set[ids.ShortID]
	restricted  set.Set[ids.ShortID]
}

// New returns a policy whose only admin is the supplied address.
func New(admin ids.ShortID) *Policy {
	p := &Policy{
		whitelisted: set.NewSet[ids.ShortID](16),
		admins:      set.NewSet[ids.ShortID](1),
		restricted:  set.NewSet[ids.ShortID](0),
	}
	p.admins.Add(admin)
	return p
}

func (p *Policy) IsWhitelisted(addr ids.ShortID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.whitelisted.Contains(addr)
}

func (p *Policy) IsAdmin(addr ids.ShortID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.admins.Contains(addr)
}

func (p *Policy) IsRestricted(addr ids.ShortID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.restricted.Contains(addr)
}

// SetWhitelisted adds or removes addr from the mint/redeem whitelist.
func (p *Policy) SetWhitelisted(caller, addr ids.ShortID, whitelisted bool) error {
	return p.mutate(caller, func() {
		if whitelisted {
			p.whitelisted.Add(addr)
		} else {
			p.whitelisted.Remove(addr)
		}
	})
}

// SetAdmin grants or revokes the administrative capability.
func (p *Policy) SetAdmin(caller, addr ids.ShortID, admin bool) error {
	return p.mutate(caller, func() {
		if admin {
			p.admins.Add(addr)
		} else {
			p.admins.Remove(addr)
		}
	})
}

// SetRestricted flags or unflags addr as fully restricted.
func (p *Policy) SetRestricted(caller, addr ids.ShortID, restricted bool) error {
	return p.mutate(caller, func() {
		if restricted {
			p.restricted.Add(addr)
		} else {
			p.restricted.Remove(addr)
		}
	})
}

// Snapshot returns the current role sets for persistence.
func (p *Policy) Snapshot() (whitelisted, admins, restricted []ids.ShortID) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.whitelisted.List(), p.admins.List(), p.restricted.List()
}

// Restore replaces the role sets from a persisted snapshot.
func (p *Policy) Restore(whitelisted, admins, restricted []ids.ShortID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.whitelisted = set.NewSet[ids.ShortID](len(whitelisted))
	p.whitelisted.Add(whitelisted...)
	p.admins = set.NewSet[ids.ShortID](len(admins))
	p.admins.Add(admins...)
	p.restricted = set.NewSet[ids.ShortID](len(restricted))
	p.restricted.Add(restricted...)
}

func (p *Policy) mutate(caller ids.ShortID, apply func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.admins.Contains(caller) {
		return ErrUnauthorized
	}
	apply()
	return nil
}
