// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration for the stable-token engine.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/ids"
)

var (
	ErrInvalidAddress    = errors.New("invalid address")
	ErrPercentageTooHigh = errors.New("percentage exceeds 10000 bps")
	ErrFeeTooHigh        = errors.New("fee exceeds maximum")
)

// Config contains the engine's tunable parameters. Addresses are the
// string form of ids.ShortID and resolved during Validate.
type Config struct {
	// Issuance fees in basis points (100 = 1%)
	MintFeeBps       uint16 `json:"mintFeeBps"`
	RedemptionFeeBps uint16 `json:"redemptionFeeBps"`

	// Buffer sizing
	BufferTargetBps      uint16 `json:"bufferTargetBps"`
	BufferMinimumBalance string `json:"bufferMinimumBalance"`

	// Vault behavior
	CooldownDuration time.Duration `json:"cooldownDuration"`
	VestingPeriod    time.Duration `json:"vestingPeriod"`
	FastExitEnabled  bool          `json:"fastExitEnabled"`
	FastExitFeeBps   uint16        `json:"fastExitFeeBps"`

	// TWAP smoothing window for the oracle feed. Zero uses the raw
	// feed without smoothing.
	OracleWindow time.Duration `json:"oracleWindow"`

	// Roles
	Admin       string `json:"admin"`
	Treasury    string `json:"treasury"`
	Custodian   string `json:"custodian"`
	FeeTreasury string `json:"feeTreasury"`

	// API surface
	HTTPHost string `json:"httpHost"`
	HTTPPort uint16 `json:"httpPort"`
}

// DefaultConfig returns the default engine configuration. Role
// addresses have no sensible defaults and must be supplied.
func DefaultConfig() Config {
	return Config{
		MintFeeBps:       50, // 0.5%
		RedemptionFeeBps: 30, // 0.3%

		BufferTargetBps:      500, // 5% of AUM
		BufferMinimumBalance: "0",

		CooldownDuration: 7 * 24 * time.Hour,
		VestingPeriod:    8 * time.Hour,
		FastExitEnabled:  false,
		FastExitFeeBps:   100, // 1%

		OracleWindow: 30 * time.Minute,

		HTTPHost: "127.0.0.1",
		HTTPPort: 9650,
	}
}

// ParseConfig overlays configBytes on the defaults.
func ParseConfig(configBytes []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(configBytes) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(configBytes, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks bounds and address syntax. Address semantics
// (non-empty roles) are enforced when the engine is built.
func (c *Config) Validate() error {
	if c.BufferTargetBps > 10000 {
		return fmt.Errorf("%w: bufferTargetBps %d", ErrPercentageTooHigh, c.BufferTargetBps)
	}
	if _, ok := new(big.Int).SetString(c.BufferMinimumBalance, 10); !ok {
		return fmt.Errorf("invalid bufferMinimumBalance %q", c.BufferMinimumBalance)
	}
	if c.CooldownDuration < 0 || c.VestingPeriod < 0 || c.OracleWindow < 0 {
		return errors.New("negative duration")
	}
	for name, addr := range map[string]string{
		"admin":       c.Admin,
		"treasury":    c.Treasury,
		"custodian":   c.Custodian,
		"feeTreasury": c.FeeTreasury,
	} {
		if addr == "" {
			return fmt.Errorf("%w: %s not set", ErrInvalidAddress, name)
		}
		if _, err := ids.ShortFromString(addr); err != nil {
			return fmt.Errorf("%w: %s %q: %s", ErrInvalidAddress, name, addr, err)
		}
	}
	return nil
}

// MinimumBalance returns the parsed buffer floor. Validate must have
// succeeded.
func (c *Config) MinimumBalance() *big.Int {
	minimum, _ := new(big.Int).SetString(c.BufferMinimumBalance, 10)
	return minimum
}

func parseAddr(s string) (ids.ShortID, error) {
	if s == "" {
		return ids.ShortEmpty, ErrInvalidAddress
	}
	return ids.ShortFromString(s)
}

// AdminAddress returns the parsed admin role address.
func (c *Config) AdminAddress() (ids.ShortID, error) { return parseAddr(c.Admin) }

// TreasuryAddress returns the parsed fee treasury for issuance fees.
func (c *Config) TreasuryAddress() (ids.ShortID, error) { return parseAddr(c.Treasury) }

// CustodianAddress returns the parsed custodian address.
func (c *Config) CustodianAddress() (ids.ShortID, error) { return parseAddr(c.Custodian) }

// FeeTreasuryAddress returns the parsed fast-exit fee destination.
func (c *Config) FeeTreasuryAddress() (ids.ShortID, error) { return parseAddr(c.FeeTreasury) }
