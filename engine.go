// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stable assembles the stable-token engine: the issuance
// ledger, the liquidity buffer, and the staking vault over shared
// token books, with persistence, metrics, and event publication.
package stable

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/pubsub"

	"github.com/luxfi/stable/buffer"
	"github.com/luxfi/stable/config"
	"github.com/luxfi/stable/events"
	"github.com/luxfi/stable/ledger"
	"github.com/luxfi/stable/metrics"
	"github.com/luxfi/stable/oracle"
	"github.com/luxfi/stable/policy"
	"github.com/luxfi/stable/state"
	"github.com/luxfi/stable/token"
	"github.com/luxfi/stable/utils/clock"
	"github.com/luxfi/stable/vault"
)

const (
	issuedTokenName  = "issued"
	reserveTokenName = "reserve"
)

// System accounts. These are engine-owned identities on the token
// books, distinct from any user address.
var (
	ledgerAddr = ids.ShortID{'s', 't', 'a', 'b', 'l', 'e', ':', 'l', 'e', 'd', 'g', 'e', 'r'}
	bufferAddr = ids.ShortID{'s', 't', 'a', 'b', 'l', 'e', ':', 'b', 'u', 'f', 'f', 'e', 'r'}
	vaultAddr  = ids.ShortID{'s', 't', 'a', 'b', 'l', 'e', ':', 'v', 'a', 'u', 'l', 't'}
	siloAddr   = ids.ShortID{'s', 't', 'a', 'b', 'l', 'e', ':', 's', 'i', 'l', 'o'}
)

var errNotCustodian = errors.New("caller is not the custodian")

// Engine owns the full system. Public methods delegate to the owning
// component, then refresh gauges and persist a snapshot; a second
// mutex is unnecessary because each component serializes itself and
// cross-component flows lock in a fixed order (ledger before buffer).
type Engine struct {
	cfg config.Config
	log log.Logger
	clk *clock.Clock

	baseDB database.Database
	db     *versiondb.Database
	store  *state.Store

	issued  *token.Token
	reserve *token.Token

	policy *policy.Policy
	twap   *oracle.TWAP
	static *oracle.StaticOracle

	buffer *buffer.Buffer
	ledger *ledger.Ledger
	vault  *vault.Vault

	metrics metrics.Metrics
	pubsub  *pubsub.Server
	emitter events.Emitter
}

// New builds an engine from cfg over db, restoring any persisted
// snapshot.
func New(cfg config.Config, db database.Database, logger log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NoLog{}
	}

	admin, err := cfg.AdminAddress()
	if err != nil {
		return nil, err
	}
	treasury, err := cfg.TreasuryAddress()
	if err != nil {
		return nil, err
	}
	custodian, err := cfg.CustodianAddress()
	if err != nil {
		return nil, err
	}
	feeTreasury, err := cfg.FeeTreasuryAddress()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		log:    logger,
		clk:    &clock.Clock{},
		baseDB: db,
	}
	e.db = versiondb.New(db)
	e.store = state.New(e.db)

	e.issued = token.New(issuedTokenName)
	e.reserve = token.New(reserveTokenName)
	e.policy = policy.New(admin)

	var priceOracle oracle.PriceOracle
	if cfg.OracleWindow > 0 {
		twap, err := oracle.NewTWAP(cfg.OracleWindow)
		if err != nil {
			return nil, err
		}
		e.twap = twap
		priceOracle = twap
	} else {
		e.static = oracle.NewStaticOracle(nil)
		priceOracle = e.static
	}

	e.pubsub = pubsub.New(logger)
	e.emitter = events.NewPublisher(e.pubsub)

	registry := metric.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}
	e.metrics = m

	e.buffer, err = buffer.New(buffer.Config{
		Reserve:        e.reserve,
		Address:        bufferAddr,
		Custodian:      custodian,
		Issuer:         ledgerAddr,
		AUM:            nil, // set below, after the ledger exists
		Policy:         e.policy,
		TargetBps:      cfg.BufferTargetBps,
		MinimumBalance: cfg.MinimumBalance(),
		Events:         e.emitter,
		Clock:          e.clk,
		Log:            logger,
	})
	if err != nil {
		return nil, err
	}

	e.vault, err = vault.New(vault.Config{
		Underlying:       e.issued,
		Policy:           e.policy,
		Address:          vaultAddr,
		SiloAddress:      siloAddr,
		FeeTreasury:      feeTreasury,
		CooldownDuration: cfg.CooldownDuration,
		VestingPeriod:    cfg.VestingPeriod,
		FastExitEnabled:  cfg.FastExitEnabled,
		FastExitFeeBps:   cfg.FastExitFeeBps,
		Events:           e.emitter,
		Clock:            e.clk,
		Log:              logger,
	})
	if err != nil {
		return nil, err
	}

	e.ledger, err = ledger.New(ledger.Config{
		Issued:           e.issued,
		Reserve:          e.reserve,
		Buffer:           e.buffer,
		Oracle:           priceOracle,
		Policy:           e.policy,
		Address:          ledgerAddr,
		Treasury:         treasury,
		YieldReceiver:    e.vault,
		YieldAddress:     vaultAddr,
		MintFeeBps:       cfg.MintFeeBps,
		RedemptionFeeBps: cfg.RedemptionFeeBps,
		Events:           e.emitter,
		Clock:            e.clk,
		Log:              logger,
	})
	if err != nil {
		return nil, err
	}
	e.buffer.SetAUMProvider(e.ledger)

	if err := e.restore(); err != nil {
		return nil, err
	}
	return e, nil
}

// restore loads a persisted snapshot, if one exists.
func (e *Engine) restore() error {
	if ls, ok, err := e.store.LoadLedger(); err != nil {
		return err
	} else if ok {
		if err := e.ledger.Restore(ls.TotalIssued, ls.TotalReserveUnderCustody, ls.MintFeeBps, ls.RedemptionFeeBps); err != nil {
			return err
		}
	}
	for _, tok := range []*token.Token{e.issued, e.reserve} {
		balances, ok, err := e.store.LoadBalances(tok.Name())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		total := big.NewInt(0)
		for _, bal := range balances {
			total.Add(total, bal)
		}
		if err := tok.Restore(balances, total); err != nil {
			return err
		}
	}
	if bs, ok, err := e.store.LoadBuffer(); err != nil {
		return err
	} else if ok {
		if err := e.buffer.Restore(bs.TargetPercentageBps, bs.MinimumBalance, bs.Custodian); err != nil {
			return err
		}
	}
	if ps, ok, err := e.store.LoadPolicy(); err != nil {
		return err
	} else if ok {
		e.policy.Restore(ps.Whitelisted, ps.Admins, ps.Restricted)
	}
	if vs, ok, err := e.store.LoadVault(); err != nil {
		return err
	} else if ok {
		shares := make(map[ids.ShortID]*big.Int, len(vs.Shares))
		for addr, bal := range vs.Shares {
			id, err := ids.ShortFromString(addr)
			if err != nil {
				return fmt.Errorf("%w: bad holder %q", state.ErrStateCorrupted, addr)
			}
			shares[id] = bal
		}
		cooldowns := make(map[ids.ShortID]*vault.Cooldown, len(vs.Cooldowns))
		for addr, cd := range vs.Cooldowns {
			id, err := ids.ShortFromString(addr)
			if err != nil {
				return fmt.Errorf("%w: bad holder %q", state.ErrStateCorrupted, addr)
			}
			cooldowns[id] = &vault.Cooldown{
				UnderlyingAmount: cd.UnderlyingAmount,
				UnlockAt:         cd.UnlockAt,
			}
		}
		if err := e.vault.Restore(shares, cooldowns); err != nil {
			return err
		}
		if err := e.vault.RestoreSettings(vs.CooldownDuration, vs.FastExitEnabled, vs.FastExitFeeBps); err != nil {
			return err
		}
	}
	return nil
}

// persist writes the full observable surface and commits the version
// layer. Called after every successful mutation.
func (e *Engine) persist() error {
	batch := e.store.NewBatch()

	if err := e.store.SaveLedger(batch, &state.LedgerState{
		TotalIssued:              e.ledger.TotalIssued(),
		TotalReserveUnderCustody: e.ledger.TotalReserveUnderCustody(),
		MintFeeBps:               e.ledger.MintFeeBps(),
		RedemptionFeeBps:         e.ledger.RedemptionFeeBps(),
	}); err != nil {
		return err
	}
	if err := e.store.SaveBuffer(batch, &state.BufferState{
		TargetPercentageBps: e.buffer.TargetPercentageBps(),
		MinimumBalance:      e.buffer.MinimumBalance(),
		Custodian:           e.buffer.Custodian(),
	}); err != nil {
		return err
	}

	shares := make(map[string]*big.Int)
	for holder, bal := range e.vault.Shares() {
		shares[holder.String()] = bal
	}
	cooldowns := make(map[string]*state.CooldownState)
	for holder, cd := range e.vault.Cooldowns() {
		cooldowns[holder.String()] = &state.CooldownState{
			UnderlyingAmount: cd.UnderlyingAmount,
			UnlockAt:         cd.UnlockAt,
		}
	}
	enabled, feeBps := e.vault.FastExitConfig()
	if err := e.store.SaveVault(batch, &state.VaultState{
		Shares:           shares,
		Cooldowns:        cooldowns,
		CooldownDuration: e.vault.CooldownDuration(),
		FastExitEnabled:  enabled,
		FastExitFeeBps:   feeBps,
	}); err != nil {
		return err
	}

	whitelisted, admins, restricted := e.policy.Snapshot()
	if err := e.store.SavePolicy(batch, &state.PolicyState{
		Whitelisted: whitelisted,
		Admins:      admins,
		Restricted:  restricted,
	}); err != nil {
		return err
	}

	for _, tok := range []*token.Token{e.issued, e.reserve} {
		if err := e.store.SaveBalances(batch, tok.Name(), tok.Balances()); err != nil {
			return err
		}
	}

	if err := batch.Write(); err != nil {
		return err
	}
	return e.db.Commit()
}

// refreshGauges pushes the headline quantities to the metric gauges.
func (e *Engine) refreshGauges() {
	e.metrics.SetTotalIssued(e.ledger.TotalIssued())
	e.metrics.SetReserveUnderCustody(e.ledger.TotalReserveUnderCustody())
	e.metrics.SetBufferBalance(e.buffer.Available())
	e.metrics.SetTotalShares(e.vault.TotalShares())
}

func (e *Engine) committed(err error) error {
	if err != nil {
		return err
	}
	e.refreshGauges()
	return e.persist()
}

// Mint issues stable tokens to recipient against the caller's
// reserve.
func (e *Engine) Mint(caller, recipient ids.ShortID, reserveAmount, minOut *big.Int) (*big.Int, error) {
	out, err := e.ledger.Mint(caller, recipient, reserveAmount, minOut)
	if err != nil {
		return nil, err
	}
	e.metrics.IncMints()
	return out, e.committed(nil)
}

// Redeem burns issued tokens for reserve, served from the buffer when
// it can cover the gross amount.
func (e *Engine) Redeem(caller, recipient ids.ShortID, issuedAmount, minOut *big.Int) (*big.Int, bool, error) {
	out, servedFromBuffer, err := e.ledger.Redeem(caller, recipient, issuedAmount, minOut)
	if err != nil {
		return nil, false, err
	}
	e.metrics.MarkRedemption(servedFromBuffer)
	return out, servedFromBuffer, e.committed(nil)
}

// ProcessYield mints reserve appreciation into the vault and starts
// its vesting window.
func (e *Engine) ProcessYield(caller ids.ShortID) (*big.Int, error) {
	out, err := e.ledger.ProcessYield(caller)
	if err != nil {
		return nil, err
	}
	e.metrics.IncYieldDistributions()
	return out, e.committed(nil)
}

// BurnExcess burns issued tokens from the admin's own balance.
func (e *Engine) BurnExcess(caller ids.ShortID, amount *big.Int) error {
	return e.committed(e.ledger.BurnExcess(caller, amount))
}

// Rebalance moves the buffer toward its target.
func (e *Engine) Rebalance() (*buffer.RebalanceResult, error) {
	res, err := e.buffer.Rebalance()
	if err != nil {
		return nil, err
	}
	e.metrics.IncRebalances()
	return res, e.committed(nil)
}

// PushToBuffer lets the custodian answer a top-up request by moving
// its own reserve into the buffer.
func (e *Engine) PushToBuffer(caller ids.ShortID, amount *big.Int) error {
	if caller != e.buffer.Custodian() {
		return errNotCustodian
	}
	return e.committed(e.reserve.Transfer(caller, bufferAddr, amount))
}

// IssueReserve credits reserve to an address, representing external
// reserve entering the books. Admin only.
func (e *Engine) IssueReserve(caller, to ids.ShortID, amount *big.Int) error {
	if !e.policy.IsAdmin(caller) {
		return ledger.ErrUnauthorizedCaller
	}
	return e.committed(e.reserve.Mint(to, amount))
}

// Deposit stakes issued tokens in the vault.
func (e *Engine) Deposit(caller, receiver ids.ShortID, assets *big.Int) (*big.Int, error) {
	shares, err := e.vault.Deposit(caller, receiver, assets)
	if err != nil {
		return nil, err
	}
	return shares, e.committed(nil)
}

// RedeemShares exits the vault by share count while cooldown is
// disabled.
func (e *Engine) RedeemShares(owner, receiver ids.ShortID, shares *big.Int) (*big.Int, error) {
	assets, err := e.vault.Redeem(owner, receiver, shares)
	if err != nil {
		return nil, err
	}
	return assets, e.committed(nil)
}

// WithdrawAssets exits the vault by asset amount while cooldown is
// disabled.
func (e *Engine) WithdrawAssets(owner, receiver ids.ShortID, assets *big.Int) (*big.Int, error) {
	shares, err := e.vault.Withdraw(owner, receiver, assets)
	if err != nil {
		return nil, err
	}
	return shares, e.committed(nil)
}

// InitiateCooldown burns vault shares into a pending withdrawal.
func (e *Engine) InitiateCooldown(holder ids.ShortID, shares *big.Int) (*big.Int, time.Time, error) {
	locked, unlockAt, err := e.vault.InitiateCooldown(holder, shares)
	if err != nil {
		return nil, time.Time{}, err
	}
	e.metrics.IncCooldownsStarted()
	return locked, unlockAt, e.committed(nil)
}

// InitiateCooldownAssets is the asset-denominated cooldown entry.
func (e *Engine) InitiateCooldownAssets(holder ids.ShortID, assets *big.Int) (*big.Int, time.Time, error) {
	shares, unlockAt, err := e.vault.InitiateCooldownAssets(holder, assets)
	if err != nil {
		return nil, time.Time{}, err
	}
	e.metrics.IncCooldownsStarted()
	return shares, unlockAt, e.committed(nil)
}

// Claim pays out a matured cooldown.
func (e *Engine) Claim(holder, receiver ids.ShortID) (*big.Int, error) {
	amount, err := e.vault.Claim(holder, receiver)
	if err != nil {
		return nil, err
	}
	e.metrics.IncCooldownsClaimed()
	return amount, e.committed(nil)
}

// FastRedeem exits the vault immediately for a fee, by share count.
func (e *Engine) FastRedeem(owner, receiver ids.ShortID, shares *big.Int) (*big.Int, error) {
	net, err := e.vault.FastRedeem(owner, receiver, shares)
	if err != nil {
		return nil, err
	}
	e.metrics.IncFastExits()
	return net, e.committed(nil)
}

// FastWithdraw exits the vault immediately for a fee, by asset
// amount.
func (e *Engine) FastWithdraw(owner, receiver ids.ShortID, assets *big.Int) (*big.Int, error) {
	net, err := e.vault.FastWithdraw(owner, receiver, assets)
	if err != nil {
		return nil, err
	}
	e.metrics.IncFastExits()
	return net, e.committed(nil)
}

// RedistributeLocked moves or burns a restricted holder's shares.
func (e *Engine) RedistributeLocked(caller, from ids.ShortID, dest vault.Destination) (*big.Int, error) {
	amount, err := e.vault.RedistributeLocked(caller, from, dest)
	if err != nil {
		return nil, err
	}
	return amount, e.committed(nil)
}

// RecordPrice feeds a new oracle observation. Admin only.
func (e *Engine) RecordPrice(caller ids.ShortID, price *big.Int) error {
	if !e.policy.IsAdmin(caller) {
		return ledger.ErrUnauthorizedCaller
	}
	if price == nil || price.Sign() <= 0 {
		return ledger.ErrInvalidPrice
	}
	if e.twap != nil {
		e.twap.Record(price, e.clk.Time())
		return nil
	}
	e.static.SetPrice(price)
	return nil
}

// SetMintFee updates the mint fee rate.
func (e *Engine) SetMintFee(caller ids.ShortID, bps uint16) error {
	return e.committed(e.ledger.SetMintFee(caller, bps))
}

// SetRedemptionFee updates the redemption fee rate.
func (e *Engine) SetRedemptionFee(caller ids.ShortID, bps uint16) error {
	return e.committed(e.ledger.SetRedemptionFee(caller, bps))
}

// SetBufferTarget updates the buffer's target percentage.
func (e *Engine) SetBufferTarget(caller ids.ShortID, bps uint16) error {
	return e.committed(e.buffer.SetTargetPercentage(caller, bps))
}

// SetBufferMinimum updates the buffer's absolute floor.
func (e *Engine) SetBufferMinimum(caller ids.ShortID, minimum *big.Int) error {
	return e.committed(e.buffer.SetMinimumBalance(caller, minimum))
}

// SetCustodian updates the custodian address.
func (e *Engine) SetCustodian(caller, custodian ids.ShortID) error {
	if err := e.buffer.SetCustodian(caller, custodian); err != nil {
		return err
	}
	return e.committed(nil)
}

// SetCooldownDuration updates the vault cooldown.
func (e *Engine) SetCooldownDuration(caller ids.ShortID, d time.Duration) error {
	return e.committed(e.vault.SetCooldownDuration(caller, d))
}

// SetFastExit updates the vault's fast-exit switch and fee.
func (e *Engine) SetFastExit(caller ids.ShortID, enabled bool, feeBps uint16) error {
	return e.committed(e.vault.SetFastExit(caller, enabled, feeBps))
}

// SetWhitelisted grants or revokes mint/redeem access.
func (e *Engine) SetWhitelisted(caller, addr ids.ShortID, whitelisted bool) error {
	return e.committed(e.policy.SetWhitelisted(caller, addr, whitelisted))
}

// SetAdmin grants or revokes the admin role.
func (e *Engine) SetAdmin(caller, addr ids.ShortID, admin bool) error {
	return e.committed(e.policy.SetAdmin(caller, addr, admin))
}

// SetRestricted flags or clears a holder on the compliance blacklist.
func (e *Engine) SetRestricted(caller, addr ids.ShortID, restricted bool) error {
	return e.committed(e.policy.SetRestricted(caller, addr, restricted))
}

// Status is the engine's headline state for the API and audits.
type Status struct {
	TotalIssued              *big.Int `json:"totalIssued"`
	TotalReserveUnderCustody *big.Int `json:"totalReserveUnderCustody"`
	MintFeeBps               uint16   `json:"mintFeeBps"`
	RedemptionFeeBps         uint16   `json:"redemptionFeeBps"`

	BufferBalance       *big.Int `json:"bufferBalance"`
	BufferTarget        *big.Int `json:"bufferTarget"`
	TargetPercentageBps uint16   `json:"targetPercentageBps"`

	TotalShares      *big.Int      `json:"totalShares"`
	TotalAssets      *big.Int      `json:"totalAssets"`
	Unvested         *big.Int      `json:"unvested"`
	CooldownDuration time.Duration `json:"cooldownDuration"`
	FastExitEnabled  bool          `json:"fastExitEnabled"`
	FastExitFeeBps   uint16        `json:"fastExitFeeBps"`
}

// Status returns a consistent read of the headline quantities.
func (e *Engine) Status() *Status {
	enabled, feeBps := e.vault.FastExitConfig()
	return &Status{
		TotalIssued:              e.ledger.TotalIssued(),
		TotalReserveUnderCustody: e.ledger.TotalReserveUnderCustody(),
		MintFeeBps:               e.ledger.MintFeeBps(),
		RedemptionFeeBps:         e.ledger.RedemptionFeeBps(),
		BufferBalance:            e.buffer.Available(),
		BufferTarget:             e.buffer.Target(),
		TargetPercentageBps:      e.buffer.TargetPercentageBps(),
		TotalShares:              e.vault.TotalShares(),
		TotalAssets:              e.vault.TotalAssets(),
		Unvested:                 e.vault.Unvested(),
		CooldownDuration:         e.vault.CooldownDuration(),
		FastExitEnabled:          enabled,
		FastExitFeeBps:           feeBps,
	}
}

// Accessors for the API layer and tests.

func (e *Engine) IssuedBalance(addr ids.ShortID) *big.Int  { return e.issued.BalanceOf(addr) }
func (e *Engine) ReserveBalance(addr ids.ShortID) *big.Int { return e.reserve.BalanceOf(addr) }
func (e *Engine) SharesOf(addr ids.ShortID) *big.Int       { return e.vault.SharesOf(addr) }

func (e *Engine) CooldownOf(addr ids.ShortID) (*vault.Cooldown, bool) {
	return e.vault.CooldownOf(addr)
}

// Metrics exposes the API interceptor for handler wiring.
func (e *Engine) Metrics() metrics.Metrics { return e.metrics }

// EventServer exposes the pubsub endpoint for handler wiring.
func (e *Engine) EventServer() *pubsub.Server { return e.pubsub }

// Clock exposes the engine clock; tests use it to fake time.
func (e *Engine) Clock() *clock.Clock { return e.clk }

// Close persists a final snapshot and releases the version layer.
func (e *Engine) Close() error {
	if err := e.persist(); err != nil {
		return err
	}
	return e.db.Close()
}
