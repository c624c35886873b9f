// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the engine over JSON-RPC. Amounts travel as
// base-10 strings so 1e18-scaled values never lose precision in
// transit.
package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/stable"
	"github.com/luxfi/stable/vault"
)

var errInvalidAmount = errors.New("invalid amount string")

// Service is the JSON-RPC handler backed by the engine.
type Service struct {
	engine *stable.Engine
	log    log.Logger
}

func NewService(engine *stable.Engine, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NoLog{}
	}
	return &Service{engine: engine, log: logger}
}

func parseAddr(field, s string) (ids.ShortID, error) {
	addr, err := ids.ShortFromString(s)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("invalid %s address %q: %w", field, s, err)
	}
	return addr, nil
}

func parseAmount(field, s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", errInvalidAmount, field, s)
	}
	return amount, nil
}

// parseOptAmount allows an empty string to mean "no bound".
func parseOptAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseAmount(field, s)
}

type MintArgs struct {
	Caller        string `json:"caller"`
	Recipient     string `json:"recipient"`
	ReserveAmount string `json:"reserveAmount"`
	MinOut        string `json:"minOut"`
}

type MintReply struct {
	IssuedAmount string `json:"issuedAmount"`
}

// Mint issues stable tokens against the caller's reserve.
func (s *Service) Mint(_ *http.Request, args *MintArgs, reply *MintReply) error {
	s.log.Debug("API called", "service", "stable", "method", "mint")

	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	recipient, err := parseAddr("recipient", args.Recipient)
	if err != nil {
		return err
	}
	amount, err := parseAmount("reserveAmount", args.ReserveAmount)
	if err != nil {
		return err
	}
	minOut, err := parseOptAmount("minOut", args.MinOut)
	if err != nil {
		return err
	}

	issued, err := s.engine.Mint(caller, recipient, amount, minOut)
	if err != nil {
		return err
	}
	reply.IssuedAmount = issued.String()
	return nil
}

type RedeemArgs struct {
	Caller       string `json:"caller"`
	Recipient    string `json:"recipient"`
	IssuedAmount string `json:"issuedAmount"`
	MinOut       string `json:"minOut"`
}

type RedeemReply struct {
	NetReserveOut    string `json:"netReserveOut"`
	ServedFromBuffer bool   `json:"servedFromBuffer"`
}

// Redeem burns issued tokens for reserve.
func (s *Service) Redeem(_ *http.Request, args *RedeemArgs, reply *RedeemReply) error {
	s.log.Debug("API called", "service", "stable", "method", "redeem")

	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	recipient, err := parseAddr("recipient", args.Recipient)
	if err != nil {
		return err
	}
	amount, err := parseAmount("issuedAmount", args.IssuedAmount)
	if err != nil {
		return err
	}
	minOut, err := parseOptAmount("minOut", args.MinOut)
	if err != nil {
		return err
	}

	net, servedFromBuffer, err := s.engine.Redeem(caller, recipient, amount, minOut)
	if err != nil {
		return err
	}
	reply.NetReserveOut = net.String()
	reply.ServedFromBuffer = servedFromBuffer
	return nil
}

type CallerArgs struct {
	Caller string `json:"caller"`
}

type ProcessYieldReply struct {
	YieldIssued string `json:"yieldIssued"`
}

// ProcessYield distributes reserve appreciation into the vault.
func (s *Service) ProcessYield(_ *http.Request, args *CallerArgs, reply *ProcessYieldReply) error {
	s.log.Debug("API called", "service", "stable", "method", "processYield")

	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	yield, err := s.engine.ProcessYield(caller)
	if err != nil {
		return err
	}
	reply.YieldIssued = yield.String()
	return nil
}

type BurnExcessArgs struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

// BurnExcess burns issued tokens from the admin's own balance.
func (s *Service) BurnExcess(_ *http.Request, args *BurnExcessArgs, _ *struct{}) error {
	s.log.Debug("API called", "service", "stable", "method", "burnExcess")

	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", args.Amount)
	if err != nil {
		return err
	}
	return s.engine.BurnExcess(caller, amount)
}

type RebalanceReply struct {
	Action string `json:"action"`
	Amount string `json:"amount"`
	Target string `json:"target"`
}

// Rebalance converges the buffer toward its target.
func (s *Service) Rebalance(_ *http.Request, _ *struct{}, reply *RebalanceReply) error {
	s.log.Debug("API called", "service", "stable", "method", "rebalance")

	res, err := s.engine.Rebalance()
	if err != nil {
		return err
	}
	reply.Action = res.Action.String()
	reply.Amount = res.Amount.String()
	reply.Target = res.Target.String()
	return nil
}

type PushToBufferArgs struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

// PushToBuffer answers a top-up request with custodian funds.
func (s *Service) PushToBuffer(_ *http.Request, args *PushToBufferArgs, _ *struct{}) error {
	s.log.Debug("API called", "service", "stable", "method", "pushToBuffer")

	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", args.Amount)
	if err != nil {
		return err
	}
	return s.engine.PushToBuffer(caller, amount)
}

type IssueReserveArgs struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// IssueReserve credits reserve entering the books from outside.
func (s *Service) IssueReserve(_ *http.Request, args *IssueReserveArgs, _ *struct{}) error {
	s.log.Debug("API called", "service", "stable", "method", "issueReserve")

	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	to, err := parseAddr("to", args.To)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", args.Amount)
	if err != nil {
		return err
	}
	return s.engine.IssueReserve(caller, to, amount)
}

type DepositArgs struct {
	Caller   string `json:"caller"`
	Receiver string `json:"receiver"`
	Assets   string `json:"assets"`
}

type SharesReply struct {
	Shares string `json:"shares"`
}

// Deposit stakes issued tokens in the vault.
func (s *Service) Deposit(_ *http.Request, args *DepositArgs, reply *SharesReply) error {
	s.log.Debug("API called", "service", "stable", "method", "deposit")

	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	receiver, err := parseAddr("receiver", args.Receiver)
	if err != nil {
		return err
	}
	assets, err := parseAmount("assets", args.Assets)
	if err != nil {
		return err
	}
	shares, err := s.engine.Deposit(caller, receiver, assets)
	if err != nil {
		return err
	}
	reply.Shares = shares.String()
	return nil
}

type ExitArgs struct {
	Owner    string `json:"owner"`
	Receiver string `json:"receiver"`
	Shares   string `json:"shares"`
	Assets   string `json:"assets"`
}

type ExitReply struct {
	Shares string `json:"shares,omitempty"`
	Assets string `json:"assets,omitempty"`
}

// RedeemShares exits the vault by share count (cooldown disabled).
func (s *Service) RedeemShares(_ *http.Request, args *ExitArgs, reply *ExitReply) error {
	s.log.Debug("API called", "service", "stable", "method", "redeemShares")

	owner, receiver, err := exitAddrs(args)
	if err != nil {
		return err
	}
	shares, err := parseAmount("shares", args.Shares)
	if err != nil {
		return err
	}
	assets, err := s.engine.RedeemShares(owner, receiver, shares)
	if err != nil {
		return err
	}
	reply.Assets = assets.String()
	return nil
}

// WithdrawAssets exits the vault by asset amount (cooldown disabled).
func (s *Service) WithdrawAssets(_ *http.Request, args *ExitArgs, reply *ExitReply) error {
	s.log.Debug("API called", "service", "stable", "method", "withdrawAssets")

	owner, receiver, err := exitAddrs(args)
	if err != nil {
		return err
	}
	assets, err := parseAmount("assets", args.Assets)
	if err != nil {
		return err
	}
	shares, err := s.engine.WithdrawAssets(owner, receiver, assets)
	if err != nil {
		return err
	}
	reply.Shares = shares.String()
	return nil
}

func exitAddrs(args *ExitArgs) (ids.ShortID, ids.ShortID, error) {
	owner, err := parseAddr("owner", args.Owner)
	if err != nil {
		return ids.ShortEmpty, ids.ShortEmpty, err
	}
	receiver, err := parseAddr("receiver", args.Receiver)
	if err != nil {
		return ids.ShortEmpty, ids.ShortEmpty, err
	}
	return owner, receiver, nil
}

type CooldownArgs struct {
	Holder string `json:"holder"`
	Shares string `json:"shares"`
	Assets string `json:"assets"`
}

type CooldownReply struct {
	Locked   string    `json:"locked,omitempty"`
	Shares   string    `json:"shares,omitempty"`
	UnlockAt time.Time `json:"unlockAt"`
}

// InitiateCooldown burns shares into a pending withdrawal.
func (s *Service) InitiateCooldown(_ *http.Request, args *CooldownArgs, reply *CooldownReply) error {
	s.log.Debug("API called", "service", "stable", "method", "initiateCooldown")

	holder, err := parseAddr("holder", args.Holder)
	if err != nil {
		return err
	}
	shares, err := parseAmount("shares", args.Shares)
	if err != nil {
		return err
	}
	locked, unlockAt, err := s.engine.InitiateCooldown(holder, shares)
	if err != nil {
		return err
	}
	reply.Locked = locked.String()
	reply.UnlockAt = unlockAt
	return nil
}

// InitiateCooldownAssets is the asset-denominated cooldown entry.
func (s *Service) InitiateCooldownAssets(_ *http.Request, args *CooldownArgs, reply *CooldownReply) error {
	s.log.Debug("API called", "service", "stable", "method", "initiateCooldownAssets")

	holder, err := parseAddr("holder", args.Holder)
	if err != nil {
		return err
	}
	assets, err := parseAmount("assets", args.Assets)
	if err != nil {
		return err
	}
	shares, unlockAt, err := s.engine.InitiateCooldownAssets(holder, assets)
	if err != nil {
		return err
	}
	reply.Shares = shares.String()
	reply.UnlockAt = unlockAt
	return nil
}

type ClaimArgs struct {
	Holder   string `json:"holder"`
	Receiver string `json:"receiver"`
}

type ClaimReply struct {
	Amount string `json:"amount"`
}

// Claim pays out a matured cooldown.
func (s *Service) Claim(_ *http.Request, args *ClaimArgs, reply *ClaimReply) error {
	s.log.Debug("API called", "service", "stable", "method", "claim")

	holder, err := parseAddr("holder", args.Holder)
	if err != nil {
		return err
	}
	receiver, err := parseAddr("receiver", args.Receiver)
	if err != nil {
		return err
	}
	amount, err := s.engine.Claim(holder, receiver)
	if err != nil {
		return err
	}
	reply.Amount = amount.String()
	return nil
}

type FastExitReply struct {
	Net string `json:"net"`
}

// FastRedeem exits immediately for a fee, by share count.
func (s *Service) FastRedeem(_ *http.Request, args *ExitArgs, reply *FastExitReply) error {
	s.log.Debug("API called", "service", "stable", "method", "fastRedeem")

	owner, receiver, err := exitAddrs(args)
	if err != nil {
		return err
	}
	shares, err := parseAmount("shares", args.Shares)
	if err != nil {
		return err
	}
	net, err := s.engine.FastRedeem(owner, receiver, shares)
	if err != nil {
		return err
	}
	reply.Net = net.String()
	return nil
}

// FastWithdraw exits immediately for a fee, by asset amount.
func (s *Service) FastWithdraw(_ *http.Request, args *ExitArgs, reply *FastExitReply) error {
	s.log.Debug("API called", "service", "stable", "method", "fastWithdraw")

	owner, receiver, err := exitAddrs(args)
	if err != nil {
		return err
	}
	assets, err := parseAmount("assets", args.Assets)
	if err != nil {
		return err
	}
	net, err := s.engine.FastWithdraw(owner, receiver, assets)
	if err != nil {
		return err
	}
	reply.Net = net.String()
	return nil
}

type RedistributeArgs struct {
	Caller string `json:"caller"`
	From   string `json:"from"`
	// To is empty to burn the shares instead of moving them.
	To string `json:"to"`
}

type RedistributeReply struct {
	Shares string `json:"shares"`
	Burned bool   `json:"burned"`
}

// RedistributeLocked moves or burns a restricted holder's shares.
func (s *Service) RedistributeLocked(_ *http.Request, args *RedistributeArgs, reply *RedistributeReply) error {
	s.log.Debug("API called", "service", "stable", "method", "redistributeLocked")

	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	from, err := parseAddr("from", args.From)
	if err != nil {
		return err
	}
	dest := vault.ToBurn()
	if args.To != "" {
		to, err := parseAddr("to", args.To)
		if err != nil {
			return err
		}
		dest = vault.ToHolder(to)
	}

	shares, err := s.engine.RedistributeLocked(caller, from, dest)
	if err != nil {
		return err
	}
	reply.Shares = shares.String()
	reply.Burned = dest.IsBurn()
	return nil
}

type RecordPriceArgs struct {
	Caller string `json:"caller"`
	Price  string `json:"price"`
}

// RecordPrice feeds a new oracle observation.
func (s *Service) RecordPrice(_ *http.Request, args *RecordPriceArgs, _ *struct{}) error {
	s.log.Debug("API called", "service", "stable", "method", "recordPrice")

	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	price, err := parseAmount("price", args.Price)
	if err != nil {
		return err
	}
	return s.engine.RecordPrice(caller, price)
}

type SetFeeArgs struct {
	Caller string `json:"caller"`
	Bps    uint16 `json:"bps"`
}

// SetMintFee updates the mint fee rate.
func (s *Service) SetMintFee(_ *http.Request, args *SetFeeArgs, _ *struct{}) error {
	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	return s.engine.SetMintFee(caller, args.Bps)
}

// SetRedemptionFee updates the redemption fee rate.
func (s *Service) SetRedemptionFee(_ *http.Request, args *SetFeeArgs, _ *struct{}) error {
	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	return s.engine.SetRedemptionFee(caller, args.Bps)
}

// SetBufferTarget updates the buffer's target percentage.
func (s *Service) SetBufferTarget(_ *http.Request, args *SetFeeArgs, _ *struct{}) error {
	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	return s.engine.SetBufferTarget(caller, args.Bps)
}

type SetBufferMinimumArgs struct {
	Caller  string `json:"caller"`
	Minimum string `json:"minimum"`
}

// SetBufferMinimum updates the buffer's absolute floor.
func (s *Service) SetBufferMinimum(_ *http.Request, args *SetBufferMinimumArgs, _ *struct{}) error {
	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	minimum, err := parseAmount("minimum", args.Minimum)
	if err != nil {
		return err
	}
	return s.engine.SetBufferMinimum(caller, minimum)
}

type SetCooldownArgs struct {
	Caller          string `json:"caller"`
	DurationSeconds uint64 `json:"durationSeconds"`
}

// SetCooldownDuration updates the vault cooldown.
func (s *Service) SetCooldownDuration(_ *http.Request, args *SetCooldownArgs, _ *struct{}) error {
	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	return s.engine.SetCooldownDuration(caller, time.Duration(args.DurationSeconds)*time.Second)
}

type SetFastExitArgs struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
	FeeBps  uint16 `json:"feeBps"`
}

// SetFastExit updates the fast-exit switch and fee.
func (s *Service) SetFastExit(_ *http.Request, args *SetFastExitArgs, _ *struct{}) error {
	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return err
	}
	return s.engine.SetFastExit(caller, args.Enabled, args.FeeBps)
}

type SetRoleArgs struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Granted bool   `json:"granted"`
}

// SetWhitelisted grants or revokes mint/redeem access.
func (s *Service) SetWhitelisted(_ *http.Request, args *SetRoleArgs, _ *struct{}) error {
	caller, addr, err := roleAddrs(args)
	if err != nil {
		return err
	}
	return s.engine.SetWhitelisted(caller, addr, args.Granted)
}

// SetAdmin grants or revokes the admin role.
func (s *Service) SetAdmin(_ *http.Request, args *SetRoleArgs, _ *struct{}) error {
	caller, addr, err := roleAddrs(args)
	if err != nil {
		return err
	}
	return s.engine.SetAdmin(caller, addr, args.Granted)
}

// SetRestricted flags or clears a holder on the compliance blacklist.
func (s *Service) SetRestricted(_ *http.Request, args *SetRoleArgs, _ *struct{}) error {
	caller, addr, err := roleAddrs(args)
	if err != nil {
		return err
	}
	return s.engine.SetRestricted(caller, addr, args.Granted)
}

func roleAddrs(args *SetRoleArgs) (ids.ShortID, ids.ShortID, error) {
	caller, err := parseAddr("caller", args.Caller)
	if err != nil {
		return ids.ShortEmpty, ids.ShortEmpty, err
	}
	addr, err := parseAddr("address", args.Address)
	if err != nil {
		return ids.ShortEmpty, ids.ShortEmpty, err
	}
	return caller, addr, nil
}

type StatusReply struct {
	Status *stable.Status `json:"status"`
}

// Status returns the engine's headline quantities.
func (s *Service) Status(_ *http.Request, _ *struct{}, reply *StatusReply) error {
	s.log.Debug("API called", "service", "stable", "method", "status")
	reply.Status = s.engine.Status()
	return nil
}

type BalanceArgs struct {
	Address string `json:"address"`
}

type BalanceReply struct {
	Issued  string `json:"issued"`
	Reserve string `json:"reserve"`
	Shares  string `json:"shares"`
}

// Balance returns an address's holdings across the books.
func (s *Service) Balance(_ *http.Request, args *BalanceArgs, reply *BalanceReply) error {
	s.log.Debug("API called", "service", "stable", "method", "balance")

	addr, err := parseAddr("address", args.Address)
	if err != nil {
		return err
	}
	reply.Issued = s.engine.IssuedBalance(addr).String()
	reply.Reserve = s.engine.ReserveBalance(addr).String()
	reply.Shares = s.engine.SharesOf(addr).String()
	return nil
}

type CooldownStatusReply struct {
	Active   bool      `json:"active"`
	Locked   string    `json:"locked,omitempty"`
	UnlockAt time.Time `json:"unlockAt,omitempty"`
}

// CooldownStatus returns a holder's pending cooldown, if any.
func (s *Service) CooldownStatus(_ *http.Request, args *BalanceArgs, reply *CooldownStatusReply) error {
	addr, err := parseAddr("address", args.Address)
	if err != nil {
		return err
	}
	cd, ok := s.engine.CooldownOf(addr)
	if !ok {
		return nil
	}
	reply.Active = true
	reply.Locked = cd.UnderlyingAmount.String()
	reply.UnlockAt = cd.UnlockAt
	return nil
}
