// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/dfmarket/marketd/pkg/ids"
)

var (
	ErrNonPositiveAmount    = errors.New("amount must be positive")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientApproval = errors.New("insufficient approval")
)

// FungibleLedger is the bidding/budget currency surface the engines depend
// on. Engines never inspect balances directly; they only move funds.
type FungibleLedger interface {
	// Transfer moves amount from the caller-controlled account to another.
	Transfer(from, to ids.Address, amount decimal.Decimal) error
	// TransferFrom moves amount from owner to recipient on behalf of
	// spender, consuming spender's approval.
	TransferFrom(spender, owner, to ids.Address, amount decimal.Decimal) error
}

// Ledger is an in-memory fungible token ledger with balances and
// per-spender approvals.
type Ledger struct {
	mu        sync.RWMutex
	balances  map[ids.Address]decimal.Decimal
	approvals map[ids.Address]map[ids.Address]decimal.Decimal // owner -> spender -> allowance
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[ids.Address]decimal.Decimal),
		approvals: make(map[ids.Address]map[ids.Address]decimal.Decimal),
	}
}

// Mint credits amount to an account.
func (l *Ledger) Mint(to ids.Address, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

// Approve grants spender an allowance over owner's funds. A new approval
// replaces the previous one.
func (l *Ledger) Approve(owner, spender ids.Address, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.approvals[owner] == nil {
		l.approvals[owner] = make(map[ids.Address]decimal.Decimal)
	}
	l.approvals[owner][spender] = amount
}

// Allowance returns the remaining allowance spender has over owner's funds.
func (l *Ledger) Allowance(owner, spender ids.Address) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.approvals[owner] == nil {
		return decimal.Zero
	}
	return l.approvals[owner][spender]
}

// BalanceOf returns the balance of an account.
func (l *Ledger) BalanceOf(account ids.Address) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.balances[account]
}

// Transfer moves amount between accounts.
func (l *Ledger) Transfer(from, to ids.Address, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.transfer(from, to, amount)
}

// TransferFrom moves amount from owner to recipient, consuming spender's
// allowance.
func (l *Ledger) TransferFrom(spender, owner, to ids.Address, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrNonPositiveAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := decimal.Zero
	if l.approvals[owner] != nil {
		allowance = l.approvals[owner][spender]
	}
	if allowance.LessThan(amount) {
		return ErrInsufficientApproval
	}

	if err := l.transfer(owner, to, amount); err != nil {
		return err
	}

	l.approvals[owner][spender] = allowance.Sub(amount)
	return nil
}

// transfer assumes l.mu is held.
func (l *Ledger) transfer(from, to ids.Address, amount decimal.Decimal) error {
	balance := l.balances[from]
	if balance.LessThan(amount) {
		return ErrInsufficientBalance
	}

	l.balances[from] = balance.Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}
