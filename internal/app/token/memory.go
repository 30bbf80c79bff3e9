// Package token provides the collaborators the settlement engine moves value
// through: an in-memory ledger for tests and local development, and a Neo N3
// RPC client for a deployed NEP-17 token.
package token

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-memory fungible token ledger. Safe for concurrent use.
// It is primarily intended for tests and local development.
type Memory struct {
	mu       sync.Mutex
	custody  string
	balances map[string]int64

	failTransfers bool
	rejectNext    bool
}

// NewMemory creates a ledger whose outbound transfers originate from the
// custody account.
func NewMemory(custody string) *Memory {
	return &Memory{
		custody:  custody,
		balances: make(map[string]int64),
	}
}

// Mint credits the holder out of thin air. Test/bootstrap helper.
func (m *Memory) Mint(holder string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[holder] += amount
}

// FailTransfers makes every subsequent transfer report failure. Used to
// exercise the engine's no-partial-effect guarantee.
func (m *Memory) FailTransfers(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTransfers = fail
}

// RejectNextTransfer makes only the next transfer report failure (a false
// return, not a transport error).
func (m *Memory) RejectNextTransfer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = true
}

// Transfer moves amount from custody to the recipient.
func (m *Memory) Transfer(_ context.Context, to string, amount int64) (bool, error) {
	return m.move(m.custody, to, amount)
}

// TransferFrom pulls amount from the given holder into the recipient.
func (m *Memory) TransferFrom(_ context.Context, from, to string, amount int64) (bool, error) {
	return m.move(from, to, amount)
}

// BalanceOf reports the holder's balance.
func (m *Memory) BalanceOf(_ context.Context, holder string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[holder], nil
}

func (m *Memory) move(from, to string, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failTransfers {
		return false, fmt.Errorf("transfer backend unavailable")
	}
	if m.rejectNext {
		m.rejectNext = false
		return false, nil
	}
	if amount <= 0 {
		return false, nil
	}
	if m.balances[from] < amount {
		return false, nil
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return true, nil
}
