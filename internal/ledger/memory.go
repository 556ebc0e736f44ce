package ledger

import (
	"context"
	"sync"

	"github.com/gravitas-games/forge/internal/inventory"
)

// Memory is an in-process ledger. Each owner's quantities are guarded by that
// owner's lock, so check and deduct are one step for every concurrent caller.
type Memory struct {
	locks *ownerLocks

	mu       sync.RWMutex
	accounts map[inventory.OwnerID]inventory.Counts
	closed   bool
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		locks:    newOwnerLocks(),
		accounts: make(map[inventory.OwnerID]inventory.Counts),
	}
}

// CheckAndDeduct implements Ledger.
func (m *Memory) CheckAndDeduct(ctx context.Context, owner inventory.OwnerID, required inventory.Counts) (inventory.Counts, error) {
	return m.apply(ctx, owner, required, planDeduct)
}

// Credit implements Ledger.
func (m *Memory) Credit(ctx context.Context, owner inventory.OwnerID, items inventory.Counts) (inventory.Counts, error) {
	return m.apply(ctx, owner, items, func(current, items inventory.Counts) (inventory.Counts, error) {
		return planCredit(current, items), nil
	})
}

// Balance implements Ledger.
func (m *Memory) Balance(ctx context.Context, owner inventory.OwnerID) (inventory.Counts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.accounts[owner].Clone(), nil
}

// Close implements Ledger.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) apply(ctx context.Context, owner inventory.OwnerID, items inventory.Counts, plan func(current, items inventory.Counts) (inventory.Counts, error)) (inventory.Counts, error) {
	if err := checkCounts(owner, items); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := m.locks.lock(owner)
	defer unlock()

	m.mu.RLock()
	current, closed := m.accounts[owner], m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	next, err := plan(current, items)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if len(next) == 0 {
		delete(m.accounts, owner)
	} else {
		m.accounts[owner] = next
	}
	m.mu.Unlock()

	return next.Clone(), nil
}
