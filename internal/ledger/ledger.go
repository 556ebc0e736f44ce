// Package ledger tracks per-owner material quantities and exposes the atomic
// check-and-deduct operation crafting relies on. Every backend serializes
// operations per owner; owners never contend with each other.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gravitas-games/forge/internal/inventory"
)

var (
	// ErrInvalidQuantity is returned when a multiset holds a non-positive count
	// or an empty material id.
	ErrInvalidQuantity = errors.New("ledger: quantities must be positive")
	// ErrContention is returned when an optimistic backend could not commit
	// within its retry budget. The operation had no effect and may be retried.
	ErrContention = errors.New("ledger: too much contention on owner record")
	// ErrClosed is returned by operations on a closed ledger.
	ErrClosed = errors.New("ledger: closed")
)

// InsufficientMaterialError reports the first material whose available
// quantity is below what was required. No quantities were changed.
type InsufficientMaterialError struct {
	Material  inventory.MaterialID
	Required  int
	Available int
}

func (e *InsufficientMaterialError) Error() string {
	return fmt.Sprintf("insufficient materials: need %d of %s, have %d", e.Required, e.Material, e.Available)
}

// Ledger holds per-owner material quantities.
type Ledger interface {
	// CheckAndDeduct atomically verifies the owner holds every required
	// quantity and removes them. Either every material is deducted or none is.
	// Returns the owner's remaining quantities.
	CheckAndDeduct(ctx context.Context, owner inventory.OwnerID, required inventory.Counts) (inventory.Counts, error)

	// Credit adds quantities to the owner. It is the exact inverse of a
	// successful CheckAndDeduct and also serves external replenishment.
	Credit(ctx context.Context, owner inventory.OwnerID, items inventory.Counts) (inventory.Counts, error)

	// Balance returns a copy of the owner's quantities. Unknown owners hold
	// nothing.
	Balance(ctx context.Context, owner inventory.OwnerID) (inventory.Counts, error)

	// Close releases backend resources.
	Close() error
}

// checkCounts rejects multisets that cannot describe a real movement.
func checkCounts(owner inventory.OwnerID, items inventory.Counts) error {
	if owner == "" {
		return fmt.Errorf("%w: empty owner", ErrInvalidQuantity)
	}
	for id, qty := range items {
		if id == "" {
			return fmt.Errorf("%w: empty material id", ErrInvalidQuantity)
		}
		if qty <= 0 {
			return fmt.Errorf("%w: %s has %d", ErrInvalidQuantity, id, qty)
		}
	}
	return nil
}

// planDeduct computes the quantities left after removing required from
// current. It inspects materials in sorted order so the reported shortfall is
// deterministic, and it never mutates current. Materials reaching zero are
// absent from the result.
func planDeduct(current, required inventory.Counts) (inventory.Counts, error) {
	for _, id := range required.Materials() {
		if available := current[id]; available < required[id] {
			return nil, &InsufficientMaterialError{
				Material:  id,
				Required:  required[id],
				Available: available,
			}
		}
	}
	next := current.Clone()
	for id, qty := range required {
		next[id] -= qty
		if next[id] == 0 {
			delete(next, id)
		}
	}
	return next, nil
}

// planCredit computes the quantities after adding items to current.
func planCredit(current, items inventory.Counts) inventory.Counts {
	next := current.Clone()
	for id, qty := range items {
		next.Add(id, qty)
	}
	return next
}
