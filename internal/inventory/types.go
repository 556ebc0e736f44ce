package inventory

// Package inventory holds the identifiers and counted collections shared by
// the grid, ledger and synthesis packages. It never interprets a MaterialID
// beyond identity; descriptive data lives in the Catalog.

import (
	"fmt"
	"sort"
)

// MaterialID represents a catalog-defined identifier for a material.
// The inventory package does not interpret this value.
type MaterialID string

// OwnerID represents an application-defined owner identifier, normally the
// authenticated user id.
type OwnerID string

// Counts is a multiset of materials: every present key maps to a positive
// quantity. It is used both for the materials a craft requires and for the
// quantities an owner holds.
type Counts map[MaterialID]int

// Add increments the count for id. Non-positive quantities are ignored.
func (c Counts) Add(id MaterialID, qty int) {
	if qty <= 0 {
		return
	}
	c[id] += qty
}

// Total returns the number of units across all materials.
func (c Counts) Total() int {
	total := 0
	for _, qty := range c {
		total += qty
	}
	return total
}

// Materials returns the material ids sorted ascending.
func (c Counts) Materials() []MaterialID {
	ids := make([]MaterialID, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns an independent copy with zero and negative entries dropped.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for id, qty := range c {
		if qty > 0 {
			out[id] = qty
		}
	}
	return out
}

// Equal reports whether both multisets hold the same positive quantities.
func (c Counts) Equal(other Counts) bool {
	a, b := c.Clone(), other.Clone()
	if len(a) != len(b) {
		return false
	}
	for id, qty := range a {
		if b[id] != qty {
			return false
		}
	}
	return true
}

// String renders the multiset in sorted order, e.g. "iron:3,wood:2".
func (c Counts) String() string {
	s := ""
	for i, id := range c.Materials() {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s:%d", id, c[id])
	}
	return s
}
