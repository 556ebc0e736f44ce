package ledger

import (
	"sync"

	"github.com/gravitas-games/forge/internal/inventory"
)

// ownerLocks hands out one mutex per owner and forgets it once no caller
// holds or waits for it, so idle owners cost nothing.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[inventory.OwnerID]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[inventory.OwnerID]*ownerLock)}
}

// lock blocks until the caller holds owner's exclusive section and returns
// the function that releases it.
func (l *ownerLocks) lock(owner inventory.OwnerID) func() {
	l.mu.Lock()
	ol, ok := l.locks[owner]
	if !ok {
		ol = &ownerLock{}
		l.locks[owner] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.mu.Lock()
	return func() {
		ol.mu.Unlock()
		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.locks, owner)
		}
		l.mu.Unlock()
	}
}

// held returns the number of owners with a live lock entry.
func (l *ownerLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
