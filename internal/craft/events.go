package craft

import (
	"sync"
	"time"

	"github.com/gravitas-games/forge/internal/inventory"
)

// EventType represents the type of craft event.
type EventType int

const (
	// EventCommitted is emitted when an item was produced.
	EventCommitted EventType = iota
	// EventRejected is emitted when nothing was deducted: invalid grids,
	// unknown materials, shortfalls and ledger faults.
	EventRejected
	// EventRolledBack is emitted when synthesis failed and the materials were
	// credited back.
	EventRolledBack
	// EventCompensationFailed is emitted when synthesis failed and the
	// materials could not be credited back.
	EventCompensationFailed
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventCommitted:
		return "CraftCommitted"
	case EventRejected:
		return "CraftRejected"
	case EventRolledBack:
		return "CraftRolledBack"
	case EventCompensationFailed:
		return "CraftCompensationFailed"
	default:
		return "Unknown"
	}
}

func eventTypeFor(s State) EventType {
	switch s {
	case StateCommitted:
		return EventCommitted
	case StateRolledBack:
		return EventRolledBack
	case StateCompensationFailed:
		return EventCompensationFailed
	default:
		return EventRejected
	}
}

// Event is published once per finished transaction.
type Event struct {
	Type      EventType `json:"type"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// EventBus delivers events to the owner's subscribers.
type EventBus interface {
	// Subscribe registers a handler for an owner's events. The returned func
	// removes that handler only.
	Subscribe(owner inventory.OwnerID, handler func(Event)) (unsubscribe func())

	// Publish sends an event to the subscribers of its outcome's owner.
	Publish(event Event)
}

type subscription struct {
	id      uint64
	handler func(Event)
}

// SimpleEventBus is an in-memory bus. An owner may have several subscribers,
// e.g. one per open connection.
type SimpleEventBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[inventory.OwnerID][]subscription
}

// NewSimpleEventBus creates an empty bus.
func NewSimpleEventBus() *SimpleEventBus {
	return &SimpleEventBus{handlers: make(map[inventory.OwnerID][]subscription)}
}

// Subscribe implements EventBus.
func (bus *SimpleEventBus) Subscribe(owner inventory.OwnerID, handler func(Event)) func() {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nextID++
	id := bus.nextID
	bus.handlers[owner] = append(bus.handlers[owner], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { bus.remove(owner, id) })
	}
}

func (bus *SimpleEventBus) remove(owner inventory.OwnerID, id uint64) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	subs := bus.handlers[owner]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(bus.handlers, owner)
		return
	}
	bus.handlers[owner] = subs
}

// Subscribers returns the number of handlers registered for owner.
func (bus *SimpleEventBus) Subscribers(owner inventory.OwnerID) int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.handlers[owner])
}

// Publish implements EventBus. Each handler runs in its own goroutine.
func (bus *SimpleEventBus) Publish(event Event) {
	owner := event.Outcome.Owner
	if owner == "" {
		return
	}
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	for _, s := range bus.handlers[owner] {
		go s.handler(event)
	}
}

// NullEventBus drops every event.
type NullEventBus struct{}

// Subscribe does nothing.
func (NullEventBus) Subscribe(inventory.OwnerID, func(Event)) func() { return func() {} }

// Publish does nothing.
func (NullEventBus) Publish(Event) {}
