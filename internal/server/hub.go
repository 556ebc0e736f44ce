package server

import (
	"sync"

	"github.com/gravitas-games/forge/internal/inventory"
	"github.com/gravitas-games/forge/internal/network"
)

// Hub tracks open websocket connections by owner.
type Hub struct {
	mu    sync.RWMutex
	conns map[inventory.OwnerID]map[*Connection]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[inventory.OwnerID]map[*Connection]struct{})}
}

// Add registers a connection.
func (h *Hub) Add(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owner := c.player.Owner()
	set, ok := h.conns[owner]
	if !ok {
		set = make(map[*Connection]struct{})
		h.conns[owner] = set
	}
	set[c] = struct{}{}
}

// Remove unregisters a connection.
func (h *Hub) Remove(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owner := c.player.Owner()
	set := h.conns[owner]
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, owner)
	}
}

// SendToOwner delivers msg to every connection of owner.
func (h *Hub) SendToOwner(owner inventory.OwnerID, msg *network.ServerMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[owner] {
		c.SendMessage(msg)
	}
	return len(h.conns[owner])
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

// CloseAll closes every connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Connection
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close()
	}
}
