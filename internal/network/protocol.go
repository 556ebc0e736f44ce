package network

import (
	"encoding/json"

	"github.com/gravitas-games/forge/internal/inventory"
	"github.com/gravitas-games/forge/internal/synth"
)

// Message types - Client → Server
const (
	MsgTypeCraft     = "craft"
	MsgTypeInventory = "inventory"
	MsgTypePing      = "ping"
)

// Message types - Server → Client
const (
	MsgTypeWelcome     = "welcome"
	MsgTypeCraftResult = "craft_result"
	MsgTypeCraftEvent  = "craft_event"
	MsgTypeError       = "error"
	MsgTypePong        = "pong"
	// MsgTypeInventory doubles as the reply type for inventory requests.
)

// Error codes shared by HTTP bodies and websocket error messages.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidGrid          = "invalid_grid"
	CodeUnknownCategory      = "unknown_category"
	CodeUnknownMaterial      = "unknown_material"
	CodeInsufficientMaterial = "insufficient_material"
	CodeServiceUnavailable   = "service_unavailable"
	CodeContention           = "contention"
	CodeUnauthorized         = "unauthorized"
	CodeForbidden            = "forbidden"
	CodeInternal             = "internal_error"
)

// ClientMessage represents any message from client to server
type ClientMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage represents any message from server to client. ID echoes the
// client message it answers.
type ServerMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload"`
}

// --- Client Message Payloads ---

// CraftRequest is the body of POST /api/craft-request and the payload of a
// craft message. Grid cells are material ids or null.
type CraftRequest struct {
	Grid       [][]*string `json:"grid"`
	WeaponType string      `json:"weaponType"`
}

// GrantRequest is the body of POST /api/admin/grant.
type GrantRequest struct {
	Owner    string `json:"owner"`
	Material string `json:"material"`
	Quantity int    `json:"quantity"`
}

// --- Server Message Payloads ---

// WelcomePayload is sent to a client after its connection is accepted.
type WelcomePayload struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
}

// CraftResult answers a successful craft.
type CraftResult struct {
	Success       bool               `json:"success"`
	TransactionID string             `json:"transactionId"`
	Weapon        *synth.CraftedItem `json:"weapon"`
	Consumed      inventory.Counts   `json:"consumed"`
	Remaining     inventory.Counts   `json:"remaining"`
}

// InventoryEntry is one material holding.
type InventoryEntry struct {
	Material inventory.Summary `json:"material"`
	Quantity int               `json:"quantity"`
}

// InventoryPayload lists an owner's holdings sorted by material id.
type InventoryPayload struct {
	Inventory []InventoryEntry `json:"inventory"`
}

// BuildInventory pairs counts with catalog details. Materials the catalog does
// not know are listed by id only.
func BuildInventory(counts inventory.Counts, catalog *inventory.Catalog) InventoryPayload {
	out := InventoryPayload{Inventory: make([]InventoryEntry, 0, len(counts))}
	for _, id := range counts.Materials() {
		summary := inventory.Summary{ID: id}
		if m, ok := catalog.Lookup(id); ok {
			summary = m.Summary()
		}
		out.Inventory = append(out.Inventory, InventoryEntry{Material: summary, Quantity: counts[id]})
	}
	return out
}

// ErrorPayload contains error information. Details carries rule or shortfall
// fields for rejections.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorBody wraps ErrorPayload for HTTP responses.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}
