package models

import (
	"time"

	"github.com/gravitas-games/forge/internal/inventory"
)

// Player represents an authenticated crafter
type Player struct {
	// From JWT claims
	ID          string `json:"id"`          // Converted from int64 user_id
	Username    string `json:"username"`    // JWT claim
	Email       string `json:"email"`       // JWT claim
	UserType    string `json:"user_type"`   // JWT claim (deprecated, use permissions)
	Permissions int64  `json:"permissions"` // JWT claim: bitwise permission flags
	Activated   int64  `json:"activated"`   // JWT claim: activation timestamp or ban status
	AuthMethod  string `json:"auth_method"` // JWT claim: "password" or "oauth"

	// Connection state, zero for plain HTTP requests
	ConnectedAt time.Time `json:"connected_at"`
}

// Owner returns the ledger key for the player's materials.
func (p *Player) Owner() inventory.OwnerID {
	return inventory.OwnerID(p.ID)
}

// IsActive checks if the player account is activated and not banned
func (p *Player) IsActive() bool {
	// activated > 0 means activated
	// activated == 0 means not activated
	// activated == -1 means banned
	return p.Activated > 0
}

// IsBanned checks if the player is banned
func (p *Player) IsBanned() bool {
	return p.Activated == -1
}

// HasPermission reports whether every bit of perm is set.
func (p *Player) HasPermission(perm int64) bool {
	return perm != 0 && p.Permissions&perm == perm
}
