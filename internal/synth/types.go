package synth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gravitas-games/forge/internal/inventory"
)

// ErrUnknownCategory is returned for a category outside the closed set.
var ErrUnknownCategory = errors.New("unknown weapon category")

// Category identifies a family of craftable weapons.
type Category string

// Supported categories.
const (
	CategoryBows      Category = "bows"
	CategoryCannons   Category = "cannons"
	CategoryDaggers   Category = "daggers"
	CategoryGauntlets Category = "gauntlets"
	CategoryHandguns  Category = "handguns"
	CategoryRifles    Category = "rifles"
	CategoryShields   Category = "shields"
	CategorySnipers   Category = "snipers"
	CategorySpears    Category = "spears"
	CategoryStaves    Category = "staves"
	CategorySwords    Category = "swords"
)

var categories = map[Category]bool{
	CategoryBows: true, CategoryCannons: true, CategoryDaggers: true,
	CategoryGauntlets: true, CategoryHandguns: true, CategoryRifles: true,
	CategoryShields: true, CategorySnipers: true, CategorySpears: true,
	CategoryStaves: true, CategorySwords: true,
}

// Categories returns the closed set, sorted.
func Categories() []Category {
	out := make([]Category, 0, len(categories))
	for c := range categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseCategory validates s against the closed set. Unknown values are an
// error; they never fall back to another category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	if !categories[c] {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool { return categories[c] }

// Rarity is an ordered tier; higher values are rarer.
type Rarity int

const (
	RarityCommon Rarity = iota
	RarityUncommon
	RarityRare
	RarityEpic
	RarityLegendary
)

var rarityNames = [...]string{"common", "uncommon", "rare", "epic", "legendary"}

// String returns the wire name of the tier.
func (r Rarity) String() string {
	if r < RarityCommon || r > RarityLegendary {
		return "unknown"
	}
	return rarityNames[r]
}

// ParseRarity converts a wire name into a Rarity.
func ParseRarity(s string) (Rarity, error) {
	for i, name := range rarityNames {
		if name == s {
			return Rarity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown rarity %q", s)
}

// MarshalJSON encodes the tier by name.
func (r Rarity) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a tier name.
func (r *Rarity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRarity(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UnmarshalYAML decodes a tier name in template files.
func (r *Rarity) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseRarity(node.Value)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Stats holds optional combat stats. A nil field is absent from the item.
type Stats struct {
	Attack  *int `yaml:"attack" json:"attack,omitempty"`
	Defense *int `yaml:"defense" json:"defense,omitempty"`
	Speed   *int `yaml:"speed" json:"speed,omitempty"`
	Magic   *int `yaml:"magic" json:"magic,omitempty"`
}

// Clone returns a deep copy so callers never share stat pointers.
func (s Stats) Clone() Stats {
	cp := func(p *int) *int {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	return Stats{Attack: cp(s.Attack), Defense: cp(s.Defense), Speed: cp(s.Speed), Magic: cp(s.Magic)}
}

// Int returns a pointer to v, for building Stats literals.
func Int(v int) *int { return &v }

// CraftedItem is the terminal artifact of a committed craft.
type CraftedItem struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Stats       Stats    `json:"stats"`
	Effects     []string `json:"effects"`
	Rarity      Rarity   `json:"rarity"`
	TemplateID  string   `json:"templateId"`
	Materials   int      `json:"materials"`
}

// Request is the wire form of a stateless synthesis call.
type Request struct {
	Category  Category         `json:"category"`
	Materials inventory.Counts `json:"materials"`
}

// Response is the wire form of a synthesis result.
type Response struct {
	Success bool         `json:"success"`
	Weapon  *CraftedItem `json:"weapon,omitempty"`
	Error   string       `json:"error,omitempty"`
}
