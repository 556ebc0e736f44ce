package inventory

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed materials.yaml
var defaultMaterials []byte

// Material captures the catalog record of a craftable material. The engine only
// needs identity to validate and deduct; synthesis reads Level.
type Material struct {
	ID                    MaterialID `yaml:"id" json:"id"`
	Name                  string     `yaml:"name" json:"name"`
	Description           string     `yaml:"description" json:"description"`
	Lore                  string     `yaml:"lore" json:"lore,omitempty"`
	Level                 int        `yaml:"level" json:"level"`
	StatPoints            int        `yaml:"stat_points" json:"statPoints"`
	EffectPoints          int        `yaml:"effect_points" json:"effectPoints"`
	ElementalChancePoints int        `yaml:"elemental_chance_points" json:"elementalChancePoints"`
	ElementalDistribution []float64  `yaml:"elemental_distribution" json:"elementalDistribution,omitempty"`
}

// Summary is the client-safe subset of a Material.
type Summary struct {
	ID          MaterialID `json:"id"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Level       int        `json:"level"`
}

// Summary strips lore and point budgets from the record.
func (m Material) Summary() Summary {
	return Summary{ID: m.ID, Name: m.Name, Description: m.Description, Level: m.Level}
}

// Catalog stores material records keyed by MaterialID. It is read-only to the
// crafting engine and safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	items map[MaterialID]Material
}

// NewCatalog constructs a catalog optionally seeded with materials.
func NewCatalog(materials ...Material) *Catalog {
	c := &Catalog{items: make(map[MaterialID]Material, len(materials))}
	for _, m := range materials {
		_ = c.Register(m) // ignore invalid seeds
	}
	return c
}

// DefaultCatalog returns the catalog embedded in the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultMaterials)
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML document of the form `materials: [...]`.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Materials []Material `yaml:"materials"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	c := NewCatalog()
	for i, m := range doc.Materials {
		if err := c.Register(m); err != nil {
			return nil, fmt.Errorf("material %d: %w", i, err)
		}
	}
	return c, nil
}

// Register inserts or replaces a material record. The ID must be non-empty
// and the level non-negative.
func (c *Catalog) Register(m Material) error {
	if m.ID == "" {
		return errors.New("inventory: material missing id")
	}
	if m.Level < 0 {
		return fmt.Errorf("inventory: material %s has negative level", m.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[m.ID] = m
	return nil
}

// Lookup returns the record for id, if present.
func (c *Catalog) Lookup(id MaterialID) (Material, bool) {
	if c == nil {
		return Material{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.items[id]
	return m, ok
}

// Missing returns the materials of counts that are absent from the catalog,
// sorted by id.
func (c *Catalog) Missing(counts Counts) []MaterialID {
	var out []MaterialID
	for _, id := range counts.Materials() {
		if _, ok := c.Lookup(id); !ok {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of registered materials.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Export copies the catalog into a slice sorted by MaterialID.
func (c *Catalog) Export() []Material {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Material, 0, len(c.items))
	for _, m := range c.items {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
