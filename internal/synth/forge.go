package synth

import (
	"context"
	"fmt"

	"github.com/gravitas-games/forge/internal/inventory"
)

// Synthesizer turns a category and the consumed materials into an item.
type Synthesizer interface {
	Synthesize(ctx context.Context, category Category, consumed inventory.Counts) (CraftedItem, error)
}

// Scaling holds the per-material stat increments applied to a template.
type Scaling struct {
	Attack  int `yaml:"attack"`
	Defense int `yaml:"defense"`
	Speed   int `yaml:"speed"`
	Magic   int `yaml:"magic"`
}

// DefaultScaling adds 2 attack, 1 defense and 1 magic per consumed material
// and leaves speed alone.
func DefaultScaling() Scaling {
	return Scaling{Attack: 2, Defense: 1, Speed: 0, Magic: 1}
}

// apply scales only the stats the template defines.
func (s Scaling) apply(base Stats, n int) Stats {
	out := base.Clone()
	add := func(p *int, per int) {
		if p != nil {
			*p += per * n
		}
	}
	add(out.Attack, s.Attack)
	add(out.Defense, s.Defense)
	add(out.Speed, s.Speed)
	add(out.Magic, s.Magic)
	return out
}

// Forge is the local, deterministic Synthesizer. It is safe for concurrent use.
type Forge struct {
	templates *TemplateRegistry
	scaling   Scaling
	catalog   *inventory.Catalog
}

// ForgeOption configures a Forge.
type ForgeOption func(*Forge)

// WithScaling overrides the default per-material coefficients.
func WithScaling(s Scaling) ForgeOption {
	return func(f *Forge) { f.scaling = s }
}

// WithCatalog lets template selection read material levels.
func WithCatalog(c *inventory.Catalog) ForgeOption {
	return func(f *Forge) { f.catalog = c }
}

// NewForge creates a Forge over the given templates.
func NewForge(templates *TemplateRegistry, opts ...ForgeOption) *Forge {
	f := &Forge{templates: templates, scaling: DefaultScaling()}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Synthesize implements Synthesizer. It only fails for a category without
// templates, which request parsing is expected to have rejected.
func (f *Forge) Synthesize(_ context.Context, category Category, consumed inventory.Counts) (CraftedItem, error) {
	tpl := f.selectTemplate(category, consumed)
	if tpl == nil {
		return CraftedItem{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	n := consumed.Total()
	effects := make([]string, len(tpl.Effects))
	copy(effects, tpl.Effects)

	return CraftedItem{
		Name:        tpl.Name,
		Type:        tpl.Type,
		Category:    category,
		Description: tpl.Description,
		Stats:       f.scaling.apply(tpl.Stats, n),
		Effects:     effects,
		Rarity:      tpl.Rarity,
		TemplateID:  tpl.ID,
		Materials:   n,
	}, nil
}

// selectTemplate picks the eligible template with the highest MinLevel for
// the floor of the consumed materials' average level. Materials missing from
// the catalog count as level 0.
func (f *Forge) selectTemplate(category Category, consumed inventory.Counts) *Template {
	candidates := f.templates.ForCategory(category)
	if len(candidates) == 0 {
		return nil
	}
	level := f.averageLevel(consumed)
	chosen := candidates[0]
	for _, tpl := range candidates[1:] {
		if tpl.MinLevel <= level {
			chosen = tpl
		}
	}
	return chosen
}

func (f *Forge) averageLevel(consumed inventory.Counts) int {
	n := consumed.Total()
	if n == 0 || f.catalog == nil {
		return 0
	}
	sum := 0
	for id, qty := range consumed {
		if m, ok := f.catalog.Lookup(id); ok {
			sum += m.Level * qty
		}
	}
	return sum / n
}
