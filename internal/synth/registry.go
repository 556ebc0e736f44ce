package synth

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Template is the base definition a crafted item is scaled from.
type Template struct {
	ID          string   `yaml:"id"`
	Category    Category `yaml:"category"`
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
	Stats       Stats    `yaml:"stats"`
	Effects     []string `yaml:"effects"`
	Rarity      Rarity   `yaml:"rarity"`
	// MinLevel is the average material level at which this template becomes
	// eligible. Zero means always eligible.
	MinLevel int `yaml:"min_level"`
}

// TemplateRegistry stores templates indexed by category. Each category's
// slice is kept sorted by MinLevel, then ID.
type TemplateRegistry struct {
	mu         sync.RWMutex
	templates  map[string]*Template
	byCategory map[Category][]*Template
}

// NewTemplateRegistry creates an empty registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		templates:  make(map[string]*Template),
		byCategory: make(map[Category][]*Template),
	}
}

// DefaultTemplates returns the registry embedded in the binary. It covers
// every category.
func DefaultTemplates() (*TemplateRegistry, error) {
	return ParseTemplates(defaultTemplates)
}

// LoadTemplates reads a YAML template file.
func LoadTemplates(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes a `templates: [...]` document and checks that every
// category has at least one template.
func ParseTemplates(data []byte) (*TemplateRegistry, error) {
	var doc struct {
		Templates []*Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	reg := NewTemplateRegistry()
	for i, tpl := range doc.Templates {
		if err := reg.Register(tpl); err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
	}
	if missing := reg.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("no templates for categories %v", missing)
	}
	return reg, nil
}

// Register adds or replaces a template.
func (r *TemplateRegistry) Register(tpl *Template) error {
	if tpl == nil {
		return errors.New("template cannot be nil")
	}
	if tpl.ID == "" {
		return errors.New("template ID cannot be empty")
	}
	if !tpl.Category.Valid() {
		return fmt.Errorf("template %s: %w: %q", tpl.ID, ErrUnknownCategory, tpl.Category)
	}
	if tpl.Name == "" {
		return fmt.Errorf("template %s: name cannot be empty", tpl.ID)
	}
	if tpl.MinLevel < 0 {
		return fmt.Errorf("template %s: min_level cannot be negative", tpl.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.templates[tpl.ID]; ok {
		r.byCategory[existing.Category] = removeTemplate(r.byCategory[existing.Category], tpl.ID)
	}
	r.templates[tpl.ID] = tpl

	list := append(r.byCategory[tpl.Category], tpl)
	sort.Slice(list, func(i, j int) bool {
		if list[i].MinLevel != list[j].MinLevel {
			return list[i].MinLevel < list[j].MinLevel
		}
		return list[i].ID < list[j].ID
	})
	r.byCategory[tpl.Category] = list
	return nil
}

func removeTemplate(list []*Template, id string) []*Template {
	out := make([]*Template, 0, len(list))
	for _, t := range list {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// Lookup retrieves a template by ID. Returns nil if not found.
func (r *TemplateRegistry) Lookup(id string) *Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[id]
}

// ForCategory returns the category's templates ordered by MinLevel.
func (r *TemplateRegistry) ForCategory(c Category) []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byCategory[c]
	out := make([]*Template, len(list))
	copy(out, list)
	return out
}

// Missing returns the categories without any template.
func (r *TemplateRegistry) Missing() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Category
	for _, c := range Categories() {
		if len(r.byCategory[c]) == 0 {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of templates in the registry.
func (r *TemplateRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}
