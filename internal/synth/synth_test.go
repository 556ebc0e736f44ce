package synth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitas-games/forge/internal/inventory"
)

func defaultForge(t *testing.T, opts ...ForgeOption) *Forge {
	t.Helper()
	reg, err := DefaultTemplates()
	require.NoError(t, err)
	return NewForge(reg, opts...)
}

func TestDefaultTemplatesCoverEveryCategory(t *testing.T) {
	reg, err := DefaultTemplates()
	require.NoError(t, err)
	assert.Empty(t, reg.Missing())
	for _, c := range Categories() {
		assert.NotEmpty(t, reg.ForCategory(c), "category %s", c)
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("swords")
	require.NoError(t, err)
	assert.Equal(t, CategorySwords, c)

	_, err = ParseCategory("laser")
	assert.ErrorIs(t, err, ErrUnknownCategory)
	_, err = ParseCategory("")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestSynthesizeScalesByMaterialCount(t *testing.T) {
	f := defaultForge(t)
	reg, _ := DefaultTemplates()
	base := reg.Lookup("shield-aegis")
	require.NotNil(t, base)

	consumed := inventory.Counts{"iron": 10, "oak": 5}
	item, err := f.Synthesize(context.Background(), CategoryShields, consumed)
	require.NoError(t, err)

	assert.Equal(t, "Aegis of Eternal Defiance", item.Name)
	assert.Equal(t, "shield", item.Type)
	assert.Equal(t, *base.Stats.Defense+15, *item.Stats.Defense)
	assert.Equal(t, *base.Stats.Magic+15, *item.Stats.Magic)
	assert.Equal(t, *base.Stats.Speed, *item.Stats.Speed)
	assert.Nil(t, item.Stats.Attack, "shield template defines no attack")
	assert.Equal(t, RarityLegendary, item.Rarity)
	assert.Equal(t, 15, item.Materials)
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	f := defaultForge(t)
	consumed := inventory.Counts{"iron": 15}

	a, err := f.Synthesize(context.Background(), CategorySwords, consumed)
	require.NoError(t, err)
	b, err := f.Synthesize(context.Background(), CategorySwords, consumed)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Equal(t, 110+30, *a.Stats.Attack)
	assert.Equal(t, 75, *a.Stats.Speed)
	assert.Equal(t, 60+15, *a.Stats.Magic)
	assert.Nil(t, a.Stats.Defense)
}

func TestSynthesizeDoesNotShareTemplateState(t *testing.T) {
	f := defaultForge(t)
	a, err := f.Synthesize(context.Background(), CategorySwords, inventory.Counts{"iron": 15})
	require.NoError(t, err)
	*a.Stats.Attack = 0
	a.Effects[0] = "mutated"

	b, err := f.Synthesize(context.Background(), CategorySwords, inventory.Counts{"iron": 15})
	require.NoError(t, err)
	assert.Equal(t, 140, *b.Stats.Attack)
	assert.NotEqual(t, "mutated", b.Effects[0])
}

func TestTemplateSelectionByMaterialLevel(t *testing.T) {
	cat, err := inventory.DefaultCatalog()
	require.NoError(t, err)
	f := defaultForge(t, WithCatalog(cat))

	low, err := f.Synthesize(context.Background(), CategorySwords, inventory.Counts{"iron": 15})
	require.NoError(t, err)
	assert.Equal(t, "sword-voidrender", low.TemplateID)

	high, err := f.Synthesize(context.Background(), CategorySwords, inventory.Counts{"emberstone": 10, "voidsteel": 5})
	require.NoError(t, err)
	assert.Equal(t, "sword-emberbrand", high.TemplateID)
	assert.Equal(t, 125+30, *high.Stats.Attack)

	unknown, err := f.Synthesize(context.Background(), CategorySwords, inventory.Counts{"mystery": 15})
	require.NoError(t, err)
	assert.Equal(t, "sword-voidrender", unknown.TemplateID)
}

func TestCustomScaling(t *testing.T) {
	f := defaultForge(t, WithScaling(Scaling{Attack: 1, Speed: 1}))
	item, err := f.Synthesize(context.Background(), CategoryDaggers, inventory.Counts{"iron": 15})
	require.NoError(t, err)
	assert.Equal(t, 70+15, *item.Stats.Attack)
	assert.Equal(t, 120+15, *item.Stats.Speed)
}

func TestSynthesizeUnknownCategory(t *testing.T) {
	f := defaultForge(t)
	_, err := f.Synthesize(context.Background(), Category("laser"), inventory.Counts{"iron": 15})
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestRegistryRejectsBadTemplates(t *testing.T) {
	reg := NewTemplateRegistry()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(&Template{Category: CategorySwords, Name: "x"}))
	assert.ErrorIs(t, reg.Register(&Template{ID: "x", Category: "laser", Name: "x"}), ErrUnknownCategory)

	_, err := ParseTemplates([]byte("templates:\n  - id: only\n    category: swords\n    name: Only\n    rarity: common\n"))
	assert.Error(t, err, "registry without every category must be rejected")

	_, err = ParseTemplates([]byte("templates:\n  - id: bad\n    category: swords\n    name: Bad\n    rarity: mythic\n"))
	assert.Error(t, err)
}

func TestRegistryReplaceKeepsIndexConsistent(t *testing.T) {
	reg := NewTemplateRegistry()
	require.NoError(t, reg.Register(&Template{ID: "a", Category: CategorySwords, Name: "A"}))
	require.NoError(t, reg.Register(&Template{ID: "a", Category: CategoryBows, Name: "A2"}))
	assert.Empty(t, reg.ForCategory(CategorySwords))
	assert.Len(t, reg.ForCategory(CategoryBows), 1)
	assert.Equal(t, 1, reg.Count())
}

func TestRarityJSON(t *testing.T) {
	data, err := json.Marshal(RarityEpic)
	require.NoError(t, err)
	assert.JSONEq(t, `"epic"`, string(data))

	var r Rarity
	require.NoError(t, json.Unmarshal([]byte(`"uncommon"`), &r))
	assert.Equal(t, RarityUncommon, r)
	assert.True(t, RarityCommon < RarityLegendary)
	assert.Error(t, json.Unmarshal([]byte(`"mythic"`), &r))
}

func TestRemoteSynthesize(t *testing.T) {
	f := defaultForge(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		item, err := f.Synthesize(r.Context(), req.Category, req.Materials)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(Response{Success: true, Weapon: &item})
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, time.Second)
	item, err := remote.Synthesize(context.Background(), CategoryStaves, inventory.Counts{"oak": 15})
	require.NoError(t, err)
	assert.Equal(t, "Staff of Prismatic Chaos", item.Name)
	assert.Equal(t, 120+15, *item.Stats.Magic)
}

func TestRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	remote := NewRemote(srv.URL, time.Second)

	_, err := remote.Synthesize(context.Background(), CategoryStaves, inventory.Counts{"oak": 15})
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	srv.Close()
	_, err = remote.Synthesize(context.Background(), CategoryStaves, inventory.Counts{"oak": 15})
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}
