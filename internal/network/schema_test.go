package network

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitas-games/forge/internal/grid"
	"github.com/gravitas-games/forge/internal/inventory"
	"github.com/gravitas-games/forge/internal/synth"
)

func crossBody(t *testing.T, weaponType string) []byte {
	t.Helper()
	rows := make([][]*string, grid.Size)
	iron := "iron"
	for r := range rows {
		rows[r] = make([]*string, grid.Size)
	}
	for c := 0; c < grid.Size; c++ {
		rows[grid.Center][c] = &iron
	}
	for r := 1; r < grid.Size-1; r++ {
		rows[r][grid.Center] = &iron
	}
	data, err := json.Marshal(CraftRequest{Grid: rows, WeaponType: weaponType})
	require.NoError(t, err)
	return data
}

func TestDecodeCraft(t *testing.T) {
	req, err := DecodeCraft(crossBody(t, "swords"))
	require.NoError(t, err)
	assert.Equal(t, synth.CategorySwords, req.Category)
	assert.Equal(t, inventory.Counts{"iron": 15}, req.Grid.Materials())
	assert.NoError(t, grid.Validate(req.Grid))
}

func TestDecodeCraftRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"grid":`,
		"missing grid": `{"weaponType":"swords"}`,
		"missing type": `{"grid":[]}`,
		"short grid":   `{"grid":[[null]],"weaponType":"swords"}`,
		"number cell":  `{"grid":[[1,null,null,null,null,null,null,null,null]],"weaponType":"swords"}`,
		"trailing":     `{"weaponType":"swords"} {}`,
		"empty type":   `{"grid":[],"weaponType":""}`,
		"array body":   `[]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCraft([]byte(body))
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestDecodeCraftEmptyCellString(t *testing.T) {
	body := string(crossBody(t, "swords"))
	body = strings.Replace(body, `"iron"`, `""`, 1)
	_, err := DecodeCraft([]byte(body))
	assert.ErrorIs(t, err, ErrInvalidRequest, "schema requires non-empty ids")
}

func TestDecodeCraftUnknownCategory(t *testing.T) {
	_, err := DecodeCraft(crossBody(t, "lasers"))
	assert.ErrorIs(t, err, synth.ErrUnknownCategory)
}

func TestDecodeGrant(t *testing.T) {
	owner, items, err := DecodeGrant([]byte(`{"owner":"42","material":"iron","quantity":20}`))
	require.NoError(t, err)
	assert.Equal(t, inventory.OwnerID("42"), owner)
	assert.Equal(t, inventory.Counts{"iron": 20}, items)

	for _, body := range []string{
		`{"owner":"42","material":"iron","quantity":0}`,
		`{"owner":"42","material":"iron","quantity":1.5}`,
		`{"owner":"","material":"iron","quantity":1}`,
		`{"owner":"42","material":"iron","quantity":1,"extra":true}`,
	} {
		_, _, err := DecodeGrant([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidRequest, body)
	}
}

func TestDecodeSynthesis(t *testing.T) {
	req, err := DecodeSynthesis([]byte(`{"category":"staves","materials":{"oak":15}}`))
	require.NoError(t, err)
	assert.Equal(t, synth.CategoryStaves, req.Category)
	assert.Equal(t, inventory.Counts{"oak": 15}, req.Materials)

	_, err = DecodeSynthesis([]byte(`{"category":"staves","materials":{}}`))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = DecodeSynthesis([]byte(`{"category":"staves","materials":{"oak":-1}}`))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDecodeSynthesisRequiresFullGridOfMaterials(t *testing.T) {
	req, err := DecodeSynthesis([]byte(`{"category":"swords","materials":{"iron":8,"oak":7}}`))
	require.NoError(t, err)
	assert.Equal(t, 15, req.Materials.Total())

	for _, body := range []string{
		`{"category":"swords","materials":{"iron":1}}`,
		`{"category":"swords","materials":{"iron":14}}`,
		`{"category":"swords","materials":{"iron":15,"oak":1}}`,
		`{"category":"swords","materials":{"iron":16}}`,
		`{"category":"swords","materials":{"iron":4611686018427387904}}`,
	} {
		_, err := DecodeSynthesis([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidRequest, body)
	}
}

func TestBuildInventory(t *testing.T) {
	cat, err := inventory.DefaultCatalog()
	require.NoError(t, err)

	payload := BuildInventory(inventory.Counts{"oak": 3, "iron": 2, "mystery": 1}, cat)
	require.Len(t, payload.Inventory, 3)
	assert.Equal(t, inventory.MaterialID("iron"), payload.Inventory[0].Material.ID)
	assert.NotEmpty(t, payload.Inventory[0].Material.Name)
	assert.Equal(t, 2, payload.Inventory[0].Quantity)
	assert.Equal(t, inventory.Summary{ID: "mystery"}, payload.Inventory[1].Material)
	assert.Equal(t, inventory.MaterialID("oak"), payload.Inventory[2].Material.ID)

	empty := BuildInventory(nil, nil)
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `{"inventory":[]}`, string(data))
}
