package grid

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitas-games/forge/internal/inventory"
)

// cross fills row 4 and the middle column: the center plus 14 adjacent cells.
func cross(id inventory.MaterialID) Grid {
	var g Grid
	for c := 0; c < Size; c++ {
		g.Set(Point{Row: Center, Col: c}, Occupied(id))
	}
	for _, r := range []int{1, 2, 3, 5, 6, 7} {
		g.Set(Point{Row: r, Col: Center}, Occupied(id))
	}
	return g
}

func fill(points []Point, id inventory.MaterialID) Grid {
	var g Grid
	for _, p := range points {
		g.Set(p, Occupied(id))
	}
	return g
}

func ruleOf(t *testing.T, err error) Rule {
	t.Helper()
	var invalid *InvalidError
	require.True(t, errors.As(err, &invalid), "expected *InvalidError, got %v", err)
	return invalid.Rule
}

func TestValidateAcceptsCross(t *testing.T) {
	g := cross("iron")
	require.Equal(t, RequiredCells, g.Occupied())
	assert.NoError(t, Validate(g))
	assert.Equal(t, inventory.Counts{"iron": 15}, g.Materials())
}

func TestValidateCountRule(t *testing.T) {
	var empty Grid
	err := Validate(empty)
	assert.Equal(t, RuleCount, ruleOf(t, err))

	g := cross("iron")
	g.Set(Point{Row: 0, Col: 0}, Occupied("iron"))
	err = Validate(g)
	require.Equal(t, RuleCount, ruleOf(t, err))
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 16, invalid.Count)
	assert.Contains(t, invalid.Error(), "got 16")
}

func TestValidateCenterRule(t *testing.T) {
	var pts []Point
	for r := 0; r < 3; r++ {
		for c := 0; c < 5; c++ {
			pts = append(pts, Point{Row: r, Col: c})
		}
	}
	err := Validate(fill(pts, "oak"))
	assert.Equal(t, RuleCenter, ruleOf(t, err))
}

func TestValidateConnectivityRule(t *testing.T) {
	var pts []Point
	for c := 0; c < Size; c++ {
		pts = append(pts, Point{Row: Center, Col: c})
	}
	for c := 0; c < 6; c++ {
		pts = append(pts, Point{Row: 0, Col: c})
	}
	err := Validate(fill(pts, "iron"))
	assert.Equal(t, RuleConnectivity, ruleOf(t, err))
}

func TestValidateDiagonalIsNotAdjacent(t *testing.T) {
	g := cross("iron")
	// Move the bottom arm tip diagonally off the column.
	g.Set(Point{Row: 7, Col: Center}, Empty())
	g.Set(Point{Row: 7, Col: Center + 1}, Occupied("iron"))
	g.Set(Point{Row: 6, Col: Center}, Empty())
	g.Set(Point{Row: 8, Col: Center + 2}, Occupied("iron"))
	require.Equal(t, RequiredCells, g.Occupied())
	assert.Equal(t, RuleConnectivity, ruleOf(t, Validate(g)))
}

func TestValidateIgnoresMaterialIdentity(t *testing.T) {
	a := cross("iron")
	b := cross("iron")
	i := 0
	for _, p := range b.Points() {
		if i%2 == 0 {
			b.Set(p, Occupied("oak"))
		}
		i++
	}
	assert.Equal(t, Validate(a) == nil, Validate(b) == nil)
	assert.Equal(t, inventory.Counts{"iron": 7, "oak": 8}, b.Materials())
}

// oracle is an independent recursive flood fill.
func oracle(g Grid) bool {
	pts := g.Points()
	if len(pts) != RequiredCells || g.At(CenterPoint).IsEmpty() {
		return false
	}
	seen := map[Point]bool{}
	var visit func(p Point)
	visit = func(p Point) {
		if !p.In() || seen[p] || g.At(p).IsEmpty() {
			return
		}
		seen[p] = true
		visit(Point{p.Row + 1, p.Col})
		visit(Point{p.Row - 1, p.Col})
		visit(Point{p.Row, p.Col + 1})
		visit(Point{p.Row, p.Col - 1})
	}
	visit(pts[0])
	return len(seen) == len(pts)
}

func randomGrid(rng *rand.Rand) Grid {
	var g Grid
	switch rng.IntN(3) {
	case 0:
		// scatter
		n := rng.IntN(20)
		for i := 0; i < n; i++ {
			g.Set(Point{Row: rng.IntN(Size), Col: rng.IntN(Size)}, Occupied("iron"))
		}
	default:
		// grow a blob from the center or a random seed
		start := CenterPoint
		if rng.IntN(4) == 0 {
			start = Point{Row: rng.IntN(Size), Col: rng.IntN(Size)}
		}
		target := 13 + rng.IntN(5)
		frontier := []Point{start}
		g.Set(start, Occupied("iron"))
		for g.Occupied() < target && len(frontier) > 0 {
			p := frontier[rng.IntN(len(frontier))]
			nbs := p.Neighbors()
			nb := nbs[rng.IntN(len(nbs))]
			if g.At(nb).IsEmpty() {
				g.Set(nb, Occupied("oak"))
				frontier = append(frontier, nb)
			}
		}
		if rng.IntN(5) == 0 {
			// occasionally punch a hole that may split the blob
			pts := g.Points()
			g.Set(pts[rng.IntN(len(pts))], Empty())
			g.Set(Point{Row: rng.IntN(Size), Col: rng.IntN(Size)}, Occupied("iron"))
		}
	}
	return g
}

func TestValidateMatchesFloodFillOracle(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	accepted := 0
	for i := 0; i < 5000; i++ {
		g := randomGrid(rng)
		want := oracle(g)
		got := Validate(g) == nil
		require.Equal(t, want, got, "grid %d disagrees with oracle: %v", i, g.Points())
		if got {
			accepted++
		}
	}
	assert.Greater(t, accepted, 0, "generator never produced a valid grid")
}

func TestValidateIsStable(t *testing.T) {
	g := cross("iron")
	g.Set(CenterPoint, Empty())
	first := Validate(g)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Validate(g))
	}
}

func TestParse(t *testing.T) {
	iron := "iron"
	blank := ""

	rows := make([][]*string, Size)
	for r := range rows {
		rows[r] = make([]*string, Size)
	}
	rows[Center][Center] = &iron

	g, err := Parse(rows)
	require.NoError(t, err)
	id, ok := g.At(CenterPoint).Material()
	assert.True(t, ok)
	assert.Equal(t, inventory.MaterialID("iron"), id)

	rows[0][0] = &blank
	_, err = Parse(rows)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse(rows[:3])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestGridJSON(t *testing.T) {
	g := cross("iron")
	data, err := json.Marshal(g)
	require.NoError(t, err)

	var back Grid
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, g, back)

	assert.ErrorIs(t, json.Unmarshal([]byte(`[[1,2]]`), &back), ErrMalformed)
}
