package grid

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gravitas-games/forge/internal/inventory"
)

const (
	// Size is the side length of the crafting grid.
	Size = 9
	// Center is the row and column of the designated center cell.
	Center = Size / 2
)

// Point is a (row, col) grid coordinate with origin at top-left.
type Point struct {
	Row int
	Col int
}

// CenterPoint is the cell that must be occupied for a placement to craft.
var CenterPoint = Point{Row: Center, Col: Center}

// directions lists the 4-adjacent offsets.
var directions = [4]Point{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// In reports whether p lies on the grid.
func (p Point) In() bool {
	return p.Row >= 0 && p.Row < Size && p.Col >= 0 && p.Col < Size
}

// Neighbors returns the on-grid 4-adjacent points of p.
func (p Point) Neighbors() []Point {
	out := make([]Point, 0, len(directions))
	for _, d := range directions {
		n := Point{Row: p.Row + d.Row, Col: p.Col + d.Col}
		if n.In() {
			out = append(out, n)
		}
	}
	return out
}

// Cell is either empty or occupied by exactly one material. The zero value is
// Empty.
type Cell struct {
	material inventory.MaterialID
	occupied bool
}

// Empty returns an empty cell.
func Empty() Cell { return Cell{} }

// Occupied returns a cell holding id.
func Occupied(id inventory.MaterialID) Cell {
	return Cell{material: id, occupied: true}
}

// IsEmpty reports whether no material occupies the cell.
func (c Cell) IsEmpty() bool { return !c.occupied }

// Material returns the occupying material and true, or "" and false when the
// cell is empty.
func (c Cell) Material() (inventory.MaterialID, bool) {
	return c.material, c.occupied
}

// Grid is an immutable-by-convention 9x9 placement snapshot.
type Grid [Size][Size]Cell

// ErrMalformed is wrapped by every parse failure of the wire form.
var ErrMalformed = errors.New("malformed grid")

// At returns the cell at p. Off-grid points read as empty.
func (g *Grid) At(p Point) Cell {
	if !p.In() {
		return Empty()
	}
	return g[p.Row][p.Col]
}

// Set places c at p and returns the grid for chaining in tests and builders.
func (g *Grid) Set(p Point, c Cell) *Grid {
	if p.In() {
		g[p.Row][p.Col] = c
	}
	return g
}

// Points returns the occupied coordinates in row-major order.
func (g *Grid) Points() []Point {
	var out []Point
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if !g[r][c].IsEmpty() {
				out = append(out, Point{Row: r, Col: c})
			}
		}
	}
	return out
}

// Occupied returns the number of occupied cells.
func (g *Grid) Occupied() int {
	n := 0
	for r := range g {
		for c := range g[r] {
			if !g[r][c].IsEmpty() {
				n++
			}
		}
	}
	return n
}

// Materials tallies the multiset of materials placed on the grid.
func (g *Grid) Materials() inventory.Counts {
	counts := make(inventory.Counts)
	for r := range g {
		for c := range g[r] {
			if id, ok := g[r][c].Material(); ok {
				counts.Add(id, 1)
			}
		}
	}
	return counts
}

// Parse converts the wire form (rows of nullable ids) into a Grid. A nil entry
// is empty; an empty string is rejected rather than read as empty.
func Parse(rows [][]*string) (Grid, error) {
	var g Grid
	if len(rows) != Size {
		return g, fmt.Errorf("%w: expected %d rows, got %d", ErrMalformed, Size, len(rows))
	}
	for r, row := range rows {
		if len(row) != Size {
			return g, fmt.Errorf("%w: row %d has %d cells, expected %d", ErrMalformed, r, len(row), Size)
		}
		for c, id := range row {
			if id == nil {
				continue
			}
			if *id == "" {
				return g, fmt.Errorf("%w: empty material id at (%d,%d)", ErrMalformed, r, c)
			}
			g[r][c] = Occupied(inventory.MaterialID(*id))
		}
	}
	return g, nil
}

// Rows converts the grid back into its wire form.
func (g *Grid) Rows() [][]*string {
	rows := make([][]*string, Size)
	for r := range g {
		rows[r] = make([]*string, Size)
		for c := range g[r] {
			if id, ok := g[r][c].Material(); ok {
				s := string(id)
				rows[r][c] = &s
			}
		}
	}
	return rows
}

// MarshalJSON encodes the grid as rows of `string|null`.
func (g Grid) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Rows())
}

// UnmarshalJSON decodes rows of `string|null`; any other shape is malformed.
func (g *Grid) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("%w: grid is null", ErrMalformed)
	}
	var rows [][]*string
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	parsed, err := Parse(rows)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
