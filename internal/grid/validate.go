package grid

import "fmt"

// RequiredCells is the exact number of occupied cells a craftable placement has.
const RequiredCells = 15

// Rule identifies a structural rule. Rules are checked in declaration order and
// the first failure is reported.
type Rule int

const (
	// RuleCount requires exactly RequiredCells occupied cells.
	RuleCount Rule = iota + 1
	// RuleCenter requires the center cell to be occupied.
	RuleCenter
	// RuleConnectivity requires the occupied cells to form one 4-connected component.
	RuleConnectivity
)

// String returns the wire name of the rule.
func (r Rule) String() string {
	switch r {
	case RuleCount:
		return "count"
	case RuleCenter:
		return "center"
	case RuleConnectivity:
		return "connectivity"
	default:
		return "unknown"
	}
}

// InvalidError reports the first structural rule a grid violates. Count is
// the number of occupied cells found, for caller-facing messages.
type InvalidError struct {
	Rule   Rule
	Count  int
	Detail string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid grid (%s): %s", e.Rule, e.Detail)
}

// Validate checks count, center and connectivity in that order. It depends only
// on occupancy, never on which materials occupy the cells.
func Validate(g Grid) error {
	occupied := g.Points()
	count := len(occupied)

	if count != RequiredCells {
		return &InvalidError{
			Rule:   RuleCount,
			Count:  count,
			Detail: fmt.Sprintf("crafting requires exactly %d materials, got %d", RequiredCells, count),
		}
	}

	if g.At(CenterPoint).IsEmpty() {
		return &InvalidError{
			Rule:   RuleCenter,
			Count:  count,
			Detail: fmt.Sprintf("center cell (%d,%d) must hold a material", Center, Center),
		}
	}

	if reached := reachable(&g, occupied); reached != count {
		return &InvalidError{
			Rule:   RuleConnectivity,
			Count:  count,
			Detail: fmt.Sprintf("materials must form one connected shape, %d of %d cells connected", reached, count),
		}
	}

	return nil
}

// reachable runs a BFS over 4-adjacent occupied cells starting from the first
// occupied point and returns how many cells it visited.
func reachable(g *Grid, occupied []Point) int {
	if len(occupied) == 0 {
		return 0
	}
	var visited [Size][Size]bool
	start := occupied[0]
	visited[start.Row][start.Col] = true
	queue := []Point{start}
	seen := 1

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range cur.Neighbors() {
			if visited[nb.Row][nb.Col] || g.At(nb).IsEmpty() {
				continue
			}
			visited[nb.Row][nb.Col] = true
			seen++
			queue = append(queue, nb)
		}
	}
	return seen
}
