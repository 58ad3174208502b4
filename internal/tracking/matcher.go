package tracking

import (
	"sort"

	"github.com/arthurkushman/go-hungarian"

	"github.com/your-org/lanewatch/internal/geometry"
)

// Matcher associates current boxes with previous-frame boxes. The result has
// one entry per current box: the index of the matched previous box, or -1.
// No previous box is matched twice, and a pair matches only when its IOU is
// strictly above threshold.
type Matcher interface {
	Match(prev, cur []geometry.BBox, threshold float64) []int
}

const (
	MatcherGreedy    = "greedy"
	MatcherHungarian = "hungarian"
)

// NewMatcher returns the matcher registered under name, or the greedy
// matcher for unknown names.
func NewMatcher(name string) Matcher {
	if name == MatcherHungarian {
		return HungarianMatcher{}
	}
	return GreedyMatcher{}
}

// GreedyMatcher walks current boxes in input order and gives each the best
// remaining previous box. A later box never takes back an earlier match, so
// results depend on input order.
type GreedyMatcher struct{}

func (GreedyMatcher) Match(prev, cur []geometry.BBox, threshold float64) []int {
	assignment := make([]int, len(cur))
	used := make([]bool, len(prev))

	for i, box := range cur {
		best := threshold
		bestIdx := -1
		for j, p := range prev {
			if used[j] {
				continue
			}
			if v := geometry.IOU(box, p); v > best {
				best = v
				bestIdx = j
			}
		}
		assignment[i] = bestIdx
		if bestIdx >= 0 {
			used[bestIdx] = true
		}
	}
	return assignment
}

// HungarianMatcher maximises total IOU over the frame. Pairs at or below the
// threshold are dropped after the assignment.
type HungarianMatcher struct{}

func (HungarianMatcher) Match(prev, cur []geometry.BBox, threshold float64) []int {
	assignment := make([]int, len(cur))
	for i := range assignment {
		assignment[i] = -1
	}
	if len(prev) == 0 || len(cur) == 0 {
		return assignment
	}

	size := len(cur)
	if len(prev) > size {
		size = len(prev)
	}
	matrix := make([][]float64, size)
	for i := range matrix {
		matrix[i] = make([]float64, size)
	}
	for i, c := range cur {
		for j, p := range prev {
			matrix[i][j] = geometry.IOU(c, p)
		}
	}

	solved := hungarian.SolveMax(matrix)

	rows := make([]int, 0, len(solved))
	for row := range solved {
		rows = append(rows, row)
	}
	sort.Ints(rows)

	used := make([]bool, len(prev))
	for _, row := range rows {
		if row >= len(cur) {
			continue
		}
		for col := range solved[row] {
			if col >= len(prev) || used[col] {
				continue
			}
			if matrix[row][col] > threshold {
				assignment[row] = col
				used[col] = true
				break
			}
		}
	}
	return assignment
}
