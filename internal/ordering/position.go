// Package ordering computes fractional ranks for tasks within a column.
//
// Ranks are spaced Gap apart on append, and a task placed between two
// neighbours takes their midpoint, so a placement writes only the placed task.
// There is no rebalance pass: repeated insertion into the same slot halves the
// gap each time until float64 can no longer separate the neighbours, at which
// point ErrExhausted is returned instead of a colliding rank.
package ordering

import (
	"errors"
	"sort"
)

// Gap is the rank distance used for an empty column and for appends.
const Gap float64 = 65536

var ErrExhausted = errors.New("ordering: no rank left between neighbours")

// Sibling is a task already in the target column.
type Sibling struct {
	ID       string
	Position float64
}

// Position returns the rank that places a task at index among siblings, which
// must be sorted ascending by Position and must not contain the placed task.
// A nil index appends.
func Position(siblings []Sibling, index *int) (float64, error) {
	n := len(siblings)
	if n == 0 {
		return Gap, nil
	}
	if index == nil || *index >= n {
		return after(siblings[n-1].Position)
	}
	i := *index
	if i <= 0 {
		return before(siblings[0].Position)
	}
	return between(siblings[i-1].Position, siblings[i].Position)
}

// Append returns the rank for the end of the column.
func Append(siblings []Sibling) float64 {
	p, err := Position(siblings, nil)
	if err != nil {
		// after only fails once positions reach float64 overflow territory.
		return siblings[len(siblings)-1].Position
	}
	return p
}

// Sort orders siblings by position, breaking ties by id so callers observe a
// stable order even when two ranks collide.
func Sort(siblings []Sibling) {
	sort.SliceStable(siblings, func(i, j int) bool {
		if siblings[i].Position != siblings[j].Position {
			return siblings[i].Position < siblings[j].Position
		}
		return siblings[i].ID < siblings[j].ID
	})
}

func before(first float64) (float64, error) {
	p := first / 2
	if !(p < first) {
		return 0, ErrExhausted
	}
	return p, nil
}

func after(last float64) (float64, error) {
	p := last + Gap
	if !(p > last) {
		return 0, ErrExhausted
	}
	return p, nil
}

func between(lo, hi float64) (float64, error) {
	p := lo + (hi-lo)/2
	if !(lo < p && p < hi) {
		return 0, ErrExhausted
	}
	return p, nil
}
