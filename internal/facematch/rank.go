package facematch

import (
	"cmp"
	"slices"
)

func sortRanked(ranked []Ranked) {
	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
}
