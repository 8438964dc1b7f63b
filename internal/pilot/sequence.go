package pilot

import (
	"slices"

	"github.com/user/pilotsync/internal/types"
)

// SortSteps returns the steps ordered by epoch, then by creation time within
// an epoch. Steps whose timestamps cannot be compared keep their encounter
// order. The input slice is not modified.
func SortSteps(steps []*types.Step) []*types.Step {
	if len(steps) == 0 {
		return []*types.Step{}
	}
	sorted := slices.Clone(steps)
	slices.SortStableFunc(sorted, compareSteps)
	return sorted
}

func compareSteps(a, b *types.Step) int {
	if ea, eb := a.EpochOrZero(), b.EpochOrZero(); ea != eb {
		if ea < eb {
			return -1
		}
		return 1
	}

	ta, okA := a.CreatedTime()
	tb, okB := b.CreatedTime()
	if okA && okB {
		return ta.Compare(tb)
	}
	return 0
}
