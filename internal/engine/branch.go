package engine

import (
	"MissionCore/internal/catalog"
	"MissionCore/internal/tags"
)

// SelectBranch returns the index of the first branch whose condition held
// satisfies. Later branches are never evaluated once one matches.
func SelectBranch(branches []catalog.Branch, held tags.Set) (int, bool) {
	for i, br := range branches {
		if br.Condition.Satisfied(held) {
			return i, true
		}
	}
	return -1, false
}
