package audit

import (
	"sort"

	"github.com/galacticcouncil/gen3-unbond-fix/common"
)

// SetComparison compares the accounts flagged by the audit (I) with the
// accounts of the remediation list (D).
type SetComparison struct {
	// Equal is true iff I == D as sets.
	Equal bool

	FlaggedCount  int
	ExpectedCount int

	// Unexpected is I - D: inconsistent accounts missing from the list.
	Unexpected []common.Address
	// Unflagged is D - I: listed accounts that look consistent.
	Unflagged []common.Address
}

// Compare compares the flagged and expected account sets. Duplicates count
// once. The differences are ordered by account.
func Compare(flagged, expected []common.Address) SetComparison {
	flaggedSet := toSet(flagged)
	expectedSet := toSet(expected)

	cmp := SetComparison{
		FlaggedCount:  len(flaggedSet),
		ExpectedCount: len(expectedSet),
		Unexpected:    difference(flaggedSet, expectedSet),
		Unflagged:     difference(expectedSet, flaggedSet),
	}
	cmp.Equal = len(cmp.Unexpected) == 0 && cmp.FlaggedCount == cmp.ExpectedCount
	return cmp
}

func toSet(accounts []common.Address) map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, len(accounts))
	for _, a := range accounts {
		set[a] = struct{}{}
	}
	return set
}

func difference(a, b map[common.Address]struct{}) []common.Address {
	diff := []common.Address{}
	for x := range a {
		if _, ok := b[x]; !ok {
			diff = append(diff, x)
		}
	}
	sort.Slice(diff, func(i, j int) bool {
		return diff[i].Compare(diff[j]) < 0
	})
	return diff
}
