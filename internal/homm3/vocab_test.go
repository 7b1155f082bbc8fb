package homm3

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidGuardNumber(t *testing.T) {
	for _, label := range GuardNumbers {
		assert.True(t, ValidGuardNumber(label), label)
	}
	assert.False(t, ValidGuardNumber("nonsense"))
	assert.False(t, ValidGuardNumber("lots (20-49)")) // exact match only
	assert.False(t, ValidGuardNumber(""))
}

func TestValidTown(t *testing.T) {
	for _, town := range Towns {
		assert.True(t, ValidTown(town), town)
	}
	assert.False(t, ValidTown("Atlantis"))
	assert.False(t, ValidTown("castle"))
}

func TestSortedTowns(t *testing.T) {
	sorted := SortedTowns()
	assert.Len(t, sorted, len(Towns))
	assert.True(t, sort.StringsAreSorted(sorted))
	// The rendering order must not mutate the canonical list.
	assert.Equal(t, "Castle", Towns[0])
}
