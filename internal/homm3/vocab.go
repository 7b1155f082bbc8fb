// Package homm3 holds the closed Heroes of Might and Magic III vocabularies
// the conversation validates answers against.
package homm3

import "sort"

// GuardNumbers lists the guard-count brackets in game order. The conversation
// offers the first six as keyboard choices and validates against the full set.
var GuardNumbers = []string{
	"Few (1-4)",
	"Several (5-9)",
	"Pack (10-19)",
	"Lots (20-49)",
	"Horde (50-99)",
	"Throng (100-249)",
	"Swarm (250-499)",
	"Zounds (500-999)",
	"Legion (1000+)",
}

// Towns lists the town types of the Horn of the Abyss edition.
var Towns = []string{
	"Castle",
	"Rampart",
	"Tower",
	"Inferno",
	"Necropolis",
	"Dungeon",
	"Stronghold",
	"Fortress",
	"Conflux",
	"Cove",
}

var (
	guardNumberSet = toSet(GuardNumbers)
	townSet        = toSet(Towns)
)

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// ValidGuardNumber reports whether the label exactly matches a known bracket.
func ValidGuardNumber(label string) bool {
	_, ok := guardNumberSet[label]
	return ok
}

// ValidTown reports whether the name exactly matches a known town.
func ValidTown(name string) bool {
	_, ok := townSet[name]
	return ok
}

// SortedTowns returns the town names in alphabetical order for rendering.
func SortedTowns() []string {
	out := append([]string(nil), Towns...)
	sort.Strings(out)
	return out
}
