// Package merch maps a token's rarity to its merchandise entitlement.
// The mapping is a pure function: no I/O, no side effects. Resolved items are
// frozen into the fulfillment record at creation, so changing this table never
// rewrites records created under an earlier rule.
package merch

// Merchandise item identifiers
const (
	ItemTShirt   = "T-Shirt"
	ItemHat      = "Hat"
	ItemBackpack = "Backpack"
)

// Known rarities
const (
	RarityUncommon = "Uncommon"
	RarityElite    = "Elite"
	RarityEpic     = "Epic"
	RarityLegend   = "Legend"
)

// Resolve returns the ordered merchandise entitlement for a rarity.
// Unrecognized rarities resolve to an empty set; the caller decides whether
// that is a data-quality condition.
func Resolve(rarity string) []string {
	switch rarity {
	case RarityUncommon:
		return []string{ItemTShirt}
	case RarityElite:
		return []string{ItemTShirt, ItemHat}
	case RarityEpic:
		return []string{ItemTShirt, ItemBackpack}
	case RarityLegend:
		return []string{ItemTShirt, ItemHat, ItemBackpack}
	default:
		return []string{}
	}
}

// IsKnownRarity reports whether rarity is part of the closed enumeration
func IsKnownRarity(rarity string) bool {
	switch rarity {
	case RarityUncommon, RarityElite, RarityEpic, RarityLegend:
		return true
	}
	return false
}
