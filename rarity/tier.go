// Package rarity implements instrument rarity tables and the two-stage
// weighted draw that turns a tribute into a boon.
package rarity

import "fmt"

// Tier is an outcome class, ordered from least to most rare.
type Tier string

const (
	Common   Tier = "COMMON"
	Uncommon Tier = "UNCOMMON"
	Rare     Tier = "RARE"
	Mythic   Tier = "MYTHIC"
	Divine   Tier = "DIVINE"
)

// Tiers lists every tier in rank order.
var Tiers = []Tier{Common, Uncommon, Rare, Mythic, Divine}

// Rank returns the tier's position in Tiers, or -1 if unknown.
func (t Tier) Rank() int {
	for i, v := range Tiers {
		if v == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// AtLeast reports whether t ranks at or above other.
func (t Tier) AtLeast(other Tier) bool { return t.Rank() >= other.Rank() }

// ParseTier converts a case-sensitive tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("rarity: unknown tier %q", s)
	}
	return t, nil
}
