package rarity

import (
	"github.com/shopspring/decimal"
)

// sequence replays fixed draws; each value is reduced modulo n.
type sequence struct {
	values []int64
	calls  int
}

func (s *sequence) Int64N(n int64) int64 {
	v := s.values[s.calls%len(s.values)]
	s.calls++
	return v % n
}

func mult(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testTable() *Table {
	tb := &Table{
		InstrumentID:  "obsidian-wheel",
		PityThreshold: 3,
		Tiers: []TierSpec{
			{Tier: Common, Weight: 6000, Boons: []Boon{
				{Key: "dust", Kind: BoonMultiplier, Weight: 70, Multiplier: mult("0")},
				{Key: "ember", Kind: BoonMultiplier, Weight: 30, Multiplier: mult("0.5")},
			}},
			{Tier: Uncommon, Weight: 2500, Boons: []Boon{
				{Key: "refund", Kind: BoonMultiplier, Weight: 100, Multiplier: mult("1")},
			}},
			{Tier: Rare, Weight: 1000, Boons: []Boon{
				{Key: "quintuple", Kind: BoonMultiplier, Weight: 60, Multiplier: mult("5")},
				{Key: "focus", Kind: BoonEffect, Weight: 40, EffectKey: "focus_mode"},
			}},
			{Tier: Mythic, Weight: 499, Boons: []Boon{
				{Key: "raven-card", Kind: BoonCard, Weight: 100, CardID: "raven"},
			}},
			{Tier: Divine, Weight: 1, Boons: []Boon{
				{Key: "hundredfold", Kind: BoonMultiplier, Weight: 100, Multiplier: mult("100")},
			}},
		},
	}
	tb.ApplyDefaults()
	return tb
}
