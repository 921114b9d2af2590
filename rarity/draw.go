package rarity

import (
	"github.com/shopspring/decimal"

	"github.com/xraph/coffer/types"
)

// Outcome is the result of resolving one tribute against a table.
type Outcome struct {
	Tier          Tier
	Boon          Boon
	PityTriggered bool
}

// Payout returns the credits a boon pays back for the given tribute.
// Only multiplier boons pay credits.
func (b Boon) Payout(tribute types.Credits) (types.Credits, error) {
	if b.Kind != BoonMultiplier {
		return types.Zero, nil
	}
	return tribute.MultiplyDecimal(b.Multiplier)
}

// Resolve runs one tribute draw. streak is the caller's current count of
// consecutive non-wins; the returned streak replaces it. When pity is
// enabled and streak has reached the threshold the draw is skipped and a
// DIVINE boon is forced.
func (tb *Table) Resolve(src Source, luck decimal.Decimal, streak int) (Outcome, int) {
	if tb.PityThreshold > 0 && streak >= tb.PityThreshold {
		return tb.forceDivine(src), 0
	}
	out := tb.Draw(src, luck)
	if tb.IsWin(out.Tier) {
		return out, 0
	}
	return out, streak + 1
}

// Draw is the ordinary two-stage draw: a tier from the cumulative tier
// weights, then a boon from that tier's cumulative boon weights. DIVINE is
// never eligible here. luck scales the RARE and MYTHIC weights when it is
// above 1.
func (tb *Table) Draw(src Source, luck decimal.Decimal) Outcome {
	weights := tb.drawWeights(luck)

	var total int64
	for _, w := range weights {
		total += w
	}

	n := src.Int64N(total)
	idx := len(weights) - 1
	for i, w := range weights {
		if n < w {
			idx = i
			break
		}
		n -= w
	}

	spec := tb.Tiers[idx]
	return Outcome{Tier: spec.Tier, Boon: pickBoon(src, spec.Boons)}
}

func (tb *Table) forceDivine(src Source) Outcome {
	spec, _ := tb.Spec(Divine)
	return Outcome{Tier: Divine, Boon: pickBoon(src, spec.Boons), PityTriggered: true}
}

// drawWeights returns effective weights for every tier below DIVINE.
func (tb *Table) drawWeights(luck decimal.Decimal) []int64 {
	boosted := luck.GreaterThan(decimal.NewFromInt(1))
	weights := make([]int64, 0, len(tb.Tiers)-1)
	for _, spec := range tb.Tiers {
		if spec.Tier == Divine {
			continue
		}
		w := int64(spec.Weight)
		if boosted && (spec.Tier == Rare || spec.Tier == Mythic) {
			w = decimal.NewFromInt(w).Mul(luck).IntPart()
		}
		weights = append(weights, w)
	}
	return weights
}

func pickBoon(src Source, boons []Boon) Boon {
	var total int64
	for _, b := range boons {
		total += int64(b.Weight)
	}
	n := src.Int64N(total)
	for _, b := range boons {
		if n < int64(b.Weight) {
			return b
		}
		n -= int64(b.Weight)
	}
	return boons[len(boons)-1]
}
