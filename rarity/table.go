package rarity

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/coffer/effect"
)

// Default weight totals.
const (
	DefaultTierTotal = 10000
	DefaultBoonTotal = 100
)

// BoonKind discriminates the boon union.
type BoonKind string

const (
	// BoonMultiplier pays tribute × Multiplier back to the workspace.
	BoonMultiplier BoonKind = "multiplier"
	// BoonCard grants the collectible CardID.
	BoonCard BoonKind = "card"
	// BoonEffect grants EffectKey for Duration (or the catalog default).
	BoonEffect BoonKind = "effect"
)

// Boon is one weighted reward within a tier. Exactly the fields matching
// Kind are meaningful.
type Boon struct {
	Key    string   `json:"key"`
	Kind   BoonKind `json:"kind"`
	Weight int      `json:"weight"`

	Multiplier decimal.Decimal `json:"multiplier,omitempty"`
	CardID     string          `json:"card_id,omitempty"`
	EffectKey  effect.Key      `json:"effect_key,omitempty"`
	Duration   time.Duration   `json:"duration,omitempty"`

	// Flavor is display text and never read by the engine.
	Flavor string `json:"flavor,omitempty"`
}

// TierSpec is one tier row of a table.
type TierSpec struct {
	Tier   Tier   `json:"tier"`
	Weight int    `json:"weight"`
	Boons  []Boon `json:"boons"`
	Flavor string `json:"flavor,omitempty"`
}

// Table is the rarity table owned by an instrument.
type Table struct {
	InstrumentID string     `json:"instrument_id"`
	Name         string     `json:"name"`
	TierTotal    int        `json:"tier_total"`
	BoonTotal    int        `json:"boon_total"`
	Tiers        []TierSpec `json:"tiers"`

	// WinFloor is the lowest tier that resets the pity streak.
	WinFloor Tier `json:"win_floor"`
	// PityThreshold is the number of consecutive non-wins after which the
	// next tribute is forced to DIVINE. Zero disables pity.
	PityThreshold int `json:"pity_threshold"`
}

// ErrInvalidTable is wrapped by every validation failure.
var ErrInvalidTable = errors.New("rarity: invalid table")

// Spec returns the row for tier t.
func (tb *Table) Spec(t Tier) (*TierSpec, bool) {
	for i := range tb.Tiers {
		if tb.Tiers[i].Tier == t {
			return &tb.Tiers[i], true
		}
	}
	return nil, false
}

// IsWin reports whether t resets the pity streak.
func (tb *Table) IsWin(t Tier) bool {
	return t.AtLeast(tb.WinFloor)
}

// ApplyDefaults fills zero totals and the win floor.
func (tb *Table) ApplyDefaults() {
	if tb.TierTotal == 0 {
		tb.TierTotal = DefaultTierTotal
	}
	if tb.BoonTotal == 0 {
		tb.BoonTotal = DefaultBoonTotal
	}
	if tb.WinFloor == "" {
		tb.WinFloor = Rare
	}
}

// Validate checks that the table is well-formed. effects resolves effect
// boon keys; pass nil to skip that check.
func (tb *Table) Validate(effects *effect.Registry) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: instrument %q: %s", ErrInvalidTable, tb.InstrumentID, fmt.Sprintf(format, args...))
	}

	if tb.InstrumentID == "" {
		return fail("instrument id is required")
	}
	if tb.TierTotal <= 0 || tb.BoonTotal <= 0 {
		return fail("weight totals must be positive")
	}
	if !tb.WinFloor.Valid() || tb.WinFloor == Divine {
		return fail("win floor %q must be a tier below DIVINE", tb.WinFloor)
	}
	if tb.PityThreshold < 0 {
		return fail("pity threshold must not be negative")
	}
	if len(tb.Tiers) != len(Tiers) {
		return fail("expected %d tiers, got %d", len(Tiers), len(tb.Tiers))
	}

	sum := 0
	for i, spec := range tb.Tiers {
		if spec.Tier != Tiers[i] {
			return fail("tier %d is %q, want %q", i, spec.Tier, Tiers[i])
		}
		if spec.Weight <= 0 {
			return fail("tier %s weight must be positive", spec.Tier)
		}
		sum += spec.Weight
		if err := tb.validateBoons(spec, effects); err != nil {
			return fail("%v", err)
		}
	}
	if sum != tb.TierTotal {
		return fail("tier weights sum to %d, want %d", sum, tb.TierTotal)
	}
	return nil
}

func (tb *Table) validateBoons(spec TierSpec, effects *effect.Registry) error {
	if len(spec.Boons) == 0 {
		return fmt.Errorf("tier %s has no boons", spec.Tier)
	}
	sum := 0
	seen := make(map[string]bool, len(spec.Boons))
	for _, b := range spec.Boons {
		if b.Key == "" {
			return fmt.Errorf("tier %s: boon key is required", spec.Tier)
		}
		if seen[b.Key] {
			return fmt.Errorf("tier %s: duplicate boon %q", spec.Tier, b.Key)
		}
		seen[b.Key] = true
		if b.Weight <= 0 {
			return fmt.Errorf("tier %s: boon %q weight must be positive", spec.Tier, b.Key)
		}
		sum += b.Weight

		switch b.Kind {
		case BoonMultiplier:
			if b.Multiplier.IsNegative() {
				return fmt.Errorf("tier %s: boon %q multiplier must not be negative", spec.Tier, b.Key)
			}
		case BoonCard:
			if b.CardID == "" {
				return fmt.Errorf("tier %s: boon %q needs a card id", spec.Tier, b.Key)
			}
		case BoonEffect:
			if b.EffectKey == "" {
				return fmt.Errorf("tier %s: boon %q needs an effect key", spec.Tier, b.Key)
			}
			if b.Duration < 0 {
				return fmt.Errorf("tier %s: boon %q duration must not be negative", spec.Tier, b.Key)
			}
			if effects != nil && !effects.Has(b.EffectKey) {
				return fmt.Errorf("tier %s: boon %q grants unknown effect %q", spec.Tier, b.Key, b.EffectKey)
			}
		default:
			return fmt.Errorf("tier %s: boon %q has unknown kind %q", spec.Tier, b.Key, b.Kind)
		}
	}
	if sum != tb.BoonTotal {
		return fmt.Errorf("tier %s boon weights sum to %d, want %d", spec.Tier, sum, tb.BoonTotal)
	}
	return nil
}
