package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/plan"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/types"
)

// Plan is a billing tier entry.
type Plan struct {
	Tier             string        `yaml:"tier" toml:"tier"`
	Name             string        `yaml:"name" toml:"name"`
	MonthlyAllowance int64         `yaml:"monthly_allowance" toml:"monthly_allowance"`
	OverageUnitCost  types.Credits `yaml:"overage_unit_cost" toml:"overage_unit_cost"`
}

// Effect registers or reprices an effect kind.
type Effect struct {
	Key       string          `yaml:"key" toml:"key"`
	Name      string          `yaml:"name" toml:"name"`
	Cost      types.Credits   `yaml:"cost" toml:"cost"`
	Duration  time.Duration   `yaml:"duration" toml:"duration"`
	LuckBoost decimal.Decimal `yaml:"luck_boost" toml:"luck_boost"`
}

// Instrument is a rarity table entry.
type Instrument struct {
	ID            string `yaml:"id" toml:"id"`
	Name          string `yaml:"name" toml:"name"`
	TierTotal     int    `yaml:"tier_total" toml:"tier_total"`
	BoonTotal     int    `yaml:"boon_total" toml:"boon_total"`
	WinFloor      string `yaml:"win_floor" toml:"win_floor"`
	PityThreshold int    `yaml:"pity_threshold" toml:"pity_threshold"`
	Tiers         []Tier `yaml:"tiers" toml:"tiers"`
}

// Tier is one row of an instrument.
type Tier struct {
	Tier   string `yaml:"tier" toml:"tier"`
	Weight int    `yaml:"weight" toml:"weight"`
	Flavor string `yaml:"flavor" toml:"flavor"`
	Boons  []Boon `yaml:"boons" toml:"boons"`
}

// Boon is a weighted reward within a tier.
type Boon struct {
	Key        string          `yaml:"key" toml:"key"`
	Kind       string          `yaml:"kind" toml:"kind"`
	Weight     int             `yaml:"weight" toml:"weight"`
	Multiplier decimal.Decimal `yaml:"multiplier" toml:"multiplier"`
	CardID     string          `yaml:"card_id" toml:"card_id"`
	Effect     string          `yaml:"effect" toml:"effect"`
	Duration   time.Duration   `yaml:"duration" toml:"duration"`
	Flavor     string          `yaml:"flavor" toml:"flavor"`
}

// Catalogs is the validated static data the engine runs on.
type Catalogs struct {
	Plans       *plan.Catalog
	Effects     *effect.Registry
	Instruments []*rarity.Table
}

// Catalogs builds and validates the plan, effect and instrument catalogs.
// With no plans configured the stock catalog is used.
func (c Config) Catalogs() (*Catalogs, error) {
	out := &Catalogs{Plans: plan.DefaultCatalog(), Effects: effect.NewRegistry()}

	if len(c.Plans) > 0 {
		plans := make([]plan.Plan, 0, len(c.Plans))
		for _, p := range c.Plans {
			plans = append(plans, plan.Plan(p))
		}
		catalog, err := plan.NewCatalog(plans...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", coffer.ErrConfiguration, err)
		}
		out.Plans = catalog
	}

	for _, e := range c.Effects {
		def := effect.Definition{
			Key:       effect.Key(e.Key),
			Name:      e.Name,
			Cost:      e.Cost,
			Duration:  e.Duration,
			LuckBoost: e.LuckBoost,
		}
		if err := out.Effects.Register(def); err != nil {
			return nil, fmt.Errorf("%w: %w", coffer.ErrConfiguration, err)
		}
	}

	seen := make(map[string]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		tb, err := in.Table()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", coffer.ErrConfiguration, err)
		}
		tb.ApplyDefaults()
		if err := tb.Validate(out.Effects); err != nil {
			return nil, fmt.Errorf("%w: %w", coffer.ErrConfiguration, err)
		}
		if seen[tb.InstrumentID] {
			return nil, fmt.Errorf("%w: duplicate instrument %q", coffer.ErrConfiguration, tb.InstrumentID)
		}
		seen[tb.InstrumentID] = true
		out.Instruments = append(out.Instruments, tb)
	}
	return out, nil
}

// Table converts the entry into a rarity table. Defaults are not applied.
func (in Instrument) Table() (*rarity.Table, error) {
	tb := &rarity.Table{
		InstrumentID:  in.ID,
		Name:          in.Name,
		TierTotal:     in.TierTotal,
		BoonTotal:     in.BoonTotal,
		PityThreshold: in.PityThreshold,
	}
	if in.WinFloor != "" {
		floor, err := rarity.ParseTier(in.WinFloor)
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", in.ID, err)
		}
		tb.WinFloor = floor
	}
	for _, t := range in.Tiers {
		tier, err := rarity.ParseTier(t.Tier)
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", in.ID, err)
		}
		spec := rarity.TierSpec{Tier: tier, Weight: t.Weight, Flavor: t.Flavor}
		for _, b := range t.Boons {
			spec.Boons = append(spec.Boons, rarity.Boon{
				Key:        b.Key,
				Kind:       rarity.BoonKind(b.Kind),
				Weight:     b.Weight,
				Multiplier: b.Multiplier,
				CardID:     b.CardID,
				EffectKey:  effect.Key(b.Effect),
				Duration:   b.Duration,
				Flavor:     b.Flavor,
			})
		}
		tb.Tiers = append(tb.Tiers, spec)
	}
	return tb, nil
}

// Options translates the configuration into engine options.
func (c Config) Options() ([]coffer.Option, error) {
	cat, err := c.Catalogs()
	if err != nil {
		return nil, err
	}
	opts := []coffer.Option{
		coffer.WithPlans(cat.Plans),
		coffer.WithEffects(cat.Effects),
		coffer.WithInstruments(cat.Instruments...),
		coffer.WithConflictRetries(c.ConflictRetries),
		coffer.WithEffectSweepInterval(c.EffectSweepInterval),
	}
	if c.PluginTimeout > 0 {
		opts = append(opts, coffer.WithPluginTimeout(c.PluginTimeout))
	}
	if c.SigningKey != "" {
		opts = append(opts, coffer.WithSigningKey([]byte(c.SigningKey)))
	}
	return opts, nil
}
