// Package plan defines the billing plans that grant monthly agent-action
// allowances.
package plan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/xraph/coffer/types"
)

// Unlimited marks a plan without an action cap.
const Unlimited int64 = -1

// Plan is a static billing tier loaded from configuration.
type Plan struct {
	Tier string `json:"tier"`
	Name string `json:"name"`

	// MonthlyAllowance is the number of agent actions included per calendar
	// month, or Unlimited.
	MonthlyAllowance int64 `json:"monthly_allowance"`

	// OverageUnitCost is debited per action beyond the allowance.
	OverageUnitCost types.Credits `json:"overage_unit_cost"`
}

// Validate checks a plan definition.
func (p Plan) Validate() error {
	switch {
	case p.Tier == "":
		return errors.New("plan: tier is required")
	case p.MonthlyAllowance < Unlimited:
		return fmt.Errorf("plan %q: allowance must be -1 or non-negative", p.Tier)
	case p.OverageUnitCost.IsNegative():
		return fmt.Errorf("plan %q: overage unit cost must not be negative", p.Tier)
	}
	return nil
}

// Split divides a request of count actions into the part covered by the
// remaining allowance and the billed overage.
func (p Plan) Split(used, count int64) (covered, overage int64) {
	if p.MonthlyAllowance == Unlimited {
		return count, 0
	}
	remaining := max(0, p.MonthlyAllowance-used)
	covered = min(count, remaining)
	return covered, count - covered
}

// Catalog is an immutable set of plans keyed by tier.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog validates and indexes plans. Duplicate tiers are rejected.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.plans[p.Tier]; dup {
			return nil, fmt.Errorf("plan %q: duplicate tier", p.Tier)
		}
		c.plans[p.Tier] = p
	}
	return c, nil
}

// DefaultCatalog returns the stock free/pro/enterprise tiers.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(
		Plan{Tier: "free", Name: "Free", MonthlyAllowance: 100, OverageUnitCost: types.FromMajor(1)},
		Plan{Tier: "pro", Name: "Pro", MonthlyAllowance: 5000, OverageUnitCost: types.MustParseCredits("0.50")},
		Plan{Tier: "enterprise", Name: "Enterprise", MonthlyAllowance: Unlimited},
	)
	return c
}

// Get returns the plan for tier.
func (c *Catalog) Get(tier string) (Plan, bool) {
	p, ok := c.plans[tier]
	return p, ok
}

// List returns all plans sorted by tier.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}
