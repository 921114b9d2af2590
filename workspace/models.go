// Package workspace defines the tenant account that owns a credit balance.
package workspace

import (
	"time"

	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/types"
)

// Workspace is a tenant with a credit balance and a metered action allowance.
// Balance is only ever changed through ledger operations that also write a
// transaction row in the same atomic unit.
type Workspace struct {
	types.Entity
	ID       id.ID         `json:"id"`
	Name     string        `json:"name"`
	Balance  types.Credits `json:"balance"`
	PlanTier string        `json:"plan_tier"`

	// ActionsUsed counts agent actions covered by the plan allowance in the
	// current usage period. OverageActions counts billed actions beyond it.
	ActionsUsed      int64      `json:"actions_used"`
	OverageActions   int64      `json:"overage_actions"`
	UsagePeriodStart time.Time  `json:"usage_period_start"`
	GraceUntil       *time.Time `json:"grace_until,omitempty"`
}

// InGracePeriod reports whether actions are currently free of charge.
func (w *Workspace) InGracePeriod(now time.Time) bool {
	return w.GraceUntil != nil && now.Before(*w.GraceUntil)
}

// RollUsagePeriod resets the usage counters when now falls in a later
// calendar month than UsagePeriodStart. It reports whether a reset happened.
func (w *Workspace) RollUsagePeriod(now time.Time) bool {
	current := types.MonthStart(now)
	if !w.UsagePeriodStart.Before(current) {
		return false
	}
	w.UsagePeriodStart = current
	w.ActionsUsed = 0
	w.OverageActions = 0
	return true
}

// Clone returns a deep copy.
func (w *Workspace) Clone() *Workspace {
	c := *w
	if w.GraceUntil != nil {
		g := *w.GraceUntil
		c.GraceUntil = &g
	}
	return &c
}
