package coffer

import (
	"context"
	"fmt"

	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/meter"
	"github.com/xraph/coffer/plan"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/workspace"
)

// ──────────────────────────────────────────────────
// Billing Allowance Meter
// ──────────────────────────────────────────────────

// AuthorizeAgentActions meters count agent actions against the workspace's
// monthly allowance and debits any overage. Allowance consumption and the
// overage debit are one unit with the workspace row locked, so two
// concurrent calls never both see the same unused allowance. If the
// overage cannot be paid nothing is applied.
func (c *Coffer) AuthorizeAgentActions(ctx context.Context, wsID id.ID, count int64) (*meter.Authorization, error) {
	if count <= 0 {
		return nil, invalid("count", "must be positive")
	}

	var auth *meter.Authorization
	var debit *transaction.Transaction
	err := c.atomic(ctx, "authorize_actions", func(ctx context.Context, tx store.Tx) error {
		auth, debit = &meter.Authorization{WorkspaceID: wsID, Requested: count}, nil

		w, err := tx.LockWorkspace(ctx, wsID)
		if err != nil {
			return err
		}
		p, err := c.planFor(w)
		if err != nil {
			return err
		}

		now := c.clock()
		rolled := w.RollUsagePeriod(now)

		if w.InGracePeriod(now) {
			auth.GraceApplied = true
			if rolled {
				w.Touch(now)
				return tx.UpdateWorkspace(ctx, w)
			}
			return nil
		}

		auth.Covered, auth.Overage = p.Split(w.ActionsUsed, count)
		auth.Charged = p.OverageUnitCost.Multiply(auth.Overage)

		if auth.Charged.IsPositive() {
			desc := fmt.Sprintf("agent action overage: %d x %s", auth.Overage, p.OverageUnitCost)
			debit, err = c.newTransaction(wsID, transaction.KindDebit, auth.Charged.Negate(), desc, transaction.Refs{}, now)
			if err != nil {
				return err
			}
			if _, err := tx.AdjustBalance(ctx, wsID, debit.Amount); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, debit); err != nil {
				return err
			}
			auth.TransactionID = debit.ID
		}

		w.ActionsUsed += auth.Covered
		w.OverageActions += auth.Overage
		w.Touch(now)
		return tx.UpdateWorkspace(ctx, w)
	})
	if err != nil {
		if IsInsufficientCredits(err) && auth != nil {
			c.plugins.EmitInsufficientCredits(ctx, wsID.String(), "authorize_actions", auth.Charged)
		}
		return nil, err
	}

	c.logger.Debug("agent actions authorized",
		"workspace_id", wsID.String(),
		"requested", count,
		"covered", auth.Covered,
		"overage", auth.Overage,
		"charged", auth.Charged.String(),
		"grace", auth.GraceApplied,
	)
	if debit != nil {
		c.plugins.EmitTransactionRecorded(ctx, debit)
	}
	c.plugins.EmitActionsAuthorized(ctx, auth)
	return auth, nil
}

// GetAllowance reports the workspace's usage in the current period. A
// period that has already rolled over reads as fresh.
func (c *Coffer) GetAllowance(ctx context.Context, wsID id.ID) (*meter.Allowance, error) {
	w, err := c.store.GetWorkspace(ctx, wsID)
	if err != nil {
		return nil, err
	}
	p, err := c.planFor(w)
	if err != nil {
		return nil, err
	}

	now := c.clock()
	w.RollUsagePeriod(now)

	a := &meter.Allowance{
		WorkspaceID:    w.ID,
		PlanTier:       w.PlanTier,
		Limit:          p.MonthlyAllowance,
		Used:           w.ActionsUsed,
		Remaining:      plan.Unlimited,
		OverageActions: w.OverageActions,
		TotalActions:   w.ActionsUsed + w.OverageActions,
		PeriodStart:    w.UsagePeriodStart,
		GraceActive:    w.InGracePeriod(now),
	}
	if p.MonthlyAllowance != plan.Unlimited {
		a.Remaining = max(0, p.MonthlyAllowance-w.ActionsUsed)
	}
	return a, nil
}

func (c *Coffer) planFor(w *workspace.Workspace) (plan.Plan, error) {
	p, ok := c.plans.Get(w.PlanTier)
	if !ok {
		return plan.Plan{}, fmt.Errorf("%w: workspace %s is on unknown tier %q", ErrPlanNotFound, w.ID, w.PlanTier)
	}
	return p, nil
}
