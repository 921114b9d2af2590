package coffer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// ──────────────────────────────────────────────────
// Workspace Management
// ──────────────────────────────────────────────────

// CreateWorkspace onboards a tenant on planTier. A positive opening balance
// is logged as a CREDIT in the same unit.
func (c *Coffer) CreateWorkspace(ctx context.Context, name, planTier string, opening types.Credits) (*workspace.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "must not be empty")
	}
	if opening.IsNegative() {
		return nil, invalid("opening_balance", "must not be negative")
	}
	if _, ok := c.plans.Get(planTier); !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlanNotFound, planTier)
	}

	now := c.clock()
	w := &workspace.Workspace{
		Entity:           types.NewEntity(now),
		ID:               id.NewWorkspaceID(),
		Name:             name,
		PlanTier:         planTier,
		UsagePeriodStart: types.MonthStart(now),
	}

	var opened *transaction.Transaction
	if opening.IsPositive() {
		var err error
		opened, err = c.newTransaction(w.ID, transaction.KindCredit, opening, "opening balance", transaction.Refs{}, now)
		if err != nil {
			return nil, err
		}
	}

	err := c.atomic(ctx, "create_workspace", func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateWorkspace(ctx, w); err != nil {
			return err
		}
		if opened == nil {
			return nil
		}
		if _, err := tx.AdjustBalance(ctx, w.ID, opening); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, opened)
	})
	if err != nil {
		return nil, err
	}
	w.Balance = opening

	c.logger.Info("workspace created",
		"workspace_id", w.ID.String(),
		"plan", planTier,
		"opening_balance", opening.String(),
	)
	c.plugins.EmitWorkspaceCreated(ctx, w)
	if opened != nil {
		c.plugins.EmitTransactionRecorded(ctx, opened)
	}
	return w, nil
}

// GetWorkspace retrieves a workspace by ID.
func (c *Coffer) GetWorkspace(ctx context.Context, wsID id.ID) (*workspace.Workspace, error) {
	return c.store.GetWorkspace(ctx, wsID)
}

// SetGracePeriod waives agent-action charges until the given time. A zero
// time clears the grace period.
func (c *Coffer) SetGracePeriod(ctx context.Context, wsID id.ID, until time.Time) (*workspace.Workspace, error) {
	return c.updateWorkspace(ctx, "set_grace_period", wsID, func(w *workspace.Workspace) error {
		if until.IsZero() {
			w.GraceUntil = nil
			return nil
		}
		u := until.UTC().Truncate(time.Millisecond)
		w.GraceUntil = &u
		return nil
	})
}

// ChangePlan moves a workspace to another plan tier. Usage in the current
// period carries over.
func (c *Coffer) ChangePlan(ctx context.Context, wsID id.ID, planTier string) (*workspace.Workspace, error) {
	if _, ok := c.plans.Get(planTier); !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlanNotFound, planTier)
	}
	return c.updateWorkspace(ctx, "change_plan", wsID, func(w *workspace.Workspace) error {
		w.PlanTier = planTier
		return nil
	})
}

func (c *Coffer) updateWorkspace(ctx context.Context, op string, wsID id.ID, mutate func(*workspace.Workspace) error) (*workspace.Workspace, error) {
	var out *workspace.Workspace
	err := c.atomic(ctx, op, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.LockWorkspace(ctx, wsID)
		if err != nil {
			return err
		}
		if err := mutate(w); err != nil {
			return err
		}
		w.Touch(c.clock())
		out = w
		return tx.UpdateWorkspace(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Ledger Core
// ──────────────────────────────────────────────────

// RecordTransaction applies a signed CREDIT or DEBIT and logs it. Credits
// must be positive and debits negative. A debit that would take the balance
// below zero fails with ErrInsufficientCredits and changes nothing. With
// refs.Pending set, a CREDIT is logged as PENDING without touching the
// balance until ConfirmPendingTransaction.
func (c *Coffer) RecordTransaction(ctx context.Context, wsID id.ID, kind transaction.Kind, amount types.Credits, description string, refs transaction.Refs) (*transaction.Transaction, error) {
	switch kind {
	case transaction.KindCredit:
		if !amount.IsPositive() {
			return nil, invalid("amount", "credit amount must be positive")
		}
	case transaction.KindDebit:
		if !amount.IsNegative() {
			return nil, invalid("amount", "debit amount must be negative")
		}
		if refs.Pending {
			return nil, invalid("pending", "only credits can be pending")
		}
	case transaction.KindTribute:
		return nil, invalid("kind", "tributes are recorded through SubmitTribute")
	default:
		return nil, invalid("kind", fmt.Sprintf("unknown kind %q", kind))
	}

	t, err := c.newTransaction(wsID, kind, amount, description, refs, c.clock())
	if err != nil {
		return nil, err
	}

	err = c.atomic(ctx, "record_transaction", func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockWorkspace(ctx, wsID); err != nil {
			return err
		}
		if t.Status == transaction.StatusCompleted {
			if _, err := tx.AdjustBalance(ctx, wsID, amount); err != nil {
				return err
			}
		}
		return tx.InsertTransaction(ctx, t)
	})
	if err != nil {
		if IsInsufficientCredits(err) {
			c.plugins.EmitInsufficientCredits(ctx, wsID.String(), "record_transaction", amount.Abs())
		}
		return nil, err
	}

	c.logger.Debug("transaction recorded",
		"transaction_id", t.ID.String(),
		"workspace_id", wsID.String(),
		"kind", string(kind),
		"amount", amount.String(),
		"status", string(t.Status),
	)
	c.plugins.EmitTransactionRecorded(ctx, t)
	return t, nil
}

// ConfirmPendingTransaction settles a PENDING credit and applies its amount.
// Calling it on anything but a PENDING credit fails with ErrNotPending and
// leaves the balance untouched.
func (c *Coffer) ConfirmPendingTransaction(ctx context.Context, txID, wsID id.ID) (*transaction.Transaction, error) {
	return c.settlePending(ctx, txID, wsID, transaction.StatusCompleted)
}

// FailPendingTransaction marks a PENDING credit FAILED. The balance never
// changes.
func (c *Coffer) FailPendingTransaction(ctx context.Context, txID, wsID id.ID) (*transaction.Transaction, error) {
	return c.settlePending(ctx, txID, wsID, transaction.StatusFailed)
}

func (c *Coffer) settlePending(ctx context.Context, txID, wsID id.ID, to transaction.Status) (*transaction.Transaction, error) {
	var out *transaction.Transaction
	err := c.atomic(ctx, "settle_pending", func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockWorkspace(ctx, wsID); err != nil {
			return err
		}
		t, err := tx.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if t.WorkspaceID.String() != wsID.String() {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
		}
		if !t.IsPendingCredit() {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, txID, t.Status)
		}

		at := c.clock()
		if err := tx.CompletePending(ctx, txID, wsID, to, at); err != nil {
			return err
		}
		if to == transaction.StatusCompleted {
			if _, err := tx.AdjustBalance(ctx, wsID, t.Amount); err != nil {
				return err
			}
		}
		t.Status = to
		t.CompletedAt = &at
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("pending credit settled",
		"transaction_id", txID.String(),
		"workspace_id", wsID.String(),
		"status", string(to),
	)
	c.plugins.EmitPendingSettled(ctx, out)
	return out, nil
}

// GetWorkspaceTransactions returns the most recent transactions first.
// A non-positive limit selects the default; large limits are capped.
func (c *Coffer) GetWorkspaceTransactions(ctx context.Context, wsID id.ID, limit int) ([]*transaction.Transaction, error) {
	return c.ListTransactions(ctx, wsID, transaction.ListOpts{Limit: limit})
}

// ListTransactions is GetWorkspaceTransactions with kind and status filters.
func (c *Coffer) ListTransactions(ctx context.Context, wsID id.ID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	if _, err := c.store.GetWorkspace(ctx, wsID); err != nil {
		return nil, err
	}
	return c.store.ListTransactions(ctx, wsID, opts.Normalize())
}

// GetTransaction retrieves a transaction by ID.
func (c *Coffer) GetTransaction(ctx context.Context, txID id.ID) (*transaction.Transaction, error) {
	return c.store.GetTransaction(ctx, txID)
}

// VerifyTransaction reports whether t still carries the signature this
// engine's key produces for it.
func (c *Coffer) VerifyTransaction(_ context.Context, t *transaction.Transaction) bool {
	return t != nil && c.signer.Verify(t)
}

// TributeEntry is a pre-resolved tribute outcome to be settled.
type TributeEntry struct {
	WorkspaceID id.ID
	UserID      string
	Tribute     transaction.Tribute
	Description string
}

// LogTributeEvent settles a resolved tribute: the net change
// (boon - tribute) is applied with a single TRIBUTE row. It fails with
// ErrInsufficientCredits when the balance cannot cover the tribute.
func (c *Coffer) LogTributeEvent(ctx context.Context, entry TributeEntry) (*transaction.Transaction, error) {
	if !entry.Tribute.TributeAmount.IsPositive() {
		return nil, invalid("tribute_amount", "must be positive")
	}
	if entry.Tribute.BoonAmount.IsNegative() {
		return nil, invalid("boon_amount", "must not be negative")
	}

	var out *transaction.Transaction
	err := c.atomic(ctx, "log_tribute", func(ctx context.Context, tx store.Tx) error {
		w, err := tx.LockWorkspace(ctx, entry.WorkspaceID)
		if err != nil {
			return err
		}
		t, err := c.settleTribute(ctx, tx, w.Balance, entry)
		out = t
		return err
	})
	if err != nil {
		if IsInsufficientCredits(err) {
			c.plugins.EmitInsufficientCredits(ctx, entry.WorkspaceID.String(), "tribute", entry.Tribute.TributeAmount)
		}
		return nil, err
	}

	c.plugins.EmitTransactionRecorded(ctx, out)
	return out, nil
}

// settleTribute applies a tribute inside an open unit. balance is the
// locked pre-tribute balance.
func (c *Coffer) settleTribute(ctx context.Context, tx store.Tx, balance types.Credits, entry TributeEntry) (*transaction.Transaction, error) {
	tr := entry.Tribute
	if balance.LessThan(tr.TributeAmount) {
		return nil, fmt.Errorf("%w: balance %s, tribute %s", ErrInsufficientCredits, balance, tr.TributeAmount)
	}

	net := tr.BoonAmount.Subtract(tr.TributeAmount)
	desc := entry.Description
	if desc == "" {
		desc = fmt.Sprintf("tribute to %s: %s", tr.InstrumentID, tr.Tier)
	}
	t, err := c.newTransaction(entry.WorkspaceID, transaction.KindTribute, net, desc, transaction.Refs{UserID: entry.UserID}, c.clock(), func(t *transaction.Transaction) {
		t.Tribute = &tr
	})
	if err != nil {
		return nil, err
	}

	if _, err := tx.AdjustBalance(ctx, entry.WorkspaceID, net); err != nil {
		return nil, err
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// newTransaction builds and signs a row. Credits flagged pending start
// PENDING; everything else is COMPLETED at creation.
func (c *Coffer) newTransaction(wsID id.ID, kind transaction.Kind, amount types.Credits, description string, refs transaction.Refs, now time.Time, decorate ...func(*transaction.Transaction)) (*transaction.Transaction, error) {
	t := &transaction.Transaction{
		ID:          id.NewTransactionID(),
		WorkspaceID: wsID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Status:      transaction.StatusCompleted,
		Refs:        refs,
		CreatedAt:   now,
	}
	if refs.Pending && kind == transaction.KindCredit {
		t.Status = transaction.StatusPending
	} else {
		done := now
		t.CompletedAt = &done
	}
	for _, d := range decorate {
		d(t)
	}
	if err := c.signer.Stamp(t); err != nil {
		return nil, err
	}
	return t, nil
}
