package coffer

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/transaction"
)

// ──────────────────────────────────────────────────
// Effects Registry
// ──────────────────────────────────────────────────

// ActivateEffect buys the effect key for the workspace. The cost is debited
// and the effect inserted in one unit; an unknown key fails with
// ErrEffectNotFound.
func (c *Coffer) ActivateEffect(ctx context.Context, userID string, wsID id.ID, key effect.Key) (*effect.ActiveEffect, error) {
	def, ok := c.effects.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEffectNotFound, key)
	}

	var granted *effect.ActiveEffect
	var debit *transaction.Transaction
	err := c.atomic(ctx, "activate_effect", func(ctx context.Context, tx store.Tx) error {
		granted, debit = nil, nil

		if _, err := tx.LockWorkspace(ctx, wsID); err != nil {
			return err
		}
		if def.Cost.IsPositive() {
			var err error
			debit, err = c.newTransaction(wsID, transaction.KindDebit, def.Cost.Negate(),
				fmt.Sprintf("effect %s", key), transaction.Refs{UserID: userID}, c.clock())
			if err != nil {
				return err
			}
			if _, err := tx.AdjustBalance(ctx, wsID, debit.Amount); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, debit); err != nil {
				return err
			}
		}
		e, err := c.grantEffect(ctx, tx, wsID, userID, key, effect.SourcePurchase, 0)
		granted = e
		return err
	})
	if err != nil {
		if IsInsufficientCredits(err) {
			c.plugins.EmitInsufficientCredits(ctx, wsID.String(), "activate_effect", def.Cost)
		}
		return nil, err
	}

	c.logger.Debug("effect activated",
		"workspace_id", wsID.String(),
		"effect", string(key),
		"expires_at", granted.ExpiresAt,
	)
	if debit != nil {
		c.plugins.EmitTransactionRecorded(ctx, debit)
	}
	c.plugins.EmitEffectActivated(ctx, granted)
	return granted, nil
}

// GetActiveEffects prunes the workspace's expired effects and returns the
// rest. Anything past expiry is filtered even if pruning races.
func (c *Coffer) GetActiveEffects(ctx context.Context, wsID id.ID) ([]*effect.ActiveEffect, error) {
	if _, err := c.store.GetWorkspace(ctx, wsID); err != nil {
		return nil, err
	}
	now := c.clock()
	if _, err := c.store.PruneExpiredEffects(ctx, wsID, now); err != nil {
		return nil, err
	}
	all, err := c.store.ListEffects(ctx, wsID)
	if err != nil {
		return nil, err
	}
	return effect.FilterActive(all, now), nil
}

// IsEffectActive reports whether the workspace currently has key.
func (c *Coffer) IsEffectActive(ctx context.Context, wsID id.ID, key effect.Key) (bool, error) {
	all, err := c.store.ListEffects(ctx, wsID)
	if err != nil {
		return false, err
	}
	for _, e := range effect.FilterActive(all, c.clock()) {
		if e.Key == key {
			return true, nil
		}
	}
	return false, nil
}

// SweepExpiredEffects deletes every expired effect across workspaces.
func (c *Coffer) SweepExpiredEffects(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := c.store.PruneExpiredEffects(ctx, id.Nil, c.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Debug("expired effects swept", "count", n)
	}
	c.plugins.EmitEffectsSwept(ctx, n, time.Since(start))
	return n, nil
}

// grantEffect inserts an effect inside an open unit. A zero duration uses
// the catalog default.
func (c *Coffer) grantEffect(ctx context.Context, tx store.Tx, wsID id.ID, userID string, key effect.Key, src effect.Source, d time.Duration) (*effect.ActiveEffect, error) {
	def, ok := c.effects.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEffectNotFound, key)
	}
	if d <= 0 {
		d = def.Duration
	}
	now := c.clock()
	e := &effect.ActiveEffect{
		ID:          id.NewEffectID(),
		WorkspaceID: wsID,
		Key:         key,
		Source:      src,
		UserID:      userID,
		ExpiresAt:   now.Add(d),
		CreatedAt:   now,
	}
	if err := tx.InsertEffect(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
