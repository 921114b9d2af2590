package coffer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
)

// ContributionResult is the outcome of a pooled-event contribution.
type ContributionResult struct {
	Accepted       bool                     `json:"accepted"`
	EventConcluded bool                     `json:"event_concluded"`
	Winner         id.ID                    `json:"winner,omitempty"`
	Event          *event.Event             `json:"event"`
	Contribution   *event.Contribution      `json:"contribution"`
	Transaction    *transaction.Transaction `json:"transaction"`
	Reward         *effect.ActiveEffect     `json:"reward,omitempty"`
}

// ──────────────────────────────────────────────────
// Global Event Coordinator
// ──────────────────────────────────────────────────

// CreateEvent opens a pooled event. Only one event may be ACTIVE; an
// active event whose deadline has passed is concluded first.
func (c *Coffer) CreateEvent(ctx context.Context, name string, poolTarget types.Credits, durationHours int, rewardKey effect.Key) (*event.Event, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return nil, invalid("name", "must not be empty")
	case !poolTarget.IsPositive():
		return nil, invalid("pool_target", "must be positive")
	case durationHours <= 0:
		return nil, invalid("duration_hours", "must be positive")
	case !c.effects.Has(rewardKey):
		return nil, fmt.Errorf("%w: reward %q", ErrEffectNotFound, rewardKey)
	}

	var created, expired *event.Event
	err := c.atomic(ctx, "create_event", func(ctx context.Context, tx store.Tx) error {
		created, expired = nil, nil
		now := c.clock()

		cur, err := tx.LockActiveEvent(ctx)
		switch {
		case errors.Is(err, ErrEventNotFound):
		case err != nil:
			return err
		case !cur.Expired(now):
			return fmt.Errorf("%w: %s", ErrEventActive, cur.ID)
		default:
			cur.Conclude(now, id.Nil, "")
			if err := tx.UpdateEvent(ctx, cur); err != nil {
				return err
			}
			expired = cur
		}

		e := &event.Event{
			ID:          id.NewEventID(),
			Name:        name,
			PoolTarget:  poolTarget,
			CurrentPool: types.Zero,
			RewardKey:   rewardKey,
			Status:      event.StatusActive,
			ExpiresAt:   now.Add(time.Duration(durationHours) * time.Hour),
			CreatedAt:   now,
		}
		if err := tx.CreateEvent(ctx, e); err != nil {
			return err
		}
		created = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired != nil {
		c.plugins.EmitEventConcluded(ctx, expired)
	}
	c.logger.Info("global event created",
		"event_id", created.ID.String(),
		"target", created.PoolTarget.String(),
		"expires_at", created.ExpiresAt,
		"reward", string(rewardKey),
	)
	c.plugins.EmitEventCreated(ctx, created)
	return created, nil
}

// ContributeToGlobalEvent debits amount from the workspace into the active
// event's pool. The event row is locked before the workspace row. When the
// pool reaches its target the contributor wins: the event concludes and
// the reward effect is granted in the same unit, so exactly one
// contribution can ever win. A contribution to an expired event concludes
// it without a winner and fails with ErrEventExpired.
func (c *Coffer) ContributeToGlobalEvent(ctx context.Context, wsID id.ID, userID string, amount types.Credits) (*ContributionResult, error) {
	if !amount.IsPositive() {
		return nil, invalid("amount", "must be positive")
	}

	var res *ContributionResult
	var expired *event.Event
	err := c.atomic(ctx, "contribute", func(ctx context.Context, tx store.Tx) error {
		res, expired = nil, nil
		now := c.clock()

		e, err := tx.LockActiveEvent(ctx)
		if err != nil {
			return err
		}
		if e.Expired(now) {
			e.Conclude(now, id.Nil, "")
			expired = e
			return tx.UpdateEvent(ctx, e)
		}

		if _, err := tx.LockWorkspace(ctx, wsID); err != nil {
			return err
		}

		debit, err := c.newTransaction(wsID, transaction.KindDebit, amount.Negate(),
			fmt.Sprintf("contribution to %s", e.Name),
			transaction.Refs{UserID: userID, EventID: e.ID}, now)
		if err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, wsID, debit.Amount); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, debit); err != nil {
			return err
		}

		pool, err := e.CurrentPool.CheckedAdd(amount)
		if err != nil {
			return fmt.Errorf("%w: event pool: %w", ErrInvalidInput, err)
		}
		e.CurrentPool = pool
		contribution := &event.Contribution{
			ID:            id.NewContributionID(),
			EventID:       e.ID,
			WorkspaceID:   wsID,
			UserID:        userID,
			Amount:        amount,
			TransactionID: debit.ID,
			CreatedAt:     now,
		}
		if err := tx.InsertContribution(ctx, contribution); err != nil {
			return err
		}

		r := &ContributionResult{
			Accepted:     true,
			Event:        e,
			Contribution: contribution,
			Transaction:  debit,
		}
		if e.TargetReached() {
			e.Conclude(now, wsID, userID)
			reward, err := c.grantEffect(ctx, tx, wsID, userID, e.RewardKey, effect.SourceEvent, 0)
			if err != nil {
				return err
			}
			r.EventConcluded = true
			r.Winner = wsID
			r.Reward = reward
		}
		if err := tx.UpdateEvent(ctx, e); err != nil {
			return err
		}

		res = r
		return nil
	})
	if err != nil {
		if IsInsufficientCredits(err) {
			c.plugins.EmitInsufficientCredits(ctx, wsID.String(), "contribute", amount)
		}
		return nil, err
	}

	if expired != nil {
		c.logger.Info("global event expired without a winner", "event_id", expired.ID.String())
		c.plugins.EmitEventConcluded(ctx, expired)
		return nil, fmt.Errorf("%w: %s", ErrEventExpired, expired.ID)
	}

	c.logger.Debug("contribution accepted",
		"event_id", res.Event.ID.String(),
		"workspace_id", wsID.String(),
		"amount", amount.String(),
		"pool", res.Event.CurrentPool.String(),
	)
	c.plugins.EmitTransactionRecorded(ctx, res.Transaction)
	c.plugins.EmitContribution(ctx, res.Contribution)
	if res.EventConcluded {
		c.logger.Info("global event won",
			"event_id", res.Event.ID.String(),
			"winner", wsID.String(),
			"pool", res.Event.CurrentPool.String(),
		)
		c.plugins.EmitEffectActivated(ctx, res.Reward)
		c.plugins.EmitEventConcluded(ctx, res.Event)
	}
	return res, nil
}

// GetActiveEvent returns the ACTIVE event or ErrEventNotFound.
func (c *Coffer) GetActiveEvent(ctx context.Context) (*event.Event, error) {
	return c.store.GetActiveEvent(ctx)
}

// GetEvent retrieves any event by ID.
func (c *Coffer) GetEvent(ctx context.Context, eventID id.ID) (*event.Event, error) {
	return c.store.GetEvent(ctx, eventID)
}

// ListContributions returns an event's contributions in commit order.
func (c *Coffer) ListContributions(ctx context.Context, eventID id.ID) ([]*event.Contribution, error) {
	return c.store.ListContributions(ctx, eventID)
}

// ConcludeExpiredEvents concludes the active event if its deadline has
// passed. It returns the concluded event, or nil when there was nothing to
// do.
func (c *Coffer) ConcludeExpiredEvents(ctx context.Context) (*event.Event, error) {
	var concluded *event.Event
	err := c.atomic(ctx, "conclude_expired", func(ctx context.Context, tx store.Tx) error {
		concluded = nil
		now := c.clock()

		e, err := tx.LockActiveEvent(ctx)
		if errors.Is(err, ErrEventNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !e.Expired(now) {
			return nil
		}
		e.Conclude(now, id.Nil, "")
		concluded = e
		return tx.UpdateEvent(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	if concluded != nil {
		c.logger.Info("global event expired without a winner", "event_id", concluded.ID.String())
		c.plugins.EmitEventConcluded(ctx, concluded)
	}
	return concluded, nil
}
