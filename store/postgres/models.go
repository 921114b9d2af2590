package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// ==================== Column lists ====================

const (
	workspaceColumns = `id, name, balance, plan_tier, actions_used, overage_actions,
    usage_period_start, grace_until, created_at, updated_at`

	transactionColumns = `id, workspace_id, kind, amount, description, status, user_id,
    event_id, external_ref, pending, tribute, signature, created_at, completed_at`

	effectColumns = `id, workspace_id, key, source, user_id, expires_at, created_at`

	collectibleColumns = `id, workspace_id, card_id, instrument_id, transaction_id, created_at`

	eventColumns = `id, name, pool_target, current_pool, reward_key, status, expires_at,
    created_at, winner_workspace_id, winner_user_id, concluded_at`

	contributionColumns = `id, event_id, workspace_id, user_id, amount, transaction_id, created_at`
)

// ==================== Conversions ====================

func parseID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}

func parseOptionalID(s *string) (id.ID, error) {
	if s == nil {
		return id.Nil, nil
	}
	return parseID(*s)
}

func optionalID(i id.ID) *string {
	if i.IsNil() {
		return nil
	}
	s := i.String()
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func encodeTribute(t *transaction.Tribute) ([]byte, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

// ==================== Row scanners ====================

func scanWorkspace(row pgx.Row) (*workspace.Workspace, error) {
	var (
		w       workspace.Workspace
		rawID   string
		balance int64
	)
	err := row.Scan(&rawID, &w.Name, &balance, &w.PlanTier, &w.ActionsUsed, &w.OverageActions,
		&w.UsagePeriodStart, &w.GraceUntil, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if w.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	w.Balance = types.Credits(balance)
	w.UsagePeriodStart = w.UsagePeriodStart.UTC()
	w.GraceUntil = utcPtr(w.GraceUntil)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}

func scanTransaction(row pgx.Row) (*transaction.Transaction, error) {
	var (
		t         transaction.Transaction
		rawID     string
		rawWS     string
		kind      string
		status    string
		amount    int64
		eventID   *string
		tributeJS []byte
	)
	err := row.Scan(&rawID, &rawWS, &kind, &amount, &t.Description, &status, &t.Refs.UserID,
		&eventID, &t.Refs.ExternalRef, &t.Refs.Pending, &tributeJS, &t.Signature, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	if t.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	if t.WorkspaceID, err = parseID(rawWS); err != nil {
		return nil, err
	}
	if t.Refs.EventID, err = parseOptionalID(eventID); err != nil {
		return nil, err
	}
	if len(tributeJS) > 0 {
		t.Tribute = new(transaction.Tribute)
		if err := json.Unmarshal(tributeJS, t.Tribute); err != nil {
			return nil, fmt.Errorf("decode tribute: %w", err)
		}
	}
	t.Kind = transaction.Kind(kind)
	t.Status = transaction.Status(status)
	t.Amount = types.Credits(amount)
	t.CreatedAt = t.CreatedAt.UTC()
	t.CompletedAt = utcPtr(t.CompletedAt)
	return &t, nil
}

func scanEffect(row pgx.Row) (*effect.ActiveEffect, error) {
	var (
		e            effect.ActiveEffect
		rawID, rawWS string
		key, source  string
	)
	err := row.Scan(&rawID, &rawWS, &key, &source, &e.UserID, &e.ExpiresAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if e.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	if e.WorkspaceID, err = parseID(rawWS); err != nil {
		return nil, err
	}
	e.Key = effect.Key(key)
	e.Source = effect.Source(source)
	e.ExpiresAt = e.ExpiresAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func scanCollectible(row pgx.Row) (*rarity.Collectible, error) {
	var (
		c                   rarity.Collectible
		rawID, rawWS, rawTx string
	)
	err := row.Scan(&rawID, &rawWS, &c.CardID, &c.InstrumentID, &rawTx, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if c.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	if c.WorkspaceID, err = parseID(rawWS); err != nil {
		return nil, err
	}
	if c.TransactionID, err = parseID(rawTx); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		e                 event.Event
		rawID             string
		target, pool      int64
		rewardKey, status string
		winner            *string
	)
	err := row.Scan(&rawID, &e.Name, &target, &pool, &rewardKey, &status, &e.ExpiresAt,
		&e.CreatedAt, &winner, &e.WinnerUserID, &e.ConcludedAt)
	if err != nil {
		return nil, err
	}
	if e.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	if e.WinnerWorkspaceID, err = parseOptionalID(winner); err != nil {
		return nil, err
	}
	e.PoolTarget = types.Credits(target)
	e.CurrentPool = types.Credits(pool)
	e.RewardKey = effect.Key(rewardKey)
	e.Status = event.Status(status)
	e.ExpiresAt = e.ExpiresAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.ConcludedAt = utcPtr(e.ConcludedAt)
	return &e, nil
}

func scanContribution(row pgx.Row) (*event.Contribution, error) {
	var (
		c                           event.Contribution
		rawID, rawEvt, rawWS, rawTx string
		amount                      int64
	)
	err := row.Scan(&rawID, &rawEvt, &rawWS, &c.UserID, &amount, &rawTx, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if c.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	if c.EventID, err = parseID(rawEvt); err != nil {
		return nil, err
	}
	if c.WorkspaceID, err = parseID(rawWS); err != nil {
		return nil, err
	}
	if c.TransactionID, err = parseID(rawTx); err != nil {
		return nil, err
	}
	c.Amount = types.Credits(amount)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// collect drains rows through scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
