package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

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

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ==================== Conversions ====================

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func optionalMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromOptionalMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func optionalID(i id.ID) sql.NullString {
	if i.IsNil() {
		return sql.NullString{}
	}
	return sql.NullString{String: i.String(), Valid: true}
}

func parseID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}

func encodeTribute(t *transaction.Tribute) (sql.NullString, error) {
	if t == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// ==================== Row scanners ====================

func scanWorkspace(row scanner) (*workspace.Workspace, error) {
	var (
		w                                  workspace.Workspace
		rawID                              string
		balance, periodStart, created, upd int64
		grace                              sql.NullInt64
	)
	err := row.Scan(&rawID, &w.Name, &balance, &w.PlanTier, &w.ActionsUsed, &w.OverageActions,
		&periodStart, &grace, &created, &upd)
	if err != nil {
		return nil, err
	}
	if w.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	w.Balance = types.Credits(balance)
	w.UsagePeriodStart = fromMillis(periodStart)
	w.GraceUntil = fromOptionalMillis(grace)
	w.CreatedAt = fromMillis(created)
	w.UpdatedAt = fromMillis(upd)
	return &w, nil
}

func scanTransaction(row scanner) (*transaction.Transaction, error) {
	var (
		t                    transaction.Transaction
		rawID, rawWS         string
		kind, status         string
		amount, created      int64
		eventID, tributeJSON sql.NullString
		completed            sql.NullInt64
	)
	err := row.Scan(&rawID, &rawWS, &kind, &amount, &t.Description, &status, &t.Refs.UserID,
		&eventID, &t.Refs.ExternalRef, &t.Refs.Pending, &tributeJSON, &t.Signature, &created, &completed)
	if err != nil {
		return nil, err
	}
	if t.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	if t.WorkspaceID, err = parseID(rawWS); err != nil {
		return nil, err
	}
	if t.Refs.EventID, err = parseID(eventID.String); err != nil {
		return nil, err
	}
	if tributeJSON.Valid {
		t.Tribute = new(transaction.Tribute)
		if err := json.Unmarshal([]byte(tributeJSON.String), t.Tribute); err != nil {
			return nil, fmt.Errorf("decode tribute: %w", err)
		}
	}
	t.Kind = transaction.Kind(kind)
	t.Status = transaction.Status(status)
	t.Amount = types.Credits(amount)
	t.CreatedAt = fromMillis(created)
	t.CompletedAt = fromOptionalMillis(completed)
	return &t, nil
}

func scanEffect(row scanner) (*effect.ActiveEffect, error) {
	var (
		e                effect.ActiveEffect
		rawID, rawWS     string
		key, source      string
		expires, created int64
	)
	err := row.Scan(&rawID, &rawWS, &key, &source, &e.UserID, &expires, &created)
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
	e.ExpiresAt = fromMillis(expires)
	e.CreatedAt = fromMillis(created)
	return &e, nil
}

func scanCollectible(row scanner) (*rarity.Collectible, error) {
	var (
		c                   rarity.Collectible
		rawID, rawWS, rawTx string
		created             int64
	)
	err := row.Scan(&rawID, &rawWS, &c.CardID, &c.InstrumentID, &rawTx, &created)
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
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

func scanEvent(row scanner) (*event.Event, error) {
	var (
		e                        event.Event
		rawID, rewardKey, status string
		target, pool             int64
		expires, created         int64
		winner                   sql.NullString
		concluded                sql.NullInt64
	)
	err := row.Scan(&rawID, &e.Name, &target, &pool, &rewardKey, &status, &expires,
		&created, &winner, &e.WinnerUserID, &concluded)
	if err != nil {
		return nil, err
	}
	if e.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	if e.WinnerWorkspaceID, err = parseID(winner.String); err != nil {
		return nil, err
	}
	e.PoolTarget = types.Credits(target)
	e.CurrentPool = types.Credits(pool)
	e.RewardKey = effect.Key(rewardKey)
	e.Status = event.Status(status)
	e.ExpiresAt = fromMillis(expires)
	e.CreatedAt = fromMillis(created)
	e.ConcludedAt = fromOptionalMillis(concluded)
	return &e, nil
}

func scanContribution(row scanner) (*event.Contribution, error) {
	var (
		c                           event.Contribution
		rawID, rawEvt, rawWS, rawTx string
		amount, created             int64
	)
	err := row.Scan(&rawID, &rawEvt, &rawWS, &c.UserID, &amount, &rawTx, &created)
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
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

// collect drains rows through scan.
func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
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
