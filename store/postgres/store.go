// Package postgres implements store.Store on PostgreSQL through pgx.
//
// Units of work run at READ COMMITTED. Balance changes are conditional
// updates, and workspace and event rows are locked with SELECT ... FOR UPDATE,
// so concurrent debits serialize on the row instead of failing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/rarity"
	cofferstore "github.com/xraph/coffer/store"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// compile-time interface checks
var (
	_ cofferstore.Store = (*Store)(nil)
	_ cofferstore.Tx    = (*tx)(nil)
)

// PostgreSQL error codes the store reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeOutOfRange           = "22003"
)

const singleActiveEventIndex = "idx_coffer_events_single_active"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Config tunes the connection pool. Zero values keep the pgx defaults.
type Config struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// New connects to dsn and returns a Store. Call Migrate before use.
func New(ctx context.Context, dsn string, cfgs ...Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: parse dsn: %w", err)
	}
	for _, c := range cfgs {
		if c.MaxConns > 0 {
			poolCfg.MaxConns = c.MaxConns
		}
		if c.MinConns > 0 {
			poolCfg.MinConns = c.MinConns
		}
		if c.MaxConnLifetime > 0 {
			poolCfg.MaxConnLifetime = c.MaxConnLifetime
		}
		if c.HealthCheckPeriod > 0 {
			poolCfg.HealthCheckPeriod = c.HealthCheckPeriod
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool. Close closes it.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgx pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== Unit of work ====================

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx cofferstore.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("coffer/postgres: begin: %w", classify(err))
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return classify(err)
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("coffer/postgres: commit: %w", classify(err))
	}
	return nil
}

type tx struct {
	q pgx.Tx
}

// classify maps retryable PostgreSQL failures to coffer.ErrStorageConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", coffer.ErrStorageConflict, err)
		}
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeCheckViolation
}

// isOutOfRange matches numeric_value_out_of_range, raised on BIGINT overflow.
func isOutOfRange(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeOutOfRange
}

// ==================== Workspace Store ====================

func (t *tx) CreateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO coffer_workspaces (`+workspaceColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID.String(), w.Name, w.Balance.Hundredths(), w.PlanTier, w.ActionsUsed, w.OverageActions,
		w.UsagePeriodStart, w.GraceUntil, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/postgres: create workspace: %w", err)
	}
	return nil
}

func (t *tx) LockWorkspace(ctx context.Context, wsID id.ID) (*workspace.Workspace, error) {
	w, err := scanWorkspace(t.q.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM coffer_workspaces WHERE id = $1 FOR UPDATE`, wsID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coffer.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("coffer/postgres: lock workspace: %w", err)
	}
	return w, nil
}

func (t *tx) AdjustBalance(ctx context.Context, wsID id.ID, delta types.Credits) (types.Credits, error) {
	lo, hi := cofferstore.BalanceBounds(delta)
	var balance int64
	err := t.q.QueryRow(ctx, `
UPDATE coffer_workspaces SET balance = balance + $2
WHERE id = $1 AND balance BETWEEN $3 AND $4
RETURNING balance`, wsID.String(), delta.Hundredths(), lo, hi).Scan(&balance)
	switch {
	case err == nil:
		return types.Credits(balance), nil
	case errors.Is(err, pgx.ErrNoRows):
		var current int64
		lookup := t.q.QueryRow(ctx, `SELECT balance FROM coffer_workspaces WHERE id = $1`, wsID.String()).Scan(&current)
		if errors.Is(lookup, pgx.ErrNoRows) {
			return 0, coffer.ErrWorkspaceNotFound
		}
		if lookup != nil {
			return 0, fmt.Errorf("coffer/postgres: adjust balance: %w", lookup)
		}
		if delta.IsPositive() {
			return types.Credits(current), fmt.Errorf("%w: %w", coffer.ErrInvalidInput, cofferstore.OverflowError(types.Credits(current), delta))
		}
		return types.Credits(current), coffer.ErrInsufficientCredits
	case isCheckViolation(err):
		return 0, coffer.ErrInsufficientCredits
	case isOutOfRange(err):
		return 0, fmt.Errorf("%w: coffer/postgres: adjust balance: %w", coffer.ErrInvalidInput, err)
	default:
		return 0, fmt.Errorf("coffer/postgres: adjust balance: %w", err)
	}
}

func (t *tx) UpdateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	tag, err := t.q.Exec(ctx, `
UPDATE coffer_workspaces SET
    name = $2, plan_tier = $3, actions_used = $4, overage_actions = $5,
    usage_period_start = $6, grace_until = $7, updated_at = $8
WHERE id = $1`,
		w.ID.String(), w.Name, w.PlanTier, w.ActionsUsed, w.OverageActions,
		w.UsagePeriodStart, w.GraceUntil, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("coffer/postgres: update workspace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coffer.ErrWorkspaceNotFound
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, wsID id.ID) (*workspace.Workspace, error) {
	w, err := scanWorkspace(s.pool.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM coffer_workspaces WHERE id = $1`, wsID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coffer.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("coffer/postgres: get workspace: %w", err)
	}
	return w, nil
}

// ==================== Transaction Store ====================

func (t *tx) InsertTransaction(ctx context.Context, txn *transaction.Transaction) error {
	tribute, err := encodeTribute(txn.Tribute)
	if err != nil {
		return fmt.Errorf("coffer/postgres: encode tribute: %w", err)
	}
	_, err = t.q.Exec(ctx, `
INSERT INTO coffer_transactions (`+transactionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		txn.ID.String(), txn.WorkspaceID.String(), string(txn.Kind), txn.Amount.Hundredths(),
		txn.Description, string(txn.Status), txn.Refs.UserID, optionalID(txn.Refs.EventID),
		txn.Refs.ExternalRef, txn.Refs.Pending, tribute, txn.Signature, txn.CreatedAt, txn.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/postgres: insert transaction: %w", err)
	}
	return nil
}

func (t *tx) GetTransaction(ctx context.Context, txID id.ID) (*transaction.Transaction, error) {
	return getTransaction(ctx, t.q, txID)
}

func (t *tx) CompletePending(ctx context.Context, txID, wsID id.ID, status transaction.Status, at time.Time) error {
	tag, err := t.q.Exec(ctx, `
UPDATE coffer_transactions SET status = $3, completed_at = $4
WHERE id = $1 AND workspace_id = $2 AND status = $5 AND kind = $6`,
		txID.String(), wsID.String(), string(status), at,
		string(transaction.StatusPending), string(transaction.KindCredit),
	)
	if err != nil {
		return fmt.Errorf("coffer/postgres: complete pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coffer.ErrNotPending
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txID id.ID) (*transaction.Transaction, error) {
	return getTransaction(ctx, s.pool, txID)
}

func getTransaction(ctx context.Context, q querier, txID id.ID) (*transaction.Transaction, error) {
	txn, err := scanTransaction(q.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM coffer_transactions WHERE id = $1`, txID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coffer.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("coffer/postgres: get transaction: %w", err)
	}
	return txn, nil
}

func (s *Store) ListTransactions(ctx context.Context, wsID id.ID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	opts = opts.Normalize()

	query := `SELECT ` + transactionColumns + ` FROM coffer_transactions WHERE workspace_id = $1`
	args := []any{wsID.String()}
	if opts.Kind != "" {
		args = append(args, string(opts.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, opts.Limit)
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: list transactions: %w", err)
	}
	result, err := collect(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: list transactions: %w", err)
	}
	return result, nil
}

// ==================== Tribute Side Tables ====================

func (t *tx) GetPityStreak(ctx context.Context, wsID id.ID, instrumentID string) (int, error) {
	var streak int
	err := t.q.QueryRow(ctx, `
SELECT streak FROM coffer_pity WHERE workspace_id = $1 AND instrument_id = $2 FOR UPDATE`,
		wsID.String(), instrumentID).Scan(&streak)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("coffer/postgres: get pity streak: %w", err)
	}
	return streak, nil
}

func (t *tx) SetPityStreak(ctx context.Context, wsID id.ID, instrumentID string, streak int) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO coffer_pity (workspace_id, instrument_id, streak) VALUES ($1, $2, $3)
ON CONFLICT (workspace_id, instrument_id) DO UPDATE SET streak = EXCLUDED.streak`,
		wsID.String(), instrumentID, streak)
	if err != nil {
		return fmt.Errorf("coffer/postgres: set pity streak: %w", err)
	}
	return nil
}

func (t *tx) InsertEffect(ctx context.Context, e *effect.ActiveEffect) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO coffer_effects (`+effectColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID.String(), e.WorkspaceID.String(), string(e.Key), string(e.Source), e.UserID,
		e.ExpiresAt, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/postgres: insert effect: %w", err)
	}
	return nil
}

func (t *tx) InsertCollectible(ctx context.Context, c *rarity.Collectible) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO coffer_collectibles (`+collectibleColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID.String(), c.WorkspaceID.String(), c.CardID, c.InstrumentID, c.TransactionID.String(), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("coffer/postgres: insert collectible: %w", err)
	}
	return nil
}

func (s *Store) ListEffects(ctx context.Context, wsID id.ID) ([]*effect.ActiveEffect, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+effectColumns+` FROM coffer_effects WHERE workspace_id = $1 ORDER BY expires_at, id`, wsID.String())
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: list effects: %w", err)
	}
	result, err := collect(rows, scanEffect)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: list effects: %w", err)
	}
	return result, nil
}

func (s *Store) PruneExpiredEffects(ctx context.Context, wsID id.ID, now time.Time) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if wsID.IsNil() {
		tag, err = s.pool.Exec(ctx, `DELETE FROM coffer_effects WHERE expires_at <= $1`, now)
	} else {
		tag, err = s.pool.Exec(ctx,
			`DELETE FROM coffer_effects WHERE workspace_id = $1 AND expires_at <= $2`, wsID.String(), now)
	}
	if err != nil {
		return 0, fmt.Errorf("coffer/postgres: prune effects: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListCollectibles(ctx context.Context, wsID id.ID) ([]*rarity.Collectible, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+collectibleColumns+` FROM coffer_collectibles WHERE workspace_id = $1 ORDER BY seq`, wsID.String())
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: list collectibles: %w", err)
	}
	result, err := collect(rows, scanCollectible)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: list collectibles: %w", err)
	}
	return result, nil
}

// ==================== Event Store ====================

func (t *tx) CreateEvent(ctx context.Context, e *event.Event) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO coffer_events (`+eventColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID.String(), e.Name, e.PoolTarget.Hundredths(), e.CurrentPool.Hundredths(), string(e.RewardKey),
		string(e.Status), e.ExpiresAt, e.CreatedAt, optionalID(e.WinnerWorkspaceID), e.WinnerUserID, e.ConcludedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, singleActiveEventIndex):
			return coffer.ErrEventActive
		case isUniqueViolation(err, ""):
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/postgres: create event: %w", err)
	}
	return nil
}

func (t *tx) LockActiveEvent(ctx context.Context) (*event.Event, error) {
	e, err := scanEvent(t.q.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM coffer_events WHERE status = $1 FOR UPDATE`, string(event.StatusActive)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coffer.ErrEventNotFound
		}
		return nil, fmt.Errorf("coffer/postgres: lock active event: %w", err)
	}
	return e, nil
}

func (t *tx) UpdateEvent(ctx context.Context, e *event.Event) error {
	tag, err := t.q.Exec(ctx, `
UPDATE coffer_events SET
    name = $2, pool_target = $3, current_pool = $4, reward_key = $5, status = $6,
    expires_at = $7, winner_workspace_id = $8, winner_user_id = $9, concluded_at = $10
WHERE id = $1`,
		e.ID.String(), e.Name, e.PoolTarget.Hundredths(), e.CurrentPool.Hundredths(), string(e.RewardKey),
		string(e.Status), e.ExpiresAt, optionalID(e.WinnerWorkspaceID), e.WinnerUserID, e.ConcludedAt,
	)
	if err != nil {
		return fmt.Errorf("coffer/postgres: update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s", coffer.ErrNotFound, e.ID)
	}
	return nil
}

func (t *tx) InsertContribution(ctx context.Context, c *event.Contribution) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO coffer_contributions (`+contributionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID.String(), c.EventID.String(), c.WorkspaceID.String(), c.UserID, c.Amount.Hundredths(),
		c.TransactionID.String(), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("coffer/postgres: insert contribution: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID id.ID) (*event.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM coffer_events WHERE id = $1`, eventID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: event %s", coffer.ErrNotFound, eventID)
		}
		return nil, fmt.Errorf("coffer/postgres: get event: %w", err)
	}
	return e, nil
}

func (s *Store) GetActiveEvent(ctx context.Context) (*event.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM coffer_events WHERE status = $1`, string(event.StatusActive)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coffer.ErrEventNotFound
		}
		return nil, fmt.Errorf("coffer/postgres: get active event: %w", err)
	}
	return e, nil
}

func (s *Store) ListContributions(ctx context.Context, eventID id.ID) ([]*event.Contribution, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+contributionColumns+` FROM coffer_contributions WHERE event_id = $1 ORDER BY seq`, eventID.String())
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: list contributions: %w", err)
	}
	result, err := collect(rows, scanContribution)
	if err != nil {
		return nil, fmt.Errorf("coffer/postgres: list contributions: %w", err)
	}
	return result, nil
}
