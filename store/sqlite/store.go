// Package sqlite implements store.Store on an embedded SQLite database using
// the pure-Go modernc.org/sqlite driver.
//
// Every unit of work opens an IMMEDIATE transaction, so writers queue on the
// database lock for up to the busy timeout. A lock that cannot be acquired
// surfaces as coffer.ErrStorageConflict.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/internal/sqlmigrate"
	"github.com/xraph/coffer/rarity"
	cofferstore "github.com/xraph/coffer/store"
	"github.com/xraph/coffer/store/sqlite/migrations"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// compile-time interface checks
var (
	_ cofferstore.Store = (*Store)(nil)
	_ cofferstore.Tx    = (*tx)(nil)
)

const migrationTable = "coffer_schema_migrations"

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file at path. Call Migrate before use.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("coffer/sqlite: storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("coffer/sqlite: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies each embedded migration not yet recorded, one
// transaction per file.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := sqlmigrate.Load(migrations.FS)
	if err != nil {
		return fmt.Errorf("coffer/sqlite: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name       TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("coffer/sqlite: ensure migration table: %w", err)
	}

	for _, m := range files {
		var found int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+migrationTable+` WHERE name = ?`, m.Name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("coffer/sqlite: check migration %s: %w", m.Name, err)
		}

		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("coffer/sqlite: begin migration %s: %w", m.Name, err)
		}
		if _, err := sqlTx.ExecContext(ctx, m.Up); err != nil && !sqlmigrate.IsAlreadyExists(err) {
			_ = sqlTx.Rollback()
			return fmt.Errorf("coffer/sqlite: exec migration %s: %w", m.Name, err)
		}
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			m.Name, toMillis(time.Now()),
		); err != nil {
			_ = sqlTx.Rollback()
			return fmt.Errorf("coffer/sqlite: record migration %s: %w", m.Name, err)
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("coffer/sqlite: commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ==================== Unit of work ====================

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx cofferstore.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("coffer/sqlite: begin: %w", classify(err))
	}
	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("coffer/sqlite: commit: %w", classify(err))
	}
	return nil
}

type tx struct {
	q *sql.Tx
}

// classify maps lock contention to coffer.ErrStorageConflict.
func classify(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", coffer.ErrStorageConflict, err)
		}
	}
	return err
}

// isUniqueViolation reports a UNIQUE or PRIMARY KEY failure, optionally
// restricted to the named table.column.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	if !strings.Contains(message, "unique constraint failed") {
		var sqliteErr *msqlite.Error
		if !errors.As(err, &sqliteErr) {
			return false
		}
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		default:
			return false
		}
	}
	return column == "" || strings.Contains(message, column)
}

// ==================== Workspace Store ====================

func (t *tx) CreateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO coffer_workspaces (`+workspaceColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID.String(), w.Name, w.Balance.Hundredths(), w.PlanTier, w.ActionsUsed, w.OverageActions,
		toMillis(w.UsagePeriodStart), optionalMillis(w.GraceUntil), toMillis(w.CreatedAt), toMillis(w.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/sqlite: create workspace: %w", err)
	}
	return nil
}

func (t *tx) LockWorkspace(ctx context.Context, wsID id.ID) (*workspace.Workspace, error) {
	w, err := scanWorkspace(t.q.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM coffer_workspaces WHERE id = ?`, wsID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coffer.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("coffer/sqlite: lock workspace: %w", err)
	}
	return w, nil
}

func (t *tx) AdjustBalance(ctx context.Context, wsID id.ID, delta types.Credits) (types.Credits, error) {
	lo, hi := cofferstore.BalanceBounds(delta)
	var balance int64
	err := t.q.QueryRowContext(ctx, `
UPDATE coffer_workspaces SET balance = balance + ?1
WHERE id = ?2 AND balance BETWEEN ?3 AND ?4
RETURNING balance`, delta.Hundredths(), wsID.String(), lo, hi).Scan(&balance)
	if err == nil {
		return types.Credits(balance), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("coffer/sqlite: adjust balance: %w", err)
	}

	var current int64
	lookup := t.q.QueryRowContext(ctx, `SELECT balance FROM coffer_workspaces WHERE id = ?`, wsID.String()).Scan(&current)
	switch {
	case errors.Is(lookup, sql.ErrNoRows):
		return 0, coffer.ErrWorkspaceNotFound
	case lookup != nil:
		return 0, fmt.Errorf("coffer/sqlite: adjust balance: %w", lookup)
	}
	if delta.IsPositive() {
		return types.Credits(current), fmt.Errorf("%w: %w", coffer.ErrInvalidInput, cofferstore.OverflowError(types.Credits(current), delta))
	}
	return types.Credits(current), coffer.ErrInsufficientCredits
}

func (t *tx) UpdateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	res, err := t.q.ExecContext(ctx, `
UPDATE coffer_workspaces SET
    name = ?, plan_tier = ?, actions_used = ?, overage_actions = ?,
    usage_period_start = ?, grace_until = ?, updated_at = ?
WHERE id = ?`,
		w.Name, w.PlanTier, w.ActionsUsed, w.OverageActions,
		toMillis(w.UsagePeriodStart), optionalMillis(w.GraceUntil), toMillis(w.UpdatedAt), w.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("coffer/sqlite: update workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coffer.ErrWorkspaceNotFound
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, wsID id.ID) (*workspace.Workspace, error) {
	w, err := scanWorkspace(s.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM coffer_workspaces WHERE id = ?`, wsID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coffer.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("coffer/sqlite: get workspace: %w", err)
	}
	return w, nil
}

// ==================== Transaction Store ====================

func (t *tx) InsertTransaction(ctx context.Context, txn *transaction.Transaction) error {
	tribute, err := encodeTribute(txn.Tribute)
	if err != nil {
		return fmt.Errorf("coffer/sqlite: encode tribute: %w", err)
	}
	_, err = t.q.ExecContext(ctx, `
INSERT INTO coffer_transactions (`+transactionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID.String(), txn.WorkspaceID.String(), string(txn.Kind), txn.Amount.Hundredths(),
		txn.Description, string(txn.Status), txn.Refs.UserID, optionalID(txn.Refs.EventID),
		txn.Refs.ExternalRef, txn.Refs.Pending, tribute, txn.Signature,
		toMillis(txn.CreatedAt), optionalMillis(txn.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "coffer_transactions.id") {
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/sqlite: insert transaction: %w", err)
	}
	return nil
}

func (t *tx) GetTransaction(ctx context.Context, txID id.ID) (*transaction.Transaction, error) {
	return getTransaction(t.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM coffer_transactions WHERE id = ?`, txID.String()))
}

func (t *tx) CompletePending(ctx context.Context, txID, wsID id.ID, status transaction.Status, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
UPDATE coffer_transactions SET status = ?, completed_at = ?
WHERE id = ? AND workspace_id = ? AND status = ? AND kind = ?`,
		string(status), toMillis(at), txID.String(), wsID.String(),
		string(transaction.StatusPending), string(transaction.KindCredit),
	)
	if err != nil {
		return fmt.Errorf("coffer/sqlite: complete pending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coffer.ErrNotPending
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txID id.ID) (*transaction.Transaction, error) {
	return getTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM coffer_transactions WHERE id = ?`, txID.String()))
}

func getTransaction(row *sql.Row) (*transaction.Transaction, error) {
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coffer.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("coffer/sqlite: get transaction: %w", err)
	}
	return txn, nil
}

func (s *Store) ListTransactions(ctx context.Context, wsID id.ID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	opts = opts.Normalize()

	query := `SELECT ` + transactionColumns + ` FROM coffer_transactions WHERE workspace_id = ?`
	args := []any{wsID.String()}
	if opts.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(opts.Kind))
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: list transactions: %w", err)
	}
	result, err := collect(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: list transactions: %w", err)
	}
	return result, nil
}

// ==================== Tribute Side Tables ====================

func (t *tx) GetPityStreak(ctx context.Context, wsID id.ID, instrumentID string) (int, error) {
	var streak int
	err := t.q.QueryRowContext(ctx,
		`SELECT streak FROM coffer_pity WHERE workspace_id = ? AND instrument_id = ?`,
		wsID.String(), instrumentID).Scan(&streak)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("coffer/sqlite: get pity streak: %w", err)
	}
	return streak, nil
}

func (t *tx) SetPityStreak(ctx context.Context, wsID id.ID, instrumentID string, streak int) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO coffer_pity (workspace_id, instrument_id, streak) VALUES (?, ?, ?)
ON CONFLICT (workspace_id, instrument_id) DO UPDATE SET streak = excluded.streak`,
		wsID.String(), instrumentID, streak)
	if err != nil {
		return fmt.Errorf("coffer/sqlite: set pity streak: %w", err)
	}
	return nil
}

func (t *tx) InsertEffect(ctx context.Context, e *effect.ActiveEffect) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO coffer_effects (`+effectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.WorkspaceID.String(), string(e.Key), string(e.Source), e.UserID,
		toMillis(e.ExpiresAt), toMillis(e.CreatedAt))
	if err != nil {
		if isUniqueViolation(err, "coffer_effects.id") {
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/sqlite: insert effect: %w", err)
	}
	return nil
}

func (t *tx) InsertCollectible(ctx context.Context, c *rarity.Collectible) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO coffer_collectibles (`+collectibleColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.WorkspaceID.String(), c.CardID, c.InstrumentID, c.TransactionID.String(),
		toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("coffer/sqlite: insert collectible: %w", err)
	}
	return nil
}

func (s *Store) ListEffects(ctx context.Context, wsID id.ID) ([]*effect.ActiveEffect, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+effectColumns+` FROM coffer_effects WHERE workspace_id = ? ORDER BY expires_at, id`, wsID.String())
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: list effects: %w", err)
	}
	result, err := collect(rows, scanEffect)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: list effects: %w", err)
	}
	return result, nil
}

func (s *Store) PruneExpiredEffects(ctx context.Context, wsID id.ID, now time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if wsID.IsNil() {
		res, err = s.db.ExecContext(ctx, `DELETE FROM coffer_effects WHERE expires_at <= ?`, toMillis(now))
	} else {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM coffer_effects WHERE workspace_id = ? AND expires_at <= ?`, wsID.String(), toMillis(now))
	}
	if err != nil {
		return 0, fmt.Errorf("coffer/sqlite: prune effects: %w", classify(err))
	}
	return res.RowsAffected()
}

func (s *Store) ListCollectibles(ctx context.Context, wsID id.ID) ([]*rarity.Collectible, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+collectibleColumns+` FROM coffer_collectibles WHERE workspace_id = ? ORDER BY seq`, wsID.String())
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: list collectibles: %w", err)
	}
	result, err := collect(rows, scanCollectible)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: list collectibles: %w", err)
	}
	return result, nil
}

// ==================== Event Store ====================

func (t *tx) CreateEvent(ctx context.Context, e *event.Event) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO coffer_events (`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Name, e.PoolTarget.Hundredths(), e.CurrentPool.Hundredths(), string(e.RewardKey),
		string(e.Status), toMillis(e.ExpiresAt), toMillis(e.CreatedAt),
		optionalID(e.WinnerWorkspaceID), e.WinnerUserID, optionalMillis(e.ConcludedAt),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "coffer_events.status"):
			return coffer.ErrEventActive
		case isUniqueViolation(err, ""):
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/sqlite: create event: %w", err)
	}
	return nil
}

func (t *tx) LockActiveEvent(ctx context.Context) (*event.Event, error) {
	e, err := scanEvent(t.q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM coffer_events WHERE status = ?`, string(event.StatusActive)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coffer.ErrEventNotFound
		}
		return nil, fmt.Errorf("coffer/sqlite: lock active event: %w", err)
	}
	return e, nil
}

func (t *tx) UpdateEvent(ctx context.Context, e *event.Event) error {
	res, err := t.q.ExecContext(ctx, `
UPDATE coffer_events SET
    name = ?, pool_target = ?, current_pool = ?, reward_key = ?, status = ?,
    expires_at = ?, winner_workspace_id = ?, winner_user_id = ?, concluded_at = ?
WHERE id = ?`,
		e.Name, e.PoolTarget.Hundredths(), e.CurrentPool.Hundredths(), string(e.RewardKey), string(e.Status),
		toMillis(e.ExpiresAt), optionalID(e.WinnerWorkspaceID), e.WinnerUserID, optionalMillis(e.ConcludedAt),
		e.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("coffer/sqlite: update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: event %s", coffer.ErrNotFound, e.ID)
	}
	return nil
}

func (t *tx) InsertContribution(ctx context.Context, c *event.Contribution) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO coffer_contributions (`+contributionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.EventID.String(), c.WorkspaceID.String(), c.UserID, c.Amount.Hundredths(),
		c.TransactionID.String(), toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("coffer/sqlite: insert contribution: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID id.ID) (*event.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM coffer_events WHERE id = ?`, eventID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: event %s", coffer.ErrNotFound, eventID)
		}
		return nil, fmt.Errorf("coffer/sqlite: get event: %w", err)
	}
	return e, nil
}

func (s *Store) GetActiveEvent(ctx context.Context) (*event.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM coffer_events WHERE status = ?`, string(event.StatusActive)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coffer.ErrEventNotFound
		}
		return nil, fmt.Errorf("coffer/sqlite: get active event: %w", err)
	}
	return e, nil
}

func (s *Store) ListContributions(ctx context.Context, eventID id.ID) ([]*event.Contribution, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+contributionColumns+` FROM coffer_contributions WHERE event_id = ? ORDER BY seq`, eventID.String())
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: list contributions: %w", err)
	}
	result, err := collect(rows, scanContribution)
	if err != nil {
		return nil, fmt.Errorf("coffer/sqlite: list contributions: %w", err)
	}
	return result, nil
}
