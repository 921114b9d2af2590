// Package store defines the persistence contract for Coffer.
//
// Every balance-affecting operation runs inside Store.Atomic. The callback
// receives a Tx whose methods see and lock rows for the lifetime of the
// unit; returning an error rolls the whole unit back.
package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// Store is the unified storage interface for all Coffer entities.
type Store interface {
	// Atomic runs fn in a single read-committed (or stronger) transaction.
	// Concurrent-modification failures surface as coffer.ErrStorageConflict.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Workspace reads
	GetWorkspace(ctx context.Context, wsID id.ID) (*workspace.Workspace, error)

	// Transaction reads
	GetTransaction(ctx context.Context, txID id.ID) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, wsID id.ID, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	// Effect reads and pruning
	ListEffects(ctx context.Context, wsID id.ID) ([]*effect.ActiveEffect, error)
	PruneExpiredEffects(ctx context.Context, wsID id.ID, now time.Time) (int64, error)

	// Collectible reads
	ListCollectibles(ctx context.Context, wsID id.ID) ([]*rarity.Collectible, error)

	// Event reads
	GetEvent(ctx context.Context, eventID id.ID) (*event.Event, error)
	GetActiveEvent(ctx context.Context) (*event.Event, error)
	ListContributions(ctx context.Context, eventID id.ID) ([]*event.Contribution, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside an atomic unit.
type Tx interface {
	// Workspaces
	CreateWorkspace(ctx context.Context, w *workspace.Workspace) error
	// LockWorkspace reads the workspace and holds its row lock until the
	// unit ends.
	LockWorkspace(ctx context.Context, wsID id.ID) (*workspace.Workspace, error)
	// AdjustBalance adds delta to the balance. A negative delta is applied
	// only if the balance stays non-negative; otherwise it returns
	// coffer.ErrInsufficientCredits and changes nothing.
	AdjustBalance(ctx context.Context, wsID id.ID, delta types.Credits) (types.Credits, error)
	// UpdateWorkspace persists every field except Balance.
	UpdateWorkspace(ctx context.Context, w *workspace.Workspace) error

	// Transactions
	InsertTransaction(ctx context.Context, t *transaction.Transaction) error
	GetTransaction(ctx context.Context, txID id.ID) (*transaction.Transaction, error)
	// CompletePending moves a PENDING CREDIT owned by wsID to status.
	// It returns coffer.ErrNotPending when no such row exists in that state.
	CompletePending(ctx context.Context, txID, wsID id.ID, status transaction.Status, at time.Time) error

	// Tribute side effects
	GetPityStreak(ctx context.Context, wsID id.ID, instrumentID string) (int, error)
	SetPityStreak(ctx context.Context, wsID id.ID, instrumentID string, streak int) error
	InsertEffect(ctx context.Context, e *effect.ActiveEffect) error
	InsertCollectible(ctx context.Context, c *rarity.Collectible) error

	// Events
	// CreateEvent returns coffer.ErrEventActive if another event is ACTIVE.
	CreateEvent(ctx context.Context, e *event.Event) error
	// LockActiveEvent returns the ACTIVE event with its row locked, or
	// coffer.ErrEventNotFound.
	LockActiveEvent(ctx context.Context) (*event.Event, error)
	UpdateEvent(ctx context.Context, e *event.Event) error
	InsertContribution(ctx context.Context, c *event.Contribution) error
}

// BalanceBounds returns the inclusive range a balance must lie in for
// delta to apply without dropping below zero or overflowing. The range is
// empty when no balance can absorb delta.
func BalanceBounds(delta types.Credits) (lo, hi int64) {
	d := delta.Hundredths()
	if d == math.MinInt64 {
		return 1, 0
	}
	lo, hi = -d, math.MaxInt64
	if d > 0 {
		hi -= d
	}
	return lo, hi
}

// OverflowError describes a credit that would push balance past the
// largest representable amount.
func OverflowError(balance, delta types.Credits) error {
	return fmt.Errorf("balance %s + %s: %w", balance, delta, types.ErrOverflow)
}
