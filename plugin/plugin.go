// Package plugin provides an extensible plugin system for Coffer.
// Plugins hook into lifecycle events after the owning atomic unit has
// committed; a failing or slow plugin never affects a settlement.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/meter"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnWorkspaceCreated is called after a workspace is onboarded.
type OnWorkspaceCreated interface {
	Plugin
	OnWorkspaceCreated(ctx context.Context, w *workspace.Workspace) error
}

// OnTransactionRecorded is called for every committed ledger row,
// including PENDING credits.
type OnTransactionRecorded interface {
	Plugin
	OnTransactionRecorded(ctx context.Context, t *transaction.Transaction) error
}

// OnPendingSettled is called when a PENDING credit is confirmed or failed.
type OnPendingSettled interface {
	Plugin
	OnPendingSettled(ctx context.Context, t *transaction.Transaction) error
}

// OnInsufficientCredits is called when a debit is refused.
type OnInsufficientCredits interface {
	Plugin
	OnInsufficientCredits(ctx context.Context, workspaceID, operation string, requested types.Credits) error
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnActionsAuthorized is called after agent actions are metered.
type OnActionsAuthorized interface {
	Plugin
	OnActionsAuthorized(ctx context.Context, auth *meter.Authorization) error
}

// ──────────────────────────────────────────────────
// Tribute hooks
// ──────────────────────────────────────────────────

// OnTributeResolved is called with the settled TRIBUTE row. Draw details
// are on t.Tribute.
type OnTributeResolved interface {
	Plugin
	OnTributeResolved(ctx context.Context, t *transaction.Transaction) error
}

// ──────────────────────────────────────────────────
// Effect hooks
// ──────────────────────────────────────────────────

// OnEffectActivated is called when an effect is granted by any source.
type OnEffectActivated interface {
	Plugin
	OnEffectActivated(ctx context.Context, e *effect.ActiveEffect) error
}

// OnEffectsSwept is called after expired effects are pruned.
type OnEffectsSwept interface {
	Plugin
	OnEffectsSwept(ctx context.Context, count int64, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Global event hooks
// ──────────────────────────────────────────────────

// OnEventCreated is called when a pooled event opens.
type OnEventCreated interface {
	Plugin
	OnEventCreated(ctx context.Context, e *event.Event) error
}

// OnContribution is called after a contribution commits.
type OnContribution interface {
	Plugin
	OnContribution(ctx context.Context, c *event.Contribution) error
}

// OnEventConcluded is called once per event, with or without a winner.
type OnEventConcluded interface {
	Plugin
	OnEventConcluded(ctx context.Context, e *event.Event) error
}
