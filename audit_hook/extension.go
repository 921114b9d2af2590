// Package audithook bridges Coffer lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any audit backend. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/meter"
	"github.com/xraph/coffer/plugin"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnWorkspaceCreated    = (*Extension)(nil)
	_ plugin.OnTransactionRecorded = (*Extension)(nil)
	_ plugin.OnPendingSettled      = (*Extension)(nil)
	_ plugin.OnInsufficientCredits = (*Extension)(nil)
	_ plugin.OnActionsAuthorized   = (*Extension)(nil)
	_ plugin.OnTributeResolved     = (*Extension)(nil)
	_ plugin.OnEffectActivated     = (*Extension)(nil)
	_ plugin.OnEffectsSwept        = (*Extension)(nil)
	_ plugin.OnEventCreated        = (*Extension)(nil)
	_ plugin.OnContribution        = (*Extension)(nil)
	_ plugin.OnEventConcluded      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral audit record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// NewLogRecorder returns a Recorder that writes each audit event as a
// structured log line.
func NewLogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		if evt.Severity != SeverityInfo {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "audit",
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"category", evt.Category,
			"outcome", evt.Outcome,
			"metadata", evt.Metadata,
		)
		return nil
	})
}

// Extension bridges Coffer lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnWorkspaceCreated implements plugin.OnWorkspaceCreated.
func (e *Extension) OnWorkspaceCreated(ctx context.Context, w *workspace.Workspace) error {
	return e.record(ctx, ActionWorkspaceCreated, SeverityInfo, OutcomeSuccess,
		ResourceWorkspace, w.ID.String(), CategoryLedger, nil,
		"name", w.Name,
		"plan", w.PlanTier,
		"balance", w.Balance.String(),
	)
}

// OnTransactionRecorded implements plugin.OnTransactionRecorded.
func (e *Extension) OnTransactionRecorded(ctx context.Context, t *transaction.Transaction) error {
	return e.record(ctx, ActionTransactionRecorded, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, t.ID.String(), CategoryLedger, nil,
		"workspace_id", t.WorkspaceID.String(),
		"kind", string(t.Kind),
		"amount", t.Amount.String(),
		"status", string(t.Status),
		"signature", t.Signature,
	)
}

// OnPendingSettled implements plugin.OnPendingSettled.
func (e *Extension) OnPendingSettled(ctx context.Context, t *transaction.Transaction) error {
	action, outcome := ActionPendingConfirmed, OutcomeSuccess
	if t.Status == transaction.StatusFailed {
		action, outcome = ActionPendingFailed, OutcomeFailure
	}
	return e.record(ctx, action, SeverityInfo, outcome,
		ResourceTransaction, t.ID.String(), CategoryLedger, nil,
		"workspace_id", t.WorkspaceID.String(),
		"amount", t.Amount.String(),
		"external_ref", t.Refs.ExternalRef,
	)
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (e *Extension) OnInsufficientCredits(ctx context.Context, workspaceID, operation string, requested types.Credits) error {
	return e.record(ctx, ActionCreditsRefused, SeverityWarning, OutcomeFailure,
		ResourceWorkspace, workspaceID, CategoryLedger, nil,
		"operation", operation,
		"requested", requested.String(),
	)
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnActionsAuthorized implements plugin.OnActionsAuthorized.
func (e *Extension) OnActionsAuthorized(ctx context.Context, auth *meter.Authorization) error {
	action := ActionActionsAuthorized
	if auth.GraceApplied {
		action = ActionGraceApplied
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceAllowance, auth.WorkspaceID.String(), CategoryBilling, nil,
		"requested", auth.Requested,
		"covered", auth.Covered,
		"overage", auth.Overage,
		"charged", auth.Charged.String(),
	)
}

// ──────────────────────────────────────────────────
// Reward hooks
// ──────────────────────────────────────────────────

// OnTributeResolved implements plugin.OnTributeResolved.
func (e *Extension) OnTributeResolved(ctx context.Context, t *transaction.Transaction) error {
	if t.Tribute == nil {
		return nil
	}
	action, severity := ActionTributeResolved, SeverityInfo
	if t.Tribute.PityTriggered {
		action, severity = ActionPityTriggered, SeverityWarning
	}
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceTransaction, t.ID.String(), CategoryReward, nil,
		"workspace_id", t.WorkspaceID.String(),
		"instrument", t.Tribute.InstrumentID,
		"tier", t.Tribute.Tier,
		"boon", t.Tribute.BoonKey,
		"tribute", t.Tribute.TributeAmount.String(),
		"payout", t.Tribute.BoonAmount.String(),
		"luck", t.Tribute.LuckWeight.String(),
	)
}

// OnEffectActivated implements plugin.OnEffectActivated.
func (e *Extension) OnEffectActivated(ctx context.Context, a *effect.ActiveEffect) error {
	return e.record(ctx, ActionEffectActivated, SeverityInfo, OutcomeSuccess,
		ResourceEffect, a.ID.String(), CategoryReward, nil,
		"workspace_id", a.WorkspaceID.String(),
		"effect", string(a.Key),
		"source", string(a.Source),
		"expires_at", a.ExpiresAt,
	)
}

// OnEffectsSwept implements plugin.OnEffectsSwept. Empty sweeps are not
// recorded.
func (e *Extension) OnEffectsSwept(ctx context.Context, count int64, elapsed time.Duration) error {
	if count == 0 {
		return nil
	}
	return e.record(ctx, ActionEffectsSwept, SeverityInfo, OutcomeSuccess,
		ResourceEffect, "", CategoryReward, nil,
		"count", count,
		"elapsed", elapsed.String(),
	)
}

// ──────────────────────────────────────────────────
// Global event hooks
// ──────────────────────────────────────────────────

// OnEventCreated implements plugin.OnEventCreated.
func (e *Extension) OnEventCreated(ctx context.Context, ev *event.Event) error {
	return e.record(ctx, ActionEventCreated, SeverityInfo, OutcomeSuccess,
		ResourceEvent, ev.ID.String(), CategoryEvent, nil,
		"name", ev.Name,
		"target", ev.PoolTarget.String(),
		"reward", string(ev.RewardKey),
		"expires_at", ev.ExpiresAt,
	)
}

// OnContribution implements plugin.OnContribution.
func (e *Extension) OnContribution(ctx context.Context, c *event.Contribution) error {
	return e.record(ctx, ActionContribution, SeverityInfo, OutcomeSuccess,
		ResourceContribution, c.ID.String(), CategoryEvent, nil,
		"event_id", c.EventID.String(),
		"workspace_id", c.WorkspaceID.String(),
		"amount", c.Amount.String(),
	)
}

// OnEventConcluded implements plugin.OnEventConcluded.
func (e *Extension) OnEventConcluded(ctx context.Context, ev *event.Event) error {
	if ev.WinnerWorkspaceID.IsNil() {
		return e.record(ctx, ActionEventExpired, SeverityWarning, OutcomePartial,
			ResourceEvent, ev.ID.String(), CategoryEvent, nil,
			"pool", ev.CurrentPool.String(),
			"target", ev.PoolTarget.String(),
		)
	}
	return e.record(ctx, ActionEventWon, SeverityInfo, OutcomeSuccess,
		ResourceEvent, ev.ID.String(), CategoryEvent, nil,
		"winner", ev.WinnerWorkspaceID.String(),
		"winner_user", ev.WinnerUserID,
		"pool", ev.CurrentPool.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
