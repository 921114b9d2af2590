// Package observability provides a metrics extension for Coffer that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/meter"
	"github.com/xraph/coffer/plugin"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnWorkspaceCreated    = (*MetricsExtension)(nil)
	_ plugin.OnTransactionRecorded = (*MetricsExtension)(nil)
	_ plugin.OnPendingSettled      = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientCredits = (*MetricsExtension)(nil)
	_ plugin.OnActionsAuthorized   = (*MetricsExtension)(nil)
	_ plugin.OnTributeResolved     = (*MetricsExtension)(nil)
	_ plugin.OnEffectActivated     = (*MetricsExtension)(nil)
	_ plugin.OnEffectsSwept        = (*MetricsExtension)(nil)
	_ plugin.OnEventCreated        = (*MetricsExtension)(nil)
	_ plugin.OnContribution        = (*MetricsExtension)(nil)
	_ plugin.OnEventConcluded      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Coffer plugin to track economy metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	WorkspaceCreated     Counter
	TransactionsRecorded Counter
	CreditsIssued        Counter
	CreditsSpent         Counter
	PendingConfirmed     Counter
	PendingFailed        Counter
	InsufficientCredits  Counter

	// Billing metrics
	ActionsCovered Counter
	ActionsOverage Counter
	OverageCharged Counter
	GraceApplied   Counter

	// Tribute metrics
	TributesResolved Counter
	TributeTiers     map[rarity.Tier]Counter
	PityTriggered    Counter
	TributeAmount    Histogram

	// Effect metrics
	EffectsActivated Counter
	EffectsSwept     Counter
	SweepLatency     Histogram

	// Global event metrics
	EventsCreated      Counter
	Contributions      Counter
	ContributionAmount Histogram
	EventsWon          Counter
	EventsExpired      Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	m := &MetricsExtension{
		factory: factory,

		// Ledger metrics
		WorkspaceCreated:     factory.Counter("coffer.workspace.created"),
		TransactionsRecorded: factory.Counter("coffer.transaction.recorded"),
		CreditsIssued:        factory.Counter("coffer.credits.issued"),
		CreditsSpent:         factory.Counter("coffer.credits.spent"),
		PendingConfirmed:     factory.Counter("coffer.transaction.confirmed"),
		PendingFailed:        factory.Counter("coffer.transaction.failed"),
		InsufficientCredits:  factory.Counter("coffer.credits.refused"),

		// Billing metrics
		ActionsCovered: factory.Counter("coffer.actions.covered"),
		ActionsOverage: factory.Counter("coffer.actions.overage"),
		OverageCharged: factory.Counter("coffer.actions.overage_charged"),
		GraceApplied:   factory.Counter("coffer.actions.grace"),

		// Tribute metrics
		TributesResolved: factory.Counter("coffer.tribute.resolved"),
		TributeTiers:     make(map[rarity.Tier]Counter, len(rarity.Tiers)),
		PityTriggered:    factory.Counter("coffer.tribute.pity"),
		TributeAmount:    factory.Histogram("coffer.tribute.amount"),

		// Effect metrics
		EffectsActivated: factory.Counter("coffer.effect.activated"),
		EffectsSwept:     factory.Counter("coffer.effect.swept"),
		SweepLatency:     factory.Histogram("coffer.effect.sweep.latency_ms"),

		// Global event metrics
		EventsCreated:      factory.Counter("coffer.event.created"),
		Contributions:      factory.Counter("coffer.event.contributions"),
		ContributionAmount: factory.Histogram("coffer.event.contribution.amount"),
		EventsWon:          factory.Counter("coffer.event.won"),
		EventsExpired:      factory.Counter("coffer.event.expired"),
	}
	for _, t := range rarity.Tiers {
		m.TributeTiers[t] = factory.Counter("coffer.tribute.tier." + strings.ToLower(string(t)))
	}
	return m
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

func major(c types.Credits) float64 {
	f, _ := c.Abs().Decimal().Float64()
	return f
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnWorkspaceCreated implements plugin.OnWorkspaceCreated.
func (m *MetricsExtension) OnWorkspaceCreated(_ context.Context, _ *workspace.Workspace) error {
	m.WorkspaceCreated.Inc()
	return nil
}

// OnTransactionRecorded implements plugin.OnTransactionRecorded.
func (m *MetricsExtension) OnTransactionRecorded(_ context.Context, t *transaction.Transaction) error {
	m.TransactionsRecorded.Inc()
	if t.Status != transaction.StatusCompleted {
		return nil
	}
	switch {
	case t.Amount.IsPositive():
		m.CreditsIssued.Add(major(t.Amount))
	case t.Amount.IsNegative():
		m.CreditsSpent.Add(major(t.Amount))
	}
	return nil
}

// OnPendingSettled implements plugin.OnPendingSettled.
func (m *MetricsExtension) OnPendingSettled(_ context.Context, t *transaction.Transaction) error {
	if t.Status == transaction.StatusCompleted {
		m.PendingConfirmed.Inc()
		m.CreditsIssued.Add(major(t.Amount))
		return nil
	}
	m.PendingFailed.Inc()
	return nil
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (m *MetricsExtension) OnInsufficientCredits(_ context.Context, _, _ string, _ types.Credits) error {
	m.InsufficientCredits.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnActionsAuthorized implements plugin.OnActionsAuthorized.
func (m *MetricsExtension) OnActionsAuthorized(_ context.Context, auth *meter.Authorization) error {
	if auth.GraceApplied {
		m.GraceApplied.Inc()
		return nil
	}
	m.ActionsCovered.Add(float64(auth.Covered))
	m.ActionsOverage.Add(float64(auth.Overage))
	m.OverageCharged.Add(major(auth.Charged))
	return nil
}

// ──────────────────────────────────────────────────
// Tribute hooks
// ──────────────────────────────────────────────────

// OnTributeResolved implements plugin.OnTributeResolved.
func (m *MetricsExtension) OnTributeResolved(_ context.Context, t *transaction.Transaction) error {
	m.TributesResolved.Inc()
	if t.Tribute == nil {
		return nil
	}
	if c, ok := m.TributeTiers[rarity.Tier(t.Tribute.Tier)]; ok {
		c.Inc()
	}
	if t.Tribute.PityTriggered {
		m.PityTriggered.Inc()
	}
	m.TributeAmount.Observe(major(t.Tribute.TributeAmount))
	return nil
}

// ──────────────────────────────────────────────────
// Effect hooks
// ──────────────────────────────────────────────────

// OnEffectActivated implements plugin.OnEffectActivated.
func (m *MetricsExtension) OnEffectActivated(_ context.Context, _ *effect.ActiveEffect) error {
	m.EffectsActivated.Inc()
	return nil
}

// OnEffectsSwept implements plugin.OnEffectsSwept.
func (m *MetricsExtension) OnEffectsSwept(_ context.Context, count int64, elapsed time.Duration) error {
	m.EffectsSwept.Add(float64(count))
	m.SweepLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Global event hooks
// ──────────────────────────────────────────────────

// OnEventCreated implements plugin.OnEventCreated.
func (m *MetricsExtension) OnEventCreated(_ context.Context, _ *event.Event) error {
	m.EventsCreated.Inc()
	return nil
}

// OnContribution implements plugin.OnContribution.
func (m *MetricsExtension) OnContribution(_ context.Context, c *event.Contribution) error {
	m.Contributions.Inc()
	m.ContributionAmount.Observe(major(c.Amount))
	return nil
}

// OnEventConcluded implements plugin.OnEventConcluded.
func (m *MetricsExtension) OnEventConcluded(_ context.Context, e *event.Event) error {
	if e.WinnerWorkspaceID.IsNil() {
		m.EventsExpired.Inc()
		return nil
	}
	m.EventsWon.Inc()
	return nil
}
