package observability

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/meter"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
)

type fakeMetric struct {
	mu     sync.Mutex
	total  float64
	values []float64
}

func (f *fakeMetric) Inc()              { f.Add(1) }
func (f *fakeMetric) Add(v float64)     { f.mu.Lock(); f.total += v; f.mu.Unlock() }
func (f *fakeMetric) Observe(v float64) { f.mu.Lock(); f.values = append(f.values, v); f.mu.Unlock() }

type fakeFactory struct {
	metrics map[string]*fakeMetric
}

func newFakeFactory() *fakeFactory { return &fakeFactory{metrics: map[string]*fakeMetric{}} }

func (f *fakeFactory) get(name string) *fakeMetric {
	m, ok := f.metrics[name]
	if !ok {
		m = &fakeMetric{}
		f.metrics[name] = m
	}
	return m
}

func (f *fakeFactory) Counter(name string) Counter     { return f.get(name) }
func (f *fakeFactory) Histogram(name string) Histogram { return f.get(name) }

func TestLedgerHooks(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	_ = m.OnTransactionRecorded(ctx, &transaction.Transaction{Status: transaction.StatusCompleted, Amount: types.FromMajor(49)})
	_ = m.OnTransactionRecorded(ctx, &transaction.Transaction{Status: transaction.StatusCompleted, Amount: types.FromMajor(-10)})
	_ = m.OnTransactionRecorded(ctx, &transaction.Transaction{Status: transaction.StatusPending, Amount: types.FromMajor(5)})
	_ = m.OnPendingSettled(ctx, &transaction.Transaction{Status: transaction.StatusCompleted, Amount: types.FromMajor(5)})
	_ = m.OnPendingSettled(ctx, &transaction.Transaction{Status: transaction.StatusFailed, Amount: types.FromMajor(7)})

	tests := []struct {
		metric string
		want   float64
	}{
		{"coffer.transaction.recorded", 3},
		{"coffer.credits.issued", 54},
		{"coffer.credits.spent", 10},
		{"coffer.transaction.confirmed", 1},
		{"coffer.transaction.failed", 1},
	}
	for _, tt := range tests {
		if got := f.get(tt.metric).total; got != tt.want {
			t.Errorf("%s = %v, want %v", tt.metric, got, tt.want)
		}
	}
}

func TestActionsGraceCountedSeparately(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	_ = m.OnActionsAuthorized(ctx, &meter.Authorization{Covered: 3, Overage: 2, Charged: types.FromMajor(2)})
	_ = m.OnActionsAuthorized(ctx, &meter.Authorization{Covered: 4, GraceApplied: true})

	if got := f.get("coffer.actions.covered").total; got != 3 {
		t.Errorf("covered = %v, want 3", got)
	}
	if got := f.get("coffer.actions.overage_charged").total; got != 2 {
		t.Errorf("overage charged = %v, want 2", got)
	}
	if got := f.get("coffer.actions.grace").total; got != 1 {
		t.Errorf("grace = %v, want 1", got)
	}
}

func TestTributeTiers(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	_ = m.OnTributeResolved(ctx, &transaction.Transaction{Tribute: &transaction.Tribute{
		Tier: "DIVINE", TributeAmount: types.FromMajor(25), PityTriggered: true,
	}})
	_ = m.OnTributeResolved(ctx, &transaction.Transaction{Tribute: &transaction.Tribute{
		Tier: "COMMON", TributeAmount: types.FromMajor(5),
	}})

	if got := f.get("coffer.tribute.tier.divine").total; got != 1 {
		t.Errorf("divine = %v, want 1", got)
	}
	if got := f.get("coffer.tribute.pity").total; got != 1 {
		t.Errorf("pity = %v, want 1", got)
	}
	if got := f.get("coffer.tribute.amount").values; len(got) != 2 || got[0] != 25 {
		t.Errorf("amounts = %v, want [25 5]", got)
	}
}

func TestEventOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	_ = m.OnEventConcluded(ctx, &event.Event{})
	_ = m.OnEventConcluded(ctx, &event.Event{WinnerWorkspaceID: id.NewWorkspaceID()})
	_ = m.OnEffectsSwept(ctx, 4, 3*time.Millisecond)

	if f.get("coffer.event.expired").total != 1 || f.get("coffer.event.won").total != 1 {
		t.Errorf("expired/won = %v/%v, want 1/1", f.get("coffer.event.expired").total, f.get("coffer.event.won").total)
	}
	if got := f.get("coffer.effect.swept").total; got != 4 {
		t.Errorf("swept = %v, want 4", got)
	}
}

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := NewPrometheusFactory(reg)

	c1 := f.Counter("coffer.tribute.tier.divine")
	c2 := f.Counter("coffer.tribute.tier.divine")
	c1.Inc()
	c2.Add(2)

	want := `
# HELP coffer_tribute_tier_divine_total Coffer coffer.tribute.tier.divine count.
# TYPE coffer_tribute_tier_divine_total counter
coffer_tribute_tier_divine_total 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "coffer_tribute_tier_divine_total"); err != nil {
		t.Fatal(err)
	}

	f.Histogram("coffer.effect.sweep.latency_ms").Observe(12)
	if n := testutil.CollectAndCount(f.histograms["coffer.effect.sweep.latency_ms"]); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

func TestPrometheusFactoryBacksExtension(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsExtension(NewPrometheusFactory(reg))

	_ = m.OnWorkspaceCreated(context.Background(), nil)

	n, err := testutil.GatherAndCount(reg, "coffer_workspace_created_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("series = %d, want 1", n)
	}
}
