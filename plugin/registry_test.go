package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/transaction"
)

type recorder struct {
	name      string
	recorded  atomic.Int32
	concluded atomic.Int32
	fail      bool
	block     time.Duration
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnTransactionRecorded(context.Context, *transaction.Transaction) error {
	if r.block > 0 {
		time.Sleep(r.block)
	}
	r.recorded.Add(1)
	if r.fail {
		return errors.New("recorder failed")
	}
	return nil
}

func (r *recorder) OnEventConcluded(context.Context, *event.Event) error {
	r.concluded.Add(1)
	return nil
}

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := quietRegistry()
	if err := r.Register(&recorder{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&recorder{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	if r.Get("a") == nil || r.Get("b") != nil {
		t.Error("Get returned unexpected plugin")
	}
}

func TestImplementedInterfaces(t *testing.T) {
	got := implementedInterfaces(&recorder{name: "a"})
	want := []string{"OnTransactionRecorded", "OnEventConcluded"}
	if len(got) != len(want) {
		t.Fatalf("interfaces = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("interfaces[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEmitContinuesPastFailures(t *testing.T) {
	r := quietRegistry()
	failing := &recorder{name: "failing", fail: true}
	ok := &recorder{name: "ok"}
	_ = r.Register(failing)
	_ = r.Register(ok)

	r.EmitTransactionRecorded(context.Background(), &transaction.Transaction{})
	r.EmitEventConcluded(context.Background(), &event.Event{})

	if failing.recorded.Load() != 1 || ok.recorded.Load() != 1 {
		t.Errorf("recorded = %d/%d, want 1/1", failing.recorded.Load(), ok.recorded.Load())
	}
	if ok.concluded.Load() != 1 {
		t.Errorf("concluded = %d, want 1", ok.concluded.Load())
	}
}

func TestEmitTimesOutSlowPlugin(t *testing.T) {
	r := quietRegistry().WithTimeout(20 * time.Millisecond)
	slow := &recorder{name: "slow", block: time.Second}
	_ = r.Register(slow)

	start := time.Now()
	r.EmitTransactionRecorded(context.Background(), &transaction.Transaction{})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("emit took %s, want it bounded by the hook timeout", elapsed)
	}
}
