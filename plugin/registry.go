package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/meter"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// DefaultTimeout bounds a single hook invocation.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook lists are cached per interface at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onWorkspaceCreated    []OnWorkspaceCreated
	onTransactionRecorded []OnTransactionRecorded
	onPendingSettled      []OnPendingSettled
	onInsufficientCredits []OnInsufficientCredits
	onActionsAuthorized   []OnActionsAuthorized
	onTributeResolved     []OnTributeResolved
	onEffectActivated     []OnEffectActivated
	onEffectsSwept        []OnEffectsSwept
	onEventCreated        []OnEventCreated
	onContribution        []OnContribution
	onEventConcluded      []OnEventConcluded
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout overrides the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnWorkspaceCreated); ok {
		r.onWorkspaceCreated = append(r.onWorkspaceCreated, v)
	}
	if v, ok := p.(OnTransactionRecorded); ok {
		r.onTransactionRecorded = append(r.onTransactionRecorded, v)
	}
	if v, ok := p.(OnPendingSettled); ok {
		r.onPendingSettled = append(r.onPendingSettled, v)
	}
	if v, ok := p.(OnInsufficientCredits); ok {
		r.onInsufficientCredits = append(r.onInsufficientCredits, v)
	}
	if v, ok := p.(OnActionsAuthorized); ok {
		r.onActionsAuthorized = append(r.onActionsAuthorized, v)
	}
	if v, ok := p.(OnTributeResolved); ok {
		r.onTributeResolved = append(r.onTributeResolved, v)
	}
	if v, ok := p.(OnEffectActivated); ok {
		r.onEffectActivated = append(r.onEffectActivated, v)
	}
	if v, ok := p.(OnEffectsSwept); ok {
		r.onEffectsSwept = append(r.onEffectsSwept, v)
	}
	if v, ok := p.(OnEventCreated); ok {
		r.onEventCreated = append(r.onEventCreated, v)
	}
	if v, ok := p.(OnContribution); ok {
		r.onContribution = append(r.onContribution, v)
	}
	if v, ok := p.(OnEventConcluded); ok {
		r.onEventConcluded = append(r.onEventConcluded, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookInterfaces = []struct {
	name  string
	iface reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnWorkspaceCreated", reflect.TypeFor[OnWorkspaceCreated]()},
	{"OnTransactionRecorded", reflect.TypeFor[OnTransactionRecorded]()},
	{"OnPendingSettled", reflect.TypeFor[OnPendingSettled]()},
	{"OnInsufficientCredits", reflect.TypeFor[OnInsufficientCredits]()},
	{"OnActionsAuthorized", reflect.TypeFor[OnActionsAuthorized]()},
	{"OnTributeResolved", reflect.TypeFor[OnTributeResolved]()},
	{"OnEffectActivated", reflect.TypeFor[OnEffectActivated]()},
	{"OnEffectsSwept", reflect.TypeFor[OnEffectsSwept]()},
	{"OnEventCreated", reflect.TypeFor[OnEventCreated]()},
	{"OnContribution", reflect.TypeFor[OnContribution]()},
	{"OnEventConcluded", reflect.TypeFor[OnEventConcluded]()},
}

// implementedInterfaces returns the hook names p implements.
func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookInterfaces {
		if v.Implements(h.iface) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// dispatch invokes call for every plugin in hooks, logging failures.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, call func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	dispatch(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitWorkspaceCreated emits a workspace created event.
func (r *Registry) EmitWorkspaceCreated(ctx context.Context, w *workspace.Workspace) {
	dispatch(ctx, r, "OnWorkspaceCreated", snapshot(r, &r.onWorkspaceCreated), func(p OnWorkspaceCreated) error {
		return p.OnWorkspaceCreated(ctx, w)
	})
}

// EmitTransactionRecorded emits a transaction recorded event.
func (r *Registry) EmitTransactionRecorded(ctx context.Context, t *transaction.Transaction) {
	dispatch(ctx, r, "OnTransactionRecorded", snapshot(r, &r.onTransactionRecorded), func(p OnTransactionRecorded) error {
		return p.OnTransactionRecorded(ctx, t)
	})
}

// EmitPendingSettled emits a pending settled event.
func (r *Registry) EmitPendingSettled(ctx context.Context, t *transaction.Transaction) {
	dispatch(ctx, r, "OnPendingSettled", snapshot(r, &r.onPendingSettled), func(p OnPendingSettled) error {
		return p.OnPendingSettled(ctx, t)
	})
}

// EmitInsufficientCredits emits a refused debit event.
func (r *Registry) EmitInsufficientCredits(ctx context.Context, workspaceID, operation string, requested types.Credits) {
	dispatch(ctx, r, "OnInsufficientCredits", snapshot(r, &r.onInsufficientCredits), func(p OnInsufficientCredits) error {
		return p.OnInsufficientCredits(ctx, workspaceID, operation, requested)
	})
}

// EmitActionsAuthorized emits an actions authorized event.
func (r *Registry) EmitActionsAuthorized(ctx context.Context, auth *meter.Authorization) {
	dispatch(ctx, r, "OnActionsAuthorized", snapshot(r, &r.onActionsAuthorized), func(p OnActionsAuthorized) error {
		return p.OnActionsAuthorized(ctx, auth)
	})
}

// EmitTributeResolved emits a tribute resolved event.
func (r *Registry) EmitTributeResolved(ctx context.Context, t *transaction.Transaction) {
	dispatch(ctx, r, "OnTributeResolved", snapshot(r, &r.onTributeResolved), func(p OnTributeResolved) error {
		return p.OnTributeResolved(ctx, t)
	})
}

// EmitEffectActivated emits an effect activated event.
func (r *Registry) EmitEffectActivated(ctx context.Context, e *effect.ActiveEffect) {
	dispatch(ctx, r, "OnEffectActivated", snapshot(r, &r.onEffectActivated), func(p OnEffectActivated) error {
		return p.OnEffectActivated(ctx, e)
	})
}

// EmitEffectsSwept emits an effects swept event.
func (r *Registry) EmitEffectsSwept(ctx context.Context, count int64, elapsed time.Duration) {
	dispatch(ctx, r, "OnEffectsSwept", snapshot(r, &r.onEffectsSwept), func(p OnEffectsSwept) error {
		return p.OnEffectsSwept(ctx, count, elapsed)
	})
}

// EmitEventCreated emits an event created event.
func (r *Registry) EmitEventCreated(ctx context.Context, e *event.Event) {
	dispatch(ctx, r, "OnEventCreated", snapshot(r, &r.onEventCreated), func(p OnEventCreated) error {
		return p.OnEventCreated(ctx, e)
	})
}

// EmitContribution emits a contribution event.
func (r *Registry) EmitContribution(ctx context.Context, c *event.Contribution) {
	dispatch(ctx, r, "OnContribution", snapshot(r, &r.onContribution), func(p OnContribution) error {
		return p.OnContribution(ctx, c)
	})
}

// EmitEventConcluded emits an event concluded event.
func (r *Registry) EmitEventConcluded(ctx context.Context, e *event.Event) {
	dispatch(ctx, r, "OnEventConcluded", snapshot(r, &r.onEventConcluded), func(p OnEventConcluded) error {
		return p.OnEventConcluded(ctx, e)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins never block the settlement path.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
