package effect

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/coffer/types"
)

// Definition prices and parameterises an effect kind.
type Definition struct {
	Key      Key           `json:"key"`
	Name     string        `json:"name"`
	Cost     types.Credits `json:"cost"`
	Duration time.Duration `json:"duration"`

	// LuckBoost multiplies RARE and MYTHIC draw weights while active.
	// Zero means the effect does not influence draws.
	LuckBoost decimal.Decimal `json:"luck_boost"`
}

// Validate checks a single definition.
func (d Definition) Validate() error {
	switch {
	case d.Key == "":
		return errors.New("effect: key is required")
	case d.Cost.IsNegative():
		return fmt.Errorf("effect %q: cost must not be negative", d.Key)
	case d.Duration <= 0:
		return fmt.Errorf("effect %q: duration must be positive", d.Key)
	case d.LuckBoost.IsNegative():
		return fmt.Errorf("effect %q: luck boost must not be negative", d.Key)
	case !d.LuckBoost.IsZero() && d.LuckBoost.LessThan(decimal.NewFromInt(1)):
		return fmt.Errorf("effect %q: luck boost must be at least 1", d.Key)
	}
	return nil
}

// Registry is the catalog of purchasable and grantable effects. Built-in
// kinds are always known; other keys must be registered explicitly.
type Registry struct {
	mu   sync.RWMutex
	defs map[Key]Definition
}

// NewRegistry returns a registry preloaded with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[Key]Definition, len(BuiltinKeys))}
	for _, d := range builtinDefinitions() {
		r.defs[d.Key] = d
	}
	return r
}

func builtinDefinitions() []Definition {
	return []Definition{
		{Key: KeyLuckBoost, Name: "Luck Boost", Cost: types.FromMajor(50), Duration: time.Hour, LuckBoost: decimal.NewFromInt(2)},
		{Key: KeyFocusMode, Name: "Focus Mode", Cost: types.FromMajor(20), Duration: 2 * time.Hour},
		{Key: KeyPriorityQueue, Name: "Priority Queue", Cost: types.FromMajor(30), Duration: 24 * time.Hour},
		{Key: KeyChampionAura, Name: "Champion Aura", Cost: types.FromMajor(500), Duration: 72 * time.Hour, LuckBoost: decimal.RequireFromString("1.5")},
	}
}

// Register adds or replaces a definition.
func (r *Registry) Register(d Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.Key] = d
	return nil
}

// Lookup returns the definition for key.
func (r *Registry) Lookup(key Key) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[key]
	return d, ok
}

// Has reports whether key is registered.
func (r *Registry) Has(key Key) bool {
	_, ok := r.Lookup(key)
	return ok
}

// List returns all definitions sorted by key.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LuckWeight combines the boosts of the given active effects. Boosts
// multiply; the neutral weight is 1.
func (r *Registry) LuckWeight(active []*ActiveEffect) decimal.Decimal {
	weight := decimal.NewFromInt(1)
	for _, a := range active {
		if d, ok := r.Lookup(a.Key); ok && !d.LuckBoost.IsZero() {
			weight = weight.Mul(d.LuckBoost)
		}
	}
	return weight
}
