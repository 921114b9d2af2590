// Package effect defines time-bound workspace modifiers and the catalog
// that prices them.
package effect

import (
	"time"

	"github.com/xraph/coffer/id"
)

// Key names an effect kind.
type Key string

// Built-in effect kinds.
const (
	KeyLuckBoost     Key = "luck_boost"
	KeyFocusMode     Key = "focus_mode"
	KeyPriorityQueue Key = "priority_queue"
	KeyChampionAura  Key = "champion_aura"
)

// BuiltinKeys lists the built-in kinds in declaration order.
var BuiltinKeys = []Key{KeyLuckBoost, KeyFocusMode, KeyPriorityQueue, KeyChampionAura}

// Builtin reports whether k is one of the built-in kinds.
func (k Key) Builtin() bool {
	switch k {
	case KeyLuckBoost, KeyFocusMode, KeyPriorityQueue, KeyChampionAura:
		return true
	}
	return false
}

// Source records how an effect was obtained.
type Source string

const (
	SourcePurchase Source = "purchase"
	SourceTribute  Source = "tribute"
	SourceEvent    Source = "event"
)

// ActiveEffect is a granted modifier. It is never reported active at or
// after ExpiresAt.
type ActiveEffect struct {
	ID          id.ID     `json:"id"`
	WorkspaceID id.ID     `json:"workspace_id"`
	Key         Key       `json:"key"`
	Source      Source    `json:"source"`
	UserID      string    `json:"user_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActiveAt reports whether the effect is in force at now.
func (e *ActiveEffect) ActiveAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// FilterActive drops expired entries.
func FilterActive(effects []*ActiveEffect, now time.Time) []*ActiveEffect {
	out := effects[:0:0]
	for _, e := range effects {
		if e.ActiveAt(now) {
			out = append(out, e)
		}
	}
	return out
}
