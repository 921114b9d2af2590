// Package event defines the global pooled event shared by all workspaces.
package event

import (
	"time"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/types"
)

// Status is the lifecycle state of an event. CONCLUDED is terminal.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusConcluded Status = "CONCLUDED"
)

// Event is a pooled contribution target. At most one event is ACTIVE.
type Event struct {
	ID          id.ID         `json:"id"`
	Name        string        `json:"name"`
	PoolTarget  types.Credits `json:"pool_target"`
	CurrentPool types.Credits `json:"current_pool"`
	RewardKey   effect.Key    `json:"reward_key"`
	Status      Status        `json:"status"`
	ExpiresAt   time.Time     `json:"expires_at"`
	CreatedAt   time.Time     `json:"created_at"`

	WinnerWorkspaceID id.ID      `json:"winner_workspace_id,omitempty"`
	WinnerUserID      string     `json:"winner_user_id,omitempty"`
	ConcludedAt       *time.Time `json:"concluded_at,omitempty"`
}

// Expired reports whether the event deadline has passed.
func (e *Event) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TargetReached reports whether the pool has met its target.
func (e *Event) TargetReached() bool {
	return e.CurrentPool >= e.PoolTarget
}

// Conclude moves the event to its terminal state. winner may be id.Nil
// when the event expired without reaching its target.
func (e *Event) Conclude(now time.Time, winner id.ID, userID string) {
	t := now.UTC()
	e.Status = StatusConcluded
	e.ConcludedAt = &t
	e.WinnerWorkspaceID = winner
	e.WinnerUserID = userID
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	c := *e
	if e.ConcludedAt != nil {
		t := *e.ConcludedAt
		c.ConcludedAt = &t
	}
	return &c
}

// Contribution is an append-only record of a pooled-event debit.
type Contribution struct {
	ID            id.ID         `json:"id"`
	EventID       id.ID         `json:"event_id"`
	WorkspaceID   id.ID         `json:"workspace_id"`
	UserID        string        `json:"user_id"`
	Amount        types.Credits `json:"amount"`
	TransactionID id.ID         `json:"transaction_id"`
	CreatedAt     time.Time     `json:"created_at"`
}
