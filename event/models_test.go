package event

import (
	"testing"
	"time"

	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/types"
)

func TestEventLifecycle(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	e := &Event{
		PoolTarget:  types.FromMajor(1000),
		CurrentPool: types.FromMajor(950),
		Status:      StatusActive,
		ExpiresAt:   now.Add(time.Hour),
	}

	if e.Expired(now) {
		t.Error("event should not be expired before its deadline")
	}
	if !e.Expired(now.Add(time.Hour)) {
		t.Error("event should be expired at its deadline")
	}
	if e.TargetReached() {
		t.Error("950 of 1000 should not reach target")
	}

	e.CurrentPool = e.CurrentPool.Add(types.FromMajor(60))
	if !e.TargetReached() {
		t.Error("1010 of 1000 should reach target")
	}

	winner := id.NewWorkspaceID()
	e.Conclude(now, winner, "user-1")
	if e.Status != StatusConcluded || e.WinnerWorkspaceID.String() != winner.String() || e.ConcludedAt == nil {
		t.Errorf("Conclude: got %+v", e)
	}
}
