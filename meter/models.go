// Package meter describes agent-action metering results.
package meter

import (
	"time"

	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/types"
)

// Authorization is the outcome of authorizing a batch of agent actions.
type Authorization struct {
	WorkspaceID   id.ID         `json:"workspace_id"`
	Requested     int64         `json:"requested"`
	Covered       int64         `json:"covered"`
	Overage       int64         `json:"overage"`
	Charged       types.Credits `json:"charged"`
	GraceApplied  bool          `json:"grace_applied"`
	TransactionID id.ID         `json:"transaction_id,omitempty"`
}

// Allowance is a read-only view of a workspace's current usage period.
// Used never exceeds Limit; TotalActions adds the billed overage.
type Allowance struct {
	WorkspaceID    id.ID     `json:"workspace_id"`
	PlanTier       string    `json:"plan_tier"`
	Limit          int64     `json:"limit"`
	Used           int64     `json:"used"`
	Remaining      int64     `json:"remaining"`
	OverageActions int64     `json:"overage_actions"`
	TotalActions   int64     `json:"total_actions"`
	PeriodStart    time.Time `json:"period_start"`
	GraceActive    bool      `json:"grace_active"`
}
