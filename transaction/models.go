// Package transaction defines the immutable credit ledger entries.
package transaction

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/types"
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindCredit  Kind = "CREDIT"
	KindDebit   Kind = "DEBIT"
	KindTribute Kind = "TRIBUTE"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCredit, KindDebit, KindTribute:
		return true
	}
	return false
}

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Refs links a transaction to the caller's context.
type Refs struct {
	UserID      string `json:"user_id,omitempty"`
	EventID     id.ID  `json:"event_id,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`

	// Pending records a CREDIT that awaits external confirmation and does not
	// touch the balance until confirmed.
	Pending bool `json:"pending,omitempty"`
}

// Tribute captures the outcome of a tribute draw.
type Tribute struct {
	InstrumentID  string          `json:"instrument_id"`
	Tier          string          `json:"tier"`
	BoonKey       string          `json:"boon_key"`
	TributeAmount types.Credits   `json:"tribute_amount"`
	BoonAmount    types.Credits   `json:"boon_amount"`
	LuckWeight    decimal.Decimal `json:"luck_weight"`
	PsycheTag     string          `json:"psyche_tag,omitempty"`
	PityTriggered bool            `json:"pity_triggered,omitempty"`
}

// Transaction is a single ledger entry. Amount is signed: credits are
// positive, debits negative, tributes carry the net change.
type Transaction struct {
	ID          id.ID         `json:"id"`
	WorkspaceID id.ID         `json:"workspace_id"`
	Kind        Kind          `json:"kind"`
	Amount      types.Credits `json:"amount"`
	Description string        `json:"description"`
	Status      Status        `json:"status"`
	Refs        Refs          `json:"refs"`
	Tribute     *Tribute      `json:"tribute,omitempty"`
	Signature   string        `json:"signature,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// IsPendingCredit reports whether the transaction may be confirmed.
func (t *Transaction) IsPendingCredit() bool {
	return t.Status == StatusPending && t.Kind == KindCredit
}

// ListOpts filters a workspace's transaction history.
type ListOpts struct {
	Limit  int
	Kind   Kind
	Status Status
}

// Transaction list bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize clamps Limit into [1, MaxListLimit].
func (o ListOpts) Normalize() ListOpts {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultListLimit
	case o.Limit > MaxListLimit:
		o.Limit = MaxListLimit
	}
	return o
}
