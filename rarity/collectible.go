package rarity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/types"
)

// Collectible records a card granted by a card boon.
type Collectible struct {
	ID            id.ID     `json:"id"`
	WorkspaceID   id.ID     `json:"workspace_id"`
	CardID        string    `json:"card_id"`
	InstrumentID  string    `json:"instrument_id"`
	TransactionID id.ID     `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Psyche tags describe how much of the balance a tribute risked.
const (
	PsycheMeasured = "measured"
	PsycheBold     = "bold"
	PsycheReckless = "reckless"
)

var (
	measuredShare = decimal.RequireFromString("0.2")
	boldShare     = decimal.RequireFromString("0.5")
)

// PsycheTag classifies a tribute by its share of the pre-tribute balance:
// under 20% is measured, under 50% bold, anything more reckless.
func PsycheTag(tribute, balance types.Credits) string {
	if !balance.IsPositive() {
		return PsycheReckless
	}
	switch share := tribute.Decimal().Div(balance.Decimal()); {
	case share.LessThan(measuredShare):
		return PsycheMeasured
	case share.LessThan(boldShare):
		return PsycheBold
	default:
		return PsycheReckless
	}
}
