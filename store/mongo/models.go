package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

func parseID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ==================== Workspace models ====================

type workspaceModel struct {
	ID               string     `bson:"_id"`
	Name             string     `bson:"name"`
	Balance          int64      `bson:"balance"`
	PlanTier         string     `bson:"plan_tier"`
	ActionsUsed      int64      `bson:"actions_used"`
	OverageActions   int64      `bson:"overage_actions"`
	UsagePeriodStart time.Time  `bson:"usage_period_start"`
	GraceUntil       *time.Time `bson:"grace_until,omitempty"`
	LockVersion      int64      `bson:"lock_version"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

func toWorkspaceModel(w *workspace.Workspace) *workspaceModel {
	return &workspaceModel{
		ID:               w.ID.String(),
		Name:             w.Name,
		Balance:          w.Balance.Hundredths(),
		PlanTier:         w.PlanTier,
		ActionsUsed:      w.ActionsUsed,
		OverageActions:   w.OverageActions,
		UsagePeriodStart: w.UsagePeriodStart,
		GraceUntil:       w.GraceUntil,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
}

func fromWorkspaceModel(m *workspaceModel) (*workspace.Workspace, error) {
	wsID, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	return &workspace.Workspace{
		Entity:           types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:               wsID,
		Name:             m.Name,
		Balance:          types.Credits(m.Balance),
		PlanTier:         m.PlanTier,
		ActionsUsed:      m.ActionsUsed,
		OverageActions:   m.OverageActions,
		UsagePeriodStart: m.UsagePeriodStart.UTC(),
		GraceUntil:       utcPtr(m.GraceUntil),
	}, nil
}

// ==================== Transaction models ====================

type tributeModel struct {
	InstrumentID  string `bson:"instrument_id"`
	Tier          string `bson:"tier"`
	BoonKey       string `bson:"boon_key"`
	TributeAmount int64  `bson:"tribute_amount"`
	BoonAmount    int64  `bson:"boon_amount"`
	LuckWeight    string `bson:"luck_weight"`
	PsycheTag     string `bson:"psyche_tag,omitempty"`
	PityTriggered bool   `bson:"pity_triggered"`
}

type transactionModel struct {
	ID          string        `bson:"_id"`
	Seq         int64         `bson:"seq"`
	WorkspaceID string        `bson:"workspace_id"`
	Kind        string        `bson:"kind"`
	Amount      int64         `bson:"amount"`
	Description string        `bson:"description"`
	Status      string        `bson:"status"`
	UserID      string        `bson:"user_id,omitempty"`
	EventID     string        `bson:"event_id,omitempty"`
	ExternalRef string        `bson:"external_ref,omitempty"`
	Pending     bool          `bson:"pending"`
	Tribute     *tributeModel `bson:"tribute,omitempty"`
	Signature   string        `bson:"signature"`
	CreatedAt   time.Time     `bson:"created_at"`
	CompletedAt *time.Time    `bson:"completed_at,omitempty"`
}

func toTransactionModel(t *transaction.Transaction, seq int64) *transactionModel {
	m := &transactionModel{
		ID:          t.ID.String(),
		Seq:         seq,
		WorkspaceID: t.WorkspaceID.String(),
		Kind:        string(t.Kind),
		Amount:      t.Amount.Hundredths(),
		Description: t.Description,
		Status:      string(t.Status),
		UserID:      t.Refs.UserID,
		EventID:     t.Refs.EventID.String(),
		ExternalRef: t.Refs.ExternalRef,
		Pending:     t.Refs.Pending,
		Signature:   t.Signature,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
	if tr := t.Tribute; tr != nil {
		m.Tribute = &tributeModel{
			InstrumentID:  tr.InstrumentID,
			Tier:          tr.Tier,
			BoonKey:       tr.BoonKey,
			TributeAmount: tr.TributeAmount.Hundredths(),
			BoonAmount:    tr.BoonAmount.Hundredths(),
			LuckWeight:    tr.LuckWeight.String(),
			PsycheTag:     tr.PsycheTag,
			PityTriggered: tr.PityTriggered,
		}
	}
	return m
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	wsID, err := parseID(m.WorkspaceID)
	if err != nil {
		return nil, err
	}
	eventID, err := parseID(m.EventID)
	if err != nil {
		return nil, err
	}
	t := &transaction.Transaction{
		ID:          txID,
		WorkspaceID: wsID,
		Kind:        transaction.Kind(m.Kind),
		Amount:      types.Credits(m.Amount),
		Description: m.Description,
		Status:      transaction.Status(m.Status),
		Refs: transaction.Refs{
			UserID:      m.UserID,
			EventID:     eventID,
			ExternalRef: m.ExternalRef,
			Pending:     m.Pending,
		},
		Signature:   m.Signature,
		CreatedAt:   m.CreatedAt.UTC(),
		CompletedAt: utcPtr(m.CompletedAt),
	}
	if tr := m.Tribute; tr != nil {
		luck, err := decimal.NewFromString(tr.LuckWeight)
		if err != nil {
			return nil, fmt.Errorf("decode luck weight: %w", err)
		}
		t.Tribute = &transaction.Tribute{
			InstrumentID:  tr.InstrumentID,
			Tier:          tr.Tier,
			BoonKey:       tr.BoonKey,
			TributeAmount: types.Credits(tr.TributeAmount),
			BoonAmount:    types.Credits(tr.BoonAmount),
			LuckWeight:    luck,
			PsycheTag:     tr.PsycheTag,
			PityTriggered: tr.PityTriggered,
		}
	}
	return t, nil
}

// ==================== Tribute side models ====================

type pityModel struct {
	ID           string `bson:"_id"`
	WorkspaceID  string `bson:"workspace_id"`
	InstrumentID string `bson:"instrument_id"`
	Streak       int    `bson:"streak"`
}

func pityKey(wsID id.ID, instrumentID string) string {
	return wsID.String() + "|" + instrumentID
}

type effectModel struct {
	ID          string    `bson:"_id"`
	WorkspaceID string    `bson:"workspace_id"`
	Key         string    `bson:"key"`
	Source      string    `bson:"source"`
	UserID      string    `bson:"user_id,omitempty"`
	ExpiresAt   time.Time `bson:"expires_at"`
	CreatedAt   time.Time `bson:"created_at"`
}

func toEffectModel(e *effect.ActiveEffect) *effectModel {
	return &effectModel{
		ID:          e.ID.String(),
		WorkspaceID: e.WorkspaceID.String(),
		Key:         string(e.Key),
		Source:      string(e.Source),
		UserID:      e.UserID,
		ExpiresAt:   e.ExpiresAt,
		CreatedAt:   e.CreatedAt,
	}
}

func fromEffectModel(m *effectModel) (*effect.ActiveEffect, error) {
	effID, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	wsID, err := parseID(m.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return &effect.ActiveEffect{
		ID:          effID,
		WorkspaceID: wsID,
		Key:         effect.Key(m.Key),
		Source:      effect.Source(m.Source),
		UserID:      m.UserID,
		ExpiresAt:   m.ExpiresAt.UTC(),
		CreatedAt:   m.CreatedAt.UTC(),
	}, nil
}

type collectibleModel struct {
	ID            string    `bson:"_id"`
	Seq           int64     `bson:"seq"`
	WorkspaceID   string    `bson:"workspace_id"`
	CardID        string    `bson:"card_id"`
	InstrumentID  string    `bson:"instrument_id"`
	TransactionID string    `bson:"transaction_id"`
	CreatedAt     time.Time `bson:"created_at"`
}

func fromCollectibleModel(m *collectibleModel) (*rarity.Collectible, error) {
	cardID, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	wsID, err := parseID(m.WorkspaceID)
	if err != nil {
		return nil, err
	}
	txID, err := parseID(m.TransactionID)
	if err != nil {
		return nil, err
	}
	return &rarity.Collectible{
		ID:            cardID,
		WorkspaceID:   wsID,
		CardID:        m.CardID,
		InstrumentID:  m.InstrumentID,
		TransactionID: txID,
		CreatedAt:     m.CreatedAt.UTC(),
	}, nil
}

// ==================== Event models ====================

type eventModel struct {
	ID                string     `bson:"_id"`
	Name              string     `bson:"name"`
	PoolTarget        int64      `bson:"pool_target"`
	CurrentPool       int64      `bson:"current_pool"`
	RewardKey         string     `bson:"reward_key"`
	Status            string     `bson:"status"`
	ExpiresAt         time.Time  `bson:"expires_at"`
	CreatedAt         time.Time  `bson:"created_at"`
	WinnerWorkspaceID string     `bson:"winner_workspace_id,omitempty"`
	WinnerUserID      string     `bson:"winner_user_id,omitempty"`
	ConcludedAt       *time.Time `bson:"concluded_at,omitempty"`
	LockVersion       int64      `bson:"lock_version"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		ID:                e.ID.String(),
		Name:              e.Name,
		PoolTarget:        e.PoolTarget.Hundredths(),
		CurrentPool:       e.CurrentPool.Hundredths(),
		RewardKey:         string(e.RewardKey),
		Status:            string(e.Status),
		ExpiresAt:         e.ExpiresAt,
		CreatedAt:         e.CreatedAt,
		WinnerWorkspaceID: e.WinnerWorkspaceID.String(),
		WinnerUserID:      e.WinnerUserID,
		ConcludedAt:       e.ConcludedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	winner, err := parseID(m.WinnerWorkspaceID)
	if err != nil {
		return nil, err
	}
	return &event.Event{
		ID:                evtID,
		Name:              m.Name,
		PoolTarget:        types.Credits(m.PoolTarget),
		CurrentPool:       types.Credits(m.CurrentPool),
		RewardKey:         effect.Key(m.RewardKey),
		Status:            event.Status(m.Status),
		ExpiresAt:         m.ExpiresAt.UTC(),
		CreatedAt:         m.CreatedAt.UTC(),
		WinnerWorkspaceID: winner,
		WinnerUserID:      m.WinnerUserID,
		ConcludedAt:       utcPtr(m.ConcludedAt),
	}, nil
}

type contributionModel struct {
	ID            string    `bson:"_id"`
	Seq           int64     `bson:"seq"`
	EventID       string    `bson:"event_id"`
	WorkspaceID   string    `bson:"workspace_id"`
	UserID        string    `bson:"user_id"`
	Amount        int64     `bson:"amount"`
	TransactionID string    `bson:"transaction_id"`
	CreatedAt     time.Time `bson:"created_at"`
}

func fromContributionModel(m *contributionModel) (*event.Contribution, error) {
	ctrbID, err := parseID(m.ID)
	if err != nil {
		return nil, err
	}
	evtID, err := parseID(m.EventID)
	if err != nil {
		return nil, err
	}
	wsID, err := parseID(m.WorkspaceID)
	if err != nil {
		return nil, err
	}
	txID, err := parseID(m.TransactionID)
	if err != nil {
		return nil, err
	}
	return &event.Contribution{
		ID:            ctrbID,
		EventID:       evtID,
		WorkspaceID:   wsID,
		UserID:        m.UserID,
		Amount:        types.Credits(m.Amount),
		TransactionID: txID,
		CreatedAt:     m.CreatedAt.UTC(),
	}, nil
}

// convertAll maps decoded models to domain values.
func convertAll[M, T any](models []M, from func(*M) (T, error)) ([]T, error) {
	out := make([]T, 0, len(models))
	for i := range models {
		v, err := from(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
