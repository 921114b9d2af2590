package coffer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
)

func TestScenarioCommonTribute(t *testing.T) {
	h := newHarness(t)
	h.rng.vals = []int64{drawCommon, 0}
	w := h.workspace(t, types.FromMajor(100))
	ctx := context.Background()

	res, err := h.c.SubmitTribute(ctx, coffer.TributeRequest{
		WorkspaceID: w.ID, InstrumentID: "dice", Amount: types.FromMajor(25),
	})
	require.NoError(t, err)

	assert.Equal(t, rarity.Common, res.Tier)
	assert.Equal(t, "dust", res.Boon.Key)
	assert.Equal(t, types.Zero, res.Payout)
	assert.Equal(t, types.FromMajor(75), h.balance(t, w.ID))

	tributes, err := h.c.ListTransactions(ctx, w.ID, transaction.ListOpts{Kind: transaction.KindTribute})
	require.NoError(t, err)
	require.Len(t, tributes, 1)
	assert.Equal(t, types.FromMajor(-25), tributes[0].Amount)
	assert.Equal(t, rarity.PsycheBold, tributes[0].Tribute.PsycheTag)
}

func TestScenarioRareMultiplier(t *testing.T) {
	h := newHarness(t)
	h.rng.vals = []int64{drawRare, 0}
	w := h.workspace(t, types.FromMajor(100))
	ctx := context.Background()

	res, err := h.c.SubmitTribute(ctx, coffer.TributeRequest{
		WorkspaceID: w.ID, InstrumentID: "dice", Amount: types.FromMajor(25),
	})
	require.NoError(t, err)

	assert.Equal(t, rarity.Rare, res.Tier)
	assert.Equal(t, "quintuple", res.Boon.Key)
	assert.Equal(t, types.FromMajor(125), res.Payout)
	assert.Equal(t, types.FromMajor(100), res.NetChange)
	assert.Equal(t, types.FromMajor(200), h.balance(t, w.ID))

	tributes, err := h.c.ListTransactions(ctx, w.ID, transaction.ListOpts{Kind: transaction.KindTribute})
	require.NoError(t, err)
	require.Len(t, tributes, 1)
	assert.Equal(t, types.FromMajor(100), tributes[0].Amount)
	assert.True(t, h.c.VerifyTransaction(ctx, tributes[0]))
}

func TestScenarioEventWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other := h.workspace(t, types.FromMajor(2000))
	winner := h.workspace(t, types.FromMajor(100))

	e, err := h.c.CreateEvent(ctx, "harvest moon", types.FromMajor(1000), 24, effect.KeyChampionAura)
	require.NoError(t, err)

	_, err = h.c.ContributeToGlobalEvent(ctx, other.ID, "u-other", types.FromMajor(950))
	require.NoError(t, err)

	res, err := h.c.ContributeToGlobalEvent(ctx, winner.ID, "u-winner", types.FromMajor(60))
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.True(t, res.EventConcluded)
	assert.Equal(t, winner.ID.String(), res.Winner.String())
	assert.Equal(t, types.FromMajor(1010), res.Event.CurrentPool)
	require.NotNil(t, res.Reward)
	assert.Equal(t, effect.KeyChampionAura, res.Reward.Key)
	assert.True(t, res.Reward.ExpiresAt.After(h.clock.Now()))

	stored, err := h.c.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusConcluded, stored.Status)
	assert.Equal(t, winner.ID.String(), stored.WinnerWorkspaceID.String())
	assert.Equal(t, "u-winner", stored.WinnerUserID)

	active, err := h.c.IsEffectActive(ctx, winner.ID, effect.KeyChampionAura)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, types.FromMajor(40), h.balance(t, winner.ID))

	_, err = h.c.ContributeToGlobalEvent(ctx, other.ID, "u-other", types.FromMajor(1))
	assert.True(t, coffer.IsNotFound(err), "got %v", err)
}

func TestScenarioAllowanceOverage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(10))

	first, err := h.c.AuthorizeAgentActions(ctx, w.ID, 99)
	require.NoError(t, err)
	require.Equal(t, int64(99), first.Covered)
	require.True(t, first.Charged.IsZero())

	auth, err := h.c.AuthorizeAgentActions(ctx, w.ID, 5)
	require.NoError(t, err)

	assert.Equal(t, int64(1), auth.Covered)
	assert.Equal(t, int64(4), auth.Overage)
	assert.Equal(t, types.FromMajor(4), auth.Charged)
	assert.Equal(t, types.FromMajor(6), h.balance(t, w.ID))

	got, err := h.c.GetWorkspace(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ActionsUsed)
	assert.Equal(t, int64(4), got.OverageActions)

	debits, err := h.c.ListTransactions(ctx, w.ID, transaction.ListOpts{Kind: transaction.KindDebit})
	require.NoError(t, err)
	require.Len(t, debits, 1)
	assert.Equal(t, types.FromMajor(4), debits[0].Amount.Abs())
	assert.Equal(t, auth.TransactionID.String(), debits[0].ID.String())
}

func TestScenarioConfirmTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(10))

	pending, err := h.c.RecordTransaction(ctx, w.ID, transaction.KindCredit, types.FromMajor(50),
		"top-up", transaction.Refs{Pending: true, ExternalRef: "pi_123"})
	require.NoError(t, err)
	require.Equal(t, transaction.StatusPending, pending.Status)
	require.Equal(t, types.FromMajor(10), h.balance(t, w.ID))

	confirmed, err := h.c.ConfirmPendingTransaction(ctx, pending.ID, w.ID)
	require.NoError(t, err)
	require.Equal(t, transaction.StatusCompleted, confirmed.Status)
	require.Equal(t, types.FromMajor(60), h.balance(t, w.ID))

	_, err = h.c.ConfirmPendingTransaction(ctx, pending.ID, w.ID)
	require.Error(t, err)
	assert.True(t, coffer.IsInvalidState(err), "got %v", err)
	assert.Equal(t, types.FromMajor(60), h.balance(t, w.ID))

	stored, err := h.c.GetTransaction(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, h.c.VerifyTransaction(ctx, stored), "signature must survive confirmation")
}

func TestEventExpiresWithoutWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(100))

	e, err := h.c.CreateEvent(ctx, "dusk", types.FromMajor(1000), 1, effect.KeyLuckBoost)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Hour)

	_, err = h.c.ContributeToGlobalEvent(ctx, w.ID, "u", types.FromMajor(10))
	require.ErrorIs(t, err, coffer.ErrEventExpired)
	assert.True(t, coffer.IsInvalidState(err))
	assert.Equal(t, types.FromMajor(100), h.balance(t, w.ID))

	stored, err := h.c.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusConcluded, stored.Status)
	assert.True(t, stored.WinnerWorkspaceID.IsNil())

	_, err = h.c.GetActiveEvent(ctx)
	assert.ErrorIs(t, err, coffer.ErrEventNotFound)
}
