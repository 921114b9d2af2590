package coffer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/plan"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
)

func TestAuthorizeRejectsNonPositiveCount(t *testing.T) {
	h := newHarness(t)
	w := h.workspace(t, types.FromMajor(10))

	for _, n := range []int64{0, -3} {
		_, err := h.c.AuthorizeAgentActions(context.Background(), w.ID, n)
		assert.True(t, coffer.IsInvalidInput(err), "count %d: %v", n, err)
	}
}

func TestAuthorizeInsufficientAppliesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(2))

	_, err := h.c.AuthorizeAgentActions(ctx, w.ID, 98)
	require.NoError(t, err)

	_, err = h.c.AuthorizeAgentActions(ctx, w.ID, 10)
	require.ErrorIs(t, err, coffer.ErrInsufficientCredits)

	got, err := h.c.GetWorkspace(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(98), got.ActionsUsed, "allowance must not be consumed on a refused overage")
	assert.Equal(t, types.FromMajor(2), got.Balance)
}

func TestAllowanceReportsTotalActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(10))

	auth, err := h.c.AuthorizeAgentActions(ctx, w.ID, 103)
	require.NoError(t, err)
	assert.Equal(t, int64(3), auth.Overage)

	allowance, err := h.c.GetAllowance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), allowance.Used)
	assert.Equal(t, int64(3), allowance.OverageActions)
	assert.Equal(t, int64(103), allowance.TotalActions)
	assert.Zero(t, allowance.Remaining)
}

func TestAuthorizeMonthRollover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.Zero)

	_, err := h.c.AuthorizeAgentActions(ctx, w.ID, 100)
	require.NoError(t, err)

	h.clock.Advance(31 * 24 * time.Hour)
	auth, err := h.c.AuthorizeAgentActions(ctx, w.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), auth.Covered)
	assert.True(t, auth.Charged.IsZero())

	allowance, err := h.c.GetAllowance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), allowance.Used)
	assert.Equal(t, int64(97), allowance.Remaining)
	assert.Equal(t, types.MonthStart(h.clock.Now()), allowance.PeriodStart)
}

func TestAuthorizeGracePeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.Zero)

	_, err := h.c.SetGracePeriod(ctx, w.ID, h.clock.Now().Add(time.Hour))
	require.NoError(t, err)

	auth, err := h.c.AuthorizeAgentActions(ctx, w.ID, 500)
	require.NoError(t, err)
	assert.True(t, auth.GraceApplied)
	assert.True(t, auth.Charged.IsZero())

	got, err := h.c.GetWorkspace(ctx, w.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ActionsUsed)

	h.clock.Advance(2 * time.Hour)
	_, err = h.c.AuthorizeAgentActions(ctx, w.ID, 101)
	assert.ErrorIs(t, err, coffer.ErrInsufficientCredits)
}

func TestAuthorizeUnlimitedPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.Zero)

	_, err := h.c.ChangePlan(ctx, w.ID, "enterprise")
	require.NoError(t, err)

	auth, err := h.c.AuthorizeAgentActions(ctx, w.ID, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), auth.Covered)
	assert.Zero(t, auth.Overage)

	allowance, err := h.c.GetAllowance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.Unlimited, allowance.Remaining)

	_, err = h.c.ChangePlan(ctx, w.ID, "diamond")
	assert.True(t, coffer.IsConfigurationError(err))
}

func TestAuthorizeConcurrentCallsShareAllowance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(1000))

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.c.AuthorizeAgentActions(ctx, w.ID, 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := h.c.GetWorkspace(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ActionsUsed)
	assert.Equal(t, int64(100), got.OverageActions)
	assert.Equal(t, types.FromMajor(900), got.Balance)

	debits, err := h.c.ListTransactions(ctx, w.ID, transaction.ListOpts{Kind: transaction.KindDebit, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, debits, 20)
}
