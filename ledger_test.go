package coffer_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
)

func TestCreateWorkspaceLogsOpeningBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w := h.workspace(t, types.FromMajor(100))
	assert.Equal(t, "free", w.PlanTier)

	txns, err := h.c.GetWorkspaceTransactions(ctx, w.ID, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, transaction.KindCredit, txns[0].Kind)
	assert.Equal(t, types.FromMajor(100), txns[0].Amount)

	empty, err := h.c.CreateWorkspace(ctx, "empty", "pro", types.Zero)
	require.NoError(t, err)
	txns, err = h.c.GetWorkspaceTransactions(ctx, empty.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, txns)

	_, err = h.c.CreateWorkspace(ctx, "x", "platinum", types.Zero)
	assert.True(t, coffer.IsConfigurationError(err), "got %v", err)

	_, err = h.c.CreateWorkspace(ctx, " ", "free", types.Zero)
	assert.True(t, coffer.IsInvalidInput(err), "got %v", err)
}

func TestRecordTransactionValidation(t *testing.T) {
	h := newHarness(t)
	w := h.workspace(t, types.FromMajor(10))

	tests := []struct {
		name   string
		kind   transaction.Kind
		amount types.Credits
		refs   transaction.Refs
	}{
		{"zero credit", transaction.KindCredit, types.Zero, transaction.Refs{}},
		{"negative credit", transaction.KindCredit, types.FromMajor(-1), transaction.Refs{}},
		{"positive debit", transaction.KindDebit, types.FromMajor(1), transaction.Refs{}},
		{"pending debit", transaction.KindDebit, types.FromMajor(-1), transaction.Refs{Pending: true}},
		{"tribute", transaction.KindTribute, types.FromMajor(-1), transaction.Refs{}},
		{"unknown kind", transaction.Kind("REFUND"), types.FromMajor(1), transaction.Refs{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.c.RecordTransaction(context.Background(), w.ID, tt.kind, tt.amount, "", tt.refs)
			require.Error(t, err)
			assert.True(t, coffer.IsInvalidInput(err), "got %v", err)
		})
	}
	assert.Equal(t, types.FromMajor(10), h.balance(t, w.ID))
}

func TestRecordTransactionDebits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(10))

	_, err := h.c.RecordTransaction(ctx, w.ID, transaction.KindDebit, types.MustParseCredits("-10.01"), "too much", transaction.Refs{})
	require.ErrorIs(t, err, coffer.ErrInsufficientCredits)
	assert.Equal(t, types.FromMajor(10), h.balance(t, w.ID))

	t1, err := h.c.RecordTransaction(ctx, w.ID, transaction.KindDebit, types.FromMajor(-10), "exact", transaction.Refs{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCompleted, t1.Status)
	assert.NotNil(t, t1.CompletedAt)
	assert.Equal(t, types.Zero, h.balance(t, w.ID))

	_, err = h.c.RecordTransaction(ctx, id.NewWorkspaceID(), transaction.KindCredit, types.FromMajor(1), "", transaction.Refs{})
	assert.True(t, coffer.IsNotFound(err), "got %v", err)
}

func TestRecordTransactionRejectsOverflow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(10))

	_, err := h.c.RecordTransaction(ctx, w.ID, transaction.KindCredit, types.Credits(math.MaxInt64-100), "huge", transaction.Refs{})
	require.Error(t, err)
	assert.True(t, coffer.IsInvalidInput(err), "got %v", err)
	assert.ErrorIs(t, err, types.ErrOverflow)
	assert.Equal(t, types.FromMajor(10), h.balance(t, w.ID))

	txns, err := h.c.GetWorkspaceTransactions(ctx, w.ID, 0)
	require.NoError(t, err)
	assert.Len(t, txns, 1, "the rejected credit must not be logged")

	_, err = h.c.RecordTransaction(ctx, w.ID, transaction.KindDebit, types.Credits(math.MinInt64), "smallest", transaction.Refs{})
	require.ErrorIs(t, err, coffer.ErrInsufficientCredits)
	assert.Equal(t, types.FromMajor(10), h.balance(t, w.ID))
}

func TestFailPendingTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.Zero)
	other := h.workspace(t, types.Zero)

	pending, err := h.c.RecordTransaction(ctx, w.ID, transaction.KindCredit, types.FromMajor(30), "card", transaction.Refs{Pending: true})
	require.NoError(t, err)

	_, err = h.c.ConfirmPendingTransaction(ctx, pending.ID, other.ID)
	assert.True(t, coffer.IsNotFound(err), "confirming from another workspace: %v", err)

	failed, err := h.c.FailPendingTransaction(ctx, pending.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, failed.Status)
	assert.Equal(t, types.Zero, h.balance(t, w.ID))

	_, err = h.c.ConfirmPendingTransaction(ctx, pending.ID, w.ID)
	assert.True(t, coffer.IsInvalidState(err), "got %v", err)
	assert.Equal(t, types.Zero, h.balance(t, w.ID))

	completed, err := h.c.RecordTransaction(ctx, w.ID, transaction.KindCredit, types.FromMajor(5), "", transaction.Refs{})
	require.NoError(t, err)
	_, err = h.c.ConfirmPendingTransaction(ctx, completed.ID, w.ID)
	assert.ErrorIs(t, err, coffer.ErrNotPending)
}

func TestGetWorkspaceTransactionsLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.Zero)

	for i := 0; i < 60; i++ {
		_, err := h.c.RecordTransaction(ctx, w.ID, transaction.KindCredit, types.FromMajor(int64(i+1)), "", transaction.Refs{})
		require.NoError(t, err)
	}

	all, err := h.c.GetWorkspaceTransactions(ctx, w.ID, -1)
	require.NoError(t, err)
	assert.Len(t, all, transaction.DefaultListLimit)
	assert.Equal(t, types.FromMajor(60), all[0].Amount, "most recent first")

	few, err := h.c.GetWorkspaceTransactions(ctx, w.ID, 3)
	require.NoError(t, err)
	assert.Len(t, few, 3)
}

func TestVerifyTransactionDetectsTampering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(5))

	txn, err := h.c.RecordTransaction(ctx, w.ID, transaction.KindCredit, types.FromMajor(5), "gift", transaction.Refs{})
	require.NoError(t, err)
	require.NotEmpty(t, txn.Signature)
	assert.True(t, h.c.VerifyTransaction(ctx, txn))

	txn.Amount = types.FromMajor(500)
	assert.False(t, h.c.VerifyTransaction(ctx, txn))
	assert.False(t, h.c.VerifyTransaction(ctx, nil))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(20))

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, refused := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.c.RecordTransaction(ctx, w.ID, transaction.KindDebit, types.FromMajor(-1), "spend", transaction.Refs{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case coffer.IsInsufficientCredits(err):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, succeeded)
	assert.Equal(t, workers-20, refused)
	assert.Equal(t, types.Zero, h.balance(t, w.ID))

	debits, err := h.c.ListTransactions(ctx, w.ID, transaction.ListOpts{Kind: transaction.KindDebit, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, debits, 20)
}

func TestLogTributeEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(10))

	_, err := h.c.LogTributeEvent(ctx, coffer.TributeEntry{
		WorkspaceID: w.ID,
		Tribute:     transaction.Tribute{InstrumentID: "dice", Tier: "RARE", TributeAmount: types.FromMajor(11)},
	})
	require.ErrorIs(t, err, coffer.ErrInsufficientCredits)

	txn, err := h.c.LogTributeEvent(ctx, coffer.TributeEntry{
		WorkspaceID: w.ID,
		Tribute: transaction.Tribute{
			InstrumentID: "dice", Tier: "UNCOMMON", BoonKey: "refund",
			TributeAmount: types.FromMajor(10), BoonAmount: types.FromMajor(10),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, transaction.KindTribute, txn.Kind)
	assert.True(t, txn.Amount.IsZero())
	assert.Equal(t, types.FromMajor(10), h.balance(t, w.ID))
}
