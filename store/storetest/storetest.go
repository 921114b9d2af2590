// Package storetest is a conformance suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// Opener returns an empty, migrated store. The suite closes it.
type Opener func(t *testing.T) store.Store

var errBoom = errors.New("storetest: boom")

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"WorkspaceRoundTrip", testWorkspaceRoundTrip},
		{"DuplicateWorkspace", testDuplicateWorkspace},
		{"AdjustBalanceGuards", testAdjustBalanceGuards},
		{"UpdateWorkspaceKeepsBalance", testUpdateWorkspaceKeepsBalance},
		{"RollbackOnError", testRollbackOnError},
		{"TransactionRoundTrip", testTransactionRoundTrip},
		{"ListTransactions", testListTransactions},
		{"CompletePendingOnce", testCompletePendingOnce},
		{"PityStreak", testPityStreak},
		{"Effects", testEffects},
		{"Collectibles", testCollectibles},
		{"SingleActiveEvent", testSingleActiveEvent},
		{"Contributions", testContributions},
		{"ConcurrentDebits", testConcurrentDebits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func now() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func atomically(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := s.Atomic(context.Background(), fn); err != nil {
		t.Fatalf("atomic: %v", err)
	}
}

func seedWorkspace(t *testing.T, s store.Store, balance types.Credits) *workspace.Workspace {
	t.Helper()
	w := &workspace.Workspace{
		Entity:           types.NewEntity(now()),
		ID:               id.NewWorkspaceID(),
		Name:             "acme",
		Balance:          balance,
		PlanTier:         "free",
		UsagePeriodStart: types.MonthStart(now()),
	}
	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateWorkspace(ctx, w)
	})
	return w
}

func newTxn(wsID id.ID, kind transaction.Kind, amount types.Credits, at time.Time) *transaction.Transaction {
	done := at
	return &transaction.Transaction{
		ID:          id.NewTransactionID(),
		WorkspaceID: wsID,
		Kind:        kind,
		Amount:      amount,
		Description: string(kind),
		Status:      transaction.StatusCompleted,
		Signature:   "deadbeef",
		CreatedAt:   at,
		CompletedAt: &done,
	}
}

func seedTxn(t *testing.T, s store.Store, txn *transaction.Transaction) {
	t.Helper()
	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransaction(ctx, txn)
	})
}

func balanceOf(t *testing.T, s store.Store, wsID id.ID) types.Credits {
	t.Helper()
	w, err := s.GetWorkspace(context.Background(), wsID)
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	return w.Balance
}

func newEvent(at time.Time) *event.Event {
	return &event.Event{
		ID:         id.NewEventID(),
		Name:       "Harvest",
		PoolTarget: types.FromMajor(1000),
		RewardKey:  effect.KeyChampionAura,
		Status:     event.StatusActive,
		ExpiresAt:  at.Add(24 * time.Hour),
		CreatedAt:  at,
	}
}

// ──────────────────────────────────────────────────
// Workspaces
// ──────────────────────────────────────────────────

func testWorkspaceRoundTrip(t *testing.T, s store.Store) {
	grace := now().Add(48 * time.Hour)
	w := &workspace.Workspace{
		Entity:           types.NewEntity(now()),
		ID:               id.NewWorkspaceID(),
		Name:             "round-trip",
		Balance:          types.MustParseCredits("12.34"),
		PlanTier:         "pro",
		ActionsUsed:      7,
		OverageActions:   2,
		UsagePeriodStart: types.MonthStart(now()),
		GraceUntil:       &grace,
	}
	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateWorkspace(ctx, w)
	})

	got, err := s.GetWorkspace(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if got.ID.String() != w.ID.String() || got.Name != w.Name || got.PlanTier != w.PlanTier {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.Balance != w.Balance || got.ActionsUsed != 7 || got.OverageActions != 2 {
		t.Errorf("counters mismatch: balance=%s used=%d overage=%d", got.Balance, got.ActionsUsed, got.OverageActions)
	}
	if !got.UsagePeriodStart.Equal(w.UsagePeriodStart) || !got.CreatedAt.Equal(w.CreatedAt) {
		t.Errorf("timestamps mismatch: %v / %v", got.UsagePeriodStart, got.CreatedAt)
	}
	if got.GraceUntil == nil || !got.GraceUntil.Equal(grace) {
		t.Errorf("grace mismatch: %v", got.GraceUntil)
	}

	if _, err := s.GetWorkspace(context.Background(), id.NewWorkspaceID()); !errors.Is(err, coffer.ErrWorkspaceNotFound) {
		t.Errorf("missing workspace: expected ErrWorkspaceNotFound, got %v", err)
	}
}

func testDuplicateWorkspace(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, 0)
	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateWorkspace(ctx, w)
	})
	if !errors.Is(err, coffer.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func testAdjustBalanceGuards(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, types.FromMajor(10))

	tests := []struct {
		name    string
		delta   types.Credits
		wantErr error
		want    types.Credits
	}{
		{"Deposit", types.FromMajor(5), nil, types.FromMajor(15)},
		{"Exact debit", types.FromMajor(-15), nil, 0},
		{"Overdraft", types.MustParseCredits("-0.01"), coffer.ErrInsufficientCredits, 0},
	}
	for _, tt := range tests {
		err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.AdjustBalance(ctx, w.ID, tt.delta)
			return err
		})
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
		}
		if got := balanceOf(t, s, w.ID); got != tt.want {
			t.Errorf("%s: balance %s, want %s", tt.name, got, tt.want)
		}
	}

	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.AdjustBalance(ctx, id.NewWorkspaceID(), types.FromMajor(1))
		return err
	})
	if !errors.Is(err, coffer.ErrWorkspaceNotFound) {
		t.Errorf("missing workspace: expected ErrWorkspaceNotFound, got %v", err)
	}

	rich := seedWorkspace(t, s, types.FromMajor(10))
	extremes := []struct {
		name    string
		delta   types.Credits
		wantErr error
	}{
		{"Credit past max", types.Credits(math.MaxInt64 - 100), coffer.ErrInvalidInput},
		{"Smallest debit", types.Credits(math.MinInt64), coffer.ErrInsufficientCredits},
	}
	for _, tt := range extremes {
		err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.AdjustBalance(ctx, rich.ID, tt.delta)
			return err
		})
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
		}
		if got := balanceOf(t, s, rich.ID); got != types.FromMajor(10) {
			t.Errorf("%s: balance %s, want 10.00 cr", tt.name, got)
		}
	}

	err = s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.AdjustBalance(ctx, rich.ID, types.Credits(math.MaxInt64-1000))
		return err
	})
	if err != nil {
		t.Fatalf("credit up to max: %v", err)
	}
	if got := balanceOf(t, s, rich.ID); got != types.Credits(math.MaxInt64) {
		t.Errorf("credit up to max: balance %s", got)
	}
}

func testUpdateWorkspaceKeepsBalance(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, types.FromMajor(50))

	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockWorkspace(ctx, w.ID)
		if err != nil {
			return err
		}
		locked.Balance = types.FromMajor(1_000_000)
		locked.PlanTier = "enterprise"
		locked.ActionsUsed = 42
		locked.GraceUntil = nil
		locked.Touch(now().Add(time.Minute))
		return tx.UpdateWorkspace(ctx, locked)
	})

	got, err := s.GetWorkspace(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if got.Balance != types.FromMajor(50) {
		t.Errorf("UpdateWorkspace changed balance to %s", got.Balance)
	}
	if got.PlanTier != "enterprise" || got.ActionsUsed != 42 {
		t.Errorf("fields not persisted: %+v", got)
	}
}

func testRollbackOnError(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, types.FromMajor(100))
	txn := newTxn(w.ID, transaction.KindDebit, types.FromMajor(-40), now())

	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.AdjustBalance(ctx, w.ID, txn.Amount); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		if err := tx.SetPityStreak(ctx, w.ID, "dice", 2); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}

	if got := balanceOf(t, s, w.ID); got != types.FromMajor(100) {
		t.Errorf("balance not rolled back: %s", got)
	}
	if _, err := s.GetTransaction(context.Background(), txn.ID); !errors.Is(err, coffer.ErrTransactionNotFound) {
		t.Errorf("transaction not rolled back: %v", err)
	}
	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		streak, err := tx.GetPityStreak(ctx, w.ID, "dice")
		if err == nil && streak != 0 {
			t.Errorf("pity streak not rolled back: %d", streak)
		}
		return err
	})
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

func testTransactionRoundTrip(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, 0)
	txn := newTxn(w.ID, transaction.KindTribute, types.FromMajor(-5), now())
	txn.Refs = transaction.Refs{UserID: "u-1", EventID: id.NewEventID(), ExternalRef: "ext-9"}
	txn.Tribute = &transaction.Tribute{
		InstrumentID:  "dice",
		Tier:          "RARE",
		BoonKey:       "quintuple",
		TributeAmount: types.FromMajor(10),
		BoonAmount:    types.FromMajor(50),
		LuckWeight:    decimal.RequireFromString("1.5"),
		PsycheTag:     rarity.PsycheBold,
		PityTriggered: true,
	}
	seedTxn(t, s, txn)

	got, err := s.GetTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Kind != txn.Kind || got.Amount != txn.Amount || got.Status != txn.Status || got.Signature != txn.Signature {
		t.Errorf("core fields mismatch: %+v", got)
	}
	if got.Refs.UserID != "u-1" || got.Refs.EventID.String() != txn.Refs.EventID.String() || got.Refs.ExternalRef != "ext-9" {
		t.Errorf("refs mismatch: %+v", got.Refs)
	}
	if got.Tribute == nil {
		t.Fatal("tribute detail lost")
	}
	if got.Tribute.LuckWeight.String() != "1.5" || got.Tribute.BoonAmount != types.FromMajor(50) || !got.Tribute.PityTriggered {
		t.Errorf("tribute mismatch: %+v", got.Tribute)
	}
	if !got.CreatedAt.Equal(txn.CreatedAt) || got.CompletedAt == nil || !got.CompletedAt.Equal(*txn.CompletedAt) {
		t.Errorf("timestamps mismatch: %v / %v", got.CreatedAt, got.CompletedAt)
	}
}

func testListTransactions(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, 0)
	other := seedWorkspace(t, s, 0)

	var ids []string
	for i := range 5 {
		kind := transaction.KindCredit
		if i%2 == 1 {
			kind = transaction.KindDebit
		}
		txn := newTxn(w.ID, kind, types.FromMajor(int64(i+1)), now().Add(time.Duration(i)*time.Second))
		seedTxn(t, s, txn)
		ids = append(ids, txn.ID.String())
	}
	seedTxn(t, s, newTxn(other.ID, transaction.KindCredit, types.FromMajor(1), now()))

	all, err := s.ListTransactions(context.Background(), w.ID, transaction.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 transactions, got %d", len(all))
	}
	for i, txn := range all {
		if want := ids[len(ids)-1-i]; txn.ID.String() != want {
			t.Errorf("position %d: got %s, want %s (newest first)", i, txn.ID, want)
		}
	}

	limited, err := s.ListTransactions(context.Background(), w.ID, transaction.ListOpts{Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Errorf("limit 2: got %d (%v)", len(limited), err)
	}

	debits, err := s.ListTransactions(context.Background(), w.ID, transaction.ListOpts{Kind: transaction.KindDebit})
	if err != nil || len(debits) != 2 {
		t.Errorf("debit filter: got %d (%v)", len(debits), err)
	}

	pending, err := s.ListTransactions(context.Background(), w.ID, transaction.ListOpts{Status: transaction.StatusPending})
	if err != nil || len(pending) != 0 {
		t.Errorf("pending filter: got %d (%v)", len(pending), err)
	}
}

func testCompletePendingOnce(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, 0)
	other := seedWorkspace(t, s, 0)
	txn := newTxn(w.ID, transaction.KindCredit, types.FromMajor(25), now())
	txn.Status = transaction.StatusPending
	txn.CompletedAt = nil
	txn.Refs.Pending = true
	seedTxn(t, s, txn)

	complete := func(wsID id.ID) error {
		return s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.CompletePending(ctx, txn.ID, wsID, transaction.StatusCompleted, now().Add(time.Hour))
		})
	}

	if err := complete(other.ID); !errors.Is(err, coffer.ErrNotPending) {
		t.Errorf("foreign workspace: expected ErrNotPending, got %v", err)
	}
	if err := complete(w.ID); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if err := complete(w.ID); !errors.Is(err, coffer.ErrNotPending) {
		t.Errorf("second completion: expected ErrNotPending, got %v", err)
	}

	got, err := s.GetTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Status != transaction.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("not completed: %+v", got)
	}
	if !got.Refs.Pending {
		t.Error("pending marker should survive completion")
	}
}

// ──────────────────────────────────────────────────
// Tribute side tables
// ──────────────────────────────────────────────────

func testPityStreak(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, 0)
	other := seedWorkspace(t, s, 0)

	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetPityStreak(ctx, w.ID, "dice", 2); err != nil {
			return err
		}
		return tx.SetPityStreak(ctx, w.ID, "dice", 3)
	})

	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		tests := []struct {
			ws         id.ID
			instrument string
			want       int
		}{
			{w.ID, "dice", 3},
			{w.ID, "cards", 0},
			{other.ID, "dice", 0},
		}
		for _, tt := range tests {
			got, err := tx.GetPityStreak(ctx, tt.ws, tt.instrument)
			if err != nil {
				return err
			}
			if got != tt.want {
				t.Errorf("streak %s/%s = %d, want %d", tt.ws, tt.instrument, got, tt.want)
			}
		}
		return nil
	})
}

func testEffects(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, 0)
	other := seedWorkspace(t, s, 0)

	mk := func(wsID id.ID, key effect.Key, ttl time.Duration) *effect.ActiveEffect {
		return &effect.ActiveEffect{
			ID: id.NewEffectID(), WorkspaceID: wsID, Key: key, Source: effect.SourcePurchase,
			UserID: "u-1", ExpiresAt: now().Add(ttl), CreatedAt: now(),
		}
	}
	late := mk(w.ID, effect.KeyFocusMode, 2*time.Hour)
	early := mk(w.ID, effect.KeyLuckBoost, time.Hour)
	stale := mk(w.ID, effect.KeyPriorityQueue, -time.Minute)
	foreign := mk(other.ID, effect.KeyLuckBoost, -time.Minute)

	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		for _, e := range []*effect.ActiveEffect{late, early, stale, foreign} {
			if err := tx.InsertEffect(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})

	listed, err := s.ListEffects(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("ListEffects: %v", err)
	}
	if len(listed) != 3 || listed[0].Key != effect.KeyPriorityQueue || listed[2].Key != effect.KeyFocusMode {
		t.Fatalf("expected effects sorted by expiry, got %d", len(listed))
	}

	n, err := s.PruneExpiredEffects(context.Background(), w.ID, now())
	if err != nil || n != 1 {
		t.Errorf("workspace prune: n=%d err=%v", n, err)
	}
	n, err = s.PruneExpiredEffects(context.Background(), id.Nil, now())
	if err != nil || n != 1 {
		t.Errorf("global prune: n=%d err=%v", n, err)
	}

	listed, err = s.ListEffects(context.Background(), w.ID)
	if err != nil || len(listed) != 2 || listed[0].Key != effect.KeyLuckBoost {
		t.Errorf("after prune: %d effects (%v)", len(listed), err)
	}
}

func testCollectibles(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, 0)
	txn := newTxn(w.ID, transaction.KindTribute, 0, now())
	seedTxn(t, s, txn)

	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		for _, card := range []string{"raven", "wolf"} {
			err := tx.InsertCollectible(ctx, &rarity.Collectible{
				ID: id.NewCollectibleID(), WorkspaceID: w.ID, CardID: card,
				InstrumentID: "dice", TransactionID: txn.ID, CreatedAt: now(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	cards, err := s.ListCollectibles(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("ListCollectibles: %v", err)
	}
	if len(cards) != 2 || cards[0].CardID != "raven" || cards[1].TransactionID.String() != txn.ID.String() {
		t.Errorf("unexpected collectibles: %+v", cards)
	}
}

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

func testSingleActiveEvent(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := newEvent(now())
	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateEvent(ctx, first)
	})

	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateEvent(ctx, newEvent(now()))
	})
	if !errors.Is(err, coffer.ErrEventActive) {
		t.Fatalf("second active event: expected ErrEventActive, got %v", err)
	}

	winner := seedWorkspace(t, s, 0)
	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.LockActiveEvent(ctx)
		if err != nil {
			return err
		}
		e.CurrentPool = types.FromMajor(1000)
		e.Conclude(now().Add(time.Hour), winner.ID, "u-7")
		return tx.UpdateEvent(ctx, e)
	})

	if _, err := s.GetActiveEvent(ctx); !errors.Is(err, coffer.ErrEventNotFound) {
		t.Errorf("after conclusion: expected ErrEventNotFound, got %v", err)
	}
	got, err := s.GetEvent(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Status != event.StatusConcluded || got.WinnerWorkspaceID.String() != winner.ID.String() ||
		got.WinnerUserID != "u-7" || got.ConcludedAt == nil || got.CurrentPool != types.FromMajor(1000) {
		t.Errorf("concluded event mismatch: %+v", got)
	}
	if _, err := s.GetEvent(ctx, id.NewEventID()); !errors.Is(err, coffer.ErrNotFound) {
		t.Errorf("missing event: expected ErrNotFound, got %v", err)
	}

	next := newEvent(now().Add(2 * time.Hour))
	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateEvent(ctx, next)
	})
	active, err := s.GetActiveEvent(ctx)
	if err != nil || active.ID.String() != next.ID.String() {
		t.Errorf("new active event: %v (%v)", active, err)
	}
}

func testContributions(t *testing.T, s store.Store) {
	w := seedWorkspace(t, s, types.FromMajor(100))
	e := newEvent(now())
	atomically(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateEvent(ctx, e)
	})

	for i, amount := range []int64{10, 20} {
		txn := newTxn(w.ID, transaction.KindDebit, types.FromMajor(-amount), now())
		txn.Refs.EventID = e.ID
		seedTxn(t, s, txn)
		atomically(t, s, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertContribution(ctx, &event.Contribution{
				ID: id.NewContributionID(), EventID: e.ID, WorkspaceID: w.ID, UserID: "u-1",
				Amount: types.FromMajor(amount), TransactionID: txn.ID,
				CreatedAt: now().Add(time.Duration(i) * time.Second),
			})
		})
	}

	list, err := s.ListContributions(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("ListContributions: %v", err)
	}
	if len(list) != 2 || list[0].Amount != types.FromMajor(10) || list[1].Amount != types.FromMajor(20) {
		t.Errorf("unexpected contributions: %+v", list)
	}
}

// ──────────────────────────────────────────────────
// Concurrency
// ──────────────────────────────────────────────────

func testConcurrentDebits(t *testing.T, s store.Store) {
	const workers = 20
	w := seedWorkspace(t, s, types.FromMajor(10))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		refused   atomic.Int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
					if _, err := tx.LockWorkspace(ctx, w.ID); err != nil {
						return err
					}
					_, err := tx.AdjustBalance(ctx, w.ID, types.FromMajor(-1))
					return err
				})
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, coffer.ErrInsufficientCredits):
					refused.Add(1)
				case errors.Is(err, coffer.ErrStorageConflict):
					continue
				default:
					t.Errorf("debit: %v", err)
				}
				return
			}
			t.Error("debit: conflict retries exhausted")
		}()
	}
	wg.Wait()

	if succeeded.Load() != 10 || refused.Load() != workers-10 {
		t.Errorf("succeeded=%d refused=%d", succeeded.Load(), refused.Load())
	}
	if got := balanceOf(t, s, w.ID); got != 0 {
		t.Errorf("final balance %s, want 0", got)
	}
}
