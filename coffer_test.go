package coffer_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/store/memory"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scripted replays fixed draw values and counts how often it is asked.
type scripted struct {
	mu    sync.Mutex
	vals  []int64
	calls int
}

func (s *scripted) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var v int64
	if len(s.vals) > 0 {
		v = s.vals[s.calls%len(s.vals)]
	}
	s.calls++
	return v % n
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Tier draw values for diceTable: COMMON [0,6000), UNCOMMON [6000,8500),
// RARE [8500,9500), MYTHIC [9500,9999).
const (
	drawCommon   = 0
	drawUncommon = 6000
	drawRare     = 8500
	drawMythic   = 9500
)

func diceTable(pity int) *rarity.Table {
	return &rarity.Table{
		InstrumentID: "dice",
		Name:         "Bone Dice",
		Tiers: []rarity.TierSpec{
			{Tier: rarity.Common, Weight: 6000, Boons: []rarity.Boon{
				{Key: "dust", Kind: rarity.BoonMultiplier, Weight: 70, Multiplier: decimal.Zero},
				{Key: "ember", Kind: rarity.BoonMultiplier, Weight: 30, Multiplier: decimal.RequireFromString("0.5")},
			}},
			{Tier: rarity.Uncommon, Weight: 2500, Boons: []rarity.Boon{
				{Key: "refund", Kind: rarity.BoonMultiplier, Weight: 100, Multiplier: decimal.NewFromInt(1)},
			}},
			{Tier: rarity.Rare, Weight: 1000, Boons: []rarity.Boon{
				{Key: "quintuple", Kind: rarity.BoonMultiplier, Weight: 60, Multiplier: decimal.NewFromInt(5)},
				{Key: "focus", Kind: rarity.BoonEffect, Weight: 40, EffectKey: effect.KeyFocusMode},
			}},
			{Tier: rarity.Mythic, Weight: 499, Boons: []rarity.Boon{
				{Key: "raven", Kind: rarity.BoonCard, Weight: 100, CardID: "raven-card"},
			}},
			{Tier: rarity.Divine, Weight: 1, Boons: []rarity.Boon{
				{Key: "hundredfold", Kind: rarity.BoonMultiplier, Weight: 100, Multiplier: decimal.NewFromInt(100)},
			}},
		},
		PityThreshold: pity,
	}
}

type harness struct {
	c     *coffer.Coffer
	store *memory.Store
	clock *clock
	rng   *scripted
}

func newHarness(t *testing.T, opts ...coffer.Option) *harness {
	t.Helper()
	h := &harness{store: memory.New(), clock: newClock(), rng: &scripted{}}
	base := []coffer.Option{
		coffer.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		coffer.WithSigningKey([]byte("test-signing-key")),
		coffer.WithClock(h.clock.Now),
		coffer.WithRandSource(h.rng),
		coffer.WithInstruments(diceTable(3)),
		coffer.WithEffectSweepInterval(0),
	}
	c, err := coffer.New(h.store, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
	h.c = c
	return h
}

func (h *harness) workspace(t *testing.T, balance types.Credits) *workspace.Workspace {
	t.Helper()
	w, err := h.c.CreateWorkspace(context.Background(), "acme", "free", balance)
	require.NoError(t, err)
	return w
}

func (h *harness) balance(t *testing.T, wsID id.ID) types.Credits {
	t.Helper()
	w, err := h.c.GetWorkspace(context.Background(), wsID)
	require.NoError(t, err)
	return w.Balance
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	broken := diceTable(3)
	broken.Tiers[0].Weight = 5999

	_, err := coffer.New(memory.New(), coffer.WithInstruments(broken))
	require.Error(t, err)
	require.True(t, coffer.IsConfigurationError(err), "got %v", err)

	unknownEffect := diceTable(3)
	unknownEffect.Tiers[2].Boons[1].EffectKey = "no_such_effect"
	_, err = coffer.New(memory.New(), coffer.WithInstruments(unknownEffect))
	require.True(t, coffer.IsConfigurationError(err), "got %v", err)

	_, err = coffer.New(memory.New(), coffer.WithInstruments(diceTable(3), diceTable(0)))
	require.True(t, coffer.IsConfigurationError(err), "got %v", err)
}

func TestInstrumentLookup(t *testing.T) {
	h := newHarness(t)

	tb, err := h.c.Instrument("dice")
	require.NoError(t, err)
	require.Equal(t, rarity.Rare, tb.WinFloor)

	_, err = h.c.Instrument("roulette")
	require.True(t, coffer.IsNotFound(err))
}
