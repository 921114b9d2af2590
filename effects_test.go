package coffer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/types"
)

func TestActivateEffect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(25))

	e, err := h.c.ActivateEffect(ctx, "u1", w.ID, effect.KeyFocusMode)
	require.NoError(t, err)
	assert.Equal(t, effect.SourcePurchase, e.Source)
	assert.Equal(t, h.clock.Now().Add(2*time.Hour), e.ExpiresAt)
	assert.Equal(t, types.FromMajor(5), h.balance(t, w.ID))

	_, err = h.c.ActivateEffect(ctx, "u1", w.ID, effect.KeyFocusMode)
	require.ErrorIs(t, err, coffer.ErrInsufficientCredits)

	_, err = h.c.ActivateEffect(ctx, "u1", w.ID, effect.Key("invisibility"))
	assert.True(t, coffer.IsNotFound(err), "got %v", err)

	active, err := h.c.GetActiveEffects(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestEffectsExpire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.workspace(t, types.FromMajor(100))

	_, err := h.c.ActivateEffect(ctx, "u1", w.ID, effect.KeyFocusMode)
	require.NoError(t, err)
	_, err = h.c.ActivateEffect(ctx, "u1", w.ID, effect.KeyPriorityQueue)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)

	on, err := h.c.IsEffectActive(ctx, w.ID, effect.KeyFocusMode)
	require.NoError(t, err)
	assert.False(t, on, "an effect is inactive at exactly its expiry")

	active, err := h.c.GetActiveEffects(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, effect.KeyPriorityQueue, active[0].Key)

	h.clock.Advance(24 * time.Hour)
	n, err := h.c.SweepExpiredEffects(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRegisteredEffectIsPurchasable(t *testing.T) {
	reg := effect.NewRegistry()
	require.NoError(t, reg.Register(effect.Definition{
		Key: "night_shift", Name: "Night Shift", Cost: types.FromMajor(5), Duration: 8 * time.Hour,
	}))
	h := newHarness(t, coffer.WithEffects(reg))
	w := h.workspace(t, types.FromMajor(5))

	e, err := h.c.ActivateEffect(context.Background(), "u1", w.ID, "night_shift")
	require.NoError(t, err)
	assert.Equal(t, effect.Key("night_shift"), e.Key)
	assert.True(t, h.balance(t, w.ID).IsZero())
}
