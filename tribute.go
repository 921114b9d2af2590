package coffer

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
)

// TributeRequest offers Amount credits to an instrument.
type TributeRequest struct {
	WorkspaceID  id.ID         `json:"workspace_id"`
	UserID       string        `json:"user_id"`
	InstrumentID string        `json:"instrument_id"`
	Amount       types.Credits `json:"amount"`

	// PsycheTag is derived from the tribute's share of the balance when
	// empty.
	PsycheTag string `json:"psyche_tag,omitempty"`
}

// TributeResult is the settled outcome of a tribute.
type TributeResult struct {
	Tier          rarity.Tier              `json:"tier"`
	Boon          rarity.Boon              `json:"boon"`
	Payout        types.Credits            `json:"payout"`
	NetChange     types.Credits            `json:"net_change"`
	Balance       types.Credits            `json:"balance"`
	PityTriggered bool                     `json:"pity_triggered"`
	Transaction   *transaction.Transaction `json:"transaction"`
	Effect        *effect.ActiveEffect     `json:"effect,omitempty"`
	Collectible   *rarity.Collectible      `json:"collectible,omitempty"`
}

// SubmitTribute draws a boon from the instrument's rarity table and settles
// it. Funds are checked before the draw, so a tribute the workspace cannot
// afford consumes no randomness. The pity streak, the TRIBUTE row and any
// granted effect or collectible commit together.
func (c *Coffer) SubmitTribute(ctx context.Context, req TributeRequest) (*TributeResult, error) {
	if !req.Amount.IsPositive() {
		return nil, invalid("amount", "must be positive")
	}
	tb, err := c.Instrument(strings.TrimSpace(req.InstrumentID))
	if err != nil {
		return nil, err
	}

	w, err := c.store.GetWorkspace(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if w.Balance.LessThan(req.Amount) {
		c.plugins.EmitInsufficientCredits(ctx, req.WorkspaceID.String(), "tribute", req.Amount)
		return nil, fmt.Errorf("%w: balance %s, tribute %s", ErrInsufficientCredits, w.Balance, req.Amount)
	}

	luck, err := c.luckWeight(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}

	var res *TributeResult
	err = c.atomic(ctx, "submit_tribute", func(ctx context.Context, tx store.Tx) error {
		res = nil

		w, err := tx.LockWorkspace(ctx, req.WorkspaceID)
		if err != nil {
			return err
		}
		if w.Balance.LessThan(req.Amount) {
			return fmt.Errorf("%w: balance %s, tribute %s", ErrInsufficientCredits, w.Balance, req.Amount)
		}

		streak, err := tx.GetPityStreak(ctx, req.WorkspaceID, tb.InstrumentID)
		if err != nil {
			return err
		}
		out, nextStreak := tb.Resolve(c.rng, luck, streak)
		payout, err := out.Boon.Payout(req.Amount)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}

		psyche := req.PsycheTag
		if psyche == "" {
			psyche = rarity.PsycheTag(req.Amount, w.Balance)
		}

		t, err := c.settleTribute(ctx, tx, w.Balance, TributeEntry{
			WorkspaceID: req.WorkspaceID,
			UserID:      req.UserID,
			Tribute: transaction.Tribute{
				InstrumentID:  tb.InstrumentID,
				Tier:          string(out.Tier),
				BoonKey:       out.Boon.Key,
				TributeAmount: req.Amount,
				BoonAmount:    payout,
				LuckWeight:    luck,
				PsycheTag:     psyche,
				PityTriggered: out.PityTriggered,
			},
		})
		if err != nil {
			return err
		}

		if nextStreak != streak {
			if err := tx.SetPityStreak(ctx, req.WorkspaceID, tb.InstrumentID, nextStreak); err != nil {
				return err
			}
		}

		r := &TributeResult{
			Tier:          out.Tier,
			Boon:          out.Boon,
			Payout:        payout,
			NetChange:     t.Amount,
			Balance:       w.Balance.Add(t.Amount),
			PityTriggered: out.PityTriggered,
			Transaction:   t,
		}

		switch out.Boon.Kind {
		case rarity.BoonEffect:
			e, err := c.grantEffect(ctx, tx, req.WorkspaceID, req.UserID, out.Boon.EffectKey, effect.SourceTribute, out.Boon.Duration)
			if err != nil {
				return err
			}
			r.Effect = e
		case rarity.BoonCard:
			col := &rarity.Collectible{
				ID:            id.NewCollectibleID(),
				WorkspaceID:   req.WorkspaceID,
				CardID:        out.Boon.CardID,
				InstrumentID:  tb.InstrumentID,
				TransactionID: t.ID,
				CreatedAt:     t.CreatedAt,
			}
			if err := tx.InsertCollectible(ctx, col); err != nil {
				return err
			}
			r.Collectible = col
		}

		res = r
		return nil
	})
	if err != nil {
		if IsInsufficientCredits(err) {
			c.plugins.EmitInsufficientCredits(ctx, req.WorkspaceID.String(), "tribute", req.Amount)
		}
		return nil, err
	}

	c.logger.Debug("tribute settled",
		"workspace_id", req.WorkspaceID.String(),
		"instrument", tb.InstrumentID,
		"tier", string(res.Tier),
		"boon", res.Boon.Key,
		"net", res.NetChange.String(),
		"pity", res.PityTriggered,
	)
	c.plugins.EmitTransactionRecorded(ctx, res.Transaction)
	c.plugins.EmitTributeResolved(ctx, res.Transaction)
	if res.Effect != nil {
		c.plugins.EmitEffectActivated(ctx, res.Effect)
	}
	return res, nil
}

// PityStreak returns the consecutive non-win count for a workspace on an
// instrument.
func (c *Coffer) PityStreak(ctx context.Context, wsID id.ID, instrumentID string) (int, error) {
	var streak int
	err := c.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		streak, err = tx.GetPityStreak(ctx, wsID, instrumentID)
		return err
	})
	return streak, err
}

// ListCollectibles returns the cards a workspace has drawn.
func (c *Coffer) ListCollectibles(ctx context.Context, wsID id.ID) ([]*rarity.Collectible, error) {
	return c.store.ListCollectibles(ctx, wsID)
}

// luckWeight is the product of luck boosts among active effects, 1 when
// none apply.
func (c *Coffer) luckWeight(ctx context.Context, wsID id.ID) (decimal.Decimal, error) {
	all, err := c.store.ListEffects(ctx, wsID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return c.effects.LuckWeight(effect.FilterActive(all, c.clock())), nil
}
