package coffer_test

import (
	"context"
	"log"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/store/memory"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
)

// TestDocumentationExamples verifies that the package documentation
// examples compile and run.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		ctx := context.Background()

		// Memory store for demo, use PostgreSQL in production.
		st := memory.New()

		c, err := coffer.New(st,
			coffer.WithLogger(slog.New(slog.DiscardHandler)),
			coffer.WithSigningKey([]byte("docs-signing-key")),
			coffer.WithInstruments(diceTable(90)),
		)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer c.Stop()

		ws, err := c.CreateWorkspace(ctx, "Acme", "pro", coffer.FromMajor(100))
		if err != nil {
			t.Fatal(err)
		}

		// A card payment lands as a pending credit and is confirmed by the
		// payment webhook.
		pending, err := c.RecordTransaction(ctx, ws.ID, transaction.KindCredit, coffer.FromMajor(49),
			"top-up", transaction.Refs{ExternalRef: "pi_123", Pending: true})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.ConfirmPendingTransaction(ctx, pending.ID, ws.ID); err != nil {
			t.Fatal(err)
		}

		auth, err := c.AuthorizeAgentActions(ctx, ws.ID, 10)
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("covered %d actions, charged %s", auth.Covered, auth.Charged)

		res, err := c.SubmitTribute(ctx, coffer.TributeRequest{
			WorkspaceID:  ws.ID,
			InstrumentID: "dice",
			Amount:       coffer.FromMajor(25),
		})
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("drew %s, balance %s", res.Tier, res.Balance)

		if !c.VerifyTransaction(ctx, res.Transaction) {
			t.Fatal("tribute row signature does not verify")
		}
	})

	t.Run("CreditsExamples", func(t *testing.T) {
		// Constructors
		_ = coffer.FromMajor(49)             // 49.00
		_ = coffer.MustParseCredits("12.50") // 12.50
		_ = coffer.Zero                      // 0.00

		// Arithmetic
		c1 := coffer.MustParseCredits("1.00")
		c2 := coffer.MustParseCredits("2.00")
		if got := c1.Add(c2); got != coffer.FromMajor(3) {
			t.Errorf("1.00 + 2.00 = %s", got)
		}
		if got := c1.Multiply(3); got != coffer.FromMajor(3) {
			t.Errorf("1.00 * 3 = %s", got)
		}
		if got, err := c2.MultiplyDecimal(decimal.RequireFromString("0.25")); err != nil || got != types.MustParseCredits("0.50") {
			t.Errorf("2.00 * 0.25 = %s (%v)", got, err)
		}

		// Amounts with more than two decimal places are rejected.
		if _, err := coffer.ParseCredits("0.001"); err == nil {
			t.Error("expected a parse error for 0.001")
		}

		if got := c1.FormatMajor(); got != "1.00" {
			t.Errorf("FormatMajor = %q", got)
		}
	})

	t.Run("RarityTiers", func(t *testing.T) {
		if !rarity.Divine.AtLeast(rarity.Mythic) {
			t.Error("DIVINE should outrank MYTHIC")
		}
		if _, err := rarity.ParseTier("LEGENDARY"); err == nil {
			t.Error("expected an unknown tier error")
		}
	})
}
