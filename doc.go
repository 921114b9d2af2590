// Package coffer provides a multi-tenant credit economy engine for Go
// applications.
//
// Coffer is designed as a library, not a service. Import it directly and
// give it a store. It provides:
//
//   - Exact fixed-point workspace balances with conditional debits
//   - An agent-action allowance meter with overage billing
//   - Tributes: a two-stage weighted draw over per-instrument rarity tables
//     with a pity override that is the only path to DIVINE
//   - Time-bound effects that modify later draws
//   - A single global pooled event that exactly one contribution can win
//   - HMAC-signed transaction rows
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/coffer"
//	    "github.com/xraph/coffer/store/postgres"
//	)
//
//	st, err := postgres.New(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c, err := coffer.New(st,
//	    coffer.WithSigningKey(key),
//	    coffer.WithInstruments(tables...),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop()
//
// # Atomicity
//
// Every operation that changes a balance or an event pool runs as one
// store unit of work. The balance change and its transaction row commit
// together or not at all. Debits are conditional: a debit that would take
// a balance below zero fails with ErrInsufficientCredits. Units that lose
// a storage race fail with ErrStorageConflict and are re-run according to
// WithConflictRetries.
//
// # Tributes
//
//	res, err := c.SubmitTribute(ctx, coffer.TributeRequest{
//	    WorkspaceID:  wsID,
//	    InstrumentID: "dice",
//	    Amount:       coffer.FromMajor(25),
//	})
//
// The draw first selects a tier from COMMON to MYTHIC by cumulative weight,
// then a boon within the tier. DIVINE is reachable only once a workspace's
// consecutive non-win streak on an instrument reaches the table's pity
// threshold.
//
// # Stores
//
// Four backends implement store.Store:
//
//   - store/memory: in-process, for tests
//   - store/sqlite: modernc.org/sqlite, single node
//   - store/postgres: pgx, row locks with SELECT ... FOR UPDATE
//   - store/mongo: replica-set transactions
//
// # TypeID
//
// All entities use TypeID identifiers:
//
//	ws_01h2xcejqtf2nbrexx3vqjhp41    // Workspace ID
//	txn_01h2xcejqtf2nbrexx3vqjhp41   // Transaction ID
//	gevt_01h455vb4pex5vsknk084sn02q  // Global event ID
package coffer
