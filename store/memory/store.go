// Package memory is an in-process Store used for tests and single-node
// development. A unit of work holds the store-wide lock for its whole
// duration and undoes its writes on failure.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/rarity"
	cofferstore "github.com/xraph/coffer/store"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// Compile-time interface checks.
var (
	_ cofferstore.Store = (*Store)(nil)
	_ cofferstore.Tx    = (*tx)(nil)
)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Workspace storage
	workspaces map[string]*workspace.Workspace

	// Transaction storage, with per-workspace insertion order
	transactions map[string]*transaction.Transaction
	wsTxns       map[string][]string

	// Tribute side tables
	pity         map[string]int
	effects      map[string]*effect.ActiveEffect
	collectibles []*rarity.Collectible

	// Global event storage
	events        map[string]*event.Event
	activeEvent   string
	contributions []*event.Contribution
}

func New() *Store {
	return &Store{
		workspaces:   make(map[string]*workspace.Workspace),
		transactions: make(map[string]*transaction.Transaction),
		wsTxns:       make(map[string][]string),
		pity:         make(map[string]int),
		effects:      make(map[string]*effect.ActiveEffect),
		events:       make(map[string]*event.Event),
	}
}

// ==================== Unit of work ====================

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx cofferstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return coffer.ErrStoreClosed
	}

	t := &tx{s: s}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// tx applies writes in place and records an inverse for each one.
type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) onRollback(f func()) { t.undo = append(t.undo, f) }

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// ==================== Workspace Store ====================

func (t *tx) CreateWorkspace(_ context.Context, w *workspace.Workspace) error {
	key := w.ID.String()
	if _, exists := t.s.workspaces[key]; exists {
		return coffer.ErrAlreadyExists
	}
	t.s.workspaces[key] = w.Clone()
	t.onRollback(func() { delete(t.s.workspaces, key) })
	return nil
}

func (t *tx) LockWorkspace(_ context.Context, wsID id.ID) (*workspace.Workspace, error) {
	w, ok := t.s.workspaces[wsID.String()]
	if !ok {
		return nil, coffer.ErrWorkspaceNotFound
	}
	return w.Clone(), nil
}

func (t *tx) AdjustBalance(_ context.Context, wsID id.ID, delta types.Credits) (types.Credits, error) {
	w, ok := t.s.workspaces[wsID.String()]
	if !ok {
		return 0, coffer.ErrWorkspaceNotFound
	}
	if lo, hi := cofferstore.BalanceBounds(delta); w.Balance.Hundredths() < lo || w.Balance.Hundredths() > hi {
		if delta.IsPositive() {
			return w.Balance, fmt.Errorf("%w: %w", coffer.ErrInvalidInput, cofferstore.OverflowError(w.Balance, delta))
		}
		return w.Balance, coffer.ErrInsufficientCredits
	}
	next := w.Balance.Add(delta)
	prev := w.Balance
	w.Balance = next
	t.onRollback(func() { w.Balance = prev })
	return next, nil
}

func (t *tx) UpdateWorkspace(_ context.Context, w *workspace.Workspace) error {
	cur, ok := t.s.workspaces[w.ID.String()]
	if !ok {
		return coffer.ErrWorkspaceNotFound
	}
	prev := cur.Clone()
	next := w.Clone()
	next.Balance = cur.Balance
	*cur = *next
	t.onRollback(func() { *cur = *prev })
	return nil
}

func (s *Store) GetWorkspace(_ context.Context, wsID id.ID) (*workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.workspaces[wsID.String()]; ok {
		return w.Clone(), nil
	}
	return nil, coffer.ErrWorkspaceNotFound
}

// ==================== Transaction Store ====================

func (t *tx) InsertTransaction(_ context.Context, txn *transaction.Transaction) error {
	key := txn.ID.String()
	if _, exists := t.s.transactions[key]; exists {
		return coffer.ErrAlreadyExists
	}
	ws := txn.WorkspaceID.String()
	t.s.transactions[key] = cloneTransaction(txn)
	t.s.wsTxns[ws] = append(t.s.wsTxns[ws], key)
	t.onRollback(func() {
		delete(t.s.transactions, key)
		list := t.s.wsTxns[ws]
		t.s.wsTxns[ws] = list[:len(list)-1]
	})
	return nil
}

func (t *tx) GetTransaction(_ context.Context, txID id.ID) (*transaction.Transaction, error) {
	return t.s.getTransaction(txID)
}

func (t *tx) CompletePending(_ context.Context, txID, wsID id.ID, status transaction.Status, at time.Time) error {
	cur, ok := t.s.transactions[txID.String()]
	if !ok || cur.WorkspaceID.String() != wsID.String() || !cur.IsPendingCredit() {
		return coffer.ErrNotPending
	}
	prevStatus, prevAt := cur.Status, cur.CompletedAt
	done := at
	cur.Status = status
	cur.CompletedAt = &done
	t.onRollback(func() {
		cur.Status = prevStatus
		cur.CompletedAt = prevAt
	})
	return nil
}

func (s *Store) GetTransaction(_ context.Context, txID id.ID) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTransaction(txID)
}

func (s *Store) getTransaction(txID id.ID) (*transaction.Transaction, error) {
	if txn, ok := s.transactions[txID.String()]; ok {
		return cloneTransaction(txn), nil
	}
	return nil, coffer.ErrTransactionNotFound
}

func (s *Store) ListTransactions(_ context.Context, wsID id.ID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts = opts.Normalize()
	keys := s.wsTxns[wsID.String()]
	result := make([]*transaction.Transaction, 0, min(len(keys), opts.Limit))

	// Newest first.
	for i := len(keys) - 1; i >= 0 && len(result) < opts.Limit; i-- {
		txn := s.transactions[keys[i]]
		if opts.Kind != "" && txn.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && txn.Status != opts.Status {
			continue
		}
		result = append(result, cloneTransaction(txn))
	}
	return result, nil
}

func cloneTransaction(t *transaction.Transaction) *transaction.Transaction {
	c := *t
	if t.Tribute != nil {
		tr := *t.Tribute
		c.Tribute = &tr
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// ==================== Tribute Side Tables ====================

func pityKey(wsID id.ID, instrumentID string) string {
	return wsID.String() + "|" + instrumentID
}

func (t *tx) GetPityStreak(_ context.Context, wsID id.ID, instrumentID string) (int, error) {
	return t.s.pity[pityKey(wsID, instrumentID)], nil
}

func (t *tx) SetPityStreak(_ context.Context, wsID id.ID, instrumentID string, streak int) error {
	key := pityKey(wsID, instrumentID)
	prev, had := t.s.pity[key]
	t.s.pity[key] = streak
	t.onRollback(func() {
		if had {
			t.s.pity[key] = prev
		} else {
			delete(t.s.pity, key)
		}
	})
	return nil
}

func (t *tx) InsertEffect(_ context.Context, e *effect.ActiveEffect) error {
	key := e.ID.String()
	if _, exists := t.s.effects[key]; exists {
		return coffer.ErrAlreadyExists
	}
	c := *e
	t.s.effects[key] = &c
	t.onRollback(func() { delete(t.s.effects, key) })
	return nil
}

func (t *tx) InsertCollectible(_ context.Context, c *rarity.Collectible) error {
	cp := *c
	t.s.collectibles = append(t.s.collectibles, &cp)
	t.onRollback(func() { t.s.collectibles = t.s.collectibles[:len(t.s.collectibles)-1] })
	return nil
}

func (s *Store) ListEffects(_ context.Context, wsID id.ID) ([]*effect.ActiveEffect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*effect.ActiveEffect, 0)
	for _, e := range s.effects {
		if e.WorkspaceID.String() == wsID.String() {
			c := *e
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result, nil
}

func (s *Store) PruneExpiredEffects(_ context.Context, wsID id.ID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, e := range s.effects {
		if !wsID.IsNil() && e.WorkspaceID.String() != wsID.String() {
			continue
		}
		if !e.ActiveAt(now) {
			delete(s.effects, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListCollectibles(_ context.Context, wsID id.ID) ([]*rarity.Collectible, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*rarity.Collectible, 0)
	for _, c := range s.collectibles {
		if c.WorkspaceID.String() == wsID.String() {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ==================== Event Store ====================

func (t *tx) CreateEvent(_ context.Context, e *event.Event) error {
	if t.s.activeEvent != "" {
		return coffer.ErrEventActive
	}
	key := e.ID.String()
	if _, exists := t.s.events[key]; exists {
		return coffer.ErrAlreadyExists
	}
	t.s.events[key] = e.Clone()
	if e.Status == event.StatusActive {
		t.s.activeEvent = key
	}
	t.onRollback(func() {
		delete(t.s.events, key)
		if t.s.activeEvent == key {
			t.s.activeEvent = ""
		}
	})
	return nil
}

func (t *tx) LockActiveEvent(_ context.Context) (*event.Event, error) {
	if t.s.activeEvent == "" {
		return nil, coffer.ErrEventNotFound
	}
	return t.s.events[t.s.activeEvent].Clone(), nil
}

func (t *tx) UpdateEvent(_ context.Context, e *event.Event) error {
	key := e.ID.String()
	cur, ok := t.s.events[key]
	if !ok {
		return fmt.Errorf("%w: %s", coffer.ErrNotFound, key)
	}
	prev, prevActive := cur.Clone(), t.s.activeEvent
	*cur = *e.Clone()
	if cur.Status != event.StatusActive && t.s.activeEvent == key {
		t.s.activeEvent = ""
	}
	t.onRollback(func() {
		*cur = *prev
		t.s.activeEvent = prevActive
	})
	return nil
}

func (t *tx) InsertContribution(_ context.Context, c *event.Contribution) error {
	cp := *c
	t.s.contributions = append(t.s.contributions, &cp)
	t.onRollback(func() { t.s.contributions = t.s.contributions[:len(t.s.contributions)-1] })
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.events[eventID.String()]; ok {
		return e.Clone(), nil
	}
	return nil, fmt.Errorf("%w: event %s", coffer.ErrNotFound, eventID)
}

func (s *Store) GetActiveEvent(_ context.Context) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeEvent == "" {
		return nil, coffer.ErrEventNotFound
	}
	return s.events[s.activeEvent].Clone(), nil
}

func (s *Store) ListContributions(_ context.Context, eventID id.ID) ([]*event.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Contribution, 0)
	for _, c := range s.contributions {
		if c.EventID.String() == eventID.String() {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ==================== Core ====================

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return coffer.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
