// Package mongo implements store.Store on MongoDB with the official v2 driver.
//
// Units of work run as multi-document transactions, so the deployment must be
// a replica set or sharded cluster. A LockWorkspace or LockActiveEvent call
// bumps the document's lock_version, which takes the document write lock for
// the rest of the transaction. Concurrent writers then hit a write conflict
// and the session retries them.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

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

// Collection name constants.
const (
	colWorkspaces    = "coffer_workspaces"
	colTransactions  = "coffer_transactions"
	colPity          = "coffer_pity"
	colEffects       = "coffer_effects"
	colCollectibles  = "coffer_collectibles"
	colEvents        = "coffer_events"
	colContributions = "coffer_contributions"
)

const singleActiveEventIndex = "single_active_event"

// compile-time interface checks
var (
	_ cofferstore.Store = (*Store)(nil)
	_ cofferstore.Tx    = (*tx)(nil)
)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	seq    atomic.Int64
}

// Connect dials uri and uses the named database. Call Migrate before use.
func Connect(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("coffer/mongo: connect: %w", err)
	}
	return New(client, database), nil
}

// New wraps an existing client. Close disconnects it.
func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
	}
}

// Database returns the underlying database for direct access.
func (s *Store) Database() *mongo.Database { return s.db }

// Migrate creates indexes for all coffer collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("coffer/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// nextSeq returns a process-monotonic insertion key that also tracks wall
// time, so listings across processes stay roughly chronological.
func (s *Store) nextSeq() int64 {
	for {
		last := s.seq.Load()
		next := max(time.Now().UnixNano(), last+1)
		if s.seq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// ==================== Unit of work ====================

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx cofferstore.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("coffer/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, &tx{s: s})
	}, txnOpts)
	return classify(err)
}

type tx struct {
	s *Store
}

func (t *tx) col(name string) *mongo.Collection { return t.s.db.Collection(name) }

// classify maps transient transaction failures to coffer.ErrStorageConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%w: %w", coffer.ErrStorageConflict, err)
	}
	return err
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func isActiveEventConflict(err error) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), singleActiveEventIndex)
}

func lockBump() bson.M {
	return bson.M{"lock_version": 1}
}

// ==================== Workspace Store ====================

func (t *tx) CreateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	if _, err := t.col(colWorkspaces).InsertOne(ctx, toWorkspaceModel(w)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/mongo: create workspace: %w", err)
	}
	return nil
}

func (t *tx) LockWorkspace(ctx context.Context, wsID id.ID) (*workspace.Workspace, error) {
	var m workspaceModel
	err := t.col(colWorkspaces).FindOneAndUpdate(ctx,
		bson.M{"_id": wsID.String()},
		bson.M{"$inc": lockBump()},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coffer.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("coffer/mongo: lock workspace: %w", err)
	}
	return fromWorkspaceModel(&m)
}

func (t *tx) AdjustBalance(ctx context.Context, wsID id.ID, delta types.Credits) (types.Credits, error) {
	lo, hi := cofferstore.BalanceBounds(delta)
	filter := bson.M{"_id": wsID.String(), "balance": bson.M{"$gte": lo, "$lte": hi}}

	var m workspaceModel
	err := t.col(colWorkspaces).FindOneAndUpdate(ctx,
		filter,
		bson.M{"$inc": bson.M{"balance": delta.Hundredths(), "lock_version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return types.Credits(m.Balance), nil
	}
	if !isNoDocuments(err) {
		return 0, fmt.Errorf("coffer/mongo: adjust balance: %w", err)
	}

	err = t.col(colWorkspaces).FindOne(ctx, bson.M{"_id": wsID.String()}).Decode(&m)
	switch {
	case isNoDocuments(err):
		return 0, coffer.ErrWorkspaceNotFound
	case err != nil:
		return 0, fmt.Errorf("coffer/mongo: adjust balance: %w", err)
	}
	if delta.IsPositive() {
		return types.Credits(m.Balance), fmt.Errorf("%w: %w", coffer.ErrInvalidInput, cofferstore.OverflowError(types.Credits(m.Balance), delta))
	}
	return types.Credits(m.Balance), coffer.ErrInsufficientCredits
}

func (t *tx) UpdateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	set := bson.M{
		"name":               w.Name,
		"plan_tier":          w.PlanTier,
		"actions_used":       w.ActionsUsed,
		"overage_actions":    w.OverageActions,
		"usage_period_start": w.UsagePeriodStart,
		"updated_at":         w.UpdatedAt,
	}
	update := bson.M{"$set": set, "$inc": lockBump()}
	if w.GraceUntil != nil {
		set["grace_until"] = *w.GraceUntil
	} else {
		update["$unset"] = bson.M{"grace_until": ""}
	}

	res, err := t.col(colWorkspaces).UpdateOne(ctx, bson.M{"_id": w.ID.String()}, update)
	if err != nil {
		return fmt.Errorf("coffer/mongo: update workspace: %w", err)
	}
	if res.MatchedCount == 0 {
		return coffer.ErrWorkspaceNotFound
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, wsID id.ID) (*workspace.Workspace, error) {
	var m workspaceModel
	err := s.db.Collection(colWorkspaces).FindOne(ctx, bson.M{"_id": wsID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coffer.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("coffer/mongo: get workspace: %w", err)
	}
	return fromWorkspaceModel(&m)
}

// ==================== Transaction Store ====================

func (t *tx) InsertTransaction(ctx context.Context, txn *transaction.Transaction) error {
	if _, err := t.col(colTransactions).InsertOne(ctx, toTransactionModel(txn, t.s.nextSeq())); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/mongo: insert transaction: %w", err)
	}
	return nil
}

func (t *tx) GetTransaction(ctx context.Context, txID id.ID) (*transaction.Transaction, error) {
	return getTransaction(ctx, t.col(colTransactions), txID)
}

func (t *tx) CompletePending(ctx context.Context, txID, wsID id.ID, status transaction.Status, at time.Time) error {
	res, err := t.col(colTransactions).UpdateOne(ctx,
		bson.M{
			"_id":          txID.String(),
			"workspace_id": wsID.String(),
			"status":       string(transaction.StatusPending),
			"kind":         string(transaction.KindCredit),
		},
		bson.M{"$set": bson.M{"status": string(status), "completed_at": at}},
	)
	if err != nil {
		return fmt.Errorf("coffer/mongo: complete pending: %w", err)
	}
	if res.MatchedCount == 0 {
		return coffer.ErrNotPending
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txID id.ID) (*transaction.Transaction, error) {
	return getTransaction(ctx, s.db.Collection(colTransactions), txID)
}

func getTransaction(ctx context.Context, col *mongo.Collection, txID id.ID) (*transaction.Transaction, error) {
	var m transactionModel
	if err := col.FindOne(ctx, bson.M{"_id": txID.String()}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, coffer.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("coffer/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, wsID id.ID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	opts = opts.Normalize()

	filter := bson.M{"workspace_id": wsID.String()}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	cursor, err := s.db.Collection(colTransactions).Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "seq", Value: -1}}).
			SetLimit(int64(opts.Limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("coffer/mongo: list transactions: %w", err)
	}
	var models []transactionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("coffer/mongo: list transactions: %w", err)
	}
	return convertAll(models, fromTransactionModel)
}

// ==================== Tribute Side Tables ====================

func (t *tx) GetPityStreak(ctx context.Context, wsID id.ID, instrumentID string) (int, error) {
	var m pityModel
	err := t.col(colPity).FindOne(ctx, bson.M{"_id": pityKey(wsID, instrumentID)}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("coffer/mongo: get pity streak: %w", err)
	}
	return m.Streak, nil
}

func (t *tx) SetPityStreak(ctx context.Context, wsID id.ID, instrumentID string, streak int) error {
	_, err := t.col(colPity).UpdateOne(ctx,
		bson.M{"_id": pityKey(wsID, instrumentID)},
		bson.M{"$set": bson.M{
			"workspace_id":  wsID.String(),
			"instrument_id": instrumentID,
			"streak":        streak,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("coffer/mongo: set pity streak: %w", err)
	}
	return nil
}

func (t *tx) InsertEffect(ctx context.Context, e *effect.ActiveEffect) error {
	if _, err := t.col(colEffects).InsertOne(ctx, toEffectModel(e)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/mongo: insert effect: %w", err)
	}
	return nil
}

func (t *tx) InsertCollectible(ctx context.Context, c *rarity.Collectible) error {
	m := &collectibleModel{
		ID:            c.ID.String(),
		Seq:           t.s.nextSeq(),
		WorkspaceID:   c.WorkspaceID.String(),
		CardID:        c.CardID,
		InstrumentID:  c.InstrumentID,
		TransactionID: c.TransactionID.String(),
		CreatedAt:     c.CreatedAt,
	}
	if _, err := t.col(colCollectibles).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("coffer/mongo: insert collectible: %w", err)
	}
	return nil
}

func (s *Store) ListEffects(ctx context.Context, wsID id.ID) ([]*effect.ActiveEffect, error) {
	cursor, err := s.db.Collection(colEffects).Find(ctx,
		bson.M{"workspace_id": wsID.String()},
		options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("coffer/mongo: list effects: %w", err)
	}
	var models []effectModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("coffer/mongo: list effects: %w", err)
	}
	return convertAll(models, fromEffectModel)
}

func (s *Store) PruneExpiredEffects(ctx context.Context, wsID id.ID, now time.Time) (int64, error) {
	filter := bson.M{"expires_at": bson.M{"$lte": now}}
	if !wsID.IsNil() {
		filter["workspace_id"] = wsID.String()
	}
	res, err := s.db.Collection(colEffects).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("coffer/mongo: prune effects: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) ListCollectibles(ctx context.Context, wsID id.ID) ([]*rarity.Collectible, error) {
	cursor, err := s.db.Collection(colCollectibles).Find(ctx,
		bson.M{"workspace_id": wsID.String()},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("coffer/mongo: list collectibles: %w", err)
	}
	var models []collectibleModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("coffer/mongo: list collectibles: %w", err)
	}
	return convertAll(models, fromCollectibleModel)
}

// ==================== Event Store ====================

func (t *tx) CreateEvent(ctx context.Context, e *event.Event) error {
	if _, err := t.col(colEvents).InsertOne(ctx, toEventModel(e)); err != nil {
		switch {
		case isActiveEventConflict(err):
			return coffer.ErrEventActive
		case mongo.IsDuplicateKeyError(err):
			return coffer.ErrAlreadyExists
		}
		return fmt.Errorf("coffer/mongo: create event: %w", err)
	}
	return nil
}

func (t *tx) LockActiveEvent(ctx context.Context) (*event.Event, error) {
	var m eventModel
	err := t.col(colEvents).FindOneAndUpdate(ctx,
		bson.M{"status": string(event.StatusActive)},
		bson.M{"$inc": lockBump()},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coffer.ErrEventNotFound
		}
		return nil, fmt.Errorf("coffer/mongo: lock active event: %w", err)
	}
	return fromEventModel(&m)
}

func (t *tx) UpdateEvent(ctx context.Context, e *event.Event) error {
	m := toEventModel(e)
	set := bson.M{
		"name":           m.Name,
		"pool_target":    m.PoolTarget,
		"current_pool":   m.CurrentPool,
		"reward_key":     m.RewardKey,
		"status":         m.Status,
		"expires_at":     m.ExpiresAt,
		"winner_user_id": m.WinnerUserID,
	}
	unset := bson.M{}
	if m.WinnerWorkspaceID != "" {
		set["winner_workspace_id"] = m.WinnerWorkspaceID
	} else {
		unset["winner_workspace_id"] = ""
	}
	if m.ConcludedAt != nil {
		set["concluded_at"] = *m.ConcludedAt
	} else {
		unset["concluded_at"] = ""
	}
	update := bson.M{"$set": set, "$inc": lockBump()}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := t.col(colEvents).UpdateOne(ctx, bson.M{"_id": m.ID}, update)
	if err != nil {
		return fmt.Errorf("coffer/mongo: update event: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: event %s", coffer.ErrNotFound, e.ID)
	}
	return nil
}

func (t *tx) InsertContribution(ctx context.Context, c *event.Contribution) error {
	m := &contributionModel{
		ID:            c.ID.String(),
		Seq:           t.s.nextSeq(),
		EventID:       c.EventID.String(),
		WorkspaceID:   c.WorkspaceID.String(),
		UserID:        c.UserID,
		Amount:        c.Amount.Hundredths(),
		TransactionID: c.TransactionID.String(),
		CreatedAt:     c.CreatedAt,
	}
	if _, err := t.col(colContributions).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("coffer/mongo: insert contribution: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID id.ID) (*event.Event, error) {
	var m eventModel
	if err := s.db.Collection(colEvents).FindOne(ctx, bson.M{"_id": eventID.String()}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: event %s", coffer.ErrNotFound, eventID)
		}
		return nil, fmt.Errorf("coffer/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) GetActiveEvent(ctx context.Context) (*event.Event, error) {
	var m eventModel
	err := s.db.Collection(colEvents).FindOne(ctx, bson.M{"status": string(event.StatusActive)}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coffer.ErrEventNotFound
		}
		return nil, fmt.Errorf("coffer/mongo: get active event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListContributions(ctx context.Context, eventID id.ID) ([]*event.Contribution, error) {
	cursor, err := s.db.Collection(colContributions).Find(ctx,
		bson.M{"event_id": eventID.String()},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("coffer/mongo: list contributions: %w", err)
	}
	var models []contributionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("coffer/mongo: list contributions: %w", err)
	}
	return convertAll(models, fromContributionModel)
}

// ==================== Helpers ====================

// migrationIndexes returns the index definitions for all coffer collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colWorkspaces: {
			{Keys: bson.D{{Key: "plan_tier", Value: 1}}},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "status", Value: 1}}},
		},
		colPity: {
			{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "instrument_id", Value: 1}}},
		},
		colEffects: {
			{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "expires_at", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		colCollectibles: {
			{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
		colEvents: {
			{
				Keys: bson.D{{Key: "status", Value: 1}},
				Options: options.Index().
					SetName(singleActiveEventIndex).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": string(event.StatusActive)}),
			},
		},
		colContributions: {
			{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
	}
}
