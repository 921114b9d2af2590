package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
)

type createWorkspaceRequest struct {
	Name           string        `json:"name"`
	PlanTier       string        `json:"plan_tier"`
	OpeningBalance types.Credits `json:"opening_balance"`
}

type changePlanRequest struct {
	PlanTier string `json:"plan_tier"`
}

type actionsRequest struct {
	Count int64 `json:"count"`
}

type tributeRequest struct {
	UserID       string        `json:"user_id"`
	InstrumentID string        `json:"instrument_id"`
	Amount       types.Credits `json:"amount"`
	PsycheTag    string        `json:"psyche_tag"`
}

// recordTransactionRequest carries a positive amount for both kinds; a
// DEBIT amount is the magnitude to take from the balance.
type recordTransactionRequest struct {
	Kind        transaction.Kind `json:"kind"`
	Amount      types.Credits    `json:"amount"`
	Description string           `json:"description"`
	UserID      string           `json:"user_id"`
	ExternalRef string           `json:"external_ref"`
	Pending     bool             `json:"pending"`
}

type activateEffectRequest struct {
	UserID string     `json:"user_id"`
	Key    effect.Key `json:"key"`
}

type createEventRequest struct {
	Name          string        `json:"name"`
	PoolTarget    types.Credits `json:"pool_target"`
	DurationHours int           `json:"duration_hours"`
	RewardKey     effect.Key    `json:"reward_key"`
}

type contributeRequest struct {
	WorkspaceID id.ID         `json:"workspace_id"`
	UserID      string        `json:"user_id"`
	Amount      types.Credits `json:"amount"`
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %w", coffer.ErrInvalidInput, err)
	}
	return nil
}

func pathID(r *http.Request, param string, parse func(string) (id.ID, error)) (id.ID, error) {
	v, err := parse(chi.URLParam(r, param))
	if err != nil {
		return id.Nil, fmt.Errorf("%w: %s: %w", coffer.ErrInvalidInput, param, err)
	}
	return v, nil
}

func workspaceID(r *http.Request) (id.ID, error) {
	return pathID(r, "workspaceID", id.ParseWorkspaceID)
}

// ──────────────────────────────────────────────────
// Workspaces
// ──────────────────────────────────────────────────

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ws, err := s.engine.CreateWorkspace(r.Context(), req.Name, req.PlanTier, req.OpeningBalance)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ws, err := s.engine.GetWorkspace(r.Context(), wsID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req changePlanRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ws, err := s.engine.ChangePlan(r.Context(), wsID, req.PlanTier)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// ──────────────────────────────────────────────────
// Billing
// ──────────────────────────────────────────────────

func (s *Server) handleGetAllowance(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.engine.GetAllowance(r.Context(), wsID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAuthorizeActions(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req actionsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	auth, err := s.engine.AuthorizeAgentActions(r.Context(), wsID, req.Count)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

// ──────────────────────────────────────────────────
// Tributes
// ──────────────────────────────────────────────────

func (s *Server) handleSubmitTribute(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req tributeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.SubmitTribute(r.Context(), coffer.TributeRequest{
		WorkspaceID:  wsID,
		UserID:       req.UserID,
		InstrumentID: req.InstrumentID,
		Amount:       req.Amount,
		PsycheTag:    req.PsycheTag,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListCollectibles(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cards, err := s.engine.ListCollectibles(r.Context(), wsID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := transaction.ListOpts{
		Kind:   transaction.Kind(q.Get("kind")),
		Status: transaction.Status(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}
	txns, err := s.engine.ListTransactions(r.Context(), wsID, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req recordTransactionRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount := req.Amount
	if req.Kind == transaction.KindDebit {
		if !amount.IsPositive() {
			s.fail(w, r, coffer.ValidationError{Field: "amount", Message: "debit amount must be positive"})
			return
		}
		amount = amount.Negate()
	}
	t, err := s.engine.RecordTransaction(r.Context(), wsID, req.Kind, amount, req.Description, transaction.Refs{
		UserID:      req.UserID,
		ExternalRef: req.ExternalRef,
		Pending:     req.Pending,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	s.settlePending(w, r, s.engine.ConfirmPendingTransaction)
}

func (s *Server) handleFailTransaction(w http.ResponseWriter, r *http.Request) {
	s.settlePending(w, r, s.engine.FailPendingTransaction)
}

func (s *Server) settlePending(w http.ResponseWriter, r *http.Request, settle func(ctx context.Context, txID, wsID id.ID) (*transaction.Transaction, error)) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	txID, err := pathID(r, "txID", id.ParseTransactionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := settle(r.Context(), txID, wsID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ──────────────────────────────────────────────────
// Effects
// ──────────────────────────────────────────────────

func (s *Server) handleListEffects(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	effects, err := s.engine.GetActiveEffects(r.Context(), wsID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, effects)
}

func (s *Server) handleActivateEffect(w http.ResponseWriter, r *http.Request) {
	wsID, err := workspaceID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req activateEffectRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	e, err := s.engine.ActivateEffect(r.Context(), req.UserID, wsID, req.Key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := s.engine.CreateEvent(r.Context(), req.Name, req.PoolTarget, req.DurationHours, req.RewardKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetActiveEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.engine.GetActiveEvent(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	var req contributeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.ContributeToGlobalEvent(r.Context(), req.WorkspaceID, req.UserID, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventID", id.ParseEventID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := s.engine.GetEvent(r.Context(), eventID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleListContributions(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventID", id.ParseEventID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	contribs, err := s.engine.ListContributions(r.Context(), eventID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contribs)
}
