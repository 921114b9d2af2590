package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/event"
	"github.com/xraph/coffer/id"
	"github.com/xraph/coffer/observability"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/store/memory"
	"github.com/xraph/coffer/transaction"
	"github.com/xraph/coffer/types"
	"github.com/xraph/coffer/workspace"
)

// zeroSource always draws the first bucket.
type zeroSource struct{}

func (zeroSource) Int64N(int64) int64 { return 0 }

func wheel() *rarity.Table {
	one := decimal.NewFromInt(1)
	tier := func(t rarity.Tier, weight int) rarity.TierSpec {
		return rarity.TierSpec{Tier: t, Weight: weight, Boons: []rarity.Boon{
			{Key: strings.ToLower(string(t)), Kind: rarity.BoonMultiplier, Weight: 100, Multiplier: one},
		}}
	}
	return &rarity.Table{
		InstrumentID: "wheel",
		Tiers: []rarity.TierSpec{
			tier(rarity.Common, 6000),
			tier(rarity.Uncommon, 2500),
			tier(rarity.Rare, 1000),
			tier(rarity.Mythic, 499),
			tier(rarity.Divine, 1),
		},
	}
}

type harness struct {
	t   *testing.T
	srv *httptest.Server
	reg *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	eng, err := coffer.New(memory.New(),
		coffer.WithLogger(slog.New(slog.DiscardHandler)),
		coffer.WithSigningKey([]byte("api-test-key")),
		coffer.WithRandSource(zeroSource{}),
		coffer.WithInstruments(wheel()),
		coffer.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
	)
	require.NoError(t, err)

	s := NewServer(eng, slog.New(slog.DiscardHandler))
	s.EnableMetrics(reg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, reg: reg}
}

// do sends body as JSON and decodes a successful response into out.
func (h *harness) do(method, path string, body any, out any) (int, apiError) {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	if resp.StatusCode >= 400 {
		var e struct {
			Error apiError `json:"error"`
		}
		require.NoError(h.t, json.Unmarshal(raw, &e), string(raw))
		return resp.StatusCode, e.Error
	}
	if out != nil {
		require.NoError(h.t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode, apiError{}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *harness) workspace(opening string) *workspace.Workspace {
	h.t.Helper()
	var ws workspace.Workspace
	status, e := h.do(http.MethodPost, "/workspaces", map[string]any{
		"name": "acme", "plan_tier": "free", "opening_balance": opening,
	}, &ws)
	require.Equal(h.t, http.StatusCreated, status, e.Message)
	return &ws
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	var body map[string]string
	status, _ := h.do(http.MethodGet, "/health", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestWorkspaceLifecycle(t *testing.T) {
	h := newHarness(t)
	ws := h.workspace("100.00")
	assert.Equal(t, types.FromMajor(100), ws.Balance)

	var got workspace.Workspace
	status, _ := h.do(http.MethodGet, "/workspaces/"+ws.ID.String(), nil, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ws.ID.String(), got.ID.String())

	status, e := h.do(http.MethodPut, "/workspaces/"+ws.ID.String()+"/plan", map[string]string{"plan_tier": "pro"}, &got)
	require.Equal(t, http.StatusOK, status, e.Message)
	assert.Equal(t, "pro", got.PlanTier)
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)
	ws := h.workspace("10.00")
	base := "/workspaces/" + ws.ID.String()

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"malformed id", http.MethodGet, "/workspaces/not-an-id", nil, http.StatusBadRequest, "invalid_input"},
		{"unknown workspace", http.MethodGet, "/workspaces/" + id.NewWorkspaceID().String(), nil, http.StatusNotFound, "not_found"},
		{"unknown field", http.MethodPost, "/workspaces", map[string]any{"nme": "x"}, http.StatusBadRequest, "invalid_input"},
		{"empty name", http.MethodPost, "/workspaces", map[string]any{"name": " ", "plan_tier": "free"}, http.StatusBadRequest, "invalid_input"},
		{"unknown plan", http.MethodPost, "/workspaces", map[string]any{"name": "x", "plan_tier": "gold"}, http.StatusInternalServerError, "configuration"},
		{"overdraft", http.MethodPost, base + "/transactions", map[string]any{"kind": "DEBIT", "amount": "10.01"}, http.StatusPaymentRequired, "insufficient_credits"},
		{"negative debit", http.MethodPost, base + "/transactions", map[string]any{"kind": "DEBIT", "amount": "-1"}, http.StatusBadRequest, "invalid_input"},
		{"zero debit", http.MethodPost, base + "/transactions", map[string]any{"kind": "DEBIT", "amount": "0"}, http.StatusBadRequest, "invalid_input"},
		{"credit past max balance", http.MethodPost, base + "/transactions", map[string]any{"kind": "CREDIT", "amount": "92233720368547758.07"}, http.StatusBadRequest, "invalid_input"},
		{"amount out of range", http.MethodPost, base + "/transactions", map[string]any{"kind": "CREDIT", "amount": "184467440737095517.16"}, http.StatusBadRequest, "invalid_input"},
		{"tribute overdraft", http.MethodPost, base + "/tributes", map[string]any{"instrument_id": "wheel", "amount": "11"}, http.StatusPaymentRequired, "insufficient_credits"},
		{"unknown instrument", http.MethodPost, base + "/tributes", map[string]any{"instrument_id": "nope", "amount": "1"}, http.StatusNotFound, "not_found"},
		{"unknown effect", http.MethodPost, base + "/effects", map[string]any{"key": "invisibility"}, http.StatusNotFound, "not_found"},
		{"no active event", http.MethodGet, "/events/active", nil, http.StatusNotFound, "not_found"},
		{"bad limit", http.MethodGet, base + "/transactions?limit=-1", nil, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, e := h.do(tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.wantStatus, status, e.Message)
			assert.Equal(t, tt.wantCode, e.Code)
		})
	}
}

func TestRecordDebitTakesMagnitude(t *testing.T) {
	h := newHarness(t)
	ws := h.workspace("10.00")
	path := "/workspaces/" + ws.ID.String() + "/transactions"

	var debit transaction.Transaction
	status, e := h.do(http.MethodPost, path, map[string]any{"kind": "DEBIT", "amount": "4.50", "description": "api calls"}, &debit)
	require.Equal(t, http.StatusCreated, status, e.Message)
	assert.Equal(t, transaction.KindDebit, debit.Kind)
	assert.Equal(t, types.MustParseCredits("-4.50"), debit.Amount)

	status, e = h.do(http.MethodPost, path, map[string]any{"kind": "DEBIT", "amount": "5.51"}, nil)
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_credits", e.Code)

	var got workspace.Workspace
	status, _ = h.do(http.MethodGet, "/workspaces/"+ws.ID.String(), nil, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.MustParseCredits("5.50"), got.Balance)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{coffer.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
		{coffer.ErrTransactionNotFound, http.StatusNotFound, "not_found"},
		{coffer.ErrAlreadyExists, http.StatusConflict, "already_exists"},
		{coffer.ErrNotPending, http.StatusConflict, "invalid_state"},
		{coffer.ErrEventActive, http.StatusConflict, "invalid_state"},
		{fmt.Errorf("coffer/postgres: lock: %w", coffer.ErrStorageConflict), http.StatusServiceUnavailable, "storage_conflict"},
		{coffer.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{coffer.ErrConfiguration, http.StatusInternalServerError, "configuration"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestPendingCreditConfirmOnce(t *testing.T) {
	h := newHarness(t)
	ws := h.workspace("0")
	base := "/workspaces/" + ws.ID.String()

	var pending transaction.Transaction
	status, e := h.do(http.MethodPost, base+"/transactions", map[string]any{
		"kind": "CREDIT", "amount": "49.00", "description": "top-up", "external_ref": "pi_123", "pending": true,
	}, &pending)
	require.Equal(t, http.StatusCreated, status, e.Message)
	assert.Equal(t, transaction.StatusPending, pending.Status)

	var confirmed transaction.Transaction
	status, e = h.do(http.MethodPost, base+"/transactions/"+pending.ID.String()+"/confirm", nil, &confirmed)
	require.Equal(t, http.StatusOK, status, e.Message)
	assert.Equal(t, transaction.StatusCompleted, confirmed.Status)

	status, e = h.do(http.MethodPost, base+"/transactions/"+pending.ID.String()+"/confirm", nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", e.Code)

	var got workspace.Workspace
	h.do(http.MethodGet, base, nil, &got)
	assert.Equal(t, types.FromMajor(49), got.Balance)

	var list []transaction.Transaction
	status, _ = h.do(http.MethodGet, base+"/transactions?kind=CREDIT&limit=10", nil, &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list, 1)
	assert.Equal(t, "pi_123", list[0].Refs.ExternalRef)
}

func TestActionsAndTribute(t *testing.T) {
	h := newHarness(t)
	ws := h.workspace("100.00")
	base := "/workspaces/" + ws.ID.String()

	var auth struct {
		Covered int64         `json:"covered"`
		Overage int64         `json:"overage"`
		Charged types.Credits `json:"charged"`
	}
	status, e := h.do(http.MethodPost, base+"/actions", map[string]int{"count": 102}, &auth)
	require.Equal(t, http.StatusOK, status, e.Message)
	assert.Equal(t, int64(100), auth.Covered)
	assert.Equal(t, int64(2), auth.Overage)
	assert.Equal(t, types.FromMajor(2), auth.Charged)

	var res coffer.TributeResult
	status, e = h.do(http.MethodPost, base+"/tributes", map[string]any{
		"user_id": "u1", "instrument_id": "wheel", "amount": "10.00",
	}, &res)
	require.Equal(t, http.StatusOK, status, e.Message)
	assert.Equal(t, rarity.Common, res.Tier)
	assert.Equal(t, types.FromMajor(98), res.Balance, "multiplier 1 refunds the tribute")

	body := h.metrics()
	assert.Contains(t, body, "coffer_tribute_tier_common_total 1")
	assert.Contains(t, body, "coffer_actions_overage_total 2")
}

func TestEffectsAndEvents(t *testing.T) {
	h := newHarness(t)
	ws := h.workspace("1000.00")
	base := "/workspaces/" + ws.ID.String()

	var active effect.ActiveEffect
	status, e := h.do(http.MethodPost, base+"/effects", map[string]any{"user_id": "u1", "key": "focus_mode"}, &active)
	require.Equal(t, http.StatusCreated, status, e.Message)
	assert.Equal(t, effect.KeyFocusMode, active.Key)

	var effects []effect.ActiveEffect
	status, _ = h.do(http.MethodGet, base+"/effects", nil, &effects)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, effects, 1)

	var ev event.Event
	status, e = h.do(http.MethodPost, "/events", map[string]any{
		"name": "Solstice", "pool_target": "100.00", "duration_hours": 24, "reward_key": "champion_aura",
	}, &ev)
	require.Equal(t, http.StatusCreated, status, e.Message)

	status, e = h.do(http.MethodPost, "/events", map[string]any{
		"name": "Equinox", "pool_target": "100.00", "duration_hours": 24, "reward_key": "champion_aura",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", e.Code)

	var res coffer.ContributionResult
	status, e = h.do(http.MethodPost, "/events/active/contributions", map[string]any{
		"workspace_id": ws.ID.String(), "user_id": "u1", "amount": "100.00",
	}, &res)
	require.Equal(t, http.StatusOK, status, e.Message)
	assert.True(t, res.EventConcluded)
	assert.Equal(t, ws.ID.String(), res.Winner.String())

	var contribs []event.Contribution
	status, _ = h.do(http.MethodGet, "/events/"+ev.ID.String()+"/contributions", nil, &contribs)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, contribs, 1)

	status, _ = h.do(http.MethodGet, "/events/active", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func (h *harness) metrics() string {
	h.t.Helper()
	resp, err := h.srv.Client().Get(h.srv.URL + "/metrics")
	require.NoError(h.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return string(raw)
}
