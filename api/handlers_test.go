/*
handlers_test.go - HTTP tests for the budget API

Tests for:
- Source saves feeding the Live budget through the router
- Error kinds mapped to HTTP status codes
- X-Allow-Live-Manual-Lines and optimistic versions on line saves
- Refresh queue and verify endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/store/sqlite"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := budget.NewEngine(store, budget.WithClock(func() time.Time { return testNow }))
	return NewHandler(engine, nil)
}

type call struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

// do sends c through the full router and returns the recorded response.
func do(t *testing.T, h *Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", "alice")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func seedMasterData(t *testing.T, h *Handler) {
	t.Helper()
	for _, c := range []call{
		{method: http.MethodPut, path: "/api/fiscal-years/2025", body: map[string]string{}},
		{method: http.MethodPut, path: "/api/fiscal-years/2026", body: map[string]string{}},
		{method: http.MethodPut, path: "/api/cost-centers/Platform", body: map[string]string{}},
	} {
		rec := do(t, h, c)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func createLive(t *testing.T, h *Handler, year string) budget.Budget {
	t.Helper()
	rec := do(t, h, call{method: http.MethodPost, path: "/api/budgets/live", body: CreateLiveBudgetRequest{Year: year}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[budget.Budget](t, rec)
}

func annualContract(amount string) map[string]any {
	return map[string]any{
		"cost_center": "Platform",
		"status":      "Active",
		"start_date":  "2025-01-01",
		"end_date":    "2025-12-31",
		"terms": []map[string]any{{
			"from_date":     "2025-01-01",
			"amount":        amount,
			"vat_rate":      "0",
			"billing_cycle": "Annual",
		}},
	}
}

// =============================================================================
// SOURCES FEED THE LIVE BUDGET
// =============================================================================

func TestAPI_ContractFeedsLiveBudget(t *testing.T) {
	// GIVEN: master data and a Live draft for 2025
	h := setupTestHandler(t)
	seedMasterData(t, h)
	live := createLive(t, h, "2025")
	assert.Equal(t, "BUD-2025-LIVE-0001", live.Name)

	// WHEN: an annual contract of 1000 is saved
	rec := do(t, h, call{method: http.MethodPut, path: "/api/contracts/CT-1", body: annualContract("1000")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decodeBody[ContractResponse](t, rec)
	assert.Equal(t, "CT-1", saved.Contract.Name)

	// THEN: the Live budget carries one generated line with the contract's value
	rec = do(t, h, call{method: http.MethodGet, path: "/api/budgets/" + live.Name})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[budget.Budget](t, rec)
	require.Len(t, got.Lines, 1)
	line := got.Lines[0]
	assert.Equal(t, budget.ContractKey("CT-1"), line.SourceKey)
	assert.True(t, line.IsGenerated)
	assert.True(t, line.AnnualNet.Equal(decimal.NewFromInt(1000)), line.AnnualNet.String())
	assert.True(t, got.Totals.Net.Equal(decimal.NewFromInt(1000)))

	// AND: a manual refresh reports no change and leaves a comment
	rec = do(t, h, call{method: http.MethodPost, path: "/api/budgets/" + live.Name + "/refresh", body: RefreshRequest{Reason: "check"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[budget.RefreshReport](t, rec)
	assert.False(t, report.Changed)
	assert.False(t, report.Skipped)

	rec = do(t, h, call{method: http.MethodGet, path: "/api/budgets/" + live.Name + "/comments"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[[]budget.Comment](t, rec))
}

// =============================================================================
// ERROR STATUS MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	h := setupTestHandler(t)
	seedMasterData(t, h)
	createLive(t, h, "2025")

	noRate := annualContract("1000")
	noRate["terms"] = []map[string]any{{"from_date": "2025-01-01", "amount": "1000", "billing_cycle": "Annual"}}

	tests := []struct {
		name string
		call call
		want int
	}{
		{"unknown budget", call{method: http.MethodGet, path: "/api/budgets/BUD-2025-LIVE-0099"}, http.StatusNotFound},
		{"unknown contract", call{method: http.MethodDelete, path: "/api/contracts/nope"}, http.StatusNotFound},
		{"second live draft", call{method: http.MethodPost, path: "/api/budgets/live", body: CreateLiveBudgetRequest{Year: "2025"}}, http.StatusConflict},
		{"missing vat rate", call{method: http.MethodPut, path: "/api/contracts/CT-X", body: noRate}, http.StatusUnprocessableEntity},
		{"bad year", call{method: http.MethodPost, path: "/api/budgets/live", body: CreateLiveBudgetRequest{Year: "25"}}, http.StatusBadRequest},
		{"bad status", call{method: http.MethodPut, path: "/api/contracts/CT-Y", body: map[string]any{"cost_center": "Platform", "status": "Paused"}}, http.StatusBadRequest},
		{"empty enqueue", call{method: http.MethodPost, path: "/api/refresh-queue", body: EnqueueRequest{}}, http.StatusBadRequest},
		{"unknown scenario", call{method: http.MethodPost, path: "/api/scenarios/load", body: LoadScenarioRequest{ScenarioID: "nope"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.call)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestAPI_MalformedBody(t *testing.T) {
	h := setupTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/budgets/live", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// MANUAL LINES
// =============================================================================

func TestAPI_ManualLinesNeedHeaderAndCurrentVersion(t *testing.T) {
	// GIVEN: an empty Live draft
	h := setupTestHandler(t)
	seedMasterData(t, h)
	live := createLive(t, h, "2025")
	path := "/api/budgets/" + live.Name + "/lines"
	lines := []budget.Line{{
		Kind:          budget.LineManual,
		CostCenter:    "Platform",
		Description:   "Ad-hoc licences",
		MonthlyAmount: decimal.NewFromInt(50),
		VATRate:       budget.Rate(0),
		Recurrence:    budget.RecurrenceMonthly,
	}}
	req := SaveLinesRequest{Version: live.Version, Lines: lines}

	// WHEN: a manual line is saved without the permission header
	rec := do(t, h, call{method: http.MethodPut, path: path, body: req})

	// THEN: the state machine refuses it
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// WHEN: the header grants manual lines on Live budgets
	allow := map[string]string{"X-Allow-Live-Manual-Lines": "true"}
	rec = do(t, h, call{method: http.MethodPut, path: path, body: req, headers: allow})

	// THEN: the line is stored and counted
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[budget.Budget](t, rec)
	assert.Equal(t, live.Version+1, got.Version)
	assert.True(t, got.Totals.Net.Equal(decimal.NewFromInt(600)), got.Totals.Net.String())

	// AND: replaying the old version is a conflict
	rec = do(t, h, call{method: http.MethodPut, path: path, body: req, headers: allow})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

func TestAPI_EnqueueRefreshRunsInline(t *testing.T) {
	h := setupTestHandler(t)
	seedMasterData(t, h)
	live := createLive(t, h, "2025")

	rec := do(t, h, call{method: http.MethodPost, path: "/api/refresh-queue", body: EnqueueRequest{Years: []string{"2025", "2031"}}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decodeBody[EnqueueResponse](t, rec)
	assert.Equal(t, []string{live.Name}, resp.Budgets, "out-of-horizon years are ignored")
	assert.Equal(t, []string{"2025", "2026"}, resp.Horizon)
	assert.False(t, resp.Deferred)

	rec = do(t, h, call{method: http.MethodGet, path: "/api/refresh-queue"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_VerifyCleanStore(t *testing.T) {
	h := setupTestHandler(t)
	seedMasterData(t, h)
	createLive(t, h, "2025")
	do(t, h, call{method: http.MethodPut, path: "/api/contracts/CT-1", body: annualContract("1000")})

	rec := do(t, h, call{method: http.MethodGet, path: "/api/verify"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[VerifyResponse](t, rec)
	assert.True(t, resp.OK, "%v", resp.Violations)
	assert.Empty(t, resp.Violations)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(budget.ErrLockNotObtained))
	assert.Equal(t, http.StatusConflict, statusFor(budget.ErrSnapshotImmutable))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(budget.ErrZeroOverlap))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
