package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

func newTestServer(t *testing.T) (*Handler, http.Handler) {
	t.Helper()

	st := store.NewTxMemory()
	for _, p := range leave.DefaultPolicies() {
		require.NoError(t, st.UpsertPolicy(context.Background(), p))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(st, logger)
	return h, NewRouter(h, nil)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func futureDate(days int) string {
	return leave.Today().AddDays(days).String()
}

func submitRequest(t *testing.T, router http.Handler, employeeID, leaveType string, startOffset, endOffset int) RequestDTO {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/requests", SubmitRequestBody{
		EmployeeID: employeeID,
		LeaveType:  leaveType,
		StartDate:  futureDate(startOffset),
		EndDate:    futureDate(endOffset),
		Reason:     "test",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[SubmitResponseDTO](t, rec)
	require.NotNil(t, resp.Request)
	return *resp.Request
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestAPI_SubmitRequest(t *testing.T) {
	_, router := newTestServer(t)

	req := submitRequest(t, router, "emp-1", "Annual Leave", 14, 18)
	assert.Equal(t, "pending", req.Status)
	assert.Equal(t, "5", req.TotalDays)

	// The reservation shows up as pending balance.
	year := leave.Today().AddDays(14).Year()
	rec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/balances/emp-1?year=%d", year), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	balances := decode[EmployeeBalancesDTO](t, rec)
	var annual *BalanceDTO
	for i := range balances.Balances {
		if balances.Balances[i].LeaveType == "Annual Leave" {
			annual = &balances.Balances[i]
		}
	}
	require.NotNil(t, annual)
	assert.Equal(t, "5", annual.Pending)
	assert.Equal(t, "10", annual.Remaining)
}

func TestAPI_SubmitValidationFailure(t *testing.T) {
	_, router := newTestServer(t)

	// Tomorrow start against the 3-day notice rule, and over the 10-day cap.
	rec := doJSON(t, router, http.MethodPost, "/api/requests", SubmitRequestBody{
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		StartDate:  futureDate(1),
		EndDate:    futureDate(20),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[SubmitResponseDTO](t, rec)
	assert.Nil(t, resp.Request)
	assert.NotEmpty(t, resp.Violations)

	codes := make(map[string]bool)
	for _, v := range resp.Violations {
		codes[v.Code] = true
	}
	assert.True(t, codes["insufficient_notice"])
	assert.True(t, codes["exceeds_consecutive_days"])

	// Nothing was persisted.
	listRec := doJSON(t, router, http.MethodGet, "/api/requests?employee_id=emp-1", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	assert.Empty(t, decode[[]RequestDTO](t, listRec))
}

func TestAPI_DecisionApprove(t *testing.T) {
	_, router := newTestServer(t)

	req := submitRequest(t, router, "emp-1", "Annual Leave", 14, 18)

	rec := doJSON(t, router, http.MethodPost, "/api/requests/"+req.ID+"/decision", DecisionBody{
		ApproverID: "mgr-1",
		Authority:  "department_head",
		Decision:   "approve",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	decided := decode[RequestDTO](t, rec)
	assert.Equal(t, "approved", decided.Status)
	assert.Equal(t, "mgr-1", decided.DecidedBy)
	require.NotNil(t, decided.DecidedAt)
}

func TestAPI_DecisionUnderAuthority(t *testing.T) {
	_, router := newTestServer(t)

	// Five days needs department_head under the standard thresholds.
	req := submitRequest(t, router, "emp-1", "Annual Leave", 14, 18)

	rec := doJSON(t, router, http.MethodPost, "/api/requests/"+req.ID+"/decision", DecisionBody{
		ApproverID: "mgr-1",
		Authority:  "manager",
		Decision:   "approve",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_authority", resp.Code)

	// Request is still pending.
	getRec := doJSON(t, router, http.MethodGet, "/api/requests/"+req.ID, nil)
	assert.Equal(t, "pending", decode[RequestDTO](t, getRec).Status)
}

func TestAPI_CancelApprovedRequest(t *testing.T) {
	_, router := newTestServer(t)

	req := submitRequest(t, router, "emp-1", "Annual Leave", 14, 16)
	doJSON(t, router, http.MethodPost, "/api/requests/"+req.ID+"/decision", DecisionBody{
		ApproverID: "mgr-1",
		Authority:  "department_head",
		Decision:   "approve",
	})

	rec := doJSON(t, router, http.MethodPost, "/api/requests/"+req.ID+"/cancel", CancelBody{
		ActorID: "emp-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cancelled := decode[RequestDTO](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	// Balance is fully restored.
	year := leave.Today().AddDays(14).Year()
	balRec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/balances/emp-1?year=%d", year), nil)
	balances := decode[EmployeeBalancesDTO](t, balRec)
	for _, b := range balances.Balances {
		if b.LeaveType == "Annual Leave" {
			assert.Equal(t, "15", b.Remaining)
		}
	}
}

func TestAPI_CancelPendingRejected(t *testing.T) {
	_, router := newTestServer(t)

	req := submitRequest(t, router, "emp-1", "Annual Leave", 14, 16)

	rec := doJSON(t, router, http.MethodPost, "/api/requests/"+req.ID+"/cancel", CancelBody{
		ActorID: "emp-1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_RequestNotFound(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/requests/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ListRequestsFilters(t *testing.T) {
	_, router := newTestServer(t)

	first := submitRequest(t, router, "emp-1", "Annual Leave", 14, 15)
	submitRequest(t, router, "emp-2", "Casual Leave", 20, 20)
	doJSON(t, router, http.MethodPost, "/api/requests/"+first.ID+"/decision", DecisionBody{
		ApproverID: "mgr-1",
		Authority:  "manager",
		Decision:   "reject",
	})

	rec := doJSON(t, router, http.MethodGet, "/api/requests?employee_id=emp-1", nil)
	requests := decode[[]RequestDTO](t, rec)
	require.Len(t, requests, 1)
	assert.Equal(t, "rejected", requests[0].Status)

	rec = doJSON(t, router, http.MethodGet, "/api/requests?status=pending", nil)
	requests = decode[[]RequestDTO](t, rec)
	require.Len(t, requests, 1)
	assert.Equal(t, "emp-2", requests[0].EmployeeID)
}

// =============================================================================
// BALANCES AND TRANSACTIONS
// =============================================================================

func TestAPI_BalancesMaterializeOnFirstRead(t *testing.T) {
	_, router := newTestServer(t)

	year := leave.Today().Year()
	rec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/balances/emp-9?year=%d", year), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	balances := decode[EmployeeBalancesDTO](t, rec)
	byType := make(map[string]BalanceDTO)
	for _, b := range balances.Balances {
		byType[b.LeaveType] = b
	}
	assert.Equal(t, "15", byType["Annual Leave"].TotalAllocated)
	assert.Equal(t, "10", byType["Sick Leave"].TotalAllocated)
	assert.Equal(t, "25", byType[string(leave.AnnualQuotaType)].TotalAllocated)
}

func TestAPI_TransactionHistory(t *testing.T) {
	_, router := newTestServer(t)

	req := submitRequest(t, router, "emp-1", "Annual Leave", 14, 15)
	year := leave.Today().AddDays(14).Year()

	rec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/balances/emp-1/transactions?year=%d&leave_type=Annual+Leave", year), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	txs := decode[[]TransactionDTO](t, rec)
	require.NotEmpty(t, txs)

	var sawAllocation, sawReservation bool
	for _, tx := range txs {
		if tx.Type == "allocated" {
			sawAllocation = true
		}
		if tx.Type == "used" && tx.Provisional && tx.LeaveID == req.ID {
			sawReservation = true
		}
	}
	assert.True(t, sawAllocation)
	assert.True(t, sawReservation)
}

func TestAPI_StatementPDF(t *testing.T) {
	_, router := newTestServer(t)

	year := leave.Today().Year()
	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/balances/emp-1/statement?year=%d", year), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

// =============================================================================
// POLICIES
// =============================================================================

func TestAPI_PolicyUpsertAndGet(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/policies", map[string]any{
		"config": map[string]any{
			"leave_type":           "Study Leave",
			"default_allocation":   "5",
			"max_consecutive_days": 5,
			"approval_thresholds": []map[string]string{
				{"level": "manager", "max_days": "5"},
			},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[PolicyDTO](t, rec)
	assert.Equal(t, "Study Leave", created.Config.LeaveType)
	assert.Equal(t, 1, created.Version)

	getRec := doJSON(t, router, http.MethodGet, "/api/policies/Study%20Leave", nil)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "5", decode[PolicyDTO](t, getRec).Config.DefaultAllocation)
}

func TestAPI_PolicyInvalidThresholds(t *testing.T) {
	_, router := newTestServer(t)

	// Descending thresholds are rejected before anything persists.
	rec := doJSON(t, router, http.MethodPost, "/api/policies", map[string]any{
		"config": map[string]any{
			"leave_type":           "Broken",
			"default_allocation":   "5",
			"max_consecutive_days": 5,
			"approval_thresholds": []map[string]string{
				{"level": "department_head", "max_days": "10"},
				{"level": "manager", "max_days": "3"},
			},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	getRec := doJSON(t, router, http.MethodGet, "/api/policies/Broken", nil)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_ManualAdjustment(t *testing.T) {
	_, router := newTestServer(t)

	year := leave.Today().Year()
	rec := doJSON(t, router, http.MethodPost, "/api/admin/adjustments", AdjustmentBody{
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		Year:       year,
		Amount:     "2",
		Reason:     "Service award",
		ActorID:    "hr-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	balance := decode[BalanceDTO](t, rec)
	assert.Equal(t, "17", balance.TotalAllocated)

	// Adjustment without a reason is rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/admin/adjustments", AdjustmentBody{
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		Year:       year,
		Amount:     "-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_RolloverAndRuns(t *testing.T) {
	h, router := newTestServer(t)
	ctx := context.Background()

	// Prior-year activity leaves a remainder to carry.
	lastYear := leave.Today().Year() - 1
	_, err := h.Ledger.Balance(ctx, "emp-1", "Annual Leave", lastYear)
	require.NoError(t, err)
	_, err = h.Ledger.Append(ctx, leave.Transaction{
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		Year:       lastYear,
		Type:       leave.TxUsed,
		Amount:     leave.DaysFromInt(8),
		Date:       leave.NewDate(lastYear, 8, 3),
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/api/admin/rollover", RolloverBody{
		TargetYear: lastYear + 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[RolloverResultDTO](t, rec)
	assert.Equal(t, 1, result.EmployeesProcessed)
	assert.GreaterOrEqual(t, result.TransactionsCreated, 1)

	runsRec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/admin/rollover/runs?target_year=%d", lastYear+1), nil)
	require.Equal(t, http.StatusOK, runsRec.Code)

	var runsResp struct {
		Runs []RolloverRunDTO `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(runsRec.Body).Decode(&runsResp))
	require.NotEmpty(t, runsResp.Runs)
	assert.Equal(t, "completed", runsResp.Runs[0].Status)
}

func TestAPI_AuditTrail(t *testing.T) {
	_, router := newTestServer(t)

	req := submitRequest(t, router, "emp-1", "Annual Leave", 14, 15)
	doJSON(t, router, http.MethodPost, "/api/requests/"+req.ID+"/decision", DecisionBody{
		ApproverID: "mgr-1",
		Authority:  "manager",
		Decision:   "approve",
	})

	rec := doJSON(t, router, http.MethodGet, "/api/admin/audit?employee_id=emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []AuditEntryDTO `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Entries, 2)

	// Newest first.
	assert.Equal(t, "request_approved", resp.Entries[0].Action)
	assert.Equal(t, "request_submitted", resp.Entries[1].Action)
}

// =============================================================================
// MISC
// =============================================================================

func TestAPI_Health(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_MalformedJSON(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
