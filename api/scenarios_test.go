package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

func loadScenario(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioBody{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenario_List(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, 4)

	ids := make(map[string]bool)
	for _, s := range list {
		ids[s.ID] = true
	}
	for _, id := range []string{"standard-team", "year-end-rollover", "exempt-types", "escalation"} {
		assert.True(t, ids[id], "missing scenario %s", id)
	}
}

func TestScenario_StandardTeam(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "standard-team")

	rec := doJSON(t, router, http.MethodGet, "/api/requests", nil)
	requests := decode[[]RequestDTO](t, rec)
	require.Len(t, requests, 3)

	byEmployee := make(map[string]RequestDTO)
	for _, r := range requests {
		byEmployee[r.EmployeeID] = r
	}
	assert.Equal(t, "approved", byEmployee["alice"].Status)
	assert.Equal(t, "pending", byEmployee["bob"].Status)
	assert.Equal(t, "rejected", byEmployee["carol"].Status)

	// Carol's rejection restored her balance; only Alice's days are used.
	year := leave.Today().AddDays(14).Year()
	balRec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/balances/carol?year=%d", year), nil)
	balances := decode[EmployeeBalancesDTO](t, balRec)
	for _, b := range balances.Balances {
		if b.LeaveType == "Annual Leave" {
			assert.Equal(t, "15", b.Remaining)
		}
	}

	curRec := doJSON(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "standard-team", decode[ScenarioDTO](t, curRec).ID)
}

func TestScenario_YearEndRollover(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "year-end-rollover")

	year := leave.Today().Year()
	rec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/balances/alice?year=%d", year), nil)
	balances := decode[EmployeeBalancesDTO](t, rec)

	// 15 allocated, 8 used last year: remainder 7 capped at the 5-day limit.
	var annual *BalanceDTO
	for i := range balances.Balances {
		if balances.Balances[i].LeaveType == "Annual Leave" {
			annual = &balances.Balances[i]
		}
	}
	require.NotNil(t, annual)
	assert.Equal(t, "5", annual.CarriedForward)

	runsRec := doJSON(t, router, http.MethodGet, "/api/admin/rollover/runs", nil)
	var runsResp struct {
		Runs []RolloverRunDTO `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(runsRec.Body).Decode(&runsResp))
	require.NotEmpty(t, runsResp.Runs)
	assert.Equal(t, "completed", runsResp.Runs[0].Status)
}

func TestScenario_ExemptTypes(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "exempt-types")

	// Alice's sick leave never touched the shared quota.
	year := leave.Today().AddDays(2).Year()
	rec := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/balances/alice?year=%d", year), nil)
	balances := decode[EmployeeBalancesDTO](t, rec)

	byType := make(map[string]BalanceDTO)
	for _, b := range balances.Balances {
		byType[b.LeaveType] = b
	}
	assert.Equal(t, "2", byType["Sick Leave"].Used)
	assert.Equal(t, "0", byType[string(leave.AnnualQuotaType)].Used)
	assert.Equal(t, "0", byType[string(leave.AnnualQuotaType)].Pending)
}

func TestScenario_Escalation(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "escalation")

	rec := doJSON(t, router, http.MethodGet, "/api/requests?employee_id=frank", nil)
	requests := decode[[]RequestDTO](t, rec)
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, "14", req.TotalDays)

	// Department head holds the highest configured threshold (10 days) and
	// still cannot approve: escalation demands authority strictly above it.
	decRec := doJSON(t, router, http.MethodPost, "/api/requests/"+req.ID+"/decision", DecisionBody{
		ApproverID: "dana",
		Authority:  "department_head",
		Decision:   "approve",
	})
	require.Equal(t, http.StatusForbidden, decRec.Code)

	decRec = doJSON(t, router, http.MethodPost, "/api/requests/"+req.ID+"/decision", DecisionBody{
		ApproverID: "root",
		Authority:  "admin",
		Decision:   "approve",
	})
	require.Equal(t, http.StatusOK, decRec.Code, decRec.Body.String())
	assert.Equal(t, "approved", decode[RequestDTO](t, decRec).Status)
}

func TestScenario_ResetClearsEverything(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "standard-team")

	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	listRec := doJSON(t, router, http.MethodGet, "/api/requests", nil)
	assert.Empty(t, decode[[]RequestDTO](t, listRec))

	curRec := doJSON(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", strings.TrimSpace(curRec.Body.String()))
}
