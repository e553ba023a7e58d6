/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates policies, employees,
	requests, and ledger activity that demonstrate specific features.

AVAILABLE SCENARIOS:

	standard-team:     Mixed request lifecycle across a small team
	year-end-rollover: Prior-year activity carried into the current year
	exempt-types:      Sick and maternity leave outside the shared quota
	escalation:        Oversized request needing above-threshold authority

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Upsert policies
 3. Drive the real lifecycle (submit/decide) and ledger operations
    so every seeded row went through the same invariants as production
    traffic

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "standard-team"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - leave/presets.go: Policy presets the scenarios seed
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-team",
		Name:        "Standard Team",
		Description: "Three employees with submitted, approved, and rejected requests",
	},
	{
		ID:          "year-end-rollover",
		Name:        "Year-End Rollover",
		Description: "Prior-year remainder carried forward under the policy cap",
	},
	{
		ID:          "exempt-types",
		Name:        "Exempt Leave Types",
		Description: "Sick and maternity leave that never touch the shared annual quota",
	},
	{
		ID:          "escalation",
		Name:        "Approval Escalation",
		Description: "A request larger than every configured threshold, needing admin authority",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var body LoadScenarioBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	if err := rs.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.Ledger.DropCache()
	h.currentScenario = ""

	var err error
	switch body.ScenarioID {
	case "standard-team":
		err = h.loadStandardTeamScenario(ctx)
	case "year-end-rollover":
		err = h.loadRolloverScenario(ctx)
	case "exempt-types":
		err = h.loadExemptTypesScenario(ctx)
	case "escalation":
		err = h.loadEscalationScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", body.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = body.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": body.ScenarioID,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedPolicies(ctx context.Context, policies []leave.LeavePolicy) error {
	for _, p := range policies {
		if err := h.Store.UpsertPolicy(ctx, p); err != nil {
			return fmt.Errorf("seed policy %s: %w", p.LeaveType, err)
		}
	}
	return nil
}

// loadStandardTeamScenario drives the lifecycle for a three-person team:
// an approved vacation, a pending casual day, and a rejected oversize ask.
func (h *Handler) loadStandardTeamScenario(ctx context.Context) error {
	if err := h.seedPolicies(ctx, leave.DefaultPolicies()); err != nil {
		return err
	}

	start := leave.Today().AddDays(14)

	// Alice: approved five-day vacation.
	req, _, err := h.Lifecycle.Submit(ctx, leave.SubmitInput{
		EmployeeID: "alice",
		LeaveType:  "Annual Leave",
		StartDate:  start,
		EndDate:    start.AddDays(4),
		Reason:     "Family trip",
	})
	if err != nil {
		return fmt.Errorf("alice submit: %w", err)
	}
	if _, err := h.Lifecycle.Decide(ctx, leave.DecideInput{
		RequestID:  req.ID,
		ApproverID: "dana",
		Authority:  leave.AuthorityDepartmentHead,
		Decision:   leave.DecisionApprove,
	}); err != nil {
		return fmt.Errorf("alice approve: %w", err)
	}

	// Bob: casual day still awaiting a decision.
	if _, _, err := h.Lifecycle.Submit(ctx, leave.SubmitInput{
		EmployeeID: "bob",
		LeaveType:  "Casual Leave",
		StartDate:  start,
		EndDate:    start,
		Reason:     "Errands",
	}); err != nil {
		return fmt.Errorf("bob submit: %w", err)
	}

	// Carol: rejected long request.
	req, _, err = h.Lifecycle.Submit(ctx, leave.SubmitInput{
		EmployeeID: "carol",
		LeaveType:  "Annual Leave",
		StartDate:  start,
		EndDate:    start.AddDays(9),
		Reason:     "Extended travel",
	})
	if err != nil {
		return fmt.Errorf("carol submit: %w", err)
	}
	if _, err := h.Lifecycle.Decide(ctx, leave.DecideInput{
		RequestID:  req.ID,
		ApproverID: "dana",
		Authority:  leave.AuthorityDepartmentHead,
		Decision:   leave.DecisionReject,
		Note:       "Team coverage too thin that fortnight",
	}); err != nil {
		return fmt.Errorf("carol reject: %w", err)
	}

	return nil
}

// loadRolloverScenario seeds prior-year usage and runs the carry-forward
// batch into the current year.
func (h *Handler) loadRolloverScenario(ctx context.Context) error {
	if err := h.seedPolicies(ctx, leave.DefaultPolicies()); err != nil {
		return err
	}

	lastYear := time.Now().Year() - 1
	usageDate := leave.NewDate(lastYear, time.August, 3)

	// Materialize the prior-year allocation, then consume part of it so a
	// remainder exists to carry.
	for _, emp := range []leave.EmployeeID{"alice", "bob"} {
		if _, err := h.Ledger.Balance(ctx, emp, "Annual Leave", lastYear); err != nil {
			return fmt.Errorf("materialize %s: %w", emp, err)
		}
		if _, err := h.Ledger.Append(ctx, leave.Transaction{
			EmployeeID:  emp,
			LeaveType:   "Annual Leave",
			Year:        lastYear,
			Type:        leave.TxUsed,
			Amount:      leave.DaysFromInt(8),
			Date:        usageDate,
			Description: "Summer vacation",
		}); err != nil {
			return fmt.Errorf("seed usage %s: %w", emp, err)
		}
	}

	if _, err := runRollover(ctx, h.Store, h.Ledger, h.logger, lastYear+1, "scenario"); err != nil {
		return fmt.Errorf("rollover: %w", err)
	}
	return nil
}

// loadExemptTypesScenario shows sick and maternity leave bypassing the
// shared annual quota.
func (h *Handler) loadExemptTypesScenario(ctx context.Context) error {
	if err := h.seedPolicies(ctx, leave.DefaultPolicies()); err != nil {
		return err
	}

	start := leave.Today().AddDays(2)

	req, _, err := h.Lifecycle.Submit(ctx, leave.SubmitInput{
		EmployeeID: "alice",
		LeaveType:  "Sick Leave",
		StartDate:  start,
		EndDate:    start.AddDays(1),
		Reason:     "Flu",
		Priority:   leave.PriorityUrgent,
	})
	if err != nil {
		return fmt.Errorf("sick submit: %w", err)
	}
	if _, err := h.Lifecycle.Decide(ctx, leave.DecideInput{
		RequestID:  req.ID,
		ApproverID: "dana",
		Authority:  leave.AuthorityManager,
		Decision:   leave.DecisionApprove,
	}); err != nil {
		return fmt.Errorf("sick approve: %w", err)
	}

	matStart := leave.Today().AddDays(30)
	if _, _, err := h.Lifecycle.Submit(ctx, leave.SubmitInput{
		EmployeeID: "erin",
		LeaveType:  "Maternity Leave",
		StartDate:  matStart,
		EndDate:    matStart.AddDays(89),
		Reason:     "Parental leave",
	}); err != nil {
		return fmt.Errorf("maternity submit: %w", err)
	}

	return nil
}

// loadEscalationScenario seeds a sabbatical policy whose highest threshold
// is below the pending request, so only above-threshold authority can
// approve it.
func (h *Handler) loadEscalationScenario(ctx context.Context) error {
	policies := leave.DefaultPolicies()
	sabbatical := leave.LeavePolicy{
		LeaveType:             "Sabbatical",
		Description:           "Extended unpaid study leave",
		DefaultAllocation:     leave.DaysFromInt(30),
		MaxConsecutiveDays:    30,
		MinAdvanceNoticeDays:  7,
		MaxAdvanceBookingDays: 180,
		ExemptFromAnnualQuota: true,
		ApprovalThresholds: []leave.ApprovalThreshold{
			{Level: leave.AuthorityManager, MaxDays: leave.DaysFromInt(3)},
			{Level: leave.AuthorityDepartmentHead, MaxDays: leave.DaysFromInt(10)},
		},
		IsActive: true,
	}
	if err := h.seedPolicies(ctx, append(policies, sabbatical)); err != nil {
		return err
	}

	start := leave.Today().AddDays(30)
	if _, _, err := h.Lifecycle.Submit(ctx, leave.SubmitInput{
		EmployeeID: "frank",
		LeaveType:  "Sabbatical",
		StartDate:  start,
		EndDate:    start.AddDays(13),
		Reason:     "Research residency",
	}); err != nil {
		return fmt.Errorf("sabbatical submit: %w", err)
	}

	return nil
}
