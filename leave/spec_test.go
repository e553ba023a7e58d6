/*
spec_test.go - Executable specifications for the leave engine

PURPOSE:
  Each test documents one guaranteed behavior of the accounting core:
  the append-only ledger, lazy materialization, the balance invariant,
  the request state machine, and the concurrency contract. Read them as
  the behavioral contract of the package.

READING THESE TESTS:
  - A descriptive name stating the behavior
  - GIVEN/WHEN/THEN comments explaining the scenario
  - Assertions with explanatory messages
*/
package leave_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

// testToday pins the clock: far enough into the year that notice windows
// and mid-year requests behave deterministically.
var testToday = leave.NewDate(2026, time.June, 1)

type engine struct {
	store     *store.TxMemory
	ledger    *leave.Ledger
	validator *leave.QuotaValidator
	lifecycle *leave.Lifecycle
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	ts := store.NewTxMemory()
	ledger := leave.NewLedger(ts, ts)
	ledger.Now = func() leave.Date { return testToday }

	validator := leave.NewQuotaValidator(ledger, ts, ts)
	validator.Now = func() leave.Date { return testToday }

	lifecycle := leave.NewLifecycle(ts, ledger, validator, slog.New(slog.NewTextHandler(io.Discard, nil)))
	lifecycle.Now = func() time.Time { return testToday.Time }

	ctx := context.Background()
	for _, p := range leave.DefaultPolicies() {
		if err := ts.UpsertPolicy(ctx, p); err != nil {
			t.Fatalf("seed policy %s: %v", p.LeaveType, err)
		}
	}

	return &engine{store: ts, ledger: ledger, validator: validator, lifecycle: lifecycle}
}

func (e *engine) balance(t *testing.T, emp leave.EmployeeID, lt leave.LeaveType, year int) leave.LeaveBalance {
	t.Helper()
	b, err := e.ledger.Balance(context.Background(), emp, lt, year)
	if err != nil {
		t.Fatalf("balance %s/%s/%d: %v", emp, lt, year, err)
	}
	return b
}

func (e *engine) submit(t *testing.T, emp leave.EmployeeID, lt leave.LeaveType, start, end leave.Date) leave.LeaveRequest {
	t.Helper()
	req, _, err := e.lifecycle.Submit(context.Background(), leave.SubmitInput{
		EmployeeID: emp,
		LeaveType:  lt,
		StartDate:  start,
		EndDate:    end,
		Reason:     "test leave",
	})
	if err != nil {
		t.Fatalf("submit %s %s to %s: %v", lt, start, end, err)
	}
	return req
}

func (e *engine) approve(t *testing.T, id leave.RequestID, authority leave.AuthorityLevel) leave.LeaveRequest {
	t.Helper()
	req, err := e.lifecycle.Decide(context.Background(), leave.DecideInput{
		RequestID:  id,
		ApproverID: "approver-1",
		Authority:  authority,
		Decision:   leave.DecisionApprove,
	})
	if err != nil {
		t.Fatalf("approve %s: %v", id, err)
	}
	return req
}

func date(month time.Month, day int) leave.Date { return leave.NewDate(2026, month, day) }

func wantDays(t *testing.T, got leave.Days, want int, label string) {
	t.Helper()
	if !got.Equal(leave.DaysFromInt(want)) {
		t.Errorf("%s: got %v, want %d", label, got, want)
	}
}

// =============================================================================
// 1. LEDGER - Lazy materialization and append rules
// =============================================================================

func TestSpec_Ledger_LazyAllocationOnFirstRead(t *testing.T) {
	// GIVEN: An employee with no transactions at all
	// WHEN: Their Annual Leave balance is read for the first time
	// THEN: The policy's default allocation is materialized, and a second
	//       read credits nothing more

	e := newEngine(t)

	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.TotalAllocated, 15, "allocated on first read")
	wantDays(t, b.Remaining(), 15, "remaining on first read")

	again := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, again.TotalAllocated, 15, "allocated on second read")
	if again.TransactionCount != b.TransactionCount {
		t.Errorf("second read appended rows: %d -> %d", b.TransactionCount, again.TransactionCount)
	}
}

func TestSpec_Ledger_DuplicateIdempotencyKeyRejected(t *testing.T) {
	// GIVEN: A transaction appended with an idempotency key
	// WHEN: The same key is appended again
	// THEN: The second append fails with ErrDuplicateIdempotencyKey and
	//       nothing new is written

	e := newEngine(t)
	ctx := context.Background()
	e.balance(t, "emp-1", "Annual Leave", 2026)

	tx := leave.Transaction{
		EmployeeID:     "emp-1",
		LeaveType:      "Annual Leave",
		Year:           2026,
		Type:           leave.TxUsed,
		Amount:         leave.DaysFromInt(2),
		Date:           date(time.July, 1),
		IdempotencyKey: "grant-once",
	}
	if _, err := e.ledger.Append(ctx, tx); err != nil {
		t.Fatalf("first append: %v", err)
	}

	tx.ID = ""
	_, err := e.ledger.Append(ctx, tx)
	if !errors.Is(err, leave.ErrDuplicateIdempotencyKey) {
		t.Errorf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
}

func TestSpec_Ledger_InvariantBlocksOverspend(t *testing.T) {
	// GIVEN: An employee with 15 allocated Annual Leave days
	// WHEN: Appending a used transaction of 20 days
	// THEN: The append is rejected with the exact shortfall and the ledger
	//       is unchanged

	e := newEngine(t)
	ctx := context.Background()
	before := e.balance(t, "emp-1", "Annual Leave", 2026)

	_, err := e.ledger.Append(ctx, leave.Transaction{
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		Year:       2026,
		Type:       leave.TxUsed,
		Amount:     leave.DaysFromInt(20),
		Date:       date(time.July, 1),
	})

	var ib *leave.InsufficientBalanceError
	if !errors.As(err, &ib) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	wantDays(t, ib.Shortfall, 5, "shortfall")

	after := e.balance(t, "emp-1", "Annual Leave", 2026)
	if after.TransactionCount != before.TransactionCount {
		t.Error("rejected append must not write anything")
	}
}

func TestSpec_Ledger_OverrideAdjustmentMayBreachInvariant(t *testing.T) {
	// GIVEN: An employee whose 15 days are fully allocated
	// WHEN: An admin appends an override deduction of 20 days
	// THEN: The append succeeds and the balance goes negative, explicitly

	e := newEngine(t)
	e.balance(t, "emp-1", "Annual Leave", 2026)

	b, err := e.ledger.Adjust(context.Background(), "emp-1", "Annual Leave", 2026,
		leave.DaysFromInt(20).Neg(), "clawback", "admin-1", true)
	if err != nil {
		t.Fatalf("override adjustment: %v", err)
	}
	wantDays(t, b.Remaining(), -5, "remaining after override")
}

func TestSpec_Ledger_SeqConflictDetected(t *testing.T) {
	// GIVEN: Two transactions claiming the same Seq on one tuple
	// WHEN: The second is appended directly to the store
	// THEN: ErrConcurrencyConflict; the optimistic backstop works without
	//       any in-process lock

	e := newEngine(t)
	ctx := context.Background()

	base := leave.Transaction{
		ID:         "t1",
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		Year:       2026,
		Seq:        1,
		Type:       leave.TxAllocated,
		Amount:     leave.DaysFromInt(15),
		Date:       date(time.January, 1),
	}
	if err := e.store.Append(ctx, base); err != nil {
		t.Fatalf("first append: %v", err)
	}

	rival := base
	rival.ID = "t2"
	err := e.store.Append(ctx, rival)
	if !errors.Is(err, leave.ErrConcurrencyConflict) {
		t.Errorf("expected ErrConcurrencyConflict, got %v", err)
	}
}

// =============================================================================
// 2. CARRY-FORWARD
// =============================================================================

func TestSpec_CarryForward_CappedAtPolicyLimit(t *testing.T) {
	// GIVEN: 2025 ended with 8 unused Annual Leave days and the policy caps
	//        carry-forward at 5
	// WHEN: The 2026 balance is first read
	// THEN: Exactly 5 days are carried forward on top of the new allocation

	e := newEngine(t)
	ctx := context.Background()

	e.balance(t, "emp-1", "Annual Leave", 2025)
	if _, err := e.ledger.Append(ctx, leave.Transaction{
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		Year:       2025,
		Type:       leave.TxUsed,
		Amount:     leave.DaysFromInt(7),
		Date:       leave.NewDate(2025, time.August, 1),
	}); err != nil {
		t.Fatalf("seed 2025 usage: %v", err)
	}

	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.CarriedForward, 5, "carried forward (capped)")
	wantDays(t, b.Remaining(), 20, "remaining with carry")
}

func TestSpec_CarryForward_UnderTheCapCarriesExactRemainder(t *testing.T) {
	// GIVEN: 2025 ended with 3 unused days, under the 5-day cap
	// WHEN: Reading 2026
	// THEN: Exactly 3 days carry

	e := newEngine(t)
	ctx := context.Background()

	e.balance(t, "emp-1", "Annual Leave", 2025)
	if _, err := e.ledger.Append(ctx, leave.Transaction{
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		Year:       2025,
		Type:       leave.TxUsed,
		Amount:     leave.DaysFromInt(12),
		Date:       leave.NewDate(2025, time.August, 1),
	}); err != nil {
		t.Fatalf("seed 2025 usage: %v", err)
	}

	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.CarriedForward, 3, "carried forward (under cap)")
}

func TestSpec_CarryForward_UntouchedPriorYearCarriesNothing(t *testing.T) {
	// GIVEN: No 2025 transactions exist at all
	// WHEN: Reading 2026
	// THEN: No retroactive 2025 allocation is invented just to be carried

	e := newEngine(t)
	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.CarriedForward, 0, "carry from untouched year")
}

func TestSpec_CarryForward_RolloverBatchIsIdempotent(t *testing.T) {
	// GIVEN: A completed rollover into 2026
	// WHEN: The batch runs again
	// THEN: Zero new transactions; the credit is never duplicated

	e := newEngine(t)
	ctx := context.Background()
	e.balance(t, "emp-1", "Annual Leave", 2025)

	first, err := e.ledger.RolloverYear(ctx, 2026)
	if err != nil {
		t.Fatalf("first rollover: %v", err)
	}
	if first.TransactionsCreated == 0 {
		t.Fatal("first rollover should credit the remainder")
	}

	second, err := e.ledger.RolloverYear(ctx, 2026)
	if err != nil {
		t.Fatalf("second rollover: %v", err)
	}
	if second.TransactionsCreated != 0 {
		t.Errorf("second rollover created %d transactions, want 0", second.TransactionsCreated)
	}
}

// =============================================================================
// 3. REQUEST LIFECYCLE
// =============================================================================

func TestSpec_Lifecycle_SubmitReservesBalance(t *testing.T) {
	// GIVEN: An employee with a full 15-day Annual Leave balance
	// WHEN: Submitting a 5-day request
	// THEN: The request is pending, 5 days move to Pending on both the type
	//       balance and the shared annual quota, and remaining drops to 10

	e := newEngine(t)
	req := e.submit(t, "emp-1", "Annual Leave", date(time.July, 6), date(time.July, 10))

	if req.Status != leave.StatusPending {
		t.Errorf("status: got %s, want pending", req.Status)
	}
	wantDays(t, req.TotalDays, 5, "total days (inclusive)")

	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Pending, 5, "type pending")
	wantDays(t, b.Remaining(), 10, "type remaining")

	q := e.balance(t, "emp-1", leave.AnnualQuotaType, 2026)
	wantDays(t, q.Pending, 5, "quota pending")
}

func TestSpec_Lifecycle_FailedValidationMutatesNothing(t *testing.T) {
	// GIVEN: A request that violates multiple rules at once
	// WHEN: Submitting
	// THEN: Every violation is reported together and no request or
	//       transaction is written

	e := newEngine(t)
	ctx := context.Background()

	_, _, err := e.lifecycle.Submit(ctx, leave.SubmitInput{
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		StartDate:  date(time.July, 1),
		EndDate:    date(time.July, 20), // 20 days: over balance AND over the consecutive cap
		Reason:     "too long",
	})

	var vf *leave.ValidationFailedError
	if !errors.As(err, &vf) {
		t.Fatalf("expected ValidationFailedError, got %v", err)
	}
	if len(vf.Violations) < 2 {
		t.Errorf("expected multiple violations collected, got %d", len(vf.Violations))
	}

	requests, err := e.store.ListRequests(ctx, leave.RequestFilter{})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(requests) != 0 {
		t.Error("failed validation must not persist a request")
	}
	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Pending, 0, "pending after failed submit")
}

func TestSpec_Lifecycle_ApproveConvertsReservation(t *testing.T) {
	// GIVEN: A pending 5-day request
	// WHEN: A department head approves it
	// THEN: Pending 5 becomes Used 5 on both tuples and remaining stays 10

	e := newEngine(t)
	req := e.submit(t, "emp-1", "Annual Leave", date(time.July, 6), date(time.July, 10))

	decided := e.approve(t, req.ID, leave.AuthorityDepartmentHead)
	if decided.Status != leave.StatusApproved {
		t.Errorf("status: got %s, want approved", decided.Status)
	}

	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Pending, 0, "pending after approve")
	wantDays(t, b.Used, 5, "used after approve")
	wantDays(t, b.Remaining(), 10, "remaining after approve")

	q := e.balance(t, "emp-1", leave.AnnualQuotaType, 2026)
	wantDays(t, q.Used, 5, "quota used after approve")
}

func TestSpec_Lifecycle_RejectRestoresBalance(t *testing.T) {
	// GIVEN: A pending 5-day request
	// WHEN: It is rejected
	// THEN: The reservation is reversed and the full balance is back

	e := newEngine(t)
	req := e.submit(t, "emp-1", "Annual Leave", date(time.July, 6), date(time.July, 10))

	decided, err := e.lifecycle.Decide(context.Background(), leave.DecideInput{
		RequestID:  req.ID,
		ApproverID: "mgr-1",
		Authority:  leave.AuthorityManager,
		Decision:   leave.DecisionReject,
		Note:       "project deadline",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if decided.Status != leave.StatusRejected {
		t.Errorf("status: got %s, want rejected", decided.Status)
	}

	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Pending, 0, "pending after reject")
	wantDays(t, b.Remaining(), 15, "remaining after reject")
}

func TestSpec_Lifecycle_UnderAuthorityApproveMutatesNothing(t *testing.T) {
	// GIVEN: A pending 5-day request (department-head sized)
	// WHEN: A manager tries to approve it
	// THEN: InsufficientAuthorityError naming both levels; the request stays
	//       pending and the ledger is untouched

	e := newEngine(t)
	req := e.submit(t, "emp-1", "Annual Leave", date(time.July, 6), date(time.July, 10))

	_, err := e.lifecycle.Decide(context.Background(), leave.DecideInput{
		RequestID:  req.ID,
		ApproverID: "mgr-1",
		Authority:  leave.AuthorityManager,
		Decision:   leave.DecisionApprove,
	})

	var ia *leave.InsufficientAuthorityError
	if !errors.As(err, &ia) {
		t.Fatalf("expected InsufficientAuthorityError, got %v", err)
	}
	if ia.Required != leave.AuthorityDepartmentHead || ia.Actual != leave.AuthorityManager {
		t.Errorf("gap: got required=%s actual=%s", ia.Required, ia.Actual)
	}

	stored, err := e.store.GetRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != leave.StatusPending {
		t.Errorf("status after failed approve: got %s, want pending", stored.Status)
	}
	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Pending, 5, "reservation must survive a failed approve")
}

func TestSpec_Lifecycle_CancelCompensatesWithoutEditingHistory(t *testing.T) {
	// GIVEN: An approved 5-day request
	// WHEN: It is cancelled
	// THEN: Remaining returns to 15 via a compensating adjustment; the
	//       original used row is still in the log, merely excluded

	e := newEngine(t)
	ctx := context.Background()
	req := e.submit(t, "emp-1", "Annual Leave", date(time.July, 6), date(time.July, 10))
	e.approve(t, req.ID, leave.AuthorityDepartmentHead)

	cancelled, err := e.lifecycle.Cancel(ctx, req.ID, "emp-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != leave.StatusCancelled {
		t.Errorf("status: got %s, want cancelled", cancelled.Status)
	}

	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Used, 0, "used after cancel")
	wantDays(t, b.Remaining(), 15, "remaining after cancel")

	// The final used row survives; a reversing adjustment offsets it.
	txs, err := e.store.Load(ctx, "emp-1", "Annual Leave", 2026)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	finalUsed, reversals := 0, 0
	for _, tx := range txs {
		if tx.Type == leave.TxUsed && !tx.Provisional && tx.LeaveID == req.ID {
			finalUsed++
		}
		if tx.Type == leave.TxAdjustment && tx.ReversesID != "" {
			reversals++
		}
	}
	if finalUsed != 1 {
		t.Errorf("final used rows: got %d, want 1 (history is never edited)", finalUsed)
	}
	if reversals < 2 {
		t.Errorf("reversing adjustments: got %d, want >=2 (approve conversion + cancel)", reversals)
	}
}

func TestSpec_Lifecycle_InvalidTransitionsRejected(t *testing.T) {
	// GIVEN: Requests in terminal or pre-approval states
	// WHEN: Asking for transitions their status does not allow
	// THEN: TransitionError every time

	e := newEngine(t)
	ctx := context.Background()

	pending := e.submit(t, "emp-1", "Annual Leave", date(time.July, 6), date(time.July, 7))
	if _, err := e.lifecycle.Cancel(ctx, pending.ID, "emp-1"); !errors.Is(err, leave.ErrInvalidTransition) {
		t.Errorf("cancel pending: expected ErrInvalidTransition, got %v", err)
	}

	e.approve(t, pending.ID, leave.AuthorityManager)
	_, err := e.lifecycle.Decide(ctx, leave.DecideInput{
		RequestID:  pending.ID,
		ApproverID: "mgr-1",
		Authority:  leave.AuthorityAdmin,
		Decision:   leave.DecisionReject,
	})
	if !errors.Is(err, leave.ErrInvalidTransition) {
		t.Errorf("decide approved: expected ErrInvalidTransition, got %v", err)
	}
}

func TestSpec_Lifecycle_ExemptTypeNeverTouchesQuota(t *testing.T) {
	// GIVEN: Sick Leave is exempt from the shared annual quota
	// WHEN: A sick request is submitted and approved
	// THEN: The quota tuple records nothing for it

	e := newEngine(t)
	req := e.submit(t, "emp-1", "Sick Leave", date(time.June, 2), date(time.June, 4))
	e.approve(t, req.ID, leave.AuthorityManager)

	b := e.balance(t, "emp-1", "Sick Leave", 2026)
	wantDays(t, b.Used, 3, "sick used")

	q := e.balance(t, "emp-1", leave.AnnualQuotaType, 2026)
	wantDays(t, q.Used, 0, "quota used by exempt type")
	wantDays(t, q.Pending, 0, "quota pending by exempt type")
}

func TestSpec_Lifecycle_EscalatedApprovalNeedsHigherAuthority(t *testing.T) {
	// GIVEN: A policy whose thresholds top out at department head <= 10 and
	//        a 12-day request
	// WHEN: A department head tries to approve
	// THEN: Rejected with RequiresEscalation; an admin succeeds

	e := newEngine(t)
	ctx := context.Background()

	long := leave.LeavePolicy{
		LeaveType:             "Sabbatical",
		DefaultAllocation:     leave.DaysFromInt(30),
		MaxConsecutiveDays:    30,
		ExemptFromAnnualQuota: true,
		ApprovalThresholds: []leave.ApprovalThreshold{
			{Level: leave.AuthorityManager, MaxDays: leave.DaysFromInt(3)},
			{Level: leave.AuthorityDepartmentHead, MaxDays: leave.DaysFromInt(10)},
		},
		IsActive: true,
	}
	if err := e.store.UpsertPolicy(ctx, long); err != nil {
		t.Fatalf("seed policy: %v", err)
	}

	req := e.submit(t, "emp-1", "Sabbatical", date(time.August, 3), date(time.August, 14))
	wantDays(t, req.TotalDays, 12, "request size")

	_, err := e.lifecycle.Decide(ctx, leave.DecideInput{
		RequestID:  req.ID,
		ApproverID: "dh-1",
		Authority:  leave.AuthorityDepartmentHead,
		Decision:   leave.DecisionApprove,
	})
	var ia *leave.InsufficientAuthorityError
	if !errors.As(err, &ia) || !ia.RequiresEscalation {
		t.Fatalf("expected escalation rejection, got %v", err)
	}

	e.approve(t, req.ID, leave.AuthorityAdmin)
}

func TestSpec_Lifecycle_AuditTrailRecordsEveryTransition(t *testing.T) {
	// GIVEN: A request submitted, approved, then cancelled
	// WHEN: Querying the audit log
	// THEN: Three entries, newest first, each naming actor and request

	e := newEngine(t)
	ctx := context.Background()
	req := e.submit(t, "emp-1", "Annual Leave", date(time.July, 6), date(time.July, 8))
	e.approve(t, req.ID, leave.AuthorityManager)
	if _, err := e.lifecycle.Cancel(ctx, req.ID, "emp-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	emp := leave.EmployeeID("emp-1")
	entries, err := e.store.QueryAudit(ctx, leave.AuditFilter{EmployeeID: &emp})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("audit entries: got %d, want 3", len(entries))
	}
	if entries[0].Action != leave.AuditRequestCancelled {
		t.Errorf("newest entry: got %s, want request_cancelled", entries[0].Action)
	}
	for _, entry := range entries {
		if entry.RequestID != req.ID {
			t.Errorf("entry %s missing request link", entry.Action)
		}
	}
}

func TestSpec_Scenario_AnnualQuotaWalkthrough(t *testing.T) {
	// GIVEN: A fresh employee with the 15-day Annual Leave preset
	// WHEN: Submitting 10 days, approving, then asking for 6 more
	// THEN: The reservation and conversion track exactly; the 6-day ask
	//       fails short by 1; a 5-day sick request still succeeds because
	//       Sick Leave is exempt from the shared quota

	e := newEngine(t)
	ctx := context.Background()

	req := e.submit(t, "emp-1", "Annual Leave", date(time.July, 6), date(time.July, 15))
	wantDays(t, req.TotalDays, 10, "first request size")

	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Pending, 10, "pending after submit")
	wantDays(t, b.Remaining(), 5, "remaining after submit")

	e.approve(t, req.ID, leave.AuthorityDepartmentHead)
	b = e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Used, 10, "used after approve")
	wantDays(t, b.Pending, 0, "pending after approve")
	wantDays(t, b.Remaining(), 5, "remaining after approve")

	_, _, err := e.lifecycle.Submit(ctx, leave.SubmitInput{
		EmployeeID: "emp-1",
		LeaveType:  "Annual Leave",
		StartDate:  date(time.August, 17),
		EndDate:    date(time.August, 22),
		Reason:     "six more days",
	})
	var vf *leave.ValidationFailedError
	if !errors.As(err, &vf) {
		t.Fatalf("expected ValidationFailedError, got %v", err)
	}
	if len(vf.Violations) != 1 {
		t.Fatalf("violations: got %d, want 1", len(vf.Violations))
	}
	if vf.Violations[0].Code != leave.ViolationInsufficientBal {
		t.Errorf("code: got %s, want insufficient_balance", vf.Violations[0].Code)
	}
	wantDays(t, vf.Violations[0].Shortfall, 1, "shortfall")

	sick := e.submit(t, "emp-1", "Sick Leave", date(time.October, 5), date(time.October, 9))
	wantDays(t, sick.TotalDays, 5, "sick request size")
	b = e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Remaining(), 5, "annual remaining untouched by sick leave")
}

// =============================================================================
// 4. CONCURRENCY
// =============================================================================

func TestSpec_Concurrency_RacingSubmissionsAdmitExactlyOne(t *testing.T) {
	// GIVEN: 10 days remaining and two 8-day requests racing
	// WHEN: Both submit concurrently (disjoint date ranges, same balance)
	// THEN: Exactly one wins; the loser sees insufficient balance. Double
	//       booking is impossible.

	e := newEngine(t)
	ctx := context.Background()

	// Burn 5 of the 15 days so 10 remain.
	warm := e.submit(t, "emp-1", "Annual Leave", date(time.June, 8), date(time.June, 12))
	e.approve(t, warm.ID, leave.AuthorityDepartmentHead)

	ranges := [][2]leave.Date{
		{date(time.July, 6), date(time.July, 13)},
		{date(time.August, 3), date(time.August, 10)},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ranges))
	for i, r := range ranges {
		wg.Add(1)
		go func(i int, start, end leave.Date) {
			defer wg.Done()
			_, _, errs[i] = e.lifecycle.Submit(ctx, leave.SubmitInput{
				EmployeeID: "emp-1",
				LeaveType:  "Annual Leave",
				StartDate:  start,
				EndDate:    end,
				Reason:     "race",
			})
		}(i, r[0], r[1])
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, leave.ErrValidationFailed) {
			t.Errorf("loser should fail validation, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one submission must win, got %d", succeeded)
	}

	b := e.balance(t, "emp-1", "Annual Leave", 2026)
	wantDays(t, b.Pending, 8, "pending after race")
	wantDays(t, b.Remaining(), 2, "remaining after race")
}
