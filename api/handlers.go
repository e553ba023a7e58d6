/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave accounting engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Requests:
    POST   /api/requests                 Submit a leave request
    GET    /api/requests                 List requests (filterable)
    GET    /api/requests/{id}            Get one request
    POST   /api/requests/{id}/decision   Approve or reject
    POST   /api/requests/{id}/cancel     Cancel an approved request

  Balances:
    GET    /api/balances/{employeeID}              All balances for a year
    GET    /api/balances/{employeeID}/statement    PDF balance statement
    GET    /api/balances/{employeeID}/transactions Ledger history

  Policies:
    GET    /api/policies                 List policies
    POST   /api/policies                 Create or update from JSON
    GET    /api/policies/{leaveType}     Get one policy
    PUT    /api/policies/{leaveType}     Upsert one policy

  Admin:
    POST   /api/admin/adjustments        Manual balance adjustment
    POST   /api/admin/rollover           Year-end carry-forward batch
    GET    /api/admin/rollover/runs      Rollover run history
    GET    /api/admin/audit              Audit trail

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    GET    /api/scenarios/current        Currently loaded scenario
    POST   /api/scenarios/load           Load a demo scenario
    POST   /api/scenarios/reset          Clear all data

ERROR HANDLING:
  Domain errors map to HTTP status via errors.Is / errors.As:
  - 422: validation failures (violations in the body)
  - 403: insufficient approval authority
  - 409: concurrency conflict, duplicate idempotency key, bad transition
  - 404: unknown policy or request
  - 400: malformed input, invalid policy payload
  - 500: everything else

RETRIES:
  Concurrency conflicts are the one retryable class. Mutating handlers
  retry the whole domain operation up to three times before giving up
  with 409.

SECURITY NOTE:
  Authority comes from the request body, not from authentication.
  Deployments front this API with their own identity layer.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
)

// maxRetries bounds automatic retries on concurrency conflicts.
const maxRetries = 3

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         leave.TxStore
	Ledger        *leave.Ledger
	Validator     *leave.QuotaValidator
	Lifecycle     *leave.Lifecycle
	PolicyFactory *factory.PolicyFactory

	logger *slog.Logger

	// Track currently loaded scenario
	currentScenario string
}

// resetter is satisfied by stores that can wipe all data (dev/demo only).
type resetter interface {
	Reset(ctx context.Context) error
}

// NewHandler wires the engine components over the given store.
func NewHandler(store leave.TxStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	ledger := leave.NewLedger(store, store)
	validator := leave.NewQuotaValidator(ledger, store, store)
	return &Handler{
		Store:         store,
		Ledger:        ledger,
		Validator:     validator,
		Lifecycle:     leave.NewLifecycle(store, ledger, validator, logger),
		PolicyFactory: factory.NewPolicyFactory(),
		logger:        logger,
	}
}

// =============================================================================
// REQUEST LIFECYCLE HANDLERS
// =============================================================================

// SubmitRequest submits a leave request.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.EmployeeID == "" || body.LeaveType == "" {
		writeError(w, http.StatusBadRequest, "employee_id and leave_type are required", nil)
		return
	}

	start, err := leave.ParseDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}
	end, err := leave.ParseDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date (use YYYY-MM-DD)", err)
		return
	}

	priority := leave.Priority(body.Priority)
	if priority == "" {
		priority = leave.PriorityNormal
	}
	if priority != leave.PriorityNormal && priority != leave.PriorityUrgent {
		writeError(w, http.StatusBadRequest, "priority must be normal or urgent", nil)
		return
	}

	in := leave.SubmitInput{
		EmployeeID: leave.EmployeeID(body.EmployeeID),
		LeaveType:  leave.LeaveType(body.LeaveType),
		StartDate:  start,
		EndDate:    end,
		Reason:     body.Reason,
		Priority:   priority,
	}

	var (
		req    leave.LeaveRequest
		result leave.ValidationResult
	)
	err = withRetry(func() error {
		var opErr error
		req, result, opErr = h.Lifecycle.Submit(r.Context(), in)
		return opErr
	})
	if err != nil {
		var vf *leave.ValidationFailedError
		if errors.As(err, &vf) {
			writeJSON(w, http.StatusUnprocessableEntity, SubmitResponseDTO{
				Violations: toViolationDTOs(vf.Violations),
				Exceptions: toExceptionDTOs(vf.Exceptions),
			})
			return
		}
		writeDomainError(w, "Failed to submit request", err)
		return
	}

	dto := toRequestDTO(req)
	writeJSON(w, http.StatusCreated, SubmitResponseDTO{
		Request:    &dto,
		Exceptions: toExceptionDTOs(result.Exceptions),
	})
}

// DecideRequest approves or rejects a pending request.
func (h *Handler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))

	var body DecisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approver_id is required", nil)
		return
	}

	authority, err := leave.ParseAuthorityLevel(body.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid authority level", err)
		return
	}

	decision := leave.Decision(body.Decision)
	if decision != leave.DecisionApprove && decision != leave.DecisionReject {
		writeError(w, http.StatusBadRequest, "decision must be approve or reject", nil)
		return
	}

	in := leave.DecideInput{
		RequestID:  id,
		ApproverID: body.ApproverID,
		Authority:  authority,
		Decision:   decision,
		Note:       body.Note,
	}

	var req leave.LeaveRequest
	err = withRetry(func() error {
		var opErr error
		req, opErr = h.Lifecycle.Decide(r.Context(), in)
		return opErr
	})
	if err != nil {
		writeDomainError(w, "Failed to decide request", err)
		return
	}

	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// CancelRequest cancels an approved request with a compensating entry.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))

	var body CancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ActorID == "" {
		body.ActorID = string(id)
	}

	var req leave.LeaveRequest
	err := withRetry(func() error {
		var opErr error
		req, opErr = h.Lifecycle.Cancel(r.Context(), id, body.ActorID)
		return opErr
	})
	if err != nil {
		writeDomainError(w, "Failed to cancel request", err)
		return
	}

	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// GetRequest returns a single request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))

	req, err := h.Store.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ListRequests returns requests, newest first, filterable by employee,
// status, and year.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	var filter leave.RequestFilter

	if v := r.URL.Query().Get("employee_id"); v != "" {
		id := leave.EmployeeID(v)
		filter.EmployeeID = &id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := leave.RequestStatus(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		filter.Year = &year
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	requests, err := h.Store.ListRequests(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(requests))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalances returns all leave balances for an employee in a year.
// Reading materializes the year's allocation and carry-forward if this
// is the first touch.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	employeeID := leave.EmployeeID(chi.URLParam(r, "employeeID"))
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}

	balances, err := h.Ledger.EmployeeBalances(r.Context(), employeeID, year)
	if err != nil {
		writeDomainError(w, "Failed to get balances", err)
		return
	}

	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, EmployeeBalancesDTO{
		EmployeeID: string(employeeID),
		Year:       year,
		Balances:   dtos,
	})
}

// GetTransactions returns ledger history for an employee.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	employeeID := leave.EmployeeID(chi.URLParam(r, "employeeID"))
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	var types []leave.LeaveType
	if v := r.URL.Query().Get("leave_type"); v != "" {
		types = []leave.LeaveType{leave.LeaveType(v)}
	} else {
		var err error
		types, err = h.Store.TypesInYear(ctx, employeeID, year)
		if err != nil {
			writeDomainError(w, "Failed to list leave types", err)
			return
		}
	}

	dtos := []TransactionDTO{}
	for _, lt := range types {
		txs, err := h.Store.Load(ctx, employeeID, lt, year)
		if err != nil {
			writeDomainError(w, "Failed to load transactions", err)
			return
		}
		for _, tx := range txs {
			dtos = append(dtos, toTransactionDTO(tx))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStatement renders the employee's year balances as a PDF.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	employeeID := leave.EmployeeID(chi.URLParam(r, "employeeID"))
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}

	balances, err := h.Ledger.EmployeeBalances(r.Context(), employeeID, year)
	if err != nil {
		writeDomainError(w, "Failed to get balances", err)
		return
	}

	pdf, err := renderStatement(employeeID, year, balances, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render statement", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		`attachment; filename="leave-statement-`+string(employeeID)+`-`+strconv.Itoa(year)+`.pdf"`)
	if err := pdf.Output(w); err != nil {
		h.logger.Error("statement output failed", "employee", employeeID, "error", err)
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns all policies. Pass active=true to filter.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	policies, err := h.Store.ListPolicies(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = h.toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPolicy returns a single policy by leave type.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	leaveType := leave.LeaveType(chi.URLParam(r, "leaveType"))

	policy, err := h.Store.GetPolicy(r.Context(), leaveType)
	if err != nil {
		writeDomainError(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPolicyDTO(policy))
}

// UpsertPolicy creates or updates a policy from its JSON definition.
// Serves both POST /policies and PUT /policies/{leaveType}; on PUT the
// path names the type and the body may omit it. Every change is recorded
// in the audit trail with the acting admin.
func (h *Handler) UpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var body UpsertPolicyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if pathType := chi.URLParam(r, "leaveType"); pathType != "" {
		if body.Config.LeaveType == "" {
			body.Config.LeaveType = pathType
		} else if body.Config.LeaveType != pathType {
			writeError(w, http.StatusBadRequest, "leave_type in body does not match URL", nil)
			return
		}
	}

	policy, err := h.PolicyFactory.FromJSON(body.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy configuration", err)
		return
	}
	if err := policy.Validate(); err != nil {
		writeDomainError(w, "Policy failed validation", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.UpsertPolicy(ctx, policy); err != nil {
		writeDomainError(w, "Failed to save policy", err)
		return
	}

	actor := r.URL.Query().Get("actor_id")
	if actor == "" {
		actor = "admin"
	}
	h.audit(ctx, leave.AuditEntry{
		ActorID:   actor,
		Action:    leave.AuditPolicyChanged,
		LeaveType: policy.LeaveType,
		Detail:    "policy upserted via API",
	})

	saved, err := h.Store.GetPolicy(ctx, policy.LeaveType)
	if err != nil {
		writeDomainError(w, "Failed to reload policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toPolicyDTO(saved))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment applies a manual signed balance adjustment.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var body AdjustmentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.EmployeeID == "" || body.LeaveType == "" || body.Year == 0 {
		writeError(w, http.StatusBadRequest, "employee_id, leave_type and year are required", nil)
		return
	}
	if body.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required for adjustments", nil)
		return
	}

	amount, err := leave.ParseDays(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	actor := body.ActorID
	if actor == "" {
		actor = "admin"
	}

	var balance leave.LeaveBalance
	err = withRetry(func() error {
		var opErr error
		balance, opErr = h.Ledger.Adjust(r.Context(),
			leave.EmployeeID(body.EmployeeID), leave.LeaveType(body.LeaveType),
			body.Year, amount, body.Reason, actor, body.Override)
		return opErr
	})
	if err != nil {
		writeDomainError(w, "Failed to apply adjustment", err)
		return
	}

	h.audit(r.Context(), leave.AuditEntry{
		ActorID:    actor,
		Action:     leave.AuditManualAdjust,
		EmployeeID: leave.EmployeeID(body.EmployeeID),
		LeaveType:  leave.LeaveType(body.LeaveType),
		Detail:     body.Reason,
	})

	writeJSON(w, http.StatusCreated, toBalanceDTO(balance))
}

// TriggerRollover runs the year-end carry-forward batch and records the
// run. Safe to call repeatedly: already-credited tuples are skipped.
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	var body RolloverBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.TargetYear == 0 {
		writeError(w, http.StatusBadRequest, "target_year is required", nil)
		return
	}

	result, err := runRollover(r.Context(), h.Store, h.Ledger, h.logger, body.TargetYear, "api")
	if err != nil {
		writeDomainError(w, "Rollover failed", err)
		return
	}

	writeJSON(w, http.StatusOK, RolloverResultDTO{
		TargetYear:          result.TargetYear,
		EmployeesProcessed:  result.EmployeesProcessed,
		TransactionsCreated: result.TransactionsCreated,
	})
}

// ListRolloverRuns returns rollover run history.
func (h *Handler) ListRolloverRuns(w http.ResponseWriter, r *http.Request) {
	targetYear := 0
	if v := r.URL.Query().Get("target_year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid target_year", err)
			return
		}
		targetYear = y
	}

	runs, err := h.Store.ListRolloverRuns(r.Context(), targetYear)
	if err != nil {
		writeDomainError(w, "Failed to list rollover runs", err)
		return
	}

	dtos := make([]RolloverRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRolloverRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// QueryAudit returns the audit trail, newest first.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	var filter leave.AuditFilter

	if v := r.URL.Query().Get("employee_id"); v != "" {
		id := leave.EmployeeID(v)
		filter.EmployeeID = &id
	}
	if v := r.URL.Query().Get("actor_id"); v != "" {
		actor := v
		filter.ActorID = &actor
	}
	if v := r.URL.Query().Get("action"); v != "" {
		filter.Actions = []leave.AuditAction{leave.AuditAction(v)}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to query audit trail", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": dtos})
}

// ResetDatabase clears all data. Dev/demo only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	if err := rs.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.Ledger.DropCache()
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) yearParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("year")
	if v == "" {
		return time.Now().Year(), true
	}
	year, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return 0, false
	}
	return year, true
}

func (h *Handler) toPolicyDTO(p leave.LeavePolicy) PolicyDTO {
	dto := PolicyDTO{
		Config:  h.PolicyFactory.ToJSON(p),
		Version: p.Version,
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.Format(time.RFC3339)
	}
	if !p.UpdatedAt.IsZero() {
		dto.UpdatedAt = p.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func (h *Handler) audit(ctx context.Context, entry leave.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := h.Store.AppendAudit(ctx, entry); err != nil {
		h.logger.Error("audit append failed", "action", entry.Action, "error", err)
	}
}

// withRetry runs op, retrying bounded times on concurrency conflicts.
func withRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = op()
		if err == nil || !leave.IsRetryable(err) {
			return err
		}
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, leave.ErrValidationFailed):
		var vf *leave.ValidationFailedError
		if errors.As(err, &vf) {
			writeJSON(w, http.StatusUnprocessableEntity, SubmitResponseDTO{
				Violations: toViolationDTOs(vf.Violations),
				Exceptions: toExceptionDTOs(vf.Exceptions),
			})
			return
		}
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.Is(err, leave.ErrInsufficientAuthority):
		var ia *leave.InsufficientAuthorityError
		if errors.As(err, &ia) {
			writeJSON(w, http.StatusForbidden, ErrorResponse{
				Error: message,
				Code:  "insufficient_authority",
				Details: map[string]any{
					"required":            ia.Required.String(),
					"actual":              ia.Actual.String(),
					"requires_escalation": ia.RequiresEscalation,
				},
			})
			return
		}
		writeError(w, http.StatusForbidden, message, err)
	case errors.Is(err, leave.ErrConcurrencyConflict),
		errors.Is(err, leave.ErrDuplicateIdempotencyKey),
		errors.Is(err, leave.ErrInvalidTransition),
		errors.Is(err, leave.ErrDuplicateLeaveType):
		writeError(w, http.StatusConflict, message, err)
	case leave.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, leave.ErrInvalidPolicy),
		errors.Is(err, leave.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
