/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Body: Request body types from clients

DAY AMOUNTS:
  Day quantities travel as JSON strings ("7.5"), never floats. The
  domain is decimal-backed and the API must not reintroduce float drift
  at the boundary.

TYPES:
  Requests:
    SubmitRequestBody, DecisionBody, CancelBody, RequestDTO

  Balances:
    BalanceDTO, EmployeeBalancesDTO, TransactionDTO

  Policies:
    PolicyDTO (wraps factory.PolicyJSON)

  Admin:
    AdjustmentBody, RolloverBody, RolloverResultDTO, RolloverRunDTO,
    AuditEntryDTO

  Scenarios:
    ScenarioDTO, LoadScenarioBody

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST LIFECYCLE TYPES
// =============================================================================

// SubmitRequestBody is the payload for submitting a leave request.
type SubmitRequestBody struct {
	EmployeeID string `json:"employee_id"`
	LeaveType  string `json:"leave_type"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Reason     string `json:"reason,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

// DecisionBody approves or rejects a pending request.
type DecisionBody struct {
	ApproverID string `json:"approver_id"`
	Authority  string `json:"authority"`
	Decision   string `json:"decision"`
	Note       string `json:"note,omitempty"`
}

// CancelBody cancels an approved request.
type CancelBody struct {
	ActorID string `json:"actor_id"`
}

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID           string  `json:"id"`
	EmployeeID   string  `json:"employee_id"`
	LeaveType    string  `json:"leave_type"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	TotalDays    string  `json:"total_days"`
	Year         int     `json:"year"`
	Reason       string  `json:"reason,omitempty"`
	Priority     string  `json:"priority"`
	Status       string  `json:"status"`
	SubmittedAt  string  `json:"submitted_at"`
	DecidedBy    string  `json:"decided_by,omitempty"`
	DecidedAt    *string `json:"decided_at,omitempty"`
	DecisionNote string  `json:"decision_note,omitempty"`
	CancelledAt  *string `json:"cancelled_at,omitempty"`
}

// SubmitResponseDTO is the response after submitting a request. On
// validation failure the request is absent and violations are populated.
type SubmitResponseDTO struct {
	Request    *RequestDTO    `json:"request,omitempty"`
	Violations []ViolationDTO `json:"violations,omitempty"`
	Exceptions []ExceptionDTO `json:"exceptions,omitempty"`
}

// ViolationDTO is one validation rule failure.
type ViolationDTO struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Shortfall string `json:"shortfall_days,omitempty"`
}

// ExceptionDTO records a rule that was deliberately bypassed.
type ExceptionDTO struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// BALANCE TYPES
// =============================================================================

// BalanceDTO represents one (employee, leave type, year) balance.
type BalanceDTO struct {
	EmployeeID     string `json:"employee_id"`
	LeaveType      string `json:"leave_type"`
	Year           int    `json:"year"`
	TotalAllocated string `json:"total_allocated"`
	CarriedForward string `json:"carried_forward"`
	Used           string `json:"used"`
	Pending        string `json:"pending"`
	Remaining      string `json:"remaining"`
}

// EmployeeBalancesDTO bundles all balances of one employee for a year.
type EmployeeBalancesDTO struct {
	EmployeeID string       `json:"employee_id"`
	Year       int          `json:"year"`
	Balances   []BalanceDTO `json:"balances"`
}

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID             string `json:"id"`
	EmployeeID     string `json:"employee_id"`
	LeaveType      string `json:"leave_type"`
	Year           int    `json:"year"`
	Seq            int    `json:"seq"`
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	Date           string `json:"date"`
	Description    string `json:"description,omitempty"`
	LeaveID        string `json:"leave_id,omitempty"`
	ReversesID     string `json:"reverses_id,omitempty"`
	Provisional    bool   `json:"provisional,omitempty"`
	Override       bool   `json:"override,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CreatedBy      string `json:"created_by,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// =============================================================================
// POLICY TYPES
// =============================================================================

// PolicyDTO represents a policy in API responses.
type PolicyDTO struct {
	Config    factory.PolicyJSON `json:"config"`
	Version   int                `json:"version"`
	CreatedAt string             `json:"created_at,omitempty"`
	UpdatedAt string             `json:"updated_at,omitempty"`
}

// UpsertPolicyBody is the request to create or update a policy.
type UpsertPolicyBody struct {
	Config factory.PolicyJSON `json:"config"`
}

// =============================================================================
// ADMIN TYPES
// =============================================================================

// AdjustmentBody is the request to make a manual balance adjustment.
type AdjustmentBody struct {
	EmployeeID string `json:"employee_id"`
	LeaveType  string `json:"leave_type"`
	Year       int    `json:"year"`
	Amount     string `json:"amount"`
	Reason     string `json:"reason"`
	ActorID    string `json:"actor_id"`
	Override   bool   `json:"override,omitempty"`
}

// RolloverBody triggers the year-end carry-forward batch.
type RolloverBody struct {
	TargetYear int `json:"target_year"`
}

// RolloverResultDTO is the result of a rollover batch.
type RolloverResultDTO struct {
	TargetYear          int `json:"target_year"`
	EmployeesProcessed  int `json:"employees_processed"`
	TransactionsCreated int `json:"transactions_created"`
}

// RolloverRunDTO is one recorded rollover execution.
type RolloverRunDTO struct {
	ID                  string  `json:"id"`
	TargetYear          int     `json:"target_year"`
	Status              string  `json:"status"`
	EmployeesProcessed  int     `json:"employees_processed"`
	TransactionsCreated int     `json:"transactions_created"`
	Error               string  `json:"error,omitempty"`
	StartedAt           string  `json:"started_at"`
	CompletedAt         *string `json:"completed_at,omitempty"`
}

// AuditEntryDTO is one audit trail record.
type AuditEntryDTO struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	EmployeeID string `json:"employee_id,omitempty"`
	LeaveType  string `json:"leave_type,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioBody selects the scenario to load.
type LoadScenarioBody struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRequestDTO(r leave.LeaveRequest) RequestDTO {
	dto := RequestDTO{
		ID:           string(r.ID),
		EmployeeID:   string(r.EmployeeID),
		LeaveType:    string(r.LeaveType),
		StartDate:    r.StartDate.String(),
		EndDate:      r.EndDate.String(),
		TotalDays:    r.TotalDays.String(),
		Year:         r.Year,
		Reason:       r.Reason,
		Priority:     string(r.Priority),
		Status:       string(r.Status),
		SubmittedAt:  r.SubmittedAt.Format(time.RFC3339),
		DecidedBy:    r.DecidedBy,
		DecisionNote: r.DecisionNote,
	}
	if r.DecidedAt != nil {
		s := r.DecidedAt.Format(time.RFC3339)
		dto.DecidedAt = &s
	}
	if r.CancelledAt != nil {
		s := r.CancelledAt.Format(time.RFC3339)
		dto.CancelledAt = &s
	}
	return dto
}

func toRequestDTOs(rs []leave.LeaveRequest) []RequestDTO {
	dtos := make([]RequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toRequestDTO(r)
	}
	return dtos
}

func toBalanceDTO(b leave.LeaveBalance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:     string(b.EmployeeID),
		LeaveType:      string(b.LeaveType),
		Year:           b.Year,
		TotalAllocated: b.TotalAllocated.String(),
		CarriedForward: b.CarriedForward.String(),
		Used:           b.Used.String(),
		Pending:        b.Pending.String(),
		Remaining:      b.Remaining().String(),
	}
}

func toTransactionDTO(tx leave.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(tx.ID),
		EmployeeID:     string(tx.EmployeeID),
		LeaveType:      string(tx.LeaveType),
		Year:           tx.Year,
		Seq:            tx.Seq,
		Type:           string(tx.Type),
		Amount:         tx.Amount.String(),
		Date:           tx.Date.String(),
		Description:    tx.Description,
		LeaveID:        string(tx.LeaveID),
		ReversesID:     string(tx.ReversesID),
		Provisional:    tx.Provisional,
		Override:       tx.Override,
		IdempotencyKey: tx.IdempotencyKey,
		CreatedBy:      tx.CreatedBy,
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
	}
}

func toViolationDTOs(vs []leave.Violation) []ViolationDTO {
	dtos := make([]ViolationDTO, len(vs))
	for i, v := range vs {
		dtos[i] = ViolationDTO{
			Code:    string(v.Code),
			Message: v.Message,
		}
		if !v.Shortfall.IsZero() {
			dtos[i].Shortfall = v.Shortfall.String()
		}
	}
	return dtos
}

func toExceptionDTOs(es []leave.PolicyException) []ExceptionDTO {
	dtos := make([]ExceptionDTO, len(es))
	for i, e := range es {
		dtos[i] = ExceptionDTO{Code: string(e.Code), Message: e.Message}
	}
	return dtos
}

func toAuditEntryDTO(e leave.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		Timestamp:  e.Timestamp.Format(time.RFC3339),
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		EmployeeID: string(e.EmployeeID),
		LeaveType:  string(e.LeaveType),
		RequestID:  string(e.RequestID),
		Detail:     e.Detail,
	}
}

func toRolloverRunDTO(run leave.RolloverRun) RolloverRunDTO {
	dto := RolloverRunDTO{
		ID:                  run.ID,
		TargetYear:          run.TargetYear,
		Status:              string(run.Status),
		EmployeesProcessed:  run.EmployeesProcessed,
		TransactionsCreated: run.TransactionsCreated,
		Error:               run.Error,
		StartedAt:           run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		s := run.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}
