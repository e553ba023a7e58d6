/*
errors.go - Centralized error taxonomy for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is / errors.As, never by string matching.

ERROR CATEGORIES:
  1. ValidationFailed - one or more validator violations, nothing mutated
  2. InsufficientAuthority - approval attempted below the required level
  3. ConcurrencyConflict - lost-update race on a ledger tuple (retryable)
  4. InvalidPolicy - admin policy input failed validation
  5. NotFound - unknown policy or request

USAGE:
  if leave.IsRetryable(err) {
      // retry the whole submit/approve operation, bounded
  }
  var vf *leave.ValidationFailedError
  if errors.As(err, &vf) {
      render(vf.Violations)
  }

SEE ALSO:
  - ledger.go: invariant and concurrency errors
  - validate.go: violation codes carried by ValidationFailedError
  - lifecycle.go: transition and authority errors
*/
package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidationFailed is returned when the quota validator rejects a
	// request. Always wrapped by ValidationFailedError carrying the details.
	ErrValidationFailed = errors.New("validation failed")

	// ErrInsufficientAuthority is returned when an approver's authority level
	// is below what the policy thresholds require for the request size.
	ErrInsufficientAuthority = errors.New("insufficient approval authority")

	// ErrConcurrencyConflict is returned when two operations race on the same
	// (employee, leave type, year) tuple. The only error class callers are
	// expected to retry automatically.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrInvalidPolicy is returned when an admin policy payload fails field
	// validation. Nothing is persisted.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrDuplicateLeaveType is returned when creating a policy whose leave
	// type already exists. Updates go through upsert instead.
	ErrDuplicateLeaveType = errors.New("leave type already exists")

	// ErrPolicyNotFound is returned when a referenced policy doesn't exist.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("leave request not found")

	// ErrInsufficientBalance is returned when an append would breach the
	// balance invariant without an override adjustment.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidTransition is returned when a request is asked to move to a
	// status its current status does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationFailedError carries every violation the validator collected, so
// the caller can render precise feedback in one round trip.
type ValidationFailedError struct {
	Violations []Violation
	Exceptions []PolicyException
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("validation failed with %d violation(s)", len(e.Violations))
}

func (e *ValidationFailedError) Unwrap() error { return ErrValidationFailed }

// InsufficientAuthorityError reports the gap between the approver's authority
// and what the routing decision requires.
type InsufficientAuthorityError struct {
	Required           AuthorityLevel
	Actual             AuthorityLevel
	RequiresEscalation bool
}

func (e *InsufficientAuthorityError) Error() string {
	if e.RequiresEscalation {
		return fmt.Sprintf("insufficient authority: request must escalate above %s (approver is %s)",
			e.Required, e.Actual)
	}
	return fmt.Sprintf("insufficient authority: %s required, approver is %s", e.Required, e.Actual)
}

func (e *InsufficientAuthorityError) Unwrap() error { return ErrInsufficientAuthority }

// InsufficientBalanceError provides details about a balance shortage detected
// at append time (the ledger's own guard, behind the validator's).
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	LeaveType  LeaveType
	Year       int
	Available  Days
	Requested  Days
	Shortfall  Days
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s/%s/%d: available %v, requested %v, shortfall %v",
		e.EmployeeID, e.LeaveType, e.Year, e.Available.Value, e.Requested.Value, e.Shortfall.Value)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidPolicyError reports which policy field failed validation and why.
type InvalidPolicyError struct {
	LeaveType LeaveType
	Field     string
	Reason    string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid policy %q: %s %s", e.LeaveType, e.Field, e.Reason)
}

func (e *InvalidPolicyError) Unwrap() error { return ErrInvalidPolicy }

// TransitionError reports a rejected request-status move.
type TransitionError struct {
	RequestID RequestID
	From      RequestStatus
	To        RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot move from %s to %s", e.RequestID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// ConcurrencyConflict is the only such class; everything else needs new
// input or higher authority.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInsufficientAuthority) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrDuplicateLeaveType) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrRequestNotFound)
}
