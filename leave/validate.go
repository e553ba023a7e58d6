/*
validate.go - Quota validation for prospective leave requests

PURPOSE:
  Evaluates a prospective request against every policy rule at once:
  date sanity, type balance, shared annual quota, consecutive-day cap,
  notice window, booking horizon, and overlap with existing requests.

NO SHORT-CIRCUITING:
  All checks run even after the first failure. The caller gets every
  violation in one round trip, each with a distinct code and the exact
  numeric shortfall, so the UI can render precise feedback.

EXPLICIT EXCEPTIONS:
  An urgent-priority request skips the advance-notice check, but the
  bypass is recorded as a PolicyException in the result. Overrides are
  visible, never silent.

SEE ALSO:
  - balance.go: Remaining() consulted by the balance checks
  - errors.go: ValidationFailedError carrying the violations
  - lifecycle.go: Submit runs this before any ledger mutation
*/
package leave

import (
	"context"
	"fmt"
)

// =============================================================================
// VIOLATIONS AND EXCEPTIONS
// =============================================================================

// ViolationCode identifies one failed validation rule.
type ViolationCode string

const (
	ViolationEndBeforeStart    ViolationCode = "end_before_start"
	ViolationStartInPast       ViolationCode = "start_in_past"
	ViolationInsufficientBal   ViolationCode = "insufficient_balance"
	ViolationAnnualQuota       ViolationCode = "annual_quota_exceeded"
	ViolationConsecutiveDays   ViolationCode = "exceeds_consecutive_days"
	ViolationInsufficientNotic ViolationCode = "insufficient_notice"
	ViolationBookedTooFarAhead ViolationCode = "booked_too_far_ahead"
	ViolationOverlapping       ViolationCode = "overlapping_request"
	ViolationPolicyInactive    ViolationCode = "policy_inactive"
)

// Violation is one failed check with its human-readable shortfall message.
type Violation struct {
	Code    ViolationCode
	Message string
	// Shortfall carries the numeric gap for balance/quota/cap checks
	// (days over the limit or under the balance). Zero for date checks.
	Shortfall Days
}

// ExceptionCode identifies a deliberate, documented policy bypass.
type ExceptionCode string

const (
	// ExceptionNoticeBypassed records that the advance-notice rule was
	// skipped because the request carries urgent priority.
	ExceptionNoticeBypassed ExceptionCode = "advance_notice_bypassed"
)

// PolicyException records a rule that was deliberately not enforced.
type PolicyException struct {
	Code    ExceptionCode
	Message string
}

// ValidationResult is the full outcome of validating one request.
type ValidationResult struct {
	OK         bool
	Violations []Violation
	Exceptions []PolicyException
}

// AsError converts a failed result into a ValidationFailedError, or nil
// when the result passed.
func (r ValidationResult) AsError() error {
	if r.OK {
		return nil
	}
	return &ValidationFailedError{Violations: r.Violations, Exceptions: r.Exceptions}
}

// =============================================================================
// QUOTA VALIDATOR
// =============================================================================

// QuotaValidator checks prospective requests against balances and policy
// rules. It reads balances through the ledger and never mutates anything.
type QuotaValidator struct {
	Ledger   *Ledger
	Policies PolicyStore
	Requests RequestStore

	// Now supplies the submission-time date. Defaults to Today; tests
	// pin it.
	Now func() Date
}

func NewQuotaValidator(ledger *Ledger, policies PolicyStore, requests RequestStore) *QuotaValidator {
	return &QuotaValidator{Ledger: ledger, Policies: policies, Requests: requests, Now: Today}
}

// Validate runs every check against the request. A missing policy is an
// error (ErrPolicyNotFound), not a violation; everything else the caller
// can fix lands in the result.
func (v *QuotaValidator) Validate(ctx context.Context, req LeaveRequest) (ValidationResult, error) {
	policy, err := v.Policies.GetPolicy(ctx, req.LeaveType)
	if err != nil {
		return ValidationResult{}, err
	}

	today := v.Now()
	result := ValidationResult{}

	// 1. Date range sanity.
	totalDays := InclusiveDays(req.StartDate, req.EndDate)
	if totalDays <= 0 {
		result.Violations = append(result.Violations, Violation{
			Code:    ViolationEndBeforeStart,
			Message: fmt.Sprintf("end date %s is before start date %s", req.EndDate, req.StartDate),
		})
	}
	if req.StartDate.Before(today) {
		result.Violations = append(result.Violations, Violation{
			Code:    ViolationStartInPast,
			Message: fmt.Sprintf("start date %s is in the past (today is %s)", req.StartDate, today),
		})
	}

	if !policy.IsActive {
		result.Violations = append(result.Violations, Violation{
			Code:    ViolationPolicyInactive,
			Message: fmt.Sprintf("policy %q is inactive and cannot accept new requests", policy.LeaveType),
		})
	}

	// Balance checks only make sense for a sane positive day count.
	if totalDays > 0 {
		requested := DaysFromInt(totalDays)

		// 2. Type-specific balance.
		balance, err := v.Ledger.Balance(ctx, req.EmployeeID, req.LeaveType, req.Year)
		if err != nil {
			return ValidationResult{}, err
		}
		if requested.GreaterThan(balance.Remaining()) {
			shortfall := requested.Sub(balance.Remaining())
			result.Violations = append(result.Violations, Violation{
				Code: ViolationInsufficientBal,
				Message: fmt.Sprintf("insufficient %s balance: %v days remaining, short by %v days",
					req.LeaveType, balance.Remaining(), shortfall),
				Shortfall: shortfall,
			})
		}

		// 3. Shared annual quota, unless the type is exempt.
		if !policy.ExemptFromAnnualQuota && !policy.IsAggregate() {
			aggregate, err := v.Ledger.Balance(ctx, req.EmployeeID, AnnualQuotaType, req.Year)
			if err != nil {
				return ValidationResult{}, err
			}
			if requested.GreaterThan(aggregate.Remaining()) {
				shortfall := requested.Sub(aggregate.Remaining())
				result.Violations = append(result.Violations, Violation{
					Code: ViolationAnnualQuota,
					Message: fmt.Sprintf("exceeds annual quota by %v days (%v days remaining)",
						shortfall, aggregate.Remaining()),
					Shortfall: shortfall,
				})
			}
		}

		// 4. Consecutive-day cap.
		limit := DaysFromInt(policy.MaxConsecutiveDays)
		if requested.GreaterThan(limit) {
			excess := requested.Sub(limit)
			result.Violations = append(result.Violations, Violation{
				Code: ViolationConsecutiveDays,
				Message: fmt.Sprintf("request of %d days exceeds the %d-day consecutive limit by %v days",
					totalDays, policy.MaxConsecutiveDays, excess),
				Shortfall: excess,
			})
		}
	}

	// 5. Advance notice, bypassed for urgent priority with an explicit
	// exception entry.
	noticeDays := DaysBetween(today, req.StartDate)
	if noticeDays < policy.MinAdvanceNoticeDays {
		if req.Priority == PriorityUrgent {
			result.Exceptions = append(result.Exceptions, PolicyException{
				Code: ExceptionNoticeBypassed,
				Message: fmt.Sprintf("advance-notice rule (%d days) bypassed for urgent priority; %d days given",
					policy.MinAdvanceNoticeDays, noticeDays),
			})
		} else {
			short := policy.MinAdvanceNoticeDays - noticeDays
			result.Violations = append(result.Violations, Violation{
				Code: ViolationInsufficientNotic,
				Message: fmt.Sprintf("requires %d days advance notice, only %d given (short by %d)",
					policy.MinAdvanceNoticeDays, noticeDays, short),
				Shortfall: DaysFromInt(short),
			})
		}
	}

	// 6. Booking horizon.
	if policy.MaxAdvanceBookingDays > 0 && noticeDays > policy.MaxAdvanceBookingDays {
		excess := noticeDays - policy.MaxAdvanceBookingDays
		result.Violations = append(result.Violations, Violation{
			Code: ViolationBookedTooFarAhead,
			Message: fmt.Sprintf("booked %d days ahead, beyond the %d-day horizon by %d days",
				noticeDays, policy.MaxAdvanceBookingDays, excess),
			Shortfall: DaysFromInt(excess),
		})
	}

	// 7. Overlap with the employee's pending/approved requests.
	if v.Requests != nil && totalDays > 0 {
		overlapping, err := v.Requests.ListOverlapping(ctx, req.EmployeeID, req.StartDate, req.EndDate)
		if err != nil {
			return ValidationResult{}, err
		}
		for _, other := range overlapping {
			if other.ID == req.ID {
				continue
			}
			result.Violations = append(result.Violations, Violation{
				Code: ViolationOverlapping,
				Message: fmt.Sprintf("overlaps %s request %s (%s to %s)",
					other.Status, other.ID, other.StartDate, other.EndDate),
			})
			break
		}
	}

	result.OK = len(result.Violations) == 0
	return result, nil
}
