/*
Package leave provides the leave accounting and policy engine.

PURPOSE:
  This package tracks how many days of each leave type an employee has,
  validates new leave requests against the active policy rules, routes
  approvals by authority level, and drives the request state machine.
  Balances are never stored: an append-only transaction ledger is the
  single source of truth and every balance is a fold over it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Days: A day quantity backed by decimal.Decimal (half-day safe)
  - Transaction: An immutable ledger entry recording balance changes
  - LeaveRequest: An employee's dated request plus its lifecycle status
  - Employee/LeaveType/Transaction/Request IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only offset by later ones
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing employee/request IDs
  4. Auditability: Every transaction has a description, links, and idempotency key

USAGE:
  days := leave.DaysFromInt(5)
  tx := leave.Transaction{
      EmployeeID: "emp-123",
      LeaveType:  "Annual Leave",
      Year:       2026,
      Type:       leave.TxAllocated,
      Amount:     days,
  }

SEE ALSO:
  - policy.go: LeavePolicy and approval thresholds
  - balance.go: Balance calculation from transactions
  - ledger.go: Append rules, lazy allocation, carry-forward
  - lifecycle.go: Request state machine
*/
package leave

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Day quantity (decimal-backed; leave is always counted in days)
// =============================================================================

type Days struct {
	Value decimal.Decimal
}

func NewDays(value float64) Days { return Days{Value: decimal.NewFromFloat(value)} }

func DaysFromInt(value int) Days { return Days{Value: decimal.NewFromInt(int64(value))} }

func ParseDays(s string) (Days, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Days{}, fmt.Errorf("invalid day amount %q: %w", s, err)
	}
	return Days{Value: d}, nil
}

func MustParseDays(s string) Days {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Days{Value: decimal.Zero}
	}
	return Days{Value: d}
}

func ZeroDays() Days { return Days{Value: decimal.Zero} }

func (d Days) Add(b Days) Days          { return Days{Value: d.Value.Add(b.Value)} }
func (d Days) Sub(b Days) Days          { return Days{Value: d.Value.Sub(b.Value)} }
func (d Days) Neg() Days                { return Days{Value: d.Value.Neg()} }
func (d Days) IsNegative() bool         { return d.Value.IsNegative() }
func (d Days) IsZero() bool             { return d.Value.IsZero() }
func (d Days) IsPositive() bool         { return d.Value.IsPositive() }
func (d Days) Equal(b Days) bool        { return d.Value.Equal(b.Value) }
func (d Days) GreaterThan(b Days) bool  { return d.Value.GreaterThan(b.Value) }
func (d Days) LessThan(b Days) bool     { return d.Value.LessThan(b.Value) }
func (d Days) Min(b Days) Days          { if d.LessThan(b) { return d }; return b }
func (d Days) Max(b Days) Days          { if d.GreaterThan(b) { return d }; return b }
func (d Days) String() string           { return d.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type TransactionID string
type RequestID string

// LeaveType is the policy key ("Annual Leave", "Sick Leave", ...). Policies,
// transactions, and balances all hang off this string.
type LeaveType string

// AnnualQuotaType is the reserved aggregate pseudo-type. Every non-exempt
// request debits a balance under this key alongside its own type balance.
const AnnualQuotaType LeaveType = "Annual Leave Quota"

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxAllocated      TransactionType = "allocated"       // Yearly entitlement credit
	TxUsed           TransactionType = "used"            // Consumption (provisional until approved)
	TxAdjustment     TransactionType = "adjustment"      // Correction, reversal, or admin grant
	TxCarriedForward TransactionType = "carried_forward" // Prior-year remainder credit
)

type Transaction struct {
	ID         TransactionID
	EmployeeID EmployeeID
	LeaveType  LeaveType
	Year       int
	// Seq orders transactions within one (employee, type, year) tuple and
	// doubles as the optimistic-concurrency token: two appends claiming the
	// same Seq conflict.
	Seq    int
	Type   TransactionType
	Amount Days
	Date   Date

	Description string
	// LeaveID links to the originating request, when there is one.
	LeaveID RequestID
	// ReversesID marks this adjustment as offsetting an earlier transaction.
	// The target's amount is excluded from the fold; neither row is ever
	// edited or deleted.
	ReversesID TransactionID
	// Provisional marks a reservation: a used transaction that counts toward
	// pending until converted or reversed.
	Provisional bool
	// Override lets an adjustment knowingly push the balance negative.
	Override       bool
	IdempotencyKey string

	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// LEAVE REQUEST - Dated request plus lifecycle status
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	// PriorityUrgent bypasses the advance-notice check. The bypass is always
	// reported as an explicit exception, never applied silently.
	PriorityUrgent Priority = "urgent"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type LeaveRequest struct {
	ID         RequestID
	EmployeeID EmployeeID
	LeaveType  LeaveType
	StartDate  Date
	EndDate    Date
	// TotalDays is the inclusive day count between the dates.
	TotalDays Days
	// Year keys the balance tuple this request debits: StartDate's year.
	Year     int
	Reason   string
	Priority Priority
	Status   RequestStatus

	SubmittedAt  time.Time
	DecidedBy    string
	DecidedAt    *time.Time
	DecisionNote string
	CancelledAt  *time.Time
}
