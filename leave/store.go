/*
store.go - Persistence interfaces for the ledger and its satellites

PURPOSE:
  Defines the interface between the engine and the database. The
  transaction store is append-only; requests and policies are row
  stores; the audit log is append-only too. Different implementations
  can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:        Transaction persistence (append, load, count, exists)
  PolicyStore:  LeavePolicy rows keyed by leave type
  RequestStore: LeaveRequest rows with guarded status updates
  AuditLog:     Who did what when, append-only
  TxStore:      Atomic multi-write scope (request row + ledger batch)

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics for transactions:
  - Append(): Single transaction write
  - AppendBatch(): Atomic multi-transaction write
  - NO Update() or Delete() methods exist
  Corrections are later adjustment transactions that reference what they
  offset.

CONCURRENCY:
  Every transaction claims a per-tuple Seq. Two writers loading the same
  balance and appending concurrently claim the same Seq; the store must
  reject the loser with ErrConcurrencyConflict. Idempotency keys reject
  duplicates from retries with ErrDuplicateIdempotencyKey.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - leave/store/memory.go: in-memory for tests and demos

SEE ALSO:
  - ledger.go: Higher-level append rules using Store
  - lifecycle.go: Atomic transitions via TxStore.WithTx
*/
package leave

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Transaction persistence (append-only)
// =============================================================================

// Store handles persistence of ledger transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a transaction. Fails with ErrDuplicateIdempotencyKey
	// if the key exists and ErrConcurrencyConflict if the tuple Seq is taken.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	// Either all succeed or none do.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for one balance tuple, ordered by Seq.
	Load(ctx context.Context, employeeID EmployeeID, leaveType LeaveType, year int) ([]Transaction, error)

	// Count returns the number of transactions for one balance tuple.
	// Cheap cache-freshness probe; avoids loading rows on a cache hit.
	Count(ctx context.Context, employeeID EmployeeID, leaveType LeaveType, year int) (int, error)

	// TypesInYear returns the leave types that have transactions for the
	// employee in the given year.
	TypesInYear(ctx context.Context, employeeID EmployeeID, year int) ([]LeaveType, error)

	// EmployeesInYear returns employees with any transactions in the year.
	// Drives the carry-forward rollover batch.
	EmployeesInYear(ctx context.Context, year int) ([]EmployeeID, error)

	// Exists checks if an idempotency key has been used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// POLICY STORE
// =============================================================================

type PolicyStore interface {
	// UpsertPolicy writes a policy keyed by leave type, bumping Version.
	UpsertPolicy(ctx context.Context, p LeavePolicy) error

	// GetPolicy returns the policy for a leave type or ErrPolicyNotFound.
	GetPolicy(ctx context.Context, leaveType LeaveType) (LeavePolicy, error)

	// ListPolicies returns all policies, optionally only active ones.
	ListPolicies(ctx context.Context, activeOnly bool) ([]LeavePolicy, error)
}

// =============================================================================
// REQUEST STORE
// =============================================================================

type RequestFilter struct {
	EmployeeID *EmployeeID
	Status     *RequestStatus
	Year       *int
	Limit      int
}

type RequestStore interface {
	// CreateRequest persists a new request row.
	CreateRequest(ctx context.Context, r LeaveRequest) error

	// GetRequest returns a request or ErrRequestNotFound.
	GetRequest(ctx context.Context, id RequestID) (LeaveRequest, error)

	// UpdateRequest writes the row only while its stored status still equals
	// expect. A miss means a concurrent transition won: ErrConcurrencyConflict.
	UpdateRequest(ctx context.Context, r LeaveRequest, expect RequestStatus) error

	// ListRequests returns requests matching the filter, newest first.
	ListRequests(ctx context.Context, f RequestFilter) ([]LeaveRequest, error)

	// ListOverlapping returns the employee's pending and approved requests
	// whose inclusive date range intersects [start, end].
	ListOverlapping(ctx context.Context, employeeID EmployeeID, start, end Date) ([]LeaveRequest, error)
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditRequestSubmitted AuditAction = "request_submitted"
	AuditRequestApproved  AuditAction = "request_approved"
	AuditRequestRejected  AuditAction = "request_rejected"
	AuditRequestCancelled AuditAction = "request_cancelled"
	AuditPolicyChanged    AuditAction = "policy_changed"
	AuditManualAdjust     AuditAction = "manual_adjustment"
	AuditRollover         AuditAction = "carry_forward_rollover"
)

// AuditEntry records who did what when.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	ActorID    string
	Action     AuditAction
	EmployeeID EmployeeID
	LeaveType  LeaveType
	RequestID  RequestID
	Detail     string
}

type AuditFilter struct {
	EmployeeID *EmployeeID
	ActorID    *string
	Actions    []AuditAction
	Limit      int
}

// AuditLog stores audit entries. Also append-only. Method names carry the
// Audit prefix so the interface embeds cleanly next to Store.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// ROLLOVER RUNS - Carry-forward batch bookkeeping
// =============================================================================

type RolloverStatus string

const (
	RolloverRunning   RolloverStatus = "running"
	RolloverCompleted RolloverStatus = "completed"
	RolloverFailed    RolloverStatus = "failed"
)

// RolloverRun records one execution of the carry-forward batch for a target
// year. The batch itself is idempotent; runs exist for audit and UI display.
type RolloverRun struct {
	ID                  string
	TargetYear          int
	Status              RolloverStatus
	EmployeesProcessed  int
	TransactionsCreated int
	Error               string
	StartedAt           time.Time
	CompletedAt         *time.Time
}

type RolloverStore interface {
	SaveRolloverRun(ctx context.Context, run RolloverRun) error
	ListRolloverRuns(ctx context.Context, targetYear int) ([]RolloverRun, error)
}

// =============================================================================
// COMPOSITE STORES
// =============================================================================

// EngineStore bundles every persistence surface the engine touches.
type EngineStore interface {
	Store
	PolicyStore
	RequestStore
	AuditLog
	RolloverStore
}

// TxStore wraps EngineStore with transaction support.
// Use this when a request-status change and a ledger batch must land
// together or not at all.
type TxStore interface {
	EngineStore

	// WithTx executes fn within a transaction.
	// If fn returns an error, every write inside is rolled back.
	WithTx(ctx context.Context, fn func(EngineStore) error) error
}
