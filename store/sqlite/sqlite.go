/*
Package sqlite provides the SQLite-backed implementation of the leave
engine's storage interfaces.

PURPOSE:
  Implements leave.TxStore: the append-only transaction ledger, policy
  and request rows, the audit log, and rollover-run bookkeeping. In
  production the same patterns apply to PostgreSQL, only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches the transactions table.
  Corrections are reversing adjustment rows appended later.

CONCURRENCY MAPPING:
  Two unique indexes turn races into typed errors:
  - (employee_id, leave_type, year, seq): two writers folding the same
    balance claim the same next Seq; the loser gets
    leave.ErrConcurrencyConflict and retries.
  - idempotency_key: retried operations get
    leave.ErrDuplicateIdempotencyKey instead of double-crediting.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := leave.NewLedger(store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - leave/store.go: Interface definitions
  - leave/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/leave-engine/leave"
)

// Store implements leave.TxStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx abstracts *sql.DB and *sql.Tx so every query can run either
// standalone or inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		year INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		description TEXT,
		leave_id TEXT,
		reverses_id TEXT,
		provisional BOOLEAN NOT NULL DEFAULT FALSE,
		override BOOLEAN NOT NULL DEFAULT FALSE,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the optimistic-concurrency backstop. Two writers that both
	-- folded the same balance claim the same next seq; one of them loses
	-- here instead of silently double-booking.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_tuple_seq
		ON transactions(employee_id, leave_type, year, seq);

	-- Balance fold (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_tuple
		ON transactions(employee_id, leave_type, year);
	CREATE INDEX IF NOT EXISTS idx_transactions_employee_year
		ON transactions(employee_id, year);
	CREATE INDEX IF NOT EXISTS idx_transactions_leave_id
		ON transactions(leave_id) WHERE leave_id IS NOT NULL;

	-- Policies (one row per leave type, versioned on update)
	CREATE TABLE IF NOT EXISTS policies (
		leave_type TEXT PRIMARY KEY,
		description TEXT,
		default_allocation TEXT NOT NULL,
		max_consecutive_days INTEGER NOT NULL,
		min_advance_notice_days INTEGER NOT NULL DEFAULT 0,
		max_advance_booking_days INTEGER NOT NULL DEFAULT 0,
		allow_carry_forward BOOLEAN NOT NULL DEFAULT FALSE,
		carry_forward_limit TEXT NOT NULL DEFAULT '0',
		documents_required BOOLEAN NOT NULL DEFAULT FALSE,
		exempt_from_annual_quota BOOLEAN NOT NULL DEFAULT FALSE,
		thresholds_json TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Leave requests
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_days TEXT NOT NULL,
		year INTEGER NOT NULL,
		reason TEXT,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		decided_by TEXT,
		decided_at TEXT,
		decision_note TEXT,
		cancelled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_employee_dates
		ON requests(employee_id, start_date, end_date);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		employee_id TEXT,
		leave_type TEXT,
		request_id TEXT,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_employee
		ON audit_log(employee_id);
	CREATE INDEX IF NOT EXISTS idx_audit_ts
		ON audit_log(ts DESC);

	-- Rollover runs (carry-forward batch bookkeeping)
	CREATE TABLE IF NOT EXISTS rollover_runs (
		id TEXT PRIMARY KEY,
		target_year INTEGER NOT NULL,
		status TEXT NOT NULL,
		employees_processed INTEGER NOT NULL DEFAULT 0,
		transactions_created INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rollover_runs_year
		ON rollover_runs(target_year);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (leave.Store interface)
// =============================================================================

func (s *Store) Append(ctx context.Context, tx leave.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendIn(ctx, s.db, tx)
}

func (s *Store) appendIn(ctx context.Context, db dbtx, tx leave.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, employee_id, leave_type, year, seq, tx_type, amount, date, description,
		 leave_id, reverses_id, provisional, override, idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, query,
		string(tx.ID),
		string(tx.EmployeeID),
		string(tx.LeaveType),
		tx.Year,
		tx.Seq,
		string(tx.Type),
		tx.Amount.String(),
		tx.Date.String(),
		nullString(tx.Description),
		nullString(string(tx.LeaveID)),
		nullString(string(tx.ReversesID)),
		tx.Provisional,
		tx.Override,
		nullString(tx.IdempotencyKey),
		nullString(tx.CreatedBy),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "idempotency_key") {
				return leave.ErrDuplicateIdempotencyKey
			}
			return leave.ErrConcurrencyConflict
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) AppendBatch(ctx context.Context, txs []leave.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.appendBatchIn(ctx, sqlTx, txs); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) appendBatchIn(ctx context.Context, db dbtx, txs []leave.Transaction) error {
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			if seen[tx.IdempotencyKey] {
				return leave.ErrDuplicateIdempotencyKey
			}
			seen[tx.IdempotencyKey] = true
		}
	}
	for _, tx := range txs {
		if err := s.appendIn(ctx, db, tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) ([]leave.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadIn(ctx, s.db, employeeID, leaveType, year)
}

func (s *Store) loadIn(ctx context.Context, db dbtx, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) ([]leave.Transaction, error) {
	query := `
		SELECT id, employee_id, leave_type, year, seq, tx_type, amount, date, description,
		       leave_id, reverses_id, provisional, override, idempotency_key, created_by, created_at
		FROM transactions
		WHERE employee_id = ? AND leave_type = ? AND year = ?
		ORDER BY seq ASC
	`
	return queryTransactions(ctx, db, query, string(employeeID), string(leaveType), year)
}

func (s *Store) Count(ctx context.Context, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countIn(ctx, s.db, employeeID, leaveType, year)
}

func (s *Store) countIn(ctx context.Context, db dbtx, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE employee_id = ? AND leave_type = ? AND year = ?",
		string(employeeID), string(leaveType), year,
	).Scan(&count)
	return count, err
}

func (s *Store) TypesInYear(ctx context.Context, employeeID leave.EmployeeID, year int) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typesInYearIn(ctx, s.db, employeeID, year)
}

func (s *Store) typesInYearIn(ctx context.Context, db dbtx, employeeID leave.EmployeeID, year int) ([]leave.LeaveType, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT DISTINCT leave_type FROM transactions WHERE employee_id = ? AND year = ? ORDER BY leave_type",
		string(employeeID), year,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []leave.LeaveType
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, leave.LeaveType(t))
	}
	return types, rows.Err()
}

func (s *Store) EmployeesInYear(ctx context.Context, year int) ([]leave.EmployeeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.employeesInYearIn(ctx, s.db, year)
}

func (s *Store) employeesInYearIn(ctx context.Context, db dbtx, year int) ([]leave.EmployeeID, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT DISTINCT employee_id FROM transactions WHERE year = ? ORDER BY employee_id", year,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []leave.EmployeeID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		employees = append(employees, leave.EmployeeID(id))
	}
	return employees, rows.Err()
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsIn(ctx, s.db, idempotencyKey)
}

func (s *Store) existsIn(ctx context.Context, db dbtx, idempotencyKey string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?", idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func queryTransactions(ctx context.Context, db dbtx, query string, args ...any) ([]leave.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []leave.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (leave.Transaction, error) {
	var (
		tx             leave.Transaction
		amount         string
		date           string
		description    sql.NullString
		leaveID        sql.NullString
		reversesID     sql.NullString
		idempotencyKey sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.EmployeeID, &tx.LeaveType, &tx.Year, &tx.Seq, &tx.Type,
		&amount, &date, &description, &leaveID, &reversesID,
		&tx.Provisional, &tx.Override, &idempotencyKey, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Amount = leave.MustParseDays(amount)
	tx.Date, _ = leave.ParseDate(date)
	tx.Description = description.String
	tx.LeaveID = leave.RequestID(leaveID.String)
	tx.ReversesID = leave.TransactionID(reversesID.String)
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return tx, nil
}

// =============================================================================
// POLICY STORE (leave.PolicyStore interface)
// =============================================================================

type thresholdJSON struct {
	Level   string `json:"level"`
	MaxDays string `json:"maxDays"`
}

func (s *Store) UpsertPolicy(ctx context.Context, p leave.LeavePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertPolicyIn(ctx, s.db, p)
}

func (s *Store) upsertPolicyIn(ctx context.Context, db dbtx, p leave.LeavePolicy) error {
	thresholds := make([]thresholdJSON, len(p.ApprovalThresholds))
	for i, t := range p.ApprovalThresholds {
		thresholds[i] = thresholdJSON{Level: t.Level.String(), MaxDays: t.MaxDays.String()}
	}
	thresholdsJSON, err := json.Marshal(thresholds)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}

	query := `
		INSERT INTO policies
		(leave_type, description, default_allocation, max_consecutive_days,
		 min_advance_notice_days, max_advance_booking_days, allow_carry_forward,
		 carry_forward_limit, documents_required, exempt_from_annual_quota,
		 thresholds_json, is_active, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(leave_type) DO UPDATE SET
			description = excluded.description,
			default_allocation = excluded.default_allocation,
			max_consecutive_days = excluded.max_consecutive_days,
			min_advance_notice_days = excluded.min_advance_notice_days,
			max_advance_booking_days = excluded.max_advance_booking_days,
			allow_carry_forward = excluded.allow_carry_forward,
			carry_forward_limit = excluded.carry_forward_limit,
			documents_required = excluded.documents_required,
			exempt_from_annual_quota = excluded.exempt_from_annual_quota,
			thresholds_json = excluded.thresholds_json,
			is_active = excluded.is_active,
			version = policies.version + 1,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = db.ExecContext(ctx, query,
		string(p.LeaveType), p.Description, p.DefaultAllocation.String(),
		p.MaxConsecutiveDays, p.MinAdvanceNoticeDays, p.MaxAdvanceBookingDays,
		p.AllowCarryForward, p.CarryForwardLimit.String(),
		p.DocumentsRequired, p.ExemptFromAnnualQuota,
		string(thresholdsJSON), p.IsActive, now, now,
	)
	return err
}

func (s *Store) GetPolicy(ctx context.Context, leaveType leave.LeaveType) (leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPolicyIn(ctx, s.db, leaveType)
}

const policyColumns = `leave_type, description, default_allocation, max_consecutive_days,
	min_advance_notice_days, max_advance_booking_days, allow_carry_forward,
	carry_forward_limit, documents_required, exempt_from_annual_quota,
	thresholds_json, is_active, version, created_at, updated_at`

func (s *Store) getPolicyIn(ctx context.Context, db dbtx, leaveType leave.LeaveType) (leave.LeavePolicy, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE leave_type = ?", string(leaveType),
	)
	p, err := scanPolicy(row.Scan)
	if err == sql.ErrNoRows {
		return leave.LeavePolicy{}, leave.ErrPolicyNotFound
	}
	return p, err
}

func (s *Store) ListPolicies(ctx context.Context, activeOnly bool) ([]leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPoliciesIn(ctx, s.db, activeOnly)
}

func (s *Store) listPoliciesIn(ctx context.Context, db dbtx, activeOnly bool) ([]leave.LeavePolicy, error) {
	query := "SELECT " + policyColumns + " FROM policies ORDER BY leave_type"
	if activeOnly {
		query = "SELECT " + policyColumns + " FROM policies WHERE is_active = TRUE ORDER BY leave_type"
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []leave.LeavePolicy
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func scanPolicy(scan func(...any) error) (leave.LeavePolicy, error) {
	var (
		p              leave.LeavePolicy
		description    sql.NullString
		allocation     string
		carryLimit     string
		thresholdsJSON string
		createdAt      string
		updatedAt      string
	)

	err := scan(
		&p.LeaveType, &description, &allocation, &p.MaxConsecutiveDays,
		&p.MinAdvanceNoticeDays, &p.MaxAdvanceBookingDays, &p.AllowCarryForward,
		&carryLimit, &p.DocumentsRequired, &p.ExemptFromAnnualQuota,
		&thresholdsJSON, &p.IsActive, &p.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return p, err
	}

	p.Description = description.String
	p.DefaultAllocation = leave.MustParseDays(allocation)
	p.CarryForwardLimit = leave.MustParseDays(carryLimit)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	var thresholds []thresholdJSON
	if err := json.Unmarshal([]byte(thresholdsJSON), &thresholds); err != nil {
		return p, fmt.Errorf("failed to unmarshal thresholds for %s: %w", p.LeaveType, err)
	}
	for _, t := range thresholds {
		level, err := leave.ParseAuthorityLevel(t.Level)
		if err != nil {
			return p, fmt.Errorf("policy %s: %w", p.LeaveType, err)
		}
		p.ApprovalThresholds = append(p.ApprovalThresholds, leave.ApprovalThreshold{
			Level:   level,
			MaxDays: leave.MustParseDays(t.MaxDays),
		})
	}
	return p, nil
}

// =============================================================================
// REQUEST STORE (leave.RequestStore interface)
// =============================================================================

func (s *Store) CreateRequest(ctx context.Context, r leave.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRequestIn(ctx, s.db, r)
}

func (s *Store) createRequestIn(ctx context.Context, db dbtx, r leave.LeaveRequest) error {
	query := `
		INSERT INTO requests
		(id, employee_id, leave_type, start_date, end_date, total_days, year,
		 reason, priority, status, submitted_at, decided_by, decided_at,
		 decision_note, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		string(r.ID), string(r.EmployeeID), string(r.LeaveType),
		r.StartDate.String(), r.EndDate.String(), r.TotalDays.String(), r.Year,
		nullString(r.Reason), string(r.Priority), string(r.Status),
		r.SubmittedAt.Format(time.RFC3339),
		nullString(r.DecidedBy), nullTime(r.DecidedAt),
		nullString(r.DecisionNote), nullTime(r.CancelledAt),
	)
	return err
}

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRequestIn(ctx, s.db, id)
}

const requestColumns = `id, employee_id, leave_type, start_date, end_date, total_days, year,
	reason, priority, status, submitted_at, decided_by, decided_at, decision_note, cancelled_at`

func (s *Store) getRequestIn(ctx context.Context, db dbtx, id leave.RequestID) (leave.LeaveRequest, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE id = ?", string(id),
	)
	r, err := scanRequest(row.Scan)
	if err == sql.ErrNoRows {
		return leave.LeaveRequest{}, leave.ErrRequestNotFound
	}
	return r, err
}

// UpdateRequest writes the row only while its stored status still equals
// expect. Zero rows affected with an existing row means a concurrent
// transition won.
func (s *Store) UpdateRequest(ctx context.Context, r leave.LeaveRequest, expect leave.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRequestIn(ctx, s.db, r, expect)
}

func (s *Store) updateRequestIn(ctx context.Context, db dbtx, r leave.LeaveRequest, expect leave.RequestStatus) error {
	query := `
		UPDATE requests SET
			status = ?, decided_by = ?, decided_at = ?, decision_note = ?, cancelled_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := db.ExecContext(ctx, query,
		string(r.Status), nullString(r.DecidedBy), nullTime(r.DecidedAt),
		nullString(r.DecisionNote), nullTime(r.CancelledAt),
		string(r.ID), string(expect),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.getRequestIn(ctx, db, r.ID); err != nil {
			return err
		}
		return leave.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRequestsIn(ctx, s.db, f)
}

func (s *Store) listRequestsIn(ctx context.Context, db dbtx, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	query := "SELECT " + requestColumns + " FROM requests WHERE 1=1"
	var args []any
	if f.EmployeeID != nil {
		query += " AND employee_id = ?"
		args = append(args, string(*f.EmployeeID))
	}
	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*f.Status))
	}
	if f.Year != nil {
		query += " AND year = ?"
		args = append(args, *f.Year)
	}
	query += " ORDER BY submitted_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return queryRequests(ctx, db, query, args...)
}

func (s *Store) ListOverlapping(ctx context.Context, employeeID leave.EmployeeID, start, end leave.Date) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOverlappingIn(ctx, s.db, employeeID, start, end)
}

func (s *Store) listOverlappingIn(ctx context.Context, db dbtx, employeeID leave.EmployeeID, start, end leave.Date) ([]leave.LeaveRequest, error) {
	// Inclusive interval intersection on ISO date strings, which compare
	// lexicographically in date order.
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE employee_id = ?
		  AND status IN ('pending', 'approved')
		  AND start_date <= ? AND end_date >= ?
		ORDER BY start_date ASC
	`
	return queryRequests(ctx, db, query, string(employeeID), end.String(), start.String())
}

func queryRequests(ctx context.Context, db dbtx, query string, args ...any) ([]leave.LeaveRequest, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []leave.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func scanRequest(scan func(...any) error) (leave.LeaveRequest, error) {
	var (
		r            leave.LeaveRequest
		startDate    string
		endDate      string
		totalDays    string
		reason       sql.NullString
		submittedAt  string
		decidedBy    sql.NullString
		decidedAt    sql.NullString
		decisionNote sql.NullString
		cancelledAt  sql.NullString
	)

	err := scan(
		&r.ID, &r.EmployeeID, &r.LeaveType, &startDate, &endDate, &totalDays, &r.Year,
		&reason, &r.Priority, &r.Status, &submittedAt,
		&decidedBy, &decidedAt, &decisionNote, &cancelledAt,
	)
	if err != nil {
		return r, err
	}

	r.StartDate, _ = leave.ParseDate(startDate)
	r.EndDate, _ = leave.ParseDate(endDate)
	r.TotalDays = leave.MustParseDays(totalDays)
	r.Reason = reason.String
	r.SubmittedAt, _ = time.Parse(time.RFC3339, submittedAt)
	r.DecidedBy = decidedBy.String
	r.DecisionNote = decisionNote.String
	if decidedAt.Valid {
		t, _ := time.Parse(time.RFC3339, decidedAt.String)
		r.DecidedAt = &t
	}
	if cancelledAt.Valid {
		t, _ := time.Parse(time.RFC3339, cancelledAt.String)
		r.CancelledAt = &t
	}
	return r, nil
}

// =============================================================================
// AUDIT LOG (leave.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry leave.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAuditIn(ctx, s.db, entry)
}

func (s *Store) appendAuditIn(ctx context.Context, db dbtx, entry leave.AuditEntry) error {
	query := `
		INSERT INTO audit_log (id, ts, actor_id, action, employee_id, leave_type, request_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp.Format(time.RFC3339), entry.ActorID, string(entry.Action),
		nullString(string(entry.EmployeeID)), nullString(string(entry.LeaveType)),
		nullString(string(entry.RequestID)), nullString(entry.Detail),
	)
	return err
}

func (s *Store) QueryAudit(ctx context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAuditIn(ctx, s.db, filter)
}

func (s *Store) queryAuditIn(ctx context.Context, db dbtx, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	query := "SELECT id, ts, actor_id, action, employee_id, leave_type, request_id, detail FROM audit_log WHERE 1=1"
	var args []any
	if filter.EmployeeID != nil {
		query += " AND employee_id = ?"
		args = append(args, string(*filter.EmployeeID))
	}
	if filter.ActorID != nil {
		query += " AND actor_id = ?"
		args = append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		query += " AND action IN (?" + strings.Repeat(", ?", len(filter.Actions)-1) + ")"
		for _, a := range filter.Actions {
			args = append(args, string(a))
		}
	}
	query += " ORDER BY ts DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []leave.AuditEntry
	for rows.Next() {
		var (
			entry      leave.AuditEntry
			ts         string
			employeeID sql.NullString
			leaveType  sql.NullString
			requestID  sql.NullString
			detail     sql.NullString
		)
		if err := rows.Scan(&entry.ID, &ts, &entry.ActorID, &entry.Action,
			&employeeID, &leaveType, &requestID, &detail); err != nil {
			return nil, err
		}
		entry.Timestamp, _ = time.Parse(time.RFC3339, ts)
		entry.EmployeeID = leave.EmployeeID(employeeID.String)
		entry.LeaveType = leave.LeaveType(leaveType.String)
		entry.RequestID = leave.RequestID(requestID.String)
		entry.Detail = detail.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// ROLLOVER RUNS (leave.RolloverStore interface)
// =============================================================================

func (s *Store) SaveRolloverRun(ctx context.Context, run leave.RolloverRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRolloverRunIn(ctx, s.db, run)
}

func (s *Store) saveRolloverRunIn(ctx context.Context, db dbtx, run leave.RolloverRun) error {
	query := `
		INSERT INTO rollover_runs
		(id, target_year, status, employees_processed, transactions_created, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			employees_processed = excluded.employees_processed,
			transactions_created = excluded.transactions_created,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	_, err := db.ExecContext(ctx, query,
		run.ID, run.TargetYear, string(run.Status),
		run.EmployeesProcessed, run.TransactionsCreated,
		nullString(run.Error),
		run.StartedAt.Format(time.RFC3339), nullTime(run.CompletedAt),
	)
	return err
}

func (s *Store) ListRolloverRuns(ctx context.Context, targetYear int) ([]leave.RolloverRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRolloverRunsIn(ctx, s.db, targetYear)
}

func (s *Store) listRolloverRunsIn(ctx context.Context, db dbtx, targetYear int) ([]leave.RolloverRun, error) {
	query := `
		SELECT id, target_year, status, employees_processed, transactions_created, error, started_at, completed_at
		FROM rollover_runs
	`
	var args []any
	if targetYear != 0 {
		query += " WHERE target_year = ?"
		args = append(args, targetYear)
	}
	query += " ORDER BY started_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []leave.RolloverRun
	for rows.Next() {
		var (
			run         leave.RolloverRun
			errMsg      sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.TargetYear, &run.Status,
			&run.EmployeesProcessed, &run.TransactionsCreated,
			&errMsg, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.Error = errMsg.String
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore interface)
// =============================================================================

// WithTx executes fn inside one database transaction. Writes made through
// the passed view are visible to its own reads and roll back together on
// error.
func (s *Store) WithTx(ctx context.Context, fn func(leave.EngineStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every call through the open *sql.Tx. The parent's mutex
// is already held by WithTx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Append(ctx context.Context, tx leave.Transaction) error {
	return ts.parent.appendIn(ctx, ts.tx, tx)
}

func (ts *txStore) AppendBatch(ctx context.Context, txs []leave.Transaction) error {
	return ts.parent.appendBatchIn(ctx, ts.tx, txs)
}

func (ts *txStore) Load(ctx context.Context, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) ([]leave.Transaction, error) {
	return ts.parent.loadIn(ctx, ts.tx, employeeID, leaveType, year)
}

func (ts *txStore) Count(ctx context.Context, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) (int, error) {
	return ts.parent.countIn(ctx, ts.tx, employeeID, leaveType, year)
}

func (ts *txStore) TypesInYear(ctx context.Context, employeeID leave.EmployeeID, year int) ([]leave.LeaveType, error) {
	return ts.parent.typesInYearIn(ctx, ts.tx, employeeID, year)
}

func (ts *txStore) EmployeesInYear(ctx context.Context, year int) ([]leave.EmployeeID, error) {
	return ts.parent.employeesInYearIn(ctx, ts.tx, year)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return ts.parent.existsIn(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) UpsertPolicy(ctx context.Context, p leave.LeavePolicy) error {
	return ts.parent.upsertPolicyIn(ctx, ts.tx, p)
}

func (ts *txStore) GetPolicy(ctx context.Context, leaveType leave.LeaveType) (leave.LeavePolicy, error) {
	return ts.parent.getPolicyIn(ctx, ts.tx, leaveType)
}

func (ts *txStore) ListPolicies(ctx context.Context, activeOnly bool) ([]leave.LeavePolicy, error) {
	return ts.parent.listPoliciesIn(ctx, ts.tx, activeOnly)
}

func (ts *txStore) CreateRequest(ctx context.Context, r leave.LeaveRequest) error {
	return ts.parent.createRequestIn(ctx, ts.tx, r)
}

func (ts *txStore) GetRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	return ts.parent.getRequestIn(ctx, ts.tx, id)
}

func (ts *txStore) UpdateRequest(ctx context.Context, r leave.LeaveRequest, expect leave.RequestStatus) error {
	return ts.parent.updateRequestIn(ctx, ts.tx, r, expect)
}

func (ts *txStore) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	return ts.parent.listRequestsIn(ctx, ts.tx, f)
}

func (ts *txStore) ListOverlapping(ctx context.Context, employeeID leave.EmployeeID, start, end leave.Date) ([]leave.LeaveRequest, error) {
	return ts.parent.listOverlappingIn(ctx, ts.tx, employeeID, start, end)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry leave.AuditEntry) error {
	return ts.parent.appendAuditIn(ctx, ts.tx, entry)
}

func (ts *txStore) QueryAudit(ctx context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	return ts.parent.queryAuditIn(ctx, ts.tx, filter)
}

func (ts *txStore) SaveRolloverRun(ctx context.Context, run leave.RolloverRun) error {
	return ts.parent.saveRolloverRunIn(ctx, ts.tx, run)
}

func (ts *txStore) ListRolloverRuns(ctx context.Context, targetYear int) ([]leave.RolloverRun, error) {
	return ts.parent.listRolloverRunsIn(ctx, ts.tx, targetYear)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing and demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "requests", "audit_log", "rollover_runs", "policies"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
