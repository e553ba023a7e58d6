/*
Package store provides the in-memory EngineStore implementation, used by
tests and the demo scenarios. Production deployments use store/sqlite.

The memory store honors the same contracts as SQLite: per-tuple Seq
uniqueness surfaces ErrConcurrencyConflict, idempotency keys surface
ErrDuplicateIdempotencyKey, and WithTx gives all-or-nothing semantics
via snapshot and restore.
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type tuple struct {
	EmployeeID leave.EmployeeID
	LeaveType  leave.LeaveType
	Year       int
}

type Memory struct {
	mu           sync.RWMutex
	transactions map[tuple][]leave.Transaction
	idempotency  map[string]bool
	policies     map[leave.LeaveType]leave.LeavePolicy
	requests     map[leave.RequestID]leave.LeaveRequest
	audit        []leave.AuditEntry
	rollovers    []leave.RolloverRun
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[tuple][]leave.Transaction),
		idempotency:  make(map[string]bool),
		policies:     make(map[leave.LeaveType]leave.LeavePolicy),
		requests:     make(map[leave.RequestID]leave.LeaveRequest),
	}
}

// Reset drops all stored data. Used by the demo scenario loader.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = make(map[tuple][]leave.Transaction)
	m.idempotency = make(map[string]bool)
	m.policies = make(map[leave.LeaveType]leave.LeavePolicy)
	m.requests = make(map[leave.RequestID]leave.LeaveRequest)
	m.audit = nil
	m.rollovers = nil
	return nil
}

// -----------------------------------------------------------------------------
// Transactions (append-only)
// -----------------------------------------------------------------------------

func (m *Memory) Append(_ context.Context, tx leave.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) AppendBatch(_ context.Context, txs []leave.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBatchLocked(txs)
}

func (m *Memory) appendBatchLocked(txs []leave.Transaction) error {
	// Check every key and Seq before writing anything so the batch is
	// all-or-nothing even without a snapshot.
	seen := make(map[string]bool)
	claimed := make(map[tuple]map[int]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			if m.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
				return leave.ErrDuplicateIdempotencyKey
			}
			seen[tx.IdempotencyKey] = true
		}
		k := tuple{EmployeeID: tx.EmployeeID, LeaveType: tx.LeaveType, Year: tx.Year}
		if claimed[k] == nil {
			claimed[k] = make(map[int]bool)
		}
		if m.seqTakenLocked(k, tx.Seq) || claimed[k][tx.Seq] {
			return leave.ErrConcurrencyConflict
		}
		claimed[k][tx.Seq] = true
	}
	for _, tx := range txs {
		if err := m.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) seqTakenLocked(k tuple, seq int) bool {
	for _, existing := range m.transactions[k] {
		if existing.Seq == seq {
			return true
		}
	}
	return false
}

func (m *Memory) appendLocked(tx leave.Transaction) error {
	k := tuple{EmployeeID: tx.EmployeeID, LeaveType: tx.LeaveType, Year: tx.Year}
	if m.seqTakenLocked(k, tx.Seq) {
		return leave.ErrConcurrencyConflict
	}
	if tx.IdempotencyKey != "" {
		if m.idempotency[tx.IdempotencyKey] {
			return leave.ErrDuplicateIdempotencyKey
		}
		m.idempotency[tx.IdempotencyKey] = true
	}

	txs := m.transactions[k]
	i := sort.Search(len(txs), func(i int) bool { return txs[i].Seq > tx.Seq })
	txs = append(txs, leave.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[k] = txs
	return nil
}

func (m *Memory) Load(_ context.Context, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) ([]leave.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(employeeID, leaveType, year), nil
}

func (m *Memory) loadLocked(employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) []leave.Transaction {
	k := tuple{EmployeeID: employeeID, LeaveType: leaveType, Year: year}
	result := make([]leave.Transaction, len(m.transactions[k]))
	copy(result, m.transactions[k])
	return result
}

func (m *Memory) Count(_ context.Context, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions[tuple{EmployeeID: employeeID, LeaveType: leaveType, Year: year}]), nil
}

func (m *Memory) TypesInYear(_ context.Context, employeeID leave.EmployeeID, year int) ([]leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.typesInYearLocked(employeeID, year), nil
}

func (m *Memory) typesInYearLocked(employeeID leave.EmployeeID, year int) []leave.LeaveType {
	var types []leave.LeaveType
	for k := range m.transactions {
		if k.EmployeeID == employeeID && k.Year == year && len(m.transactions[k]) > 0 {
			types = append(types, k.LeaveType)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (m *Memory) EmployeesInYear(_ context.Context, year int) ([]leave.EmployeeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.employeesInYearLocked(year), nil
}

func (m *Memory) employeesInYearLocked(year int) []leave.EmployeeID {
	seen := make(map[leave.EmployeeID]bool)
	for k := range m.transactions {
		if k.Year == year && len(m.transactions[k]) > 0 {
			seen[k.EmployeeID] = true
		}
	}
	employees := make([]leave.EmployeeID, 0, len(seen))
	for id := range seen {
		employees = append(employees, id)
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i] < employees[j] })
	return employees
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// -----------------------------------------------------------------------------
// Policies
// -----------------------------------------------------------------------------

func (m *Memory) UpsertPolicy(_ context.Context, p leave.LeavePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertPolicyLocked(p)
}

func (m *Memory) upsertPolicyLocked(p leave.LeavePolicy) error {
	now := time.Now().UTC()
	if existing, ok := m.policies[p.LeaveType]; ok {
		p.Version = existing.Version + 1
		p.CreatedAt = existing.CreatedAt
	} else {
		if p.Version == 0 {
			p.Version = 1
		}
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.policies[p.LeaveType] = p
	return nil
}

func (m *Memory) GetPolicy(_ context.Context, leaveType leave.LeaveType) (leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPolicyLocked(leaveType)
}

func (m *Memory) getPolicyLocked(leaveType leave.LeaveType) (leave.LeavePolicy, error) {
	p, ok := m.policies[leaveType]
	if !ok {
		return leave.LeavePolicy{}, leave.ErrPolicyNotFound
	}
	return p, nil
}

func (m *Memory) ListPolicies(_ context.Context, activeOnly bool) ([]leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPoliciesLocked(activeOnly), nil
}

func (m *Memory) listPoliciesLocked(activeOnly bool) []leave.LeavePolicy {
	var out []leave.LeavePolicy
	for _, p := range m.policies {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaveType < out[j].LeaveType })
	return out
}

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

func (m *Memory) CreateRequest(_ context.Context, r leave.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRequestLocked(id)
}

func (m *Memory) getRequestLocked(id leave.RequestID) (leave.LeaveRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return leave.LeaveRequest{}, leave.ErrRequestNotFound
	}
	return r, nil
}

func (m *Memory) UpdateRequest(_ context.Context, r leave.LeaveRequest, expect leave.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRequestLocked(r, expect)
}

func (m *Memory) updateRequestLocked(r leave.LeaveRequest, expect leave.RequestStatus) error {
	existing, ok := m.requests[r.ID]
	if !ok {
		return leave.ErrRequestNotFound
	}
	if existing.Status != expect {
		return leave.ErrConcurrencyConflict
	}
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRequestsLocked(f), nil
}

func (m *Memory) listRequestsLocked(f leave.RequestFilter) []leave.LeaveRequest {
	var out []leave.LeaveRequest
	for _, r := range m.requests {
		if f.EmployeeID != nil && r.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.Year != nil && r.Year != *f.Year {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (m *Memory) ListOverlapping(_ context.Context, employeeID leave.EmployeeID, start, end leave.Date) ([]leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOverlappingLocked(employeeID, start, end), nil
}

func (m *Memory) listOverlappingLocked(employeeID leave.EmployeeID, start, end leave.Date) []leave.LeaveRequest {
	var out []leave.LeaveRequest
	for _, r := range m.requests {
		if r.EmployeeID != employeeID {
			continue
		}
		if r.Status != leave.StatusPending && r.Status != leave.StatusApproved {
			continue
		}
		if leave.RangesOverlap(r.StartDate, r.EndDate, start, end) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out
}

// -----------------------------------------------------------------------------
// Audit log
// -----------------------------------------------------------------------------

func (m *Memory) AppendAudit(_ context.Context, entry leave.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryAuditLocked(filter), nil
}

func (m *Memory) queryAuditLocked(filter leave.AuditFilter) []leave.AuditEntry {
	var out []leave.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		entry := m.audit[i]
		if filter.EmployeeID != nil && entry.EmployeeID != *filter.EmployeeID {
			continue
		}
		if filter.ActorID != nil && entry.ActorID != *filter.ActorID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, entry.Action) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

func containsAction(actions []leave.AuditAction, a leave.AuditAction) bool {
	for _, action := range actions {
		if action == a {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Rollover runs
// -----------------------------------------------------------------------------

func (m *Memory) SaveRolloverRun(_ context.Context, run leave.RolloverRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.rollovers {
		if existing.ID == run.ID {
			m.rollovers[i] = run
			return nil
		}
	}
	m.rollovers = append(m.rollovers, run)
	return nil
}

func (m *Memory) ListRolloverRuns(_ context.Context, targetYear int) ([]leave.RolloverRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.RolloverRun
	for i := len(m.rollovers) - 1; i >= 0; i-- {
		if targetYear == 0 || m.rollovers[i].TargetYear == targetYear {
			out = append(out, m.rollovers[i])
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot and restore on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(leave.EngineStore) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions map[tuple][]leave.Transaction
	idempotency  map[string]bool
	policies     map[leave.LeaveType]leave.LeavePolicy
	requests     map[leave.RequestID]leave.LeaveRequest
	audit        []leave.AuditEntry
	rollovers    []leave.RolloverRun
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		transactions: make(map[tuple][]leave.Transaction, len(tm.transactions)),
		idempotency:  make(map[string]bool, len(tm.idempotency)),
		policies:     make(map[leave.LeaveType]leave.LeavePolicy, len(tm.policies)),
		requests:     make(map[leave.RequestID]leave.LeaveRequest, len(tm.requests)),
		audit:        append([]leave.AuditEntry{}, tm.audit...),
		rollovers:    append([]leave.RolloverRun{}, tm.rollovers...),
	}
	for k, v := range tm.transactions {
		s.transactions[k] = append([]leave.Transaction{}, v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range tm.policies {
		s.policies[k] = v
	}
	for k, v := range tm.requests {
		s.requests[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.transactions = s.transactions
	tm.idempotency = s.idempotency
	tm.policies = s.policies
	tm.requests = s.requests
	tm.audit = s.audit
	tm.rollovers = s.rollovers
}

// txMemoryView runs inside WithTx while the parent's lock is held, so it
// delegates to the unlocked internals.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Append(_ context.Context, tx leave.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) AppendBatch(_ context.Context, txs []leave.Transaction) error {
	return tv.parent.appendBatchLocked(txs)
}

func (tv *txMemoryView) Load(_ context.Context, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) ([]leave.Transaction, error) {
	return tv.parent.loadLocked(employeeID, leaveType, year), nil
}

func (tv *txMemoryView) Count(_ context.Context, employeeID leave.EmployeeID, leaveType leave.LeaveType, year int) (int, error) {
	return len(tv.parent.transactions[tuple{EmployeeID: employeeID, LeaveType: leaveType, Year: year}]), nil
}

func (tv *txMemoryView) TypesInYear(_ context.Context, employeeID leave.EmployeeID, year int) ([]leave.LeaveType, error) {
	return tv.parent.typesInYearLocked(employeeID, year), nil
}

func (tv *txMemoryView) EmployeesInYear(_ context.Context, year int) ([]leave.EmployeeID, error) {
	return tv.parent.employeesInYearLocked(year), nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}

func (tv *txMemoryView) UpsertPolicy(_ context.Context, p leave.LeavePolicy) error {
	return tv.parent.upsertPolicyLocked(p)
}

func (tv *txMemoryView) GetPolicy(_ context.Context, leaveType leave.LeaveType) (leave.LeavePolicy, error) {
	return tv.parent.getPolicyLocked(leaveType)
}

func (tv *txMemoryView) ListPolicies(_ context.Context, activeOnly bool) ([]leave.LeavePolicy, error) {
	return tv.parent.listPoliciesLocked(activeOnly), nil
}

func (tv *txMemoryView) CreateRequest(_ context.Context, r leave.LeaveRequest) error {
	tv.parent.requests[r.ID] = r
	return nil
}

func (tv *txMemoryView) GetRequest(_ context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	return tv.parent.getRequestLocked(id)
}

func (tv *txMemoryView) UpdateRequest(_ context.Context, r leave.LeaveRequest, expect leave.RequestStatus) error {
	return tv.parent.updateRequestLocked(r, expect)
}

func (tv *txMemoryView) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	return tv.parent.listRequestsLocked(f), nil
}

func (tv *txMemoryView) ListOverlapping(_ context.Context, employeeID leave.EmployeeID, start, end leave.Date) ([]leave.LeaveRequest, error) {
	return tv.parent.listOverlappingLocked(employeeID, start, end), nil
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry leave.AuditEntry) error {
	tv.parent.audit = append(tv.parent.audit, entry)
	return nil
}

func (tv *txMemoryView) QueryAudit(_ context.Context, filter leave.AuditFilter) ([]leave.AuditEntry, error) {
	return tv.parent.queryAuditLocked(filter), nil
}

func (tv *txMemoryView) SaveRolloverRun(_ context.Context, run leave.RolloverRun) error {
	for i, existing := range tv.parent.rollovers {
		if existing.ID == run.ID {
			tv.parent.rollovers[i] = run
			return nil
		}
	}
	tv.parent.rollovers = append(tv.parent.rollovers, run)
	return nil
}

func (tv *txMemoryView) ListRolloverRuns(_ context.Context, targetYear int) ([]leave.RolloverRun, error) {
	var out []leave.RolloverRun
	for i := len(tv.parent.rollovers) - 1; i >= 0; i-- {
		if targetYear == 0 || tv.parent.rollovers[i].TargetYear == targetYear {
			out = append(out, tv.parent.rollovers[i])
		}
	}
	return out, nil
}
