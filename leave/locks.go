/*
locks.go - Per-tuple mutual exclusion for ledger mutations

PURPOSE:
  Serializes mutations on one (employee, leave type, year) balance tuple.
  Two concurrent submissions against the same balance must not both pass
  validation over a stale read; the tuple lock closes that window within
  the process, and the store's per-tuple Seq uniqueness backstops it
  across processes.

LOCK ORDERING:
  Non-exempt requests touch two tuples: the type balance and the shared
  annual quota. The aggregate lock is ALWAYS taken first, then the type
  lock. One fixed order means no deadlock.

SEE ALSO:
  - ledger.go: Seq assignment (the optimistic backstop)
  - lifecycle.go: Transitions run under these locks
*/
package leave

import "sync"

// =============================================================================
// TUPLE LOCKS
// =============================================================================

type tupleKey struct {
	EmployeeID EmployeeID
	LeaveType  LeaveType
	Year       int
}

// tupleLocks hands out one mutex per balance tuple. Mutexes are created on
// first use and kept for the life of the process; the key space is bounded
// by employees x leave types x years.
type tupleLocks struct {
	mu    sync.Mutex
	locks map[tupleKey]*sync.Mutex
}

func newTupleLocks() *tupleLocks {
	return &tupleLocks{locks: make(map[tupleKey]*sync.Mutex)}
}

func (t *tupleLocks) get(key tupleKey) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// Lock acquires the mutex for one tuple and returns its unlock function.
func (t *tupleLocks) Lock(employeeID EmployeeID, leaveType LeaveType, year int) func() {
	l := t.get(tupleKey{EmployeeID: employeeID, LeaveType: leaveType, Year: year})
	l.Lock()
	return l.Unlock
}

// LockForRequest acquires every lock a request needs: the aggregate quota
// tuple first when the request debits it, then the type tuple. Returns a
// single unlock releasing both in reverse order.
func (t *tupleLocks) LockForRequest(employeeID EmployeeID, leaveType LeaveType, year int, touchesAggregate bool) func() {
	var unlockAggregate func()
	if touchesAggregate && leaveType != AnnualQuotaType {
		unlockAggregate = t.Lock(employeeID, AnnualQuotaType, year)
	}
	unlockType := t.Lock(employeeID, leaveType, year)

	return func() {
		unlockType()
		if unlockAggregate != nil {
			unlockAggregate()
		}
	}
}
