/*
cache.go - Fold-result cache for balance reads

PURPOSE:
  Balances are always a fold over the tuple's transactions. Folding is
  cheap but loading rows on every read is not, so the ledger caches the
  last fold per tuple and keys its validity on the transaction count:
  any append changes the count and silently invalidates the entry.

  The cache is an optimization only. A stale entry can never be served
  because the count is re-checked against the store on every read; the
  ledger remains the single source of truth.
*/
package leave

import "sync"

// =============================================================================
// BALANCE CACHE
// =============================================================================

type balanceCache struct {
	mu      sync.RWMutex
	entries map[tupleKey]LeaveBalance
}

func newBalanceCache() *balanceCache {
	return &balanceCache{entries: make(map[tupleKey]LeaveBalance)}
}

// Get returns the cached fold for a tuple when its transaction count still
// matches the store's.
func (c *balanceCache) Get(key tupleKey, txCount int) (LeaveBalance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[key]
	if !ok || b.TransactionCount != txCount {
		return LeaveBalance{}, false
	}
	return b, true
}

// Put stores a fold result. The entry carries its own transaction count,
// so a later append makes it unservable without explicit invalidation.
func (c *balanceCache) Put(b LeaveBalance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tupleKey{EmployeeID: b.EmployeeID, LeaveType: b.LeaveType, Year: b.Year}] = b
}

// Drop removes a tuple's entry. Used after appends so the next read folds
// fresh rows instead of re-counting first.
func (c *balanceCache) Drop(key tupleKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DropAll clears every entry. Used after a store reset.
func (c *balanceCache) DropAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[tupleKey]LeaveBalance)
}
