/*
balance.go - Balance calculation as a pure fold over transactions

PURPOSE:
  Computes a LeaveBalance from the transaction list of one
  (employee, leave type, year) tuple. This is the central calculation
  that answers "how many days does this employee have left?"

KEY INSIGHT:
  Balance is NEVER stored. The ledger is the single source of truth and
  every balance is recomputed from it (optionally via the fold cache in
  cache.go). Storing remaining as a mutable field is exactly the drift
  bug this engine exists to eliminate.

BALANCE COMPONENTS:
  TotalAllocated: Yearly entitlement plus signed admin adjustments
  CarriedForward: Prior-year remainder credited at rollover
  Used:           Approved consumption
  Pending:        Reserved by submitted, not-yet-decided requests

  Remaining = TotalAllocated + CarriedForward - Used - Pending

FOLD RULES:
  allocated                    -> TotalAllocated += amount
  carried_forward              -> CarriedForward += amount
  used (provisional, live)     -> Pending += amount
  used (final, live)           -> Used += amount
  adjustment with ReversesID   -> excludes its target from the fold
  adjustment without ReversesID-> TotalAllocated += signed amount

  "Live" means not excluded by a later reversing adjustment. Neither the
  target nor the reversing row is ever edited; exclusion happens at fold
  time only.

SEE ALSO:
  - ledger.go: Invariant enforcement and lazy materialization
  - types.go: Transaction field semantics
*/
package leave

// =============================================================================
// LEAVE BALANCE - Derived state for one (employee, leave type, year)
// =============================================================================

type LeaveBalance struct {
	EmployeeID EmployeeID
	LeaveType  LeaveType
	Year       int

	TotalAllocated Days
	CarriedForward Days
	Used           Days
	Pending        Days

	// TransactionCount is the fold input size; callers use it as the
	// optimistic token for the next append.
	TransactionCount int

	hasAllocated    bool
	hasCarryForward bool
}

// Remaining recomputes the headline number every time. It is deliberately a
// method, not a field: remaining is never independent truth.
func (b LeaveBalance) Remaining() Days {
	return b.TotalAllocated.Add(b.CarriedForward).Sub(b.Used).Sub(b.Pending)
}

// InvariantHolds reports whether used + pending fits inside the entitlement.
// Only an override adjustment may leave a balance where this is false.
func (b LeaveBalance) InvariantHolds() bool {
	return !b.Used.Add(b.Pending).GreaterThan(b.TotalAllocated.Add(b.CarriedForward))
}

// HasAllocation reports whether any live allocated transaction was folded.
// Drives lazy materialization: a year with no allocation gets one on first
// read.
func (b LeaveBalance) HasAllocation() bool { return b.hasAllocated }

// HasCarryForward reports whether a live carried_forward transaction exists.
// Makes the rollover idempotent: an existing credit is never repeated.
func (b LeaveBalance) HasCarryForward() bool { return b.hasCarryForward }

// =============================================================================
// FOLD
// =============================================================================

// FoldBalance computes the balance for one tuple from its ordered
// transactions. Pure: no I/O, no clock, no stored state.
func FoldBalance(employeeID EmployeeID, leaveType LeaveType, year int, txs []Transaction) LeaveBalance {
	reversed := make(map[TransactionID]bool)
	for _, tx := range txs {
		if tx.Type == TxAdjustment && tx.ReversesID != "" {
			reversed[tx.ReversesID] = true
		}
	}

	b := LeaveBalance{
		EmployeeID:       employeeID,
		LeaveType:        leaveType,
		Year:             year,
		TotalAllocated:   ZeroDays(),
		CarriedForward:   ZeroDays(),
		Used:             ZeroDays(),
		Pending:          ZeroDays(),
		TransactionCount: len(txs),
	}

	for _, tx := range txs {
		if reversed[tx.ID] {
			continue
		}
		switch tx.Type {
		case TxAllocated:
			b.TotalAllocated = b.TotalAllocated.Add(tx.Amount)
			b.hasAllocated = true
		case TxCarriedForward:
			b.CarriedForward = b.CarriedForward.Add(tx.Amount)
			b.hasCarryForward = true
		case TxUsed:
			if tx.Provisional {
				b.Pending = b.Pending.Add(tx.Amount)
			} else {
				b.Used = b.Used.Add(tx.Amount)
			}
		case TxAdjustment:
			if tx.ReversesID == "" {
				b.TotalAllocated = b.TotalAllocated.Add(tx.Amount)
			}
		}
	}

	return b
}
