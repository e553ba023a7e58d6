/*
ledger.go - Append rules, lazy materialization, and carry-forward

PURPOSE:
  The Ledger is the write surface over the append-only Store plus the
  read surface that folds balances. It owns the rules the raw Store
  cannot enforce alone:

  1. LAZY ALLOCATION: The first balance read of a (employee, type, year)
     tuple with no allocated transaction materializes one from the
     policy's DefaultAllocation.
  2. CARRY-FORWARD: Prior-year remainder is credited once per tuple,
     capped at the policy's CarryForwardLimit. Idempotent by key and by
     an existing-transaction check; running a rollover twice never
     double-credits.
  3. BALANCE INVARIANT: used + pending must fit inside the entitlement.
     Appends that would breach it are rejected unless the batch carries
     an adjustment with the explicit Override flag.
  4. SEQ ASSIGNMENT: Every append claims the tuple's next sequence
     number. The store's uniqueness on (tuple, seq) turns a lost-update
     race into ErrConcurrencyConflict instead of silent corruption.

CORRECTIONS:
  Mistakes are never edited away. A new adjustment transaction carrying
  ReversesID offsets the old row at fold time; both rows stay forever.

SEE ALSO:
  - balance.go: The fold itself
  - store.go: Raw persistence contract
  - lifecycle.go: Request transitions appending through this ledger
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store    Store
	policies PolicyStore
	cache    *balanceCache

	// Now supplies transaction dates for materialized credits. Tests pin it.
	Now func() Date
}

func NewLedger(store Store, policies PolicyStore) *Ledger {
	return &Ledger{
		store:    store,
		policies: policies,
		cache:    newBalanceCache(),
		Now:      Today,
	}
}

// DropCache clears every cached fold. Callers use it after wiping the
// underlying store.
func (l *Ledger) DropCache() { l.cache.DropAll() }

// =============================================================================
// BALANCE READS
// =============================================================================

// Balance folds the tuple's transactions into a LeaveBalance, lazily
// materializing the year's allocation and any eligible carry-forward on
// first read. The fold result is cached keyed on the transaction count.
func (l *Ledger) Balance(ctx context.Context, employeeID EmployeeID, leaveType LeaveType, year int) (LeaveBalance, error) {
	key := tupleKey{EmployeeID: employeeID, LeaveType: leaveType, Year: year}

	count, err := l.store.Count(ctx, employeeID, leaveType, year)
	if err != nil {
		return LeaveBalance{}, err
	}
	if b, ok := l.cache.Get(key, count); ok {
		return b, nil
	}

	b, err := l.BalanceIn(ctx, l.store, employeeID, leaveType, year)
	if err != nil {
		return LeaveBalance{}, err
	}
	l.cache.Put(b)
	return b, nil
}

// BalanceIn computes the balance through an explicit store view, so
// transitions running inside WithTx see their own uncommitted appends.
// Results read through a transactional view are never cached.
func (l *Ledger) BalanceIn(ctx context.Context, s Store, employeeID EmployeeID, leaveType LeaveType, year int) (LeaveBalance, error) {
	txs, err := s.Load(ctx, employeeID, leaveType, year)
	if err != nil {
		return LeaveBalance{}, err
	}
	b := FoldBalance(employeeID, leaveType, year, txs)

	materialized, err := l.materialize(ctx, s, b)
	if err != nil {
		return LeaveBalance{}, err
	}
	if !materialized {
		return b, nil
	}

	// Re-fold with the materialized credits included.
	txs, err = s.Load(ctx, employeeID, leaveType, year)
	if err != nil {
		return LeaveBalance{}, err
	}
	return FoldBalance(employeeID, leaveType, year, txs), nil
}

// EmployeeBalances returns one balance per leave type the employee has
// touched in the year, plus every active policy's type, aggregate quota
// included. This is the read model behind the balances endpoint.
func (l *Ledger) EmployeeBalances(ctx context.Context, employeeID EmployeeID, year int) ([]LeaveBalance, error) {
	seen := make(map[LeaveType]bool)

	types, err := l.store.TypesInYear(ctx, employeeID, year)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		seen[t] = true
	}

	active, err := l.policies.ListPolicies(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, p := range active {
		seen[p.LeaveType] = true
	}

	all := make([]LeaveType, 0, len(seen))
	for t := range seen {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	balances := make([]LeaveBalance, 0, len(all))
	for _, t := range all {
		b, err := l.Balance(ctx, employeeID, t, year)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, nil
}

// materialize appends the lazy allocation and carry-forward credits a
// fresh tuple is entitled to. Returns whether anything was appended.
// Concurrent callers race benignly: the idempotency keys make the loser's
// duplicate a no-op.
func (l *Ledger) materialize(ctx context.Context, s Store, b LeaveBalance) (bool, error) {
	policy, err := l.policies.GetPolicy(ctx, b.LeaveType)
	if errors.Is(err, ErrPolicyNotFound) {
		// Historical type without a policy row: fold what exists, credit nothing.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	appended := false

	if !b.HasAllocation() && policy.DefaultAllocation.IsPositive() {
		alloc := Transaction{
			ID:             TransactionID(uuid.NewString()),
			EmployeeID:     b.EmployeeID,
			LeaveType:      b.LeaveType,
			Year:           b.Year,
			Type:           TxAllocated,
			Amount:         policy.DefaultAllocation,
			Date:           StartOfYear(b.Year),
			Description:    fmt.Sprintf("yearly allocation for %d", b.Year),
			IdempotencyKey: allocationKey(b.EmployeeID, b.LeaveType, b.Year),
			CreatedBy:      "system",
		}
		if err := l.AppendBatchIn(ctx, s, []Transaction{alloc}); err != nil && !errors.Is(err, ErrDuplicateIdempotencyKey) {
			return appended, err
		}
		appended = true
	}

	if policy.AllowCarryForward && !b.HasCarryForward() {
		amount, err := l.carryForwardAmount(ctx, s, policy, b.EmployeeID, b.Year)
		if err != nil {
			return appended, err
		}
		if amount.IsPositive() {
			carry := Transaction{
				ID:             TransactionID(uuid.NewString()),
				EmployeeID:     b.EmployeeID,
				LeaveType:      b.LeaveType,
				Year:           b.Year,
				Type:           TxCarriedForward,
				Amount:         amount,
				Date:           StartOfYear(b.Year),
				Description:    fmt.Sprintf("carried forward from %d", b.Year-1),
				IdempotencyKey: carryForwardKey(b.EmployeeID, b.LeaveType, b.Year),
				CreatedBy:      "system",
			}
			if err := l.AppendBatchIn(ctx, s, []Transaction{carry}); err != nil && !errors.Is(err, ErrDuplicateIdempotencyKey) {
				return appended, err
			}
			appended = true
		}
	}

	return appended, nil
}

// carryForwardAmount computes min(prior-year remaining, limit). A prior
// year with no transactions at all yields nothing: untouched years are
// not retroactively allocated just to be carried forward.
func (l *Ledger) carryForwardAmount(ctx context.Context, s Store, policy LeavePolicy, employeeID EmployeeID, year int) (Days, error) {
	prevTxs, err := s.Load(ctx, employeeID, policy.LeaveType, year-1)
	if err != nil {
		return ZeroDays(), err
	}
	if len(prevTxs) == 0 {
		return ZeroDays(), nil
	}
	prev := FoldBalance(employeeID, policy.LeaveType, year-1, prevTxs)
	remaining := prev.Remaining()
	if !remaining.IsPositive() {
		return ZeroDays(), nil
	}
	return remaining.Min(policy.CarryForwardLimit), nil
}

func allocationKey(employeeID EmployeeID, leaveType LeaveType, year int) string {
	return fmt.Sprintf("alloc|%s|%s|%d", employeeID, leaveType, year)
}

func carryForwardKey(employeeID EmployeeID, leaveType LeaveType, year int) string {
	return fmt.Sprintf("carry|%s|%s|%d", employeeID, leaveType, year)
}

// =============================================================================
// APPENDS
// =============================================================================

// Append records one transaction and returns the tuple's recomputed
// balance. Invariant and concurrency rules per AppendBatchIn.
func (l *Ledger) Append(ctx context.Context, tx Transaction) (LeaveBalance, error) {
	if err := l.AppendBatchIn(ctx, l.store, []Transaction{tx}); err != nil {
		return LeaveBalance{}, err
	}
	return l.Balance(ctx, tx.EmployeeID, tx.LeaveType, tx.Year)
}

// AppendBatchIn atomically appends a batch through the given store view.
// The batch may span multiple tuples (a request's type balance and the
// aggregate quota land together). Per tuple it:
//   - assigns the next Seq numbers (optimistic-concurrency claim),
//   - rejects duplicate idempotency keys,
//   - re-folds with the batch applied and rejects invariant breaches
//     unless the tuple's batch slice carries an Override adjustment.
func (l *Ledger) AppendBatchIn(ctx context.Context, s Store, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	for i := range txs {
		if err := validateTransaction(&txs[i]); err != nil {
			return err
		}
		if txs[i].CreatedAt.IsZero() {
			txs[i].CreatedAt = time.Now().UTC()
		}
	}

	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		exists, err := s.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}

	// Group by tuple for seq assignment and invariant checks.
	groups := make(map[tupleKey][]int)
	var order []tupleKey
	for i, tx := range txs {
		key := tupleKey{EmployeeID: tx.EmployeeID, LeaveType: tx.LeaveType, Year: tx.Year}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	for _, key := range order {
		existing, err := s.Load(ctx, key.EmployeeID, key.LeaveType, key.Year)
		if err != nil {
			return err
		}

		override := false
		next := len(existing)
		combined := append([]Transaction{}, existing...)
		for _, i := range groups[key] {
			next++
			txs[i].Seq = next
			combined = append(combined, txs[i])
			if txs[i].Type == TxAdjustment && txs[i].Override {
				override = true
			}
		}

		after := FoldBalance(key.EmployeeID, key.LeaveType, key.Year, combined)
		if !after.InvariantHolds() && !override {
			entitled := after.TotalAllocated.Add(after.CarriedForward)
			committed := after.Used.Add(after.Pending)
			return &InsufficientBalanceError{
				EmployeeID: key.EmployeeID,
				LeaveType:  key.LeaveType,
				Year:       key.Year,
				Available:  entitled.Sub(committed).Add(batchEffect(txs, groups[key])),
				Requested:  batchEffect(txs, groups[key]),
				Shortfall:  committed.Sub(entitled),
			}
		}
	}

	if err := s.AppendBatch(ctx, txs); err != nil {
		return err
	}

	for _, key := range order {
		l.cache.Drop(key)
	}
	return nil
}

// batchEffect sums the used-or-pending weight the batch adds to a tuple.
func batchEffect(txs []Transaction, indices []int) Days {
	total := ZeroDays()
	for _, i := range indices {
		if txs[i].Type == TxUsed {
			total = total.Add(txs[i].Amount)
		}
	}
	return total
}

func validateTransaction(tx *Transaction) error {
	if tx.ID == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	if tx.EmployeeID == "" || tx.LeaveType == "" || tx.Year == 0 {
		return fmt.Errorf("transaction %s: employee, leave type, and year are required", tx.ID)
	}
	switch tx.Type {
	case TxAllocated, TxUsed, TxCarriedForward:
		if !tx.Amount.IsPositive() {
			return fmt.Errorf("transaction %s: %s amount must be positive", tx.ID, tx.Type)
		}
	case TxAdjustment:
		// Signed; reversing adjustments carry the target's magnitude.
	default:
		return fmt.Errorf("transaction %s: unknown type %q", tx.ID, tx.Type)
	}
	return nil
}

// =============================================================================
// ADMIN ADJUSTMENTS
// =============================================================================

// Adjust appends a manual grant or deduction. Deductions that push the
// balance past its entitlement require override; the breach is then
// recorded, never implicit.
func (l *Ledger) Adjust(ctx context.Context, employeeID EmployeeID, leaveType LeaveType, year int, amount Days, reason, actor string, override bool) (LeaveBalance, error) {
	return l.Append(ctx, Transaction{
		EmployeeID:  employeeID,
		LeaveType:   leaveType,
		Year:        year,
		Type:        TxAdjustment,
		Amount:      amount,
		Date:        l.Now(),
		Description: reason,
		Override:    override,
		CreatedBy:   actor,
	})
}

// =============================================================================
// CARRY-FORWARD ROLLOVER BATCH
// =============================================================================

// RolloverResult summarizes one carry-forward batch run.
type RolloverResult struct {
	TargetYear          int
	EmployeesProcessed  int
	TransactionsCreated int
}

// RolloverYear credits eligible carry-forward into targetYear for every
// employee with prior-year activity. Idempotent: a tuple that already has
// a carried_forward transaction (or whose key was claimed concurrently)
// is skipped, so the scheduled batch and the on-demand endpoint can both
// run, repeatedly, without double-crediting. Reads then appends; never
// edits existing rows.
func (l *Ledger) RolloverYear(ctx context.Context, targetYear int) (RolloverResult, error) {
	result := RolloverResult{TargetYear: targetYear}

	employees, err := l.store.EmployeesInYear(ctx, targetYear-1)
	if err != nil {
		return result, err
	}

	for _, emp := range employees {
		types, err := l.store.TypesInYear(ctx, emp, targetYear-1)
		if err != nil {
			return result, err
		}
		result.EmployeesProcessed++

		for _, t := range types {
			policy, err := l.policies.GetPolicy(ctx, t)
			if errors.Is(err, ErrPolicyNotFound) {
				continue
			}
			if err != nil {
				return result, err
			}
			if !policy.AllowCarryForward {
				continue
			}

			current, err := l.store.Load(ctx, emp, t, targetYear)
			if err != nil {
				return result, err
			}
			if FoldBalance(emp, t, targetYear, current).HasCarryForward() {
				continue
			}

			amount, err := l.carryForwardAmount(ctx, l.store, policy, emp, targetYear)
			if err != nil {
				return result, err
			}
			if !amount.IsPositive() {
				continue
			}

			carry := Transaction{
				EmployeeID:     emp,
				LeaveType:      t,
				Year:           targetYear,
				Type:           TxCarriedForward,
				Amount:         amount,
				Date:           StartOfYear(targetYear),
				Description:    fmt.Sprintf("carried forward from %d", targetYear-1),
				IdempotencyKey: carryForwardKey(emp, t, targetYear),
				CreatedBy:      "rollover",
			}
			err = l.AppendBatchIn(ctx, l.store, []Transaction{carry})
			if errors.Is(err, ErrDuplicateIdempotencyKey) || errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			if err != nil {
				return result, err
			}
			result.TransactionsCreated++
		}
	}

	return result, nil
}
