/*
lifecycle.go - Leave request state machine

PURPOSE:
  Drives a request through pending -> approved | rejected, and
  approved -> cancelled, keeping the request row and the ledger in
  lockstep. Every transition is atomic: the status change and its ledger
  batch land together inside one store transaction, or neither does.

RESERVATIONS:
  Submit appends a provisional used transaction per affected tuple (the
  leave type, plus the shared annual quota for non-exempt types). The
  provisional rows count as Pending in the fold, holding the balance
  against later requests. Transitions never edit them:

    approve -> adjustment reversing the reservation + a final used row
    reject  -> adjustment reversing the reservation
    cancel  -> adjustment reversing the final used row

  The originals stay in the log forever; cancel restores Remaining via
  the compensating entry, satisfying the append-only contract.

CONCURRENCY:
  Transitions run under the per-tuple locks (aggregate first, then
  type). The request row's guarded status update and the ledger's Seq
  uniqueness both surface ErrConcurrencyConflict, the one error class
  callers retry.

SEE ALSO:
  - validate.go: Submit's gate; no mutation on failure
  - routing.go: Authority check on approve
  - ledger.go: Append rules the transitions go through
*/
package leave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LIFECYCLE SERVICE
// =============================================================================

type Lifecycle struct {
	store     TxStore
	ledger    *Ledger
	validator *QuotaValidator
	locks     *tupleLocks
	logger    *slog.Logger

	// Now supplies transition timestamps. Tests pin it.
	Now func() time.Time
}

func NewLifecycle(store TxStore, ledger *Ledger, validator *QuotaValidator, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		store:     store,
		ledger:    ledger,
		validator: validator,
		locks:     newTupleLocks(),
		logger:    logger,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitInput carries an employee's prospective request. Identity is
// explicit; the engine never reads an ambient current user.
type SubmitInput struct {
	EmployeeID EmployeeID
	LeaveType  LeaveType
	StartDate  Date
	EndDate    Date
	Reason     string
	Priority   Priority
}

// Submit validates the request and, on success, persists it as Pending
// with its balance reservation in one atomic step. On validation failure
// nothing is written and the returned error carries every violation.
// The result's Exceptions report any deliberate bypass (urgent notice).
func (lc *Lifecycle) Submit(ctx context.Context, in SubmitInput) (LeaveRequest, ValidationResult, error) {
	policy, err := lc.store.GetPolicy(ctx, in.LeaveType)
	if err != nil {
		return LeaveRequest{}, ValidationResult{}, err
	}

	if in.Priority == "" {
		in.Priority = PriorityNormal
	}

	req := LeaveRequest{
		ID:          RequestID(uuid.NewString()),
		EmployeeID:  in.EmployeeID,
		LeaveType:   in.LeaveType,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		TotalDays:   DaysFromInt(InclusiveDays(in.StartDate, in.EndDate)),
		Year:        in.StartDate.Year(),
		Reason:      in.Reason,
		Priority:    in.Priority,
		Status:      StatusPending,
		SubmittedAt: lc.Now(),
	}

	touchesAggregate := lc.touchesAggregate(policy)
	unlock := lc.locks.LockForRequest(req.EmployeeID, req.LeaveType, req.Year, touchesAggregate)
	defer unlock()

	result, err := lc.validator.Validate(ctx, req)
	if err != nil {
		return LeaveRequest{}, ValidationResult{}, err
	}
	if !result.OK {
		return LeaveRequest{}, result, result.AsError()
	}

	err = lc.store.WithTx(ctx, func(es EngineStore) error {
		if err := es.CreateRequest(ctx, req); err != nil {
			return err
		}
		if err := lc.ledger.AppendBatchIn(ctx, es, lc.reservationBatch(req, touchesAggregate)); err != nil {
			return err
		}
		return es.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  lc.Now(),
			ActorID:    string(req.EmployeeID),
			Action:     AuditRequestSubmitted,
			EmployeeID: req.EmployeeID,
			LeaveType:  req.LeaveType,
			RequestID:  req.ID,
			Detail:     fmt.Sprintf("%v days, %s to %s", req.TotalDays, req.StartDate, req.EndDate),
		})
	})
	if err != nil {
		return LeaveRequest{}, result, err
	}

	lc.logger.Info("leave request submitted",
		"request_id", req.ID,
		"employee_id", req.EmployeeID,
		"leave_type", req.LeaveType,
		"total_days", req.TotalDays.String(),
		"exceptions", len(result.Exceptions),
	)
	return req, result, nil
}

// reservationBatch builds the provisional used rows Submit appends: one
// for the type balance, one for the aggregate quota when it applies.
func (lc *Lifecycle) reservationBatch(req LeaveRequest, touchesAggregate bool) []Transaction {
	reason := fmt.Sprintf("reservation for leave %s to %s", req.StartDate, req.EndDate)
	txs := []Transaction{{
		EmployeeID:     req.EmployeeID,
		LeaveType:      req.LeaveType,
		Year:           req.Year,
		Type:           TxUsed,
		Amount:         req.TotalDays,
		Date:           req.StartDate,
		Description:    reason,
		LeaveID:        req.ID,
		Provisional:    true,
		IdempotencyKey: fmt.Sprintf("reserve|%s|%s", req.ID, req.LeaveType),
		CreatedBy:      string(req.EmployeeID),
	}}
	if touchesAggregate {
		txs = append(txs, Transaction{
			EmployeeID:     req.EmployeeID,
			LeaveType:      AnnualQuotaType,
			Year:           req.Year,
			Type:           TxUsed,
			Amount:         req.TotalDays,
			Date:           req.StartDate,
			Description:    fmt.Sprintf("annual quota reservation for %s request %s", req.LeaveType, req.ID),
			LeaveID:        req.ID,
			Provisional:    true,
			IdempotencyKey: fmt.Sprintf("reserve|%s|%s", req.ID, AnnualQuotaType),
			CreatedBy:      string(req.EmployeeID),
		})
	}
	return txs
}

// =============================================================================
// DECIDE (approve | reject)
// =============================================================================

// DecideInput carries an authority's decision on a pending request.
type DecideInput struct {
	RequestID  RequestID
	ApproverID string
	Authority  AuthorityLevel
	Decision   Decision
	Note       string
}

// Decide approves or rejects a pending request. Approval requires the
// approver's authority to satisfy the policy's routing decision; a
// failed check returns InsufficientAuthorityError with zero ledger
// effect. The reservation converts (approve) or reverses (reject)
// atomically with the status change.
func (lc *Lifecycle) Decide(ctx context.Context, in DecideInput) (LeaveRequest, error) {
	req, err := lc.store.GetRequest(ctx, in.RequestID)
	if err != nil {
		return LeaveRequest{}, err
	}
	if req.Status != StatusPending {
		target := StatusApproved
		if in.Decision == DecisionReject {
			target = StatusRejected
		}
		return LeaveRequest{}, &TransitionError{RequestID: req.ID, From: req.Status, To: target}
	}

	policy, err := lc.store.GetPolicy(ctx, req.LeaveType)
	if err != nil {
		return LeaveRequest{}, err
	}

	if in.Decision == DecisionApprove {
		routing := RequiredAuthority(policy, req.TotalDays)
		if !routing.SatisfiedBy(in.Authority) {
			return LeaveRequest{}, &InsufficientAuthorityError{
				Required:           routing.Level,
				Actual:             in.Authority,
				RequiresEscalation: routing.RequiresEscalation,
			}
		}
	}

	touchesAggregate := lc.touchesAggregate(policy)
	unlock := lc.locks.LockForRequest(req.EmployeeID, req.LeaveType, req.Year, touchesAggregate)
	defer unlock()

	now := lc.Now()
	decided := req
	decided.DecidedBy = in.ApproverID
	decided.DecidedAt = &now
	decided.DecisionNote = in.Note

	action := AuditRequestApproved
	if in.Decision == DecisionApprove {
		decided.Status = StatusApproved
	} else {
		decided.Status = StatusRejected
		action = AuditRequestRejected
	}

	err = lc.store.WithTx(ctx, func(es EngineStore) error {
		var batch []Transaction
		for _, t := range lc.affectedTypes(req, touchesAggregate) {
			reservation, err := lc.findLiveTx(ctx, es, req, t, true)
			if err != nil {
				return err
			}
			batch = append(batch, lc.reversalTx(req, reservation, string(in.Decision), in.ApproverID))
			if in.Decision == DecisionApprove {
				batch = append(batch, Transaction{
					EmployeeID:     req.EmployeeID,
					LeaveType:      t,
					Year:           req.Year,
					Type:           TxUsed,
					Amount:         req.TotalDays,
					Date:           req.StartDate,
					Description:    fmt.Sprintf("approved leave %s to %s", req.StartDate, req.EndDate),
					LeaveID:        req.ID,
					IdempotencyKey: fmt.Sprintf("approve|%s|%s", req.ID, t),
					CreatedBy:      in.ApproverID,
				})
			}
		}
		if err := lc.ledger.AppendBatchIn(ctx, es, batch); err != nil {
			return err
		}
		if err := es.UpdateRequest(ctx, decided, StatusPending); err != nil {
			return err
		}
		return es.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  now,
			ActorID:    in.ApproverID,
			Action:     action,
			EmployeeID: req.EmployeeID,
			LeaveType:  req.LeaveType,
			RequestID:  req.ID,
			Detail:     in.Note,
		})
	})
	if err != nil {
		return LeaveRequest{}, err
	}

	lc.logger.Info("leave request decided",
		"request_id", req.ID,
		"decision", in.Decision,
		"approver_id", in.ApproverID,
		"authority", in.Authority.String(),
	)
	return decided, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel reverses an approved request's consumption with compensating
// adjustments. Only approved requests cancel; the original used rows
// stay in the log unchanged.
func (lc *Lifecycle) Cancel(ctx context.Context, requestID RequestID, actorID string) (LeaveRequest, error) {
	req, err := lc.store.GetRequest(ctx, requestID)
	if err != nil {
		return LeaveRequest{}, err
	}
	if req.Status != StatusApproved {
		return LeaveRequest{}, &TransitionError{RequestID: req.ID, From: req.Status, To: StatusCancelled}
	}

	policy, err := lc.store.GetPolicy(ctx, req.LeaveType)
	if err != nil {
		return LeaveRequest{}, err
	}

	touchesAggregate := lc.touchesAggregate(policy)
	unlock := lc.locks.LockForRequest(req.EmployeeID, req.LeaveType, req.Year, touchesAggregate)
	defer unlock()

	now := lc.Now()
	cancelled := req
	cancelled.Status = StatusCancelled
	cancelled.CancelledAt = &now

	err = lc.store.WithTx(ctx, func(es EngineStore) error {
		var batch []Transaction
		for _, t := range lc.affectedTypes(req, touchesAggregate) {
			used, err := lc.findLiveTx(ctx, es, req, t, false)
			if err != nil {
				return err
			}
			batch = append(batch, lc.reversalTx(req, used, "cancel", actorID))
		}
		if err := lc.ledger.AppendBatchIn(ctx, es, batch); err != nil {
			return err
		}
		if err := es.UpdateRequest(ctx, cancelled, StatusApproved); err != nil {
			return err
		}
		return es.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  now,
			ActorID:    actorID,
			Action:     AuditRequestCancelled,
			EmployeeID: req.EmployeeID,
			LeaveType:  req.LeaveType,
			RequestID:  req.ID,
		})
	})
	if err != nil {
		return LeaveRequest{}, err
	}

	lc.logger.Info("leave request cancelled", "request_id", req.ID, "actor_id", actorID)
	return cancelled, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (lc *Lifecycle) touchesAggregate(policy LeavePolicy) bool {
	return !policy.ExemptFromAnnualQuota && !policy.IsAggregate()
}

// affectedTypes lists the tuples a request's transitions touch: its own
// type, plus the aggregate quota for non-exempt types.
func (lc *Lifecycle) affectedTypes(req LeaveRequest, touchesAggregate bool) []LeaveType {
	types := []LeaveType{req.LeaveType}
	if touchesAggregate {
		types = append(types, AnnualQuotaType)
	}
	return types
}

// findLiveTx locates the request's live (not yet reversed) used
// transaction on one tuple: the provisional reservation or the final
// consumption row. A missing row means the ledger and the request row
// disagree, which only a racing transition can cause.
func (lc *Lifecycle) findLiveTx(ctx context.Context, s Store, req LeaveRequest, leaveType LeaveType, provisional bool) (Transaction, error) {
	txs, err := s.Load(ctx, req.EmployeeID, leaveType, req.Year)
	if err != nil {
		return Transaction{}, err
	}

	reversed := make(map[TransactionID]bool)
	for _, tx := range txs {
		if tx.Type == TxAdjustment && tx.ReversesID != "" {
			reversed[tx.ReversesID] = true
		}
	}

	for _, tx := range txs {
		if tx.Type == TxUsed && tx.LeaveID == req.ID && tx.Provisional == provisional && !reversed[tx.ID] {
			return tx, nil
		}
	}
	return Transaction{}, fmt.Errorf("request %s on %s/%d: %w", req.ID, leaveType, req.Year, ErrConcurrencyConflict)
}

// reversalTx builds the compensating adjustment that offsets target at
// fold time. The target row itself is never touched.
func (lc *Lifecycle) reversalTx(req LeaveRequest, target Transaction, step, actorID string) Transaction {
	return Transaction{
		EmployeeID:     target.EmployeeID,
		LeaveType:      target.LeaveType,
		Year:           target.Year,
		Type:           TxAdjustment,
		Amount:         target.Amount,
		Date:           req.StartDate,
		Description:    fmt.Sprintf("reverses %s on %s", target.ID, step),
		LeaveID:        req.ID,
		ReversesID:     target.ID,
		IdempotencyKey: fmt.Sprintf("%s-rev|%s|%s", step, req.ID, target.LeaveType),
		CreatedBy:      actorID,
	}
}
