/*
policy.go - Leave policy definitions and approval thresholds

PURPOSE:
  Defines the rules that govern one leave type: yearly allocation,
  consecutive-day caps, notice windows, carry-forward rules, and the
  authority thresholds that decide who may approve a request of a given
  size. A LeavePolicy is the contract between the organization and
  employees about that leave type.

KEY CONCEPTS:
  - LeavePolicy: The complete ruleset for a leave type
  - AuthorityLevel: Ordered approval ranks (staff < manager < department
    head < admin); replaces scattered role-string branching with one enum
  - ApprovalThreshold: Max request size one level may approve alone
  - ExemptFromAnnualQuota: Types (Sick, Maternity) that never debit the
    shared annual quota
  - Aggregate policy: The reserved "Annual Leave Quota" policy that caps
    the shared allowance across all non-exempt types

LIFECYCLE:
  Policies are created and edited by administrators and never deleted
  once referenced by balances; deactivation only. Inactive policies are
  rejected for new requests but keep folding historical balances.

EXAMPLE:
  policy := leave.LeavePolicy{
      LeaveType:         "Annual Leave",
      DefaultAllocation: leave.DaysFromInt(15),
      MaxConsecutiveDays:   10,
      MinAdvanceNoticeDays: 3,
      MaxAdvanceBookingDays: 90,
      ApprovalThresholds: []leave.ApprovalThreshold{
          {Level: leave.AuthorityManager, MaxDays: leave.DaysFromInt(3)},
          {Level: leave.AuthorityDepartmentHead, MaxDays: leave.DaysFromInt(10)},
      },
      IsActive: true,
  }
*/
package leave

import (
	"fmt"
	"time"
)

// =============================================================================
// AUTHORITY LEVEL - Ordered approval ranks
// =============================================================================

// AuthorityLevel orders approval ranks. Comparison is numeric: a level may
// approve anything a lower level may.
type AuthorityLevel int

const (
	AuthorityStaff AuthorityLevel = iota
	AuthorityManager
	AuthorityDepartmentHead
	AuthorityAdmin
)

var authorityNames = map[AuthorityLevel]string{
	AuthorityStaff:          "staff",
	AuthorityManager:        "manager",
	AuthorityDepartmentHead: "department_head",
	AuthorityAdmin:          "admin",
}

func (a AuthorityLevel) String() string {
	if name, ok := authorityNames[a]; ok {
		return name
	}
	return fmt.Sprintf("authority(%d)", int(a))
}

// ParseAuthorityLevel maps a role label to its rank. Unknown labels are an
// error: identity resolution happens at the boundary, never by guessing.
func ParseAuthorityLevel(s string) (AuthorityLevel, error) {
	for level, name := range authorityNames {
		if name == s {
			return level, nil
		}
	}
	return AuthorityStaff, fmt.Errorf("unknown authority level %q", s)
}

// =============================================================================
// LEAVE POLICY - Rules governing one leave type
// =============================================================================

// ApprovalThreshold caps the request size one authority level may approve
// alone. Thresholds are kept sorted ascending by level.
type ApprovalThreshold struct {
	Level   AuthorityLevel
	MaxDays Days
}

type LeavePolicy struct {
	LeaveType   LeaveType
	Description string

	// DefaultAllocation is the yearly entitlement materialized lazily the
	// first time a balance for a new year is read.
	DefaultAllocation Days

	MaxConsecutiveDays    int
	MinAdvanceNoticeDays  int
	MaxAdvanceBookingDays int

	AllowCarryForward bool
	// CarryForwardLimit caps the prior-year remainder credited at rollover.
	// Meaningful only when AllowCarryForward.
	CarryForwardLimit Days

	DocumentsRequired bool

	// ExemptFromAnnualQuota excludes this type from the shared annual quota.
	ExemptFromAnnualQuota bool

	ApprovalThresholds []ApprovalThreshold

	// IsActive gates new requests only; historical balances keep folding.
	IsActive bool

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAggregate reports whether this is the reserved annual-quota policy.
func (p LeavePolicy) IsAggregate() bool { return p.LeaveType == AnnualQuotaType }

// HighestThreshold returns the top configured threshold. Callers must have
// validated the policy (thresholds non-empty) first.
func (p LeavePolicy) HighestThreshold() ApprovalThreshold {
	return p.ApprovalThresholds[len(p.ApprovalThresholds)-1]
}

// Validate enforces the admin-input rules. Returns *InvalidPolicyError on
// the first offending field; nothing is persisted on failure.
func (p LeavePolicy) Validate() error {
	if p.LeaveType == "" {
		return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "leaveType", Reason: "must not be empty"}
	}
	if !p.DefaultAllocation.IsPositive() {
		return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "defaultAllocation", Reason: "must be positive"}
	}
	if p.MaxConsecutiveDays <= 0 {
		return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "maxConsecutiveDays", Reason: "must be positive"}
	}
	if p.MinAdvanceNoticeDays < 0 {
		return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "minAdvanceNoticeDays", Reason: "must not be negative"}
	}
	if p.MaxAdvanceBookingDays < 0 {
		return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "maxAdvanceBookingDays", Reason: "must not be negative"}
	}
	if p.AllowCarryForward && p.CarryForwardLimit.IsNegative() {
		return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "carryForwardLimit", Reason: "must not be negative when carry-forward is allowed"}
	}
	if len(p.ApprovalThresholds) == 0 {
		return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "approvalThresholds", Reason: "must not be empty"}
	}
	for i, t := range p.ApprovalThresholds {
		if !t.MaxDays.IsPositive() {
			return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "approvalThresholds", Reason: fmt.Sprintf("threshold %d: maxDays must be positive", i)}
		}
		if i > 0 && t.Level <= p.ApprovalThresholds[i-1].Level {
			return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "approvalThresholds", Reason: "levels must be strictly ascending"}
		}
	}
	if p.IsAggregate() {
		// The aggregate caps the other types; it cannot debit itself and
		// cannot be switched off while non-exempt policies reference it.
		if !p.ExemptFromAnnualQuota {
			return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "exemptFromAnnualQuota", Reason: "aggregate quota policy must be exempt from itself"}
		}
		if !p.IsActive {
			return &InvalidPolicyError{LeaveType: p.LeaveType, Field: "isActive", Reason: "aggregate quota policy cannot be deactivated"}
		}
	}
	return nil
}
