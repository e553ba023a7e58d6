/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON policy definitions into leave.LeavePolicy values and
  back. This enables policy configuration without code changes - HR can
  define policies in JSON, and the factory creates the proper Go structs
  before validation and storage.

WHY JSON?
  - Non-developers can modify policies
  - Easy integration with admin UI
  - Version control for policy definitions
  - Database storage of policy configs

JSON SCHEMA:
  {
    "leave_type": "Annual Leave",
    "description": "Paid vacation days",
    "default_allocation": "15",
    "max_consecutive_days": 10,
    "min_advance_notice_days": 3,
    "max_advance_booking_days": 90,
    "allow_carry_forward": true,
    "carry_forward_limit": "5",
    "documents_required": false,
    "exempt_from_annual_quota": false,
    "approval_thresholds": [
      {"level": "manager", "max_days": "3"},
      {"level": "department_head", "max_days": "10"}
    ],
    "is_active": true
  }

  Day amounts are JSON strings so half days ("0.5") survive without
  floating-point drift.

USAGE:
  factory := factory.NewPolicyFactory()
  policy, err := factory.ParsePolicy(jsonStr)
  if err == nil {
      err = policy.Validate()
  }

SEE ALSO:
  - leave/policy.go: LeavePolicy type and Validate rules
  - leave/presets.go: Go-based preset policies
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a leave policy.
type PolicyJSON struct {
	LeaveType             string          `json:"leave_type"`
	Description           string          `json:"description,omitempty"`
	DefaultAllocation     string          `json:"default_allocation"`
	MaxConsecutiveDays    int             `json:"max_consecutive_days"`
	MinAdvanceNoticeDays  int             `json:"min_advance_notice_days,omitempty"`
	MaxAdvanceBookingDays int             `json:"max_advance_booking_days,omitempty"`
	AllowCarryForward     bool            `json:"allow_carry_forward,omitempty"`
	CarryForwardLimit     string          `json:"carry_forward_limit,omitempty"`
	DocumentsRequired     bool            `json:"documents_required,omitempty"`
	ExemptFromAnnualQuota bool            `json:"exempt_from_annual_quota,omitempty"`
	ApprovalThresholds    []ThresholdJSON `json:"approval_thresholds"`
	IsActive              *bool           `json:"is_active,omitempty"`
	Version               int             `json:"version,omitempty"`
}

// ThresholdJSON is one approval threshold: the largest request an
// authority level may approve alone.
type ThresholdJSON struct {
	Level   string `json:"level"`
	MaxDays string `json:"max_days"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a LeavePolicy. Field validation
// is the policy's own Validate; this only converts representation.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (leave.LeavePolicy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts PolicyJSON to a LeavePolicy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (leave.LeavePolicy, error) {
	allocation, err := parseDays(pj.DefaultAllocation, "default_allocation")
	if err != nil {
		return leave.LeavePolicy{}, err
	}

	carryLimit := leave.ZeroDays()
	if pj.CarryForwardLimit != "" {
		carryLimit, err = parseDays(pj.CarryForwardLimit, "carry_forward_limit")
		if err != nil {
			return leave.LeavePolicy{}, err
		}
	}

	policy := leave.LeavePolicy{
		LeaveType:             leave.LeaveType(pj.LeaveType),
		Description:           pj.Description,
		DefaultAllocation:     allocation,
		MaxConsecutiveDays:    pj.MaxConsecutiveDays,
		MinAdvanceNoticeDays:  pj.MinAdvanceNoticeDays,
		MaxAdvanceBookingDays: pj.MaxAdvanceBookingDays,
		AllowCarryForward:     pj.AllowCarryForward,
		CarryForwardLimit:     carryLimit,
		DocumentsRequired:     pj.DocumentsRequired,
		ExemptFromAnnualQuota: pj.ExemptFromAnnualQuota,
		IsActive:              true,
		Version:               pj.Version,
	}
	if pj.IsActive != nil {
		policy.IsActive = *pj.IsActive
	}

	for i, tj := range pj.ApprovalThresholds {
		level, err := leave.ParseAuthorityLevel(tj.Level)
		if err != nil {
			return leave.LeavePolicy{}, fmt.Errorf("approval_thresholds[%d]: %w", i, err)
		}
		maxDays, err := parseDays(tj.MaxDays, fmt.Sprintf("approval_thresholds[%d].max_days", i))
		if err != nil {
			return leave.LeavePolicy{}, err
		}
		policy.ApprovalThresholds = append(policy.ApprovalThresholds, leave.ApprovalThreshold{
			Level:   level,
			MaxDays: maxDays,
		})
	}

	return policy, nil
}

// ToJSON converts a LeavePolicy to its JSON representation.
func (f *PolicyFactory) ToJSON(p leave.LeavePolicy) PolicyJSON {
	active := p.IsActive
	pj := PolicyJSON{
		LeaveType:             string(p.LeaveType),
		Description:           p.Description,
		DefaultAllocation:     p.DefaultAllocation.String(),
		MaxConsecutiveDays:    p.MaxConsecutiveDays,
		MinAdvanceNoticeDays:  p.MinAdvanceNoticeDays,
		MaxAdvanceBookingDays: p.MaxAdvanceBookingDays,
		AllowCarryForward:     p.AllowCarryForward,
		CarryForwardLimit:     p.CarryForwardLimit.String(),
		DocumentsRequired:     p.DocumentsRequired,
		ExemptFromAnnualQuota: p.ExemptFromAnnualQuota,
		IsActive:              &active,
		Version:               p.Version,
	}
	for _, t := range p.ApprovalThresholds {
		pj.ApprovalThresholds = append(pj.ApprovalThresholds, ThresholdJSON{
			Level:   t.Level.String(),
			MaxDays: t.MaxDays.String(),
		})
	}
	return pj
}

func parseDays(s, field string) (leave.Days, error) {
	if s == "" {
		return leave.ZeroDays(), fmt.Errorf("%s: must not be empty", field)
	}
	d, err := leave.ParseDays(s)
	if err != nil {
		return leave.ZeroDays(), fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
