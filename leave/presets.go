/*
presets.go - Built-in policy set

PURPOSE:
  The standard policies a fresh deployment starts from. Administrators
  edit them through the policy endpoints afterwards; nothing here is
  special-cased by the engine except the reserved aggregate quota type.
*/
package leave

// =============================================================================
// STANDARD POLICIES
// =============================================================================

// StandardAnnualPolicy is the default vacation policy: 15 days a year,
// 5 of which carry forward, with manager approval for short requests and
// department-head approval above 3 days.
func StandardAnnualPolicy() LeavePolicy {
	return LeavePolicy{
		LeaveType:             "Annual Leave",
		Description:           "Paid vacation days",
		DefaultAllocation:     DaysFromInt(15),
		MaxConsecutiveDays:    10,
		MinAdvanceNoticeDays:  3,
		MaxAdvanceBookingDays: 90,
		AllowCarryForward:     true,
		CarryForwardLimit:     DaysFromInt(5),
		ApprovalThresholds: []ApprovalThreshold{
			{Level: AuthorityManager, MaxDays: DaysFromInt(3)},
			{Level: AuthorityDepartmentHead, MaxDays: DaysFromInt(10)},
		},
		IsActive: true,
		Version:  1,
	}
}

// SickLeavePolicy covers illness: exempt from the shared annual quota,
// no carry-forward, and zero advance notice since illness is not planned.
func SickLeavePolicy() LeavePolicy {
	return LeavePolicy{
		LeaveType:             "Sick Leave",
		Description:           "Paid sick days, medical certificate beyond 3 consecutive days",
		DefaultAllocation:     DaysFromInt(10),
		MaxConsecutiveDays:    10,
		MinAdvanceNoticeDays:  0,
		ExemptFromAnnualQuota: true,
		DocumentsRequired:     true,
		ApprovalThresholds: []ApprovalThreshold{
			{Level: AuthorityManager, MaxDays: DaysFromInt(10)},
		},
		IsActive: true,
		Version:  1,
	}
}

// MaternityPolicy grants the statutory maternity entitlement. Exempt from
// the annual quota and large enough that only department heads approve.
func MaternityPolicy() LeavePolicy {
	return LeavePolicy{
		LeaveType:             "Maternity Leave",
		Description:           "Statutory maternity leave",
		DefaultAllocation:     DaysFromInt(90),
		MaxConsecutiveDays:    90,
		MinAdvanceNoticeDays:  14,
		ExemptFromAnnualQuota: true,
		DocumentsRequired:     true,
		ApprovalThresholds: []ApprovalThreshold{
			{Level: AuthorityDepartmentHead, MaxDays: DaysFromInt(90)},
		},
		IsActive: true,
		Version:  1,
	}
}

// CasualLeavePolicy covers short personal errands. Counts against the
// annual quota and never carries forward.
func CasualLeavePolicy() LeavePolicy {
	return LeavePolicy{
		LeaveType:            "Casual Leave",
		Description:          "Short personal leave",
		DefaultAllocation:    DaysFromInt(7),
		MaxConsecutiveDays:   3,
		MinAdvanceNoticeDays: 1,
		ApprovalThresholds: []ApprovalThreshold{
			{Level: AuthorityManager, MaxDays: DaysFromInt(3)},
		},
		IsActive: true,
		Version:  1,
	}
}

// AnnualQuotaPolicy defines the shared cap that every non-exempt type
// debits alongside its own balance. Its allocation is the cap.
func AnnualQuotaPolicy(cap Days) LeavePolicy {
	return LeavePolicy{
		LeaveType:             AnnualQuotaType,
		Description:           "Shared yearly cap across all non-exempt leave types",
		DefaultAllocation:     cap,
		MaxConsecutiveDays:    365,
		ExemptFromAnnualQuota: true,
		ApprovalThresholds: []ApprovalThreshold{
			{Level: AuthorityAdmin, MaxDays: cap},
		},
		IsActive: true,
		Version:  1,
	}
}

// DefaultPolicies is the full preset set seeded into an empty store, with
// a 25-day shared quota covering Annual plus Casual.
func DefaultPolicies() []LeavePolicy {
	return []LeavePolicy{
		StandardAnnualPolicy(),
		SickLeavePolicy(),
		MaternityPolicy(),
		CasualLeavePolicy(),
		AnnualQuotaPolicy(DaysFromInt(25)),
	}
}
