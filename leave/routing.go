/*
routing.go - Approval routing by authority thresholds

PURPOSE:
  Decides who must approve a request of a given size. Each policy carries
  an ordered threshold table: the lowest authority level whose cap covers
  the request is the required approver. Requests too large for every
  configured level escalate above the table.

DESIGN:
  Pure functions over the policy's threshold slice. No store access, no
  clock, no side effects. The single lookup table replaces scattered
  role-string conditionals.

EXAMPLE:
  decision := leave.RequiredAuthority(policy, leave.DaysFromInt(7))
  if !decision.SatisfiedBy(approverLevel) {
      // reject with InsufficientAuthorityError
  }

SEE ALSO:
  - policy.go: ApprovalThreshold and AuthorityLevel
  - lifecycle.go: Enforcement on the approve transition
*/
package leave

// =============================================================================
// ROUTING DECISION
// =============================================================================

// RoutingDecision names the minimum authority that may approve a request.
type RoutingDecision struct {
	Level AuthorityLevel

	// RequiresEscalation is set when no configured threshold covers the
	// request. Level then holds the highest configured level, and approval
	// needs an authority strictly above it.
	RequiresEscalation bool
}

// SatisfiedBy reports whether an approver at the given level may approve.
func (d RoutingDecision) SatisfiedBy(a AuthorityLevel) bool {
	if d.RequiresEscalation {
		return a > d.Level
	}
	return a >= d.Level
}

// RequiredAuthority walks the policy's thresholds in ascending authority
// order and returns the lowest level whose cap covers totalDays. When no
// level suffices, the highest configured level is returned with
// RequiresEscalation set.
//
// The policy must have passed Validate (thresholds non-empty, ascending).
func RequiredAuthority(policy LeavePolicy, totalDays Days) RoutingDecision {
	for _, t := range policy.ApprovalThresholds {
		if !totalDays.GreaterThan(t.MaxDays) {
			return RoutingDecision{Level: t.Level}
		}
	}
	return RoutingDecision{
		Level:              policy.HighestThreshold().Level,
		RequiresEscalation: true,
	}
}
