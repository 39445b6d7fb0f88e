package arbiter

import "slices"

// Role is the function a department is allowed to perform.
type Role string

const (
	RoleProposer    Role = "proposer"
	RoleReplacement Role = "replacement"
	RoleValidator   Role = "validator"
)

// Capability declares what one department may do. Proposers and
// replacement proposers list the claim kinds they may emit; validators
// declare the single category they judge and the claim kinds they apply to.
type Capability struct {
	Role      Role
	CanClaim  []Kind
	Category  Category
	AppliesTo []Kind
}

// Capabilities maps department names to their declared capability.
type Capabilities map[string]Capability

// Lookup returns the capability of a department.
func (c Capabilities) Lookup(department string) (Capability, bool) {
	capability, ok := c[department]
	return capability, ok
}

// Applicable reports whether a validator judges claims of kind k.
func (c Capabilities) Applicable(validator string, k Kind) bool {
	capability, ok := c[validator]
	if !ok || capability.Role != RoleValidator {
		return false
	}
	return slices.Contains(capability.AppliesTo, k)
}

// ApplicableValidators returns the validators that judge claims of kind k,
// sorted by name.
func (c Capabilities) ApplicableValidators(k Kind) []string {
	var out []string
	for name := range c {
		if c.Applicable(name, k) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// checkClaim enforces the proposer side of the role boundary.
func (c Capabilities) checkClaim(claim Claim) *RoleViolationError {
	violation := func(rule string) *RoleViolationError {
		return &RoleViolationError{Department: claim.Origin(), Sequence: claim.Sequence(), Rule: rule}
	}

	switch claim.Marker() {
	case MarkerNone:
	case MarkerMutation:
		return violation("claim carries a mutation marker; proposers must never write state")
	default:
		return violation("claim carries a " + claim.Marker().String() + " marker; proposers must never decide")
	}

	capability, ok := c[claim.Origin()]
	if !ok {
		return violation("department has no declared capability")
	}
	if capability.Role != RoleProposer && capability.Role != RoleReplacement {
		return violation("department role " + string(capability.Role) + " may not emit claims")
	}
	if !slices.Contains(capability.CanClaim, claim.Kind()) {
		return violation("department may not claim " + string(claim.Kind()))
	}
	if !claim.wellFormed() {
		return violation("payload does not match claim kind " + string(claim.Kind()))
	}
	if claim.Kind() == KindReplace && claim.Supersedes() == 0 {
		return violation("replace claim does not reference the claim it supersedes")
	}
	if claim.Supersedes() > 0 && capability.Role != RoleReplacement {
		return violation("only replacement proposers may supersede claims")
	}
	return nil
}

// checkVerdict enforces the validator side of the role boundary.
func (c Capabilities) checkVerdict(v Verdict) *RoleViolationError {
	violation := func(rule string) *RoleViolationError {
		return &RoleViolationError{Department: v.ValidatorID, Sequence: v.ClaimSequence, Rule: rule}
	}

	if v.Marker != MarkerNone {
		return violation("verdict carries a " + v.Marker.String() + " marker; validators must never approve or reject")
	}
	capability, ok := c[v.ValidatorID]
	if !ok {
		return violation("validator has no declared capability")
	}
	if capability.Role != RoleValidator {
		return violation("department role " + string(capability.Role) + " may not emit verdicts")
	}
	if v.Category != capability.Category {
		return violation("verdict category " + string(v.Category) + " is outside declared category " + string(capability.Category))
	}
	switch v.Status {
	case StatusOK:
		if v.Reason != "" {
			return violation("passing verdict carries a reason")
		}
	case StatusFail:
		if v.Reason == "" {
			return violation("failing verdict has no reason")
		}
	default:
		return violation("unknown verdict status " + string(v.Status))
	}
	return nil
}
