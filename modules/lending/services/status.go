package services

import (
	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/httperr"
)

type transitionRule struct {
	from []types.Status
	to   types.Status
	// owner rules are performed by the applicant; the others need minRole.
	owner   bool
	minRole string
}

var transitionRules = []transitionRule{
	{from: []types.Status{types.StatusDraft, types.StatusInfoRequested}, to: types.StatusSubmitted, owner: true},
	{from: []types.Status{types.StatusSubmitted}, to: types.StatusUnderReview, minRole: authz.RoleLoanOfficer},
	{from: []types.Status{types.StatusUnderReview}, to: types.StatusInfoRequested, minRole: authz.RoleLoanOfficer},
	{from: []types.Status{types.StatusUnderReview}, to: types.StatusApproved, minRole: authz.RoleUnderwriter},
	{from: []types.Status{types.StatusUnderReview}, to: types.StatusRejected, minRole: authz.RoleUnderwriter},
	{from: []types.Status{types.StatusApproved}, to: types.StatusFunded, minRole: authz.RoleAdmin},
	{
		from:  []types.Status{types.StatusDraft, types.StatusSubmitted, types.StatusUnderReview, types.StatusInfoRequested, types.StatusApproved},
		to:    types.StatusWithdrawn,
		owner: true,
	},
}

func findRule(from types.Status, to types.Status) (transitionRule, bool) {
	for _, r := range transitionRules {
		if r.to != to {
			continue
		}
		for _, f := range r.from {
			if f == from {
				return r, true
			}
		}
	}
	return transitionRule{}, false
}

// CheckTransition reports whether actor may move an application from one
// status to another. isOwner is true when actor is the applicant.
func CheckTransition(from types.Status, to types.Status, actor types.Actor, isOwner bool) error {
	rule, ok := findRule(from, to)
	if !ok {
		return httperr.NewConflict("invalid_transition", "cannot move application from "+string(from)+" to "+string(to))
	}
	if rule.owner {
		if !isOwner {
			return httperr.NewForbidden("only the applicant may move the application to " + string(to))
		}
		return nil
	}
	if !authz.AtLeast(actor.Role, rule.minRole) {
		return httperr.NewForbidden("moving to " + string(to) + " requires " + rule.minRole)
	}
	return nil
}

// NextStatuses lists the statuses reachable from s in rule order.
func NextStatuses(s types.Status) []types.Status {
	var out []types.Status
	for _, st := range types.Statuses() {
		if _, ok := findRule(s, st); ok {
			out = append(out, st)
		}
	}
	return out
}
