// Package routing builds approval chains from request kind, custody context
// and requester standing. Every decision here compares typed enterprise and
// organization identifiers; display names never take part.
package routing

import (
	"fmt"
	"strings"

	"claimflow/config"
	"claimflow/enterprise"
	"claimflow/trust"
	"claimflow/verification"
	"claimflow/workrequest"
)

// Router implements workrequest.ChainRouter over the static chain table.
type Router struct {
	highValueThreshold  float64
	highValueCategories map[string]struct{}
}

func NewRouter(policy config.RoutingPolicy) *Router {
	categories := make(map[string]struct{}, len(policy.HighValueCategories))
	for _, c := range policy.HighValueCategories {
		categories[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return &Router{highValueThreshold: policy.HighValueThreshold, highValueCategories: categories}
}

// IsHighValue reports whether an item claim needs the high-value treatment.
func (r *Router) IsHighValue(claim workrequest.ItemClaim) bool {
	if claim.DeclaredValue >= r.highValueThreshold {
		return true
	}
	_, ok := r.highValueCategories[strings.ToUpper(strings.TrimSpace(claim.Category))]
	return ok
}

// Route returns the chain for req. Unknown detail types are a programming
// error and panic.
func (r *Router) Route(req workrequest.Request, requester trust.Score) (workrequest.Route, error) {
	var route workrequest.Route

	switch d := req.Details.(type) {
	case workrequest.ItemClaim:
		route.Steps = []workrequest.Step{{Role: enterprise.RoleCampusCoordinator, Org: req.TargetOrg}}
		route.Steps = retarget(route.Steps, req.Custodian)
		highValue := r.IsHighValue(d)
		if requester.RequiresVerification() || (highValue && !requester.CanSkipVerification()) {
			intake := route.Steps[0]
			check := workrequest.Step{Role: enterprise.RoleVerificationOfficer, Org: intake.Org, Verification: true}
			route.Steps = append([]workrequest.Step{check}, route.Steps...)
			route.VerificationKind = verification.KindIdentity
			if highValue {
				route.VerificationKind = verification.KindHighValueClaim
			}
		}
		return route, nil

	case workrequest.CrossCampusTransfer:
		route.Steps = []workrequest.Step{
			{Role: enterprise.RoleCampusCoordinator, Org: d.SourceCampus},
			{Role: enterprise.RoleCampusCoordinator, Org: d.DestinationCampus},
			{Role: enterprise.RoleRequester, Org: req.RequesterOrg},
		}

	case workrequest.TransitToUniversityTransfer:
		route.Steps = []workrequest.Step{
			{Role: enterprise.RoleStationManager, Org: d.Station},
			{Role: enterprise.RoleCampusCoordinator, Org: d.Campus},
			{Role: enterprise.RoleRequester, Org: req.RequesterOrg},
		}

	case workrequest.AirportToUniversityTransfer:
		route.Steps = []workrequest.Step{{Role: enterprise.RoleAirportSpecialist, Org: d.Airport}}
		if d.RequiresPoliceVerification {
			route.Steps = append(route.Steps, workrequest.Step{Role: enterprise.RolePoliceOfficer, Org: d.PoliceOrg})
		}
		route.Steps = append(route.Steps,
			workrequest.Step{Role: enterprise.RoleCampusCoordinator, Org: d.Campus},
			workrequest.Step{Role: enterprise.RoleRequester, Org: req.RequesterOrg},
		)

	case workrequest.PoliceEvidenceRequest:
		route.Steps = []workrequest.Step{
			{Role: enterprise.CustodianRole(d.SourceOrg.Enterprise), Org: d.SourceOrg},
			{Role: enterprise.RoleEvidenceCustodian, Org: d.PoliceOrg},
		}

	case workrequest.TransitToAirportEmergency:
		route.Steps = []workrequest.Step{
			{Role: enterprise.RoleStationManager, Org: d.Station},
			{Role: enterprise.RoleAirportSpecialist, Org: d.Airport},
		}
		route.Priority = workrequest.PriorityUrgent

	case workrequest.MultiEnterpriseDispute:
		route.Panel = true
		return route, nil

	default:
		panic(fmt.Sprintf("routing: unhandled request details %T", req.Details))
	}

	route.Steps = retarget(route.Steps, req.Custodian)
	return route, nil
}

// retarget points the first entry at the custodian organization when the item
// is held somewhere other than the kind's default intake, then collapses any
// consecutive duplicates that produces.
func retarget(steps []workrequest.Step, custodian enterprise.Org) []workrequest.Step {
	if custodian.IsZero() || len(steps) == 0 || steps[0].Org.Same(custodian) {
		return steps
	}
	out := append([]workrequest.Step(nil), steps...)
	out[0] = workrequest.Step{Role: enterprise.CustodianRole(custodian.Enterprise), Org: custodian}
	return collapse(out)
}

func collapse(steps []workrequest.Step) []workrequest.Step {
	out := steps[:1]
	for _, s := range steps[1:] {
		last := out[len(out)-1]
		if s.Role == last.Role && s.Org.Same(last.Org) && s.Verification == last.Verification {
			continue
		}
		out = append(out, s)
	}
	return out
}
