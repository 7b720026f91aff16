// Package enterprise holds the typed identifiers for the four enterprises in
// the network, their organizations, and the approver roles they staff.
package enterprise

import (
	"fmt"
	"strings"
)

// Enterprise is one of the four top-level organizations in the network.
type Enterprise string

const (
	University Enterprise = "UNIVERSITY"
	Transit    Enterprise = "TRANSIT"
	Airport    Enterprise = "AIRPORT"
	Police     Enterprise = "POLICE"
)

// Valid reports whether e is a known enterprise.
func (e Enterprise) Valid() bool {
	switch e {
	case University, Transit, Airport, Police:
		return true
	default:
		return false
	}
}

// Org identifies an organization (a sub-unit of an enterprise). Routing
// compares Org values by Enterprise and ID only; Name is for display.
type Org struct {
	Enterprise Enterprise `json:"enterprise"`
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
}

// IsZero reports whether the org is unset.
func (o Org) IsZero() bool { return o.Enterprise == "" && o.ID == "" }

// Same reports whether two orgs are the same organization.
func (o Org) Same(other Org) bool {
	return o.Enterprise == other.Enterprise && o.ID == other.ID
}

// Validate checks that the org is fully identified.
func (o Org) Validate() error {
	if !o.Enterprise.Valid() {
		return fmt.Errorf("enterprise: unknown enterprise %q", o.Enterprise)
	}
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("enterprise: organization id required")
	}
	return nil
}

func (o Org) String() string {
	return string(o.Enterprise) + "/" + o.ID
}

// Role is an abstract approver role, bound to a person by the roster.
type Role string

const (
	RoleCampusCoordinator   Role = "CAMPUS_COORDINATOR"
	RoleStationManager      Role = "STATION_MANAGER"
	RoleAirportSpecialist   Role = "AIRPORT_SPECIALIST"
	RolePoliceOfficer       Role = "POLICE_OFFICER"
	RoleEvidenceCustodian   Role = "EVIDENCE_CUSTODIAN"
	RoleVerificationOfficer Role = "VERIFICATION_OFFICER"
	// RoleRequester is the requester's own confirmation step. It is never
	// looked up in the roster.
	RoleRequester Role = "REQUESTER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCampusCoordinator, RoleStationManager, RoleAirportSpecialist,
		RolePoliceOfficer, RoleEvidenceCustodian, RoleVerificationOfficer, RoleRequester:
		return true
	default:
		return false
	}
}

// CustodianRole is the intake role that answers for items held by an
// organization of enterprise e.
func CustodianRole(e Enterprise) Role {
	switch e {
	case University:
		return RoleCampusCoordinator
	case Transit:
		return RoleStationManager
	case Airport:
		return RoleAirportSpecialist
	case Police:
		return RoleEvidenceCustodian
	default:
		panic(fmt.Sprintf("enterprise: no custodian role for %q", e))
	}
}

// DisplayLabel returns a short label for an organization name. It is purely
// cosmetic and must never feed a routing decision.
func DisplayLabel(name string) string {
	switch {
	case strings.Contains(name, "Northeastern"):
		return "NEU"
	case strings.Contains(name, "MBTA"):
		return "MBTA"
	case strings.Contains(name, "Logan"):
		return "BOS"
	case strings.Contains(name, "Police"):
		return "PD"
	default:
		return name
	}
}
