package auth

import "claimflow/enterprise"

// Role is the coarse permission carried in a bearer token. Approval rights
// are never taken from it: the roster binds approvers per request.
type Role string

const (
	RoleMember Role = "member"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleStaff, RoleAdmin:
		return true
	default:
		return false
	}
}

// Actor is the authenticated caller of the HTTP surface.
type Actor struct {
	ID   string
	Name string
	Org  enterprise.Org
	Role Role
}

// IsAdmin reports whether the actor may use administrative routes.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
