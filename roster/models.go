package roster

import (
	"time"

	"claimflow/enterprise"
)

// Approver is a concrete person staffing a role at an organization.
type Approver struct {
	ID        string
	Name      string
	Role      enterprise.Role
	Org       enterprise.Org
	Active    bool
	CreatedAt time.Time
}
