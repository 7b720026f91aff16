package workrequest

import (
	"fmt"
	"time"

	"claimflow/enterprise"
)

// Kind is the discriminator of the seven request variants.
type Kind string

const (
	KindItemClaim                   Kind = "ITEM_CLAIM"
	KindCrossCampusTransfer         Kind = "CROSS_CAMPUS_TRANSFER"
	KindTransitToUniversityTransfer Kind = "TRANSIT_TO_UNIVERSITY_TRANSFER"
	KindAirportToUniversityTransfer Kind = "AIRPORT_TO_UNIVERSITY_TRANSFER"
	KindPoliceEvidenceRequest       Kind = "POLICE_EVIDENCE_REQUEST"
	KindTransitToAirportEmergency   Kind = "TRANSIT_TO_AIRPORT_EMERGENCY"
	KindMultiEnterpriseDispute      Kind = "MULTI_ENTERPRISE_DISPUTE"
)

// Kinds lists every request kind.
var Kinds = []Kind{
	KindItemClaim,
	KindCrossCampusTransfer,
	KindTransitToUniversityTransfer,
	KindAirportToUniversityTransfer,
	KindPoliceEvidenceRequest,
	KindTransitToAirportEmergency,
	KindMultiEnterpriseDispute,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a request. APPROVED means every decision
// has been made; COMPLETED means fulfillment is closed.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusApproved   Status = "APPROVED"
	StatusCompleted  Status = "COMPLETED"
	StatusRejected   Status = "REJECTED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// rank orders statuses along the forward path. Terminal states share the top rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusApproved:
		return 2
	default:
		return 3
	}
}

// Priority drives the SLA window.
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Decision is an actor's verdict on a request.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
	DecisionCancel  Decision = "CANCEL"
)

// Request is a cross-enterprise work request. ApproverIDs, ApproverNames and
// ApproverRoles are parallel slices describing the bound approval chain.
type Request struct {
	ID       string
	Kind     Kind
	Status   Status
	Priority Priority

	RequesterID   string
	RequesterName string
	RequesterOrg  enterprise.Org
	TargetOrg     enterprise.Org
	// Custodian is the organization physically holding the item, when known.
	Custodian enterprise.Org

	ApproverIDs       []string
	ApproverNames     []string
	ApproverRoles     []enterprise.Role
	ApprovalStep      int
	CurrentApproverID string
	// VerificationStep is the chain index gated on VerificationID, or -1.
	VerificationStep int
	VerificationID   string

	Notes           string
	RejectionReason string
	History         []HistoryEntry
	Details         Details

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Version     int64
}

// HistoryEntry records one accepted decision.
type HistoryEntry struct {
	ActorID  string    `json:"actor_id"`
	Decision Decision  `json:"decision"`
	Step     int       `json:"step"`
	Notes    string    `json:"notes,omitempty"`
	At       time.Time `json:"at"`
}

// ChainLength is the number of bound approvers.
func (r Request) ChainLength() int { return len(r.ApproverIDs) }

// IsRequester reports whether actorID submitted the request.
func (r Request) IsRequester(actorID string) bool { return actorID != "" && actorID == r.RequesterID }

// CurrentRole returns the role at the current step, if any.
func (r Request) CurrentRole() (enterprise.Role, bool) {
	if r.ApprovalStep < 0 || r.ApprovalStep >= len(r.ApproverRoles) {
		return "", false
	}
	return r.ApproverRoles[r.ApprovalStep], true
}

// ItemID returns the item the request concerns.
func (r Request) ItemID() string {
	if r.Details == nil {
		return ""
	}
	return r.Details.itemRef()
}

// CheckInvariants verifies the step/current-approver relationship.
func (r Request) CheckInvariants() error {
	n := len(r.ApproverIDs)
	if len(r.ApproverNames) != n || len(r.ApproverRoles) != n {
		return fmt.Errorf("workrequest: chain slices out of step (%d ids, %d names, %d roles)",
			n, len(r.ApproverNames), len(r.ApproverRoles))
	}
	if r.ApprovalStep < 0 || r.ApprovalStep > n {
		return fmt.Errorf("workrequest: approval step %d outside [0,%d]", r.ApprovalStep, n)
	}
	if r.ApprovalStep < n && r.CurrentApproverID != r.ApproverIDs[r.ApprovalStep] {
		return fmt.Errorf("workrequest: current approver %q does not match step %d", r.CurrentApproverID, r.ApprovalStep)
	}
	if r.ApprovalStep == n && r.CurrentApproverID != "" {
		return fmt.Errorf("workrequest: current approver set past end of chain")
	}
	return nil
}

func (r Request) clone() Request {
	out := r
	out.ApproverIDs = append([]string(nil), r.ApproverIDs...)
	out.ApproverNames = append([]string(nil), r.ApproverNames...)
	out.ApproverRoles = append([]enterprise.Role(nil), r.ApproverRoles...)
	out.History = append([]HistoryEntry(nil), r.History...)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		out.CompletedAt = &at
	}
	if r.Details != nil {
		out.Details = r.Details.copyDetails()
	}
	return out
}

// Filter narrows List results. Zero fields match everything. Offset skips
// that many matches in newest-first order, for paging past Limit.
type Filter struct {
	Kind        Kind
	Statuses    []Status
	RequesterID string
	ApproverID  string
	ItemID      string
	Limit       int
	Offset      int
}

func (f Filter) matches(r Request) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if f.ApproverID != "" && r.CurrentApproverID != f.ApproverID {
		return false
	}
	if f.ItemID != "" && r.ItemID() != f.ItemID {
		return false
	}
	return true
}

// ActiveStatuses are the statuses still awaiting work. APPROVED stays active
// until fulfillment completes.
var ActiveStatuses = []Status{StatusPending, StatusInProgress, StatusApproved}
