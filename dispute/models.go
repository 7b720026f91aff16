package dispute

import (
	"time"

	"claimflow/enterprise"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusResolved      Status = "RESOLVED"
	StatusWithdrawn     Status = "WITHDRAWN"
)

// IsClosed reports whether the dispute accepts no further votes or evidence.
func (s Status) IsClosed() bool { return s == StatusResolved || s == StatusWithdrawn }

// EvidenceStatus is the verification outcome of one evidence item.
type EvidenceStatus string

const (
	EvidencePending  EvidenceStatus = "PENDING"
	EvidenceVerified EvidenceStatus = "VERIFIED"
	EvidenceRejected EvidenceStatus = "REJECTED"
)

// Claimant is one party asserting ownership. TrustScore is a snapshot taken
// when the dispute opened.
type Claimant struct {
	UserID      string
	Org         enterprise.Org
	TrustScore  int
	Narrative   string
	EvidenceIDs []string
}

// PanelMember is a voter drawn from one of the involved enterprises.
type PanelMember struct {
	MemberID string
	Org      enterprise.Org
	HasVoted bool
	VotedFor string
	Reason   string
	VotedAt  *time.Time
}

type Evidence struct {
	ID          string
	SubmittedBy string
	ClaimantID  string
	Description string
	Reference   string
	Status      EvidenceStatus
	VerifiedBy  string
	Notes       string
	SubmittedAt time.Time
	DecidedAt   *time.Time
}

// Dispute mirrors the disputes table.
type Dispute struct {
	ID                 string
	WorkRequestID      string
	ItemID             string
	Claimants          []Claimant
	Panel              []PanelMember
	Evidence           []Evidence
	PanelVotesRequired int
	PanelVotesReceived int
	Status             Status
	WinningClaimantID  string
	ResolvedBy         string
	ResolutionNotes    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ResolvedAt         *time.Time
	Version            int64
}

// Tally counts votes per claimant. Every claimant appears, with zero when
// nobody voted for them.
func (d Dispute) Tally() map[string]int {
	tally := make(map[string]int, len(d.Claimants))
	for _, c := range d.Claimants {
		tally[c.UserID] = 0
	}
	for _, m := range d.Panel {
		if m.HasVoted {
			tally[m.VotedFor]++
		}
	}
	return tally
}

// Plurality returns the claimant holding strictly more votes than every
// other claimant, if one exists.
func (d Dispute) Plurality() (string, bool) {
	var (
		tally  = d.Tally()
		leader string
		best   = -1
		tied   bool
	)
	for _, c := range d.Claimants {
		n := tally[c.UserID]
		switch {
		case n > best:
			leader, best, tied = c.UserID, n, false
		case n == best:
			tied = true
		}
	}
	if best <= 0 || tied {
		return "", false
	}
	return leader, true
}

// QuorumReached reports whether enough votes are in to finalize.
func (d Dispute) QuorumReached() bool {
	return d.PanelVotesReceived >= d.PanelVotesRequired
}

func (d Dispute) claimant(userID string) int {
	for i, c := range d.Claimants {
		if c.UserID == userID {
			return i
		}
	}
	return -1
}

func (d Dispute) member(memberID string) int {
	for i, m := range d.Panel {
		if m.MemberID == memberID {
			return i
		}
	}
	return -1
}

func (d Dispute) evidence(id string) int {
	for i, e := range d.Evidence {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (d Dispute) clone() Dispute {
	out := d
	out.Claimants = make([]Claimant, len(d.Claimants))
	for i, c := range d.Claimants {
		c.EvidenceIDs = append([]string(nil), c.EvidenceIDs...)
		out.Claimants[i] = c
	}
	out.Panel = append([]PanelMember(nil), d.Panel...)
	out.Evidence = append([]Evidence(nil), d.Evidence...)
	return out
}

// Filter narrows FindBy results. Zero fields match everything.
type Filter struct {
	Statuses      []Status
	WorkRequestID string
	MemberID      string
	Limit         int
	Offset        int
}

func (f Filter) matches(d Dispute) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == d.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.WorkRequestID != "" && d.WorkRequestID != f.WorkRequestID {
		return false
	}
	if f.MemberID != "" && d.member(f.MemberID) < 0 {
		return false
	}
	return true
}
