package verification

import "time"

// Kind is what a verification checks.
type Kind string

const (
	KindIdentity          Kind = "IDENTITY"
	KindHighValueClaim    Kind = "HIGH_VALUE_CLAIM"
	KindSerialNumberCheck Kind = "SERIAL_NUMBER_CHECK"
)

func (k Kind) Valid() bool {
	switch k {
	case KindIdentity, KindHighValueClaim, KindSerialNumberCheck:
		return true
	default:
		return false
	}
}

// Status follows PENDING -> IN_REVIEW -> {VERIFIED | REJECTED | EXPIRED}.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusInReview Status = "IN_REVIEW"
	StatusVerified Status = "VERIFIED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusRejected || s == StatusExpired
}

// Request is a verification tracked alongside, and independently of, a work
// request.
type Request struct {
	ID            string
	Kind          Kind
	Status        Status
	SubjectUserID string
	WorkRequestID string
	ItemID        string
	SerialNumber  string
	ReviewerID    string
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
	DecidedAt     *time.Time
	Version       int64
}

// Overdue reports whether the request is still open past its expiry.
func (r Request) Overdue(now time.Time) bool {
	return !r.Status.IsTerminal() && now.After(r.ExpiresAt)
}

// Filter narrows FindBy results. Zero fields match everything.
type Filter struct {
	Statuses      []Status
	SubjectUserID string
	WorkRequestID string
	// ExpiresBefore selects requests whose expiry is strictly before it.
	ExpiresBefore time.Time
	Limit         int
}

func (f Filter) matches(r Request) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == r.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SubjectUserID != "" && r.SubjectUserID != f.SubjectUserID {
		return false
	}
	if f.WorkRequestID != "" && r.WorkRequestID != f.WorkRequestID {
		return false
	}
	if !f.ExpiresBefore.IsZero() && !r.ExpiresAt.Before(f.ExpiresBefore) {
		return false
	}
	return true
}
