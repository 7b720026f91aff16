package trust

import "time"

const (
	MinScore = 0
	MaxScore = 100

	// FlagThreshold is the score below which a user is auto-flagged.
	FlagThreshold = 30
	// RecentCapacity bounds the recent-events ring kept on each score.
	RecentCapacity = 10

	// AutoFlagReason is recorded when a score crosses below FlagThreshold.
	AutoFlagReason = "Score dropped below threshold"
)

// Level is the coarse band a score falls in.
type Level string

const (
	LevelExcellent Level = "EXCELLENT"
	LevelGood      Level = "GOOD"
	LevelFair      Level = "FAIR"
	LevelLow       Level = "LOW"
	LevelProbation Level = "PROBATION"
)

// LevelFor maps a score onto its band using the 90/70/50/30 breakpoints.
func LevelFor(score int) Level {
	switch {
	case score >= 90:
		return LevelExcellent
	case score >= 70:
		return LevelGood
	case score >= 50:
		return LevelFair
	case score >= 30:
		return LevelLow
	default:
		return LevelProbation
	}
}

// EventKind names why a score moved.
type EventKind string

const (
	EventSuccessfulClaim    EventKind = "SUCCESSFUL_CLAIM"
	EventItemReturned       EventKind = "ITEM_RETURNED"
	EventFoundItemReported  EventKind = "FOUND_ITEM_REPORTED"
	EventIdentityVerified   EventKind = "IDENTITY_VERIFIED"
	EventApproveRequest     EventKind = "APPROVE_REQUEST"
	EventRejectRequest      EventKind = "REJECT_REQUEST"
	EventRequestCompleted   EventKind = "REQUEST_COMPLETED"
	EventRequestRejected    EventKind = "REQUEST_REJECTED"
	EventRequestCancelled   EventKind = "REQUEST_CANCELLED"
	EventPanelVoteCast      EventKind = "PANEL_VOTE_CAST"
	EventDisputeWon         EventKind = "DISPUTE_WON"
	EventDisputeLost        EventKind = "DISPUTE_LOST"
	EventEvidenceVerified   EventKind = "EVIDENCE_VERIFIED"
	EventVerificationFailed EventKind = "VERIFICATION_FAILED"
	EventFalseClaim         EventKind = "FALSE_CLAIM"
	EventFraudAttempt       EventKind = "FRAUD_ATTEMPT"
	EventNoShow             EventKind = "NO_SHOW"
	// EventAdminAdjustment carries no default; callers must supply points.
	EventAdminAdjustment EventKind = "ADMIN_ADJUSTMENT"
)

var defaultPoints = map[EventKind]int{
	EventSuccessfulClaim:    10,
	EventItemReturned:       15,
	EventFoundItemReported:  5,
	EventIdentityVerified:   5,
	EventApproveRequest:     2,
	EventRejectRequest:      1,
	EventRequestCompleted:   5,
	EventRequestRejected:    -5,
	EventRequestCancelled:   -2,
	EventPanelVoteCast:      1,
	EventDisputeWon:         5,
	EventDisputeLost:        -5,
	EventEvidenceVerified:   3,
	EventVerificationFailed: -10,
	EventFalseClaim:         -25,
	EventFraudAttempt:       -50,
	EventNoShow:             -5,
	EventAdminAdjustment:    0,
}

// DefaultPoints returns the default delta for kind and whether kind is known.
func (k EventKind) DefaultPoints() (int, bool) {
	p, ok := defaultPoints[k]
	return p, ok
}

// Score is a user's reputation aggregate.
type Score struct {
	UserID               string
	CurrentScore         int
	TotalEvents          int
	PositiveEvents       int
	NegativeEvents       int
	PointsEarned         int
	PointsLost           int
	IsFlagged            bool
	FlagReason           string
	FlaggedAt            *time.Time
	IsUnderInvestigation bool
	InvestigationReason  string
	// Recent holds up to RecentCapacity events, newest first.
	Recent    []Event
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// NewScore returns a fresh aggregate at the given starting score.
func NewScore(userID string, initial int, now time.Time) Score {
	return Score{
		UserID:       userID,
		CurrentScore: clamp(initial),
		Recent:       []Event{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Level is always derived from CurrentScore.
func (s Score) Level() Level { return LevelFor(s.CurrentScore) }

func (s Score) CanClaimHighValueItem() bool {
	return s.CurrentScore >= 70 && !s.IsFlagged && !s.IsUnderInvestigation
}

func (s Score) CanSkipVerification() bool {
	return s.CurrentScore >= 85 && !s.IsFlagged && !s.IsUnderInvestigation
}

func (s Score) RequiresVerification() bool {
	return s.CurrentScore < 50 || s.IsFlagged || s.IsUnderInvestigation
}

func (s Score) IsLowTrust() bool { return s.CurrentScore < FlagThreshold }

// Event is an immutable ledger row. It is never mutated after creation.
type Event struct {
	ID            string
	Key           string
	UserID        string
	Kind          EventKind
	Points        int
	PreviousScore int
	NewScore      int
	ItemID        string
	RequestID     string
	ClaimID       string
	Note          string
	CreatedAt     time.Time
}

// apply moves the score by delta and returns the event describing the move.
// The event's ID and Key must be filled by the caller.
func apply(s *Score, kind EventKind, delta int, now time.Time) Event {
	previous := s.CurrentScore
	next := clamp(previous + delta)

	s.CurrentScore = next
	s.TotalEvents++
	switch {
	case delta > 0:
		s.PositiveEvents++
		s.PointsEarned += delta
	case delta < 0:
		s.NegativeEvents++
		s.PointsLost += -delta
	}

	if previous >= FlagThreshold && next < FlagThreshold {
		s.IsFlagged = true
		s.FlagReason = AutoFlagReason
		flaggedAt := now
		s.FlaggedAt = &flaggedAt
	}
	s.UpdatedAt = now

	return Event{
		UserID:        s.UserID,
		Kind:          kind,
		Points:        delta,
		PreviousScore: previous,
		NewScore:      next,
		CreatedAt:     now,
	}
}

// pushRecent prepends e and drops the oldest entries beyond RecentCapacity.
func pushRecent(recent []Event, e Event) []Event {
	n := len(recent) + 1
	if n > RecentCapacity {
		n = RecentCapacity
	}
	out := make([]Event, n)
	out[0] = e
	copy(out[1:], recent)
	return out
}

func clamp(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
