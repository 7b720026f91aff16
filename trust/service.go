package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"claimflow/apperr"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ApplyParams describes one ledger event.
type ApplyParams struct {
	UserID string
	Kind   EventKind
	// Points overrides the kind's default delta when set.
	Points *int
	// Key makes the application idempotent per user. Empty keys get a fresh
	// UUID, so the call is then never deduplicated.
	Key       string
	ItemID    string
	RequestID string
	ClaimID   string
	Note      string
}

// ApplyResult reports the outcome of ApplyEvent.
type ApplyResult struct {
	Score Score
	Event Event
	// Replayed is true when the key had already been applied; Score is then
	// the current stored score and Event is zero.
	Replayed bool
}

// Ledger applies reputation events and answers eligibility questions.
type Ledger struct {
	store        Store
	initialScore int
	now          func() time.Time
	idGenerator  func() string
	logger       *slog.Logger
	applied      metric.Int64Counter
}

func NewLedger(store Store, initialScore int) *Ledger {
	applied, _ := otel.Meter("claimflow/trust").Int64Counter("trust.events.applied",
		metric.WithDescription("Trust events applied, by kind"))
	return &Ledger{
		store:        store,
		initialScore: initialScore,
		now:          func() time.Time { return time.Now().UTC() },
		idGenerator:  func() string { return uuid.NewString() },
		logger:       slog.Default().With("component", "trust"),
		applied:      applied,
	}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	l.idGenerator = gen
	return l
}

func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger.With("component", "trust")
	return l
}

// ApplyEvent records a reputation event against the user's score.
func (l *Ledger) ApplyEvent(ctx context.Context, params ApplyParams) (ApplyResult, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return ApplyResult{}, apperr.Invalidf("trust: user id required")
	}
	delta, known := params.Kind.DefaultPoints()
	if !known {
		return ApplyResult{}, apperr.Invalidf("trust: unknown event kind %q", params.Kind)
	}
	if params.Points != nil {
		delta = *params.Points
		if delta > MaxScore-MinScore || delta < MinScore-MaxScore {
			return ApplyResult{}, apperr.Invalidf("trust: points %d outside ±%d", delta, MaxScore-MinScore)
		}
	} else if params.Kind == EventAdminAdjustment {
		return ApplyResult{}, apperr.Invalidf("trust: %s requires explicit points", params.Kind)
	}
	key := params.Key
	if key == "" {
		key = l.idGenerator()
	}

	now := l.now()
	var recorded Event
	score, err := l.store.Mutate(ctx, params.UserID, l.seed(params.UserID, now), func(s *Score) (*Event, error) {
		ev := apply(s, params.Kind, delta, now)
		ev.ID = l.idGenerator()
		ev.Key = key
		ev.ItemID = params.ItemID
		ev.RequestID = params.RequestID
		ev.ClaimID = params.ClaimID
		ev.Note = params.Note
		s.Recent = pushRecent(s.Recent, ev)
		recorded = ev
		return &ev, nil
	})
	if errors.Is(err, ErrDuplicateEvent) {
		current, err := l.Score(ctx, params.UserID)
		if err != nil {
			return ApplyResult{}, err
		}
		l.logger.DebugContext(ctx, "trust event replayed", "user_id", params.UserID, "key", key)
		return ApplyResult{Score: current, Replayed: true}, nil
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("trust: apply %s: %w", params.Kind, err)
	}

	if l.applied != nil {
		l.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(params.Kind))))
	}
	if recorded.PreviousScore >= FlagThreshold && recorded.NewScore < FlagThreshold {
		l.logger.WarnContext(ctx, "user auto-flagged",
			"user_id", params.UserID, "previous_score", recorded.PreviousScore, "new_score", recorded.NewScore)
	}
	return ApplyResult{Score: score, Event: recorded}, nil
}

// Score returns the user's stored score, or a fresh unsaved one at the
// initial score when the user has no history.
func (l *Ledger) Score(ctx context.Context, userID string) (Score, error) {
	if strings.TrimSpace(userID) == "" {
		return Score{}, apperr.Invalidf("trust: user id required")
	}
	s, err := l.store.FindScore(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return l.seed(userID, l.now()), nil
	}
	if err != nil {
		return Score{}, fmt.Errorf("trust: load score: %w", err)
	}
	return s, nil
}

// Events returns the user's audit trail, newest first.
func (l *Ledger) Events(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := l.store.ListEvents(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("trust: list events: %w", err)
	}
	return events, nil
}

// Flag marks the user as flagged without touching the score.
func (l *Ledger) Flag(ctx context.Context, userID, reason string) (Score, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Score{}, apperr.Invalidf("trust: flag reason required")
	}
	return l.gate(ctx, userID, func(s *Score, now time.Time) {
		s.IsFlagged = true
		s.FlagReason = reason
		s.FlaggedAt = &now
	})
}

// ClearFlag is the only way a flag is lifted; recovering above the threshold
// does not clear it.
func (l *Ledger) ClearFlag(ctx context.Context, userID string) (Score, error) {
	return l.gate(ctx, userID, func(s *Score, _ time.Time) {
		s.IsFlagged = false
		s.FlagReason = ""
		s.FlaggedAt = nil
	})
}

func (l *Ledger) StartInvestigation(ctx context.Context, userID, reason string) (Score, error) {
	return l.gate(ctx, userID, func(s *Score, _ time.Time) {
		s.IsUnderInvestigation = true
		s.InvestigationReason = strings.TrimSpace(reason)
	})
}

func (l *Ledger) EndInvestigation(ctx context.Context, userID string) (Score, error) {
	return l.gate(ctx, userID, func(s *Score, _ time.Time) {
		s.IsUnderInvestigation = false
		s.InvestigationReason = ""
	})
}

func (l *Ledger) gate(ctx context.Context, userID string, change func(*Score, time.Time)) (Score, error) {
	if strings.TrimSpace(userID) == "" {
		return Score{}, apperr.Invalidf("trust: user id required")
	}
	now := l.now()
	score, err := l.store.Mutate(ctx, userID, l.seed(userID, now), func(s *Score) (*Event, error) {
		change(s, now)
		s.UpdatedAt = now
		return nil, nil
	})
	if err != nil {
		return Score{}, fmt.Errorf("trust: update gating: %w", err)
	}
	return score, nil
}

func (l *Ledger) seed(userID string, now time.Time) Score {
	return NewScore(userID, l.initialScore, now)
}
