package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"claimflow/apperr"
	"claimflow/trust"

	"github.com/google/uuid"
)

var (
	ErrClosed        = apperr.Kind(apperr.ErrInvalidStateTransition, "verification: request is closed")
	ErrNotInReview   = apperr.Kind(apperr.ErrInvalidStateTransition, "verification: request is not in review")
	ErrWrongReviewer = apperr.Kind(apperr.ErrUnauthorizedActor, "verification: reviewer does not own this review")
	ErrSelfReview    = apperr.Kind(apperr.ErrUnauthorizedActor, "verification: subject cannot review their own verification")
	ErrConflict      = apperr.Kind(apperr.ErrConflict, "verification: concurrent modification")
)

// TrustLedger is the slice of the trust ledger verification outcomes feed.
type TrustLedger interface {
	ApplyEvent(ctx context.Context, params trust.ApplyParams) (trust.ApplyResult, error)
}

type CreateParams struct {
	Kind          Kind
	SubjectUserID string
	WorkRequestID string
	ItemID        string
	SerialNumber  string
	Notes         string
	// ReviewerID pre-assigns the review; only that reviewer may claim it.
	ReviewerID string
}

// Service runs the verification workflow.
type Service struct {
	repo        Repository
	ledger      TrustLedger
	expiry      time.Duration
	maxAttempts int
	now         func() time.Time
	idGenerator func() string
	logger      *slog.Logger
}

func NewService(repo Repository, ledger TrustLedger, expiry time.Duration) *Service {
	return &Service{
		repo:        repo,
		ledger:      ledger,
		expiry:      expiry,
		maxAttempts: 3,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: func() string { return uuid.NewString() },
		logger:      slog.Default().With("component", "verification"),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger.With("component", "verification")
	return s
}

func (s *Service) WithMaxAttempts(n int) *Service {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Request, error) {
	if !params.Kind.Valid() {
		return Request{}, apperr.Invalidf("verification: unknown kind %q", params.Kind)
	}
	if strings.TrimSpace(params.SubjectUserID) == "" {
		return Request{}, apperr.Invalidf("verification: subject user id required")
	}
	if params.Kind == KindSerialNumberCheck && strings.TrimSpace(params.SerialNumber) == "" {
		return Request{}, apperr.Invalidf("verification: serial number required for %s", params.Kind)
	}
	if params.ReviewerID != "" && params.ReviewerID == params.SubjectUserID {
		return Request{}, ErrSelfReview
	}

	now := s.now()
	req := Request{
		ID:            s.idGenerator(),
		Kind:          params.Kind,
		Status:        StatusPending,
		SubjectUserID: params.SubjectUserID,
		WorkRequestID: params.WorkRequestID,
		ItemID:        params.ItemID,
		SerialNumber:  params.SerialNumber,
		ReviewerID:    params.ReviewerID,
		Notes:         params.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.expiry),
	}
	if _, err := s.repo.Save(ctx, req); err != nil {
		return Request{}, fmt.Errorf("verification: create: %w", err)
	}
	return req, nil
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Request, error) {
	return s.repo.FindBy(ctx, filter)
}

// StartReview claims a pending verification for reviewerID. A verification
// created with an assigned reviewer can only be claimed by that reviewer.
func (s *Service) StartReview(ctx context.Context, id, reviewerID string) (Request, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return Request{}, apperr.Invalidf("verification: reviewer id required")
	}
	return s.transition(ctx, id, func(req *Request, now time.Time) error {
		if req.Status.IsTerminal() {
			return ErrClosed
		}
		if reviewerID == req.SubjectUserID {
			return ErrSelfReview
		}
		if req.ReviewerID != "" && req.ReviewerID != reviewerID {
			return ErrWrongReviewer
		}
		if req.Status == StatusInReview {
			return nil
		}
		if req.Overdue(now) {
			return ErrClosed
		}
		req.Status = StatusInReview
		req.ReviewerID = reviewerID
		return nil
	})
}

// Verify closes the review successfully and credits the subject.
func (s *Service) Verify(ctx context.Context, id, reviewerID, notes string) (Request, error) {
	req, err := s.decide(ctx, id, reviewerID, StatusVerified, notes)
	if err != nil {
		return Request{}, err
	}
	s.applyTrust(ctx, req, trust.EventIdentityVerified)
	return req, nil
}

// Reject closes the review unsuccessfully and debits the subject.
func (s *Service) Reject(ctx context.Context, id, reviewerID, reason string) (Request, error) {
	if strings.TrimSpace(reason) == "" {
		return Request{}, apperr.Invalidf("verification: rejection reason required")
	}
	req, err := s.decide(ctx, id, reviewerID, StatusRejected, reason)
	if err != nil {
		return Request{}, err
	}
	s.applyTrust(ctx, req, trust.EventVerificationFailed)
	return req, nil
}

// Expire closes an open verification without a verdict, for example when
// the work request it gates is never stored. The subject's score is untouched.
func (s *Service) Expire(ctx context.Context, id, reason string) (Request, error) {
	return s.transition(ctx, id, func(req *Request, now time.Time) error {
		if req.Status.IsTerminal() {
			return ErrClosed
		}
		req.Status = StatusExpired
		req.Notes = reason
		decided := now
		req.DecidedAt = &decided
		return nil
	})
}

// ExpireOverdue moves every open verification whose expiry has passed to
// EXPIRED. It is invoked by an external periodic job.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time) ([]Request, error) {
	candidates, err := s.repo.FindBy(ctx, Filter{
		Statuses:      []Status{StatusPending, StatusInReview},
		ExpiresBefore: now,
	})
	if err != nil {
		return nil, fmt.Errorf("verification: list overdue: %w", err)
	}

	expired := make([]Request, 0, len(candidates))
	for _, candidate := range candidates {
		req, err := s.transition(ctx, candidate.ID, func(req *Request, _ time.Time) error {
			if !req.Overdue(now) {
				return errSkip
			}
			req.Status = StatusExpired
			decided := now
			req.DecidedAt = &decided
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("verification: expire %s: %w", candidate.ID, err)
		}
		expired = append(expired, req)
	}
	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "verifications expired", "count", len(expired))
	}
	return expired, nil
}

var errSkip = errors.New("verification: skip")

func (s *Service) decide(ctx context.Context, id, reviewerID string, outcome Status, notes string) (Request, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return Request{}, apperr.Invalidf("verification: reviewer id required")
	}
	return s.transition(ctx, id, func(req *Request, now time.Time) error {
		if req.Status.IsTerminal() {
			return ErrClosed
		}
		if req.Status != StatusInReview {
			return ErrNotInReview
		}
		if reviewerID == req.SubjectUserID {
			return ErrSelfReview
		}
		if req.ReviewerID != reviewerID {
			return ErrWrongReviewer
		}
		if req.Overdue(now) {
			return ErrClosed
		}
		req.Status = outcome
		req.Notes = notes
		decided := now
		req.DecidedAt = &decided
		return nil
	})
}

// transition reloads and re-validates on every attempt so a stale writer
// never overwrites a concurrent decision.
func (s *Service) transition(ctx context.Context, id string, change func(*Request, time.Time) error) (Request, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		req, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return Request{}, err
		}
		now := s.now()
		if err := change(&req, now); err != nil {
			return Request{}, err
		}
		req.UpdatedAt = now
		ok, err := s.repo.Update(ctx, req)
		if err != nil {
			return Request{}, fmt.Errorf("verification: update: %w", err)
		}
		if ok {
			req.Version++
			return req, nil
		}
	}
	return Request{}, ErrConflict
}

func (s *Service) applyTrust(ctx context.Context, req Request, kind trust.EventKind) {
	if s.ledger == nil {
		return
	}
	_, err := s.ledger.ApplyEvent(ctx, trust.ApplyParams{
		UserID:    req.SubjectUserID,
		Kind:      kind,
		Key:       "verification:" + req.ID + ":" + string(kind),
		ItemID:    req.ItemID,
		RequestID: req.WorkRequestID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "trust event failed", "verification_id", req.ID, "kind", kind, "error", err)
	}
}
