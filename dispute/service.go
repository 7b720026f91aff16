package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"claimflow/apperr"
	"claimflow/enterprise"
	"claimflow/notify"
	"claimflow/roster"
	"claimflow/trust"
	"claimflow/workrequest"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrDisputeClosed    = apperr.Kind(apperr.ErrInvalidStateTransition, "dispute: dispute is closed")
	ErrQuorumNotReached = apperr.Kind(apperr.ErrInvalidStateTransition, "dispute: quorum not reached")
	ErrEvidenceDecided  = apperr.Kind(apperr.ErrInvalidStateTransition, "dispute: evidence already decided")
	ErrNotPanelMember   = apperr.Kind(apperr.ErrUnauthorizedActor, "dispute: actor is not on the panel")
	ErrNotParticipant   = apperr.Kind(apperr.ErrUnauthorizedActor, "dispute: actor is neither a claimant nor a panel member")
	ErrAlreadyVoted     = apperr.Kind(apperr.ErrAlreadyVoted, "dispute: panel member already voted")
	ErrClaimantNotFound = apperr.Kind(apperr.ErrNotFound, "dispute: claimant not found")
	ErrEvidenceNotFound = apperr.Kind(apperr.ErrNotFound, "dispute: evidence not found")
	ErrConflict         = apperr.Kind(apperr.ErrConflict, "dispute: concurrent modification")
)

var errNoChange = errors.New("dispute: no change")

// RequestApprover advances the owning work request once a winner is known.
type RequestApprover interface {
	ApproveByPanel(ctx context.Context, requestID, winnerID, notes string) (workrequest.Request, error)
}

type TrustLedger interface {
	Score(ctx context.Context, userID string) (trust.Score, error)
	ApplyEvent(ctx context.Context, params trust.ApplyParams) (trust.ApplyResult, error)
}

type Roster interface {
	Resolve(ctx context.Context, role enterprise.Role, org enterprise.Org) (roster.Approver, error)
}

type OpenParams struct {
	WorkRequestID string
	ItemID        string
	Claimants     []workrequest.DisputeClaimant
	// Panel, when empty, is drawn from the custodian role at each claimant's
	// organization.
	Panel []workrequest.PanelSeat
	// VotesRequired defaults to a simple majority of the panel.
	VotesRequired int
}

type VoteParams struct {
	DisputeID  string
	MemberID   string
	ClaimantID string
	Reason     string
}

type EvidenceParams struct {
	DisputeID   string
	SubmittedBy string
	ClaimantID  string
	Description string
	Reference   string
}

type VerifyEvidenceParams struct {
	DisputeID  string
	EvidenceID string
	MemberID   string
	Verified   bool
	Notes      string
}

// Engine runs panel voting for multi-enterprise disputes.
type Engine struct {
	repo        Repository
	ledger      TrustLedger
	roster      Roster
	requests    RequestApprover
	notifier    notify.Notifier
	maxAttempts int
	now         func() time.Time
	idGenerator func() string
	logger      *slog.Logger
	tracer      trace.Tracer
	votes       metric.Int64Counter
}

func NewEngine(repo Repository, ledger TrustLedger, roster Roster) *Engine {
	votes, _ := otel.Meter("claimflow/dispute").Int64Counter("dispute.votes",
		metric.WithDescription("Accepted panel votes"))
	return &Engine{
		repo:        repo,
		ledger:      ledger,
		roster:      roster,
		notifier:    notify.Discard{},
		maxAttempts: 3,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: func() string { return uuid.NewString() },
		logger:      slog.Default().With("component", "dispute"),
		tracer:      otel.Tracer("claimflow/dispute"),
		votes:       votes,
	}
}

func (e *Engine) WithRequests(requests RequestApprover) *Engine {
	e.requests = requests
	return e
}

func (e *Engine) WithNotifier(n notify.Notifier) *Engine {
	e.notifier = n
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) WithIDGenerator(gen func() string) *Engine {
	e.idGenerator = gen
	return e
}

func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger.With("component", "dispute")
	return e
}

func (e *Engine) WithMaxAttempts(n int) *Engine {
	if n > 0 {
		e.maxAttempts = n
	}
	return e
}

// OpenForRequest opens the dispute backing a dispute-kind work request.
func (e *Engine) OpenForRequest(ctx context.Context, req workrequest.Request) (string, error) {
	details, ok := req.Details.(workrequest.MultiEnterpriseDispute)
	if !ok {
		return "", apperr.Invalidf("dispute: %s request cannot open a dispute", req.Kind)
	}
	d, err := e.Open(ctx, OpenParams{
		WorkRequestID: req.ID,
		ItemID:        details.ItemID,
		Claimants:     details.Claimants,
		Panel:         details.Panel,
		VotesRequired: details.VotesRequired,
	})
	if err != nil {
		return "", err
	}
	return d.ID, nil
}

// Open snapshots claimant standing, seats the panel and stores the dispute.
func (e *Engine) Open(ctx context.Context, params OpenParams) (d Dispute, err error) {
	ctx, span := e.tracer.Start(ctx, "dispute.Open", trace.WithAttributes(attribute.String("workrequest.id", params.WorkRequestID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(params.WorkRequestID) == "" {
		return Dispute{}, apperr.Invalidf("dispute: work request id required")
	}
	if len(params.Claimants) < 2 {
		return Dispute{}, apperr.Invalidf("dispute: at least two claimants required")
	}

	now := e.now()
	d = Dispute{
		ID:            e.idGenerator(),
		WorkRequestID: params.WorkRequestID,
		ItemID:        params.ItemID,
		Claimants:     make([]Claimant, 0, len(params.Claimants)),
		Evidence:      []Evidence{},
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, c := range params.Claimants {
		if d.claimant(c.UserID) >= 0 {
			return Dispute{}, apperr.Invalidf("dispute: duplicate claimant %q", c.UserID)
		}
		score, err := e.ledger.Score(ctx, c.UserID)
		if err != nil {
			return Dispute{}, fmt.Errorf("dispute: open: claimant score: %w", err)
		}
		d.Claimants = append(d.Claimants, Claimant{
			UserID:      c.UserID,
			Org:         c.Org,
			TrustScore:  score.CurrentScore,
			Narrative:   c.Narrative,
			EvidenceIDs: []string{},
		})
	}

	if d.Panel, err = e.seatPanel(ctx, d, params.Panel); err != nil {
		return Dispute{}, err
	}
	d.PanelVotesRequired = params.VotesRequired
	if d.PanelVotesRequired <= 0 {
		d.PanelVotesRequired = len(d.Panel)/2 + 1
	}
	if d.PanelVotesRequired > len(d.Panel) {
		return Dispute{}, apperr.Invalidf("dispute: %d votes required from a panel of %d", d.PanelVotesRequired, len(d.Panel))
	}

	if _, err := e.repo.Save(ctx, d); err != nil {
		return Dispute{}, fmt.Errorf("dispute: open: save: %w", err)
	}
	e.logger.InfoContext(ctx, "dispute opened",
		"dispute_id", d.ID, "request_id", d.WorkRequestID, "claimants", len(d.Claimants), "panel", len(d.Panel), "votes_required", d.PanelVotesRequired)
	for _, m := range d.Panel {
		e.publish(ctx, notify.Fact{
			Topic:       notify.TopicDisputeOpened,
			RecipientID: m.MemberID,
			RequestID:   d.WorkRequestID,
			DisputeID:   d.ID,
			Payload:     map[string]any{"item_id": d.ItemID, "votes_required": d.PanelVotesRequired},
		})
	}
	return d, nil
}

func (e *Engine) seatPanel(ctx context.Context, d Dispute, seats []workrequest.PanelSeat) ([]PanelMember, error) {
	panel := make([]PanelMember, 0, len(d.Claimants))
	add := func(memberID string, org enterprise.Org) error {
		if d.claimant(memberID) >= 0 {
			return apperr.Invalidf("dispute: claimant %q cannot sit on the panel", memberID)
		}
		for _, m := range panel {
			if m.MemberID == memberID {
				return nil
			}
		}
		panel = append(panel, PanelMember{MemberID: memberID, Org: org})
		return nil
	}

	if len(seats) > 0 {
		for _, s := range seats {
			if err := add(s.MemberID, s.Org); err != nil {
				return nil, err
			}
		}
		return panel, nil
	}

	for _, c := range d.Claimants {
		approver, err := e.roster.Resolve(ctx, enterprise.CustodianRole(c.Org.Enterprise), c.Org)
		if err != nil {
			return nil, fmt.Errorf("dispute: seat panel for %s: %w", c.Org, err)
		}
		if d.claimant(approver.ID) >= 0 {
			continue
		}
		if err := add(approver.ID, c.Org); err != nil {
			return nil, err
		}
	}
	if len(panel) == 0 {
		return nil, apperr.Invalidf("dispute: no eligible panel members")
	}
	return panel, nil
}

// CastVote records a panel member's vote. Once quorum is reached a strict
// plurality resolves the dispute; otherwise it waits in PENDING_REVIEW, where
// a later vote may still break the tie.
func (e *Engine) CastVote(ctx context.Context, params VoteParams) (updated Dispute, err error) {
	ctx, span := e.tracer.Start(ctx, "dispute.CastVote", trace.WithAttributes(attribute.String("dispute.id", params.DisputeID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(params.MemberID) == "" {
		return Dispute{}, apperr.Invalidf("dispute: panel member id required")
	}

	updated, err = e.mutate(ctx, params.DisputeID, func(d *Dispute, now time.Time) error {
		if d.Status.IsClosed() {
			return ErrDisputeClosed
		}
		i := d.member(params.MemberID)
		if i < 0 {
			return ErrNotPanelMember
		}
		if d.Panel[i].HasVoted {
			return ErrAlreadyVoted
		}
		if d.claimant(params.ClaimantID) < 0 {
			return ErrClaimantNotFound
		}
		at := now
		d.Panel[i].HasVoted = true
		d.Panel[i].VotedFor = params.ClaimantID
		d.Panel[i].Reason = params.Reason
		d.Panel[i].VotedAt = &at
		d.PanelVotesReceived++

		if !d.QuorumReached() {
			return nil
		}
		if winner, ok := d.Plurality(); ok {
			d.Status = StatusResolved
			d.WinningClaimantID = winner
			d.ResolvedBy = workrequest.PanelActor
			d.ResolvedAt = &at
			return nil
		}
		d.Status = StatusPendingReview
		return nil
	})
	if err != nil {
		return Dispute{}, err
	}

	if e.votes != nil {
		e.votes.Add(ctx, 1)
	}
	e.logger.InfoContext(ctx, "vote cast",
		"dispute_id", updated.ID, "member_id", params.MemberID, "claimant_id", params.ClaimantID,
		"received", updated.PanelVotesReceived, "required", updated.PanelVotesRequired, "status", updated.Status)
	e.award(ctx, params.MemberID, trust.EventPanelVoteCast, updated, "vote:"+params.MemberID)
	if updated.Status == StatusResolved {
		e.finalize(ctx, updated)
	}
	return updated, nil
}

// SubmitEvidence attaches an evidence item to a claimant. Claimants and
// panel members may submit.
func (e *Engine) SubmitEvidence(ctx context.Context, params EvidenceParams) (ev Evidence, err error) {
	ctx, span := e.tracer.Start(ctx, "dispute.SubmitEvidence", trace.WithAttributes(attribute.String("dispute.id", params.DisputeID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(params.Description) == "" {
		return Evidence{}, apperr.Invalidf("dispute: evidence description required")
	}

	_, err = e.mutate(ctx, params.DisputeID, func(d *Dispute, now time.Time) error {
		if d.Status.IsClosed() {
			return ErrDisputeClosed
		}
		if d.claimant(params.SubmittedBy) < 0 && d.member(params.SubmittedBy) < 0 {
			return ErrNotParticipant
		}
		ci := d.claimant(params.ClaimantID)
		if ci < 0 {
			return ErrClaimantNotFound
		}
		ev = Evidence{
			ID:          e.idGenerator(),
			SubmittedBy: params.SubmittedBy,
			ClaimantID:  params.ClaimantID,
			Description: params.Description,
			Reference:   params.Reference,
			Status:      EvidencePending,
			SubmittedAt: now,
		}
		d.Evidence = append(d.Evidence, ev)
		d.Claimants[ci].EvidenceIDs = append(d.Claimants[ci].EvidenceIDs, ev.ID)
		return nil
	})
	if err != nil {
		return Evidence{}, err
	}
	e.logger.InfoContext(ctx, "evidence submitted", "dispute_id", params.DisputeID, "evidence_id", ev.ID, "claimant_id", ev.ClaimantID)
	return ev, nil
}

// VerifyEvidence records a panel member's finding on one evidence item. It
// never counts as a vote.
func (e *Engine) VerifyEvidence(ctx context.Context, params VerifyEvidenceParams) (ev Evidence, err error) {
	ctx, span := e.tracer.Start(ctx, "dispute.VerifyEvidence", trace.WithAttributes(attribute.String("dispute.id", params.DisputeID)))
	defer func() { endSpan(span, err) }()

	updated, err := e.mutate(ctx, params.DisputeID, func(d *Dispute, now time.Time) error {
		if d.Status.IsClosed() {
			return ErrDisputeClosed
		}
		if d.member(params.MemberID) < 0 {
			return ErrNotPanelMember
		}
		i := d.evidence(params.EvidenceID)
		if i < 0 {
			return ErrEvidenceNotFound
		}
		if d.Evidence[i].Status != EvidencePending {
			return ErrEvidenceDecided
		}
		at := now
		d.Evidence[i].Status = EvidenceRejected
		if params.Verified {
			d.Evidence[i].Status = EvidenceVerified
		}
		d.Evidence[i].VerifiedBy = params.MemberID
		d.Evidence[i].Notes = params.Notes
		d.Evidence[i].DecidedAt = &at
		ev = d.Evidence[i]
		return nil
	})
	if err != nil {
		return Evidence{}, err
	}
	e.logger.InfoContext(ctx, "evidence decided", "dispute_id", updated.ID, "evidence_id", ev.ID, "status", ev.Status)
	if ev.Status == EvidenceVerified {
		e.award(ctx, ev.ClaimantID, trust.EventEvidenceVerified, updated, "evidence:"+ev.ID)
	}
	return ev, nil
}

// ResolveManually is the administrative path out of PENDING_REVIEW.
func (e *Engine) ResolveManually(ctx context.Context, disputeID, adminID, winnerID, notes string) (updated Dispute, err error) {
	ctx, span := e.tracer.Start(ctx, "dispute.ResolveManually", trace.WithAttributes(attribute.String("dispute.id", disputeID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(adminID) == "" {
		return Dispute{}, apperr.Invalidf("dispute: admin id required")
	}

	updated, err = e.mutate(ctx, disputeID, func(d *Dispute, now time.Time) error {
		if d.Status.IsClosed() {
			return ErrDisputeClosed
		}
		if d.Status != StatusPendingReview {
			return ErrQuorumNotReached
		}
		if d.claimant(winnerID) < 0 {
			return ErrClaimantNotFound
		}
		at := now
		d.Status = StatusResolved
		d.WinningClaimantID = winnerID
		d.ResolvedBy = adminID
		d.ResolutionNotes = notes
		d.ResolvedAt = &at
		return nil
	})
	if err != nil {
		return Dispute{}, err
	}
	e.logger.InfoContext(ctx, "dispute resolved manually", "dispute_id", updated.ID, "admin_id", adminID, "winner_id", winnerID)
	e.finalize(ctx, updated)
	return updated, nil
}

// Withdraw closes a dispute without a winner. Withdrawing twice is a no-op.
func (e *Engine) Withdraw(ctx context.Context, disputeID, actorID, reason string) (err error) {
	ctx, span := e.tracer.Start(ctx, "dispute.Withdraw", trace.WithAttributes(attribute.String("dispute.id", disputeID)))
	defer func() { endSpan(span, err) }()

	_, err = e.mutate(ctx, disputeID, func(d *Dispute, now time.Time) error {
		switch d.Status {
		case StatusWithdrawn:
			return errNoChange
		case StatusResolved:
			return ErrDisputeClosed
		}
		at := now
		d.Status = StatusWithdrawn
		d.ResolvedBy = actorID
		d.ResolutionNotes = reason
		d.ResolvedAt = &at
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "dispute withdrawn", "dispute_id", disputeID, "actor_id", actorID)
	return nil
}

// ReplayResolutions re-drives ApproveByPanel for every resolved dispute,
// reading them pageSize at a time. The call is idempotent on the request
// side, so a resolution whose approval was lost to a transient failure
// converges on the next pass however old it is.
func (e *Engine) ReplayResolutions(ctx context.Context, pageSize int) (int, error) {
	if e.requests == nil {
		return 0, nil
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	applied := 0
	seen := make(map[string]struct{})
	for offset := 0; ; offset += pageSize {
		page, err := e.repo.FindBy(ctx, Filter{Statuses: []Status{StatusResolved}, Limit: pageSize, Offset: offset})
		if err != nil {
			return applied, err
		}
		for _, d := range page {
			// Disputes resolved mid-scan shift later pages by one.
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			_, err := e.requests.ApproveByPanel(ctx, d.WorkRequestID, d.WinningClaimantID, d.ResolutionNotes)
			switch {
			case err == nil:
				applied++
			case errors.Is(err, apperr.ErrInvalidStateTransition):
				// Request already moved on.
			default:
				return applied, fmt.Errorf("dispute: replay %s: %w", d.ID, err)
			}
		}
		if len(page) < pageSize {
			return applied, nil
		}
	}
}

func (e *Engine) Get(ctx context.Context, id string) (Dispute, error) {
	return e.repo.FindByID(ctx, id)
}

func (e *Engine) List(ctx context.Context, filter Filter) ([]Dispute, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return e.repo.FindBy(ctx, filter)
}

// finalize runs the side effects of a resolution: the owning request moves
// to APPROVED and claimants are scored and told.
func (e *Engine) finalize(ctx context.Context, d Dispute) {
	if e.requests != nil {
		if _, err := e.requests.ApproveByPanel(ctx, d.WorkRequestID, d.WinningClaimantID, d.ResolutionNotes); err != nil {
			e.logger.ErrorContext(ctx, "request approval failed", "dispute_id", d.ID, "request_id", d.WorkRequestID, "error", err)
		}
	}
	for _, c := range d.Claimants {
		kind := trust.EventDisputeLost
		if c.UserID == d.WinningClaimantID {
			kind = trust.EventDisputeWon
		}
		e.award(ctx, c.UserID, kind, d, "outcome:"+string(kind))
		e.publish(ctx, notify.Fact{
			Topic:       notify.TopicDisputeResolved,
			RecipientID: c.UserID,
			RequestID:   d.WorkRequestID,
			DisputeID:   d.ID,
			Payload:     map[string]any{"winner_id": d.WinningClaimantID, "resolved_by": d.ResolvedBy},
		})
	}
}

// mutate mirrors the work request loop: reload, re-validate, write under
// the version check.
func (e *Engine) mutate(ctx context.Context, id string, change func(*Dispute, time.Time) error) (Dispute, error) {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		current, err := e.repo.FindByID(ctx, id)
		if err != nil {
			return Dispute{}, err
		}
		next := current.clone()
		now := e.now()
		if err := change(&next, now); err != nil {
			if errors.Is(err, errNoChange) {
				return current, nil
			}
			return Dispute{}, err
		}
		if next.PanelVotesReceived > len(next.Panel) {
			return Dispute{}, fmt.Errorf("dispute: %d votes exceed panel of %d", next.PanelVotesReceived, len(next.Panel))
		}
		next.UpdatedAt = now

		ok, err := e.repo.Update(ctx, next)
		if err != nil {
			return Dispute{}, fmt.Errorf("dispute: update: %w", err)
		}
		if ok {
			next.Version++
			return next, nil
		}
		e.logger.DebugContext(ctx, "stale dispute version, retrying", "dispute_id", id, "attempt", attempt+1)
	}
	return Dispute{}, ErrConflict
}

func (e *Engine) award(ctx context.Context, userID string, kind trust.EventKind, d Dispute, suffix string) {
	_, err := e.ledger.ApplyEvent(ctx, trust.ApplyParams{
		UserID:    userID,
		Kind:      kind,
		Key:       fmt.Sprintf("dispute:%s:%s", d.ID, suffix),
		ItemID:    d.ItemID,
		RequestID: d.WorkRequestID,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "trust event failed", "dispute_id", d.ID, "user_id", userID, "kind", kind, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, fact notify.Fact) {
	if fact.OccurredAt.IsZero() {
		fact.OccurredAt = e.now()
	}
	if err := e.notifier.Publish(ctx, fact); err != nil {
		e.logger.WarnContext(ctx, "notification failed", "topic", fact.Topic, "dispute_id", fact.DisputeID, "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
