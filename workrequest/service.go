package workrequest

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
	"claimflow/trust"
	"claimflow/verification"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrClosed              = apperr.Kind(apperr.ErrInvalidStateTransition, "workrequest: request is closed")
	ErrNoPendingDecision   = apperr.Kind(apperr.ErrInvalidStateTransition, "workrequest: no decision is pending")
	ErrNotApproved         = apperr.Kind(apperr.ErrInvalidStateTransition, "workrequest: request is not approved")
	ErrNotCancellable      = apperr.Kind(apperr.ErrInvalidStateTransition, "workrequest: only pending or in-progress requests can be cancelled")
	ErrVerificationPending = apperr.Kind(apperr.ErrInvalidStateTransition, "workrequest: linked verification is not verified")
	ErrNotDispute          = apperr.Kind(apperr.ErrInvalidStateTransition, "workrequest: request is not a dispute")
	ErrNotCurrentApprover  = apperr.Kind(apperr.ErrUnauthorizedActor, "workrequest: actor is not the current approver")
	ErrNotRequester        = apperr.Kind(apperr.ErrUnauthorizedActor, "workrequest: actor is not the requester")
	ErrCannotComplete      = apperr.Kind(apperr.ErrUnauthorizedActor, "workrequest: only the requester or final approver may complete")
	ErrConflict            = apperr.Kind(apperr.ErrConflict, "workrequest: concurrent modification")
)

// errNoChange lets a mutation report that the stored request already holds
// the requested outcome.
var errNoChange = errors.New("workrequest: no change")

// PanelActor is the actor recorded for decisions made by dispute voting.
const PanelActor = "dispute-panel"

type SubmitParams struct {
	RequesterID   string
	RequesterName string
	RequesterOrg  enterprise.Org
	TargetOrg     enterprise.Org
	Custodian     enterprise.Org
	Priority      Priority
	Notes         string
	Details       Details
}

func (p SubmitParams) validate() error {
	if strings.TrimSpace(p.RequesterID) == "" {
		return apperr.Invalidf("workrequest: requester id required")
	}
	if err := p.RequesterOrg.Validate(); err != nil {
		return apperr.Invalidf("workrequest: requester org: %v", err)
	}
	if !p.TargetOrg.IsZero() {
		if err := p.TargetOrg.Validate(); err != nil {
			return apperr.Invalidf("workrequest: target org: %v", err)
		}
	}
	if !p.Custodian.IsZero() {
		if err := p.Custodian.Validate(); err != nil {
			return apperr.Invalidf("workrequest: custodian: %v", err)
		}
	}
	if p.Priority != "" && !p.Priority.Valid() {
		return apperr.Invalidf("workrequest: unknown priority %q", p.Priority)
	}
	if p.Details == nil {
		return apperr.Invalidf("workrequest: details required")
	}
	if _, ok := p.Details.(ItemClaim); ok && p.TargetOrg.IsZero() {
		return apperr.Invalidf("workrequest: item claim needs the org listing the item")
	}
	return p.Details.validate()
}

type DecideParams struct {
	RequestID string
	ActorID   string
	Decision  Decision
	Notes     string
}

// Service is the request state machine and the surface the UI layer calls.
type Service struct {
	repo          Repository
	router        ChainRouter
	roster        Roster
	ledger        TrustLedger
	verifications Verifications
	disputes      DisputeOpener
	notifier      notify.Notifier
	maxAttempts   int
	now           func() time.Time
	idGenerator   func() string
	logger        *slog.Logger
	tracer        trace.Tracer
	decisions     metric.Int64Counter
}

func NewService(repo Repository, router ChainRouter, roster Roster, ledger TrustLedger, verifications Verifications) *Service {
	decisions, _ := otel.Meter("claimflow/workrequest").Int64Counter("workrequest.decisions",
		metric.WithDescription("Accepted request decisions, by decision"))
	return &Service{
		repo:          repo,
		router:        router,
		roster:        roster,
		ledger:        ledger,
		verifications: verifications,
		notifier:      notify.Discard{},
		maxAttempts:   3,
		now:           func() time.Time { return time.Now().UTC() },
		idGenerator:   func() string { return uuid.NewString() },
		logger:        slog.Default().With("component", "workrequest"),
		tracer:        otel.Tracer("claimflow/workrequest"),
		decisions:     decisions,
	}
}

func (s *Service) WithDisputes(disputes DisputeOpener) *Service {
	s.disputes = disputes
	return s
}

func (s *Service) WithNotifier(n notify.Notifier) *Service {
	s.notifier = n
	return s
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
	s.logger = logger.With("component", "workrequest")
	return s
}

func (s *Service) WithMaxAttempts(n int) *Service {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

// Submit routes, binds and stores a new request.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (req Request, err error) {
	ctx, span := s.tracer.Start(ctx, "workrequest.Submit")
	defer func() { endSpan(span, err) }()

	if err := params.validate(); err != nil {
		return Request{}, err
	}

	now := s.now()
	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	req = Request{
		ID:               s.idGenerator(),
		Kind:             params.Details.Kind(),
		Status:           StatusPending,
		Priority:         priority,
		RequesterID:      params.RequesterID,
		RequesterName:    params.RequesterName,
		RequesterOrg:     params.RequesterOrg,
		TargetOrg:        params.TargetOrg,
		Custodian:        params.Custodian,
		ApproverIDs:      []string{},
		ApproverNames:    []string{},
		ApproverRoles:    []enterprise.Role{},
		VerificationStep: -1,
		Notes:            params.Notes,
		Details:          params.Details.copyDetails(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	span.SetAttributes(attribute.String("workrequest.id", req.ID), attribute.String("workrequest.kind", string(req.Kind)))

	score, err := s.ledger.Score(ctx, req.RequesterID)
	if err != nil {
		return Request{}, fmt.Errorf("workrequest: submit: requester score: %w", err)
	}
	route, err := s.router.Route(req, score)
	if err != nil {
		return Request{}, fmt.Errorf("workrequest: submit: route: %w", err)
	}
	if route.Priority != "" {
		req.Priority = route.Priority
	}

	if route.Panel {
		if err := s.openPanel(ctx, &req); err != nil {
			return Request{}, err
		}
	} else if err := s.bindChain(ctx, &req, route); err != nil {
		return Request{}, err
	}
	if err := req.CheckInvariants(); err != nil {
		return Request{}, err
	}

	if _, err := s.repo.Save(ctx, req); err != nil {
		s.abandon(ctx, req)
		return Request{}, fmt.Errorf("workrequest: submit: save: %w", err)
	}

	s.logger.InfoContext(ctx, "request submitted",
		"request_id", req.ID, "kind", req.Kind, "priority", req.Priority, "chain_length", req.ChainLength())
	if req.CurrentApproverID != "" {
		s.publish(ctx, notify.Fact{
			Topic:       notify.TopicDecisionNeeded,
			RecipientID: req.CurrentApproverID,
			RequestID:   req.ID,
			Payload:     map[string]any{"kind": string(req.Kind), "step": req.ApprovalStep, "priority": string(req.Priority)},
		})
	}
	return req, nil
}

// abandon closes the collaborators Submit opened for a request that was
// never stored.
func (s *Service) abandon(ctx context.Context, req Request) {
	const reason = "request could not be stored"
	if d, ok := req.Details.(MultiEnterpriseDispute); ok && d.DisputeID != "" {
		if err := s.disputes.Withdraw(ctx, d.DisputeID, req.RequesterID, reason); err != nil {
			s.logger.ErrorContext(ctx, "orphaned dispute", "dispute_id", d.DisputeID, "error", err)
		}
	}
	if req.VerificationID != "" {
		if _, err := s.verifications.Expire(ctx, req.VerificationID, reason); err != nil {
			s.logger.ErrorContext(ctx, "orphaned verification", "verification_id", req.VerificationID, "error", err)
		}
	}
}

func (s *Service) openPanel(ctx context.Context, req *Request) error {
	d, ok := req.Details.(MultiEnterpriseDispute)
	if !ok {
		return fmt.Errorf("workrequest: panel route for %s request", req.Kind)
	}
	if s.disputes == nil {
		return fmt.Errorf("workrequest: no dispute engine configured")
	}
	id, err := s.disputes.OpenForRequest(ctx, *req)
	if err != nil {
		return fmt.Errorf("workrequest: open dispute: %w", err)
	}
	d.DisputeID = id
	req.Details = d
	req.Status = StatusInProgress
	return nil
}

func (s *Service) bindChain(ctx context.Context, req *Request, route Route) error {
	if len(route.Steps) == 0 {
		return fmt.Errorf("workrequest: empty approval chain for %s", req.Kind)
	}
	gated := -1
	for i, step := range route.Steps {
		id, name := req.RequesterID, req.RequesterName
		if step.Role != enterprise.RoleRequester {
			approver, err := s.roster.Resolve(ctx, step.Role, step.Org)
			if err != nil {
				return fmt.Errorf("workrequest: bind %s at %s: %w", step.Role, step.Org, err)
			}
			id, name = approver.ID, approver.Name
		}
		req.ApproverIDs = append(req.ApproverIDs, id)
		req.ApproverNames = append(req.ApproverNames, name)
		req.ApproverRoles = append(req.ApproverRoles, step.Role)
		if step.Verification {
			gated = i
		}
	}
	req.ApprovalStep = 0
	req.CurrentApproverID = req.ApproverIDs[0]

	if gated >= 0 {
		v, err := s.verifications.Create(ctx, verification.CreateParams{
			Kind:          route.VerificationKind,
			SubjectUserID: req.RequesterID,
			WorkRequestID: req.ID,
			ItemID:        req.ItemID(),
			ReviewerID:    req.ApproverIDs[gated],
		})
		if err != nil {
			return fmt.Errorf("workrequest: open verification: %w", err)
		}
		req.VerificationID = v.ID
		req.VerificationStep = gated
	}
	return nil
}

// Decide applies an approver's decision. CANCEL is forwarded to Cancel.
func (s *Service) Decide(ctx context.Context, params DecideParams) (updated Request, err error) {
	if params.Decision == DecisionCancel {
		return s.Cancel(ctx, params.RequestID, params.ActorID, params.Notes)
	}
	ctx, span := s.tracer.Start(ctx, "workrequest.Decide", trace.WithAttributes(
		attribute.String("workrequest.id", params.RequestID),
		attribute.String("workrequest.decision", string(params.Decision)),
	))
	defer func() { endSpan(span, err) }()

	if params.Decision != DecisionApprove && params.Decision != DecisionReject {
		return Request{}, apperr.Invalidf("workrequest: unknown decision %q", params.Decision)
	}
	if strings.TrimSpace(params.ActorID) == "" {
		return Request{}, apperr.Invalidf("workrequest: actor id required")
	}

	var step int
	updated, err = s.mutate(ctx, params.RequestID, func(req *Request, now time.Time) error {
		if req.Status.IsTerminal() {
			return ErrClosed
		}
		if req.ApprovalStep >= len(req.ApproverIDs) {
			return ErrNoPendingDecision
		}
		if params.ActorID != req.CurrentApproverID {
			return ErrNotCurrentApprover
		}
		step = req.ApprovalStep

		switch params.Decision {
		case DecisionApprove:
			if step == req.VerificationStep {
				if err := s.requireVerified(ctx, req.VerificationID); err != nil {
					return err
				}
			}
			req.ApprovalStep++
			if req.ApprovalStep == len(req.ApproverIDs) {
				req.Status = StatusApproved
				req.CurrentApproverID = ""
			} else {
				req.Status = StatusInProgress
				req.CurrentApproverID = req.ApproverIDs[req.ApprovalStep]
			}
		case DecisionReject:
			req.Status = StatusRejected
			req.RejectionReason = params.Notes
			req.CompletedAt = &now
		}
		req.History = append(req.History, HistoryEntry{
			ActorID: params.ActorID, Decision: params.Decision, Step: step, Notes: params.Notes, At: now,
		})
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.count(ctx, params.Decision)
	s.logger.InfoContext(ctx, "decision recorded",
		"request_id", updated.ID, "actor_id", params.ActorID, "decision", params.Decision, "step", step, "status", updated.Status)

	switch params.Decision {
	case DecisionApprove:
		if params.ActorID != updated.RequesterID {
			s.award(ctx, params.ActorID, trust.EventApproveRequest, updated, fmt.Sprint(step))
		}
		if updated.Status == StatusApproved {
			s.award(ctx, updated.RequesterID, trust.EventRequestCompleted, updated, fmt.Sprint(step))
			s.publishApproved(ctx, updated)
		} else {
			s.publish(ctx, notify.Fact{
				Topic:       notify.TopicDecisionNeeded,
				RecipientID: updated.CurrentApproverID,
				RequestID:   updated.ID,
				Payload:     map[string]any{"kind": string(updated.Kind), "step": updated.ApprovalStep, "priority": string(updated.Priority)},
			})
		}
	case DecisionReject:
		if params.ActorID != updated.RequesterID {
			s.award(ctx, params.ActorID, trust.EventRejectRequest, updated, fmt.Sprint(step))
		}
		s.award(ctx, updated.RequesterID, trust.EventRequestRejected, updated, fmt.Sprint(step))
	}
	s.publishRecorded(ctx, updated, updated.RequesterID, params.Decision, step)
	return updated, nil
}

// Cancel withdraws a pending or in-progress request on its requester's behalf.
func (s *Service) Cancel(ctx context.Context, requestID, actorID, reason string) (updated Request, err error) {
	ctx, span := s.tracer.Start(ctx, "workrequest.Cancel", trace.WithAttributes(attribute.String("workrequest.id", requestID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(actorID) == "" {
		return Request{}, apperr.Invalidf("workrequest: actor id required")
	}

	var awaiting string
	updated, err = s.mutate(ctx, requestID, func(req *Request, now time.Time) error {
		if req.Status.IsTerminal() {
			return ErrClosed
		}
		if !req.IsRequester(actorID) {
			return ErrNotRequester
		}
		if req.Status != StatusPending && req.Status != StatusInProgress {
			return ErrNotCancellable
		}
		awaiting = req.CurrentApproverID
		req.Status = StatusCancelled
		req.CompletedAt = &now
		req.History = append(req.History, HistoryEntry{
			ActorID: actorID, Decision: DecisionCancel, Step: req.ApprovalStep, Notes: reason, At: now,
		})
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.count(ctx, DecisionCancel)
	s.logger.InfoContext(ctx, "request cancelled", "request_id", updated.ID)
	if d, ok := updated.Details.(MultiEnterpriseDispute); ok && d.DisputeID != "" && s.disputes != nil {
		if err := s.disputes.Withdraw(ctx, d.DisputeID, actorID, reason); err != nil {
			s.logger.ErrorContext(ctx, "dispute withdrawal failed", "request_id", updated.ID, "dispute_id", d.DisputeID, "error", err)
		}
	}
	s.award(ctx, updated.RequesterID, trust.EventRequestCancelled, updated, "cancel")
	if awaiting != "" {
		s.publishRecorded(ctx, updated, awaiting, DecisionCancel, updated.ApprovalStep)
	}
	return updated, nil
}

// Complete closes an approved request once fulfillment is done.
func (s *Service) Complete(ctx context.Context, requestID, actorID string) (updated Request, err error) {
	ctx, span := s.tracer.Start(ctx, "workrequest.Complete", trace.WithAttributes(attribute.String("workrequest.id", requestID)))
	defer func() { endSpan(span, err) }()

	updated, err = s.mutate(ctx, requestID, func(req *Request, now time.Time) error {
		if req.Status.IsTerminal() {
			return ErrClosed
		}
		final := len(req.ApproverIDs) > 0 && actorID == req.ApproverIDs[len(req.ApproverIDs)-1]
		if !req.IsRequester(actorID) && !final {
			return ErrCannotComplete
		}
		if req.Status != StatusApproved {
			return ErrNotApproved
		}
		req.Status = StatusCompleted
		req.CompletedAt = &now
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.logger.InfoContext(ctx, "request completed", "request_id", updated.ID, "actor_id", actorID)
	if updated.Kind == KindItemClaim {
		s.award(ctx, updated.RequesterID, trust.EventSuccessfulClaim, updated, "complete")
	}
	s.publish(ctx, notify.Fact{
		Topic:       notify.TopicDecisionRecorded,
		RecipientID: updated.RequesterID,
		RequestID:   updated.ID,
		Payload:     map[string]any{"status": string(updated.Status)},
	})
	return updated, nil
}

// ApproveByPanel records a dispute panel's verdict on the owning request.
// Repeating the same verdict is a no-op.
func (s *Service) ApproveByPanel(ctx context.Context, requestID, winnerID, notes string) (updated Request, err error) {
	ctx, span := s.tracer.Start(ctx, "workrequest.ApproveByPanel", trace.WithAttributes(attribute.String("workrequest.id", requestID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(winnerID) == "" {
		return Request{}, apperr.Invalidf("workrequest: winner id required")
	}

	changed := false
	updated, err = s.mutate(ctx, requestID, func(req *Request, now time.Time) error {
		d, ok := req.Details.(MultiEnterpriseDispute)
		if !ok {
			return ErrNotDispute
		}
		if req.Status.IsTerminal() {
			return ErrClosed
		}
		if req.Status == StatusApproved {
			if d.WinnerID == winnerID {
				return errNoChange
			}
			return ErrNoPendingDecision
		}
		d.WinnerID = winnerID
		req.Details = d
		req.Status = StatusApproved
		req.History = append(req.History, HistoryEntry{
			ActorID: PanelActor, Decision: DecisionApprove, Step: req.ApprovalStep, Notes: notes, At: now,
		})
		changed = true
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	if changed {
		s.count(ctx, DecisionApprove)
		s.logger.InfoContext(ctx, "dispute request approved", "request_id", updated.ID, "winner_id", winnerID)
		s.publishApproved(ctx, updated)
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns requests matching filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Request, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.FindBy(ctx, filter)
}

// mutate loads the request, applies change, and writes it back under the
// version check. A lost race reloads and re-runs change against the fresh
// state, so every precondition is re-validated by the last writer.
func (s *Service) mutate(ctx context.Context, id string, change func(*Request, time.Time) error) (Request, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		current, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return Request{}, err
		}
		next := current.clone()
		now := s.now()
		if err := change(&next, now); err != nil {
			if errors.Is(err, errNoChange) {
				return current, nil
			}
			return Request{}, err
		}
		if next.Status.rank() < current.Status.rank() {
			return Request{}, fmt.Errorf("workrequest: status would regress from %s to %s", current.Status, next.Status)
		}
		if err := next.CheckInvariants(); err != nil {
			return Request{}, err
		}
		next.UpdatedAt = now

		ok, err := s.repo.Update(ctx, next)
		if err != nil {
			return Request{}, fmt.Errorf("workrequest: update: %w", err)
		}
		if ok {
			next.Version++
			return next, nil
		}
		s.logger.DebugContext(ctx, "stale request version, retrying", "request_id", id, "attempt", attempt+1)
	}
	return Request{}, ErrConflict
}

func (s *Service) requireVerified(ctx context.Context, verificationID string) error {
	if verificationID == "" {
		return ErrVerificationPending
	}
	v, err := s.verifications.Get(ctx, verificationID)
	if err != nil {
		return fmt.Errorf("workrequest: load verification: %w", err)
	}
	if v.Status != verification.StatusVerified {
		return fmt.Errorf("%w (status %s)", ErrVerificationPending, v.Status)
	}
	return nil
}

// award applies a trust event keyed by request, step and kind so a retried
// decision cannot count twice. Failures are logged, never returned.
func (s *Service) award(ctx context.Context, userID string, kind trust.EventKind, req Request, step string) {
	_, err := s.ledger.ApplyEvent(ctx, trust.ApplyParams{
		UserID:    userID,
		Kind:      kind,
		Key:       fmt.Sprintf("request:%s:%s:%s", req.ID, step, kind),
		ItemID:    req.ItemID(),
		RequestID: req.ID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "trust event failed", "request_id", req.ID, "user_id", userID, "kind", kind, "error", err)
	}
}

func (s *Service) publishApproved(ctx context.Context, req Request) {
	payload := map[string]any{"kind": string(req.Kind), "item_id": req.ItemID()}
	if d, ok := req.Details.(MultiEnterpriseDispute); ok {
		payload["winner_id"] = d.WinnerID
		payload["dispute_id"] = d.DisputeID
	}
	if !req.Custodian.IsZero() {
		payload["custodian"] = req.Custodian.String()
	}
	s.publish(ctx, notify.Fact{
		Topic:       notify.TopicRequestApproved,
		RecipientID: req.RequesterID,
		RequestID:   req.ID,
		Payload:     payload,
	})
}

func (s *Service) publishRecorded(ctx context.Context, req Request, recipient string, d Decision, step int) {
	s.publish(ctx, notify.Fact{
		Topic:       notify.TopicDecisionRecorded,
		RecipientID: recipient,
		RequestID:   req.ID,
		Payload:     map[string]any{"decision": string(d), "step": step, "status": string(req.Status)},
	})
}

func (s *Service) publish(ctx context.Context, fact notify.Fact) {
	if fact.OccurredAt.IsZero() {
		fact.OccurredAt = s.now()
	}
	if err := s.notifier.Publish(ctx, fact); err != nil {
		s.logger.WarnContext(ctx, "notification failed", "topic", fact.Topic, "request_id", fact.RequestID, "error", err)
	}
}

func (s *Service) count(ctx context.Context, d Decision) {
	if s.decisions != nil {
		s.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(d))))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
