package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"claimflow/notify"
	"claimflow/sla"
	"claimflow/verification"
	"claimflow/workrequest"
)

type verificationExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) ([]verification.Request, error)
}

// maxListPage is the largest page workrequest.Service.List honors.
const maxListPage = 500

type requestLister interface {
	List(ctx context.Context, filter workrequest.Filter) ([]workrequest.Request, error)
}

type resolutionReplayer interface {
	ReplayResolutions(ctx context.Context, pageSize int) (int, error)
}

type outboxRelay interface {
	Relay(ctx context.Context, target notify.Notifier, limit int) (int, error)
}

// Report summarizes one sweep.
type Report struct {
	Expired  int
	Overdue  int
	Replayed int
	Relayed  int
}

// sweeper runs the periodic maintenance the core leaves to an external job.
// Each step is independent; a failing step does not stop the others.
type sweeper struct {
	verifications verificationExpirer
	requests      requestLister
	tracker       *sla.Tracker
	disputes      resolutionReplayer
	outbox        outboxRelay
	relayTarget   notify.Notifier
	alerts        notify.Notifier
	batch         int
	now           func() time.Time
	logger        *slog.Logger
}

func (s *sweeper) run(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   []error
		err    error
	)

	if report.Expired, err = s.expire(ctx); err != nil {
		errs = append(errs, err)
	}
	if report.Overdue, err = s.overdue(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.disputes != nil {
		if report.Replayed, err = s.disputes.ReplayResolutions(ctx, s.batch); err != nil {
			errs = append(errs, fmt.Errorf("sweeper: replay resolutions: %w", err))
		}
	}
	if s.outbox != nil && s.relayTarget != nil {
		if report.Relayed, err = s.outbox.Relay(ctx, s.relayTarget, s.batch); err != nil {
			errs = append(errs, fmt.Errorf("sweeper: relay outbox: %w", err))
		}
	}

	s.logger.InfoContext(ctx, "sweep finished",
		"expired", report.Expired, "overdue", report.Overdue, "replayed", report.Replayed, "relayed", report.Relayed)
	return report, errors.Join(errs...)
}

func (s *sweeper) expire(ctx context.Context) (int, error) {
	if s.verifications == nil {
		return 0, nil
	}
	expired, err := s.verifications.ExpireOverdue(ctx, s.now())
	for _, v := range expired {
		s.logger.InfoContext(ctx, "verification expired", "verification_id", v.ID, "request_id", v.WorkRequestID)
	}
	if err != nil {
		return len(expired), fmt.Errorf("sweeper: expire verifications: %w", err)
	}
	return len(expired), nil
}

// overdue reports active requests past their SLA deadline to the current
// approver. The tracker never changes request state.
func (s *sweeper) overdue(ctx context.Context) (int, error) {
	if s.requests == nil || s.tracker == nil {
		return 0, nil
	}
	active, err := s.active(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list active requests: %w", err)
	}
	late := s.tracker.Overdue(active)
	for _, req := range late {
		hours := s.tracker.HoursUntil(req)
		s.logger.WarnContext(ctx, "request overdue",
			"request_id", req.ID, "kind", req.Kind, "priority", req.Priority, "hours_overdue", -hours, "approver_id", req.CurrentApproverID)
		if s.alerts == nil {
			continue
		}
		recipient := req.CurrentApproverID
		if recipient == "" {
			recipient = req.RequesterID
		}
		fact := notify.Fact{
			Topic:       notify.TopicSLABreached,
			RecipientID: recipient,
			RequestID:   req.ID,
			Payload:     map[string]any{"kind": string(req.Kind), "priority": string(req.Priority), "hours_overdue": -hours},
			OccurredAt:  s.now(),
		}
		if err := s.alerts.Publish(ctx, fact); err != nil {
			s.logger.ErrorContext(ctx, "sla alert failed", "request_id", req.ID, "error", err)
		}
	}
	return len(late), nil
}

// active pages through every active request. List returns newest first, so
// the oldest requests, the ones most likely overdue, sit on the last page.
func (s *sweeper) active(ctx context.Context) ([]workrequest.Request, error) {
	size := s.batch
	if size <= 0 || size > maxListPage {
		size = maxListPage
	}
	var (
		out  []workrequest.Request
		seen = make(map[string]struct{})
	)
	for offset := 0; ; offset += size {
		page, err := s.requests.List(ctx, workrequest.Filter{Statuses: workrequest.ActiveStatuses, Limit: size, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, req := range page {
			// Requests submitted mid-scan push earlier rows onto the next page.
			if _, dup := seen[req.ID]; dup {
				continue
			}
			seen[req.ID] = struct{}{}
			out = append(out, req)
		}
		if len(page) < size {
			return out, nil
		}
	}
}
