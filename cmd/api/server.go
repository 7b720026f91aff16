package main

import (
	"context"
	"log/slog"
	"net/http"

	"claimflow/auth"
	"claimflow/dispute"
	"claimflow/sla"
	"claimflow/trust"
	"claimflow/verification"
	"claimflow/workrequest"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type requestService interface {
	Submit(ctx context.Context, params workrequest.SubmitParams) (workrequest.Request, error)
	Decide(ctx context.Context, params workrequest.DecideParams) (workrequest.Request, error)
	Cancel(ctx context.Context, requestID, actorID, reason string) (workrequest.Request, error)
	Complete(ctx context.Context, requestID, actorID string) (workrequest.Request, error)
	Get(ctx context.Context, id string) (workrequest.Request, error)
	List(ctx context.Context, filter workrequest.Filter) ([]workrequest.Request, error)
}

type trustService interface {
	Score(ctx context.Context, userID string) (trust.Score, error)
	Events(ctx context.Context, userID string, limit int) ([]trust.Event, error)
	ApplyEvent(ctx context.Context, params trust.ApplyParams) (trust.ApplyResult, error)
	Flag(ctx context.Context, userID, reason string) (trust.Score, error)
	ClearFlag(ctx context.Context, userID string) (trust.Score, error)
	StartInvestigation(ctx context.Context, userID, reason string) (trust.Score, error)
	EndInvestigation(ctx context.Context, userID string) (trust.Score, error)
}

type disputeService interface {
	Get(ctx context.Context, id string) (dispute.Dispute, error)
	List(ctx context.Context, filter dispute.Filter) ([]dispute.Dispute, error)
	CastVote(ctx context.Context, params dispute.VoteParams) (dispute.Dispute, error)
	SubmitEvidence(ctx context.Context, params dispute.EvidenceParams) (dispute.Evidence, error)
	VerifyEvidence(ctx context.Context, params dispute.VerifyEvidenceParams) (dispute.Evidence, error)
	ResolveManually(ctx context.Context, disputeID, adminID, winnerID, notes string) (dispute.Dispute, error)
}

type verificationService interface {
	Get(ctx context.Context, id string) (verification.Request, error)
	List(ctx context.Context, filter verification.Filter) ([]verification.Request, error)
	StartReview(ctx context.Context, id, reviewerID string) (verification.Request, error)
	Verify(ctx context.Context, id, reviewerID, notes string) (verification.Request, error)
	Reject(ctx context.Context, id, reviewerID, reason string) (verification.Request, error)
}

// Server exposes the core services over HTTP. Every /api route requires a
// bearer token; the token's subject is the acting identity.
type Server struct {
	tokens        *auth.Service
	requests      requestService
	trust         trustService
	disputes      disputeService
	verifications verificationService
	sla           *sla.Tracker
	limiter       *actorLimiter
	logger        *slog.Logger
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Use(s.limiter.middleware)

		api.Route("/requests", func(rr chi.Router) {
			rr.Post("/", s.handleSubmit)
			rr.Get("/", s.handleListRequests)
			rr.Get("/{id}", s.handleGetRequest)
			rr.Post("/{id}/decisions", s.handleDecide)
			rr.Post("/{id}/cancel", s.handleCancel)
			rr.Post("/{id}/complete", s.handleComplete)
		})

		api.Route("/trust/{userID}", func(tr chi.Router) {
			tr.Get("/", s.handleTrustScore)
			tr.Get("/events", s.handleTrustEvents)
			tr.Group(func(admin chi.Router) {
				admin.Use(requireAdmin)
				admin.Post("/", s.handleApplyTrustEvent)
				admin.Post("/flag", s.handleFlag)
				admin.Delete("/flag", s.handleClearFlag)
				admin.Post("/investigation", s.handleStartInvestigation)
				admin.Delete("/investigation", s.handleEndInvestigation)
			})
		})

		api.Route("/disputes", func(dr chi.Router) {
			dr.Get("/", s.handleListDisputes)
			dr.Get("/{id}", s.handleGetDispute)
			dr.Post("/{id}/votes", s.handleVote)
			dr.Post("/{id}/evidence", s.handleSubmitEvidence)
			dr.Post("/{id}/evidence/{eid}/verify", s.handleVerifyEvidence)
			dr.With(requireAdmin).Post("/{id}/resolve", s.handleResolve)
		})

		api.Route("/verifications", func(vr chi.Router) {
			vr.Get("/", s.handleListVerifications)
			vr.Get("/{id}", s.handleGetVerification)
			vr.Post("/{id}/review", s.handleStartReview)
			vr.Post("/{id}/verify", s.handleVerify)
			vr.Post("/{id}/reject", s.handleRejectVerification)
		})
	})
	return r
}
