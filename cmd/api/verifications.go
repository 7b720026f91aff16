package main

import (
	"net/http"

	"claimflow/verification"
)

func (s *Server) handleListVerifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	filter := verification.Filter{
		SubjectUserID: q.Get("subject_user_id"),
		WorkRequestID: q.Get("work_request_id"),
		Limit:         limit,
	}
	if status := q.Get("status"); status != "" {
		filter.Statuses = []verification.Status{verification.Status(status)}
	}
	reqs, err := s.verifications.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]verificationResponse, 0, len(reqs))
	for _, v := range reqs {
		items = append(items, toVerificationResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := s.verifications.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerificationResponse(v))
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, func(id, reviewerID, _ string) (verification.Request, error) {
		return s.verifications.StartReview(r.Context(), id, reviewerID)
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, func(id, reviewerID, notes string) (verification.Request, error) {
		return s.verifications.Verify(r.Context(), id, reviewerID, notes)
	})
}

func (s *Server) handleRejectVerification(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, func(id, reviewerID, reason string) (verification.Request, error) {
		return s.verifications.Reject(r.Context(), id, reviewerID, reason)
	})
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) review(w http.ResponseWriter, r *http.Request, step func(id, reviewerID, notes string) (verification.Request, error)) {
	actor, _ := actorFrom(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body reviewRequest
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
			return
		}
	}
	v, err := step(id, actor.ID, body.Notes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerificationResponse(v))
}
