package main

import (
	"net/http"

	"claimflow/dispute"
)

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	q := r.URL.Query()
	limit, err := queryLimit(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	filter := dispute.Filter{
		WorkRequestID: q.Get("work_request_id"),
		MemberID:      q.Get("member_id"),
		Limit:         limit,
	}
	if q.Get("mine") == "true" {
		filter.MemberID = actor.ID
	}
	if status := q.Get("status"); status != "" {
		filter.Statuses = []dispute.Status{dispute.Status(status)}
	}
	disputes, err := s.disputes.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]disputeResponse, 0, len(disputes))
	for _, d := range disputes {
		items = append(items, toDisputeResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	d, err := s.disputes.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

type voteRequest struct {
	ClaimantID string `json:"claimant_id"`
	Reason     string `json:"reason"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body voteRequest
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	d, err := s.disputes.CastVote(r.Context(), dispute.VoteParams{
		DisputeID:  id,
		MemberID:   actor.ID,
		ClaimantID: body.ClaimantID,
		Reason:     body.Reason,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

type evidenceRequest struct {
	ClaimantID  string `json:"claimant_id"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

func (s *Server) handleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body evidenceRequest
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	ev, err := s.disputes.SubmitEvidence(r.Context(), dispute.EvidenceParams{
		DisputeID:   id,
		SubmittedBy: actor.ID,
		ClaimantID:  body.ClaimantID,
		Description: body.Description,
		Reference:   body.Reference,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEvidenceResponse(ev))
}

type verifyEvidenceRequest struct {
	Verified bool   `json:"verified"`
	Notes    string `json:"notes"`
}

func (s *Server) handleVerifyEvidence(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	evidenceID, ok := pathID(w, r, "eid")
	if !ok {
		return
	}
	var body verifyEvidenceRequest
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	ev, err := s.disputes.VerifyEvidence(r.Context(), dispute.VerifyEvidenceParams{
		DisputeID:  id,
		EvidenceID: evidenceID,
		MemberID:   actor.ID,
		Verified:   body.Verified,
		Notes:      body.Notes,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvidenceResponse(ev))
}

type resolveRequest struct {
	WinnerID string `json:"winner_id"`
	Notes    string `json:"notes"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body resolveRequest
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	d, err := s.disputes.ResolveManually(r.Context(), id, actor.ID, body.WinnerID, body.Notes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}
