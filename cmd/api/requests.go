package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"claimflow/apperr"
	"claimflow/enterprise"
	"claimflow/workrequest"

	"github.com/go-chi/chi/v5"
)

type submitRequest struct {
	Kind      workrequest.Kind     `json:"kind"`
	Priority  workrequest.Priority `json:"priority"`
	TargetOrg enterprise.Org       `json:"target_org"`
	Custodian enterprise.Org       `json:"custodian"`
	Notes     string               `json:"notes"`
	Details   json.RawMessage      `json:"details"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	var body submitRequest
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	if !body.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "VALIDATION", "unknown request kind")
		return
	}
	details, err := workrequest.DecodeDetails(body.Kind, body.Details)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}

	req, err := s.requests.Submit(r.Context(), workrequest.SubmitParams{
		RequesterID:   actor.ID,
		RequesterName: actor.Name,
		RequesterOrg:  actor.Org,
		TargetOrg:     body.TargetOrg,
		Custodian:     body.Custodian,
		Priority:      body.Priority,
		Notes:         body.Notes,
		Details:       details,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(req, s.sla))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	filter := workrequest.Filter{
		Kind:        workrequest.Kind(q.Get("kind")),
		RequesterID: q.Get("requester_id"),
		ApproverID:  q.Get("approver_id"),
		ItemID:      q.Get("item_id"),
		Limit:       limit,
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "VALIDATION", "unknown request kind")
		return
	}
	switch status := q.Get("status"); status {
	case "":
	case "active":
		filter.Statuses = workrequest.ActiveStatuses
	default:
		for _, st := range strings.Split(status, ",") {
			filter.Statuses = append(filter.Statuses, workrequest.Status(strings.ToUpper(strings.TrimSpace(st))))
		}
	}

	reqs, err := s.requests.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]requestResponse, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, toRequestResponse(req, s.sla))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req, s.sla))
}

type decisionRequest struct {
	Decision workrequest.Decision `json:"decision"`
	Notes    string               `json:"notes"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var body decisionRequest
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	req, err := s.requests.Decide(r.Context(), workrequest.DecideParams{
		RequestID: chi.URLParam(r, "id"),
		ActorID:   actor.ID,
		Decision:  workrequest.Decision(strings.ToUpper(string(body.Decision))),
		Notes:     body.Notes,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req, s.sla))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var body reasonRequest
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
			return
		}
	}
	req, err := s.requests.Cancel(r.Context(), chi.URLParam(r, "id"), actor.ID, body.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req, s.sla))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	req, err := s.requests.Complete(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req, s.sla))
}

// pathID returns the named URL parameter or writes a 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, name))
	if id == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", apperr.Invalidf("%s required", name).Error())
		return "", false
	}
	return id, true
}
