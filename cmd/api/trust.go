package main

import (
	"net/http"
	"strings"

	"claimflow/trust"
)

func (s *Server) handleTrustScore(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	score, err := s.trust.Score(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScoreResponse(score))
}

func (s *Server) handleTrustEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	events, err := s.trust.Events(r.Context(), userID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]eventResponse, 0, len(events))
	for _, e := range events {
		items = append(items, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type applyEventRequest struct {
	Kind      trust.EventKind `json:"kind"`
	Points    *int            `json:"points"`
	Key       string          `json:"key"`
	ItemID    string          `json:"item_id"`
	RequestID string          `json:"request_id"`
	Note      string          `json:"note"`
}

func (s *Server) handleApplyTrustEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var body applyEventRequest
	if err := readJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	res, err := s.trust.ApplyEvent(r.Context(), trust.ApplyParams{
		UserID:    userID,
		Kind:      trust.EventKind(strings.ToUpper(string(body.Kind))),
		Points:    body.Points,
		Key:       body.Key,
		ItemID:    body.ItemID,
		RequestID: body.RequestID,
		Note:      body.Note,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"score":    toScoreResponse(res.Score),
		"replayed": res.Replayed,
	})
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	s.changeStanding(w, r, func(userID, reason string) (trust.Score, error) {
		return s.trust.Flag(r.Context(), userID, reason)
	})
}

func (s *Server) handleClearFlag(w http.ResponseWriter, r *http.Request) {
	s.changeStanding(w, r, func(userID, _ string) (trust.Score, error) {
		return s.trust.ClearFlag(r.Context(), userID)
	})
}

func (s *Server) handleStartInvestigation(w http.ResponseWriter, r *http.Request) {
	s.changeStanding(w, r, func(userID, reason string) (trust.Score, error) {
		return s.trust.StartInvestigation(r.Context(), userID, reason)
	})
}

func (s *Server) handleEndInvestigation(w http.ResponseWriter, r *http.Request) {
	s.changeStanding(w, r, func(userID, _ string) (trust.Score, error) {
		return s.trust.EndInvestigation(r.Context(), userID)
	})
}

func (s *Server) changeStanding(w http.ResponseWriter, r *http.Request, change func(userID, reason string) (trust.Score, error)) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var body reasonRequest
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
			return
		}
	}
	score, err := change(userID, body.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScoreResponse(score))
}
