package main

import (
	"encoding/json"
	"time"

	"claimflow/dispute"
	"claimflow/enterprise"
	"claimflow/sla"
	"claimflow/trust"
	"claimflow/verification"
	"claimflow/workrequest"
)

type approverResponse struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Role enterprise.Role `json:"role"`
}

type slaResponse struct {
	Deadline       string `json:"deadline"`
	HoursRemaining int    `json:"hours_remaining"`
	Overdue        bool   `json:"overdue"`
}

type requestResponse struct {
	ID                string                     `json:"id"`
	Kind              workrequest.Kind           `json:"kind"`
	Status            workrequest.Status         `json:"status"`
	Priority          workrequest.Priority       `json:"priority"`
	RequesterID       string                     `json:"requester_id"`
	RequesterName     string                     `json:"requester_name,omitempty"`
	RequesterOrg      enterprise.Org             `json:"requester_org"`
	RequesterLabel    string                     `json:"requester_label,omitempty"`
	TargetOrg         enterprise.Org             `json:"target_org"`
	TargetLabel       string                     `json:"target_label,omitempty"`
	Custodian         *enterprise.Org            `json:"custodian,omitempty"`
	Approvers         []approverResponse         `json:"approvers"`
	ApprovalStep      int                        `json:"approval_step"`
	CurrentApproverID string                     `json:"current_approver_id,omitempty"`
	VerificationID    string                     `json:"verification_id,omitempty"`
	Notes             string                     `json:"notes,omitempty"`
	RejectionReason   string                     `json:"rejection_reason,omitempty"`
	History           []workrequest.HistoryEntry `json:"history"`
	Details           json.RawMessage            `json:"details"`
	CreatedAt         string                     `json:"created_at"`
	UpdatedAt         string                     `json:"updated_at"`
	CompletedAt       *string                    `json:"completed_at,omitempty"`
	Version           int64                      `json:"version"`
	SLA               *slaResponse               `json:"sla,omitempty"`
}

func toRequestResponse(req workrequest.Request, tracker *sla.Tracker) requestResponse {
	approvers := make([]approverResponse, len(req.ApproverIDs))
	for i := range req.ApproverIDs {
		approvers[i] = approverResponse{ID: req.ApproverIDs[i], Name: req.ApproverNames[i], Role: req.ApproverRoles[i]}
	}
	history := req.History
	if history == nil {
		history = []workrequest.HistoryEntry{}
	}
	resp := requestResponse{
		ID:                req.ID,
		Kind:              req.Kind,
		Status:            req.Status,
		Priority:          req.Priority,
		RequesterID:       req.RequesterID,
		RequesterName:     req.RequesterName,
		RequesterOrg:      req.RequesterOrg,
		RequesterLabel:    enterprise.DisplayLabel(req.RequesterOrg.Name),
		TargetOrg:         req.TargetOrg,
		TargetLabel:       enterprise.DisplayLabel(req.TargetOrg.Name),
		Approvers:         approvers,
		ApprovalStep:      req.ApprovalStep,
		CurrentApproverID: req.CurrentApproverID,
		VerificationID:    req.VerificationID,
		Notes:             req.Notes,
		RejectionReason:   req.RejectionReason,
		History:           history,
		CreatedAt:         formatTime(req.CreatedAt),
		UpdatedAt:         formatTime(req.UpdatedAt),
		CompletedAt:       formatOptional(req.CompletedAt),
		Version:           req.Version,
	}
	if !req.Custodian.IsZero() {
		custodian := req.Custodian
		resp.Custodian = &custodian
	}
	if _, raw, err := workrequest.EncodeDetails(req.Details); err == nil {
		resp.Details = raw
	}
	if tracker != nil {
		resp.SLA = &slaResponse{
			Deadline:       formatTime(tracker.Deadline(req)),
			HoursRemaining: tracker.HoursUntil(req),
			Overdue:        tracker.IsOverdue(req),
		}
	}
	return resp
}

type scoreResponse struct {
	UserID               string      `json:"user_id"`
	Score                int         `json:"score"`
	Level                trust.Level `json:"level"`
	TotalEvents          int         `json:"total_events"`
	IsFlagged            bool        `json:"is_flagged"`
	FlagReason           string      `json:"flag_reason,omitempty"`
	IsUnderInvestigation bool        `json:"is_under_investigation"`
	CanSkipVerification  bool        `json:"can_skip_verification"`
	RequiresVerification bool        `json:"requires_verification"`
	CanClaimHighValue    bool        `json:"can_claim_high_value"`
	IsLowTrust           bool        `json:"is_low_trust"`
}

func toScoreResponse(s trust.Score) scoreResponse {
	return scoreResponse{
		UserID:               s.UserID,
		Score:                s.CurrentScore,
		Level:                s.Level(),
		TotalEvents:          s.TotalEvents,
		IsFlagged:            s.IsFlagged,
		FlagReason:           s.FlagReason,
		IsUnderInvestigation: s.IsUnderInvestigation,
		CanSkipVerification:  s.CanSkipVerification(),
		RequiresVerification: s.RequiresVerification(),
		CanClaimHighValue:    s.CanClaimHighValueItem(),
		IsLowTrust:           s.IsLowTrust(),
	}
}

type eventResponse struct {
	ID            string          `json:"id"`
	Kind          trust.EventKind `json:"kind"`
	Points        int             `json:"points"`
	PreviousScore int             `json:"previous_score"`
	NewScore      int             `json:"new_score"`
	RequestID     string          `json:"request_id,omitempty"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

func toEventResponse(e trust.Event) eventResponse {
	return eventResponse{
		ID:            e.ID,
		Kind:          e.Kind,
		Points:        e.Points,
		PreviousScore: e.PreviousScore,
		NewScore:      e.NewScore,
		RequestID:     e.RequestID,
		Note:          e.Note,
		CreatedAt:     formatTime(e.CreatedAt),
	}
}

type claimantResponse struct {
	UserID     string         `json:"user_id"`
	Org        enterprise.Org `json:"org"`
	TrustScore int            `json:"trust_score"`
	Votes      int            `json:"votes"`
}

type memberResponse struct {
	MemberID string         `json:"member_id"`
	Org      enterprise.Org `json:"org"`
	HasVoted bool           `json:"has_voted"`
}

type evidenceResponse struct {
	ID          string                 `json:"id"`
	SubmittedBy string                 `json:"submitted_by"`
	ClaimantID  string                 `json:"claimant_id"`
	Description string                 `json:"description"`
	Reference   string                 `json:"reference,omitempty"`
	Status      dispute.EvidenceStatus `json:"status"`
	VerifiedBy  string                 `json:"verified_by,omitempty"`
	SubmittedAt string                 `json:"submitted_at"`
}

type disputeResponse struct {
	ID                string             `json:"id"`
	WorkRequestID     string             `json:"work_request_id"`
	ItemID            string             `json:"item_id"`
	Status            dispute.Status     `json:"status"`
	Claimants         []claimantResponse `json:"claimants"`
	Panel             []memberResponse   `json:"panel"`
	Evidence          []evidenceResponse `json:"evidence"`
	VotesRequired     int                `json:"votes_required"`
	VotesReceived     int                `json:"votes_received"`
	WinningClaimantID string             `json:"winning_claimant_id,omitempty"`
	ResolvedBy        string             `json:"resolved_by,omitempty"`
	ResolvedAt        *string            `json:"resolved_at,omitempty"`
	Version           int64              `json:"version"`
}

// Ballots stay secret until the dispute closes; only the per-claimant
// tally is exposed before then.
func toDisputeResponse(d dispute.Dispute) disputeResponse {
	tally := d.Tally()
	claimants := make([]claimantResponse, len(d.Claimants))
	for i, c := range d.Claimants {
		claimants[i] = claimantResponse{UserID: c.UserID, Org: c.Org, TrustScore: c.TrustScore, Votes: tally[c.UserID]}
	}
	panel := make([]memberResponse, len(d.Panel))
	for i, m := range d.Panel {
		panel[i] = memberResponse{MemberID: m.MemberID, Org: m.Org, HasVoted: m.HasVoted}
	}
	evidence := make([]evidenceResponse, len(d.Evidence))
	for i, e := range d.Evidence {
		evidence[i] = toEvidenceResponse(e)
	}
	return disputeResponse{
		ID:                d.ID,
		WorkRequestID:     d.WorkRequestID,
		ItemID:            d.ItemID,
		Status:            d.Status,
		Claimants:         claimants,
		Panel:             panel,
		Evidence:          evidence,
		VotesRequired:     d.PanelVotesRequired,
		VotesReceived:     d.PanelVotesReceived,
		WinningClaimantID: d.WinningClaimantID,
		ResolvedBy:        d.ResolvedBy,
		ResolvedAt:        formatOptional(d.ResolvedAt),
		Version:           d.Version,
	}
}

func toEvidenceResponse(e dispute.Evidence) evidenceResponse {
	return evidenceResponse{
		ID:          e.ID,
		SubmittedBy: e.SubmittedBy,
		ClaimantID:  e.ClaimantID,
		Description: e.Description,
		Reference:   e.Reference,
		Status:      e.Status,
		VerifiedBy:  e.VerifiedBy,
		SubmittedAt: formatTime(e.SubmittedAt),
	}
}

type verificationResponse struct {
	ID            string              `json:"id"`
	Kind          verification.Kind   `json:"kind"`
	Status        verification.Status `json:"status"`
	SubjectUserID string              `json:"subject_user_id"`
	WorkRequestID string              `json:"work_request_id,omitempty"`
	ReviewerID    string              `json:"reviewer_id,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	ExpiresAt     string              `json:"expires_at"`
	DecidedAt     *string             `json:"decided_at,omitempty"`
}

func toVerificationResponse(v verification.Request) verificationResponse {
	return verificationResponse{
		ID:            v.ID,
		Kind:          v.Kind,
		Status:        v.Status,
		SubjectUserID: v.SubjectUserID,
		WorkRequestID: v.WorkRequestID,
		ReviewerID:    v.ReviewerID,
		Notes:         v.Notes,
		ExpiresAt:     formatTime(v.ExpiresAt),
		DecidedAt:     formatOptional(v.DecidedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
