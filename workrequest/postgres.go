package workrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"claimflow/apperr"
	"claimflow/enterprise"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUndecodable marks a stored row whose kind tag or JSON payload cannot be
// rebuilt into a Request.
var ErrUndecodable = errors.New("workrequest: undecodable row")

// PGRepository implements Repository on the work_requests table. Details are
// stored as JSONB next to their kind tag.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, kind, status, priority, requester_id, requester_name, requester_org,
	target_org, custodian_org, approver_ids, approver_names, approver_roles, approval_step,
	current_approver_id, verification_step, verification_id, notes, rejection_reason, history,
	details, created_at, updated_at, completed_at, version`

func (r *PGRepository) Save(ctx context.Context, req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	row, err := toRow(req)
	if err != nil {
		return "", err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO work_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, row.args()...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrDuplicate
		}
		return "", apperr.Persistence("workrequest: insert", err)
	}
	return req.ID, nil
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM work_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, wrapScan("workrequest: find by id", err)
	}
	return req, nil
}

func (r *PGRepository) FindBy(ctx context.Context, filter Filter) ([]Request, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if filter.RequesterID != "" {
		add("requester_id = $%d", filter.RequesterID)
	}
	if filter.ApproverID != "" {
		add("current_approver_id = $%d", filter.ApproverID)
	}
	if filter.ItemID != "" {
		add("details->>'item_id' = $%d", filter.ItemID)
	}

	query := `SELECT ` + requestColumns + ` FROM work_requests`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence("workrequest: find by", err)
	}
	defer rows.Close()

	out := make([]Request, 0, 16)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, wrapScan("workrequest: scan", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("workrequest: iterate", err)
	}
	return out, nil
}

func (r *PGRepository) Update(ctx context.Context, req Request) (bool, error) {
	row, err := toRow(req)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE work_requests
		SET status = $2,
		    priority = $3,
		    approver_ids = $4,
		    approver_names = $5,
		    approver_roles = $6,
		    approval_step = $7,
		    current_approver_id = $8,
		    verification_step = $9,
		    verification_id = $10,
		    notes = $11,
		    rejection_reason = $12,
		    history = $13,
		    details = $14,
		    updated_at = $15,
		    completed_at = $16,
		    version = version + 1
		WHERE id = $1 AND version = $17
	`, req.ID, row.status, row.priority, row.approverIDs, row.approverNames, row.approverRoles,
		row.approvalStep, row.currentApproverID, row.verificationStep, row.verificationID,
		row.notes, row.rejectionReason, row.history, row.details, row.updatedAt, row.completedAt, req.Version)
	if err != nil {
		return false, apperr.Persistence("workrequest: update", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM work_requests WHERE id = $1)`, req.ID).Scan(&exists); err != nil {
		return false, apperr.Persistence("workrequest: update check", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM work_requests WHERE id = $1`, id)
	if err != nil {
		return false, apperr.Persistence("workrequest: delete", err)
	}
	return tag.RowsAffected() == 1, nil
}

// requestRow is the column-level shape of a request.
type requestRow struct {
	id                string
	kind              string
	status            string
	priority          string
	requesterID       string
	requesterName     string
	requesterOrg      []byte
	targetOrg         []byte
	custodianOrg      []byte
	approverIDs       []string
	approverNames     []string
	approverRoles     []string
	approvalStep      int
	currentApproverID *string
	verificationStep  int
	verificationID    *string
	notes             string
	rejectionReason   string
	history           []byte
	details           []byte
	createdAt         time.Time
	updatedAt         time.Time
	completedAt       *time.Time
	version           int64
}

func (row requestRow) args() []any {
	return []any{
		row.id, row.kind, row.status, row.priority, row.requesterID, row.requesterName,
		row.requesterOrg, row.targetOrg, row.custodianOrg, row.approverIDs, row.approverNames,
		row.approverRoles, row.approvalStep, row.currentApproverID, row.verificationStep,
		row.verificationID, row.notes, row.rejectionReason, row.history, row.details,
		row.createdAt, row.updatedAt, row.completedAt, row.version,
	}
}

func toRow(req Request) (requestRow, error) {
	kind, details, err := EncodeDetails(req.Details)
	if err != nil {
		return requestRow{}, err
	}
	if kind != req.Kind {
		return requestRow{}, fmt.Errorf("workrequest: details kind %s does not match request kind %s", kind, req.Kind)
	}
	row := requestRow{
		id:                req.ID,
		kind:              string(req.Kind),
		status:            string(req.Status),
		priority:          string(req.Priority),
		requesterID:       req.RequesterID,
		requesterName:     req.RequesterName,
		approverIDs:       nonNil(req.ApproverIDs),
		approverNames:     nonNil(req.ApproverNames),
		approverRoles:     make([]string, len(req.ApproverRoles)),
		approvalStep:      req.ApprovalStep,
		currentApproverID: optional(req.CurrentApproverID),
		verificationStep:  req.VerificationStep,
		verificationID:    optional(req.VerificationID),
		notes:             req.Notes,
		rejectionReason:   req.RejectionReason,
		details:           details,
		createdAt:         req.CreatedAt,
		updatedAt:         req.UpdatedAt,
		completedAt:       req.CompletedAt,
		version:           req.Version,
	}
	for i, role := range req.ApproverRoles {
		row.approverRoles[i] = string(role)
	}
	for _, pair := range []struct {
		dst *[]byte
		org enterprise.Org
	}{
		{&row.requesterOrg, req.RequesterOrg},
		{&row.targetOrg, req.TargetOrg},
		{&row.custodianOrg, req.Custodian},
	} {
		raw, err := json.Marshal(pair.org)
		if err != nil {
			return requestRow{}, fmt.Errorf("workrequest: encode org: %w", err)
		}
		*pair.dst = raw
	}
	history := req.History
	if history == nil {
		history = []HistoryEntry{}
	}
	if row.history, err = json.Marshal(history); err != nil {
		return requestRow{}, fmt.Errorf("workrequest: encode history: %w", err)
	}
	return row, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req                                   Request
		kind, status, priority                string
		requesterOrg, targetOrg, custodianOrg []byte
		roles                                 []string
		currentApprover, verificationID       *string
		history, details                      []byte
	)
	err := row.Scan(
		&req.ID, &kind, &status, &priority, &req.RequesterID, &req.RequesterName,
		&requesterOrg, &targetOrg, &custodianOrg,
		&req.ApproverIDs, &req.ApproverNames, &roles, &req.ApprovalStep,
		&currentApprover, &req.VerificationStep, &verificationID,
		&req.Notes, &req.RejectionReason, &history, &details,
		&req.CreatedAt, &req.UpdatedAt, &req.CompletedAt, &req.Version,
	)
	if err != nil {
		return Request{}, err
	}

	req.Kind = Kind(kind)
	req.Status = Status(status)
	req.Priority = Priority(priority)
	if currentApprover != nil {
		req.CurrentApproverID = *currentApprover
	}
	if verificationID != nil {
		req.VerificationID = *verificationID
	}
	req.ApproverRoles = make([]enterprise.Role, len(roles))
	for i, role := range roles {
		req.ApproverRoles[i] = enterprise.Role(role)
	}
	for _, pair := range []struct {
		raw []byte
		dst *enterprise.Org
	}{
		{requesterOrg, &req.RequesterOrg},
		{targetOrg, &req.TargetOrg},
		{custodianOrg, &req.Custodian},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return Request{}, fmt.Errorf("%w: org: %v", ErrUndecodable, err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &req.History); err != nil {
			return Request{}, fmt.Errorf("%w: history: %v", ErrUndecodable, err)
		}
	}
	if req.Details, err = DecodeDetails(req.Kind, details); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return req, nil
}

// wrapScan keeps decode failures distinct from driver failures.
func wrapScan(op string, err error) error {
	if errors.Is(err, ErrUndecodable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperr.Persistence(op, err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
