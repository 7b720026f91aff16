package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"claimflow/apperr"
	"claimflow/enterprise"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = apperr.Kind(apperr.ErrNotFound, "dispute: not found")
	ErrDuplicate = errors.New("dispute: duplicate dispute for request")
)

// Repository persists disputes as whole aggregates under a version check.
type Repository interface {
	Save(ctx context.Context, d Dispute) (string, error)
	FindByID(ctx context.Context, id string) (Dispute, error)
	FindBy(ctx context.Context, filter Filter) ([]Dispute, error)
	Update(ctx context.Context, d Dispute) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]Dispute
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Dispute)}
}

func (m *MemoryRepository) Save(_ context.Context, d Dispute) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	for _, existing := range m.rows {
		if existing.ID == d.ID || existing.WorkRequestID == d.WorkRequestID {
			return "", ErrDuplicate
		}
	}
	m.rows[d.ID] = d.clone()
	return d.ID, nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id string) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return d.clone(), nil
}

func (m *MemoryRepository) FindBy(_ context.Context, filter Filter) ([]Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Dispute, 0, len(m.rows))
	for _, d := range m.rows {
		if filter.matches(d) {
			out = append(out, d.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return out[:0], nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) Update(_ context.Context, d Dispute) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[d.ID]
	if !ok {
		return false, ErrNotFound
	}
	if stored.Version != d.Version {
		return false, nil
	}
	d = d.clone()
	d.Version++
	m.rows[d.ID] = d
	return true, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

// PGRepository stores disputes in the disputes table with claimants, panel
// and evidence as JSONB.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, work_request_id, item_id, claimants, panel, evidence, panel_votes_required,
	panel_votes_received, resolution_status, winning_claimant_id, resolved_by, resolution_notes,
	created_at, updated_at, resolved_at, version`

func (r *PGRepository) Save(ctx context.Context, d Dispute) (string, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	claimants, panel, evidence, err := encodeParts(d)
	if err != nil {
		return "", err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO disputes (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, d.ID, d.WorkRequestID, d.ItemID, claimants, panel, evidence, d.PanelVotesRequired,
		d.PanelVotesReceived, string(d.Status), d.WinningClaimantID, d.ResolvedBy, d.ResolutionNotes,
		d.CreatedAt, d.UpdatedAt, d.ResolvedAt, d.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrDuplicate
		}
		return "", apperr.Persistence("dispute: insert", err)
	}
	return d.ID, nil
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (Dispute, error) {
	d, err := scanDispute(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM disputes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, apperr.Persistence("dispute: find by id", err)
	}
	return d, nil
}

func (r *PGRepository) FindBy(ctx context.Context, filter Filter) ([]Dispute, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("resolution_status = ANY($%d)", statuses)
	}
	if filter.WorkRequestID != "" {
		add("work_request_id = $%d", filter.WorkRequestID)
	}
	if filter.MemberID != "" {
		member, err := json.Marshal([]map[string]string{{"member_id": filter.MemberID}})
		if err != nil {
			return nil, fmt.Errorf("dispute: encode member filter: %w", err)
		}
		add("panel @> $%d::jsonb", member)
	}

	query := `SELECT ` + columns + ` FROM disputes`
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
		return nil, apperr.Persistence("dispute: list", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, apperr.Persistence("dispute: scan", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("dispute: iterate", err)
	}
	return out, nil
}

func (r *PGRepository) Update(ctx context.Context, d Dispute) (bool, error) {
	claimants, panel, evidence, err := encodeParts(d)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE disputes
		SET claimants = $2,
		    panel = $3,
		    evidence = $4,
		    panel_votes_received = $5,
		    resolution_status = $6,
		    winning_claimant_id = $7,
		    resolved_by = $8,
		    resolution_notes = $9,
		    updated_at = $10,
		    resolved_at = $11,
		    version = version + 1
		WHERE id = $1 AND version = $12
	`, d.ID, claimants, panel, evidence, d.PanelVotesReceived, string(d.Status), d.WinningClaimantID,
		d.ResolvedBy, d.ResolutionNotes, d.UpdatedAt, d.ResolvedAt, d.Version)
	if err != nil {
		return false, apperr.Persistence("dispute: update", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disputes WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
		return false, apperr.Persistence("dispute: update check", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM disputes WHERE id = $1`, id)
	if err != nil {
		return false, apperr.Persistence("dispute: delete", err)
	}
	return tag.RowsAffected() == 1, nil
}

type claimantRow struct {
	UserID      string         `json:"user_id"`
	Org         enterprise.Org `json:"org"`
	TrustScore  int            `json:"trust_score"`
	Narrative   string         `json:"narrative,omitempty"`
	EvidenceIDs []string       `json:"evidence_ids,omitempty"`
}

type memberRow struct {
	MemberID string         `json:"member_id"`
	Org      enterprise.Org `json:"org"`
	HasVoted bool           `json:"has_voted"`
	VotedFor string         `json:"voted_for,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	VotedAt  *time.Time     `json:"voted_at,omitempty"`
}

type evidenceRow struct {
	ID          string         `json:"id"`
	SubmittedBy string         `json:"submitted_by"`
	ClaimantID  string         `json:"claimant_id"`
	Description string         `json:"description"`
	Reference   string         `json:"reference,omitempty"`
	Status      EvidenceStatus `json:"status"`
	VerifiedBy  string         `json:"verified_by,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}

func encodeParts(d Dispute) (claimants, panel, evidence []byte, err error) {
	cr := make([]claimantRow, len(d.Claimants))
	for i, c := range d.Claimants {
		cr[i] = claimantRow(c)
	}
	mr := make([]memberRow, len(d.Panel))
	for i, m := range d.Panel {
		mr[i] = memberRow(m)
	}
	er := make([]evidenceRow, len(d.Evidence))
	for i, e := range d.Evidence {
		er[i] = evidenceRow(e)
	}
	if claimants, err = json.Marshal(cr); err != nil {
		return nil, nil, nil, fmt.Errorf("dispute: encode claimants: %w", err)
	}
	if panel, err = json.Marshal(mr); err != nil {
		return nil, nil, nil, fmt.Errorf("dispute: encode panel: %w", err)
	}
	if evidence, err = json.Marshal(er); err != nil {
		return nil, nil, nil, fmt.Errorf("dispute: encode evidence: %w", err)
	}
	return claimants, panel, evidence, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d                          Dispute
		status                     string
		claimants, panel, evidence []byte
	)
	err := row.Scan(&d.ID, &d.WorkRequestID, &d.ItemID, &claimants, &panel, &evidence,
		&d.PanelVotesRequired, &d.PanelVotesReceived, &status, &d.WinningClaimantID, &d.ResolvedBy,
		&d.ResolutionNotes, &d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt, &d.Version)
	if err != nil {
		return Dispute{}, err
	}
	d.Status = Status(status)

	var (
		cr []claimantRow
		mr []memberRow
		er []evidenceRow
	)
	if err := json.Unmarshal(claimants, &cr); err != nil {
		return Dispute{}, fmt.Errorf("dispute: decode claimants: %w", err)
	}
	if err := json.Unmarshal(panel, &mr); err != nil {
		return Dispute{}, fmt.Errorf("dispute: decode panel: %w", err)
	}
	if err := json.Unmarshal(evidence, &er); err != nil {
		return Dispute{}, fmt.Errorf("dispute: decode evidence: %w", err)
	}
	d.Claimants = make([]Claimant, len(cr))
	for i, c := range cr {
		d.Claimants[i] = Claimant(c)
	}
	d.Panel = make([]PanelMember, len(mr))
	for i, m := range mr {
		d.Panel[i] = PanelMember(m)
	}
	d.Evidence = make([]Evidence, len(er))
	for i, e := range er {
		d.Evidence[i] = Evidence(e)
	}
	return d, nil
}
