package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"claimflow/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = apperr.Kind(apperr.ErrNotFound, "verification: not found")
	ErrDuplicate = errors.New("verification: duplicate id")
)

// Repository persists verification requests. Update is version-checked the
// same way as work requests.
type Repository interface {
	Save(ctx context.Context, req Request) (string, error)
	FindByID(ctx context.Context, id string) (Request, error)
	FindBy(ctx context.Context, filter Filter) ([]Request, error)
	Update(ctx context.Context, req Request) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]Request
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Request)}
}

func (m *MemoryRepository) Save(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, ok := m.rows[req.ID]; ok {
		return "", ErrDuplicate
	}
	m.rows[req.ID] = req
	return req.ID, nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.rows[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (m *MemoryRepository) FindBy(_ context.Context, filter Filter) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.rows))
	for _, req := range m.rows {
		if filter.matches(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) Update(_ context.Context, req Request) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[req.ID]
	if !ok {
		return false, ErrNotFound
	}
	if stored.Version != req.Version {
		return false, nil
	}
	req.Version++
	m.rows[req.ID] = req
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

// PGRepository stores verifications in verification_requests.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, kind, status, subject_user_id, work_request_id, item_id, serial_number,
	reviewer_id, notes, created_at, updated_at, expires_at, decided_at, version`

func (r *PGRepository) Save(ctx context.Context, req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO verification_requests (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, req.ID, req.Kind, req.Status, req.SubjectUserID, req.WorkRequestID, req.ItemID, req.SerialNumber,
		req.ReviewerID, req.Notes, req.CreatedAt, req.UpdatedAt, req.ExpiresAt, req.DecidedAt, req.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrDuplicate
		}
		return "", apperr.Persistence("verification: insert", err)
	}
	return req.ID, nil
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (Request, error) {
	req, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM verification_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, apperr.Persistence("verification: find by id", err)
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
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if filter.SubjectUserID != "" {
		add("subject_user_id = $%d", filter.SubjectUserID)
	}
	if filter.WorkRequestID != "" {
		add("work_request_id = $%d", filter.WorkRequestID)
	}
	if !filter.ExpiresBefore.IsZero() {
		add("expires_at < $%d", filter.ExpiresBefore)
	}

	query := `SELECT ` + columns + ` FROM verification_requests`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY expires_at ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence("verification: find by", err)
	}
	defer rows.Close()

	out := make([]Request, 0, 16)
	for rows.Next() {
		req, err := scan(rows)
		if err != nil {
			return nil, apperr.Persistence("verification: scan", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("verification: iterate", err)
	}
	return out, nil
}

func (r *PGRepository) Update(ctx context.Context, req Request) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE verification_requests
		SET status = $2,
		    reviewer_id = $3,
		    notes = $4,
		    updated_at = $5,
		    decided_at = $6,
		    version = version + 1
		WHERE id = $1 AND version = $7
	`, req.ID, req.Status, req.ReviewerID, req.Notes, req.UpdatedAt, req.DecidedAt, req.Version)
	if err != nil {
		return false, apperr.Persistence("verification: update", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM verification_requests WHERE id = $1)`, req.ID).Scan(&exists); err != nil {
		return false, apperr.Persistence("verification: update check", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM verification_requests WHERE id = $1`, id)
	if err != nil {
		return false, apperr.Persistence("verification: delete", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scan(row pgx.Row) (Request, error) {
	var (
		req          Request
		kind, status string
	)
	err := row.Scan(&req.ID, &kind, &status, &req.SubjectUserID, &req.WorkRequestID, &req.ItemID,
		&req.SerialNumber, &req.ReviewerID, &req.Notes, &req.CreatedAt, &req.UpdatedAt, &req.ExpiresAt,
		&req.DecidedAt, &req.Version)
	if err != nil {
		return Request{}, err
	}
	req.Kind = Kind(kind)
	req.Status = Status(status)
	return req, nil
}
