package roster

import (
	"context"
	"errors"
	"fmt"

	"claimflow/apperr"
	"claimflow/enterprise"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoApprover signals that nobody active staffs the role at the org.
var ErrNoApprover = apperr.Kind(apperr.ErrNotFound, "roster: no approver for role")

// Repository reads the approvers table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindActive returns the longest-serving active approver for role at org.
func (r *Repository) FindActive(ctx context.Context, role enterprise.Role, org enterprise.Org) (Approver, error) {
	const query = `
		SELECT id, name, role, enterprise, org_id, org_name, active, created_at
		FROM approvers
		WHERE role = $1 AND enterprise = $2 AND org_id = $3 AND active
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	approver, err := scanApprover(r.pool.QueryRow(ctx, query, string(role), string(org.Enterprise), org.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Approver{}, fmt.Errorf("%w: %s at %s", ErrNoApprover, role, org)
		}
		return Approver{}, apperr.Persistence("roster: query approver", err)
	}
	return approver, nil
}

// List fetches up to limit approvers at org ordered by name.
func (r *Repository) List(ctx context.Context, org enterprise.Org, limit int) ([]Approver, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, name, role, enterprise, org_id, org_name, active, created_at
		FROM approvers
		WHERE enterprise = $1 AND org_id = $2
		ORDER BY name ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, string(org.Enterprise), org.ID, limit)
	if err != nil {
		return nil, apperr.Persistence("roster: list", err)
	}
	defer rows.Close()

	approvers := make([]Approver, 0, limit)
	for rows.Next() {
		approver, err := scanApprover(rows)
		if err != nil {
			return nil, apperr.Persistence("roster: scan approver", err)
		}
		approvers = append(approvers, approver)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("roster: iterate approvers", err)
	}

	return approvers, nil
}

// Upsert stores an approver, replacing any existing row with the same id.
func (r *Repository) Upsert(ctx context.Context, a Approver) error {
	const query = `
		INSERT INTO approvers (id, name, role, enterprise, org_id, org_name, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    role = EXCLUDED.role,
		    enterprise = EXCLUDED.enterprise,
		    org_id = EXCLUDED.org_id,
		    org_name = EXCLUDED.org_name,
		    active = EXCLUDED.active
	`
	if _, err := r.pool.Exec(ctx, query, a.ID, a.Name, string(a.Role), string(a.Org.Enterprise), a.Org.ID, a.Org.Name, a.Active); err != nil {
		return apperr.Persistence("roster: upsert", err)
	}
	return nil
}

func scanApprover(row pgx.Row) (Approver, error) {
	var (
		a         Approver
		role, ent string
	)
	if err := row.Scan(&a.ID, &a.Name, &role, &ent, &a.Org.ID, &a.Org.Name, &a.Active, &a.CreatedAt); err != nil {
		return Approver{}, err
	}
	a.Role = enterprise.Role(role)
	a.Org.Enterprise = enterprise.Enterprise(ent)
	return a, nil
}
