package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outbox writes facts to the outbox table. A relay later forwards them to a
// live transport and marks them dispatched.
type Outbox struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewOutbox(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (o *Outbox) Publish(ctx context.Context, fact Fact) error {
	body, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("notify: marshal outbox payload: %w", err)
	}
	if _, err := o.pool.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, fact.Topic, body); err != nil {
		return fmt.Errorf("notify: outbox insert: %w", err)
	}
	return nil
}

// Relay forwards up to limit undispatched facts to target, oldest first.
// Rows are claimed with SKIP LOCKED so several relays can run side by side.
// A fact the target rejects stays queued with its attempt count bumped.
func (o *Outbox) Relay(ctx context.Context, target Notifier, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("notify: relay begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, payload
		FROM outbox
		WHERE dispatched_at IS NULL
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("notify: relay select: %w", err)
	}
	type queued struct {
		id   int64
		fact Fact
	}
	var batch []queued
	for rows.Next() {
		var (
			q   queued
			raw []byte
		)
		if err := rows.Scan(&q.id, &raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("notify: relay scan: %w", err)
		}
		if err := json.Unmarshal(raw, &q.fact); err != nil {
			rows.Close()
			return 0, fmt.Errorf("notify: relay decode %d: %w", q.id, err)
		}
		batch = append(batch, q)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("notify: relay iterate: %w", err)
	}

	sent := 0
	for _, q := range batch {
		if err := target.Publish(ctx, q.fact); err != nil {
			if err := markAttempt(ctx, tx, q.id, err); err != nil {
				return 0, err
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET dispatched_at = $2, attempts = attempts + 1 WHERE id = $1`, q.id, o.now()); err != nil {
			return 0, fmt.Errorf("notify: relay mark dispatched: %w", err)
		}
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("notify: relay commit: %w", err)
	}
	return sent, nil
}

func markAttempt(ctx context.Context, tx pgx.Tx, id int64, cause error) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, cause.Error()); err != nil {
		return fmt.Errorf("notify: relay mark attempt: %w", err)
	}
	return nil
}
