package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"claimflow/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store backed by PostgreSQL. Mutations run in a
// transaction holding the score row lock.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const scoreColumns = `user_id, current_score, total_events, positive_events, negative_events,
	points_earned, points_lost, is_flagged, flag_reason, flagged_at, under_investigation,
	investigation_reason, recent_events, created_at, updated_at, version`

func (s *PGStore) FindScore(ctx context.Context, userID string) (Score, error) {
	score, err := scanScore(s.pool.QueryRow(ctx, `SELECT `+scoreColumns+` FROM trust_scores WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Score{}, ErrNotFound
		}
		return Score{}, apperr.Persistence("trust: find score", err)
	}
	return score, nil
}

func (s *PGStore) Mutate(ctx context.Context, userID string, seed Score, fn MutateFunc) (Score, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Score{}, apperr.Persistence("trust: begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO trust_scores (user_id, current_score, recent_events, created_at, updated_at)
		VALUES ($1, $2, '[]'::jsonb, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, seed.CurrentScore, seed.CreatedAt); err != nil {
		return Score{}, apperr.Persistence("trust: seed score", err)
	}

	score, err := scanScore(tx.QueryRow(ctx, `SELECT `+scoreColumns+` FROM trust_scores WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return Score{}, apperr.Persistence("trust: lock score", err)
	}

	ev, err := fn(&score)
	if err != nil {
		return Score{}, err
	}
	if ev != nil {
		if err := insertEvent(ctx, tx, *ev); err != nil {
			return Score{}, err
		}
	}

	recent, err := json.Marshal(toEventRows(score.Recent))
	if err != nil {
		return Score{}, fmt.Errorf("trust: marshal recent events: %w", err)
	}
	err = tx.QueryRow(ctx, `
		UPDATE trust_scores
		SET current_score = $2,
		    total_events = $3,
		    positive_events = $4,
		    negative_events = $5,
		    points_earned = $6,
		    points_lost = $7,
		    is_flagged = $8,
		    flag_reason = $9,
		    flagged_at = $10,
		    under_investigation = $11,
		    investigation_reason = $12,
		    recent_events = $13::jsonb,
		    updated_at = $14,
		    version = version + 1
		WHERE user_id = $1
		RETURNING version
	`, userID, score.CurrentScore, score.TotalEvents, score.PositiveEvents, score.NegativeEvents,
		score.PointsEarned, score.PointsLost, score.IsFlagged, score.FlagReason, score.FlaggedAt,
		score.IsUnderInvestigation, score.InvestigationReason, recent, score.UpdatedAt,
	).Scan(&score.Version)
	if err != nil {
		return Score{}, apperr.Persistence("trust: update score", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Score{}, apperr.Persistence("trust: commit", err)
	}
	return score, nil
}

func (s *PGStore) ListEvents(ctx context.Context, userID string, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_key, user_id, kind, points, previous_score, new_score,
		       item_id, request_id, claim_id, note, created_at
		FROM trust_score_events
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, apperr.Persistence("trust: list events", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Key, &ev.UserID, &ev.Kind, &ev.Points, &ev.PreviousScore, &ev.NewScore,
			&ev.ItemID, &ev.RequestID, &ev.ClaimID, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, apperr.Persistence("trust: scan event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("trust: iterate events", err)
	}
	return out, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trust_score_events (id, event_key, user_id, kind, points, previous_score, new_score,
			item_id, request_id, claim_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, ev.ID, ev.Key, ev.UserID, ev.Kind, ev.Points, ev.PreviousScore, ev.NewScore,
		ev.ItemID, ev.RequestID, ev.ClaimID, ev.Note, ev.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return apperr.Persistence("trust: insert event", err)
	}
	return nil
}

func scanScore(row pgx.Row) (Score, error) {
	var (
		score  Score
		recent []byte
	)
	err := row.Scan(
		&score.UserID,
		&score.CurrentScore,
		&score.TotalEvents,
		&score.PositiveEvents,
		&score.NegativeEvents,
		&score.PointsEarned,
		&score.PointsLost,
		&score.IsFlagged,
		&score.FlagReason,
		&score.FlaggedAt,
		&score.IsUnderInvestigation,
		&score.InvestigationReason,
		&recent,
		&score.CreatedAt,
		&score.UpdatedAt,
		&score.Version,
	)
	if err != nil {
		return Score{}, err
	}

	if score.Recent, err = decodeRecent(score.UserID, recent); err != nil {
		return Score{}, err
	}
	return score, nil
}

// decodeRecent reads the recent_events column. Rows written before user_id
// was stored belong to the owning score.
func decodeRecent(userID string, raw []byte) ([]Event, error) {
	var rows []eventRow
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("trust: decode recent events: %w", err)
		}
	}
	events := fromEventRows(rows)
	for i := range events {
		if events[i].UserID == "" {
			events[i].UserID = userID
		}
	}
	return events, nil
}

// eventRow is the JSONB shape of an event inside trust_scores.recent_events.
type eventRow struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"`
	UserID        string    `json:"user_id,omitempty"`
	Kind          EventKind `json:"kind"`
	Points        int       `json:"points"`
	PreviousScore int       `json:"previous_score"`
	NewScore      int       `json:"new_score"`
	ItemID        string    `json:"item_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	ClaimID       string    `json:"claim_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toEventRows(events []Event) []eventRow {
	out := make([]eventRow, len(events))
	for i, ev := range events {
		out[i] = eventRow{
			ID: ev.ID, Key: ev.Key, UserID: ev.UserID, Kind: ev.Kind, Points: ev.Points,
			PreviousScore: ev.PreviousScore, NewScore: ev.NewScore,
			ItemID: ev.ItemID, RequestID: ev.RequestID, ClaimID: ev.ClaimID,
			Note: ev.Note, CreatedAt: ev.CreatedAt,
		}
	}
	return out
}

func fromEventRows(rows []eventRow) []Event {
	out := make([]Event, len(rows))
	for i, r := range rows {
		out[i] = Event{
			ID: r.ID, Key: r.Key, UserID: r.UserID, Kind: r.Kind, Points: r.Points,
			PreviousScore: r.PreviousScore, NewScore: r.NewScore,
			ItemID: r.ItemID, RequestID: r.RequestID, ClaimID: r.ClaimID,
			Note: r.Note, CreatedAt: r.CreatedAt,
		}
	}
	return out
}
