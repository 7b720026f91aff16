package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_chain_cursor",
			SQL: `SELECT id, approval_step, current_approver_id FROM work_requests
                  WHERE approval_step < cardinality(approver_ids)
                  AND current_approver_id IS DISTINCT FROM approver_ids[approval_step + 1]`,
		},
		{
			Name: "O2_approvals_match_step",
			SQL: `SELECT id, approval_step FROM work_requests w
                  WHERE kind <> 'MULTI_ENTERPRISE_DISPUTE'
                  AND approval_step <> (SELECT COUNT(*) FROM jsonb_array_elements(w.history) h
                                        WHERE h->>'decision' = 'APPROVE')`,
		},
		{
			Name: "O3_closed_has_completed_at",
			SQL: `SELECT id, status FROM work_requests
                  WHERE (status IN ('COMPLETED','REJECTED','CANCELLED')) <> (completed_at IS NOT NULL)`,
		},
		{
			Name: "O4_no_decisions_after_close",
			SQL: `SELECT w.id, h->>'decision' FROM work_requests w,
                  LATERAL jsonb_array_elements(w.history) h
                  WHERE w.completed_at IS NOT NULL
                  AND (h->>'at')::timestamptz > w.completed_at + interval '1 millisecond'`,
		},
		{
			Name: "O5_score_matches_last_event",
			SQL: `SELECT s.user_id, s.current_score, last.new_score FROM trust_scores s
                  JOIN LATERAL (SELECT new_score FROM trust_score_events e
                                WHERE e.user_id = s.user_id ORDER BY seq DESC LIMIT 1) last ON TRUE
                  WHERE last.new_score <> s.current_score`,
		},
		{
			Name: "O6_event_chain_continuity",
			SQL: `WITH chain AS (
                      SELECT user_id, seq, previous_score,
                             LAG(new_score) OVER (PARTITION BY user_id ORDER BY seq) AS prior
                      FROM trust_score_events)
                  SELECT * FROM chain WHERE prior IS NOT NULL AND prior <> previous_score`,
		},
		{
			Name: "O7_event_counters",
			SQL: `SELECT s.user_id, s.total_events FROM trust_scores s
                  WHERE s.total_events <> (SELECT COUNT(*) FROM trust_score_events e WHERE e.user_id = s.user_id)`,
		},
		{
			Name: "O8_votes_match_ballots",
			SQL: `SELECT id, panel_votes_received FROM disputes d
                  WHERE panel_votes_received <> (SELECT COUNT(*) FROM jsonb_array_elements(d.panel) m
                                                 WHERE (m->>'has_voted')::boolean)`,
		},
		{
			Name: "O9_resolution_has_winner",
			SQL: `SELECT id, resolution_status, winning_claimant_id FROM disputes
                  WHERE (resolution_status = 'RESOLVED') <> (winning_claimant_id <> '')`,
		},
		{
			Name: "O10_outbox_relay_lost",
			SQL: `SELECT id, topic, attempts, last_error FROM outbox
                  WHERE dispatched_at IS NULL AND attempts > 0`,
		},
	}
}

// Run executes every oracle and reports the first one returning rows,
// along with a rendering of its first row.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return "", "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return "", "", fmt.Errorf("oracle %s values: %w", o.Name, err)
			}
			return o.Name, fmt.Sprint(vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return "", "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
