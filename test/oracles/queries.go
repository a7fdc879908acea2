package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_agreement_flags_match_status",
			SQL: `SELECT id, status, initiator_agreed, recipient_agreed FROM negotiation_sessions
                  WHERE (status = 'agreed' AND NOT (initiator_agreed AND recipient_agreed))
                     OR (status IN ('drafting','negotiating') AND initiator_agreed AND recipient_agreed)`,
		},
		{
			Name: "O2_dispute_flag_matches_open_disputes",
			SQL: `SELECT e.id, e.has_dispute FROM exchanges e
                  WHERE e.has_dispute <> EXISTS (
                      SELECT 1 FROM disputes d WHERE d.exchange_id = e.id AND d.status = 'open')`,
		},
		{
			Name: "O3_completed_session_all_confirmed",
			SQL: `SELECT s.id, d->>'title', d->>'state' FROM negotiation_sessions s,
                       LATERAL jsonb_array_elements(s.initiator_deliverables || s.recipient_deliverables) d
                  WHERE s.status = 'completed' AND d->>'state' <> 'confirmed'`,
		},
		{
			Name: "O4_counters_applied_once",
			SQL: `WITH applied AS (
                      SELECT COUNT(*) * 2 AS expected FROM negotiation_sessions
                      WHERE 'success_counters' = ANY(effects)),
                  counted AS (
                      SELECT COALESCE(SUM(successful_exchanges), 0) AS actual FROM users)
                  SELECT expected, actual FROM applied, counted WHERE expected <> actual`,
		},
		{
			Name: "O5_effects_only_on_completion",
			SQL: `SELECT s.id, s.status, s.effects, e.status FROM negotiation_sessions s
                  JOIN exchanges e ON e.id = s.exchange_id
                  WHERE ('success_counters' = ANY(s.effects) AND s.status <> 'completed')
                     OR (s.status = 'completed' AND NOT 'success_counters' = ANY(s.effects)
                         AND e.status NOT IN ('cancelled', 'expired'))`,
		},
		{
			Name: "O6_completed_exchange_has_completed_session",
			SQL: `SELECT e.id FROM exchanges e
                  LEFT JOIN negotiation_sessions s ON s.exchange_id = e.id
                  WHERE e.status = 'completed' AND (s.id IS NULL OR s.status <> 'completed')`,
		},
		{
			Name: "O7_accepted_requires_both_parties",
			SQL: `SELECT id, status FROM exchanges
                  WHERE status IN ('accepted','in_progress','completed')
                    AND NOT (initiator_accepted AND recipient_accepted)`,
		},
		{
			Name: "O8_timeline_seq_gapless",
			SQL: `SELECT exchange_id, MAX(seq), COUNT(*) FROM timeline_events
                  GROUP BY exchange_id HAVING MAX(seq) <> COUNT(*) OR MIN(seq) <> 1`,
		},
		{
			Name: "O9_disputes_handled_matches_resolved",
			SQL: `WITH handled AS (
                      SELECT COALESCE(SUM(disputes_handled), 0) AS n FROM users),
                  resolved AS (
                      SELECT COUNT(*) AS n FROM disputes WHERE status = 'resolved')
                  SELECT handled.n, resolved.n FROM handled, resolved WHERE handled.n <> resolved.n`,
		},
		{
			Name: "O10_disputed_deliverable_has_open_dispute",
			SQL: `SELECT s.exchange_id, d->>'disputeId' FROM negotiation_sessions s,
                       LATERAL jsonb_array_elements(s.initiator_deliverables || s.recipient_deliverables) d
                  WHERE d->>'state' = 'disputed'
                    AND NOT EXISTS (
                        SELECT 1 FROM disputes x
                        WHERE x.id::text = d->>'disputeId' AND x.status = 'open')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
