package timeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists timeline events.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts an event with the next sequence number for exchangeID.
// Callers hold the exchange row lock, which serialises seq allocation.
func (s *Store) Append(ctx context.Context, tx pgx.Tx, exchangeID, eventType, actorID string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const q = `
INSERT INTO timeline_events (exchange_id, seq, event_type, actor_id, payload)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::uuid, $4::jsonb
FROM timeline_events
WHERE exchange_id = $1
`
	if _, err := tx.Exec(ctx, q, exchangeID, eventType, actor, body); err != nil {
		return fmt.Errorf("timeline: insert %s: %w", eventType, err)
	}
	return nil
}

// List returns the events of exchangeID in sequence order.
func (s *Store) List(ctx context.Context, exchangeID string) ([]Event, error) {
	const q = `
SELECT id, exchange_id, seq, event_type, actor_id, payload, created_at
FROM timeline_events
WHERE exchange_id = $1
ORDER BY seq ASC
`
	rows, err := s.pool.Query(ctx, q, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("timeline: list: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ExchangeID, &e.Seq, &e.Type, &e.ActorID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate: %w", err)
	}
	return events, nil
}
