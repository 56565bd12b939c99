package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
	Args []any
}

// All returns the journal oracles. Each query returns the offending rows,
// so an empty result means the oracle holds. maxAttempts is the relay's
// dead-letter threshold.
func All(maxAttempts int) []Oracle {
	return []Oracle{
		{
			Name: "O1_journal_time_monotonic",
			SQL: `WITH ordered AS (
                      SELECT id, position_id, seq, occurred_at,
                             LAG(occurred_at) OVER (PARTITION BY position_id ORDER BY seq) AS prev
                      FROM timeline_events WHERE position_id > 0)
                  SELECT id, position_id, seq FROM ordered WHERE prev IS NOT NULL AND occurred_at < prev`,
		},
		{
			Name: "O2_registered_first",
			SQL: `SELECT position_id, type FROM (
                      SELECT DISTINCT ON (position_id) position_id, type
                      FROM timeline_events WHERE position_id > 0
                      ORDER BY position_id, seq) firsts
                  WHERE type <> 'REGISTERED'`,
		},
		{
			Name: "O3_nothing_after_close",
			SQL: `WITH closed AS (
                      SELECT position_id, MIN(seq) AS seq FROM timeline_events
                      WHERE type = 'UNREGISTERED'
                         OR (type = 'DISPUTE_RESOLVED' AND (payload->>'destroyed')::boolean)
                      GROUP BY position_id)
                  SELECT e.id, e.position_id, e.type FROM timeline_events e
                  JOIN closed c ON c.position_id = e.position_id
                  WHERE e.seq > c.seq`,
		},
		{
			Name: "O4_outbox_parity",
			SQL: `SELECT e.id::text AS missing FROM timeline_events e
                  LEFT JOIN outbox o ON o.id = e.id WHERE o.id IS NULL
                  UNION ALL
                  SELECT o.id::text FROM outbox o
                  LEFT JOIN timeline_events e ON e.id = o.id WHERE e.id IS NULL`,
		},
		{
			Name: "O5_outbox_payload_links_event",
			SQL: `SELECT o.id FROM outbox o JOIN timeline_events e ON e.id = o.id
                  WHERE o.payload->>'event_id' <> e.id::text
                     OR (o.payload->>'position_id')::bigint <> e.position_id`,
		},
		{
			Name: "O6_outbox_attempts",
			SQL: `SELECT id, status, attempts FROM outbox
                  WHERE (status = 'dead' AND attempts < $1)
                     OR (status = 'pending' AND attempts >= $1)
                     OR (status <> 'pending' AND last_attempt IS NULL)`,
			Args: []any{maxAttempts},
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, maxAttempts int) (string, string, error) {
	for _, o := range All(maxAttempts) {
		rows, err := pool.Query(ctx, o.SQL, o.Args...)
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
