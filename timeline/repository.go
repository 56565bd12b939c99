package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateEvent signals the event ID was already journaled.
	ErrDuplicateEvent = errors.New("timeline: duplicate event")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGRecorder writes every event to timeline_events and outbox inside a
// single transaction.
type PGRecorder struct {
	pool TxBeginner
}

func NewPGRecorder(pool TxBeginner) *PGRecorder {
	return &PGRecorder{pool: pool}
}

// Record journals ev. Replaying an already stored event is a no-op.
func (r *PGRecorder) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return fmt.Errorf("timeline: missing event id")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("timeline: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.appendTimelineEvent(ctx, tx, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return nil
		}
		return err
	}

	if err := r.enqueueOutbox(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("timeline: commit tx: %w", err)
	}
	return nil
}

func (r *PGRecorder) appendTimelineEvent(ctx context.Context, tx pgx.Tx, ev Event) error {
	payload := ev.Payload
	if payload == nil {
		payload = make(map[string]any)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal timeline payload: %w", err)
	}

	var actor any
	if ev.Actor != "" {
		actor = ev.Actor
	}

	const insertSQL = `
INSERT INTO timeline_events (id, position_id, type, actor, payload, occurred_at)
VALUES ($1::uuid, $2, $3, $4, $5::jsonb, $6)
ON CONFLICT (id) DO NOTHING
`
	tag, err := tx.Exec(ctx, insertSQL, ev.ID, int64(ev.PositionID), string(ev.Type), actor, body, ev.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("timeline: insert timeline event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (r *PGRecorder) enqueueOutbox(ctx context.Context, tx pgx.Tx, ev Event) error {
	payload := make(map[string]any, len(ev.Payload)+3)
	for k, v := range ev.Payload {
		payload[k] = v
	}
	payload["event_id"] = ev.ID
	payload["position_id"] = ev.PositionID
	payload["occurred_at"] = ev.OccurredAt.UTC()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal outbox payload: %w", err)
	}

	const insertSQL = `
INSERT INTO outbox (id, topic, payload)
VALUES ($1::uuid, $2, $3::jsonb)
`
	if _, err := tx.Exec(ctx, insertSQL, ev.ID, ev.Type.Topic(), body); err != nil {
		return fmt.Errorf("timeline: insert outbox message: %w", err)
	}
	return nil
}

// PGReader reads the journal back.
type PGReader struct {
	pool *pgxpool.Pool
}

func NewPGReader(pool *pgxpool.Pool) *PGReader {
	return &PGReader{pool: pool}
}

// ListByPosition returns the events of one position in journal order.
func (r *PGReader) ListByPosition(ctx context.Context, positionID uint64) ([]Event, error) {
	const query = `
		SELECT id::text, position_id, type, COALESCE(actor, ''), payload, occurred_at
		FROM timeline_events
		WHERE position_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, int64(positionID))
	if err != nil {
		return nil, fmt.Errorf("timeline: list: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 8)
	for rows.Next() {
		var (
			ev         Event
			position   int64
			eventType  string
			body       []byte
			occurredAt time.Time
		)
		if err := rows.Scan(&ev.ID, &position, &eventType, &ev.Actor, &body, &occurredAt); err != nil {
			return nil, fmt.Errorf("timeline: scan: %w", err)
		}
		if err := json.Unmarshal(body, &ev.Payload); err != nil {
			return nil, fmt.Errorf("timeline: decode payload: %w", err)
		}
		ev.PositionID = uint64(position)
		ev.Type = EventType(eventType)
		ev.OccurredAt = occurredAt
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate: %w", err)
	}
	return out, nil
}

// PendingOutbox returns the number of outbox rows not yet delivered.
func (r *PGReader) PendingOutbox(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("timeline: count outbox: %w", err)
	}
	return n, nil
}
