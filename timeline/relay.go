package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"rentflow/metrics"
)

// Message is one outbox row handed to a Publisher.
type Message struct {
	ID       string
	Topic    string
	Payload  []byte
	Attempts int
}

// Publisher delivers outbox messages downstream.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, msg Message) error

func (f PublisherFunc) Publish(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogPublisher writes every message to a logger. It is the publisher used
// when no broker is configured.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(_ context.Context, msg Message) error {
	p.Log.WithField("topic", msg.Topic).
		WithField("message_id", msg.ID).
		WithField("payload", string(msg.Payload)).
		Info("outbox message published")
	return nil
}

const (
	defaultBatchSize   = 10
	defaultMaxAttempts = 5
)

// Relay drains the outbox. Rows are claimed with SKIP LOCKED so several
// relays can run against the same database.
type Relay struct {
	pool        TxBeginner
	publisher   Publisher
	batchSize   int
	maxAttempts int
	log         logrus.FieldLogger
}

func NewRelay(pool TxBeginner, publisher Publisher, log logrus.FieldLogger) *Relay {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Relay{
		pool:        pool,
		publisher:   publisher,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		log:         log.WithField("component", "outbox_relay"),
	}
}

func (r *Relay) WithBatchSize(n int) *Relay {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

// WithMaxAttempts sets how many failed publishes turn a message dead.
func (r *Relay) WithMaxAttempts(n int) *Relay {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// DispatchOnce publishes one batch of pending messages and returns how
// many were published successfully.
func (r *Relay) DispatchOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("timeline: relay begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch, err := r.claim(ctx, tx)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range batch {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			status, markErr := r.markFailed(ctx, tx, msg)
			if markErr != nil {
				return 0, markErr
			}
			metrics.RecordOutbox(status)
			r.log.WithError(err).
				WithField("message_id", msg.ID).
				WithField("topic", msg.Topic).
				WithField("status", status).
				Warn("outbox publish failed")
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', last_attempt = now() WHERE id = $1::uuid`, msg.ID); err != nil {
			return 0, fmt.Errorf("timeline: mark processed: %w", err)
		}
		metrics.RecordOutbox("processed")
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("timeline: relay commit tx: %w", err)
	}
	return published, nil
}

func (r *Relay) claim(ctx context.Context, tx pgx.Tx) ([]Message, error) {
	const query = `
		SELECT id::text, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`
	rows, err := tx.Query(ctx, query, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("timeline: claim outbox: %w", err)
	}
	defer rows.Close()

	batch := make([]Message, 0, r.batchSize)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &msg.Attempts); err != nil {
			return nil, fmt.Errorf("timeline: scan outbox: %w", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate outbox: %w", err)
	}
	return batch, nil
}

func (r *Relay) markFailed(ctx context.Context, tx pgx.Tx, msg Message) (string, error) {
	status := "pending"
	if msg.Attempts+1 >= r.maxAttempts {
		status = "dead"
	}
	const update = `UPDATE outbox SET attempts = attempts + 1, status = $2, last_attempt = now() WHERE id = $1::uuid`
	if _, err := tx.Exec(ctx, update, msg.ID, status); err != nil {
		return "", fmt.Errorf("timeline: mark failed: %w", err)
	}
	return status, nil
}

// Run dispatches batches every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			n, err := r.DispatchOnce(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.log.WithError(err).Error("outbox dispatch")
				break
			}
			if n < r.batchSize {
				break
			}
		}
	}
}
