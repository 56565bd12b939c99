package timeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentflow/test/infra"
	"rentflow/timeline"
)

// TestJournal_Integration records events into a real PostgreSQL and drains
// the outbox through the relay. It reuses RENTFLOW_TEST_PG_DSN when set and
// starts a container otherwise.
func TestJournal_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if !infra.CanRun(ctx) {
		t.Skipf("no Docker daemon and %s is empty", infra.DSNEnv)
	}

	pool, teardown, err := infra.Setup(ctx)
	require.NoError(t, err)
	defer teardown()

	ids := []string{
		"0b0f5e64-1f7e-4a57-9d0c-000000000001",
		"0b0f5e64-1f7e-4a57-9d0c-000000000002",
		"0b0f5e64-1f7e-4a57-9d0c-000000000003",
	}
	seq := 0
	journal := timeline.NewJournal(timeline.NewPGRecorder(pool), nil).
		WithIDGenerator(func() string {
			id := ids[seq]
			seq++
			return id
		})

	journal.Emit(ctx, timeline.Event{PositionID: 42, Type: timeline.EventRegistered, Actor: "owner", Payload: map[string]any{"daily_rate": 100}})
	journal.Emit(ctx, timeline.Event{PositionID: 42, Type: timeline.EventRentRequested, Actor: "renter"})
	journal.Emit(ctx, timeline.Event{PositionID: 7, Type: timeline.EventRegistered, Actor: "owner"})

	// A replayed event must not duplicate either table.
	require.NoError(t, timeline.NewPGRecorder(pool).Record(ctx, timeline.Event{
		ID:         ids[0],
		PositionID: 42,
		Type:       timeline.EventRegistered,
		OccurredAt: time.Now(),
	}))

	reader := timeline.NewPGReader(pool)
	events, err := reader.ListByPosition(ctx, 42)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, timeline.EventRegistered, events[0].Type)
	assert.Equal(t, timeline.EventRentRequested, events[1].Type)
	assert.Equal(t, float64(100), events[0].Payload["daily_rate"])

	pending, err := reader.PendingOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	failing := timeline.PublisherFunc(func(context.Context, timeline.Message) error {
		return errors.New("broker down")
	})
	relay := timeline.NewRelay(pool, failing, nil).WithMaxAttempts(2)
	n, err := relay.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	pending, err = reader.PendingOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	var topics []string
	collecting := timeline.PublisherFunc(func(_ context.Context, msg timeline.Message) error {
		topics = append(topics, msg.Topic)
		return nil
	})
	n, err = timeline.NewRelay(pool, collecting, nil).DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Contains(t, topics, "position.rent_requested")

	pending, err = reader.PendingOutbox(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
