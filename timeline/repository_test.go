package timeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func sampleEvent() Event {
	return Event{
		ID:         "8f7d1c2e-55a4-4a0e-9d3c-2a6f4f1f6b11",
		PositionID: 7,
		Type:       EventRentStarted,
		Actor:      "owner-1",
		Payload:    map[string]any{"renter": "renter-1"},
		OccurredAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPGRecorder_RecordWritesTimelineAndOutbox(t *testing.T) {
	pool := &fakePool{}
	rec := NewPGRecorder(pool)

	if err := rec.Record(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if pool.tx == nil {
		t.Fatalf("expected Begin to provide transaction")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if len(pool.tx.statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(pool.tx.statements))
	}
	if !strings.Contains(pool.tx.statements[0], "timeline_events") {
		t.Errorf("expected timeline insert first, got %q", pool.tx.statements[0])
	}
	if !strings.Contains(pool.tx.statements[1], "outbox") {
		t.Errorf("expected outbox insert second, got %q", pool.tx.statements[1])
	}
	if topic := pool.tx.args[1][1]; topic != "position.rent_started" {
		t.Errorf("expected topic position.rent_started, got %v", topic)
	}
}

func TestPGRecorder_ReplayIsIdempotent(t *testing.T) {
	pool := &fakePool{tag: pgconn.NewCommandTag("INSERT 0 0")}
	rec := NewPGRecorder(pool)

	if err := rec.Record(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback to be called")
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped on replay")
	}
	if len(pool.tx.statements) != 1 {
		t.Errorf("expected outbox insert to be skipped, got %d statements", len(pool.tx.statements))
	}
}

func TestPGRecorder_OutboxFailureRollsBack(t *testing.T) {
	pool := &fakePool{failOn: "outbox"}
	rec := NewPGRecorder(pool)

	err := rec.Record(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "outbox") {
		t.Fatalf("expected outbox error, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback to be called")
	}
}

func TestPGRecorder_RequiresID(t *testing.T) {
	pool := &fakePool{}
	ev := sampleEvent()
	ev.ID = ""

	if err := NewPGRecorder(pool).Record(context.Background(), ev); err == nil {
		t.Fatal("expected error for missing id")
	}
	if pool.tx != nil {
		t.Errorf("expected no transaction to be opened")
	}
}

type fakePool struct {
	tx     *fakeTx
	tag    pgconn.CommandTag
	failOn string
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tag := f.tag
	if tag.String() == "" {
		tag = pgconn.NewCommandTag("INSERT 0 1")
	}
	f.tx = &fakeTx{tag: tag, failOn: f.failOn}
	return f.tx, nil
}

type fakeTx struct {
	tag        pgconn.CommandTag
	failOn     string
	statements []string
	args       [][]any
	rolled     bool
	committed  bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolled = true
	}
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, sql)
	f.args = append(f.args, args)
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	return f.tag, nil
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
