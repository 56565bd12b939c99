package test

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/sync/errgroup"

	"rentflow/test/actors"
	"rentflow/test/infra"
	"rentflow/test/oracles"
	"rentflow/timeline"
)

var (
	flDuration    = flag.Duration("duration", 3*time.Second, "how long to run stress")
	flRound       = flag.Duration("round", 150*time.Millisecond, "how long actors run between oracle checks")
	flConcurrency = flag.Int("concurrency", 4, "number of owners and of renters")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

const relayMaxAttempts = 3

type actor func(ctx context.Context, rng *rand.Rand, stop <-chan struct{}) error

func duration() time.Duration {
	if testing.Short() && *flDuration > time.Second {
		return time.Second
	}
	return *flDuration
}

func quietLogger() *logrus.Logger {
	logger, _ := logtest.NewNullLogger()
	return logger
}

func newWorld(t *testing.T, journal timeline.Recorder) *actors.World {
	t.Helper()
	w, err := actors.NewWorld(actors.WorldConfig{
		Owners:         *flConcurrency,
		Renters:        *flConcurrency,
		AssetsPerOwner: 3,
		Journal:        journal,
		Log:            quietLogger(),
	})
	if err != nil {
		t.Fatalf("build world: %v", err)
	}
	return w
}

func cast(w *actors.World) []actor {
	var out []actor
	for _, owner := range w.Owners {
		out = append(out, func(ctx context.Context, rng *rand.Rand, stop <-chan struct{}) error {
			return actors.Owner(ctx, w, owner, rng, stop)
		})
	}
	for _, renter := range w.Renters {
		out = append(out, func(ctx context.Context, rng *rand.Rand, stop <-chan struct{}) error {
			return actors.Renter(ctx, w, renter, rng, stop)
		})
	}
	return append(out,
		func(ctx context.Context, rng *rand.Rand, stop <-chan struct{}) error {
			return actors.Arbiter(ctx, w, rng, stop)
		},
		func(ctx context.Context, rng *rand.Rand, stop <-chan struct{}) error {
			return actors.Settler(ctx, w, rng, stop)
		},
		func(ctx context.Context, rng *rand.Rand, stop <-chan struct{}) error {
			return actors.TimeKeeper(ctx, w, rng, stop)
		},
		func(ctx context.Context, rng *rand.Rand, stop <-chan struct{}) error {
			return actors.FlakyRecipients(ctx, w, rng, stop)
		},
	)
}

// runRounds lets the actors loose for one round at a time and checks the
// oracles while they are parked, until the run duration is used up.
func runRounds(t *testing.T, ctx context.Context, seed int64, actorsInPlay []actor, check func(context.Context) (string, string, error), dump func()) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	deadline := time.Now().Add(duration())

	rounds := 0
	for time.Now().Before(deadline) {
		stop := make(chan struct{})
		g, gctx := errgroup.WithContext(ctx)
		for _, a := range actorsInPlay {
			actorRNG := rand.New(rand.NewSource(rng.Int63()))
			g.Go(func() error { return a(gctx, actorRNG, stop) })
		}

		select {
		case <-ctx.Done():
		case <-time.After(*flRound):
		}
		close(stop)
		if err := g.Wait(); err != nil {
			dump()
			t.Fatalf("actors errored in round %d: %v (seed=%d)", rounds, err, seed)
		}
		if ctx.Err() != nil {
			t.Fatalf("run timed out after %d rounds (seed=%d)", rounds, seed)
		}

		name, detail, err := check(ctx)
		if err != nil {
			t.Fatalf("oracle error: %v (seed=%d)", err, seed)
		}
		if name != "" {
			dump()
			t.Fatalf("Oracle %s failed after round %d: %s (seed=%d)", name, rounds, detail, seed)
		}
		rounds++
	}
	t.Logf("%d rounds without violations (seed=%d)", rounds, seed)
}

func TestRentflowConcurrency(t *testing.T) {
	seed := *flSeed
	ctx, cancel := context.WithTimeout(context.Background(), duration()+time.Minute)
	defer cancel()

	w := newWorld(t, nil)
	runRounds(t, ctx, seed, cast(w),
		func(ctx context.Context) (string, string, error) { return oracles.Verify(ctx, w) },
		func() { dumpEvents(t, w) },
	)
	logActivity(t, w)
}

func TestRentflowJournalConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping journal stress in short mode")
	}
	seed := *flSeed
	ctx, cancel := context.WithTimeout(context.Background(), duration()+2*time.Minute)
	defer cancel()

	var (
		pool     *pgxpool.Pool
		teardown func()
		err      error
	)
	switch {
	case *flDSN != "":
		var drop func(context.Context) error
		pool, drop, err = infra.ApplyMigrations(ctx, *flDSN, true)
		if err != nil {
			t.Fatalf("apply migrations: %v", err)
		}
		teardown = func() {
			pool.Close()
			if err := drop(context.Background()); err != nil {
				t.Logf("teardown warning: %v", err)
			}
		}
	case infra.CanRun(ctx):
		pool, teardown, err = infra.Setup(ctx)
		if err != nil {
			t.Fatalf("setup database: %v", err)
		}
	default:
		t.Skip("no database available: set " + infra.DSNEnv + " or start Docker")
	}
	defer teardown()

	w := newWorld(t, timeline.NewPGRecorder(pool))
	logger := quietLogger()
	actorsInPlay := cast(w)
	for i := 0; i < 2; i++ {
		actorsInPlay = append(actorsInPlay, func(ctx context.Context, rng *rand.Rand, stop <-chan struct{}) error {
			return actors.OutboxRelay(ctx, pool, relayMaxAttempts, logger, rng, stop)
		})
	}

	runRounds(t, ctx, seed, actorsInPlay,
		func(ctx context.Context) (string, string, error) {
			if name, detail, err := oracles.Verify(ctx, w); name != "" || err != nil {
				return name, detail, err
			}
			return oracles.Run(ctx, pool, relayMaxAttempts)
		},
		func() { dumpRecent(t, ctx, pool) },
	)

	reliable := timeline.NewRelay(pool, timeline.PublisherFunc(func(context.Context, timeline.Message) error { return nil }), logger).
		WithMaxAttempts(relayMaxAttempts)
	for {
		n, err := reliable.DispatchOnce(ctx)
		if err != nil {
			t.Fatalf("drain outbox: %v", err)
		}
		if n == 0 {
			break
		}
	}
	pending, err := timeline.NewPGReader(pool).PendingOutbox(ctx)
	if err != nil {
		t.Fatalf("count pending outbox: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected drained outbox, %d messages pending", pending)
	}

	var journaled int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM timeline_events`).Scan(&journaled); err != nil {
		t.Fatalf("count timeline: %v", err)
	}
	if inMemory := len(w.Events.Events()); journaled != inMemory {
		t.Fatalf("journal holds %d events, memory holds %d", journaled, inMemory)
	}
	logActivity(t, w)
}

func logActivity(t *testing.T, w *actors.World) {
	t.Helper()
	counts := make(map[timeline.EventType]int)
	for _, ev := range w.Events.Events() {
		counts[ev.Type]++
	}
	t.Logf("events: %v inflow=%d delivered=%d lost=%d parked=%d", counts, w.Inflow(), w.Payer.Delivered(), w.Lost(), w.Ledger.Parked())
}

func dumpEvents(t *testing.T, w *actors.World) {
	t.Helper()
	events := w.Events.Events()
	if len(events) > 50 {
		events = events[len(events)-50:]
	}
	t.Logf("-- last %d events --", len(events))
	for _, ev := range events {
		t.Logf("position=%d type=%s actor=%s payload=%v", ev.PositionID, ev.Type, ev.Actor, ev.Payload)
	}
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"timeline_events", `SELECT id, position_id, seq, type, occurred_at FROM timeline_events ORDER BY seq DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
