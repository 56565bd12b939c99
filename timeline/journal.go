package timeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rentflow/metrics"
)

// Recorder persists events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Journal stamps events and hands them to a Recorder. Events describe state
// that is already committed, so a recorder failure is logged and counted
// instead of being returned to the caller.
type Journal struct {
	recorder    Recorder
	log         logrus.FieldLogger
	now         func() time.Time
	idGenerator func() string
}

func NewJournal(recorder Recorder, log logrus.FieldLogger) *Journal {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Journal{
		recorder:    recorder,
		log:         log,
		now:         time.Now,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (j *Journal) WithClock(now func() time.Time) *Journal {
	j.now = now
	return j
}

func (j *Journal) WithIDGenerator(gen func() string) *Journal {
	j.idGenerator = gen
	return j
}

// Emit records ev. A nil Journal discards events.
func (j *Journal) Emit(ctx context.Context, ev Event) {
	if j == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = j.idGenerator()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = j.now().UTC()
	}
	metrics.RecordEvent(string(ev.Type))

	if j.recorder == nil {
		return
	}
	if err := j.recorder.Record(ctx, ev); err != nil {
		metrics.RecordJournalFailure()
		j.log.WithError(err).
			WithField("event_id", ev.ID).
			WithField("event_type", ev.Type).
			WithField("position_id", ev.PositionID).
			Error("timeline: record event")
	}
}
