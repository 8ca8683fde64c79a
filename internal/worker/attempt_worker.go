package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/event"
	"github.com/stemsi/exstem-evaluation/internal/metrics"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// AttemptStore persists finished attempts.
type AttemptStore interface {
	InsertBatch(ctx context.Context, attempts []*model.Attempt) error
	Insert(ctx context.Context, a *model.Attempt) (bool, error)
}

// SnapshotCleaner removes durable snapshots of stored attempts.
type SnapshotCleaner interface {
	DeleteByAttempts(ctx context.Context, attemptIDs []uuid.UUID) error
}

// AttemptWorker consumes persist_attempts_queue and writes attempts to
// PostgreSQL in batches. Once stored, an attempt's snapshot is deleted and an
// attempt.completed event is published.
type AttemptWorker struct {
	attempts  AttemptStore
	snapshots SnapshotCleaner
	publisher event.Publisher
	consumer  *queueConsumer[model.Attempt]
	log       zerolog.Logger
}

// NewAttemptWorker creates a new AttemptWorker. publisher may be nil.
func NewAttemptWorker(rdb *redis.Client, attempts AttemptStore, snapshots SnapshotCleaner, publisher event.Publisher, log zerolog.Logger) *AttemptWorker {
	w := &AttemptWorker{
		attempts:  attempts,
		snapshots: snapshots,
		publisher: publisher,
		log:       log.With().Str("component", "attempt_worker").Logger(),
	}
	w.consumer = &queueConsumer[model.Attempt]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistAttemptsQueue,
		log:   w.log,
		flush: w.flush,
	}
	return w
}

// Start begins the worker loop. Call in a goroutine.
func (w *AttemptWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AttemptWorker started")
	w.consumer.run(ctx)
}

func (w *AttemptWorker) flush(ctx context.Context, batch []item[model.Attempt]) {
	if len(batch) == 0 {
		return
	}

	started := time.Now()
	err := w.attempts.InsertBatch(ctx, values(batch))
	metrics.ObserveFlush("attempt", started, err)

	stored := values(batch)
	if err != nil {
		w.log.Warn().Err(err).Int("batch", len(batch)).Msg("Bulk attempt insert failed, using fallback")

		stored = stored[:0]
		for _, it := range batch {
			if _, err := w.attempts.Insert(ctx, it.value); err != nil {
				w.log.Error().Err(err).
					Str("attempt_id", it.value.AttemptID.String()).
					Msg("Insert attempt failed, requeueing")
				w.consumer.requeue(ctx, it)
				continue
			}
			stored = append(stored, it.value)
		}
	}

	w.afterStore(ctx, stored)
}

func (w *AttemptWorker) afterStore(ctx context.Context, stored []*model.Attempt) {
	if len(stored) == 0 {
		return
	}

	ids := make([]uuid.UUID, len(stored))
	for i, a := range stored {
		ids[i] = a.AttemptID
	}
	if err := w.snapshots.DeleteByAttempts(ctx, ids); err != nil {
		w.log.Warn().Err(err).Int("count", len(ids)).Msg("Snapshot cleanup failed")
	}

	if w.publisher != nil {
		for _, a := range stored {
			if err := w.publisher.PublishAttemptCompleted(ctx, a); err != nil {
				w.log.Warn().Err(err).Str("attempt_id", a.AttemptID.String()).Msg("Publish attempt.completed failed")
			}
		}
	}

	w.log.Debug().Int("count", len(stored)).Msg("Attempts persisted")
}
