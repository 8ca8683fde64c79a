package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/metrics"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// SnapshotStore persists session autosaves.
type SnapshotStore interface {
	UpsertBatch(ctx context.Context, snaps []*model.SessionSnapshot) error
	Upsert(ctx context.Context, s *model.SessionSnapshot) error
}

// SnapshotWorker consumes persist_snapshots_queue and upserts the durable
// copy of each autosave.
type SnapshotWorker struct {
	store    SnapshotStore
	consumer *queueConsumer[model.SessionSnapshot]
	log      zerolog.Logger
}

// NewSnapshotWorker creates a new SnapshotWorker.
func NewSnapshotWorker(rdb *redis.Client, store SnapshotStore, log zerolog.Logger) *SnapshotWorker {
	w := &SnapshotWorker{
		store: store,
		log:   log.With().Str("component", "snapshot_worker").Logger(),
	}
	w.consumer = &queueConsumer[model.SessionSnapshot]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistSnapshotsQueue,
		log:   w.log,
		flush: w.flush,
	}
	return w
}

// Start begins the worker loop. Call in a goroutine.
func (w *SnapshotWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SnapshotWorker started")
	w.consumer.run(ctx)
}

func (w *SnapshotWorker) flush(ctx context.Context, batch []item[model.SessionSnapshot]) {
	if len(batch) == 0 {
		return
	}

	// Only the newest save per candidate matters within a batch.
	latest := make(map[string]item[model.SessionSnapshot], len(batch))
	order := make([]string, 0, len(batch))
	for _, it := range batch {
		key := it.value.EvaluationID.String() + "/" + it.value.Candidate
		prev, seen := latest[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || !it.value.SavedAt.Before(prev.value.SavedAt) {
			latest[key] = it
		}
	}
	deduped := make([]item[model.SessionSnapshot], len(order))
	for i, key := range order {
		deduped[i] = latest[key]
	}

	started := time.Now()
	err := w.store.UpsertBatch(ctx, values(deduped))
	metrics.ObserveFlush("snapshot", started, err)
	if err == nil {
		w.log.Debug().Int("count", len(deduped)).Msg("Snapshots persisted")
		return
	}

	w.log.Warn().Err(err).Int("batch", len(deduped)).Msg("Bulk snapshot upsert failed, using fallback")
	for _, it := range deduped {
		if err := w.store.Upsert(ctx, it.value); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", it.value.AttemptID.String()).
				Msg("Upsert snapshot failed, requeueing")
			w.consumer.requeue(ctx, it)
		}
	}
}
