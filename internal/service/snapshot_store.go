package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/metrics"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// SnapshotArchive is the durable snapshot copy kept in PostgreSQL.
type SnapshotArchive interface {
	Get(ctx context.Context, evaluationID uuid.UUID, candidate string) (*model.SessionSnapshot, error)
}

// SnapshotStore keeps session autosaves in Redis and queues them for the
// snapshot worker, which writes the durable copy.
type SnapshotStore struct {
	rdb     *redis.Client
	archive SnapshotArchive
	ttl     time.Duration
	log     zerolog.Logger
}

// NewSnapshotStore creates a new SnapshotStore. archive may be nil.
func NewSnapshotStore(rdb *redis.Client, archive SnapshotArchive, ttl time.Duration, log zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		rdb:     rdb,
		archive: archive,
		ttl:     ttl,
		log:     log.With().Str("component", "snapshot_store").Logger(),
	}
}

// Save writes the snapshot and queues it for persistence.
func (s *SnapshotStore) Save(ctx context.Context, snap *model.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.SessionSnapshotKey(snap.EvaluationID, snap.Candidate), data, s.ttl)
	pipe.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, data)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.Autosaves.WithLabelValues("error").Inc()
		return fmt.Errorf("save snapshot: %w", err)
	}

	metrics.Autosaves.WithLabelValues("ok").Inc()
	return nil
}

// Load returns the latest snapshot, or nil when the candidate has none.
func (s *SnapshotStore) Load(ctx context.Context, evaluationID uuid.UUID, candidate string) (*model.SessionSnapshot, error) {
	key := config.CacheKey.SessionSnapshotKey(evaluationID, candidate)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var snap model.SessionSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		return &snap, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	if s.archive == nil {
		return nil, nil
	}

	// [CACHE MISS] Redis evicted it or was restarted; PostgreSQL has the durable copy.
	snap, err := s.archive.Get(ctx, evaluationID, candidate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get archived snapshot: %w", err)
	}

	if raw, err := json.Marshal(snap); err == nil {
		_ = s.rdb.Set(ctx, key, raw, s.ttl).Err()
	}
	s.log.Debug().Str("evaluation_id", evaluationID.String()).Str("candidate", candidate).Msg("Snapshot restored from archive")
	return snap, nil
}

// Delete drops the cached snapshot. The durable copy is removed by the
// attempt worker once the attempt is stored.
func (s *SnapshotStore) Delete(ctx context.Context, evaluationID uuid.UUID, candidate string) error {
	return s.rdb.Del(ctx, config.CacheKey.SessionSnapshotKey(evaluationID, candidate)).Err()
}
