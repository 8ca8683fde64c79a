package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// Older saves never overwrite newer ones, and a save that arrives after its
// attempt was stored is dropped.
const upsertSnapshotSQL = `
	INSERT INTO session_snapshots (evaluation_id, candidate, attempt_id, snapshot, saved_at)
	SELECT $1::uuid, $2::text, $3::uuid, $4::jsonb, $5::timestamptz
	WHERE NOT EXISTS (SELECT 1 FROM attempts WHERE attempt_id = $3::uuid)
	ON CONFLICT (evaluation_id, candidate) DO UPDATE
	SET attempt_id = EXCLUDED.attempt_id,
	    snapshot   = EXCLUDED.snapshot,
	    saved_at   = EXCLUDED.saved_at
	WHERE session_snapshots.saved_at <= EXCLUDED.saved_at`

// SnapshotRepository stores the durable copy of session autosaves.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Upsert writes one snapshot.
func (r *SnapshotRepository) Upsert(ctx context.Context, s *model.SessionSnapshot) error {
	_, err := r.pool.Exec(ctx, upsertSnapshotSQL, s.EvaluationID, s.Candidate, s.AttemptID, s, s.SavedAt)
	return err
}

// UpsertBatch writes a batch of snapshots in one transaction.
func (r *SnapshotRepository) UpsertBatch(ctx context.Context, snaps []*model.SessionSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, s := range snaps {
			batch.Queue(upsertSnapshotSQL, s.EvaluationID, s.Candidate, s.AttemptID, s, s.SavedAt)
		}
		results := tx.SendBatch(ctx, batch)
		for _, s := range snaps {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("upsert snapshot %s: %w", s.AttemptID, err)
			}
		}
		return results.Close()
	})
}

// Get returns the durable snapshot for a candidate, or pgx.ErrNoRows.
func (r *SnapshotRepository) Get(ctx context.Context, evaluationID uuid.UUID, candidate string) (*model.SessionSnapshot, error) {
	s := &model.SessionSnapshot{}
	err := r.pool.QueryRow(ctx,
		`SELECT snapshot FROM session_snapshots WHERE evaluation_id = $1 AND candidate = $2`,
		evaluationID, candidate,
	).Scan(s)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteByAttempts removes snapshots belonging to finished attempts.
func (r *SnapshotRepository) DeleteByAttempts(ctx context.Context, attemptIDs []uuid.UUID) error {
	if len(attemptIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`DELETE FROM session_snapshots WHERE attempt_id = ANY($1::uuid[])`, attemptIDs)
	return err
}
