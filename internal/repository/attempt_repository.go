package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

const insertAttemptSQL = `
	INSERT INTO attempts (
		attempt_id, evaluation_id, candidate, access_token_hash, score,
		correct_count, answered_count, total_questions, breakdown, trigger,
		started_at, completed_at, duration_seconds
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT DO NOTHING`

// AttemptRepository handles finished-attempt data access. Inserts are
// idempotent: replaying an attempt id, or a second attempt for the same
// evaluation and candidate, is silently ignored.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Insert stores one attempt. It reports whether a row was written.
func (r *AttemptRepository) Insert(ctx context.Context, a *model.Attempt) (bool, error) {
	tag, err := r.pool.Exec(ctx, insertAttemptSQL, attemptArgs(a)...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsertBatch stores a batch of attempts in a single transaction.
func (r *AttemptRepository) InsertBatch(ctx context.Context, attempts []*model.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range attempts {
			batch.Queue(insertAttemptSQL, attemptArgs(a)...)
		}
		results := tx.SendBatch(ctx, batch)
		for i := range attempts {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert attempt %s: %w", attempts[i].AttemptID, err)
			}
		}
		return results.Close()
	})
}

// GetByEvaluationAndCandidate returns the stored attempt, without the token.
func (r *AttemptRepository) GetByEvaluationAndCandidate(ctx context.Context, evaluationID uuid.UUID, candidate string) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT attempt_id, evaluation_id, candidate, score, correct_count, answered_count,
		        total_questions, breakdown, trigger, started_at, completed_at, duration_seconds
		 FROM attempts
		 WHERE evaluation_id = $1 AND candidate = $2`, evaluationID, candidate,
	).Scan(&a.AttemptID, &a.EvaluationID, &a.CandidateIdentity, &a.OverallScorePercent,
		&a.CorrectCount, &a.AnsweredCount, &a.TotalQuestions, &a.Categories, &a.Trigger,
		&a.StartedAt, &a.CompletedAt, &a.DurationSeconds)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByEvaluationPaginated returns one page of an evaluation's stored
// attempts, newest first, along with the total count.
func (r *AttemptRepository) ListByEvaluationPaginated(ctx context.Context, evaluationID uuid.UUID, limit, offset int) ([]model.Attempt, int, error) {
	// 1. Get total count
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE evaluation_id = $1`, evaluationID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	// 2. Get paginated data
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, evaluation_id, candidate, score, correct_count, answered_count,
		        total_questions, breakdown, trigger, started_at, completed_at, duration_seconds
		 FROM attempts
		 WHERE evaluation_id = $1
		 ORDER BY completed_at DESC, attempt_id
		 LIMIT $2 OFFSET $3`, evaluationID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.AttemptID, &a.EvaluationID, &a.CandidateIdentity, &a.OverallScorePercent,
			&a.CorrectCount, &a.AnsweredCount, &a.TotalQuestions, &a.Categories, &a.Trigger,
			&a.StartedAt, &a.CompletedAt, &a.DurationSeconds); err != nil {
			return nil, 0, err
		}
		attempts = append(attempts, a)
	}
	return attempts, total, rows.Err()
}

func attemptArgs(a *model.Attempt) []any {
	categories := a.Categories
	if categories == nil {
		categories = []model.CategoryScore{}
	}
	return []any{
		a.AttemptID, a.EvaluationID, a.CandidateIdentity, HashToken(a.AccessToken), a.OverallScorePercent,
		a.CorrectCount, a.AnsweredCount, a.TotalQuestions, categories, a.Trigger,
		a.StartedAt, a.CompletedAt, a.DurationSeconds,
	}
}

// HashToken returns the hex SHA-256 of an access token. Raw tokens are never stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
