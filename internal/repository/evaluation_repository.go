package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// EvaluationRepository handles evaluation data access.
type EvaluationRepository struct {
	pool *pgxpool.Pool
}

// NewEvaluationRepository creates a new EvaluationRepository.
func NewEvaluationRepository(pool *pgxpool.Pool) *EvaluationRepository {
	return &EvaluationRepository{pool: pool}
}

// GetByID retrieves an evaluation header by its UUID.
func (r *EvaluationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Evaluation, error) {
	e := &model.Evaluation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, duration_minutes, status, created_at, updated_at
		 FROM evaluations WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.DurationMinutes, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListPublished returns all evaluations with PUBLISHED status.
// Used for cache prewarming on application startup.
func (r *EvaluationRepository) ListPublished(ctx context.Context) ([]model.Evaluation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, duration_minutes, status, created_at, updated_at
		 FROM evaluations WHERE status = $1
		 ORDER BY created_at DESC`, model.EvaluationStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evaluations []model.Evaluation
	for rows.Next() {
		var e model.Evaluation
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.DurationMinutes, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		evaluations = append(evaluations, e)
	}
	return evaluations, rows.Err()
}

// CreateWithQuestions inserts the header and its questions in one transaction.
// Question ids and order numbers are written back into questions.
func (r *EvaluationRepository) CreateWithQuestions(ctx context.Context, e *model.Evaluation, questions []model.Question) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO evaluations (title, description, duration_minutes, status)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at, updated_at`,
			e.Title, e.Description, e.DurationMinutes, e.Status,
		).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}

		for i := range questions {
			if questions[i].ID == uuid.Nil {
				questions[i].ID = uuid.New()
			}
			questions[i].OrderNum = i + 1
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"questions"},
			[]string{"id", "evaluation_id", "subject", "category", "prompt", "options", "correct_options", "allows_multiple", "order_num"},
			pgx.CopyFromSlice(len(questions), func(i int) ([]any, error) {
				q := &questions[i]
				return []any{q.ID, e.ID, q.Subject, q.Category, q.Prompt, q.Options, q.CorrectOptionIndices, q.AllowsMultipleCorrect, q.OrderNum}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy questions: %w", err)
		}
		return nil
	})
}

// UpdateStatus updates an evaluation's status.
func (r *EvaluationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.EvaluationStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE evaluations SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
