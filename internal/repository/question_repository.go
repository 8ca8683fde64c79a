package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByEvaluation retrieves all questions for a given evaluation, answer key
// included, ordered by order_num.
func (r *QuestionRepository) ListByEvaluation(ctx context.Context, evaluationID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, subject, category, prompt, options, correct_options, allows_multiple, order_num
		 FROM questions WHERE evaluation_id = $1
		 ORDER BY order_num`, evaluationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Subject, &q.Category, &q.Prompt, &q.Options,
			&q.CorrectOptionIndices, &q.AllowsMultipleCorrect, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
