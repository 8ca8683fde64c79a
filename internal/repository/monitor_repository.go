package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CandidateProgress is one row of the evaluator monitor table.
type CandidateProgress struct {
	Candidate      string `json:"candidate"`
	Status         string `json:"status"`
	AnsweredCount  int    `json:"answered_count"`
	TotalQuestions int    `json:"total_questions"`
	Score          *int   `json:"score,omitempty"`
}

// MonitorRepository provides data access for the live evaluation monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetInProgress lists candidates with a durable autosave and the answered
// count recorded in it.
func (r *MonitorRepository) GetInProgress(ctx context.Context, evaluationID uuid.UUID) ([]CandidateProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.candidate,
		        (SELECT COUNT(*) FROM jsonb_each(s.snapshot->'answers') AS a(qid, state)
		          WHERE jsonb_array_length(COALESCE(a.state->'selected_option_indices', '[]'::jsonb)) > 0),
		        jsonb_array_length(s.snapshot->'questions')
		 FROM session_snapshots s
		 LEFT JOIN attempts t ON t.attempt_id = s.attempt_id
		 WHERE s.evaluation_id = $1 AND t.attempt_id IS NULL
		 ORDER BY s.candidate`,
		evaluationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CandidateProgress
	for rows.Next() {
		p := CandidateProgress{Status: "IN_PROGRESS"}
		if err := rows.Scan(&p.Candidate, &p.AnsweredCount, &p.TotalQuestions); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetCompleted lists candidates with a persisted attempt.
func (r *MonitorRepository) GetCompleted(ctx context.Context, evaluationID uuid.UUID) ([]CandidateProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT candidate, answered_count, total_questions, score
		 FROM attempts
		 WHERE evaluation_id = $1
		 ORDER BY candidate`,
		evaluationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CandidateProgress
	for rows.Next() {
		p := CandidateProgress{Status: "COMPLETED"}
		var score int
		if err := rows.Scan(&p.Candidate, &p.AnsweredCount, &p.TotalQuestions, &score); err != nil {
			return nil, err
		}
		p.Score = &score
		out = append(out, p)
	}
	return out, rows.Err()
}
