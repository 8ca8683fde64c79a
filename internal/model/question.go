package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Question validation errors.
var (
	ErrTooFewOptions          = errors.New("question needs at least two options")
	ErrNoCorrectOption        = errors.New("question needs at least one correct option")
	ErrCorrectOptionRange     = errors.New("correct option index out of range")
	ErrDuplicateCorrectOption = errors.New("correct option index listed twice")
	ErrSingleAnswerMultiple   = errors.New("single-answer question has more than one correct option")
)

// Question represents a single evaluation question.
type Question struct {
	ID                    uuid.UUID `json:"id"`
	Subject               string    `json:"subject"`
	Category              string    `json:"category"`
	Prompt                string    `json:"prompt"`
	Options               []string  `json:"options"`
	CorrectOptionIndices  []int     `json:"correct_option_indices"`
	AllowsMultipleCorrect bool      `json:"allows_multiple_correct"`
	OrderNum              int       `json:"order_num"`
}

// Validate checks the option/correct-index invariants that struct tags cannot express.
func (q *Question) Validate() error {
	if len(q.Options) < 2 {
		return fmt.Errorf("question %s: %w", q.ID, ErrTooFewOptions)
	}
	if len(q.CorrectOptionIndices) == 0 {
		return fmt.Errorf("question %s: %w", q.ID, ErrNoCorrectOption)
	}
	if !q.AllowsMultipleCorrect && len(q.CorrectOptionIndices) != 1 {
		return fmt.Errorf("question %s: %w", q.ID, ErrSingleAnswerMultiple)
	}

	seen := make(map[int]struct{}, len(q.CorrectOptionIndices))
	for _, idx := range q.CorrectOptionIndices {
		if idx < 0 || idx >= len(q.Options) {
			return fmt.Errorf("question %s: %w: %d", q.ID, ErrCorrectOptionRange, idx)
		}
		if _, dup := seen[idx]; dup {
			return fmt.Errorf("question %s: %w: %d", q.ID, ErrDuplicateCorrectOption, idx)
		}
		seen[idx] = struct{}{}
	}
	return nil
}

// ForCandidate strips the answer key.
func (q *Question) ForCandidate() QuestionForCandidate {
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return QuestionForCandidate{
		ID:                    q.ID,
		Subject:               q.Subject,
		Category:              q.Category,
		Prompt:                q.Prompt,
		Options:               options,
		AllowsMultipleCorrect: q.AllowsMultipleCorrect,
	}
}

// QuestionForCandidate is a question without the correct answers, sent to candidates.
type QuestionForCandidate struct {
	ID                    uuid.UUID `json:"id"`
	Subject               string    `json:"subject"`
	Category              string    `json:"category"`
	Prompt                string    `json:"prompt"`
	Options               []string  `json:"options"`
	AllowsMultipleCorrect bool      `json:"allows_multiple_correct"`
}

// AddQuestionRequest is one question inside a CreateEvaluationRequest.
type AddQuestionRequest struct {
	Subject               string   `json:"subject" validate:"required,max=255"`
	Category              string   `json:"category" validate:"required,max=255"`
	Prompt                string   `json:"prompt" validate:"required,min=1,max=2000"`
	Options               []string `json:"options" validate:"required,min=2,dive,required,max=1000"`
	CorrectOptionIndices  []int    `json:"correct_option_indices" validate:"required,min=1,dive,min=0"`
	AllowsMultipleCorrect bool     `json:"allows_multiple_correct"`
}
