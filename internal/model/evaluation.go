package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyEvaluation is returned when a definition carries no questions.
var ErrEmptyEvaluation = errors.New("evaluation has no questions")

// EvaluationStatus enumerates the possible states of an evaluation.
type EvaluationStatus string

const (
	EvaluationStatusDraft     EvaluationStatus = "DRAFT"
	EvaluationStatusPublished EvaluationStatus = "PUBLISHED"
	EvaluationStatusArchived  EvaluationStatus = "ARCHIVED"
)

// Evaluation is the stored evaluation header.
type Evaluation struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	DurationMinutes int              `json:"duration_minutes"`
	Status          EvaluationStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// EvaluationDefinition is everything a session needs to run: the header plus
// the ordered question list including the answer key. It is cached in Redis.
type EvaluationDefinition struct {
	EvaluationID    uuid.UUID  `json:"evaluation_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	DurationMinutes int        `json:"duration_minutes"`
	Questions       []Question `json:"questions"`
}

// Validate rejects definitions a session cannot be started from.
func (d *EvaluationDefinition) Validate() error {
	if d.DurationMinutes <= 0 {
		return fmt.Errorf("evaluation %s: duration must be positive", d.EvaluationID)
	}
	if len(d.Questions) == 0 {
		return ErrEmptyEvaluation
	}

	ids := make(map[uuid.UUID]struct{}, len(d.Questions))
	for i := range d.Questions {
		q := &d.Questions[i]
		if _, dup := ids[q.ID]; dup {
			return fmt.Errorf("evaluation %s: duplicate question id %s", d.EvaluationID, q.ID)
		}
		ids[q.ID] = struct{}{}
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CreateEvaluationRequest is the payload accepted by the seeding tool.
type CreateEvaluationRequest struct {
	Title           string               `json:"title" validate:"required,min=3,max=255"`
	Description     string               `json:"description" validate:"omitempty,max=2000"`
	DurationMinutes int                  `json:"duration_minutes" validate:"required,min=1,max=480"`
	Publish         bool                 `json:"publish"`
	Questions       []AddQuestionRequest `json:"questions" validate:"required,min=1,dive"`
}
