package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmitTrigger records why an attempt was submitted.
type SubmitTrigger string

const (
	SubmitTriggerManual  SubmitTrigger = "MANUAL"
	SubmitTriggerTimeout SubmitTrigger = "TIMEOUT"
)

// CategoryScore is the per-category slice of an attempt's score.
type CategoryScore struct {
	Category     string `json:"category"`
	CorrectCount int    `json:"correct_count"`
	TotalCount   int    `json:"total_count"`
	Percent      int    `json:"percent"`
}

// Attempt is the finished-attempt record handed to the result sink.
// AttemptID is generated when the session starts and is stable across
// submit retries, so sinks can deduplicate on it.
type Attempt struct {
	AttemptID           uuid.UUID       `json:"attempt_id"`
	EvaluationID        uuid.UUID       `json:"evaluation_id"`
	AccessToken         string          `json:"access_token"`
	CandidateIdentity   string          `json:"candidate_identity"`
	OverallScorePercent int             `json:"overall_score_percent"`
	Categories          []CategoryScore `json:"per_category_breakdown"`
	CorrectCount        int             `json:"correct_count"`
	AnsweredCount       int             `json:"answered_count"`
	TotalQuestions      int             `json:"total_questions"`
	Trigger             SubmitTrigger   `json:"trigger"`
	StartedAt           time.Time       `json:"started_at"`
	CompletedAt         time.Time       `json:"completed_at"`
	DurationSeconds     int             `json:"duration_seconds"`
}

// AttemptResult is the candidate-facing summary of a completed attempt.
type AttemptResult struct {
	AttemptID           uuid.UUID       `json:"attempt_id"`
	EvaluationID        uuid.UUID       `json:"evaluation_id"`
	Candidate           string          `json:"candidate,omitempty"`
	OverallScorePercent int             `json:"overall_score_percent"`
	Categories          []CategoryScore `json:"per_category_breakdown"`
	AnsweredCount       int             `json:"answered_count"`
	TotalQuestions      int             `json:"total_questions"`
	CompletedAt         time.Time       `json:"completed_at"`
	DurationSeconds     int             `json:"duration_seconds"`
}

// Result builds the candidate-facing summary.
func (a *Attempt) Result() *AttemptResult {
	return &AttemptResult{
		AttemptID:           a.AttemptID,
		EvaluationID:        a.EvaluationID,
		OverallScorePercent: a.OverallScorePercent,
		Categories:          a.Categories,
		AnsweredCount:       a.AnsweredCount,
		TotalQuestions:      a.TotalQuestions,
		CompletedAt:         a.CompletedAt,
		DurationSeconds:     a.DurationSeconds,
	}
}
