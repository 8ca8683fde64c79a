package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionPhase enumerates evaluation session states.
type SessionPhase string

const (
	SessionPhaseLoading    SessionPhase = "LOADING"
	SessionPhaseInProgress SessionPhase = "IN_PROGRESS"
	SessionPhaseSubmitting SessionPhase = "SUBMITTING"
	SessionPhaseCompleted  SessionPhase = "COMPLETED"
	SessionPhaseFailed     SessionPhase = "FAILED"
)

// IsTerminal reports whether no further transition can happen without a retry.
func (p SessionPhase) IsTerminal() bool {
	return p == SessionPhaseCompleted || p == SessionPhaseFailed
}

// AnswerState is the candidate's state for one question.
// SelectedOptionIndices is kept sorted and free of duplicates.
type AnswerState struct {
	SelectedOptionIndices []int `json:"selected_option_indices"`
	Flagged               bool  `json:"flagged"`
	TimeSpentSeconds      int   `json:"time_spent_seconds"`
}

// Answered reports whether any option is selected.
func (a AnswerState) Answered() bool {
	return len(a.SelectedOptionIndices) > 0
}

// SessionSnapshot is the durable autosave record of an in-progress session.
// Questions are stored post-shuffle so a resumed session shows the same order.
type SessionSnapshot struct {
	AttemptID            uuid.UUID                 `json:"attempt_id"`
	EvaluationID         uuid.UUID                 `json:"evaluation_id"`
	Candidate            string                    `json:"candidate"`
	Title                string                    `json:"title"`
	Description          string                    `json:"description"`
	DurationMinutes      int                       `json:"duration_minutes"`
	Questions            []Question                `json:"questions"`
	Answers              map[uuid.UUID]AnswerState `json:"answers"`
	CurrentQuestionIndex int                       `json:"current_question_index"`
	RemainingSeconds     int                       `json:"remaining_seconds"`
	StartedAt            time.Time                 `json:"started_at"`
	SavedAt              time.Time                 `json:"saved_at"`

	// PendingAttempt is set once the attempt was scored but not yet accepted
	// by the result sink. A restore resends it unchanged.
	PendingAttempt *Attempt `json:"pending_attempt,omitempty"`
}

// SessionView is the candidate-facing state of a session.
type SessionView struct {
	AttemptID            uuid.UUID                 `json:"attempt_id"`
	EvaluationID         uuid.UUID                 `json:"evaluation_id"`
	Phase                SessionPhase              `json:"phase"`
	Title                string                    `json:"title"`
	Description          string                    `json:"description"`
	Questions            []QuestionForCandidate    `json:"questions"`
	Answers              map[uuid.UUID]AnswerState `json:"answers"`
	CurrentQuestionIndex int                       `json:"current_question_index"`
	RemainingSeconds     int                       `json:"remaining_seconds"`
	AnsweredCount        int                       `json:"answered_count"`
	FlaggedCount         int                       `json:"flagged_count"`
	ProgressFraction     float64                   `json:"progress_fraction"`
	StartedAt            time.Time                 `json:"started_at"`
	Error                string                    `json:"error,omitempty"`
}

// NavigateRequest moves the candidate to another question.
type NavigateRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// AnswerRequest selects or deselects one option of a question.
type AnswerRequest struct {
	OptionIndex *int  `json:"option_index" binding:"required,min=0"`
	Selected    *bool `json:"selected" binding:"required"`
}

// IssueInvitationRequest asks for a new candidate access token.
type IssueInvitationRequest struct {
	EvaluationID uuid.UUID `json:"evaluation_id" binding:"required"`
	Candidate    string    `json:"candidate" binding:"required,min=1,max=255"`
	ExpiryHours  int       `json:"expiry_hours" binding:"omitempty,min=1,max=720"`
}
