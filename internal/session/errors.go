package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors returned by the session and its collaborators.
var (
	// ErrEvaluationNotFound is what a QuestionSource wraps when the access
	// token does not resolve to an evaluation.
	ErrEvaluationNotFound = errors.New("evaluation not found")
	ErrInvalidDefinition  = errors.New("invalid evaluation definition")

	ErrAlreadyLoaded      = errors.New("session already loaded")
	ErrNotInProgress      = errors.New("session is not in progress")
	ErrSubmitInProgress   = errors.New("submission already in progress")
	ErrSubmitPending      = errors.New("submission not yet delivered")
	ErrAlreadySubmitted   = errors.New("attempt already submitted")
	ErrUnknownQuestion    = errors.New("unknown question")
	ErrInvalidOption      = errors.New("option index out of range")
	ErrQuestionOutOfRange = errors.New("question index out of range")
)

// LoadError means the evaluation could not be fetched or was unusable.
// The session is Failed and is not retried automatically.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot start evaluation: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SubmitError means the result sink rejected or could not receive the attempt.
// Calling Submit again resends the same attempt.
type SubmitError struct {
	AttemptID uuid.UUID
	Err       error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit attempt %s: %v", e.AttemptID, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
