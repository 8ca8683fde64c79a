package service

import "errors"

// Service-level errors mapped onto response codes by the handlers.
var (
	ErrInviteInvalid = errors.New("access token is invalid")
	ErrInviteExpired = errors.New("access token has expired")
	ErrInviteRevoked = errors.New("access token has been revoked")

	ErrEvaluationNotPublished = errors.New("evaluation is not published")
	ErrEvaluationNotDraft     = errors.New("evaluation is not a draft")
	ErrSessionNotFound        = errors.New("no live session for this candidate")
	ErrAttemptCompleted       = errors.New("candidate has already completed this evaluation")
	ErrResultNotFound         = errors.New("result not found")
	ErrShuttingDown           = errors.New("service is shutting down")
)
