package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/response"
	"github.com/stemsi/exstem-evaluation/internal/service"
	"github.com/stemsi/exstem-evaluation/internal/session"
	"github.com/stemsi/exstem-evaluation/internal/validator"
)

// classify maps a service or session error onto an HTTP status and code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInviteExpired):
		return http.StatusUnauthorized, response.ErrTokenExpired
	case errors.Is(err, service.ErrInviteRevoked):
		return http.StatusUnauthorized, response.ErrTokenRevoked
	case errors.Is(err, service.ErrInviteInvalid):
		return http.StatusUnauthorized, response.ErrTokenInvalid
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotStarted
	case errors.Is(err, service.ErrAttemptCompleted), errors.Is(err, session.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, service.ErrResultNotFound):
		return http.StatusNotFound, response.ErrResultNotFound
	case errors.Is(err, service.ErrEvaluationNotPublished):
		return http.StatusForbidden, response.ErrEvaluationNotPublished
	case errors.Is(err, session.ErrEvaluationNotFound):
		return http.StatusNotFound, response.ErrEvaluationNotFound
	case errors.Is(err, session.ErrInvalidDefinition):
		return http.StatusUnprocessableEntity, response.ErrInvalidDefinition
	case errors.Is(err, session.ErrNotInProgress), errors.Is(err, session.ErrAlreadyLoaded):
		return http.StatusConflict, response.ErrSessionNotInProgress
	case errors.Is(err, session.ErrSubmitInProgress):
		return http.StatusConflict, response.ErrSubmitInProgress
	case errors.Is(err, session.ErrUnknownQuestion):
		return http.StatusNotFound, response.ErrUnknownQuestion
	case errors.Is(err, session.ErrInvalidOption):
		return http.StatusBadRequest, response.ErrInvalidOption
	case errors.Is(err, session.ErrQuestionOutOfRange):
		return http.StatusBadRequest, response.ErrQuestionOutOfRange
	case errors.Is(err, service.ErrEvaluationNotDraft):
		return http.StatusConflict, response.ErrConflict
	case errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable, response.ErrUnavailable
	}

	var fieldsErr validator.FieldsError
	if errors.As(err, &fieldsErr) {
		return http.StatusBadRequest, response.ErrValidation
	}
	var submitErr *session.SubmitError
	if errors.As(err, &submitErr) {
		return http.StatusBadGateway, response.ErrSubmitFailed
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failFromError writes the error envelope for err. Unclassified errors are
// logged since the client only sees INTERNAL_ERROR.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	var fieldsErr validator.FieldsError
	if errors.As(err, &fieldsErr) {
		response.FailWithFields(c, status, code, fieldsErr)
		return
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
