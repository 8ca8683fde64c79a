package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/middleware"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/response"
	"github.com/stemsi/exstem-evaluation/internal/service"
	"github.com/stemsi/exstem-evaluation/internal/validator"
)

// CandidateHandler serves the candidate's evaluation session over REST.
type CandidateHandler struct {
	sessions *service.SessionManager
	log      zerolog.Logger
}

// NewCandidateHandler creates a new CandidateHandler.
func NewCandidateHandler(sessions *service.SessionManager, log zerolog.Logger) *CandidateHandler {
	return &CandidateHandler{
		sessions: sessions,
		log:      log.With().Str("component", "candidate_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/candidate/session
// Starts the evaluation, or resumes the candidate's autosaved session.
func (h *CandidateHandler) StartSession(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}

	view, err := h.sessions.Start(c.Request.Context(), key, middleware.GetAccessToken(c))
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GetSession godoc
// GET /api/v1/candidate/session
func (h *CandidateHandler) GetSession(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}

	view, err := h.sessions.View(key)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Navigate godoc
// PUT /api/v1/candidate/session/current
func (h *CandidateHandler) Navigate(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.sessions.Navigate(key, *req.Index)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Answer godoc
// PUT /api/v1/candidate/session/answers/:question_id
func (h *CandidateHandler) Answer(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}
	questionID, ok := questionParam(c)
	if !ok {
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.sessions.Answer(key, questionID, *req.OptionIndex, *req.Selected)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ClearAnswer godoc
// DELETE /api/v1/candidate/session/answers/:question_id
func (h *CandidateHandler) ClearAnswer(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}
	questionID, ok := questionParam(c)
	if !ok {
		return
	}

	view, err := h.sessions.ClearAnswer(key, questionID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ToggleFlag godoc
// POST /api/v1/candidate/session/flags/:question_id
func (h *CandidateHandler) ToggleFlag(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}
	questionID, ok := questionParam(c)
	if !ok {
		return
	}

	view, err := h.sessions.ToggleFlag(key, questionID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Submit godoc
// POST /api/v1/candidate/session/submit
// Submitting twice returns the same result.
func (h *CandidateHandler) Submit(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}

	result, err := h.sessions.Submit(c.Request.Context(), key)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GetResult godoc
// GET /api/v1/candidate/result
func (h *CandidateHandler) GetResult(c *gin.Context) {
	key, ok := sessionKey(c)
	if !ok {
		return
	}

	result, err := h.sessions.Result(c.Request.Context(), key)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// sessionKey reads the candidate's session key from the access token claims.
func sessionKey(c *gin.Context) (service.SessionKey, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return service.SessionKey{}, false
	}
	return service.KeyFromClaims(claims), true
}

func questionParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
