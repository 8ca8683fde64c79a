package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/response"
	"github.com/stemsi/exstem-evaluation/internal/service"
	"github.com/stemsi/exstem-evaluation/internal/validator"
)

const maxPerPage = 100

// EvaluatorHandler serves the evaluator API: evaluations, invitations and
// results.
type EvaluatorHandler struct {
	evaluations *service.EvaluationService
	invites     *service.InviteService
	results     *service.ResultService
	log         zerolog.Logger
}

// NewEvaluatorHandler creates a new EvaluatorHandler.
func NewEvaluatorHandler(
	evaluations *service.EvaluationService,
	invites *service.InviteService,
	results *service.ResultService,
	log zerolog.Logger,
) *EvaluatorHandler {
	return &EvaluatorHandler{
		evaluations: evaluations,
		invites:     invites,
		results:     results,
		log:         log.With().Str("component", "evaluator_handler").Logger(),
	}
}

// CreateEvaluation godoc
// POST /api/v1/evaluator/evaluations
func (h *EvaluatorHandler) CreateEvaluation(c *gin.Context) {
	var req model.CreateEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	evaluation, err := h.evaluations.Create(c.Request.Context(), &req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, evaluation)
}

// GetEvaluation godoc
// GET /api/v1/evaluator/evaluations/:id
func (h *EvaluatorHandler) GetEvaluation(c *gin.Context) {
	id, ok := evaluationParam(c)
	if !ok {
		return
	}

	evaluation, err := h.evaluations.GetByID(c.Request.Context(), id)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, evaluation)
}

// PublishEvaluation godoc
// POST /api/v1/evaluator/evaluations/:id/publish
func (h *EvaluatorHandler) PublishEvaluation(c *gin.Context) {
	id, ok := evaluationParam(c)
	if !ok {
		return
	}

	if err := h.evaluations.Publish(c.Request.Context(), id); err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id, "status": model.EvaluationStatusPublished})
}

// IssueInvitation godoc
// POST /api/v1/evaluator/invitations
// Only published evaluations accept candidates.
func (h *EvaluatorHandler) IssueInvitation(c *gin.Context) {
	var req model.IssueInvitationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	evaluation, err := h.evaluations.GetByID(c.Request.Context(), req.EvaluationID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if evaluation.Status != model.EvaluationStatusPublished {
		response.Fail(c, http.StatusForbidden, response.ErrEvaluationNotPublished)
		return
	}

	token, claims, err := h.invites.Issue(req.EvaluationID, req.Candidate, time.Duration(req.ExpiryHours)*time.Hour)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	h.log.Info().
		Str("evaluation_id", req.EvaluationID.String()).
		Str("candidate", req.Candidate).
		Msg("Invitation issued")

	response.Success(c, http.StatusCreated, gin.H{
		"access_token":  token,
		"evaluation_id": claims.EvaluationID,
		"candidate":     claims.Candidate,
		"expires_at":    claims.ExpiresAt.Time,
	})
}

// RevokeInvitation godoc
// POST /api/v1/evaluator/invitations/revoke
func (h *EvaluatorHandler) RevokeInvitation(c *gin.Context) {
	var req struct {
		AccessToken string `json:"access_token" binding:"required"`
	}
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	claims, err := h.invites.Validate(c.Request.Context(), req.AccessToken)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if err := h.invites.Revoke(c.Request.Context(), claims); err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// ListResults godoc
// GET /api/v1/evaluator/evaluations/:id/results?page=&per_page=
func (h *EvaluatorHandler) ListResults(c *gin.Context) {
	id, ok := evaluationParam(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = 20
	}

	results, total, err := h.results.ListResults(c.Request.Context(), id, page, perPage)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, results, response.NewPagination(page, perPage, total))
}

func evaluationParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
