package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/metrics"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/session"
	"github.com/stemsi/exstem-evaluation/internal/validator"
)

// EvaluationStore is the evaluation persistence the service needs.
type EvaluationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Evaluation, error)
	ListPublished(ctx context.Context) ([]model.Evaluation, error)
	CreateWithQuestions(ctx context.Context, e *model.Evaluation, questions []model.Question) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.EvaluationStatus) error
}

// QuestionStore lists an evaluation's questions with the answer key.
type QuestionStore interface {
	ListByEvaluation(ctx context.Context, evaluationID uuid.UUID) ([]model.Question, error)
}

// EvaluationService resolves access tokens to evaluation definitions. The
// definition is served from Redis and rebuilt from PostgreSQL on a miss.
type EvaluationService struct {
	evaluations EvaluationStore
	questions   QuestionStore
	invites     *InviteService
	rdb         *redis.Client
	ttl         time.Duration
	log         zerolog.Logger
}

// NewEvaluationService creates a new EvaluationService.
func NewEvaluationService(
	evaluations EvaluationStore,
	questions QuestionStore,
	invites *InviteService,
	rdb *redis.Client,
	ttl time.Duration,
	log zerolog.Logger,
) *EvaluationService {
	return &EvaluationService{
		evaluations: evaluations,
		questions:   questions,
		invites:     invites,
		rdb:         rdb,
		ttl:         ttl,
		log:         log.With().Str("component", "evaluation_service").Logger(),
	}
}

// Fetch implements session.QuestionSource.
func (s *EvaluationService) Fetch(ctx context.Context, accessToken string) (*model.EvaluationDefinition, error) {
	claims, err := s.invites.Validate(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrEvaluationNotFound, err)
	}
	return s.Definition(ctx, claims.EvaluationID)
}

// Definition returns the full definition of a published evaluation.
func (s *EvaluationService) Definition(ctx context.Context, evaluationID uuid.UUID) (*model.EvaluationDefinition, error) {
	key := config.CacheKey.EvaluationDefinitionKey(evaluationID)

	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var def model.EvaluationDefinition
		jsonErr := json.Unmarshal(data, &def)
		if jsonErr == nil {
			metrics.DefinitionCacheLookups.WithLabelValues("hit").Inc()
			return &def, nil
		}
		s.log.Warn().Err(jsonErr).Str("evaluation_id", evaluationID.String()).Msg("Corrupt cached definition, reloading")
	case !errors.Is(err, redis.Nil):
		// Redis trouble should not stop candidates from starting.
		s.log.Warn().Err(err).Str("evaluation_id", evaluationID.String()).Msg("Definition cache read failed")
	}
	metrics.DefinitionCacheLookups.WithLabelValues("miss").Inc()

	evaluation, err := s.GetByID(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if evaluation.Status != model.EvaluationStatusPublished {
		return nil, fmt.Errorf("%w: %w", session.ErrEvaluationNotFound, ErrEvaluationNotPublished)
	}

	def, err := s.build(ctx, evaluation)
	if err != nil {
		return nil, err
	}

	// Self-heal: put it back in Redis so the next candidate is fast.
	if err := s.cache(ctx, def); err != nil {
		s.log.Warn().Err(err).Str("evaluation_id", evaluationID.String()).Msg("Definition cache write failed")
	}
	return def, nil
}

// GetByID returns the evaluation header. Unknown ids wrap session.ErrEvaluationNotFound.
func (s *EvaluationService) GetByID(ctx context.Context, id uuid.UUID) (*model.Evaluation, error) {
	evaluation, err := s.evaluations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", session.ErrEvaluationNotFound, id)
		}
		return nil, fmt.Errorf("get evaluation: %w", err)
	}
	return evaluation, nil
}

// Create validates and stores a new evaluation. A published evaluation is
// cached immediately.
func (s *EvaluationService) Create(ctx context.Context, req *model.CreateEvaluationRequest) (*model.Evaluation, error) {
	if fields := validator.Struct(req); fields != nil {
		return nil, validator.FieldsError(fields)
	}

	questions := make([]model.Question, len(req.Questions))
	for i, q := range req.Questions {
		correct := make([]int, len(q.CorrectOptionIndices))
		copy(correct, q.CorrectOptionIndices)
		questions[i] = model.Question{
			ID:                    uuid.New(),
			Subject:               q.Subject,
			Category:              q.Category,
			Prompt:                q.Prompt,
			Options:               q.Options,
			CorrectOptionIndices:  correct,
			AllowsMultipleCorrect: q.AllowsMultipleCorrect,
			OrderNum:              i + 1,
		}
	}

	def := &model.EvaluationDefinition{
		Title:           req.Title,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Questions:       questions,
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrInvalidDefinition, err)
	}

	evaluation := &model.Evaluation{
		Title:           req.Title,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Status:          model.EvaluationStatusDraft,
	}
	if req.Publish {
		evaluation.Status = model.EvaluationStatusPublished
	}

	if err := s.evaluations.CreateWithQuestions(ctx, evaluation, questions); err != nil {
		return nil, fmt.Errorf("create evaluation: %w", err)
	}

	s.log.Info().
		Str("evaluation_id", evaluation.ID.String()).
		Int("questions", len(questions)).
		Str("status", string(evaluation.Status)).
		Msg("Evaluation created")

	if evaluation.Status == model.EvaluationStatusPublished {
		def.EvaluationID = evaluation.ID
		if err := s.cache(ctx, def); err != nil {
			s.log.Warn().Err(err).Str("evaluation_id", evaluation.ID.String()).Msg("Definition cache write failed")
		}
	}
	return evaluation, nil
}

// Publish marks a draft evaluation as published and warms its cache. Any
// other status, published included, yields ErrEvaluationNotDraft.
func (s *EvaluationService) Publish(ctx context.Context, id uuid.UUID) error {
	evaluation, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if evaluation.Status != model.EvaluationStatusDraft {
		return fmt.Errorf("%w: status is %s", ErrEvaluationNotDraft, evaluation.Status)
	}

	if err := s.evaluations.UpdateStatus(ctx, id, model.EvaluationStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	evaluation.Status = model.EvaluationStatusPublished

	if err := s.WarmCache(ctx, evaluation); err != nil {
		return err
	}
	s.log.Info().Str("evaluation_id", id.String()).Msg("Evaluation published")
	return nil
}

// WarmCache loads an evaluation from PostgreSQL into Redis.
func (s *EvaluationService) WarmCache(ctx context.Context, evaluation *model.Evaluation) error {
	def, err := s.build(ctx, evaluation)
	if err != nil {
		return err
	}
	if err := s.cache(ctx, def); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("evaluation_id", evaluation.ID.String()).
		Int("questions", len(def.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published evaluations into Redis on startup.
func (s *EvaluationService) PrewarmAllCaches(ctx context.Context) error {
	evaluations, err := s.evaluations.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published evaluations: %w", err)
	}

	if len(evaluations) == 0 {
		s.log.Info().Msg("No published evaluations to prewarm")
		return nil
	}

	warmed := 0
	for i := range evaluations {
		if err := s.WarmCache(ctx, &evaluations[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("evaluation_id", evaluations[i].ID.String()).
				Msg("Failed to warm evaluation, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(evaluations)).
		Msg("Prewarming complete")
	return nil
}

// Invalidate drops the cached definition.
func (s *EvaluationService) Invalidate(ctx context.Context, id uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.EvaluationDefinitionKey(id)).Err()
}

func (s *EvaluationService) build(ctx context.Context, evaluation *model.Evaluation) (*model.EvaluationDefinition, error) {
	questions, err := s.questions.ListByEvaluation(ctx, evaluation.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	def := &model.EvaluationDefinition{
		EvaluationID:    evaluation.ID,
		Title:           evaluation.Title,
		Description:     evaluation.Description,
		DurationMinutes: evaluation.DurationMinutes,
		Questions:       questions,
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrInvalidDefinition, err)
	}
	return def, nil
}

func (s *EvaluationService) cache(ctx context.Context, def *model.EvaluationDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	return s.rdb.Set(ctx, config.CacheKey.EvaluationDefinitionKey(def.EvaluationID), data, s.ttl).Err()
}
