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
)

// acceptAttempt marks the attempt id, enqueues the attempt and caches the
// candidate's result in one step. Returns 0 when the id was already accepted.
//
// KEYS[1] ack key, KEYS[2] persist queue, KEYS[3] result key
// ARGV[1] attempt JSON, ARGV[2] result JSON, ARGV[3] ttl seconds
var acceptAttempt = redis.NewScript(`
if redis.call('SET', KEYS[1], '1', 'NX', 'EX', ARGV[3]) then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	redis.call('SET', KEYS[3], ARGV[2], 'EX', ARGV[3])
	return 1
end
return 0
`)

// AttemptArchive reads persisted attempts.
type AttemptArchive interface {
	GetByEvaluationAndCandidate(ctx context.Context, evaluationID uuid.UUID, candidate string) (*model.Attempt, error)
	ListByEvaluationPaginated(ctx context.Context, evaluationID uuid.UUID, limit, offset int) ([]model.Attempt, int, error)
}

// ResultService is the session result sink. Accepted attempts are queued for
// the attempt worker; the same attempt id is only ever accepted once.
type ResultService struct {
	rdb      *redis.Client
	attempts AttemptArchive
	monitor  *MonitorService
	ttl      time.Duration
	log      zerolog.Logger
}

// NewResultService creates a new ResultService. attempts and monitor may be nil.
func NewResultService(rdb *redis.Client, attempts AttemptArchive, monitor *MonitorService, ttl time.Duration, log zerolog.Logger) *ResultService {
	return &ResultService{
		rdb:      rdb,
		attempts: attempts,
		monitor:  monitor,
		ttl:      ttl,
		log:      log.With().Str("component", "result_service").Logger(),
	}
}

// Submit implements session.ResultSink.
func (s *ResultService) Submit(ctx context.Context, a *model.Attempt) error {
	if a == nil || a.AttemptID == uuid.Nil {
		return errors.New("attempt id is required")
	}

	attemptJSON, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	resultJSON, err := json.Marshal(a.Result())
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	keys := []string{
		config.CacheKey.AttemptAckKey(a.AttemptID),
		config.WorkerKey.PersistAttemptsQueue,
		config.CacheKey.CandidateResultKey(a.EvaluationID, a.CandidateIdentity),
	}
	accepted, err := acceptAttempt.Run(ctx, s.rdb, keys, attemptJSON, resultJSON, int(s.ttl/time.Second)).Int()
	if err != nil {
		metrics.AttemptsSubmitted.WithLabelValues(string(a.Trigger), "error").Inc()
		return fmt.Errorf("accept attempt: %w", err)
	}

	if accepted == 0 {
		metrics.AttemptsSubmitted.WithLabelValues(string(a.Trigger), "duplicate").Inc()
		s.log.Debug().Str("attempt_id", a.AttemptID.String()).Msg("Attempt already accepted")
		return nil
	}

	metrics.AttemptsSubmitted.WithLabelValues(string(a.Trigger), "accepted").Inc()
	metrics.AttemptScore.Observe(float64(a.OverallScorePercent))

	s.log.Info().
		Str("attempt_id", a.AttemptID.String()).
		Str("evaluation_id", a.EvaluationID.String()).
		Str("candidate", a.CandidateIdentity).
		Int("score", a.OverallScorePercent).
		Str("trigger", string(a.Trigger)).
		Msg("Attempt accepted")

	if s.monitor != nil {
		s.monitor.PublishAttemptCompleted(ctx, a)
	}
	return nil
}

// GetResult returns the candidate's result, from Redis or PostgreSQL.
func (s *ResultService) GetResult(ctx context.Context, evaluationID uuid.UUID, candidate string) (*model.AttemptResult, error) {
	key := config.CacheKey.CandidateResultKey(evaluationID, candidate)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var res model.AttemptResult
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		return &res, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get result: %w", err)
	}

	if s.attempts == nil {
		return nil, ErrResultNotFound
	}
	attempt, err := s.attempts.GetByEvaluationAndCandidate(ctx, evaluationID, candidate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	res := attempt.Result()
	if raw, err := json.Marshal(res); err == nil {
		_ = s.rdb.Set(ctx, key, raw, s.ttl).Err()
	}
	return res, nil
}

// ListResults returns one page of an evaluation's stored results, newest
// first, and the total count. page starts at 1.
func (s *ResultService) ListResults(ctx context.Context, evaluationID uuid.UUID, page, perPage int) ([]model.AttemptResult, int, error) {
	if s.attempts == nil {
		return []model.AttemptResult{}, 0, nil
	}
	page = max(page, 1)
	perPage = max(perPage, 1)

	attempts, total, err := s.attempts.ListByEvaluationPaginated(ctx, evaluationID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}

	results := make([]model.AttemptResult, 0, len(attempts))
	for i := range attempts {
		res := attempts[i].Result()
		res.Candidate = attempts[i].CandidateIdentity
		results = append(results, *res)
	}
	return results, total, nil
}
