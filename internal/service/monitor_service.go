package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/repository"
	"github.com/stemsi/exstem-evaluation/internal/session"
)

// MonitorEventType names a message on an evaluation's monitor channel.
type MonitorEventType string

const (
	MonitorSessionStarted   MonitorEventType = "session_started"
	MonitorSessionProgress  MonitorEventType = "session_progress"
	MonitorSessionPhase     MonitorEventType = "session_phase"
	MonitorAttemptCompleted MonitorEventType = "attempt_completed"
)

// MonitorEvent is published as JSON on the evaluation's Redis channel and
// forwarded verbatim to evaluators over SSE.
type MonitorEvent struct {
	Type             MonitorEventType   `json:"type"`
	EvaluationID     uuid.UUID          `json:"evaluation_id"`
	Candidate        string             `json:"candidate"`
	AttemptID        uuid.UUID          `json:"attempt_id"`
	Phase            model.SessionPhase `json:"phase,omitempty"`
	RemainingSeconds int                `json:"remaining_seconds,omitempty"`
	AnsweredCount    int                `json:"answered_count"`
	FlaggedCount     int                `json:"flagged_count"`
	Score            *int               `json:"score,omitempty"`
	At               time.Time          `json:"at"`
}

// ProgressStore reads the durable progress of an evaluation.
type ProgressStore interface {
	GetInProgress(ctx context.Context, evaluationID uuid.UUID) ([]repository.CandidateProgress, error)
	GetCompleted(ctx context.Context, evaluationID uuid.UUID) ([]repository.CandidateProgress, error)
}

// ProgressSnapshot is the initial state sent to an evaluator.
type ProgressSnapshot struct {
	InProgress []repository.CandidateProgress `json:"in_progress"`
	Completed  []repository.CandidateProgress `json:"completed"`
}

// MonitorService publishes live session activity and serves monitor snapshots.
type MonitorService struct {
	rdb      *redis.Client
	progress ProgressStore
	log      zerolog.Logger
}

// NewMonitorService creates a new MonitorService. progress may be nil when
// only publishing is needed.
func NewMonitorService(rdb *redis.Client, progress ProgressStore, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		rdb:      rdb,
		progress: progress,
		log:      log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish sends one event. Failures are logged, never returned: monitoring
// must not affect candidates.
func (s *MonitorService) Publish(ctx context.Context, ev *MonitorEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal monitor event")
		return
	}
	channel := config.CacheKey.EvaluationMonitorChannel(ev.EvaluationID)
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("channel", channel).Msg("Publish monitor event failed")
	}
}

// PublishSessionEvent forwards a session event. Ticks and navigation are
// too chatty for the monitor and are dropped.
func (s *MonitorService) PublishSessionEvent(ctx context.Context, ev session.Event) {
	var t MonitorEventType
	switch ev.Type {
	case session.EventAnswered, session.EventFlagged:
		t = MonitorSessionProgress
	case session.EventPhaseChanged:
		t = MonitorSessionPhase
		if ev.Phase == model.SessionPhaseInProgress {
			t = MonitorSessionStarted
		}
	default:
		return
	}

	s.Publish(ctx, &MonitorEvent{
		Type:             t,
		EvaluationID:     ev.EvaluationID,
		Candidate:        ev.Candidate,
		AttemptID:        ev.AttemptID,
		Phase:            ev.Phase,
		RemainingSeconds: ev.RemainingSeconds,
		AnsweredCount:    ev.AnsweredCount,
		FlaggedCount:     ev.FlaggedCount,
		At:               ev.At,
	})
}

// PublishAttemptCompleted announces an accepted attempt with its score.
func (s *MonitorService) PublishAttemptCompleted(ctx context.Context, a *model.Attempt) {
	score := a.OverallScorePercent
	s.Publish(ctx, &MonitorEvent{
		Type:          MonitorAttemptCompleted,
		EvaluationID:  a.EvaluationID,
		Candidate:     a.CandidateIdentity,
		AttemptID:     a.AttemptID,
		Phase:         model.SessionPhaseCompleted,
		AnsweredCount: a.AnsweredCount,
		Score:         &score,
		At:            a.CompletedAt,
	})
}

// Subscribe attaches to an evaluation's monitor channel.
func (s *MonitorService) Subscribe(ctx context.Context, evaluationID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.EvaluationMonitorChannel(evaluationID))
}

// GetProgress fetches in-progress and completed candidates concurrently.
// Completed rows are required; in-progress rows are best-effort.
func (s *MonitorService) GetProgress(ctx context.Context, evaluationID uuid.UUID) (*ProgressSnapshot, error) {
	snapshot := &ProgressSnapshot{
		InProgress: []repository.CandidateProgress{},
		Completed:  []repository.CandidateProgress{},
	}
	if s.progress == nil {
		return snapshot, nil
	}

	var (
		inProgress    []repository.CandidateProgress
		completed     []repository.CandidateProgress
		inProgressErr error
		completedErr  error
		wg            sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		inProgress, inProgressErr = s.progress.GetInProgress(ctx, evaluationID)
	}()
	go func() {
		defer wg.Done()
		completed, completedErr = s.progress.GetCompleted(ctx, evaluationID)
	}()
	wg.Wait()

	if completedErr != nil {
		return nil, completedErr
	}
	if completed != nil {
		snapshot.Completed = completed
	}
	if inProgressErr != nil {
		s.log.Warn().Err(inProgressErr).Str("evaluation_id", evaluationID.String()).Msg("In-progress lookup failed")
	} else if inProgress != nil {
		snapshot.InProgress = inProgress
	}
	return snapshot, nil
}
