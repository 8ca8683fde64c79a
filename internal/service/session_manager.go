package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/metrics"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/session"
)

const (
	defaultTickInterval  = time.Second
	submitRetryBaseDelay = time.Second
	submitRetryMaxDelay  = 30 * time.Second
	backgroundOpTimeout  = 5 * time.Second
)

// SessionKey identifies one candidate's attempt at one evaluation.
type SessionKey struct {
	EvaluationID uuid.UUID
	Candidate    string
}

// KeyFromClaims builds the session key an access token grants.
func KeyFromClaims(c *InviteClaims) SessionKey {
	return SessionKey{EvaluationID: c.EvaluationID, Candidate: c.Candidate}
}

type liveSession struct {
	s      *session.Session
	cancel context.CancelFunc
	// failed is signalled whenever a submission is rejected.
	failed chan struct{}
}

// SessionManagerOption configures a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithTickInterval overrides the one-second countdown tick.
func WithTickInterval(d time.Duration) SessionManagerOption {
	return func(m *SessionManager) { m.tickInterval = d }
}

// WithSubmitRetryDelay sets the first backoff delay before a rejected
// submission is resent.
func WithSubmitRetryDelay(d time.Duration) SessionManagerOption {
	return func(m *SessionManager) { m.retryDelay = d }
}

// WithSessionOptions passes options to every session created.
func WithSessionOptions(opts ...session.Option) SessionManagerOption {
	return func(m *SessionManager) { m.sessionOpts = append(m.sessionOpts, opts...) }
}

// SessionManager owns the live sessions of this instance. Each session gets
// a countdown goroutine and an autosave loop; completed sessions are
// discarded and their snapshots dropped.
type SessionManager struct {
	source    session.QuestionSource
	sink      session.ResultSink
	snapshots *SnapshotStore
	results   *ResultService
	monitor   *MonitorService
	log       zerolog.Logger

	autosaveInterval time.Duration
	tickInterval     time.Duration
	retryDelay       time.Duration
	sessionOpts      []session.Option

	mu       sync.Mutex
	live     map[SessionKey]*liveSession
	starting map[SessionKey]chan struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(
	source session.QuestionSource,
	sink session.ResultSink,
	snapshots *SnapshotStore,
	results *ResultService,
	monitor *MonitorService,
	autosaveInterval time.Duration,
	log zerolog.Logger,
	opts ...SessionManagerOption,
) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		source:           source,
		sink:             sink,
		snapshots:        snapshots,
		results:          results,
		monitor:          monitor,
		log:              log.With().Str("component", "session_manager").Logger(),
		autosaveInterval: autosaveInterval,
		tickInterval:     defaultTickInterval,
		retryDelay:       submitRetryBaseDelay,
		live:             make(map[SessionKey]*liveSession),
		starting:         make(map[SessionKey]chan struct{}),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ────────────────────────────────────────────────────────────────────────────

// Start returns the candidate's live session, resuming from the latest
// autosave or loading the evaluation afresh. A candidate who already
// completed the evaluation gets ErrAttemptCompleted.
func (m *SessionManager) Start(ctx context.Context, key SessionKey, accessToken string) (*model.SessionView, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrShuttingDown
		}
		if ls, ok := m.live[key]; ok {
			m.mu.Unlock()
			// Completed sessions linger until their observer removes them.
			if ls.s.Phase() == model.SessionPhaseCompleted {
				return nil, ErrAttemptCompleted
			}
			return ls.s.View(), nil
		}
		wait, busy := m.starting[key]
		if !busy {
			m.starting[key] = make(chan struct{})
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	view, err := m.start(ctx, key, accessToken)

	m.mu.Lock()
	close(m.starting[key])
	delete(m.starting, key)
	m.mu.Unlock()

	return view, err
}

func (m *SessionManager) start(ctx context.Context, key SessionKey, accessToken string) (*model.SessionView, error) {
	if m.results != nil {
		if _, err := m.results.GetResult(ctx, key.EvaluationID, key.Candidate); err == nil {
			return nil, ErrAttemptCompleted
		} else if !errors.Is(err, ErrResultNotFound) {
			return nil, err
		}
	}

	log := m.log.With().
		Str("evaluation_id", key.EvaluationID.String()).
		Str("candidate", key.Candidate).
		Logger()

	opts := append([]session.Option{
		session.WithObserver(func(ev session.Event) { m.onEvent(key, ev) }),
	}, m.sessionOpts...)
	s := session.New(accessToken, key.Candidate, m.source, m.sink, opts...)

	mode := "fresh"
	snap, err := m.snapshots.Load(ctx, key.EvaluationID, key.Candidate)
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot lookup failed, starting fresh")
	}
	if snap != nil && snap.EvaluationID == key.EvaluationID {
		if err := s.Restore(snap); err != nil {
			log.Warn().Err(err).Msg("Snapshot unusable, starting fresh")
		} else if snap.PendingAttempt != nil {
			mode = "resubmit"
		} else {
			mode = "resumed"
		}
	}

	if mode == "fresh" {
		if err := s.Load(ctx); err != nil {
			metrics.SessionLoadFailures.Inc()
			log.Warn().Err(err).Msg("Session failed to load")
			return nil, err
		}
	}

	sessCtx, cancel := context.WithCancel(m.ctx)
	ls := &liveSession{s: s, cancel: cancel, failed: make(chan struct{}, 1)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrShuttingDown
	}
	m.live[key] = ls
	m.mu.Unlock()

	metrics.SessionsActive.Inc()
	metrics.SessionsStarted.WithLabelValues(mode).Inc()
	log.Info().
		Str("attempt_id", s.AttemptID().String()).
		Str("mode", mode).
		Int("remaining_seconds", s.RemainingSeconds()).
		Msg("Session started")

	// Refresh the autosave TTL on resume.
	if mode != "fresh" {
		m.saveSnapshot(key, s)
	}

	m.wg.Add(2)
	go m.drive(sessCtx, key, ls)
	go m.autosaveLoop(sessCtx, key, s)

	return s.View(), nil
}

// drive runs the countdown, then resends every rejected submission, manual
// or timed out, until the sink accepts it or the session is stopped.
func (m *SessionManager) drive(ctx context.Context, key SessionKey, ls *liveSession) {
	defer m.wg.Done()

	if ls.s.Phase() == model.SessionPhaseInProgress {
		ls.s.Run(ctx, m.tickInterval)
	}
	for {
		m.retrySubmit(ctx, key, ls.s)
		select {
		case <-ctx.Done():
			return
		case <-ls.failed:
		}
	}
}

// retrySubmit resends the scored attempt with exponential backoff while the
// session stays Failed.
func (m *SessionManager) retrySubmit(ctx context.Context, key SessionKey, s *session.Session) {
	delay := m.retryDelay
	for ctx.Err() == nil && s.Phase() == model.SessionPhaseFailed && s.Attempt() != nil {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		_, err := s.Submit(ctx)
		if err == nil || errors.Is(err, session.ErrAlreadySubmitted) || errors.Is(err, session.ErrSubmitInProgress) {
			return
		}
		m.log.Warn().Err(err).
			Str("evaluation_id", key.EvaluationID.String()).
			Str("candidate", key.Candidate).
			Dur("retry_in", delay).
			Msg("Submission retry failed")
		delay = min(delay*2, submitRetryMaxDelay)
	}
}

func (m *SessionManager) autosaveLoop(ctx context.Context, key SessionKey, s *session.Session) {
	defer m.wg.Done()
	if m.autosaveInterval <= 0 {
		return
	}

	ticker := time.NewTicker(m.autosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Phase() != model.SessionPhaseInProgress {
				return
			}
			m.saveSnapshot(key, s)
		}
	}
}

// saveSnapshot reports whether a snapshot was written.
func (m *SessionManager) saveSnapshot(key SessionKey, s *session.Session) bool {
	snap, err := s.Snapshot()
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
	defer cancel()
	if err := m.snapshots.Save(ctx, snap); err != nil {
		m.log.Warn().Err(err).
			Str("evaluation_id", key.EvaluationID.String()).
			Str("candidate", key.Candidate).
			Msg("Autosave failed")
		return false
	}
	return true
}

// onEvent runs outside the session lock for every session event.
func (m *SessionManager) onEvent(key SessionKey, ev session.Event) {
	if m.monitor != nil && ev.Type != session.EventTick {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
		m.monitor.PublishSessionEvent(ctx, ev)
		cancel()
	}
	if ev.Type != session.EventPhaseChanged {
		return
	}
	switch ev.Phase {
	case model.SessionPhaseCompleted:
		m.finish(key)
	case model.SessionPhaseFailed:
		m.submitFailed(key)
	}
}

// submitFailed saves the pending attempt so a restart resends it, and wakes
// the retry loop.
func (m *SessionManager) submitFailed(key SessionKey) {
	m.mu.Lock()
	ls, ok := m.live[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.saveSnapshot(key, ls.s)
	select {
	case ls.failed <- struct{}{}:
	default:
	}
}

// finish discards a completed session.
func (m *SessionManager) finish(key SessionKey) {
	m.mu.Lock()
	ls, ok := m.live[key]
	if ok {
		delete(m.live, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	ls.cancel()
	metrics.SessionsActive.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
	defer cancel()
	if err := m.snapshots.Delete(ctx, key.EvaluationID, key.Candidate); err != nil {
		m.log.Warn().Err(err).Str("candidate", key.Candidate).Msg("Snapshot cleanup failed")
	}
	m.log.Info().
		Str("evaluation_id", key.EvaluationID.String()).
		Str("candidate", key.Candidate).
		Msg("Session completed")
}

// Shutdown stops every countdown, writes a final autosave for sessions still
// in progress or waiting on a submission so they resume on the next start,
// and waits for the loops.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make(map[SessionKey]*liveSession, len(m.live))
	for k, ls := range m.live {
		live[k] = ls
	}
	m.mu.Unlock()

	m.cancel()

	saved := 0
	for key, ls := range live {
		if m.saveSnapshot(key, ls.s) {
			saved++
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info().Int("sessions", len(live)).Int("saved", saved).Msg("Session manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Candidate operations
// ────────────────────────────────────────────────────────────────────────────

func (m *SessionManager) get(key SessionKey) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.live[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls.s, nil
}

// Session returns the live session for key.
func (m *SessionManager) Session(key SessionKey) (*session.Session, error) {
	return m.get(key)
}

// View returns the candidate-facing state.
func (m *SessionManager) View(key SessionKey) (*model.SessionView, error) {
	s, err := m.get(key)
	if err != nil {
		return nil, err
	}
	return s.View(), nil
}

// Navigate moves to question index.
func (m *SessionManager) Navigate(key SessionKey, index int) (*model.SessionView, error) {
	s, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if err := s.SetCurrentQuestion(index); err != nil {
		return nil, err
	}
	return s.View(), nil
}

// Answer selects or deselects one option.
func (m *SessionManager) Answer(key SessionKey, questionID uuid.UUID, option int, selected bool) (*model.SessionView, error) {
	s, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if err := s.SetAnswer(questionID, option, selected); err != nil {
		return nil, err
	}
	return s.View(), nil
}

// ClearAnswer empties a question's selection.
func (m *SessionManager) ClearAnswer(key SessionKey, questionID uuid.UUID) (*model.SessionView, error) {
	s, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if err := s.ClearAnswer(questionID); err != nil {
		return nil, err
	}
	return s.View(), nil
}

// ToggleFlag flips the review-later mark.
func (m *SessionManager) ToggleFlag(key SessionKey, questionID uuid.UUID) (*model.SessionView, error) {
	s, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if _, err := s.ToggleFlag(questionID); err != nil {
		return nil, err
	}
	return s.View(), nil
}

// Submit finishes the attempt. Once the session is gone the stored result is
// returned instead, so a repeated submit is harmless.
func (m *SessionManager) Submit(ctx context.Context, key SessionKey) (*model.AttemptResult, error) {
	s, err := m.get(key)
	if errors.Is(err, ErrSessionNotFound) && m.results != nil {
		if res, resErr := m.results.GetResult(ctx, key.EvaluationID, key.Candidate); resErr == nil {
			return res, nil
		}
	}
	if err != nil {
		return nil, err
	}

	attempt, err := s.Submit(ctx)
	if errors.Is(err, session.ErrAlreadySubmitted) {
		return attempt.Result(), nil
	}
	if err != nil {
		return nil, err
	}
	return attempt.Result(), nil
}

// Result returns the stored result of a completed attempt.
func (m *SessionManager) Result(ctx context.Context, key SessionKey) (*model.AttemptResult, error) {
	if s, err := m.get(key); err == nil {
		if a := s.Attempt(); a != nil && s.Phase() == model.SessionPhaseCompleted {
			return a.Result(), nil
		}
	}
	if m.results == nil {
		return nil, ErrResultNotFound
	}
	return m.results.GetResult(ctx, key.EvaluationID, key.Candidate)
}

// ActiveCount is the number of live sessions.
func (m *SessionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
