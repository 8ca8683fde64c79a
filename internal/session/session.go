// Package session implements the timed evaluation-taking state machine:
// loading and shuffling the question set, capturing answers and flags,
// the countdown with auto-submit, and scoring the finished attempt.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// QuestionSource supplies the evaluation behind an access token. Unknown
// tokens should produce an error wrapping ErrEvaluationNotFound.
type QuestionSource interface {
	Fetch(ctx context.Context, accessToken string) (*model.EvaluationDefinition, error)
}

// ResultSink accepts finished attempts. Submit may be called more than once
// with the same attempt; implementations deduplicate on Attempt.AttemptID.
type ResultSink interface {
	Submit(ctx context.Context, attempt *model.Attempt) error
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithRand sets the random source used for option shuffling.
func WithRand(r *rand.Rand) Option {
	return func(s *Session) { s.rng = r }
}

// WithIDGenerator sets the attempt id generator.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(s *Session) { s.newID = fn }
}

// WithObserver registers a callback invoked for every event, outside the lock.
func WithObserver(fn func(Event)) Option {
	return func(s *Session) { s.observer = fn }
}

// Session is one candidate's attempt at one evaluation. All methods are safe
// for concurrent use.
type Session struct {
	mu sync.Mutex

	source   QuestionSource
	sink     ResultSink
	clock    Clock
	rng      *rand.Rand
	newID    func() uuid.UUID
	observer func(Event)

	accessToken string
	candidate   string

	phase           model.SessionPhase
	attemptID       uuid.UUID
	evaluationID    uuid.UUID
	title           string
	description     string
	durationMinutes int
	questions       []model.Question
	position        map[uuid.UUID]int
	answers         []model.AnswerState
	current         int
	remaining       int
	startedAt       time.Time
	enteredAt       time.Time
	carry           time.Duration

	// attempt is built when entering Submitting and resent unchanged on retry.
	attempt *model.Attempt
	err     error

	outbox      []Event
	undelivered []Event
	dispatching bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New creates a session in the Loading phase.
func New(accessToken, candidate string, source QuestionSource, sink ResultSink, opts ...Option) *Session {
	s := &Session{
		source:      source,
		sink:        sink,
		clock:       SystemClock(),
		newID:       uuid.New,
		accessToken: accessToken,
		candidate:   candidate,
		phase:       model.SessionPhaseLoading,
		subs:        make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = newRand()
	}
	return s
}

// ────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ────────────────────────────────────────────────────────────────────────────

// Load fetches the evaluation and enters InProgress. On failure the session
// moves to Failed with a *LoadError.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != model.SessionPhaseLoading {
		s.mu.Unlock()
		return ErrAlreadyLoaded
	}
	s.mu.Unlock()

	def, err := s.source.Fetch(ctx, s.accessToken)
	if err == nil && def == nil {
		err = ErrEvaluationNotFound
	}
	if err == nil {
		if vErr := def.Validate(); vErr != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidDefinition, vErr)
		}
	}

	s.mu.Lock()
	defer s.unlock()

	if s.phase != model.SessionPhaseLoading {
		return ErrAlreadyLoaded
	}
	if err != nil {
		s.err = &LoadError{Err: err}
		s.phase = model.SessionPhaseFailed
		s.emit(EventPhaseChanged, nil)
		return s.err
	}

	questions := make([]model.Question, len(def.Questions))
	for i, q := range def.Questions {
		questions[i] = ShuffleOptions(q, s.rng)
	}

	now := s.clock.Now()
	s.evaluationID = def.EvaluationID
	s.title = def.Title
	s.description = def.Description
	s.durationMinutes = def.DurationMinutes
	s.attemptID = s.newID()
	s.startedAt = now
	s.begin(questions, make([]model.AnswerState, len(questions)), 0, def.DurationMinutes*60, now)
	return nil
}

// Restore resumes from an autosave snapshot instead of loading afresh. The
// snapshot's shuffled order is kept. Time that passed while no session was
// live still counts against the deadline. A snapshot carrying a pending
// attempt restores into Failed, ready for Submit to resend that attempt.
func (s *Session) Restore(snap *model.SessionSnapshot) error {
	def := model.EvaluationDefinition{
		EvaluationID:    snap.EvaluationID,
		DurationMinutes: snap.DurationMinutes,
		Questions:       snap.Questions,
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if p := snap.PendingAttempt; p != nil && (p.AttemptID != snap.AttemptID || p.EvaluationID != snap.EvaluationID) {
		return fmt.Errorf("%w: pending attempt does not belong to the snapshot", ErrInvalidDefinition)
	}

	s.mu.Lock()
	defer s.unlock()

	if s.phase != model.SessionPhaseLoading {
		return ErrAlreadyLoaded
	}

	now := s.clock.Now()
	remaining := snap.RemainingSeconds
	deadline := snap.StartedAt.Add(time.Duration(snap.DurationMinutes) * time.Minute)
	if left := int(deadline.Sub(now) / time.Second); left < remaining {
		remaining = left
	}
	if remaining < 0 {
		remaining = 0
	}

	questions := make([]model.Question, len(snap.Questions))
	copy(questions, snap.Questions)
	answers := make([]model.AnswerState, len(questions))
	for i, q := range questions {
		a := snap.Answers[q.ID]
		answers[i] = model.AnswerState{
			SelectedOptionIndices: validSelection(a.SelectedOptionIndices, len(q.Options), q.AllowsMultipleCorrect),
			Flagged:               a.Flagged,
			TimeSpentSeconds:      max(a.TimeSpentSeconds, 0),
		}
	}

	current := snap.CurrentQuestionIndex
	if current < 0 || current >= len(questions) {
		current = 0
	}

	s.evaluationID = snap.EvaluationID
	s.title = snap.Title
	s.description = snap.Description
	s.durationMinutes = snap.DurationMinutes
	s.attemptID = snap.AttemptID
	s.startedAt = snap.StartedAt

	if pending := snap.PendingAttempt; pending != nil {
		// The countdown stopped when the attempt was scored.
		s.install(questions, answers, current, max(snap.RemainingSeconds, 0), now)
		cp := *pending
		cp.AccessToken = s.accessToken
		s.attempt = &cp
		s.err = &SubmitError{AttemptID: cp.AttemptID, Err: ErrSubmitPending}
		s.phase = model.SessionPhaseFailed
		s.emit(EventPhaseChanged, nil)
		return nil
	}

	s.begin(questions, answers, current, remaining, now)
	return nil
}

// begin enters InProgress; the caller holds s.mu.
func (s *Session) begin(questions []model.Question, answers []model.AnswerState, current, remaining int, now time.Time) {
	s.install(questions, answers, current, remaining, now)
	s.phase = model.SessionPhaseInProgress
	s.emit(EventPhaseChanged, nil)
}

// install sets the question set and progress without touching the phase;
// the caller holds s.mu.
func (s *Session) install(questions []model.Question, answers []model.AnswerState, current, remaining int, now time.Time) {
	s.questions = questions
	s.answers = answers
	s.position = make(map[uuid.UUID]int, len(questions))
	for i, q := range questions {
		s.position[q.ID] = i
	}
	s.current = current
	s.remaining = remaining
	s.enteredAt = now
	s.carry = 0
}

// Tick advances the countdown by one second. When it reaches zero the attempt
// is submitted immediately. Tick reports whether the countdown should keep
// running; it is a no-op outside InProgress.
func (s *Session) Tick(ctx context.Context) bool {
	s.mu.Lock()
	if s.phase != model.SessionPhaseInProgress {
		s.unlock()
		return false
	}
	if s.remaining > 0 {
		s.remaining--
		s.emit(EventTick, nil)
	}
	if s.remaining > 0 {
		s.unlock()
		return true
	}

	attempt := s.beginSubmit(model.SubmitTriggerTimeout)
	s.unlock()

	_, _ = s.deliver(ctx, attempt)
	return false
}

// Run drives Tick every interval until the countdown ends or ctx is done.
func (s *Session) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Tick(ctx) {
				return
			}
		}
	}
}

// Submit scores and delivers the attempt. From Failed after a rejected
// submission it resends the same attempt. A Completed session returns its
// attempt together with ErrAlreadySubmitted.
func (s *Session) Submit(ctx context.Context) (*model.Attempt, error) {
	s.mu.Lock()

	var attempt *model.Attempt
	switch s.phase {
	case model.SessionPhaseInProgress:
		attempt = s.beginSubmit(model.SubmitTriggerManual)
	case model.SessionPhaseFailed:
		if s.attempt == nil {
			err := s.err
			s.unlock()
			return nil, err
		}
		s.phase = model.SessionPhaseSubmitting
		s.err = nil
		s.emit(EventPhaseChanged, nil)
		attempt = s.attempt
	case model.SessionPhaseSubmitting:
		s.unlock()
		return nil, ErrSubmitInProgress
	case model.SessionPhaseCompleted:
		cp := *s.attempt
		s.unlock()
		return &cp, ErrAlreadySubmitted
	default:
		s.unlock()
		return nil, ErrNotInProgress
	}
	s.unlock()

	return s.deliver(ctx, attempt)
}

// beginSubmit closes out time accounting, scores and enters Submitting.
// The caller holds s.mu.
func (s *Session) beginSubmit(trigger model.SubmitTrigger) *model.Attempt {
	now := s.clock.Now()
	s.closeOut(now)

	card := Score(s.questions, s.answerMap())
	duration := int(now.Sub(s.startedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}

	s.attempt = &model.Attempt{
		AttemptID:           s.attemptID,
		EvaluationID:        s.evaluationID,
		AccessToken:         s.accessToken,
		CandidateIdentity:   s.candidate,
		OverallScorePercent: card.OverallPercent,
		Categories:          card.Categories,
		CorrectCount:        card.CorrectCount,
		AnsweredCount:       card.AnsweredCount,
		TotalQuestions:      card.TotalQuestions,
		Trigger:             trigger,
		StartedAt:           s.startedAt,
		CompletedAt:         now,
		DurationSeconds:     duration,
	}
	s.phase = model.SessionPhaseSubmitting
	s.emit(EventPhaseChanged, nil)
	return s.attempt
}

// deliver hands the attempt to the sink outside the lock.
func (s *Session) deliver(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error) {
	err := s.sink.Submit(ctx, attempt)

	s.mu.Lock()
	defer s.unlock()

	if err != nil {
		s.err = &SubmitError{AttemptID: attempt.AttemptID, Err: err}
		s.phase = model.SessionPhaseFailed
		s.emit(EventPhaseChanged, nil)
		return nil, s.err
	}

	s.err = nil
	s.phase = model.SessionPhaseCompleted
	s.emit(EventPhaseChanged, nil)
	cp := *attempt
	return &cp, nil
}

// ────────────────────────────────────────────────────────────────────────────
// Mutators (InProgress only)
// ────────────────────────────────────────────────────────────────────────────

// SetCurrentQuestion moves to question index, crediting the time spent on the
// question being left.
func (s *Session) SetCurrentQuestion(index int) error {
	s.mu.Lock()
	defer s.unlock()

	if s.phase != model.SessionPhaseInProgress {
		return ErrNotInProgress
	}
	if index < 0 || index >= len(s.questions) {
		return ErrQuestionOutOfRange
	}
	if index == s.current {
		return nil
	}

	s.closeOut(s.clock.Now())
	s.current = index
	qid := s.questions[index].ID
	s.emit(EventNavigated, &qid)
	return nil
}

// SetAnswer selects or deselects one option. On a single-answer question a
// selection replaces whatever was selected before; on a multiple-answer
// question it adds or removes that one index.
func (s *Session) SetAnswer(questionID uuid.UUID, option int, selected bool) error {
	s.mu.Lock()
	defer s.unlock()

	if s.phase != model.SessionPhaseInProgress {
		return ErrNotInProgress
	}
	pos, ok := s.position[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	q := &s.questions[pos]
	if option < 0 || option >= len(q.Options) {
		return ErrInvalidOption
	}

	ans := &s.answers[pos]
	has := contains(ans.SelectedOptionIndices, option)

	switch {
	case selected && !q.AllowsMultipleCorrect:
		ans.SelectedOptionIndices = []int{option}
	case selected && !has:
		ans.SelectedOptionIndices = append(ans.SelectedOptionIndices, option)
		sort.Ints(ans.SelectedOptionIndices)
	case !selected && has:
		ans.SelectedOptionIndices = remove(ans.SelectedOptionIndices, option)
	}

	s.emit(EventAnswered, &questionID)
	return nil
}

// ClearAnswer empties the selection for a question.
func (s *Session) ClearAnswer(questionID uuid.UUID) error {
	s.mu.Lock()
	defer s.unlock()

	if s.phase != model.SessionPhaseInProgress {
		return ErrNotInProgress
	}
	pos, ok := s.position[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	s.answers[pos].SelectedOptionIndices = nil
	s.emit(EventAnswered, &questionID)
	return nil
}

// ToggleFlag flips the review-later mark and returns the new value.
func (s *Session) ToggleFlag(questionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.phase != model.SessionPhaseInProgress {
		return false, ErrNotInProgress
	}
	pos, ok := s.position[questionID]
	if !ok {
		return false, ErrUnknownQuestion
	}
	s.answers[pos].Flagged = !s.answers[pos].Flagged
	s.emit(EventFlagged, &questionID)
	return s.answers[pos].Flagged, nil
}

// closeOut credits whole elapsed seconds to the current question and carries
// the sub-second remainder forward. The caller holds s.mu.
func (s *Session) closeOut(now time.Time) {
	elapsed := now.Sub(s.enteredAt) + s.carry
	if elapsed < 0 {
		elapsed = 0
	}
	secs := int(elapsed / time.Second)
	s.answers[s.current].TimeSpentSeconds += secs
	s.carry = elapsed - time.Duration(secs)*time.Second
	s.enteredAt = now
}

// ────────────────────────────────────────────────────────────────────────────
// Queries
// ────────────────────────────────────────────────────────────────────────────

// Phase returns the current phase.
func (s *Session) Phase() model.SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err returns the LoadError or SubmitError behind a Failed phase.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// AttemptID is zero until the session has loaded.
func (s *Session) AttemptID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptID
}

func (s *Session) EvaluationID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluationID
}

func (s *Session) Candidate() string { return s.candidate }

func (s *Session) RemainingSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

func (s *Session) CurrentQuestionIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// AnsweredCount is the number of questions with a non-empty selection.
func (s *Session) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	answered, _ := s.counts()
	return answered
}

// FlaggedCount is the number of questions marked for review.
func (s *Session) FlaggedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, flagged := s.counts()
	return flagged
}

// ProgressFraction is (currentQuestionIndex+1)/len(questions), or 0 before loading.
func (s *Session) ProgressFraction() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress()
}

// Answer returns the state recorded for a question.
func (s *Session) Answer(questionID uuid.UUID) (model.AnswerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.position[questionID]
	if !ok {
		return model.AnswerState{}, false
	}
	return cloneAnswer(s.answers[pos]), true
}

// Questions returns the shuffled question set, answer key included.
func (s *Session) Questions() []model.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// Attempt returns the submitted attempt once Submitting has been reached.
func (s *Session) Attempt() *model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil {
		return nil
	}
	cp := *s.attempt
	return &cp
}

// View renders the candidate-facing state.
func (s *Session) View() *model.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	answered, flagged := s.counts()
	view := &model.SessionView{
		AttemptID:            s.attemptID,
		EvaluationID:         s.evaluationID,
		Phase:                s.phase,
		Title:                s.title,
		Description:          s.description,
		Questions:            make([]model.QuestionForCandidate, len(s.questions)),
		Answers:              s.answerMap(),
		CurrentQuestionIndex: s.current,
		RemainingSeconds:     s.remaining,
		AnsweredCount:        answered,
		FlaggedCount:         flagged,
		ProgressFraction:     s.progress(),
		StartedAt:            s.startedAt,
	}
	for i := range s.questions {
		view.Questions[i] = s.questions[i].ForCandidate()
	}
	if s.err != nil {
		view.Error = s.err.Error()
	}
	return view
}

// Snapshot checkpoints the session for autosave. Time on the current question
// is credited first so it survives a resume. A scored attempt that the sink
// has not accepted yet is carried along as the pending attempt.
func (s *Session) Snapshot() (*model.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var pending *model.Attempt
	switch {
	case s.phase == model.SessionPhaseInProgress:
		s.closeOut(now)
	case s.attempt != nil && (s.phase == model.SessionPhaseSubmitting || s.phase == model.SessionPhaseFailed):
		cp := *s.attempt
		// Snapshots are persisted; the token is restored from the resuming session.
		cp.AccessToken = ""
		pending = &cp
	default:
		return nil, ErrNotInProgress
	}

	questions := make([]model.Question, len(s.questions))
	copy(questions, s.questions)

	return &model.SessionSnapshot{
		AttemptID:            s.attemptID,
		EvaluationID:         s.evaluationID,
		Candidate:            s.candidate,
		Title:                s.title,
		Description:          s.description,
		DurationMinutes:      s.durationMinutes,
		Questions:            questions,
		Answers:              s.answerMap(),
		CurrentQuestionIndex: s.current,
		RemainingSeconds:     s.remaining,
		StartedAt:            s.startedAt,
		SavedAt:              now,
		PendingAttempt:       pending,
	}, nil
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers (caller holds s.mu)
// ────────────────────────────────────────────────────────────────────────────

func (s *Session) counts() (answered, flagged int) {
	for _, a := range s.answers {
		if a.Answered() {
			answered++
		}
		if a.Flagged {
			flagged++
		}
	}
	return answered, flagged
}

func (s *Session) progress() float64 {
	if len(s.questions) == 0 {
		return 0
	}
	return float64(s.current+1) / float64(len(s.questions))
}

func (s *Session) answerMap() map[uuid.UUID]model.AnswerState {
	out := make(map[uuid.UUID]model.AnswerState, len(s.questions))
	for i, q := range s.questions {
		out[q.ID] = cloneAnswer(s.answers[i])
	}
	return out
}

func cloneAnswer(a model.AnswerState) model.AnswerState {
	if a.SelectedOptionIndices != nil {
		sel := make([]int, len(a.SelectedOptionIndices))
		copy(sel, a.SelectedOptionIndices)
		a.SelectedOptionIndices = sel
	}
	return a
}

// validSelection drops out-of-range indices from restored state and enforces
// the single-answer rule.
func validSelection(in []int, optionCount int, multiple bool) []int {
	var out []int
	for _, idx := range normalize(in) {
		if idx >= 0 && idx < optionCount {
			out = append(out, idx)
		}
	}
	if !multiple && len(out) > 1 {
		out = out[len(out)-1:]
	}
	return out
}

func contains(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func remove(set []int, v int) []int {
	out := set[:0]
	for _, x := range set {
		if x != v {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
