package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:    "test-secret-with-enough-entropy",
		InviteExpiry: time.Hour,
	}
}

var nopLog = zerolog.Nop()

func sampleQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:                   uuid.New(),
			Subject:              "math",
			Category:             "algebra",
			Prompt:               "question",
			Options:              []string{"a", "b", "c"},
			CorrectOptionIndices: []int{0},
			OrderNum:             i + 1,
		}
	}
	return qs
}

// fakeEvaluations stores evaluations in memory and counts reads.
type fakeEvaluations struct {
	mu          sync.Mutex
	evaluations map[uuid.UUID]model.Evaluation
	questions   map[uuid.UUID][]model.Question
	reads       int
}

func newFakeEvaluations() *fakeEvaluations {
	return &fakeEvaluations{
		evaluations: make(map[uuid.UUID]model.Evaluation),
		questions:   make(map[uuid.UUID][]model.Question),
	}
}

func (f *fakeEvaluations) add(status model.EvaluationStatus, questions []model.Question) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.evaluations[id] = model.Evaluation{ID: id, Title: "Quiz", DurationMinutes: 10, Status: status}
	f.questions[id] = questions
	return id
}

func (f *fakeEvaluations) GetByID(_ context.Context, id uuid.UUID) (*model.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	e, ok := f.evaluations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (f *fakeEvaluations) ListPublished(_ context.Context) ([]model.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Evaluation
	for _, e := range f.evaluations {
		if e.Status == model.EvaluationStatusPublished {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEvaluations) CreateWithQuestions(_ context.Context, e *model.Evaluation, questions []model.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = uuid.New()
	f.evaluations[e.ID] = *e
	f.questions[e.ID] = questions
	return nil
}

func (f *fakeEvaluations) UpdateStatus(_ context.Context, id uuid.UUID, status model.EvaluationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.evaluations[id]
	if !ok {
		return pgx.ErrNoRows
	}
	e.Status = status
	f.evaluations[id] = e
	return nil
}

func (f *fakeEvaluations) ListByEvaluation(_ context.Context, id uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questions[id], nil
}

func (f *fakeEvaluations) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// fakeAttempts serves persisted attempts.
type fakeAttempts struct {
	byKey map[string]*model.Attempt

	lastLimit, lastOffset int
}

func (f *fakeAttempts) GetByEvaluationAndCandidate(_ context.Context, evaluationID uuid.UUID, candidate string) (*model.Attempt, error) {
	a, ok := f.byKey[evaluationID.String()+"/"+candidate]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return a, nil
}

// ListByEvaluationPaginated applies limit and offset the way the SQL query does.
func (f *fakeAttempts) ListByEvaluationPaginated(_ context.Context, evaluationID uuid.UUID, limit, offset int) ([]model.Attempt, int, error) {
	var all []model.Attempt
	for _, a := range f.byKey {
		if a.EvaluationID == evaluationID {
			all = append(all, *a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CompletedAt.After(all[j].CompletedAt) })

	f.lastLimit, f.lastOffset = limit, offset
	start := min(offset, len(all))
	end := min(start+limit, len(all))
	return all[start:end], len(all), nil
}

// fakeSnapshots serves archived snapshots.
type fakeSnapshots struct {
	snap *model.SessionSnapshot
}

func (f *fakeSnapshots) Get(_ context.Context, evaluationID uuid.UUID, candidate string) (*model.SessionSnapshot, error) {
	if f.snap == nil || f.snap.EvaluationID != evaluationID || f.snap.Candidate != candidate {
		return nil, pgx.ErrNoRows
	}
	return f.snap, nil
}

// definitionSource hands out a fixed definition regardless of token.
type definitionSource struct {
	def *model.EvaluationDefinition
}

func (s *definitionSource) Fetch(_ context.Context, _ string) (*model.EvaluationDefinition, error) {
	return s.def, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
