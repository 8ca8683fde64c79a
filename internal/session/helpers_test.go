package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticSource struct {
	def *model.EvaluationDefinition
	err error
}

func (s *staticSource) Fetch(_ context.Context, _ string) (*model.EvaluationDefinition, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.def, nil
}

// recordingSink fails the first failN submissions, then accepts.
type recordingSink struct {
	mu       sync.Mutex
	failN    int
	received []model.Attempt
}

var errSinkDown = errors.New("sink unavailable")

func (s *recordingSink) Submit(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, *a)
	if s.failN > 0 {
		s.failN--
		return errSinkDown
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func newQuestion(category string, options []string, correct []int, multiple bool) model.Question {
	return model.Question{
		ID:                    uuid.New(),
		Subject:               "general",
		Category:              category,
		Prompt:                "prompt for " + category,
		Options:               options,
		CorrectOptionIndices:  correct,
		AllowsMultipleCorrect: multiple,
	}
}

func newDefinition(minutes int, questions ...model.Question) *model.EvaluationDefinition {
	return &model.EvaluationDefinition{
		EvaluationID:    uuid.New(),
		Title:           "Sample evaluation",
		Description:     "fixture",
		DurationMinutes: minutes,
		Questions:       questions,
	}
}

func fiveQuestions() []model.Question {
	qs := make([]model.Question, 5)
	for i := range qs {
		qs[i] = newQuestion("cat", []string{"a", "b", "c", "d"}, []int{i % 4}, false)
	}
	return qs
}
