package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/session"
	"github.com/stemsi/exstem-evaluation/internal/validator"
)

func newEvaluationService(t *testing.T) (*EvaluationService, *fakeEvaluations, *InviteService) {
	t.Helper()
	_, rdb := newTestRedis(t)
	store := newFakeEvaluations()
	invites := NewInviteService(testConfig(), rdb)
	return NewEvaluationService(store, store, invites, rdb, time.Hour, nopLog), store, invites
}

func TestEvaluationService_DefinitionCachesAfterMiss(t *testing.T) {
	svc, store, _ := newEvaluationService(t)
	ctx := context.Background()
	id := store.add(model.EvaluationStatusPublished, sampleQuestions(3))

	for i := 0; i < 3; i++ {
		def, err := svc.Definition(ctx, id)
		if err != nil {
			t.Fatalf("Definition #%d: %v", i+1, err)
		}
		if def.EvaluationID != id || len(def.Questions) != 3 {
			t.Fatalf("definition = %+v", def)
		}
	}
	if got := store.readCount(); got != 1 {
		t.Errorf("store reads = %d, want 1", got)
	}
}

func TestEvaluationService_DefinitionErrors(t *testing.T) {
	svc, store, _ := newEvaluationService(t)
	ctx := context.Background()

	draft := store.add(model.EvaluationStatusDraft, sampleQuestions(1))
	empty := store.add(model.EvaluationStatusPublished, nil)

	tests := []struct {
		name string
		id   uuid.UUID
		want error
	}{
		{"unknown", uuid.New(), session.ErrEvaluationNotFound},
		{"draft", draft, ErrEvaluationNotPublished},
		{"draft is not found", draft, session.ErrEvaluationNotFound},
		{"no questions", empty, session.ErrInvalidDefinition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Definition(ctx, tt.id)
			if !errors.Is(err, tt.want) {
				t.Errorf("Definition() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEvaluationService_FetchByToken(t *testing.T) {
	svc, store, invites := newEvaluationService(t)
	ctx := context.Background()
	id := store.add(model.EvaluationStatusPublished, sampleQuestions(2))

	token, _, err := invites.Issue(id, "cand", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	def, err := svc.Fetch(ctx, token)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if def.EvaluationID != id {
		t.Errorf("EvaluationID = %s, want %s", def.EvaluationID, id)
	}

	if _, err := svc.Fetch(ctx, "bogus"); !errors.Is(err, session.ErrEvaluationNotFound) {
		t.Errorf("Fetch(bogus) error = %v, want ErrEvaluationNotFound", err)
	}
}

func TestEvaluationService_Create(t *testing.T) {
	svc, store, _ := newEvaluationService(t)
	ctx := context.Background()

	req := &model.CreateEvaluationRequest{
		Title:           "Entrance test",
		DurationMinutes: 30,
		Publish:         true,
		Questions: []model.AddQuestionRequest{
			{Subject: "math", Category: "algebra", Prompt: "1+1", Options: []string{"1", "2"}, CorrectOptionIndices: []int{1}},
			{Subject: "math", Category: "logic", Prompt: "pick primes", Options: []string{"2", "3", "4"}, CorrectOptionIndices: []int{0, 1}, AllowsMultipleCorrect: true},
		},
	}
	evaluation, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if evaluation.Status != model.EvaluationStatusPublished {
		t.Errorf("Status = %s, want PUBLISHED", evaluation.Status)
	}

	qs := store.questions[evaluation.ID]
	if len(qs) != 2 || qs[0].OrderNum != 1 || qs[1].OrderNum != 2 {
		t.Fatalf("stored questions = %+v", qs)
	}

	n, err := svc.rdb.Exists(ctx, config.CacheKey.EvaluationDefinitionKey(evaluation.ID)).Result()
	if err != nil || n != 1 {
		t.Errorf("published evaluation not cached: n=%d err=%v", n, err)
	}
}

func TestEvaluationService_CreateRejects(t *testing.T) {
	svc, _, _ := newEvaluationService(t)
	ctx := context.Background()

	valid := model.AddQuestionRequest{Subject: "s", Category: "c", Prompt: "p", Options: []string{"a", "b"}, CorrectOptionIndices: []int{0}}

	tests := []struct {
		name      string
		req       *model.CreateEvaluationRequest
		wantField bool
		want      error
	}{
		{
			name:      "missing title",
			req:       &model.CreateEvaluationRequest{DurationMinutes: 10, Questions: []model.AddQuestionRequest{valid}},
			wantField: true,
		},
		{
			name:      "no questions",
			req:       &model.CreateEvaluationRequest{Title: "Quiz", DurationMinutes: 10},
			wantField: true,
		},
		{
			name: "correct index out of range",
			req: &model.CreateEvaluationRequest{Title: "Quiz", DurationMinutes: 10, Questions: []model.AddQuestionRequest{
				{Subject: "s", Category: "c", Prompt: "p", Options: []string{"a", "b"}, CorrectOptionIndices: []int{5}},
			}},
			want: model.ErrCorrectOptionRange,
		},
		{
			name: "single answer with two keys",
			req: &model.CreateEvaluationRequest{Title: "Quiz", DurationMinutes: 10, Questions: []model.AddQuestionRequest{
				{Subject: "s", Category: "c", Prompt: "p", Options: []string{"a", "b"}, CorrectOptionIndices: []int{0, 1}},
			}},
			want: session.ErrInvalidDefinition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantField {
				var fields validator.FieldsError
				if !errors.As(err, &fields) {
					t.Errorf("error = %v, want FieldsError", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEvaluationService_PublishWarmsCache(t *testing.T) {
	svc, store, _ := newEvaluationService(t)
	ctx := context.Background()
	id := store.add(model.EvaluationStatusDraft, sampleQuestions(2))

	if err := svc.Publish(ctx, id); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	n, err := svc.rdb.Exists(ctx, config.CacheKey.EvaluationDefinitionKey(id)).Result()
	if err != nil || n != 1 {
		t.Errorf("definition not cached: n=%d err=%v", n, err)
	}
	if _, err := svc.Definition(ctx, id); err != nil {
		t.Errorf("Definition after publish: %v", err)
	}
}

func TestEvaluationService_PublishRequiresDraft(t *testing.T) {
	svc, store, _ := newEvaluationService(t)
	ctx := context.Background()

	published := store.add(model.EvaluationStatusDraft, sampleQuestions(2))
	if err := svc.Publish(ctx, published); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	tests := []struct {
		name string
		id   uuid.UUID
	}{
		{"already published", published},
		{"archived", store.add(model.EvaluationStatusArchived, sampleQuestions(2))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Publish(ctx, tt.id); !errors.Is(err, ErrEvaluationNotDraft) {
				t.Errorf("Publish error = %v, want ErrEvaluationNotDraft", err)
			}
		})
	}
}

func TestEvaluationService_PrewarmAllCaches(t *testing.T) {
	svc, store, _ := newEvaluationService(t)
	ctx := context.Background()
	good := store.add(model.EvaluationStatusPublished, sampleQuestions(1))
	broken := store.add(model.EvaluationStatusPublished, nil)
	store.add(model.EvaluationStatusDraft, sampleQuestions(1))

	if err := svc.PrewarmAllCaches(ctx); err != nil {
		t.Fatalf("PrewarmAllCaches: %v", err)
	}

	for id, want := range map[uuid.UUID]int64{good: 1, broken: 0} {
		n, err := svc.rdb.Exists(ctx, config.CacheKey.EvaluationDefinitionKey(id)).Result()
		if err != nil || n != want {
			t.Errorf("cached(%s) = %d, want %d (err %v)", id, n, want, err)
		}
	}
}
