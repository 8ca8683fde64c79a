package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
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

type fakeAttemptStore struct {
	mu        sync.Mutex
	batchErr  error
	failIDs   map[uuid.UUID]bool
	inserted  []uuid.UUID
	batchCall int
}

func (f *fakeAttemptStore) InsertBatch(_ context.Context, attempts []*model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCall++
	if f.batchErr != nil {
		return f.batchErr
	}
	for _, a := range attempts {
		f.inserted = append(f.inserted, a.AttemptID)
	}
	return nil
}

func (f *fakeAttemptStore) Insert(_ context.Context, a *model.Attempt) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[a.AttemptID] {
		return false, errors.New("constraint violation")
	}
	f.inserted = append(f.inserted, a.AttemptID)
	return true, nil
}

func (f *fakeAttemptStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeCleaner struct {
	mu      sync.Mutex
	deleted []uuid.UUID
}

func (f *fakeCleaner) DeleteByAttempts(_ context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []uuid.UUID
}

func (f *fakePublisher) PublishAttemptCompleted(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, a.AttemptID)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeSnapshotStore struct {
	mu       sync.Mutex
	batchErr error
	upserted []*model.SessionSnapshot
}

func (f *fakeSnapshotStore) UpsertBatch(_ context.Context, snaps []*model.SessionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.upserted = append(f.upserted, snaps...)
	return nil
}

func (f *fakeSnapshotStore) Upsert(_ context.Context, s *model.SessionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, s)
	return nil
}

func pushJSON(t *testing.T, rdb *redis.Client, queue string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := rdb.RPush(context.Background(), queue, raw).Err(); err != nil {
		t.Fatalf("RPush: %v", err)
	}
}

func newAttempt() *model.Attempt {
	return &model.Attempt{
		AttemptID:         uuid.New(),
		EvaluationID:      uuid.New(),
		CandidateIdentity: "cand",
		Trigger:           model.SubmitTriggerManual,
		CompletedAt:       time.Now(),
	}
}

func TestAttemptWorker_FlushStoresAndCleansUp(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := &fakeAttemptStore{}
	cleaner := &fakeCleaner{}
	pub := &fakePublisher{}
	w := NewAttemptWorker(rdb, store, cleaner, pub, zerolog.Nop())

	a, b := newAttempt(), newAttempt()
	w.flush(context.Background(), []item[model.Attempt]{{value: a}, {value: b}})

	if store.count() != 2 || len(cleaner.deleted) != 2 || len(pub.published) != 2 {
		t.Errorf("inserted=%d deleted=%d published=%d", store.count(), len(cleaner.deleted), len(pub.published))
	}
}

func TestAttemptWorker_FallbackRequeuesFailures(t *testing.T) {
	mr, rdb := newTestRedis(t)
	good, bad := newAttempt(), newAttempt()
	store := &fakeAttemptStore{
		batchErr: errors.New("batch failed"),
		failIDs:  map[uuid.UUID]bool{bad.AttemptID: true},
	}
	cleaner := &fakeCleaner{}
	w := NewAttemptWorker(rdb, store, cleaner, nil, zerolog.Nop())

	badRaw, _ := json.Marshal(bad)
	w.flush(context.Background(), []item[model.Attempt]{
		{value: good},
		{raw: string(badRaw), value: bad},
	})

	if store.count() != 1 {
		t.Errorf("inserted = %d, want 1", store.count())
	}
	if len(cleaner.deleted) != 1 || cleaner.deleted[0] != good.AttemptID {
		t.Errorf("deleted = %v, want only the stored attempt", cleaner.deleted)
	}
	queued, err := mr.List(config.WorkerKey.PersistAttemptsQueue)
	if err != nil || len(queued) != 1 || queued[0] != string(badRaw) {
		t.Errorf("requeued = %v (err %v)", queued, err)
	}
}

func TestAttemptWorker_StartConsumesAndDrains(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := &fakeAttemptStore{}
	w := NewAttemptWorker(rdb, store, &fakeCleaner{}, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		pushJSON(t, rdb, config.WorkerKey.PersistAttemptsQueue, newAttempt())
	}
	if err := rdb.RPush(context.Background(), config.WorkerKey.PersistAttemptsQueue, "{not json").Err(); err != nil {
		t.Fatalf("RPush: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	pushJSON(t, rdb, config.WorkerKey.PersistAttemptsQueue, newAttempt())
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	if got := store.count(); got != 4 {
		t.Errorf("inserted = %d, want 4", got)
	}
	if n, _ := rdb.LLen(context.Background(), config.WorkerKey.PersistAttemptsQueue).Result(); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestSnapshotWorker_FlushKeepsNewestPerCandidate(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := &fakeSnapshotStore{}
	w := NewSnapshotWorker(rdb, store, zerolog.Nop())

	evalID := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	older := &model.SessionSnapshot{EvaluationID: evalID, Candidate: "a", RemainingSeconds: 500, SavedAt: base}
	newer := &model.SessionSnapshot{EvaluationID: evalID, Candidate: "a", RemainingSeconds: 470, SavedAt: base.Add(30 * time.Second)}
	other := &model.SessionSnapshot{EvaluationID: evalID, Candidate: "b", RemainingSeconds: 300, SavedAt: base}

	w.flush(context.Background(), []item[model.SessionSnapshot]{{value: newer}, {value: other}, {value: older}})

	if len(store.upserted) != 2 {
		t.Fatalf("upserted = %d, want 2", len(store.upserted))
	}
	if store.upserted[0].RemainingSeconds != 470 || store.upserted[1].Candidate != "b" {
		t.Errorf("upserted = %+v, %+v", store.upserted[0], store.upserted[1])
	}
}

func TestSnapshotWorker_FallbackUpsertsRowByRow(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := &fakeSnapshotStore{batchErr: errors.New("batch failed")}
	w := NewSnapshotWorker(rdb, store, zerolog.Nop())

	snaps := []item[model.SessionSnapshot]{
		{value: &model.SessionSnapshot{EvaluationID: uuid.New(), Candidate: "a"}},
		{value: &model.SessionSnapshot{EvaluationID: uuid.New(), Candidate: "b"}},
	}
	w.flush(context.Background(), snaps)

	if len(store.upserted) != 2 {
		t.Errorf("upserted = %d, want 2", len(store.upserted))
	}
}
