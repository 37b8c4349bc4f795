package queue

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"ordersync/internal/domain/event"
	ordersync_errors "ordersync/pkg/errors"
	"ordersync/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetGlobalLogger(logger.New(logger.DevelopmentMode))
	m.Run()
}

// fakeStore mirrors the repository's claim contract: a due record is
// held back while an older record in its partition is unfinished.
type fakeStore struct {
	mu sync.Mutex

	events  map[string]event.InboundEvent
	records []*event.ProcessingRecord

	completed   []string
	failed      map[string]time.Time
	deadLetters map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:      make(map[string]event.InboundEvent),
		failed:      make(map[string]time.Time),
		deadLetters: make(map[string]string),
	}
}

func (s *fakeStore) add(e event.InboundEvent, attempts int) event.ProcessingRecord {
	return s.addToPartition(e, attempts, "")
}

func (s *fakeStore) addToPartition(e event.InboundEvent, attempts int, partition string) event.ProcessingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
	rec := &event.ProcessingRecord{
		EventID:      e.ID,
		PartitionKey: partition,
		Status:       event.StatusQueued,
		Attempts:     attempts,
		CreatedAt:    time.Now().Add(time.Duration(len(s.records)) * time.Millisecond),
	}
	s.records = append(s.records, rec)
	return *rec
}

func (s *fakeStore) ClaimDue(ctx context.Context, lockOwner string, lease time.Duration, limit int) ([]event.ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var batch []event.ProcessingRecord
	for i, rec := range s.records {
		if len(batch) >= limit {
			break
		}
		due := (rec.Status == event.StatusQueued || rec.Status == event.StatusFailed) &&
			(!rec.NextRetryAt.Valid || !rec.NextRetryAt.Time.After(now))
		if !due || s.heldByEarlierSibling(i) {
			continue
		}
		rec.Status = event.StatusProcessing
		rec.Attempts++
		batch = append(batch, *rec)
	}
	return batch, nil
}

func (s *fakeStore) heldByEarlierSibling(i int) bool {
	rec := s.records[i]
	if rec.PartitionKey == "" {
		return false
	}
	for _, q := range s.records[:i] {
		if q.PartitionKey == rec.PartitionKey && !q.Terminal() {
			return true
		}
	}
	return false
}

func (s *fakeStore) find(eventID string) *event.ProcessingRecord {
	for _, r := range s.records {
		if r.EventID == eventID {
			return r
		}
	}
	return nil
}

func (s *fakeStore) GetEvent(ctx context.Context, eventID string) (event.InboundEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return event.InboundEvent{}, ordersync_errors.ErrNotFound
	}
	return e, nil
}

func (s *fakeStore) MarkCompleted(ctx context.Context, eventID, lockOwner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(eventID); r != nil {
		r.Status = event.StatusCompleted
	}
	s.completed = append(s.completed, eventID)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, eventID, lockOwner, lastError string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(eventID); r != nil {
		r.Status = event.StatusFailed
		r.NextRetryAt = sql.NullTime{Time: nextRetryAt, Valid: true}
	}
	s.failed[eventID] = nextRetryAt
	return nil
}

func (s *fakeStore) MarkDeadLetter(ctx context.Context, eventID, lockOwner, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(eventID); r != nil {
		r.Status = event.StatusDeadLetter
	}
	s.deadLetters[eventID] = lastError
	return nil
}

func newTestPool(store *fakeStore) *WorkerPool {
	c := NewClassifier(2*time.Second, 5)
	c.jitter = func() float64 { return 0.5 }
	return NewWorkerPool(store, c, WorkerPoolConfig{Workers: 1, PollEvery: 5 * time.Millisecond})
}

func TestProcess_SuccessCompletes(t *testing.T) {
	store := newFakeStore()
	rec := store.add(event.InboundEvent{ID: "evt_1", Type: event.TypeOrderCreated}, 1)

	pool := newTestPool(store)
	pool.Register(event.TypeOrderCreated, HandlerFunc(func(ctx context.Context, e event.InboundEvent) error {
		return nil
	}))

	pool.process(context.Background(), rec)

	if len(store.completed) != 1 || store.completed[0] != "evt_1" {
		t.Fatalf("expected evt_1 completed, got %v", store.completed)
	}
}

func TestProcess_TransientFailureSchedulesRetry(t *testing.T) {
	store := newFakeStore()
	rec := store.add(event.InboundEvent{ID: "evt_2", Type: event.TypePaymentUpdated}, 1)

	pool := newTestPool(store)
	pool.Register(event.TypePaymentUpdated, HandlerFunc(func(ctx context.Context, e event.InboundEvent) error {
		return ordersync_errors.New(ordersync_errors.KindTransientExternal, "upstream 503")
	}))

	before := time.Now()
	pool.process(context.Background(), rec)

	next, ok := store.failed["evt_2"]
	if !ok {
		t.Fatal("expected evt_2 marked failed for retry")
	}
	if next.Before(before.Add(time.Second)) {
		t.Fatalf("next retry %s is not backed off from %s", next, before)
	}
	if len(store.deadLetters) != 0 {
		t.Fatalf("unexpected dead letters: %v", store.deadLetters)
	}
}

func TestProcess_PermanentFailureDeadLettersAndHooks(t *testing.T) {
	store := newFakeStore()
	rec := store.add(event.InboundEvent{ID: "evt_3", Type: event.TypePaymentUpdated}, 1)

	pool := newTestPool(store)
	pool.Register(event.TypePaymentUpdated, HandlerFunc(func(ctx context.Context, e event.InboundEvent) error {
		return &ordersync_errors.Error{Kind: ordersync_errors.KindPermanentExternal, Msg: "merchant mismatch", StatusCode: 403}
	}))

	var hooked string
	pool.SetDeadLetterHook(func(ctx context.Context, e event.InboundEvent, r event.ProcessingRecord, reason string) {
		hooked = e.ID
	})

	pool.process(context.Background(), rec)

	if _, ok := store.deadLetters["evt_3"]; !ok {
		t.Fatal("expected evt_3 dead-lettered")
	}
	if hooked != "evt_3" {
		t.Fatalf("dead-letter hook not invoked, got %q", hooked)
	}
}

func TestProcess_UnregisteredTypeDeadLetters(t *testing.T) {
	store := newFakeStore()
	rec := store.add(event.InboundEvent{ID: "evt_4", Type: "refund.created"}, 1)

	pool := newTestPool(store)
	pool.process(context.Background(), rec)

	if _, ok := store.deadLetters["evt_4"]; !ok {
		t.Fatal("expected unhandled type to dead-letter")
	}
	if len(store.failed) != 0 {
		t.Fatal("unhandled types must not be retried")
	}
}

func TestRun_DrainsClaimedBatch(t *testing.T) {
	store := newFakeStore()
	store.add(event.InboundEvent{ID: "evt_5", Type: event.TypeOrderCreated}, 1)
	store.add(event.InboundEvent{ID: "evt_6", Type: event.TypeOrderCreated}, 1)

	pool := newTestPool(store)
	done := make(chan struct{}, 2)
	pool.Register(event.TypeOrderCreated, HandlerFunc(func(ctx context.Context, e event.InboundEvent) error {
		done <- struct{}{}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for batch to drain")
		}
	}
	cancel()
}

func TestClaimDue_HoldsLaterSiblingUntilEarlierFinishes(t *testing.T) {
	store := newFakeStore()
	store.addToPartition(event.InboundEvent{ID: "evt_a", Type: event.TypeOrderCreated}, 0, "ord_1")
	store.addToPartition(event.InboundEvent{ID: "evt_b", Type: event.TypePaymentUpdated}, 0, "ord_1")
	store.addToPartition(event.InboundEvent{ID: "evt_c", Type: event.TypeOrderCreated}, 0, "ord_2")

	ctx := context.Background()

	ids := claimIDs(t, store, ctx)
	if !ids["evt_a"] || !ids["evt_c"] || ids["evt_b"] {
		t.Fatalf("first claim = %v, want evt_a and evt_c with evt_b held", ids)
	}

	// evt_a fails and becomes due again; evt_b stays behind it.
	store.MarkFailed(ctx, "evt_a", "w1", "timeout", time.Now().Add(-time.Second))
	store.MarkCompleted(ctx, "evt_c", "w1")

	ids = claimIDs(t, store, ctx)
	if !ids["evt_a"] || ids["evt_b"] {
		t.Fatalf("second claim = %v, want evt_a retried and evt_b still held", ids)
	}

	store.MarkCompleted(ctx, "evt_a", "w1")

	ids = claimIDs(t, store, ctx)
	if len(ids) != 1 || !ids["evt_b"] {
		t.Fatalf("third claim = %v, want only evt_b", ids)
	}
}

func claimIDs(t *testing.T, store *fakeStore, ctx context.Context) map[string]bool {
	t.Helper()
	batch, err := store.ClaimDue(ctx, "w1", time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]bool)
	for _, r := range batch {
		out[r.EventID] = true
	}
	return out
}
