package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ordersync/internal/domain/event"
	"ordersync/internal/metrics"
	"ordersync/pkg/logger"
)

// Handler processes one inbound event. Handlers must be idempotent:
// the queue guarantees at-least-once delivery, not exactly-once
// execution.
type Handler interface {
	Handle(ctx context.Context, e event.InboundEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, e event.InboundEvent) error

func (f HandlerFunc) Handle(ctx context.Context, e event.InboundEvent) error {
	return f(ctx, e)
}

// Store is the slice of the event repository the pool needs.
type Store interface {
	ClaimDue(ctx context.Context, lockOwner string, lease time.Duration, limit int) ([]event.ProcessingRecord, error)
	GetEvent(ctx context.Context, eventID string) (event.InboundEvent, error)
	MarkCompleted(ctx context.Context, eventID, lockOwner string) error
	MarkFailed(ctx context.Context, eventID, lockOwner, lastError string, nextRetryAt time.Time) error
	MarkDeadLetter(ctx context.Context, eventID, lockOwner, lastError string) error
}

// DeadLetterHook runs after a record is dead-lettered, for archival
// and alerting. Failures are logged, never retried.
type DeadLetterHook func(ctx context.Context, e event.InboundEvent, rec event.ProcessingRecord, reason string)

// WorkerPool polls the dispatch queue and fans claimed records out to
// a fixed set of workers. Per-order delivery order is enforced by the
// store at claim time, so workers never coordinate among themselves.
type WorkerPool struct {
	store      Store
	classifier *Classifier
	handlers   map[string]Handler

	lockOwner      string
	workers        int
	pollEvery      time.Duration
	batchSize      int
	lease          time.Duration
	handlerTimeout time.Duration

	clock        func() time.Time
	onDeadLetter DeadLetterHook
}

type WorkerPoolConfig struct {
	Workers        int
	PollEvery      time.Duration
	BatchSize      int
	Lease          time.Duration
	HandlerTimeout time.Duration
}

func NewWorkerPool(store Store, classifier *Classifier, cfg WorkerPoolConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	return &WorkerPool{
		store:          store,
		classifier:     classifier,
		handlers:       make(map[string]Handler),
		lockOwner:      "worker-" + uuid.NewString(),
		workers:        cfg.Workers,
		pollEvery:      cfg.PollEvery,
		batchSize:      cfg.BatchSize,
		lease:          cfg.Lease,
		handlerTimeout: cfg.HandlerTimeout,
		clock:          time.Now,
	}
}

// Register binds a handler to an event type. Not safe to call after
// Run has started.
func (w *WorkerPool) Register(eventType string, h Handler) {
	w.handlers[eventType] = h
}

func (w *WorkerPool) SetDeadLetterHook(hook DeadLetterHook) {
	w.onDeadLetter = hook
}

// Run polls until ctx is canceled. It blocks; callers start it in a
// goroutine.
func (w *WorkerPool) Run(ctx context.Context) {
	work := make(chan event.ProcessingRecord)

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range work {
				w.process(ctx, rec)
			}
		}()
	}

	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return
		case <-ticker.C:
			w.pollOnce(ctx, work)
		}
	}
}

func (w *WorkerPool) pollOnce(ctx context.Context, work chan<- event.ProcessingRecord) {
	records, err := w.store.ClaimDue(ctx, w.lockOwner, w.lease, w.batchSize)
	if err != nil {
		logger.GetGlobalLogger().Errorf("queue: claim failed: %v", err)
		return
	}
	for _, rec := range records {
		select {
		case <-ctx.Done():
			return
		case work <- rec:
		}
	}
}

// process runs one claimed record through its handler and settles the
// record according to the classifier's verdict.
func (w *WorkerPool) process(ctx context.Context, rec event.ProcessingRecord) {
	log := logger.GetGlobalLogger()

	e, err := w.store.GetEvent(ctx, rec.EventID)
	if err != nil {
		// Store read failure, not a handler failure. Leave the record
		// leased; it becomes claimable again when the lease expires.
		log.Errorf("queue: load event %s: %v", rec.EventID, err)
		return
	}

	h, ok := w.handlers[e.Type]
	if !ok {
		// A type we accepted at the edge but cannot process; retrying
		// will never help.
		w.deadLetter(ctx, e, rec, fmt.Sprintf("no handler registered for %q", e.Type))
		return
	}

	hctx, cancel := context.WithTimeout(ctx, w.handlerTimeout)
	defer cancel()

	start := w.clock()
	handleErr := h.Handle(hctx, e)
	metrics.EventProcessingDuration.Observe(w.clock().Sub(start).Seconds())

	if handleErr == nil {
		if err := w.store.MarkCompleted(ctx, rec.EventID, w.lockOwner); err != nil {
			// Lease expired mid-handler; another worker owns the record
			// now. The handler is idempotent, so the duplicate run is
			// harmless.
			log.Warnf("queue: complete %s: %v", rec.EventID, err)
			return
		}
		metrics.EventsProcessedTotal.WithLabelValues("completed").Inc()
		return
	}

	log.Warnf("queue: event %s attempt %d failed: %v", rec.EventID, rec.Attempts, handleErr)
	w.settleFailure(ctx, e, rec, handleErr)
}

func (w *WorkerPool) settleFailure(ctx context.Context, e event.InboundEvent, rec event.ProcessingRecord, handleErr error) {
	d := w.classifier.ShouldRetry(handleErr, e.Type, rec.Attempts)
	if d.Retry {
		next := w.clock().Add(d.Backoff)
		if err := w.store.MarkFailed(ctx, rec.EventID, w.lockOwner, handleErr.Error(), next); err != nil {
			logger.GetGlobalLogger().Warnf("queue: fail %s: %v", rec.EventID, err)
			return
		}
		metrics.EventsProcessedTotal.WithLabelValues("retried").Inc()
		return
	}
	w.deadLetter(ctx, e, rec, handleErr.Error())
}

func (w *WorkerPool) deadLetter(ctx context.Context, e event.InboundEvent, rec event.ProcessingRecord, reason string) {
	if err := w.store.MarkDeadLetter(ctx, rec.EventID, w.lockOwner, reason); err != nil {
		logger.GetGlobalLogger().Warnf("queue: dead-letter %s: %v", rec.EventID, err)
		return
	}
	metrics.EventsProcessedTotal.WithLabelValues("dead_letter").Inc()
	logger.GetGlobalLogger().Errorf("queue: event %s dead-lettered after %d attempts: %s", rec.EventID, rec.Attempts, reason)
	if w.onDeadLetter != nil {
		w.onDeadLetter(ctx, e, rec, reason)
	}
}
