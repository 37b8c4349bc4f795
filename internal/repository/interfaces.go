package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ordersync/internal/domain/event"
	"ordersync/internal/domain/order"
	"ordersync/internal/domain/reconciliation"
)

// EventRepository is the idempotency ledger plus the durable dispatch
// queue. InboundEvent rows are immutable; ProcessingRecord rows are
// mutated only through the methods below.
type EventRepository interface {
	// Record atomically persists the event and its QUEUED processing
	// record. Returns isNew=false when the event id was already seen;
	// the caller must then drop the delivery.
	Record(ctx context.Context, e *event.InboundEvent, partitionKey string) (bool, error)

	GetEvent(ctx context.Context, eventID string) (event.InboundEvent, error)
	GetProcessing(ctx context.Context, eventID string) (event.ProcessingRecord, error)

	// ClaimDue leases up to limit due records to lockOwner, honoring
	// per-partition receipt order: a record is not claimable while an
	// earlier unfinished record shares its partition key.
	ClaimDue(ctx context.Context, lockOwner string, lease time.Duration, limit int) ([]event.ProcessingRecord, error)

	// MarkCompleted / MarkFailed / MarkDeadLetter require the caller to
	// still hold the lease; ErrLeaseLost is returned otherwise.
	MarkCompleted(ctx context.Context, eventID, lockOwner string) error
	MarkFailed(ctx context.Context, eventID, lockOwner, lastError string, nextRetryAt time.Time) error
	MarkDeadLetter(ctx context.Context, eventID, lockOwner, lastError string) error

	// ForceFail is the operator override for a stuck record; it ignores
	// leases and is also used by the reconciliation sweep.
	ForceFail(ctx context.Context, eventID, reason string) error
	// Requeue returns a dead-lettered record to the queue for another
	// attempt cycle.
	Requeue(ctx context.Context, eventID string) error

	ListDeadLetters(ctx context.Context, limit int) ([]event.ProcessingRecord, error)
	ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]event.ProcessingRecord, error)
	CountByStatus(ctx context.Context) (map[event.Status]int, error)
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// PaymentEventsForOrder returns retained payment events linked to an
	// external order id, used by reconciliation to re-derive missing
	// payment records from the ledger.
	PaymentEventsForOrder(ctx context.Context, externalOrderID string) ([]event.InboundEvent, error)
}

// OrderRepository mutates the shared order/payment records. All updates
// are optimistic (version-guarded); ErrConflict-style failures surface
// as ordersync_errors.ErrInvalidTransition or rows==0 semantics.
type OrderRepository interface {
	Create(ctx context.Context, o *order.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (order.Order, error)
	GetByExternalID(ctx context.Context, externalID string) (order.Order, error)
	// Update applies the full mutable field set conditionally on
	// o.Version and bumps the version. Returns ErrInvalidTransition when
	// the row moved underneath the caller.
	Update(ctx context.Context, o order.Order) error

	UpsertPayment(ctx context.Context, p *order.Payment) error
	PaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]order.Payment, error)

	// Scan pages orders by id for the resumable reconciliation sweep.
	Scan(ctx context.Context, afterID uuid.UUID, limit int) ([]order.Order, error)
	ListRecentWithExternalID(ctx context.Context, limit int) ([]order.Order, error)
}

// FindingRepository persists reconciliation audit entries.
type FindingRepository interface {
	Create(ctx context.Context, f *reconciliation.Finding) error
	ListBySweep(ctx context.Context, sweepID uuid.UUID) ([]reconciliation.Finding, error)
	ListRecent(ctx context.Context, limit int) ([]reconciliation.Finding, error)
}
