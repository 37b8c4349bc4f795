package event

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Status represents the processing state of an inbound event
type Status string

const (
	// RECEIVED and VALIDATED are stages of the synchronous ingest path.
	// The first durable write happens once an event reaches QUEUED, so
	// stored records never hold either value.
	StatusReceived   Status = "RECEIVED"
	StatusValidated  Status = "VALIDATED"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// Event types delivered by the provider.
const (
	TypeOrderCreated       = "order.created"
	TypeOrderUpdated       = "order.updated"
	TypePaymentCreated     = "payment.created"
	TypePaymentUpdated     = "payment.updated"
	TypeFulfillmentUpdated = "fulfillment.updated"
)

// InboundEvent is the immutable record of one provider notification.
// It is written once on receipt and never mutated; processing progress
// lives on the companion ProcessingRecord.
type InboundEvent struct {
	ID             string // provider-assigned, globally unique
	MerchantID     string
	Type           string
	RawPayload     json.RawMessage
	SignatureValid bool
	Timestamp      time.Time // provider-declared creation time
	ReceivedAt     time.Time
}

// ProcessingRecord tracks the queue lifecycle of one InboundEvent.
// Owned exclusively by the dispatch queue; nothing else writes it.
type ProcessingRecord struct {
	EventID       string
	PartitionKey  string // external order id; empty means no ordering constraint
	Status        Status
	Attempts      int
	LastError     sql.NullString
	NextRetryAt   sql.NullTime
	LockOwner     sql.NullString
	LockExpiresAt sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the record can never be picked up again.
func (p ProcessingRecord) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusDeadLetter
}
