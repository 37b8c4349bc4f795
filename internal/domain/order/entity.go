package order

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an order
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// PaymentStatus represents the aggregate payment state of an order
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// FulfillmentState mirrors the provider's fulfillment sub-state.
type FulfillmentState string

const (
	FulfillmentNone      FulfillmentState = "NONE"
	FulfillmentProposed  FulfillmentState = "PROPOSED"
	FulfillmentReserved  FulfillmentState = "RESERVED"
	FulfillmentPrepared  FulfillmentState = "PREPARED"
	FulfillmentCompleted FulfillmentState = "COMPLETED"
	FulfillmentCanceled  FulfillmentState = "CANCELED"
)

// statusRank orders Status values so handlers never regress an order
// to an earlier state when events arrive out of order.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusPaid:       2,
	StatusCompleted:  3,
	StatusCancelled:  3,
	StatusFailed:     3,
}

// Advances reports whether moving from current to next is a forward
// transition. Terminal states never advance.
func Advances(current, next Status) bool {
	cr, ok := statusRank[current]
	if !ok {
		return false
	}
	nr, ok := statusRank[next]
	if !ok {
		return false
	}
	if cr >= statusRank[StatusCompleted] {
		return false
	}
	return nr > cr
}

// Order is the local record of a provider order. Orders created by a
// webhook arriving ahead of its order.created event start as stubs.
type Order struct {
	ID               uuid.UUID
	ExternalOrderID  sql.NullString
	Status           Status
	PaymentStatus    PaymentStatus
	Fulfillment      FulfillmentState
	TotalAmount      int64 // minor units
	Currency         string
	CustomerName     sql.NullString
	CustomerEmail    sql.NullString
	LineItems        []byte // provider line-item JSON, merged on order.created
	Stub             bool
	Version          int // optimistic concurrency token
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Payment is one provider payment applied to an order.
type Payment struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	ExternalPaymentID string
	Status            PaymentStatus
	Amount            int64
	Currency          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MapExternalOrderState maps the provider's order state vocabulary onto
// the local enum. Draft and open orders stay PENDING.
func MapExternalOrderState(external string) Status {
	switch external {
	case "COMPLETED":
		return StatusCompleted
	case "CANCELED":
		return StatusCancelled
	case "FAILED":
		return StatusFailed
	default:
		return StatusPending
	}
}

// MapExternalFulfillmentState maps provider fulfillment states onto the
// local enum. Unrecognized values report NONE.
func MapExternalFulfillmentState(external string) FulfillmentState {
	switch external {
	case "PROPOSED":
		return FulfillmentProposed
	case "RESERVED":
		return FulfillmentReserved
	case "PREPARED":
		return FulfillmentPrepared
	case "COMPLETED":
		return FulfillmentCompleted
	case "CANCELED":
		return FulfillmentCanceled
	default:
		return FulfillmentNone
	}
}

// MapExternalPaymentStatus maps the provider's payment status vocabulary
// onto the local enum. Unrecognized values stay PENDING.
func MapExternalPaymentStatus(external string) PaymentStatus {
	switch external {
	case "COMPLETED", "CAPTURED", "APPROVED":
		return PaymentPaid
	case "FAILED", "CANCELED":
		return PaymentFailed
	case "REFUNDED":
		return PaymentRefunded
	default:
		return PaymentPending
	}
}
