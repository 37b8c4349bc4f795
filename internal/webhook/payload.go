package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"ordersync/internal/domain/event"
	ordersync_errors "ordersync/pkg/errors"
)

// Envelope is the provider's webhook body:
//
//	{merchant_id, type, event_id, created_at, data: {type, id, object}}
//
// The provider's docs write the top-level keys camelCase while its
// deliveries use snake_case, so both spellings are accepted.
type Envelope struct {
	MerchantID string       `json:"merchant_id"`
	Type       string       `json:"type"`
	EventID    string       `json:"event_id"`
	CreatedAt  time.Time    `json:"created_at"`
	Data       EnvelopeData `json:"data"`
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	type plain Envelope
	var env plain
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	var alias struct {
		MerchantID string    `json:"merchantId"`
		EventID    string    `json:"eventId"`
		CreatedAt  time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	if env.MerchantID == "" {
		env.MerchantID = alias.MerchantID
	}
	if env.EventID == "" {
		env.EventID = alias.EventID
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = alias.CreatedAt
	}
	*e = Envelope(env)
	return nil
}

type EnvelopeData struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Object json.RawMessage `json:"object"`
}

// Money is a provider amount in minor units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// OrderObject is the order payload inside data.object.
type OrderObject struct {
	ID            string          `json:"id"`
	State         string          `json:"state"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	LineItems     json.RawMessage `json:"line_items"`
	TotalMoney    Money           `json:"total_money"`
}

// PaymentObject is the payment payload inside data.object.
type PaymentObject struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	AmountMoney Money  `json:"amount_money"`
}

// FulfillmentObject is the fulfillment payload inside data.object.
type FulfillmentObject struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	State   string `json:"state"`
}

var supportedTypes = map[string]bool{
	event.TypeOrderCreated:       true,
	event.TypeOrderUpdated:       true,
	event.TypePaymentCreated:     true,
	event.TypePaymentUpdated:     true,
	event.TypeFulfillmentUpdated: true,
}

// ParseEnvelope decodes and validates a raw webhook body.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, ordersync_errors.Wrap(ordersync_errors.KindValidation, "malformed webhook body", err)
	}
	env.EventID = strings.TrimSpace(env.EventID)
	env.Type = strings.TrimSpace(env.Type)
	if env.EventID == "" {
		return Envelope{}, ordersync_errors.New(ordersync_errors.KindValidation, "event id is required")
	}
	if env.Type == "" {
		return Envelope{}, ordersync_errors.New(ordersync_errors.KindValidation, "event type is required")
	}
	return env, nil
}

// Supported reports whether any handler exists for the event type.
func Supported(eventType string) bool {
	return supportedTypes[eventType]
}

// ExtractOrder pulls the order object out of data.object, tolerating
// both a bare object and a {"order": {...}} wrapper.
func ExtractOrder(data EnvelopeData) (OrderObject, error) {
	var wrapper struct {
		Order *OrderObject `json:"order"`
	}
	if err := json.Unmarshal(data.Object, &wrapper); err == nil && wrapper.Order != nil {
		return *wrapper.Order, nil
	}
	var obj OrderObject
	if err := json.Unmarshal(data.Object, &obj); err != nil {
		return OrderObject{}, ordersync_errors.Wrap(ordersync_errors.KindValidation, "malformed order object", err)
	}
	return obj, nil
}

// ExtractPayment pulls the payment object out of data.object.
func ExtractPayment(data EnvelopeData) (PaymentObject, error) {
	var wrapper struct {
		Payment *PaymentObject `json:"payment"`
	}
	if err := json.Unmarshal(data.Object, &wrapper); err == nil && wrapper.Payment != nil {
		p := *wrapper.Payment
		if p.ID == "" {
			p.ID = data.ID
		}
		return p, nil
	}
	var obj PaymentObject
	if err := json.Unmarshal(data.Object, &obj); err != nil {
		return PaymentObject{}, ordersync_errors.Wrap(ordersync_errors.KindValidation, "malformed payment object", err)
	}
	if obj.ID == "" {
		obj.ID = data.ID
	}
	return obj, nil
}

// ExtractFulfillment pulls the fulfillment object out of data.object.
func ExtractFulfillment(data EnvelopeData) (FulfillmentObject, error) {
	var wrapper struct {
		Fulfillment *FulfillmentObject `json:"fulfillment"`
	}
	if err := json.Unmarshal(data.Object, &wrapper); err == nil && wrapper.Fulfillment != nil {
		return *wrapper.Fulfillment, nil
	}
	var obj FulfillmentObject
	if err := json.Unmarshal(data.Object, &obj); err != nil {
		return FulfillmentObject{}, ordersync_errors.Wrap(ordersync_errors.KindValidation, "malformed fulfillment object", err)
	}
	return obj, nil
}

// PartitionKey returns the external order id an event must be ordered
// against, or "" when the event carries no order linkage.
func PartitionKey(env Envelope) string {
	switch env.Type {
	case event.TypeOrderCreated, event.TypeOrderUpdated:
		if obj, err := ExtractOrder(env.Data); err == nil && obj.ID != "" {
			return obj.ID
		}
		return env.Data.ID
	case event.TypePaymentCreated, event.TypePaymentUpdated:
		if obj, err := ExtractPayment(env.Data); err == nil {
			return obj.OrderID
		}
	case event.TypeFulfillmentUpdated:
		if obj, err := ExtractFulfillment(env.Data); err == nil {
			return obj.OrderID
		}
	}
	return ""
}
