package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"ordersync/internal/domain/event"
	"ordersync/internal/domain/order"
	ordersync_errors "ordersync/pkg/errors"
	"ordersync/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetGlobalLogger(logger.New(logger.DevelopmentMode))
	m.Run()
}

// fakeOrderStore mimics the repository's optimistic-update semantics
// in memory, including version bumps and create conflicts.
type fakeOrderStore struct {
	byExternal map[string]*order.Order
	payments   map[string]*order.Payment // by external payment id
	updates    int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		byExternal: make(map[string]*order.Order),
		payments:   make(map[string]*order.Payment),
	}
}

func (s *fakeOrderStore) Create(ctx context.Context, o *order.Order) error {
	key := o.ExternalOrderID.String
	if _, exists := s.byExternal[key]; exists {
		return ordersync_errors.ErrAlreadyExists
	}
	cp := *o
	cp.Version = 1
	s.byExternal[key] = &cp
	o.Version = 1
	return nil
}

func (s *fakeOrderStore) GetByExternalID(ctx context.Context, externalID string) (order.Order, error) {
	o, ok := s.byExternal[externalID]
	if !ok {
		return order.Order{}, ordersync_errors.ErrNotFound
	}
	return *o, nil
}

func (s *fakeOrderStore) Update(ctx context.Context, o order.Order) error {
	stored, ok := s.byExternal[o.ExternalOrderID.String]
	if !ok {
		return ordersync_errors.ErrNotFound
	}
	if stored.Version != o.Version {
		return ordersync_errors.ErrInvalidTransition
	}
	o.Version++
	*stored = o
	s.updates++
	return nil
}

func (s *fakeOrderStore) UpsertPayment(ctx context.Context, p *order.Payment) error {
	if existing, ok := s.payments[p.ExternalPaymentID]; ok {
		existing.Status = p.Status
		existing.Amount = p.Amount
		return nil
	}
	cp := *p
	s.payments[p.ExternalPaymentID] = &cp
	return nil
}

func newNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func paymentEvent(t *testing.T, eventID, paymentID, orderID, status string, amount int64) event.InboundEvent {
	t.Helper()
	body := map[string]any{
		"merchant_id": "m1",
		"type":        event.TypePaymentUpdated,
		"event_id":    eventID,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"type": "payment",
			"id":   paymentID,
			"object": map[string]any{
				"payment": map[string]any{
					"id":           paymentID,
					"order_id":     orderID,
					"status":       status,
					"amount_money": map[string]any{"amount": amount, "currency": "USD"},
				},
			},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return event.InboundEvent{ID: eventID, Type: event.TypePaymentUpdated, RawPayload: raw}
}

func orderCreatedEvent(t *testing.T, eventID, orderID, state, customer string, amount int64) event.InboundEvent {
	t.Helper()
	body := map[string]any{
		"merchant_id": "m1",
		"type":        event.TypeOrderCreated,
		"event_id":    eventID,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"type": "order",
			"id":   orderID,
			"object": map[string]any{
				"order": map[string]any{
					"id":            orderID,
					"state":         state,
					"customer_name": customer,
					"line_items":    []map[string]any{{"name": "widget", "quantity": 1}},
					"total_money":   map[string]any{"amount": amount, "currency": "USD"},
				},
			},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return event.InboundEvent{ID: eventID, Type: event.TypeOrderCreated, RawPayload: raw}
}

func TestPaymentBeforeOrderCreatesStubThenMerges(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderEventService(store)
	ctx := context.Background()

	// payment.updated for ord1 arrives before any order.created
	if err := svc.HandlePaymentUpdated(ctx, paymentEvent(t, "e1", "pay1", "ord1", "COMPLETED", 5826)); err != nil {
		t.Fatalf("payment handler: %v", err)
	}

	o, err := store.GetByExternalID(ctx, "ord1")
	if err != nil {
		t.Fatalf("stub order missing: %v", err)
	}
	if !o.Stub {
		t.Fatal("expected a stub order")
	}
	if o.PaymentStatus != order.PaymentPaid {
		t.Fatalf("paymentStatus = %s, want PAID", o.PaymentStatus)
	}
	if o.Status != order.StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", o.Status)
	}
	p, ok := store.payments["pay1"]
	if !ok {
		t.Fatal("payment record missing")
	}
	if p.Amount != 5826 || p.Status != order.PaymentPaid {
		t.Fatalf("payment record = %+v", p)
	}

	// the real order.created arrives later and merges into the stub
	if err := svc.HandleOrderCreated(ctx, orderCreatedEvent(t, "e2", "ord1", "OPEN", "Ada", 5826)); err != nil {
		t.Fatalf("order handler: %v", err)
	}

	if len(store.byExternal) != 1 {
		t.Fatalf("expected one order record, got %d", len(store.byExternal))
	}
	o, _ = store.GetByExternalID(ctx, "ord1")
	if o.Stub {
		t.Fatal("stub flag should clear after merge")
	}
	if o.CustomerName.String != "Ada" {
		t.Fatalf("customer not merged: %+v", o.CustomerName)
	}
	if len(o.LineItems) == 0 {
		t.Fatal("line items not merged")
	}
	// payment-derived advance must survive the merge
	if o.Status != order.StatusProcessing || o.PaymentStatus != order.PaymentPaid {
		t.Fatalf("merge regressed state: status=%s paymentStatus=%s", o.Status, o.PaymentStatus)
	}
}

func TestOrderThenPaymentReachesSameState(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderEventService(store)
	ctx := context.Background()

	if err := svc.HandleOrderCreated(ctx, orderCreatedEvent(t, "e1", "ord2", "OPEN", "Ada", 1200)); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandlePaymentUpdated(ctx, paymentEvent(t, "e2", "pay2", "ord2", "COMPLETED", 1200)); err != nil {
		t.Fatal(err)
	}

	o, _ := store.GetByExternalID(ctx, "ord2")
	if o.Status != order.StatusProcessing || o.PaymentStatus != order.PaymentPaid {
		t.Fatalf("status=%s paymentStatus=%s", o.Status, o.PaymentStatus)
	}
	if o.CustomerName.String != "Ada" {
		t.Fatal("order data lost")
	}
}

func TestHandlersAreIdempotent(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderEventService(store)
	ctx := context.Background()

	e := paymentEvent(t, "e1", "pay3", "ord3", "COMPLETED", 900)
	for i := 0; i < 3; i++ {
		if err := svc.HandlePaymentUpdated(ctx, e); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	if len(store.byExternal) != 1 || len(store.payments) != 1 {
		t.Fatalf("duplicates created: %d orders, %d payments", len(store.byExternal), len(store.payments))
	}
	o, _ := store.GetByExternalID(ctx, "ord3")
	if o.Status != order.StatusProcessing || o.PaymentStatus != order.PaymentPaid {
		t.Fatalf("status=%s paymentStatus=%s", o.Status, o.PaymentStatus)
	}
}

func TestFailedPaymentDoesNotAdvanceOrder(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderEventService(store)
	ctx := context.Background()

	if err := svc.HandlePaymentUpdated(ctx, paymentEvent(t, "e1", "pay4", "ord4", "FAILED", 500)); err != nil {
		t.Fatal(err)
	}

	o, _ := store.GetByExternalID(ctx, "ord4")
	if o.Status != order.StatusPending {
		t.Fatalf("failed payment advanced order to %s", o.Status)
	}
	if o.PaymentStatus != order.PaymentFailed {
		t.Fatalf("paymentStatus = %s, want FAILED", o.PaymentStatus)
	}
}

func TestRefundSupersedesPaid(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderEventService(store)
	ctx := context.Background()

	if err := svc.HandlePaymentUpdated(ctx, paymentEvent(t, "e1", "pay5", "ord5", "COMPLETED", 700)); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandlePaymentUpdated(ctx, paymentEvent(t, "e2", "pay5", "ord5", "REFUNDED", 700)); err != nil {
		t.Fatal(err)
	}

	o, _ := store.GetByExternalID(ctx, "ord5")
	if o.PaymentStatus != order.PaymentRefunded {
		t.Fatalf("paymentStatus = %s, want REFUNDED", o.PaymentStatus)
	}
}

func TestFulfillmentDoesNotTouchPaymentStatus(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderEventService(store)
	ctx := context.Background()

	if err := svc.HandlePaymentUpdated(ctx, paymentEvent(t, "e1", "pay6", "ord6", "COMPLETED", 300)); err != nil {
		t.Fatal(err)
	}

	body := map[string]any{
		"merchant_id": "m1",
		"type":        event.TypeFulfillmentUpdated,
		"event_id":    "e2",
		"created_at":  time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"type": "fulfillment",
			"id":   "ful1",
			"object": map[string]any{
				"fulfillment": map[string]any{"id": "ful1", "order_id": "ord6", "state": "RESERVED"},
			},
		},
	}
	raw, _ := json.Marshal(body)
	e := event.InboundEvent{ID: "e2", Type: event.TypeFulfillmentUpdated, RawPayload: raw}
	if err := svc.HandleFulfillmentUpdated(ctx, e); err != nil {
		t.Fatal(err)
	}

	o, _ := store.GetByExternalID(ctx, "ord6")
	if o.Fulfillment != order.FulfillmentReserved {
		t.Fatalf("fulfillment = %s, want RESERVED", o.Fulfillment)
	}
	if o.PaymentStatus != order.PaymentPaid {
		t.Fatalf("fulfillment handler clobbered paymentStatus: %s", o.PaymentStatus)
	}
}

func TestOrderCreatedNeverRegressesStatus(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewOrderEventService(store)
	ctx := context.Background()

	id := uuid.New()
	store.byExternal["ord7"] = &order.Order{
		ID:              id,
		ExternalOrderID: newNullString("ord7"),
		Status:          order.StatusCompleted,
		PaymentStatus:   order.PaymentPaid,
		Version:         3,
	}

	if err := svc.HandleOrderUpdated(ctx, orderCreatedEvent(t, "e1", "ord7", "OPEN", "Ada", 100)); err != nil {
		t.Fatal(err)
	}

	o, _ := store.GetByExternalID(ctx, "ord7")
	if o.Status != order.StatusCompleted {
		t.Fatalf("status regressed to %s", o.Status)
	}
}
