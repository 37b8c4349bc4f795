package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"ordersync/internal/domain/event"
	"ordersync/internal/domain/order"
	"ordersync/internal/webhook"
	ordersync_errors "ordersync/pkg/errors"
	"ordersync/pkg/logger"
)

// conflictRetries bounds the reload-and-reapply loop when an optimistic
// update loses a race with another writer.
const conflictRetries = 3

// OrderStore is the order repository slice the handlers need.
type OrderStore interface {
	Create(ctx context.Context, o *order.Order) error
	GetByExternalID(ctx context.Context, externalID string) (order.Order, error)
	Update(ctx context.Context, o order.Order) error
	UpsertPayment(ctx context.Context, p *order.Payment) error
}

// OrderEventService holds the per-type webhook handlers. Every handler
// is an idempotent upsert keyed on external ids: the queue may run the
// same event more than once.
type OrderEventService struct {
	orders OrderStore
}

func NewOrderEventService(orders OrderStore) *OrderEventService {
	return &OrderEventService{orders: orders}
}

// HandleOrderCreated upserts the order by external id. A stub created
// by an earlier payment or fulfillment event is merged into, never
// duplicated; status only ever moves forward.
func (s *OrderEventService) HandleOrderCreated(ctx context.Context, e event.InboundEvent) error {
	obj, err := parseOrderEvent(e)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < conflictRetries; attempt++ {
		existing, err := s.orders.GetByExternalID(ctx, obj.ID)
		if errors.Is(err, ordersync_errors.ErrNotFound) {
			o := newOrderFromObject(obj)
			err = s.orders.Create(ctx, o)
			if errors.Is(err, ordersync_errors.ErrAlreadyExists) {
				continue // lost the create race, merge instead
			}
			if err != nil {
				return ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "create order", err)
			}
			return nil
		}
		if err != nil {
			return ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "load order", err)
		}

		mergeOrderObject(&existing, obj)
		err = s.orders.Update(ctx, existing)
		if errors.Is(err, ordersync_errors.ErrInvalidTransition) {
			continue // version moved underneath us, reload
		}
		if err != nil {
			return ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "update order", err)
		}
		return nil
	}
	return ordersync_errors.New(ordersync_errors.KindTransientExternal, "order update contention, giving up this attempt")
}

// HandleOrderUpdated reuses the created path; both are merge-upserts.
func (s *OrderEventService) HandleOrderUpdated(ctx context.Context, e event.InboundEvent) error {
	return s.HandleOrderCreated(ctx, e)
}

// HandlePaymentUpdated upserts the payment and, when it paid the
// order, advances order status PENDING to PROCESSING. Arriving before
// order.created is normal; a stub order is created to hang the payment
// on until the real order data shows up.
func (s *OrderEventService) HandlePaymentUpdated(ctx context.Context, e event.InboundEvent) error {
	obj, err := parsePaymentEvent(e)
	if err != nil {
		return err
	}
	if obj.OrderID == "" {
		return ordersync_errors.New(ordersync_errors.KindValidation, "payment event without order_id")
	}

	status := order.MapExternalPaymentStatus(obj.Status)

	for attempt := 0; attempt < conflictRetries; attempt++ {
		o, err := s.ensureOrder(ctx, obj.OrderID)
		if err != nil {
			return err
		}

		p := &order.Payment{
			ID:                uuid.New(),
			OrderID:           o.ID,
			ExternalPaymentID: obj.ID,
			Status:            status,
			Amount:            obj.AmountMoney.Amount,
			Currency:          obj.AmountMoney.Currency,
		}
		if err := s.orders.UpsertPayment(ctx, p); err != nil {
			return ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "upsert payment", err)
		}

		changed := applyPaymentStatus(&o, status)
		if !changed {
			return nil
		}
		err = s.orders.Update(ctx, o)
		if errors.Is(err, ordersync_errors.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "update order", err)
		}
		return nil
	}
	return ordersync_errors.New(ordersync_errors.KindTransientExternal, "order update contention, giving up this attempt")
}

// HandleFulfillmentUpdated updates the fulfillment sub-state only. It
// never touches payment status or order totals.
func (s *OrderEventService) HandleFulfillmentUpdated(ctx context.Context, e event.InboundEvent) error {
	env, err := webhook.ParseEnvelope(e.RawPayload)
	if err != nil {
		return err
	}
	obj, err := webhook.ExtractFulfillment(env.Data)
	if err != nil {
		return err
	}
	if obj.OrderID == "" {
		return ordersync_errors.New(ordersync_errors.KindValidation, "fulfillment event without order_id")
	}

	state := order.MapExternalFulfillmentState(obj.State)

	for attempt := 0; attempt < conflictRetries; attempt++ {
		o, err := s.ensureOrder(ctx, obj.OrderID)
		if err != nil {
			return err
		}
		if o.Fulfillment == state {
			return nil
		}
		o.Fulfillment = state
		if state == order.FulfillmentCompleted && order.Advances(o.Status, order.StatusCompleted) {
			o.Status = order.StatusCompleted
		}
		err = s.orders.Update(ctx, o)
		if errors.Is(err, ordersync_errors.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "update order", err)
		}
		return nil
	}
	return ordersync_errors.New(ordersync_errors.KindTransientExternal, "order update contention, giving up this attempt")
}

// ensureOrder returns the order for externalID, creating a stub when
// the order.created event has not arrived yet.
func (s *OrderEventService) ensureOrder(ctx context.Context, externalID string) (order.Order, error) {
	o, err := s.orders.GetByExternalID(ctx, externalID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, ordersync_errors.ErrNotFound) {
		return order.Order{}, ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "load order", err)
	}

	stub := &order.Order{
		ID:              uuid.New(),
		ExternalOrderID: sql.NullString{String: externalID, Valid: true},
		Status:          order.StatusPending,
		PaymentStatus:   order.PaymentPending,
		Fulfillment:     order.FulfillmentNone,
		Stub:            true,
	}
	logger.GetGlobalLogger().Infof("orders: creating stub for external order %s", externalID)
	err = s.orders.Create(ctx, stub)
	if errors.Is(err, ordersync_errors.ErrAlreadyExists) {
		// Another worker or the checkout flow created it first.
		o, err = s.orders.GetByExternalID(ctx, externalID)
		if err != nil {
			return order.Order{}, ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "reload order", err)
		}
		return o, nil
	}
	if err != nil {
		return order.Order{}, ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "create stub order", err)
	}
	return *stub, nil
}

func parseOrderEvent(e event.InboundEvent) (webhook.OrderObject, error) {
	env, err := webhook.ParseEnvelope(e.RawPayload)
	if err != nil {
		return webhook.OrderObject{}, err
	}
	obj, err := webhook.ExtractOrder(env.Data)
	if err != nil {
		return webhook.OrderObject{}, err
	}
	if obj.ID == "" {
		obj.ID = env.Data.ID
	}
	if obj.ID == "" {
		return webhook.OrderObject{}, ordersync_errors.New(ordersync_errors.KindValidation, "order event without order id")
	}
	return obj, nil
}

func parsePaymentEvent(e event.InboundEvent) (webhook.PaymentObject, error) {
	env, err := webhook.ParseEnvelope(e.RawPayload)
	if err != nil {
		return webhook.PaymentObject{}, err
	}
	return webhook.ExtractPayment(env.Data)
}

func newOrderFromObject(obj webhook.OrderObject) *order.Order {
	o := &order.Order{
		ID:              uuid.New(),
		ExternalOrderID: sql.NullString{String: obj.ID, Valid: true},
		Status:          order.MapExternalOrderState(obj.State),
		PaymentStatus:   order.PaymentPending,
		Fulfillment:     order.FulfillmentNone,
		TotalAmount:     obj.TotalMoney.Amount,
		Currency:        obj.TotalMoney.Currency,
		LineItems:       obj.LineItems,
	}
	if obj.CustomerName != "" {
		o.CustomerName = sql.NullString{String: obj.CustomerName, Valid: true}
	}
	if obj.CustomerEmail != "" {
		o.CustomerEmail = sql.NullString{String: obj.CustomerEmail, Valid: true}
	}
	return o
}

// mergeOrderObject folds real order data into an existing record. The
// record may be a stub holding payment-derived state that must not be
// lost, so status merges via Advances rather than assignment.
func mergeOrderObject(o *order.Order, obj webhook.OrderObject) {
	if next := order.MapExternalOrderState(obj.State); order.Advances(o.Status, next) {
		o.Status = next
	}
	if obj.TotalMoney.Amount != 0 {
		o.TotalAmount = obj.TotalMoney.Amount
	}
	if obj.TotalMoney.Currency != "" {
		o.Currency = obj.TotalMoney.Currency
	}
	if obj.CustomerName != "" {
		o.CustomerName = sql.NullString{String: obj.CustomerName, Valid: true}
	}
	if obj.CustomerEmail != "" {
		o.CustomerEmail = sql.NullString{String: obj.CustomerEmail, Valid: true}
	}
	if len(obj.LineItems) > 0 {
		o.LineItems = obj.LineItems
	}
	o.Stub = false
}

// applyPaymentStatus folds a payment outcome into the order and reports
// whether the order changed. Payment status never regresses from PAID
// back to PENDING; refunds do supersede PAID.
func applyPaymentStatus(o *order.Order, status order.PaymentStatus) bool {
	changed := false
	switch status {
	case order.PaymentPaid:
		if o.PaymentStatus == order.PaymentPending || o.PaymentStatus == order.PaymentFailed {
			o.PaymentStatus = order.PaymentPaid
			changed = true
		}
		if order.Advances(o.Status, order.StatusProcessing) {
			o.Status = order.StatusProcessing
			changed = true
		}
	case order.PaymentRefunded:
		if o.PaymentStatus != order.PaymentRefunded {
			o.PaymentStatus = order.PaymentRefunded
			changed = true
		}
	case order.PaymentFailed:
		if o.PaymentStatus == order.PaymentPending {
			o.PaymentStatus = order.PaymentFailed
			changed = true
		}
	}
	return changed
}
