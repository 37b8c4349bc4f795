package webhook

import (
	"testing"
)

func TestParseEnvelope_PaymentUpdated(t *testing.T) {
	raw := []byte(`{
		"merchant_id": "m1",
		"type": "payment.updated",
		"event_id": "e1",
		"created_at": "2025-06-01T12:00:00Z",
		"data": {
			"type": "payment",
			"id": "pay1",
			"object": {"payment": {"order_id": "ord1", "status": "COMPLETED", "amount_money": {"amount": 5826, "currency": "USD"}}}
		}
	}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if env.EventID != "e1" || env.Type != "payment.updated" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	p, err := ExtractPayment(env.Data)
	if err != nil {
		t.Fatalf("extract payment: %v", err)
	}
	if p.OrderID != "ord1" {
		t.Fatalf("expected order_id ord1, got %q", p.OrderID)
	}
	if p.Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %q", p.Status)
	}
	if p.AmountMoney.Amount != 5826 {
		t.Fatalf("expected amount 5826, got %d", p.AmountMoney.Amount)
	}
	if p.ID != "pay1" {
		t.Fatalf("expected payment id from data.id, got %q", p.ID)
	}

	if key := PartitionKey(env); key != "ord1" {
		t.Fatalf("expected partition key ord1, got %q", key)
	}
}

func TestParseEnvelope_AcceptsCamelCaseKeys(t *testing.T) {
	raw := []byte(`{
		"merchantId": "m1",
		"type": "order.created",
		"eventId": "e2",
		"createdAt": "2025-06-01T12:00:00Z",
		"data": {"type": "order", "id": "ord1", "object": {"id": "ord1", "state": "OPEN"}}
	}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if env.MerchantID != "m1" || env.EventID != "e2" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.CreatedAt.IsZero() {
		t.Fatal("createdAt not decoded")
	}
}

func TestParseEnvelope_RejectsMissingEventID(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"type":"order.created"}`)); err == nil {
		t.Fatal("expected missing event id to fail")
	}
}

func TestParseEnvelope_RejectsMalformedBody(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{not json`)); err == nil {
		t.Fatal("expected malformed body to fail")
	}
}

func TestExtractOrder_Wrapped(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{
		"type": "order.created",
		"event_id": "e2",
		"data": {"type": "order", "id": "ord1", "object": {"order": {"id": "ord1", "state": "OPEN", "customer_name": "Ada", "total_money": {"amount": 5826}}}}
	}`))
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	o, err := ExtractOrder(env.Data)
	if err != nil {
		t.Fatalf("extract order: %v", err)
	}
	if o.ID != "ord1" || o.State != "OPEN" || o.CustomerName != "Ada" {
		t.Fatalf("unexpected order object: %+v", o)
	}
	if key := PartitionKey(env); key != "ord1" {
		t.Fatalf("expected partition key ord1, got %q", key)
	}
}

func TestSupported(t *testing.T) {
	for _, typ := range []string{"order.created", "order.updated", "payment.created", "payment.updated", "fulfillment.updated"} {
		if !Supported(typ) {
			t.Fatalf("expected %s to be supported", typ)
		}
	}
	if Supported("inventory.count.updated") {
		t.Fatal("expected unknown type to be unsupported")
	}
}
