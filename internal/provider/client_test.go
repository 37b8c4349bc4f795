package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ordersync_errors "ordersync/pkg/errors"
)

func TestGetOrder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders/ord1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"order":{"id":"ord1","state":"COMPLETED","version":7,"total_amount":5826,"currency":"USD"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok"})
	snap, err := c.GetOrder(context.Background(), "ord1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != "COMPLETED" || snap.TotalAmount != 5826 || snap.Version != 7 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGetOrder_403IsAuthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"merchant mismatch"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.GetOrder(context.Background(), "ord1")
	if ordersync_errors.KindOf(err) != ordersync_errors.KindAuthentication {
		t.Fatalf("expected authentication kind, got %v", err)
	}
	if ordersync_errors.StatusCodeOf(err) != http.StatusForbidden {
		t.Fatalf("status code not carried: %v", err)
	}
}

func TestGetOrder_429CarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.GetOrder(context.Background(), "ord1")
	if ordersync_errors.KindOf(err) != ordersync_errors.KindTransientExternal {
		t.Fatalf("expected transient kind, got %v", err)
	}
	after, ok := ordersync_errors.RetryAfterOf(err)
	if !ok || after != 30*time.Second {
		t.Fatalf("Retry-After not carried: %v %v", after, ok)
	}
}

func TestGetOrder_5xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream sad", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.GetOrder(context.Background(), "ord1")
	if ordersync_errors.KindOf(err) != ordersync_errors.KindTransientExternal {
		t.Fatalf("expected transient kind, got %v", err)
	}
}

func TestGetOrder_404WrapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.GetOrder(context.Background(), "missing")
	if ordersync_errors.KindOf(err) != ordersync_errors.KindPermanentExternal {
		t.Fatalf("expected permanent kind, got %v", err)
	}
}

func TestUpdateOrder_SendsPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		w.Write([]byte(`{"order":{"id":"ord1","state":"COMPLETED","version":8}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	snap, err := c.UpdateOrder(context.Background(), "ord1", OrderPatch{State: "COMPLETED", Version: 7})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 8 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
