package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ordersync/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetGlobalLogger(logger.New(logger.DevelopmentMode))
	m.Run()
}

type recordingSink struct {
	got []Alert
	err error
}

func (s *recordingSink) Send(_ context.Context, a Alert) error {
	s.got = append(s.got, a)
	return s.err
}

func TestNotifierFansOutToAllSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	n := NewNotifier(a, b)

	n.Send(context.Background(), Alert{Severity: SeverityWarning, Title: "queue depth high"})

	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("fan-out incomplete: %d, %d", len(a.got), len(b.got))
	}
	if a.got[0].At.IsZero() {
		t.Fatal("timestamp not stamped")
	}
}

func TestNotifierSurvivesFailingSink(t *testing.T) {
	bad := &recordingSink{err: errors.New("sink down")}
	good := &recordingSink{}
	n := NewNotifier(bad, good)

	n.Send(context.Background(), Alert{Severity: SeverityCritical, Title: "dead letters"})

	if len(good.got) != 1 {
		t.Fatal("failing sink blocked delivery to the next sink")
	}
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	var received Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Send(context.Background(), Alert{Severity: SeverityCritical, Title: "sweep findings spike"})
	if err != nil {
		t.Fatal(err)
	}
	if received.Title != "sweep findings spike" {
		t.Fatalf("received = %+v", received)
	}
}

func TestWebhookSinkNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookSink(srv.URL).Send(context.Background(), Alert{Title: "x"}); err == nil {
		t.Fatal("expected error on non-2xx")
	}
}
