package reconcile

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"ordersync/internal/alerts"
	"ordersync/internal/domain/event"
	"ordersync/internal/domain/reconciliation"
)

type fakeQueueStats struct {
	counts map[event.Status]int
}

func (s *fakeQueueStats) CountByStatus(ctx context.Context) (map[event.Status]int, error) {
	return s.counts, nil
}

type captureSink struct {
	got []alerts.Alert
}

func (s *captureSink) Send(_ context.Context, a alerts.Alert) error {
	s.got = append(s.got, a)
	return nil
}

func TestCheckQueue_AlertsOnDeepQueue(t *testing.T) {
	sink := &captureSink{}
	m := NewMonitor(
		&fakeQueueStats{counts: map[event.Status]int{event.StatusQueued: 600}},
		alerts.NewNotifier(sink),
		MonitorConfig{QueueDepthLimit: 500, DeadLetterLimit: 10},
	)

	m.checkQueue(context.Background())

	if len(sink.got) != 1 || sink.got[0].Severity != alerts.SeverityWarning {
		t.Fatalf("alerts = %+v", sink.got)
	}
}

func TestCheckQueue_AlertsOnDeadLetters(t *testing.T) {
	sink := &captureSink{}
	m := NewMonitor(
		&fakeQueueStats{counts: map[event.Status]int{event.StatusDeadLetter: 11}},
		alerts.NewNotifier(sink),
		MonitorConfig{QueueDepthLimit: 500, DeadLetterLimit: 10},
	)

	m.checkQueue(context.Background())

	if len(sink.got) != 1 || sink.got[0].Severity != alerts.SeverityCritical {
		t.Fatalf("alerts = %+v", sink.got)
	}
}

func TestCheckQueue_QuietWhenHealthy(t *testing.T) {
	sink := &captureSink{}
	m := NewMonitor(
		&fakeQueueStats{counts: map[event.Status]int{event.StatusQueued: 3, event.StatusCompleted: 900}},
		alerts.NewNotifier(sink),
		MonitorConfig{QueueDepthLimit: 500, DeadLetterLimit: 10},
	)

	m.checkQueue(context.Background())

	if len(sink.got) != 0 {
		t.Fatalf("unexpected alerts: %+v", sink.got)
	}
}

func TestEvaluateSweep_ReportedFindingsAlert(t *testing.T) {
	sink := &captureSink{}
	m := NewMonitor(nil, alerts.NewNotifier(sink), MonitorConfig{SweepFindingLimit: 20})

	m.EvaluateSweep(context.Background(), reconciliation.SweepStats{
		SweepID:  uuid.New(),
		Reported: 2,
	})

	if len(sink.got) != 1 || sink.got[0].Severity != alerts.SeverityCritical {
		t.Fatalf("alerts = %+v", sink.got)
	}
}

func TestEvaluateSweep_FindingSpikeAlerts(t *testing.T) {
	sink := &captureSink{}
	m := NewMonitor(nil, alerts.NewNotifier(sink), MonitorConfig{SweepFindingLimit: 5})

	m.EvaluateSweep(context.Background(), reconciliation.SweepStats{
		SweepID:   uuid.New(),
		Corrected: 9,
	})

	if len(sink.got) != 1 || sink.got[0].Severity != alerts.SeverityWarning {
		t.Fatalf("alerts = %+v", sink.got)
	}
}
