package reconcile

import (
	"context"
	"fmt"
	"time"

	"ordersync/internal/alerts"
	"ordersync/internal/domain/event"
	"ordersync/internal/domain/reconciliation"
	"ordersync/internal/metrics"
	"ordersync/pkg/logger"
)

// QueueStats is the ledger slice the monitor polls.
type QueueStats interface {
	CountByStatus(ctx context.Context) (map[event.Status]int, error)
}

type MonitorConfig struct {
	Interval          time.Duration
	QueueDepthLimit   int
	DeadLetterLimit   int
	SweepFindingLimit int
}

// Monitor polls queue health and evaluates sweep output against
// thresholds, emitting alerts when they trip. It is observational
// only; it never mutates pipeline state.
type Monitor struct {
	queue    QueueStats
	notifier *alerts.Notifier
	cfg      MonitorConfig
}

func NewMonitor(queue QueueStats, notifier *alerts.Notifier, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.QueueDepthLimit <= 0 {
		cfg.QueueDepthLimit = 500
	}
	if cfg.DeadLetterLimit <= 0 {
		cfg.DeadLetterLimit = 10
	}
	if cfg.SweepFindingLimit <= 0 {
		cfg.SweepFindingLimit = 20
	}
	return &Monitor{queue: queue, notifier: notifier, cfg: cfg}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkQueue(ctx)
		}
	}
}

func (m *Monitor) checkQueue(ctx context.Context) {
	counts, err := m.queue.CountByStatus(ctx)
	if err != nil {
		logger.GetGlobalLogger().Errorf("monitor: count by status: %v", err)
		return
	}

	depth := counts[event.StatusQueued] + counts[event.StatusFailed] + counts[event.StatusProcessing]
	dead := counts[event.StatusDeadLetter]
	metrics.QueueDepth.Set(float64(depth))
	metrics.DeadLetterDepth.Set(float64(dead))

	if depth > m.cfg.QueueDepthLimit {
		m.notifier.Send(ctx, alerts.Alert{
			Severity:    alerts.SeverityWarning,
			Title:       "webhook queue backing up",
			Description: fmt.Sprintf("queue depth %d exceeds threshold %d", depth, m.cfg.QueueDepthLimit),
			Data:        map[string]any{"depth": depth, "threshold": m.cfg.QueueDepthLimit},
		})
	}
	if dead > m.cfg.DeadLetterLimit {
		m.notifier.Send(ctx, alerts.Alert{
			Severity:    alerts.SeverityCritical,
			Title:       "dead-letter queue above threshold",
			Description: fmt.Sprintf("%d dead-lettered events exceed threshold %d", dead, m.cfg.DeadLetterLimit),
			Data:        map[string]any{"dead_letters": dead, "threshold": m.cfg.DeadLetterLimit},
		})
	}
}

// EvaluateSweep raises alerts for a finished reconciliation pass.
// Reported (uncorrected) findings always alert; a finding spike alerts
// even when everything was correctable.
func (m *Monitor) EvaluateSweep(ctx context.Context, stats reconciliation.SweepStats) {
	if stats.Reported > 0 {
		m.notifier.Send(ctx, alerts.Alert{
			Severity:    alerts.SeverityCritical,
			Title:       "reconciliation found inconsistencies needing review",
			Description: fmt.Sprintf("sweep %s reported %d finding(s) it could not auto-correct", stats.SweepID, stats.Reported),
			Data:        map[string]any{"sweep_id": stats.SweepID.String(), "reported": stats.Reported, "corrected": stats.Corrected},
		})
	}

	total := stats.Corrected + stats.Reported
	if total > m.cfg.SweepFindingLimit {
		m.notifier.Send(ctx, alerts.Alert{
			Severity:    alerts.SeverityWarning,
			Title:       "reconciliation finding spike",
			Description: fmt.Sprintf("sweep %s produced %d findings, threshold is %d", stats.SweepID, total, m.cfg.SweepFindingLimit),
			Data:        map[string]any{"sweep_id": stats.SweepID.String(), "findings": total},
		})
	}
}
