// Package alerts fans operational alerts out to configured sinks. The
// pipeline never blocks on alert delivery; a dead sink only loses the
// alert, not the event.
package alerts

import (
	"context"
	"time"

	"ordersync/pkg/logger"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type Alert struct {
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}

// Sink delivers one alert to one destination.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// Notifier fans out to every configured sink.
type Notifier struct {
	sinks []Sink
}

func NewNotifier(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

func (n *Notifier) Send(ctx context.Context, a Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	for _, s := range n.sinks {
		if err := s.Send(ctx, a); err != nil {
			logger.GetGlobalLogger().Warnf("alerts: sink delivery failed: %v", err)
		}
	}
}
