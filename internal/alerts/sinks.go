package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ordersync/pkg/logger"
)

// LogSink writes alerts to the structured log. Always configured; the
// log is the floor for alert visibility.
type LogSink struct{}

func (LogSink) Send(_ context.Context, a Alert) error {
	l := logger.GetGlobalLogger().Logger.With(
		zap.String("severity", string(a.Severity)),
		zap.String("title", a.Title),
		zap.Any("data", a.Data),
	)
	switch a.Severity {
	case SeverityCritical:
		l.Error(a.Description)
	case SeverityWarning:
		l.Warn(a.Description)
	default:
		l.Info(a.Description)
	}
	return nil
}

// WebhookSink posts alerts as JSON to a chat-style incoming webhook.
type WebhookSink struct {
	URL        string
	HTTPClient *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}
