// Package provider is the outbound client for the commerce provider's
// order API. Only order-finalization and reconciliation call it; the
// webhook path never does.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	ordersync_errors "ordersync/pkg/errors"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxResponseBodyBytes  = 1 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OrderSnapshot is the provider's authoritative view of one order.
type OrderSnapshot struct {
	ID          string          `json:"id"`
	State       string          `json:"state"`
	Version     int64           `json:"version"`
	TotalAmount int64           `json:"total_amount"`
	Currency    string          `json:"currency"`
	LineItems   json.RawMessage `json:"line_items"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderPatch is a partial update pushed back to the provider during
// order finalization.
type OrderPatch struct {
	State   string `json:"state,omitempty"`
	Version int64  `json:"version"`
}

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient HTTPDoer
}

type Client struct {
	baseURL    string
	token      string
	httpClient HTTPDoer
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: httpClient,
	}
}

// GetOrder fetches the authoritative order state by external id.
func (c *Client) GetOrder(ctx context.Context, externalOrderID string) (OrderSnapshot, error) {
	return c.do(ctx, http.MethodGet, "/v2/orders/"+externalOrderID, nil)
}

// UpdateOrder applies a patch and returns the resulting snapshot.
func (c *Client) UpdateOrder(ctx context.Context, externalOrderID string, patch OrderPatch) (OrderSnapshot, error) {
	body, err := json.Marshal(map[string]OrderPatch{"order": patch})
	if err != nil {
		return OrderSnapshot{}, ordersync_errors.Wrap(ordersync_errors.KindValidation, "encode order patch", err)
	}
	return c.do(ctx, http.MethodPut, "/v2/orders/"+externalOrderID, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (OrderSnapshot, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return OrderSnapshot{}, ordersync_errors.Wrap(ordersync_errors.KindValidation, "build provider request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OrderSnapshot{}, ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "provider request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return OrderSnapshot{}, ordersync_errors.Wrap(ordersync_errors.KindTransientExternal, "read provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return OrderSnapshot{}, classifyStatus(resp, data)
	}

	var envelope struct {
		Order OrderSnapshot `json:"order"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return OrderSnapshot{}, ordersync_errors.Wrap(ordersync_errors.KindValidation, "decode provider response", err)
	}
	if envelope.Order.ID == "" {
		var bare OrderSnapshot
		if err := json.Unmarshal(data, &bare); err == nil && bare.ID != "" {
			return bare, nil
		}
	}
	return envelope.Order, nil
}

// classifyStatus maps a provider failure onto the retry taxonomy:
// 401/403 and non-429 4xx are permanent, 429 carries Retry-After,
// everything 5xx is transient.
func classifyStatus(resp *http.Response, body []byte) error {
	msg := fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncate(body, 256))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &ordersync_errors.Error{
			Kind:       ordersync_errors.KindAuthentication,
			Msg:        msg,
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode == http.StatusNotFound:
		return &ordersync_errors.Error{
			Kind:       ordersync_errors.KindPermanentExternal,
			Msg:        msg,
			StatusCode: resp.StatusCode,
			Err:        ordersync_errors.ErrNotFound,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ordersync_errors.Error{
			Kind:       ordersync_errors.KindTransientExternal,
			Msg:        msg,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return &ordersync_errors.Error{
			Kind:       ordersync_errors.KindTransientExternal,
			Msg:        msg,
			StatusCode: resp.StatusCode,
		}
	default:
		return &ordersync_errors.Error{
			Kind:       ordersync_errors.KindPermanentExternal,
			Msg:        msg,
			StatusCode: resp.StatusCode,
		}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
