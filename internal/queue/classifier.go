package queue

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	ordersync_errors "ordersync/pkg/errors"
)

const (
	defaultBaseBackoff = 2 * time.Second
	defaultMaxAttempts = 5
	jitterFraction     = 0.2
)

// Decision is the classifier's verdict for one failure.
type Decision struct {
	Retry    bool
	Backoff  time.Duration
	Terminal bool
}

// Classifier maps an error to a retry decision. It is a pure function
// of the error kind and attempt number; it holds no state beyond
// configuration and a jitter source.
type Classifier struct {
	BaseBackoff time.Duration
	MaxAttempts int

	// jitter returns a value in [0,1); replaced in tests.
	jitter func() float64
}

func NewClassifier(baseBackoff time.Duration, maxAttempts int) *Classifier {
	if baseBackoff <= 0 {
		baseBackoff = defaultBaseBackoff
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Classifier{
		BaseBackoff: baseBackoff,
		MaxAttempts: maxAttempts,
		jitter:      rand.Float64,
	}
}

// ShouldRetry decides whether the failed attempt should be requeued.
// attempts is the number of attempts already made, including the one
// that just failed. Unknown error kinds are terminal: an unclassified
// failure should surface for investigation instead of retrying
// blindly (a previous incarnation of this pipeline retried permanent
// 403s and caused retry storms).
func (c *Classifier) ShouldRetry(err error, eventType string, attempts int) Decision {
	_ = eventType // reserved; all current event types share one policy

	if attempts >= c.MaxAttempts {
		return Decision{Terminal: true}
	}

	switch ordersync_errors.KindOf(err) {
	case ordersync_errors.KindAuthentication, ordersync_errors.KindValidation, ordersync_errors.KindPermanentExternal:
		return Decision{Terminal: true}
	case ordersync_errors.KindTransientExternal:
		if after, ok := ordersync_errors.RetryAfterOf(err); ok {
			return Decision{Retry: true, Backoff: after}
		}
		return Decision{Retry: true, Backoff: c.backoff(attempts)}
	case ordersync_errors.KindHandlerLogic:
		return Decision{Terminal: true}
	}

	// Infrastructure blips below the error-kind layer.
	if isTransportError(err) {
		return Decision{Retry: true, Backoff: c.backoff(attempts)}
	}

	return Decision{Terminal: true}
}

// backoff is exponential from BaseBackoff with ±20% jitter.
func (c *Classifier) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	base := c.BaseBackoff << uint(attempts-1)
	jitter := (c.jitter()*2 - 1) * jitterFraction * float64(base)
	return base + time.Duration(jitter)
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
