package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"ordersync/internal/redis"
	"ordersync/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

// WebhookRateLimitMiddleware applies the per-merchant delivery budget.
// The merchant id lives in the body, so the body is read here and
// restored for the handler. Over-limit deliveries get 429; the
// provider backs off and retries them later.
func WebhookRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("unreadable body", "INVALID_REQUEST"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var peek struct {
			MerchantID string `json:"merchant_id"`
		}
		// An unparsable body is the ingest service's problem, not ours.
		_ = json.Unmarshal(body, &peek)
		if peek.MerchantID == "" {
			c.Next()
			return
		}

		result, err := limiter.AllowWebhook(c.Request.Context(), peek.MerchantID)
		if err != nil {
			// Redis down must not drop webhooks.
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
