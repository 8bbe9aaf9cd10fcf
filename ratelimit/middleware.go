package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Middleware wraps a route group with admission control for one endpoint
// category. Authenticated requests are keyed per user, anonymous ones per
// client IP. Denied requests get 429 with Retry-After and the standard
// X-RateLimit headers.
func Middleware(limiter *Limiter, category string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := c.Get("userID"); ok {
			if id, ok := userID.(string); ok && id != "" {
				identifier = "user:" + id
			}
		}

		result := limiter.Consume(c.Request.Context(), identifier, category)

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               result.Message,
				"retry_after_seconds": result.RetryAfterSeconds,
			})
			return
		}

		c.Next()
	}
}
