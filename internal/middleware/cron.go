package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/inev/engage/pkg/response"
)

// CronHeader carries the shared secret for scheduler-invoked endpoints.
const CronHeader = "X-Cron-Secret"

// CronSecret guards internal endpoints (sweep, sample) with a shared secret
// distinct from viewer-facing auth. An empty configured secret disables the
// endpoints entirely rather than leaving them open.
func CronSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			response.Forbidden(c, "internal endpoints disabled")
			c.Abort()
			return
		}
		got := c.GetHeader(CronHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			response.Forbidden(c, "invalid cron secret")
			c.Abort()
			return
		}
		c.Next()
	}
}
