package middleware

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"cinecheck/services"

	"github.com/gin-gonic/gin"
)

// RateClass is a named request budget per client IP per window.
type RateClass struct {
	Name  string
	Limit int
}

var (
	GenerateClass = RateClass{Name: "generate", Limit: 10}
	QuizClass     = RateClass{Name: "quiz", Limit: 60}
	DefaultClass  = RateClass{Name: "default", Limit: 120}
)

// RateLimit rejects requests over the class budget with 429. When Redis is
// unreachable requests are let through.
func RateLimit(limiter *services.RateLimiter, class RateClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := class.Name + ":" + c.ClientIP()

		decision, err := limiter.Allow(c.Request.Context(), key, class.Limit)
		if err != nil {
			log.Printf("Rate limiter unavailable for %s, allowing request: %v", key, err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "Too many requests. Please try again later.",
			})
			return
		}
		c.Next()
	}
}
