package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tokengate/api/internal/config"
)

// RateLimit is a fixed-window per-IP limiter for the credential endpoints.
// The window counter lives in redis so the limit holds across instances.
func RateLimit(cfg config.RateLimitConfig, redisClient *redis.Client, log zerolog.Logger) gin.HandlerFunc {
	if !cfg.Enabled || redisClient == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%s", c.FullPath(), c.ClientIP())
		ctx := c.Request.Context()

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			// Fail open: redis being down must not lock everyone out.
			log.Warn().Err(err).Msg("rate limit counter unavailable")
			c.Next()
			return
		}
		if count == 1 {
			if err := redisClient.Expire(ctx, key, cfg.Window).Err(); err != nil {
				log.Warn().Err(err).Msg("rate limit expire failed")
			}
		}

		if count > int64(cfg.MaxAttempts) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests"})
			return
		}

		c.Next()
	}
}
