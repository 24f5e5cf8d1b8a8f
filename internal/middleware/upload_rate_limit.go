package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/mediavault/backend/internal/config"
)

// UploadRateLimit caps uploads per caller per calendar day. The counter key
// embeds the date and expires at midnight, so the window resets predictably.
// Redis being down never blocks an upload.
func UploadRateLimit(redisClient *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		caller := c.GetString("user_id")
		if caller == "" {
			caller = c.ClientIP()
		}

		now := time.Now()
		key := fmt.Sprintf("upload_limit:%s:%s", caller, now.Format("2006-01-02"))

		count, err := redisClient.Get(ctx, key).Int()
		if err == redis.Nil {
			midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
			if err := redisClient.Set(ctx, key, 1, midnight.Sub(now)).Err(); err != nil {
				c.Next()
				return
			}
		} else if err != nil {
			c.Next()
			return
		} else if count >= cfg.UploadsPerDay {
			ttl, _ := redisClient.TTL(ctx, key).Result()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":               "upload_rate_limit_exceeded",
				"message":             "Too many uploads today. Please try again tomorrow.",
				"retry_after_hours":   int(ttl.Hours()),
				"uploads_today":       count,
				"max_uploads_per_day": cfg.UploadsPerDay,
			})
			c.Abort()
			return
		} else {
			_ = redisClient.Incr(ctx, key).Err()
		}

		c.Next()
	}
}
