package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Allower is satisfied by limiter.Manager.
type Allower interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type RateLimitConfig struct {
	// KeyFunc picks the bucket; an empty key falls back to the client IP.
	KeyFunc func(c echo.Context) string
}

// UserKey buckets requests by authenticated user.
func UserKey(c echo.Context) string {
	if auth, ok := AuthFrom(c); ok && auth.UserID != "" {
		return "user:" + auth.UserID
	}
	return ""
}

func NewRateLimitMiddleware(allower Allower, config RateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var key string
			if config.KeyFunc != nil {
				key = config.KeyFunc(c)
			}
			if key == "" {
				key = "ip:" + c.RealIP()
			}

			allowed, err := allower.Allow(c.Request().Context(), key)
			if err != nil {
				// fail open
				c.Logger().Errorf("rate limit redis error: %v", err)
				return next(c)
			}
			if !allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "too many requests",
				})
			}
			return next(c)
		}
	}
}
