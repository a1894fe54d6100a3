package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dipeo/dipeo/common/ratelimit"
)

// ExecutionRateLimit throttles execution starts. A nil limiter (no redis
// configured) disables the check; limiter errors fail open so a redis outage
// does not take the API down with it.
func ExecutionRateLimit(limiter *ratelimit.Limiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter == nil {
				return next(c)
			}

			res, err := limiter.CheckGlobal(c.Request().Context(), limit)
			if err != nil {
				return next(c)
			}
			if !res.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "too many execution starts, slow down",
					"details": map[string]interface{}{
						"limit":               res.Limit,
						"window":              "60 seconds",
						"retry_after_seconds": res.RetryAfterSeconds,
					},
				})
			}
			return next(c)
		}
	}
}
