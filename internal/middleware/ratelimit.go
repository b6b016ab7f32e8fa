package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter returns a per-IP limiter backed by an in-memory token bucket
// store. Rejected callers receive 429; the gateway never queues requests.
func RateLimiter(requestsPerSecond float64, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "rate_limiter")
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(requestsPerSecond))

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			logger.Warn("rate limit exceeded",
				"remote_ip", identifier,
				"path", c.Request().URL.Path,
			)
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
