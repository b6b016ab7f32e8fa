package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// Recover returns echo's panic recovery middleware, logging through slog.
// The recovered panic is passed on to the HTTP error handler.
func Recover(logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "recover")
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("panic recovered",
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"stack", string(stack),
			)
			return err
		},
	})
}
