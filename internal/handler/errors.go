package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"cloud-proxy-go/internal/service"
)

// ErrorMessagePrefix starts the body of every 500 response.
const ErrorMessagePrefix = "An error occurred: "

// ErrorHandler returns the echo HTTPErrorHandler for the gateway.
//
// HTTP errors raised by routing or middleware (404, 405, 413, 429, 400) keep
// echo's default rendering. Everything else, including upstream transport
// failures and recovered panics, is logged and answered with a plain-text 500.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			c.Echo().DefaultHTTPErrorHandler(he, c)
			return
		}

		req := c.Request()
		attrs := []any{
			"err", err,
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		}
		var upErr *service.UpstreamError
		if errors.As(err, &upErr) {
			attrs = append(attrs, "upstream_url", upErr.URL)
		}

		if c.Response().Committed {
			logger.Error("error after response was committed", attrs...)
			return
		}
		logger.Error("request failed", attrs...)

		if err := c.String(http.StatusInternalServerError, ErrorMessagePrefix+err.Error()); err != nil {
			logger.Error("writing error response", "err", err)
		}
	}
}
