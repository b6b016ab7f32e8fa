package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRecover_LogsAndHandsOff(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var handled error
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		handled = err
		_ = c.String(http.StatusInternalServerError, err.Error())
	}
	e.Use(Recover(logger))
	e.GET("/panic", func(echo.Context) error {
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if handled == nil || handled.Error() != "kaboom" {
		t.Errorf("handled error = %v, want kaboom", handled)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic log line, got %q", buf.String())
	}
}
