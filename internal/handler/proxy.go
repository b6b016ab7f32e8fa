package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"cloud-proxy-go/internal/model"
	"cloud-proxy-go/internal/service"
)

// ProxyHandler forwards requests under the route prefix to the upstream API.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream and relays its status and body.
// Transport failures are returned to the top-level ErrorHandler.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return fmt.Errorf("read request body: %w", err)
	}

	rawPath, rawQuery := originalTarget(req)
	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		RawPath:  rawPath,
		RawQuery: rawQuery,
		Header:   req.Header,
		Body:     body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		if errors.Is(err, service.ErrMalformedBody) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status is already committed; a failed write can only be logged.
	if _, err := c.Response().Write(resp.Body); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		h.logger.Error("writing response body",
			"err", err,
			"path", rawPath,
		)
	}

	return nil
}

// originalTarget returns the path and query exactly as they appeared on the
// request line. Absolute-form targets fall back to the parsed URL.
func originalTarget(req *http.Request) (rawPath, rawQuery string) {
	uri := req.RequestURI
	if uri == "" || uri[0] != '/' {
		return req.URL.EscapedPath(), req.URL.RawQuery
	}
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i], uri[i+1:]
	}
	return uri, ""
}
