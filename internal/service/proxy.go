// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"cloud-proxy-go/internal/client"
	"cloud-proxy-go/internal/config"
	"cloud-proxy-go/internal/model"
)

// forwardableResponseHeaders are the only response headers relayed to the caller.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":  true,
	"Cache-Control": true,
	"Date":          true,
	"Retry-After":   true,
	"X-Request-Id":  true,
}

// alwaysRedacted are inbound headers whose values never reach the logs.
var alwaysRedacted = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// UpstreamError reports that no upstream response could be obtained.
type UpstreamError struct {
	Method string
	URL    string
	Err    error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client         *client.UpstreamClient
	logger         *slog.Logger
	baseURL        string
	forwardHeaders []string
	redacted       map[string]bool
}

// NewProxyService creates a ProxyService from the upstream configuration.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q is not absolute", cfg.Upstream.BaseURL)
	}

	headers := make([]string, 0, len(cfg.Upstream.ForwardHeaders))
	redacted := make(map[string]bool, len(cfg.Upstream.ForwardHeaders)+len(alwaysRedacted))
	for _, h := range cfg.Upstream.ForwardHeaders {
		name := http.CanonicalHeaderKey(h)
		headers = append(headers, name)
		redacted[name] = true
	}
	for _, h := range alwaysRedacted {
		redacted[h] = true
	}

	return &ProxyService{
		client:         c,
		logger:         logger.With("component", "proxy_service"),
		baseURL:        strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		forwardHeaders: headers,
		redacted:       redacted,
	}, nil
}

// Forward sends a ProxyRequest to the upstream and returns its response.
//
// Any upstream status, including 4xx and 5xx, is a successful result. An error
// is returned only when the body cannot be encoded (ErrMalformedBody) or when
// no response is obtained (*UpstreamError).
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	var body []byte
	if hasBody(pr.Method) {
		b, err := encodeBody(pr.Header.Get("Content-Type"), pr.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}

	upstreamURL := s.buildUpstreamURL(pr.RawPath, pr.RawQuery)
	header := s.buildRequestHeaders(pr.Header)

	s.logger.Info("forwarding request",
		"method", pr.Method,
		"path", pr.RawPath,
		"query", pr.RawQuery,
		"headers", s.redactHeaders(pr.Header),
		"body_bytes", len(pr.Body),
	)
	s.logger.Debug("inbound body", "method", pr.Method, "path", pr.RawPath, "body", string(pr.Body))

	resp, err := s.client.Send(pr.Ctx, pr.Method, upstreamURL, header, body)
	if err != nil {
		return nil, &UpstreamError{Method: pr.Method, URL: upstreamURL, Err: err}
	}

	s.logger.Info("upstream responded",
		"method", pr.Method,
		"path", pr.RawPath,
		"status", resp.StatusCode,
		"body_bytes", len(resp.Body),
	)
	s.logger.Debug("upstream body", "status", resp.StatusCode, "body", string(resp.Body))

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL appends the caller's path and query to the base URL unmodified.
func (s *ProxyService) buildUpstreamURL(rawPath, rawQuery string) string {
	if rawQuery == "" {
		return s.baseURL + rawPath
	}
	return s.baseURL + rawPath + "?" + rawQuery
}

// buildRequestHeaders returns the JSON content type plus the allow-listed
// headers present on the inbound request. Nothing else is forwarded.
func (s *ProxyService) buildRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(s.forwardHeaders)+1)
	dst.Set("Content-Type", "application/json")
	for _, key := range s.forwardHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[key] = append([]string(nil), vals...)
		}
	}
	return dst
}

// redactHeaders flattens headers for logging, masking credential values.
func (s *ProxyService) redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, vals := range h {
		if s.redacted[http.CanonicalHeaderKey(key)] {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = strings.Join(vals, ", ")
	}
	return out
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}
