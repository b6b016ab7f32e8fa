package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"cloud-proxy-go/internal/config"
)

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body) != 1 || body["status"] != "ok" {
		t.Errorf("body = %v, want {status: ok}", body)
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:            "https://apis.roblox.com",
			RoutePrefix:        "/cloud",
			ForwardHeaders:     []string{"X-Api-Key"},
			InsecureSkipVerify: true,
		},
	}
	h := NewHealthHandler(cfg, "1.2.3")
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Status         string   `json:"status"`
		Version        string   `json:"version"`
		UpstreamURL    string   `json:"upstream_url"`
		RoutePrefix    string   `json:"route_prefix"`
		ForwardHeaders []string `json:"forward_headers"`
		TLSVerify      bool     `json:"tls_verify"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("body.status = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.2.3" {
		t.Errorf("body.version = %q, want %q", body.Version, "1.2.3")
	}
	if body.UpstreamURL != "https://apis.roblox.com" {
		t.Errorf("body.upstream_url = %q, want %q", body.UpstreamURL, "https://apis.roblox.com")
	}
	if body.RoutePrefix != "/cloud" {
		t.Errorf("body.route_prefix = %q, want %q", body.RoutePrefix, "/cloud")
	}
	if len(body.ForwardHeaders) != 1 || body.ForwardHeaders[0] != "X-Api-Key" {
		t.Errorf("body.forward_headers = %v, want [X-Api-Key]", body.ForwardHeaders)
	}
	if body.TLSVerify {
		t.Error("body.tls_verify = true, want false")
	}
}
