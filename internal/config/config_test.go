package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[upstream]
base_url = "https://apis.example.com/"
route_prefix = "/v1/"
forward_headers = ["authorization", "x-api-key"]
timeout_seconds = 60
idle_connections = 50
insecure_skip_verify = true

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Upstream.BaseURL != "https://apis.example.com" {
		t.Errorf("Upstream.BaseURL = %q, want trailing slash trimmed", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.RoutePrefix != "/v1" {
		t.Errorf("Upstream.RoutePrefix = %q, want %q", cfg.Upstream.RoutePrefix, "/v1")
	}
	want := []string{"Authorization", "X-Api-Key"}
	if strings.Join(cfg.Upstream.ForwardHeaders, ",") != strings.Join(want, ",") {
		t.Errorf("Upstream.ForwardHeaders = %v, want %v", cfg.Upstream.ForwardHeaders, want)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if !cfg.Upstream.InsecureSkipVerify {
		t.Error("Upstream.InsecureSkipVerify = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Upstream.BaseURL != "https://apis.roblox.com" {
		t.Errorf("default Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "https://apis.roblox.com")
	}
	if cfg.Upstream.RoutePrefix != "/cloud" {
		t.Errorf("default Upstream.RoutePrefix = %q, want %q", cfg.Upstream.RoutePrefix, "/cloud")
	}
	if len(cfg.Upstream.ForwardHeaders) != 1 || cfg.Upstream.ForwardHeaders[0] != "X-Api-Key" {
		t.Errorf("default Upstream.ForwardHeaders = %v, want [X-Api-Key]", cfg.Upstream.ForwardHeaders)
	}
	if cfg.Upstream.InsecureSkipVerify {
		t.Error("default Upstream.InsecureSkipVerify = true, want false")
	}
	if cfg.Upstream.TimeoutSeconds != 120 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 120)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	orig := configSearchPaths
	configSearchPaths = []string{filepath.Join(t.TempDir(), "missing.toml")}
	defer func() { configSearchPaths = orig }()

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.BaseURL != DefaultBaseURL {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultBaseURL)
	}
	if cfg.filePath != "" {
		t.Errorf("filePath = %q, want empty", cfg.filePath)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
base_url = "https://apis.roblox.com"
route_prefix = "/cloud"

[log]
level = "info"
`)

	cli := &CLI{
		Config:             path,
		Host:               "127.0.0.1",
		Port:               3001,
		Upstream:           "https://staging.example.com",
		Prefix:             "/api",
		InsecureSkipVerify: true,
		LogLevel:           "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3001)
	}
	if cfg.Upstream.BaseURL != "https://staging.example.com" {
		t.Errorf("Upstream.BaseURL = %q, want CLI override", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.RoutePrefix != "/api" {
		t.Errorf("Upstream.RoutePrefix = %q, want %q (CLI override)", cfg.Upstream.RoutePrefix, "/api")
	}
	if !cfg.Upstream.InsecureSkipVerify {
		t.Error("Upstream.InsecureSkipVerify = false, want true (CLI override)")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"ftp upstream", "[upstream]\nbase_url = \"ftp://apis.roblox.com\"\n", "http or https"},
		{"upstream without host", "[upstream]\nbase_url = \"https://\"\n", "host"},
		{"upstream with query", "[upstream]\nbase_url = \"https://apis.roblox.com?x=1\"\n", "query"},
		{"prefix without slash", "[upstream]\nroute_prefix = \"cloud\"\n", "route_prefix"},
		{"root prefix", "[upstream]\nroute_prefix = \"/\"\n", "root"},
		{"wildcard prefix", "[upstream]\nroute_prefix = \"/cloud/*\"\n", "literal"},
		{"prefix shadows status", "[upstream]\nroute_prefix = \"/proxy\"\n", "conflicts"},
		{"content-type allow-listed", "[upstream]\nforward_headers = [\"content-type\"]\n", "Content-Type"},
		{"hop-by-hop allow-listed", "[upstream]\nforward_headers = [\"Connection\"]\n", "hop-by-hop"},
		{"empty header name", "[upstream]\nforward_headers = [\" \"]\n", "empty"},
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"negative body max", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n", "timeout_seconds"},
		{"negative idle", "[upstream]\nidle_connections = -5\n", "idle_connections"},
		{"bad log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"bad log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"rate limit zero", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnInsecureTLS(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	(&Config{}).WarnInsecureTLS(logger)
	if buf.Len() != 0 {
		t.Errorf("expected no warning with validation enabled, got: %q", buf.String())
	}

	cfg := &Config{Upstream: UpstreamConfig{BaseURL: "https://self-signed.internal", InsecureSkipVerify: true}}
	cfg.WarnInsecureTLS(logger)
	if !strings.Contains(buf.String(), "certificate validation is disabled") {
		t.Errorf("expected TLS warning, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	path1 := filepath.Join(dir1, "config.toml")
	path2 := filepath.Join(dir2, "config.toml")
	for _, p := range []string{path1, path2} {
		if err := os.WriteFile(p, []byte("[upstream]\nbase_url = \"https://apis.roblox.com\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"found", []string{path2}, path2},
		{"not found", []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}, ""},
		{"first match wins", []string{path1, path2}, path1},
		{"skips missing", []string{"/nonexistent/a.toml", path2}, path2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigInPaths(tt.paths); got != tt.want {
				t.Errorf("findConfigInPaths() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr string
	}{
		{"default", "[metrics]\nenabled = true\n", "/metrics", ""},
		{"custom", "[metrics]\nenabled = true\npath = \"/custom-metrics\"\n", "/custom-metrics", ""},
		{"no leading slash", "[metrics]\nenabled = true\npath = \"metrics\"\n", "", "metrics.path"},
		{"root", "[metrics]\nenabled = true\npath = \"/\"\n", "", "conflicts"},
		{"healthz", "[metrics]\nenabled = true\npath = \"/healthz\"\n", "", "conflicts"},
		{"proxy status", "[metrics]\nenabled = true\npath = \"/proxy/status\"\n", "", "conflicts"},
		{"route prefix", "[metrics]\nenabled = true\npath = \"/cloud\"\n", "", "conflicts"},
		{"under route prefix", "[metrics]\nenabled = true\npath = \"/cloud/metrics\"\n", "", "conflicts"},
		{"disabled skips validation", "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n", "bad-no-slash", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("Load() expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Metrics.Path != tt.want {
				t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, tt.want)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestLoad_ShippedExample(t *testing.T) {
	cfg, err := Load(cliWithPath(filepath.Join("..", "..", "configs", "config.toml")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.BaseURL != DefaultBaseURL {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultBaseURL)
	}
	if cfg.Upstream.RoutePrefix != DefaultRoutePrefix {
		t.Errorf("Upstream.RoutePrefix = %q, want %q", cfg.Upstream.RoutePrefix, DefaultRoutePrefix)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
}
