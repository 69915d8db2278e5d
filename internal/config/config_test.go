package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
listen:
  port: 4000
gateway:
  url: http://ai.internal:8001
  timeout: 45s
store:
  driver: sqlite
  path: /var/lib/clinic/clinic.db
`
	os.WriteFile(path, []byte(yaml), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 4000 {
		t.Errorf("port = %d, want 4000", cfg.Listen.Port)
	}
	if cfg.Gateway.Timeout != 45*time.Second {
		t.Errorf("gateway.timeout = %v, want 45s", cfg.Gateway.Timeout)
	}
	// Unset fields keep their defaults.
	if cfg.Gateway.HealthTimeout != 5*time.Second {
		t.Errorf("gateway.health_timeout = %v, want 5s", cfg.Gateway.HealthTimeout)
	}
	if cfg.Gateway.Model != "gpt-4o-mini" {
		t.Errorf("gateway.model = %q, want gpt-4o-mini", cfg.Gateway.Model)
	}
	if cfg.RateLimit.Requests != 200 || cfg.RateLimit.Window != 15*time.Minute {
		t.Errorf("rate_limit = %+v, want 200 per 15m", cfg.RateLimit)
	}
	if cfg.StorePath() != "/var/lib/clinic/clinic.db" {
		t.Errorf("StorePath() = %q", cfg.StorePath())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("store:\n  driver: mongo\n  uri: ${CLINIC_TEST_URI}\n"), 0600)
	t.Setenv("CLINIC_TEST_URI", "mongodb://db.example:27017")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Store.URI != "mongodb://db.example:27017" {
		t.Errorf("store.uri = %q", cfg.Store.URI)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                      "3100",
		"FASTAPI_URL":               "http://fastapi:8001",
		"MONGODB_CONNECTION_STRING": "mongodb://mongo:27017",
		"DB_NAME":                   "clinic_prod",
		"FRONTEND_URL":              "https://clinic.example",
		"NODE_ENV":                  "production",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.ApplyEnv(lookup)

	if cfg.Listen.Port != 3100 {
		t.Errorf("port = %d", cfg.Listen.Port)
	}
	if cfg.Gateway.URL != "http://fastapi:8001" {
		t.Errorf("gateway.url = %q", cfg.Gateway.URL)
	}
	if cfg.Store.Driver != DriverMongo || cfg.Store.URI != "mongodb://mongo:27017" || cfg.Store.Database != "clinic_prod" {
		t.Errorf("store = %+v", cfg.Store)
	}
	last := cfg.CORS.AllowedOrigins[len(cfg.CORS.AllowedOrigins)-1]
	if last != "https://clinic.example" {
		t.Errorf("last allowed origin = %q", last)
	}
	if cfg.IsDevelopment() {
		t.Error("NODE_ENV=production should disable development mode")
	}
}

func TestStorePath_RelativeUnderDataDir(t *testing.T) {
	cfg := Default()
	got := cfg.StorePath()
	want := filepath.Join("data", "clinic.db")
	if got != want {
		t.Errorf("StorePath() = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Listen.Port = 70000 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }, true},
		{"mongo without uri", func(c *Config) { c.Store.Driver = DriverMongo }, true},
		{"bolt", func(c *Config) { c.Store.Driver = DriverBolt }, false},
		{"bolt without path", func(c *Config) { c.Store.Driver = DriverBolt; c.Store.Path = "" }, true},
		{"relative gateway url", func(c *Config) { c.Gateway.URL = "localhost:8001" }, true},
		{"zero timeout", func(c *Config) { c.Gateway.Timeout = 0 }, true},
		{"zero rate limit", func(c *Config) { c.RateLimit.Requests = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any() != slog.LevelInfo {
		t.Errorf("info level changed to %v", b.Value)
	}
}
