// Package config handles clinic server configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/clinic/config.yaml, /etc/clinic/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "clinic", "config.yaml"))
	}

	paths = append(paths, "/etc/clinic/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Store drivers.
const (
	DriverSQLite3 = "sqlite3" // mattn/go-sqlite3
	DriverSQLite  = "sqlite"  // modernc.org/sqlite
	DriverMongo   = "mongo"
	DriverBolt    = "bolt" // go.etcd.io/bbolt
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all clinic server configuration.
type Config struct {
	Listen      ListenConfig    `yaml:"listen"`
	Store       StoreConfig     `yaml:"store"`
	Gateway     GatewayConfig   `yaml:"gateway"`
	CORS        CORSConfig      `yaml:"cors"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Environment string          `yaml:"environment"` // development or production
	DataDir     string          `yaml:"data_dir"`
	LogLevel    string          `yaml:"log_level"`
	LogFormat   string          `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// ShutdownTimeout bounds how long in-flight requests may drain after
	// SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite3, sqlite, bolt, mongo
	// Path is the SQLite or bbolt database file. Relative paths resolve under
	// DataDir.
	Path string `yaml:"path"`
	// URI and Database configure the mongo driver.
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// GatewayConfig defines the external AI completion service.
type GatewayConfig struct {
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`        // chat call ceiling (default 30s)
	HealthTimeout time.Duration `yaml:"health_timeout"` // liveness probe ceiling (default 5s)
	// Model is recorded in AI message metadata as model_used.
	Model string `yaml:"model"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig caps requests per client IP over a rolling window.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded, unset fields take their defaults, and the
// deployment environment overrides are applied last.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Port:            3001,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:   DriverSQLite3,
			Path:     "clinic.db",
			Database: "prenatal_chatbot",
		},
		Gateway: GatewayConfig{
			URL:           "http://localhost:8001",
			Timeout:       30 * time.Second,
			HealthTimeout: 5 * time.Second,
			Model:         "gpt-4o-mini",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{
				"http://localhost:5173", // Vite
				"http://localhost:3000", // CRA
				"http://127.0.0.1:5173",
				"http://127.0.0.1:3000",
			},
		},
		RateLimit: RateLimitConfig{
			Requests: 200,
			Window:   15 * time.Minute,
		},
		Environment: EnvDevelopment,
		DataDir:     "data",
		LogFormat:   "text",
	}
}

// ApplyEnv overrides fields from the deployment environment (PORT,
// FASTAPI_URL, MONGODB_CONNECTION_STRING, DB_NAME, FRONTEND_URL,
// NODE_ENV). lookup is normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("PORT"); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Listen.Port = port
		}
	}
	if v, ok := lookup("FASTAPI_URL"); ok && v != "" {
		c.Gateway.URL = v
	}
	if v, ok := lookup("MONGODB_CONNECTION_STRING"); ok && v != "" {
		c.Store.Driver = DriverMongo
		c.Store.URI = v
	}
	if v, ok := lookup("DB_NAME"); ok && v != "" {
		c.Store.Database = v
	}
	if v, ok := lookup("FRONTEND_URL"); ok && v != "" {
		c.CORS.AllowedOrigins = append(c.CORS.AllowedOrigins, v)
	}
	if v, ok := lookup("NODE_ENV"); ok && v != "" {
		c.Environment = v
	}
}

// IsDevelopment reports whether verbose error bodies are enabled.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// StorePath returns the database file path, resolved under DataDir when
// relative.
func (c *Config) StorePath() string {
	if c.Store.Path == "" || filepath.IsAbs(c.Store.Path) || c.DataDir == "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, c.Store.Path)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range 1-65535", c.Listen.Port)
	}
	if c.Listen.ShutdownTimeout < 0 {
		return fmt.Errorf("listen.shutdown_timeout must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat)
	}

	switch c.Store.Driver {
	case DriverSQLite3, DriverSQLite, DriverBolt:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for driver %s", c.Store.Driver)
		}
	case DriverMongo:
		if c.Store.URI == "" {
			return fmt.Errorf("store.uri is required for driver mongo")
		}
	default:
		return fmt.Errorf("store.driver %q (valid: %s, %s, %s, %s)", c.Store.Driver, DriverSQLite3, DriverSQLite, DriverBolt, DriverMongo)
	}

	u, err := url.Parse(c.Gateway.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gateway.url %q is not an absolute URL", c.Gateway.URL)
	}
	if c.Gateway.Timeout <= 0 || c.Gateway.HealthTimeout <= 0 {
		return fmt.Errorf("gateway timeouts must be positive")
	}

	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.requests and rate_limit.window must be positive")
	}
	return nil
}
