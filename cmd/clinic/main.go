// Clinic is the backend for the prenatal care chat assistant.
//
// It serves the JSON chat API used by the web frontend, relays each
// turn to the AI completion service, and keeps conversations, messages
// and favorites in SQLite or MongoDB. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); without one, built-in defaults and the
// deployment environment variables apply.
//
// Usage:
//
//	clinic serve              Start the API server
//	clinic init [dir]         Initialize a working directory with defaults
//	clinic ask <message>      Send one message to a running server
//	clinic chat               Chat with a running server interactively
//	clinic version            Print version and build information
//	clinic -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/prenatal-clinic/internal/api"
	"github.com/nugget/prenatal-clinic/internal/buildinfo"
	"github.com/nugget/prenatal-clinic/internal/chat"
	"github.com/nugget/prenatal-clinic/internal/config"
	"github.com/nugget/prenatal-clinic/internal/connwatch"
	"github.com/nugget/prenatal-clinic/internal/favorites"
	"github.com/nugget/prenatal-clinic/internal/gateway"
	"github.com/nugget/prenatal-clinic/internal/history"
	"github.com/nugget/prenatal-clinic/internal/store"
	"github.com/nugget/prenatal-clinic/internal/store/bolt"
	"github.com/nugget/prenatal-clinic/internal/store/mongo"
	"github.com/nugget/prenatal-clinic/internal/store/sqlite"
)

// main builds the OS-level environment and hands it to [run], keeping
// os.Exit and the standard streams out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx bounds the process lifetime, logs
// go to stdout, and args is os.Args[1:]. Arguments are parsed by hand
// so that tests can call run concurrently without the flag package's
// globals.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			// Everything after the command belongs to it.
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		return runAsk(ctx, stdout, configPath, outputFmt, cmdArgs)
	case "chat":
		return runChat(ctx, stdin, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Clinic - Prenatal care chat backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: clinic [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Send one message to a running server")
	fmt.Fprintln(w, "  chat         Chat with a running server interactively")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Client flags (ask, chat):")
	fmt.Fprintln(w, "  -url <url>            Server URL (default: http://localhost:<listen.port>)")
	fmt.Fprintln(w, "  -user <id>            User id (default: $USER)")
	fmt.Fprintln(w, "  -conversation <id>    Continue an existing conversation")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/clinic/config.yaml, /etc/clinic/config.yaml")
	return nil
}

// runServe handles "clinic serve". It opens the store, wires the chat,
// favorites and history services behind the HTTP API, and blocks until
// SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. The signal cancels ctx
//  2. The HTTP server stops accepting and drains in-flight turns
//  3. The store is closed via defer
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting clinic", "version", buildinfo.Version, "commit", buildinfo.Commit(), "built", buildinfo.Built())

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Switch to the configured level and format. Validate has already
	// checked the level name.
	{
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"store", cfg.Store.Driver,
		"gateway", cfg.Gateway.URL,
		"environment", cfg.Environment,
	)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close failed", "error", err)
		}
	}()

	gw := gateway.New(cfg.Gateway.URL, logger.With("component", "gateway"),
		gateway.WithTimeouts(cfg.Gateway.Timeout, cfg.Gateway.HealthTimeout),
	)

	deps := api.Deps{
		Chat:      chat.New(st, gw, cfg.Gateway.Model, logger.With("component", "chat")),
		Favorites: favorites.New(st, logger.With("component", "favorites")),
		History:   history.New(st, logger.With("component", "history")),
		Store:     st,
		Gateway:   gw,
	}
	server := api.NewServer(api.Options{
		Address:        cfg.Listen.Address,
		Port:           cfg.Listen.Port,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimit:      cfg.RateLimit.Requests,
		RateWindow:     cfg.RateLimit.Window,
		Development:    cfg.IsDevelopment(),
	}, deps, logger.With("component", "api"))

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Background watchers log dependency outages as they happen; the
	// health endpoint probes on demand.
	watchLogger := logger.With("component", "connwatch")
	probeBackoff := connwatch.Backoff{Timeout: cfg.Gateway.HealthTimeout}
	go connwatch.New("fastapi", gw.Ping, probeBackoff, watchLogger).Run(ctx)
	go connwatch.New("database", st.Ping, probeBackoff, watchLogger).Run(ctx)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		timeout := cfg.Listen.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown incomplete", "error", err)
		}
	}()

	// Start blocks until Shutdown is called or the listener fails.
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	<-stopped
	logger.Info("clinic stopped")
	return nil
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		st, err := mongo.Open(connectCtx, cfg.Store.URI, cfg.Store.Database)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		logger.Info("store opened", "driver", cfg.Store.Driver, "database", cfg.Store.Database)
		return st, nil
	case config.DriverBolt:
		st, err := bolt.Open(cfg.StorePath())
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		logger.Info("store opened", "driver", cfg.Store.Driver, "path", cfg.StorePath())
		return st, nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		st, err := sqlite.Open(cfg.Store.Driver, cfg.StorePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("store opened", "driver", cfg.Store.Driver, "path", cfg.StorePath())
		return st, nil
	}
}

// newLogger creates a structured logger writing to w at the given level
// and format. Any format other than "json" means text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. An explicit
// path must exist. When no file is found in the default locations the
// built-in defaults are used with the environment overrides applied, and
// the returned path is "(defaults)".
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg := config.Default()
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
