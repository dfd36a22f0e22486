package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Origanire/netfilm-backend/internal/api"
	"github.com/Origanire/netfilm-backend/internal/config"
	"github.com/Origanire/netfilm-backend/internal/game"
	"github.com/Origanire/netfilm-backend/internal/monitor"
	"github.com/Origanire/netfilm-backend/internal/service"
	"github.com/Origanire/netfilm-backend/internal/storage"
	"github.com/Origanire/netfilm-backend/internal/telemetry"
)

var version = "dev"

const serviceName = "netfilm-backend"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	addr         string
	provider     string
	logLevel     string
	databaseType string
	healthCheck  bool
	migrate      bool
	showVersion  bool
}

func parseFlags(args []string, output io.Writer) (*options, *pflag.FlagSet, error) {
	opts := &options{}

	flagSet := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&opts.configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flagSet.StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flagSet.StringVar(&opts.provider, "provider", "", "default AI provider: gemini, claude or openai (overrides AI_PROVIDER)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides LOG_LEVEL)")
	flagSet.StringVar(&opts.databaseType, "database-type", "", "game record store: sqlite, mysql or none (overrides DATABASE_TYPE)")
	flagSet.BoolVar(&opts.healthCheck, "health-check", false, "query the /health endpoint of a running server and exit")
	flagSet.BoolVar(&opts.migrate, "migrate-sqlite-to-mysql", false, "copy every game record from the SQLite database into MySQL and exit")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, flagSet, nil
}

// applyFlags overlays explicitly set flags, the highest precedence source
func applyFlags(cfg *config.Config, opts *options, flagSet *pflag.FlagSet) {
	if flagSet.Changed("addr") {
		cfg.HTTP.Addr = opts.addr
	}
	if flagSet.Changed("provider") {
		cfg.Provider.Default = opts.provider
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flagSet.Changed("database-type") {
		cfg.Database.Type = opts.databaseType
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, flagSet, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "%s %s\n", serviceName, version)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg, opts, flagSet)

	// Initialize structured logging
	logger := newLogger(cfg.LogLevel, stdout)
	slog.SetDefault(logger)

	if opts.healthCheck {
		return checkHealth(ctx, cfg.HTTP.Addr)
	}
	if opts.migrate {
		return migrateSQLiteToMySQL(ctx, cfg, logger)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("NetFilm backend starting up...", "version", version, "provider", cfg.Provider.Default)

	// Initialize storage service
	store, err := openStorage(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Error closing storage service", "error", err)
			}
		}()
	}

	// Initialize rate limit manager and provider adapters
	rateLimitManager := monitor.NewRateLimitManager(logger, providerLimits(cfg))
	factory, err := service.NewFactory(cfg.Provider.Default, cfg.ProviderConfigs(), rateLimitManager, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize AI providers: %w", err)
	}
	logger.Info("AI providers initialized",
		"default", factory.Default(),
		"configured", factory.Configured())

	recorder, shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		TracesEnabled:  cfg.Telemetry.TracesEnabled,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		Endpoint:       cfg.Telemetry.Endpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Error flushing telemetry", "error", err)
		}
	}()

	registry := game.NewRegistry(cfg.Game.SessionTTL, cfg.Game.SweepInterval, logger)
	engine := game.NewEngine(game.Config{
		HistoryLimit:         cfg.Game.HistoryLimit,
		MaxRetries:           cfg.Provider.MaxRetries,
		RetryInitialInterval: cfg.Provider.RetryInitial,
		RetryMaxInterval:     cfg.Provider.RetryMax,
		SystemPrompt:         cfg.Game.SystemPrompt,
	}, registry, factory, store, recorder, logger)

	apiServer := api.NewServer(engine, api.Options{
		Version:         version,
		DefaultProvider: cfg.Provider.Default,
		Credentials:     cfg.CredentialStatus(),
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		Storage:         store,
		Usage:           rateLimitManager,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout exceeded, forcing exit", "error", err)
	}
	engine.Shutdown()

	logger.Info("Server shutdown completed successfully")
	return nil
}

// openStorage returns the configured game record store, or nil when persistence is disabled
func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (storage.StorageService, error) {
	var store storage.StorageService
	switch cfg.Type {
	case config.DatabaseNone:
		logger.Info("Game persistence disabled")
		return nil, nil
	case config.DatabaseMySQL:
		store = storage.NewMySQLStorageService(cfg.MySQL.StorageConfig())
	default:
		store = storage.NewSQLiteStorageService(cfg.Path)
	}

	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Type, err)
	}
	logger.Info("Storage service initialized successfully", "type", cfg.Type)
	return store, nil
}

// providerLimits converts the per-minute budgets; providers without a budget are unlimited
func providerLimits(cfg *config.Config) []monitor.ProviderLimits {
	var limits []monitor.ProviderLimits
	for _, name := range service.SupportedProviders {
		vendor, _ := cfg.Provider.Vendor(name)
		windows := make(map[string]int)
		if vendor.RateLimit > 0 {
			windows["minute"] = vendor.RateLimit
		}
		if vendor.DailyLimit > 0 {
			windows["day"] = vendor.DailyLimit
		}
		if len(windows) == 0 {
			continue
		}
		limits = append(limits, monitor.ProviderLimits{ProviderID: name, Limits: windows})
	}
	return limits
}

func newLogger(level string, output io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: lvl}))
}

// checkHealth checks a running server, for container health checks
func checkHealth(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(addr), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func healthURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + strings.TrimSuffix(addr, "/") + "/health"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health"
}

func migrateSQLiteToMySQL(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	source := storage.NewSQLiteStorageService(cfg.Database.Path)
	if err := source.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to open SQLite source: %w", err)
	}
	defer source.Close()

	target := storage.NewMySQLStorageService(cfg.Database.MySQL.StorageConfig())
	if err := target.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to open MySQL target: %w", err)
	}
	defer target.Close()

	migration := storage.NewMigrationService(source, target, logger)
	count, err := migration.MigrateData(ctx)
	if err != nil {
		return err
	}
	if err := migration.ValidateMigration(ctx); err != nil {
		return err
	}

	logger.Info("Migration completed successfully", "records", count)
	return nil
}
