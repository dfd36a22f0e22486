package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Origanire/netfilm-backend/internal/service"
	"github.com/Origanire/netfilm-backend/internal/storage"
)

// Database backends
const (
	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
	DatabaseNone   = "none"
)

// Config is the complete process configuration
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"LOG_LEVEL"`
	Provider  ProviderConfig  `yaml:"provider"`
	Game      GameConfig      `yaml:"game"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProviderConfig holds the shared provider settings and one section per vendor
type ProviderConfig struct {
	Default      string        `yaml:"default" env:"AI_PROVIDER"`
	Timeout      time.Duration `yaml:"timeout" env:"PROVIDER_TIMEOUT"`
	MaxTokens    int           `yaml:"max_tokens" env:"PROVIDER_MAX_TOKENS"`
	Temperature  float64       `yaml:"temperature" env:"PROVIDER_TEMPERATURE"`
	MaxRetries   int           `yaml:"max_retries" env:"PROVIDER_MAX_RETRIES"`
	RetryInitial time.Duration `yaml:"retry_initial" env:"PROVIDER_RETRY_INITIAL"`
	RetryMax     time.Duration `yaml:"retry_max" env:"PROVIDER_RETRY_MAX"`
	Claude       VendorConfig  `yaml:"claude" envPrefix:"CLAUDE_"`
	Gemini       VendorConfig  `yaml:"gemini" envPrefix:"GEMINI_"`
	OpenAI       VendorConfig  `yaml:"openai" envPrefix:"OPENAI_"`
}

// VendorConfig configures one provider. RateLimit is in requests per
// minute and DailyLimit in requests per day, 0 meaning unlimited.
type VendorConfig struct {
	APIKey     string `yaml:"-" env:"API_KEY"`
	Model      string `yaml:"model" env:"MODEL"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`
	RateLimit  int    `yaml:"rate_limit" env:"RATE_LIMIT"`
	DailyLimit int    `yaml:"daily_limit" env:"DAILY_LIMIT"`
}

// GameConfig tunes sessions
type GameConfig struct {
	HistoryLimit     int           `yaml:"history_limit" env:"HISTORY_LIMIT"`
	SessionTTL       time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env:"SESSION_SWEEP_INTERVAL"`
	SystemPromptFile string        `yaml:"system_prompt_file" env:"SYSTEM_PROMPT_FILE"`

	// SystemPrompt is loaded from SystemPromptFile
	SystemPrompt string `yaml:"-"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	TracesEnabled  bool   `yaml:"traces_enabled" env:"OTEL_TRACES_ENABLED"`
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"OTEL_METRICS_ENABLED"`
	Endpoint       string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Provider: ProviderConfig{
			Default:      service.ProviderGemini,
			Timeout:      service.DefaultTimeout,
			MaxTokens:    service.DefaultMaxTokens,
			Temperature:  service.DefaultTemperature,
			MaxRetries:   2,
			RetryInitial: 250 * time.Millisecond,
			RetryMax:     2 * time.Second,
			Claude:       VendorConfig{Model: "claude-sonnet-4-20250514", RateLimit: 50},
			Gemini:       VendorConfig{Model: "gemini-2.0-flash-exp", RateLimit: 15, DailyLimit: 1500},
			OpenAI:       VendorConfig{Model: "gpt-4o-mini", RateLimit: 60},
		},
		Game: GameConfig{
			HistoryLimit:  20,
			SessionTTL:    time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr:            ":8000",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type: DatabaseSQLite,
			Path: "./data/netfilm.db",
			MySQL: MySQLSettings{
				Host:     "localhost",
				Port:     3306,
				Database: "netfilm",
				Username: "netfilm",
				Timeout:  30 * time.Second,
			},
		},
	}
}

// Vendor returns the section of a provider by selector name
func (p *ProviderConfig) Vendor(name string) (*VendorConfig, bool) {
	switch name {
	case service.ProviderClaude:
		return &p.Claude, true
	case service.ProviderGemini:
		return &p.Gemini, true
	case service.ProviderOpenAI:
		return &p.OpenAI, true
	}
	return nil, false
}

// ProviderConfigs builds the adapter settings of every supported provider
func (c *Config) ProviderConfigs() map[string]service.ProviderConfig {
	configs := make(map[string]service.ProviderConfig, len(service.SupportedProviders))
	for _, name := range service.SupportedProviders {
		vendor, _ := c.Provider.Vendor(name)
		configs[name] = service.ProviderConfig{
			APIKey:      vendor.APIKey,
			Model:       vendor.Model,
			BaseURL:     vendor.BaseURL,
			Timeout:     c.Provider.Timeout,
			MaxTokens:   c.Provider.MaxTokens,
			Temperature: c.Provider.Temperature,
		}
	}
	return configs
}

// CredentialStatus reports which providers have an API key
func (c *Config) CredentialStatus() map[string]bool {
	status := make(map[string]bool, len(service.SupportedProviders))
	for _, name := range service.SupportedProviders {
		vendor, _ := c.Provider.Vendor(name)
		status[name] = strings.TrimSpace(vendor.APIKey) != ""
	}
	return status
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	vendor, ok := c.Provider.Vendor(c.Provider.Default)
	switch {
	case !ok:
		errs = append(errs, NewConfigError("AI_PROVIDER",
			fmt.Sprintf("unknown provider %q, expected one of %s", c.Provider.Default, strings.Join(service.SupportedProviders, ", ")), nil))
	case strings.TrimSpace(vendor.APIKey) == "":
		errs = append(errs, NewConfigError(credentialKey(c.Provider.Default), "API key is required for the selected provider", nil))
	}

	if c.Provider.Timeout <= 0 {
		errs = append(errs, NewConfigError("PROVIDER_TIMEOUT", "must be positive", nil))
	}
	if c.Provider.MaxTokens <= 0 {
		errs = append(errs, NewConfigError("PROVIDER_MAX_TOKENS", "must be positive", nil))
	}
	if c.Provider.MaxRetries < 0 {
		errs = append(errs, NewConfigError("PROVIDER_MAX_RETRIES", "cannot be negative", nil))
	}
	for _, name := range service.SupportedProviders {
		v, _ := c.Provider.Vendor(name)
		if v.RateLimit < 0 {
			errs = append(errs, NewConfigError(strings.ToUpper(name)+"_RATE_LIMIT", "cannot be negative", nil))
		}
		if v.DailyLimit < 0 {
			errs = append(errs, NewConfigError(strings.ToUpper(name)+"_DAILY_LIMIT", "cannot be negative", nil))
		}
	}

	if c.Game.HistoryLimit <= 0 {
		errs = append(errs, NewConfigError("HISTORY_LIMIT", "must be positive", nil))
	}
	if c.Game.SessionTTL <= 0 {
		errs = append(errs, NewConfigError("SESSION_TTL", "must be positive", nil))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, NewConfigError("HTTP_ADDR", "cannot be empty", nil))
	}

	if err := c.Database.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// credentialKey names the environment variable holding a provider's key
func credentialKey(provider string) string {
	switch provider {
	case service.ProviderClaude:
		return "ANTHROPIC_API_KEY"
	case service.ProviderGemini:
		return "GOOGLE_API_KEY"
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}

// DatabaseConfig selects and configures the game record store
type DatabaseConfig struct {
	Type  string        `yaml:"type" env:"DATABASE_TYPE"`
	Path  string        `yaml:"path" env:"DATABASE_PATH"`
	MySQL MySQLSettings `yaml:"mysql" envPrefix:"MYSQL_"`
}

// MySQLSettings holds the MySQL connection parameters
type MySQLSettings struct {
	Host     string        `yaml:"host" env:"HOST"`
	Port     int           `yaml:"port" env:"PORT"`
	Database string        `yaml:"database" env:"DATABASE"`
	Username string        `yaml:"-" env:"USERNAME"`
	Password string        `yaml:"-" env:"PASSWORD"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

func (d *DatabaseConfig) validate() error {
	switch d.Type {
	case DatabaseSQLite:
		if d.Path == "" {
			return NewConfigError("DATABASE_PATH", "required for sqlite", nil)
		}
	case DatabaseMySQL:
		if d.MySQL.Host == "" || d.MySQL.Database == "" || d.MySQL.Username == "" {
			return NewConfigError("MYSQL_HOST", "host, database and username are required for mysql", nil)
		}
		if d.MySQL.Port <= 0 || d.MySQL.Port > 65535 {
			return NewConfigError("MYSQL_PORT", fmt.Sprintf("invalid port %d", d.MySQL.Port), nil)
		}
	case DatabaseNone:
	default:
		return NewConfigError("DATABASE_TYPE", fmt.Sprintf("unsupported database type %q", d.Type), nil)
	}
	return nil
}

// StorageConfig converts the MySQL settings for the storage layer
func (m MySQLSettings) StorageConfig() storage.MySQLConfig {
	return storage.MySQLConfig{
		Host:     m.Host,
		Port:     strconv.Itoa(m.Port),
		Database: m.Database,
		Username: m.Username,
		Password: m.Password,
		Timeout:  m.Timeout.String(),
	}
}
