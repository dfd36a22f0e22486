package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// ErrUnknownProvider is returned when a selector names no registered adapter
var ErrUnknownProvider = errors.New("unknown or unconfigured provider")

// ProviderConfig holds the settings shared by every adapter
type ProviderConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// withDefaults fills unset fields with the vendor and package defaults
func (c ProviderConfig) withDefaults(baseURL, model string) ProviderConfig {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature < 0 {
		c.Temperature = DefaultTemperature
	}
	return c
}

type constructor func(ProviderConfig, *slog.Logger) (Provider, error)

var constructors = map[string]constructor{
	ProviderGemini: func(cfg ProviderConfig, logger *slog.Logger) (Provider, error) {
		return NewGeminiProvider(cfg, logger)
	},
	ProviderClaude: func(cfg ProviderConfig, logger *slog.Logger) (Provider, error) {
		return NewClaudeProvider(cfg, logger)
	},
	ProviderOpenAI: func(cfg ProviderConfig, logger *slog.Logger) (Provider, error) {
		return NewOpenAIProvider(cfg, logger)
	},
}

// Factory resolves provider selectors to adapters. Adapters are built once
// from configuration; providers without a credential are not registered.
type Factory struct {
	providers   map[string]Provider
	defaultName string
}

// NewFactory builds an adapter for every provider that has a credential.
// The default provider must be among them. A nil limiter disables the
// client side request budget.
func NewFactory(defaultName string, configs map[string]ProviderConfig, limiter Limiter, logger *slog.Logger) (*Factory, error) {
	f := &Factory{
		providers:   make(map[string]Provider),
		defaultName: defaultName,
	}

	for _, name := range SupportedProviders {
		cfg, ok := configs[name]
		if !ok || cfg.APIKey == "" {
			logger.Debug("Provider not configured, skipping", "provider", name)
			continue
		}

		provider, err := constructors[name](cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
		}
		if limiter != nil {
			provider = WithRateLimit(provider, limiter)
		}
		f.providers[name] = provider
		logger.Info("Provider registered", "provider", name, "default", name == defaultName)
	}

	if _, ok := f.providers[defaultName]; !ok {
		return nil, fmt.Errorf("default provider %q has no credential: %w", defaultName, ErrUnknownProvider)
	}

	return f, nil
}

// NewStaticFactory registers already built adapters. The first one is the default.
func NewStaticFactory(providers ...Provider) *Factory {
	f := &Factory{providers: make(map[string]Provider)}
	for i, p := range providers {
		if i == 0 {
			f.defaultName = p.Name()
		}
		f.providers[p.Name()] = p
	}
	return f
}

// Select returns the adapter for name, or the default adapter when name is empty
func (f *Factory) Select(name string) (Provider, error) {
	if name == "" {
		name = f.defaultName
	}
	provider, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return provider, nil
}

// Default returns the default provider selector
func (f *Factory) Default() string {
	return f.defaultName
}

// Configured lists the registered provider selectors in a stable order
func (f *Factory) Configured() []string {
	var names []string
	for _, name := range SupportedProviders {
		if _, ok := f.providers[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for name := range f.providers {
		if !isSupported(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func isSupported(name string) bool {
	for _, n := range SupportedProviders {
		if n == name {
			return true
		}
	}
	return false
}
