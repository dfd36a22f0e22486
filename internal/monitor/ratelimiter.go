package monitor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	StatusNormal    = "Normal"
	StatusWarning   = "Warning"
	StatusThrottled = "Throttled"
)

// ProviderLimits configures the request budget of one provider.
// Limits maps a time window (minute, hour, day) to its maximum call count;
// a zero or missing limit means unlimited for that window.
type ProviderLimits struct {
	ProviderID string
	Limits     map[string]int
	Thresholds map[string]float64
}

// ProviderUsage is a point in time view of a provider's budget
type ProviderUsage struct {
	ProviderID string         `json:"provider"`
	Status     string         `json:"status"`
	Counts     map[string]int `json:"counts"`
	Limits     map[string]int `json:"limits"`
}

var windowDurations = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// RateLimitManager tracks outbound calls per provider in fixed windows.
// Counters live in a go-cache instance keyed by provider, window and window
// start, so expired windows are dropped by the cache janitor.
type RateLimitManager struct {
	mu        sync.Mutex
	counters  *cache.Cache
	providers map[string]ProviderLimits
	logger    *slog.Logger
	now       func() time.Time
}

// NewRateLimitManager creates a manager for the given providers
func NewRateLimitManager(logger *slog.Logger, providers []ProviderLimits) *RateLimitManager {
	m := &RateLimitManager{
		counters:  cache.New(time.Hour, 10*time.Minute),
		providers: make(map[string]ProviderLimits),
		logger:    logger,
		now:       time.Now,
	}

	for _, p := range providers {
		if p.Thresholds == nil {
			p.Thresholds = map[string]float64{"warning": 0.75, "throttled": 1.0}
		}
		m.providers[p.ProviderID] = p
		logger.Info("Rate limit configured", "provider", p.ProviderID, "limits", p.Limits)
	}

	return m
}

// Allow registers one call if every window of the provider has room left.
// Unknown providers are never limited.
func (m *RateLimitManager) Allow(providerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	limits, ok := m.providers[providerID]
	if !ok {
		return true
	}

	now := m.now()
	for window, limit := range limits.Limits {
		if limit <= 0 {
			continue
		}
		if count := m.count(providerID, window, now); count >= limit {
			m.logger.Warn("Provider request budget exhausted",
				"provider", providerID,
				"window", window,
				"count", count,
				"limit", limit)
			return false
		}
	}

	m.register(limits, now)
	return true
}

// Usage returns a snapshot of every configured provider, sorted by id
func (m *RateLimitManager) Usage() []ProviderUsage {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	usage := make([]ProviderUsage, 0, len(m.providers))
	for id, limits := range m.providers {
		u := ProviderUsage{
			ProviderID: id,
			Status:     m.status(limits, now),
			Counts:     make(map[string]int),
			Limits:     make(map[string]int),
		}
		for window, limit := range limits.Limits {
			u.Counts[window] = m.count(id, window, now)
			u.Limits[window] = limit
		}
		usage = append(usage, u)
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].ProviderID < usage[j].ProviderID })
	return usage
}

func (m *RateLimitManager) status(limits ProviderLimits, now time.Time) string {
	var ratio float64
	for window, limit := range limits.Limits {
		if limit <= 0 {
			continue
		}
		if r := float64(m.count(limits.ProviderID, window, now)) / float64(limit); r > ratio {
			ratio = r
		}
	}

	switch {
	case ratio >= limits.Thresholds["throttled"]:
		return StatusThrottled
	case ratio >= limits.Thresholds["warning"]:
		return StatusWarning
	default:
		return StatusNormal
	}
}

func (m *RateLimitManager) register(limits ProviderLimits, now time.Time) {
	for window := range limits.Limits {
		d, ok := windowDurations[window]
		if !ok {
			continue
		}
		key := windowKey(limits.ProviderID, window, now)
		// Add fails when the window counter already exists, which is fine
		_ = m.counters.Add(key, 0, d)
		if _, err := m.counters.IncrementInt(key, 1); err != nil {
			m.logger.Error("Failed to increment rate limit counter", "key", key, "error", err)
		}
	}
}

func (m *RateLimitManager) count(providerID, window string, now time.Time) int {
	v, ok := m.counters.Get(windowKey(providerID, window, now))
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

func windowKey(providerID, window string, now time.Time) string {
	d, ok := windowDurations[window]
	if !ok {
		d = time.Minute
	}
	return fmt.Sprintf("%s:%s:%d", providerID, window, now.Truncate(d).Unix())
}
