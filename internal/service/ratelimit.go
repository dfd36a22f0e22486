package service

import (
	"context"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
)

// Limiter grants or refuses one outbound call for a provider
type Limiter interface {
	Allow(provider string) bool
}

type rateLimitedProvider struct {
	Provider
	limiter Limiter
}

// WithRateLimit wraps p so that calls beyond the local budget fail with
// KindRateLimited without reaching the network.
func WithRateLimit(p Provider, limiter Limiter) Provider {
	return &rateLimitedProvider{Provider: p, limiter: limiter}
}

func (r *rateLimitedProvider) Ask(ctx context.Context, history []dialogue.Turn, prompt string) (string, error) {
	if !r.limiter.Allow(r.Name()) {
		return "", &ProviderError{
			Provider: r.Name(),
			Kind:     KindRateLimited,
			Message:  "local request budget exhausted",
		}
	}
	return r.Provider.Ask(ctx, history, prompt)
}
