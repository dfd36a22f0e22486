package service

import (
	"context"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
)

// Provider is the uniform interface to a generative text backend.
// Every game operation that needs the questioner goes through it; one
// implementation exists per vendor.
type Provider interface {
	// Name returns the provider selector this adapter answers to (gemini, claude, openai)
	Name() string

	// Ask sends the conversation so far plus the new user prompt and returns the raw reply.
	// It performs exactly one outbound call, never retries, and only fails with *ProviderError.
	Ask(ctx context.Context, history []dialogue.Turn, prompt string) (string, error)
}

const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// SupportedProviders lists every provider selector in a stable order
var SupportedProviders = []string{ProviderGemini, ProviderClaude, ProviderOpenAI}
