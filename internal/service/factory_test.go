package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFactory(t *testing.T) {
	configs := map[string]ProviderConfig{
		ProviderClaude: {APIKey: "claude-key"},
		ProviderOpenAI: {APIKey: "openai-key"},
		ProviderGemini: {},
	}

	factory, err := NewFactory(ProviderClaude, configs, nil, testLogger())
	require.NoError(t, err)

	assert.Equal(t, ProviderClaude, factory.Default())
	assert.Equal(t, []string{ProviderClaude, ProviderOpenAI}, factory.Configured())

	provider, err := factory.Select("")
	require.NoError(t, err)
	assert.Equal(t, ProviderClaude, provider.Name())

	provider, err = factory.Select(ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, provider.Name())

	_, err = factory.Select(ProviderGemini)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = factory.Select("mistral")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewFactoryRequiresDefaultCredential(t *testing.T) {
	configs := map[string]ProviderConfig{
		ProviderOpenAI: {APIKey: "openai-key"},
	}

	_, err := NewFactory(ProviderGemini, configs, nil, testLogger())
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewFactoryWrapsWithLimiter(t *testing.T) {
	limiter := &fixedLimiter{allow: false}
	factory, err := NewFactory(ProviderGemini, map[string]ProviderConfig{
		ProviderGemini: {APIKey: "gemini-key", BaseURL: "http://127.0.0.1:1"},
	}, limiter, testLogger())
	require.NoError(t, err)

	provider, err := factory.Select(ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, provider.Name())

	_, err = provider.Ask(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, []string{ProviderGemini}, limiter.asked)
}

func TestWithRateLimit(t *testing.T) {
	inner := &stubProvider{name: "stub", reply: "QUESTION: Is it long?"}

	denied := WithRateLimit(inner, &fixedLimiter{allow: false})
	_, err := denied.Ask(context.Background(), nil, "")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindRateLimited, perr.Kind)
	assert.Equal(t, "stub", perr.Provider)
	assert.Equal(t, 0, inner.calls)

	allowed := WithRateLimit(inner, &fixedLimiter{allow: true})
	reply, err := allowed.Ask(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "QUESTION: Is it long?", reply)
	assert.Equal(t, 1, inner.calls)
}

func TestNewStaticFactory(t *testing.T) {
	factory := NewStaticFactory(&stubProvider{name: "first"}, &stubProvider{name: "second"})

	assert.Equal(t, "first", factory.Default())
	assert.Equal(t, []string{"first", "second"}, factory.Configured()[:2])

	provider, err := factory.Select("")
	require.NoError(t, err)
	assert.Equal(t, "first", provider.Name())
}
