package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
)

const (
	defaultClaudeBaseURL = "https://api.anthropic.com/"
	defaultClaudeModel   = "claude-sonnet-4-20250514"
)

// ClaudeProvider implements Provider using the Anthropic Messages API
type ClaudeProvider struct {
	client      anthropic.Client
	modelName   string
	timeout     time.Duration
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// NewClaudeProvider creates a Claude adapter. SDK level retries are
// disabled; the game engine owns the retry policy for every provider.
func NewClaudeProvider(cfg ProviderConfig, logger *slog.Logger) (*ClaudeProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic API key cannot be empty")
	}
	cfg = cfg.withDefaults(defaultClaudeBaseURL, defaultClaudeModel)

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	)

	return &ClaudeProvider{
		client:      client,
		modelName:   cfg.Model,
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Name returns the provider selector
func (c *ClaudeProvider) Name() string {
	return ProviderClaude
}

// Ask sends the conversation to Claude and returns the concatenated text blocks
func (c *ClaudeProvider) Ask(ctx context.Context, history []dialogue.Turn, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conv := buildConversation(history, prompt)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.modelName),
		MaxTokens:   int64(c.maxTokens),
		Temperature: anthropic.Float(c.temperature),
	}
	if conv.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: conv.system}}
	}
	for _, msg := range conv.messages {
		if msg.role == roleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.text)))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.text)))
		}
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		perr := c.mapError(err)
		c.logger.Error("Claude API request failed",
			"error", err,
			"kind", perr.Kind.String(),
			"model", c.modelName,
			"duration", time.Since(start))
		return "", perr
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", &ProviderError{
			Provider: ProviderClaude,
			Kind:     KindMalformedResponse,
			Message:  fmt.Sprintf("response contained no text (stop_reason=%s)", message.StopReason),
		}
	}

	c.logger.Info("Claude response received",
		"model", c.modelName,
		"response_length", len(text),
		"duration", time.Since(start))

	return text, nil
}

// statusOverloaded is returned by the Anthropic API when it sheds load
const statusOverloaded = 529

// mapError folds SDK errors into the shared taxonomy
func (c *ClaudeProvider) mapError(err error) *ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := kindForStatus(apiErr.StatusCode)
		if apiErr.StatusCode == statusOverloaded {
			kind = KindRateLimited
		}
		return &ProviderError{
			Provider:   ProviderClaude,
			Kind:       kind,
			StatusCode: apiErr.StatusCode,
			Message:    "anthropic API error",
			Cause:      err,
		}
	}
	return transportError(ProviderClaude, err)
}
