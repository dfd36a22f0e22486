package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1/"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIProvider implements Provider using the OpenAI Chat Completions API
type OpenAIProvider struct {
	client      openai.Client
	modelName   string
	timeout     time.Duration
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// NewOpenAIProvider creates an OpenAI adapter with SDK retries disabled
func NewOpenAIProvider(cfg ProviderConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai API key cannot be empty")
	}
	cfg = cfg.withDefaults(defaultOpenAIBaseURL, defaultOpenAIModel)

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	)

	return &OpenAIProvider{
		client:      client,
		modelName:   cfg.Model,
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Name returns the provider selector
func (o *OpenAIProvider) Name() string {
	return ProviderOpenAI
}

// Ask sends the conversation to OpenAI and returns the first choice's content
func (o *OpenAIProvider) Ask(ctx context.Context, history []dialogue.Turn, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	conv := buildConversation(history, prompt)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(conv.messages)+1)
	if conv.system != "" {
		messages = append(messages, openai.SystemMessage(conv.system))
	}
	for _, msg := range conv.messages {
		if msg.role == roleAssistant {
			messages = append(messages, openai.AssistantMessage(msg.text))
		} else {
			messages = append(messages, openai.UserMessage(msg.text))
		}
	}

	start := time.Now()
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.modelName),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(o.maxTokens)),
		Temperature:         openai.Float(o.temperature),
	})
	if err != nil {
		perr := o.mapError(err)
		o.logger.Error("OpenAI API request failed",
			"error", err,
			"kind", perr.Kind.String(),
			"model", o.modelName,
			"duration", time.Since(start))
		return "", perr
	}

	if len(completion.Choices) == 0 {
		return "", &ProviderError{Provider: ProviderOpenAI, Kind: KindMalformedResponse, Message: "response contained no choices"}
	}
	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", &ProviderError{
			Provider: ProviderOpenAI,
			Kind:     KindMalformedResponse,
			Message:  fmt.Sprintf("response contained no text (finish_reason=%s)", completion.Choices[0].FinishReason),
		}
	}

	o.logger.Info("OpenAI response received",
		"model", o.modelName,
		"response_length", len(text),
		"duration", time.Since(start))

	return text, nil
}

// mapError folds SDK errors into the shared taxonomy
func (o *OpenAIProvider) mapError(err error) *ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   ProviderOpenAI,
			Kind:       kindForStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Message:    "openai API error",
			Cause:      err,
		}
	}
	return transportError(ProviderOpenAI, err)
}
