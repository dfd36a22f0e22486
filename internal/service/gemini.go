package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Origanire/netfilm-backend/internal/dialogue"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.0-flash-exp"
)

// geminiPart is a single text fragment of Gemini content
type geminiPart struct {
	Text string `json:"text"`
}

// geminiContent is one conversation entry in Gemini wire format
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// GeminiRequest represents the generateContent request payload
type GeminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

// GeminiResponse represents the generateContent response payload
type GeminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// geminiErrorResponse is the Google API error envelope
type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GeminiProvider implements Provider over the Gemini generateContent REST API
type GeminiProvider struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	modelName   string
	timeout     time.Duration
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// NewGeminiProvider creates a Gemini adapter. A missing API key is a
// configuration error reported at startup.
func NewGeminiProvider(cfg ProviderConfig, logger *slog.Logger) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key cannot be empty")
	}
	cfg = cfg.withDefaults(defaultGeminiBaseURL, defaultGeminiModel)

	return &GeminiProvider{
		// Deadline is enforced per call through the request context
		client:      &http.Client{},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		modelName:   cfg.Model,
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Name returns the provider selector
func (g *GeminiProvider) Name() string {
	return ProviderGemini
}

// Ask sends the conversation to Gemini and returns the first candidate's text
func (g *GeminiProvider) Ask(ctx context.Context, history []dialogue.Turn, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	jsonData, err := json.Marshal(g.buildRequest(buildConversation(history, prompt)))
	if err != nil {
		return "", &ProviderError{Provider: ProviderGemini, Kind: KindUnavailable, Message: "failed to marshal request", Cause: err}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.modelName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", &ProviderError{Provider: ProviderGemini, Kind: KindUnavailable, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Error("Gemini API request failed",
			"error", err,
			"model", g.modelName,
			"duration", time.Since(start))
		return "", transportError(ProviderGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", g.readError(resp)
	}

	var geminiResp GeminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		if ctx.Err() != nil {
			return "", transportError(ProviderGemini, ctx.Err())
		}
		return "", &ProviderError{Provider: ProviderGemini, Kind: KindMalformedResponse, Message: "failed to decode response", Cause: err}
	}

	text := geminiResp.text()
	if text == "" {
		msg := "response contained no text"
		if geminiResp.PromptFeedback != nil && geminiResp.PromptFeedback.BlockReason != "" {
			msg = "prompt blocked: " + geminiResp.PromptFeedback.BlockReason
		}
		return "", &ProviderError{Provider: ProviderGemini, Kind: KindMalformedResponse, Message: msg}
	}

	g.logger.Info("Gemini response received",
		"model", g.modelName,
		"response_length", len(text),
		"duration", time.Since(start))

	return text, nil
}

// buildRequest converts the neutral conversation to Gemini wire format
func (g *GeminiProvider) buildRequest(conv conversation) GeminiRequest {
	request := GeminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.temperature,
			MaxOutputTokens: g.maxTokens,
		},
	}
	if conv.system != "" {
		request.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: conv.system}}}
	}
	for _, msg := range conv.messages {
		role := "user"
		if msg.role == roleAssistant {
			role = "model"
		}
		request.Contents = append(request.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.text}},
		})
	}
	return request
}

// text concatenates the parts of the first candidate
func (r *GeminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

// readError maps a non-200 Gemini response into the shared taxonomy
func (g *GeminiProvider) readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	perr := &ProviderError{
		Provider:   ProviderGemini,
		Kind:       kindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}

	var wire geminiErrorResponse
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		perr.Message = wire.Error.Message
		switch wire.Error.Status {
		case "UNAUTHENTICATED", "PERMISSION_DENIED":
			perr.Kind = KindAuthInvalid
		case "RESOURCE_EXHAUSTED":
			perr.Kind = KindRateLimited
		case "DEADLINE_EXCEEDED":
			perr.Kind = KindTimeout
		}
		// Gemini reports a bad key as 400 INVALID_ARGUMENT
		if strings.Contains(wire.Error.Message, "API key not valid") {
			perr.Kind = KindAuthInvalid
		}
	}

	g.logger.Warn("Gemini API returned error status",
		"status", resp.StatusCode,
		"kind", perr.Kind.String(),
		"message", perr.Message)

	return perr
}
