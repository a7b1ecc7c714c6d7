package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"go.uber.org/zap"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-haiku-4-5"
	anthropicVersion      = "2023-06-01"
)

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicAdjudicator confirms candidates through the Messages API.
type AnthropicAdjudicator struct {
	apiKey string
	url    string
	model  string
	client *http.Client
	logger *zap.Logger
}

// NewAnthropic reads the API key from keyEnv (ANTHROPIC_API_KEY when empty).
func NewAnthropic(endpoint, model, keyEnv string, client *http.Client, logger *zap.Logger) (*AnthropicAdjudicator, error) {
	if keyEnv == "" {
		keyEnv = "ANTHROPIC_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", anonymizer.ErrCollaboratorUnavailable, keyEnv)
	}
	if endpoint == "" {
		endpoint = defaultAnthropicURL
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AnthropicAdjudicator{apiKey: apiKey, url: endpoint, model: model, client: client, logger: logger}, nil
}

func (a *AnthropicAdjudicator) Validate(ctx context.Context, text string, candidates []anonymizer.Entity) ([]anonymizer.Verdict, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(apiRequest{
		Model:     a.model,
		MaxTokens: 1024,
		Messages:  []apiMessage{{Role: "user", Content: buildPrompt(text, candidates)}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classify(err, 0)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(err, 0)
	}
	if err := classify(nil, resp.StatusCode); err != nil {
		a.logger.Debug("Anthropic API error", zap.Int("status", resp.StatusCode))
		return nil, err
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", anonymizer.ErrTransient, err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%w: API error: %s", anonymizer.ErrCollaboratorUnavailable, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("%w: empty response content", anonymizer.ErrTransient)
	}

	verdicts, err := parseVerdicts(apiResp.Content[0].Text, candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", anonymizer.ErrTransient, err)
	}
	return verdicts, nil
}
