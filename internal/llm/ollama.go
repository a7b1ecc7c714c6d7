package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"go.uber.org/zap"
)

const maxResponseBytes = 10 << 20

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// OllamaAdjudicator asks a local Ollama model to confirm candidates.
type OllamaAdjudicator struct {
	url    string
	model  string
	client *http.Client
	logger *zap.Logger
}

// NewOllama creates an adjudicator for the Ollama server at endpoint.
func NewOllama(endpoint, model string, client *http.Client, logger *zap.Logger) *OllamaAdjudicator {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaAdjudicator{
		url:    strings.TrimRight(endpoint, "/") + "/api/generate",
		model:  model,
		client: client,
		logger: logger,
	}
}

func (o *OllamaAdjudicator) Validate(ctx context.Context, text string, candidates []anonymizer.Entity) ([]anonymizer.Verdict, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(ollamaRequest{
		Model:  o.model,
		Prompt: buildPrompt(text, candidates),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, classify(err, 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(err, 0)
	}
	if err := classify(nil, resp.StatusCode); err != nil {
		return nil, err
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("%w: ollama response parse error: %v", anonymizer.ErrTransient, err)
	}

	verdicts, err := parseVerdicts(ollamaResp.Response, candidates)
	if err != nil {
		o.logger.Debug("Unparseable ollama verdicts", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", anonymizer.ErrTransient, err)
	}
	return verdicts, nil
}
