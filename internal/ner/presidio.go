package ner

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

type presidioPattern struct {
	Name  string  `json:"name"`
	Regex string  `json:"regex"`
	Score float64 `json:"score"`
}

type adHocRecognizer struct {
	Name              string            `json:"name"`
	SupportedLanguage string            `json:"supported_language"`
	SupportedEntity   string            `json:"supported_entity"`
	Patterns          []presidioPattern `json:"patterns"`
	Context           []string          `json:"context,omitempty"`
}

type analyzeRequest struct {
	Text             string            `json:"text"`
	Language         string            `json:"language"`
	AdHocRecognizers []adHocRecognizer `json:"ad_hoc_recognizers,omitempty"`
}

// PresidioClient calls a Presidio analyzer over HTTP. The catalog's identifier
// types are registered as ad-hoc pattern recognizers on every request.
type PresidioClient struct {
	url    string
	client *http.Client
	specs  []anonymizer.PatternDefinition
	logger *zap.Logger
}

// NewPresidioClient creates a client for the analyzer at endpoint.
func NewPresidioClient(endpoint string, client *http.Client, catalog *anonymizer.Catalog, logger *zap.Logger) *PresidioClient {
	if client == nil {
		client = http.DefaultClient
	}
	var defs []anonymizer.PatternDefinition
	if catalog != nil {
		defs = catalog.Definitions()
	}
	return &PresidioClient{
		url:    strings.TrimRight(endpoint, "/") + "/analyze",
		client: client,
		specs:  defs,
		logger: logger,
	}
}

func (p *PresidioClient) recognizers(language string) []adHocRecognizer {
	out := make([]adHocRecognizer, 0, len(p.specs))
	for i, def := range p.specs {
		name := fmt.Sprintf("%s_pattern_%d", strings.ToLower(string(def.Type)), i)
		out = append(out, adHocRecognizer{
			Name:              name,
			SupportedLanguage: language,
			SupportedEntity:   string(def.Type),
			Patterns:          []presidioPattern{{Name: name, Regex: "(?i)" + def.Source, Score: def.BaseConfidence}},
			Context:           def.Context,
		})
	}
	return out
}

// Analyze implements anonymizer.Recognizer. Presidio reports code point
// offsets; they are converted to byte offsets here.
func (p *PresidioClient) Analyze(ctx context.Context, text, language string) ([]anonymizer.RecognizerResult, error) {
	body, err := json.Marshal(analyzeRequest{
		Text:             text,
		Language:         language,
		AdHocRecognizers: p.recognizers(language),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("presidio request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read presidio response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presidio returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var results []anonymizer.RecognizerResult
	if err := json.Unmarshal(respBody, &results); err != nil {
		return nil, fmt.Errorf("presidio response parse error: %w", err)
	}

	toByte := runeToByte(text)
	for i := range results {
		results[i].Start = toByte(results[i].Start)
		results[i].End = toByte(results[i].End)
	}

	p.logger.Debug("Presidio analysis complete",
		zap.String("language", language),
		zap.Int("results", len(results)))
	return results, nil
}
