package ner

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"go.uber.org/zap"
)

// NewRecognizer creates the recognizer selected by cfg.Backend. Custom
// identifier types from catalog are registered with backends that accept
// them.
func NewRecognizer(cfg Config, catalog *anonymizer.Catalog, logger *zap.Logger) (anonymizer.Recognizer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "presidio":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:5002"
		}
		client := &http.Client{Timeout: cfg.Timeout}
		logger.Info("Statistical recognizer configured",
			zap.String("backend", "presidio"),
			zap.String("endpoint", endpoint))
		return NewPresidioClient(endpoint, client, catalog, logger), nil
	case "onnx":
		rec := newOnnxRecognizer(cfg, logger)
		if rec == nil {
			return nil, fmt.Errorf("%w: onnx recognizer not available (build with -tags onnx and check model paths)",
				anonymizer.ErrCollaboratorUnavailable)
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unknown recognizer backend: %s (must be presidio or onnx)", cfg.Backend)
	}
}
