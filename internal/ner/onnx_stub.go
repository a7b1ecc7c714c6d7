//go:build !onnx
// +build !onnx

package ner

import (
	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"go.uber.org/zap"
)

// Stub implementation used when the 'onnx' build tag is not set.
func newOnnxRecognizer(cfg Config, logger *zap.Logger) anonymizer.Recognizer {
	return nil
}
