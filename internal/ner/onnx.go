//go:build onnx
// +build onnx

package ner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// OnnxRecognizer runs a token-classification model through ONNX Runtime.
type OnnxRecognizer struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	tokenizer  *Tokenizer
	labels     []string
	minScore   float64
	logger     *zap.Logger
	mu         sync.Mutex
}

// newOnnxRecognizer initializes ONNX Runtime and loads the model, vocab and
// label files. Returns nil when any of them cannot be loaded.
func newOnnxRecognizer(cfg Config, logger *zap.Logger) anonymizer.Recognizer {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	vocab, err := readLines(cfg.VocabPath)
	if err != nil {
		logger.Error("Failed to load NER vocab", zap.Error(err))
		return nil
	}
	labels, err := readLines(cfg.LabelPath)
	if err != nil || len(labels) == 0 {
		logger.Error("Failed to load NER labels", zap.Error(err), zap.String("labels", cfg.LabelPath))
		return nil
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", cfg.ModelPath))
		return nil
	}
	if len(outputsInfo) == 0 {
		logger.Error("ONNX model reports no outputs", zap.String("model", cfg.ModelPath))
		return nil
	}

	available := map[string]bool{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = true
	}
	var inputNames []string
	for _, name := range []string{"input_ids", "attention_mask", "token_type_ids"} {
		if available[name] {
			inputNames = append(inputNames, name)
		}
	}
	if len(inputNames) == 0 {
		logger.Error("ONNX model has no recognised inputs", zap.String("model", cfg.ModelPath))
		return nil
	}

	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{outputsInfo[0].Name}, nil)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", cfg.ModelPath))
		return nil
	}

	logger.Info("ONNX NER recognizer ready",
		zap.String("model", cfg.ModelPath),
		zap.Strings("inputs", inputNames),
		zap.Int("labels", len(labels)))

	return &OnnxRecognizer{
		session:    sess,
		inputNames: inputNames,
		tokenizer:  NewTokenizer(vocab, cfg.MaxLength),
		labels:     labels,
		minScore:   cfg.MinScore,
		logger:     logger,
	}
}

// Analyze implements anonymizer.Recognizer. The model is language agnostic;
// language is ignored.
func (o *OnnxRecognizer) Analyze(ctx context.Context, text, language string) ([]anonymizer.RecognizerResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := o.tokenizer.Tokenize(text)
	seqLen := len(tokens)
	ids := make([]int64, seqLen)
	mask := make([]int64, seqLen)
	for i, tok := range tokens {
		ids[i] = tok.ID
		mask[i] = 1
	}

	shape := ort.NewShape(1, int64(seqLen))
	idsTensor, err := ort.NewTensor[int64](shape, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor[int64](shape, make([]int64, seqLen))
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	inputs := make([]ort.Value, 0, len(o.inputNames))
	for _, name := range o.inputNames {
		switch name {
		case "input_ids":
			inputs = append(inputs, idsTensor)
		case "attention_mask":
			inputs = append(inputs, maskTensor)
		default:
			inputs = append(inputs, typeTensor)
		}
	}

	outputs := make([]ort.Value, 1)
	o.mu.Lock()
	err = o.session.Run(inputs, outputs)
	o.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	outShape := logits.GetShape()
	if len(outShape) != 3 || int(outShape[1]) != seqLen || int(outShape[2]) != len(o.labels) {
		return nil, fmt.Errorf("unexpected output shape %v (want [1 %d %d])", outShape, seqLen, len(o.labels))
	}

	predicted, scores := argmaxSoftmax(logits.GetData(), len(o.labels))
	return decodeBIO(tokens, o.labels, predicted, scores, o.minScore), nil
}

// Close releases session and environment resources.
func (o *OnnxRecognizer) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	return ort.DestroyEnvironment()
}
