package anonymizer

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/raaihank/txn-sentinel/internal/anonymizer")

const uncertainPrefixRunes = 100

// Stage is a state of the per-text detection pipeline.
type Stage string

const (
	StageStaticOnly       Stage = "STATIC_ONLY"
	StageStatisticalMerge Stage = "STATISTICAL_MERGE"
	StageLLMAdjudication  Stage = "LLM_ADJUDICATION"
	StageFinalized        Stage = "FINALIZED"
)

// Thresholds gate early exit between tiers.
type Thresholds struct {
	// Confidence is the static tier exit threshold.
	Confidence float64 `json:"confidence"`
	// LLM is the statistical tier exit threshold and the per-entity cutoff
	// below which entities are sent for adjudication.
	LLM float64 `json:"llm"`
	// Review flags results for human review below this aggregate.
	Review float64 `json:"review"`
}

// DefaultThresholds returns 0.85 / 0.50 / 0.50.
func DefaultThresholds() Thresholds {
	return Thresholds{Confidence: 0.85, LLM: 0.50, Review: 0.50}
}

// ProcessingRecord is appended to the stats log for every processed text.
type ProcessingRecord struct {
	Timestamp   time.Time `json:"timestamp" db:"ts"`
	TextLength  int       `json:"text_length" db:"text_length"`
	EntityCount int       `json:"entities_found" db:"entity_count"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	Method      Method    `json:"method" db:"method"`
	LatencyMS   float64   `json:"processing_time_ms" db:"latency_ms"`
}

// UncertainCase holds a truncated prefix of a text that stayed below the
// adjudication threshold.
type UncertainCase struct {
	Timestamp   time.Time    `json:"timestamp"`
	Prefix      string       `json:"text"`
	EntityTypes []EntityType `json:"entity_types"`
	Confidence  float64      `json:"confidence"`
}

// Recorder receives processing side effects. Implementations must not block.
type Recorder interface {
	Record(ProcessingRecord)
	RecordUncertain(UncertainCase)
}

// Result is the audit record of one processed text.
type Result struct {
	OriginalText     string   `json:"-"`
	AnonymizedText   string   `json:"anonymized_text,omitempty"`
	Entities         []Entity `json:"entities_found"`
	Confidence       float64  `json:"confidence"`
	MethodUsed       Method   `json:"method_used"`
	Stages           []Stage  `json:"stages"`
	ProcessingTimeMS float64  `json:"processing_time_ms"`
	RequiresReview   bool     `json:"requires_review"`
}

// Engine runs the tiers for each text and performs substitution.
type Engine struct {
	static      *StaticDetector
	statistical *StatisticalDetector
	llm         *LLMTier
	recorder    Recorder
	language    string
	logger      *zap.Logger

	mu         sync.RWMutex
	thresholds Thresholds
}

// Option configures an Engine.
type Option func(*Engine)

// WithStatistical enables the statistical tier.
func WithStatistical(d *StatisticalDetector) Option {
	return func(e *Engine) { e.statistical = d }
}

// WithLLM enables the adjudication tier.
func WithLLM(t *LLMTier) Option {
	return func(e *Engine) { e.llm = t }
}

// WithRecorder sets the processing stats sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithThresholds overrides the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithLanguage sets the language passed to the statistical tier.
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// NewEngine creates an engine over the static tier; other tiers are opt-in.
func NewEngine(static *StaticDetector, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		static:     static,
		language:   "es",
		logger:     logger,
		thresholds: DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the active thresholds.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// SetThresholds replaces the thresholds for subsequent calls.
func (e *Engine) SetThresholds(t Thresholds) {
	e.mu.Lock()
	e.thresholds = t
	e.mu.Unlock()
	e.logger.Info("Engine thresholds updated",
		zap.Float64("confidence", t.Confidence),
		zap.Float64("llm", t.LLM),
		zap.Float64("review", t.Review),
	)
}

// Process detects entities in text. Each tier runs only while the aggregate
// confidence stays below that tier's exit threshold.
func (e *Engine) Process(ctx context.Context, text string) *Result {
	ctx, span := tracer.Start(ctx, "anonymizer.process")
	defer span.End()

	start := time.Now()
	th := e.Thresholds()

	stages := []Stage{StageStaticOnly}
	entities, confidence := e.runStatic(ctx, text)
	method := MethodStatic

	if confidence < th.Confidence && e.statistical != nil {
		stages = append(stages, StageStatisticalMerge)
		if merged, conf, ok := e.runStatistical(ctx, text, entities); ok {
			entities, confidence = merged, conf
			method = MethodStatistical
		}
	}

	if confidence < th.LLM && e.llm != nil {
		var certain, uncertain []Entity
		for _, ent := range entities {
			if ent.Confidence < th.LLM {
				uncertain = append(uncertain, ent)
			} else {
				certain = append(certain, ent)
			}
		}
		if len(uncertain) > 0 {
			stages = append(stages, StageLLMAdjudication)
			var ok bool
			entities, confidence, ok = e.runLLM(ctx, text, certain, uncertain)
			if ok {
				method = MethodLLMValidated
			}
		}
	}
	stages = append(stages, StageFinalized)

	result := &Result{
		OriginalText:     text,
		Entities:         entities,
		Confidence:       confidence,
		MethodUsed:       method,
		Stages:           stages,
		ProcessingTimeMS: float64(time.Since(start).Microseconds()) / 1000,
		RequiresReview:   confidence < th.Review,
	}

	span.SetAttributes(
		attribute.Int("anonymizer.entity_count", len(entities)),
		attribute.Float64("anonymizer.confidence", confidence),
		attribute.String("anonymizer.method", string(method)),
	)

	e.record(text, result, th)
	return result
}

func (e *Engine) runStatic(ctx context.Context, text string) ([]Entity, float64) {
	_, span := tracer.Start(ctx, "anonymizer.tier1")
	defer span.End()

	entities, confidence := e.static.Detect(text)
	span.SetAttributes(attribute.Int("anonymizer.entity_count", len(entities)))
	return entities, confidence
}

func (e *Engine) runStatistical(ctx context.Context, text string, static []Entity) ([]Entity, float64, bool) {
	ctx, span := tracer.Start(ctx, "anonymizer.tier2")
	defer span.End()

	found, _, err := e.statistical.Detect(ctx, text, e.language)
	if err != nil {
		e.logger.Warn("Statistical tier unavailable, keeping static result", zap.Error(err))
		span.SetAttributes(attribute.Bool("anonymizer.skipped", true))
		return nil, 0, false
	}

	all := make([]Entity, 0, len(static)+len(found))
	all = append(all, static...)
	all = append(all, found...)
	merged := ResolveOverlaps(all)

	span.SetAttributes(attribute.Int("anonymizer.entity_count", len(merged)))
	return merged, meanConfidence(merged), true
}

// runLLM merges the adjudicated entities back with the certain ones. ok is
// false when the adjudicator failed and nothing was validated.
func (e *Engine) runLLM(ctx context.Context, text string, certain, uncertain []Entity) ([]Entity, float64, bool) {
	ctx, span := tracer.Start(ctx, "anonymizer.tier3")
	defer span.End()

	validated, err := e.llm.Validate(ctx, text, uncertain)
	if err != nil {
		e.logger.Warn("Adjudicator unavailable, keeping existing confidence",
			zap.Int("uncertain", len(uncertain)),
			zap.Error(err),
		)
	}

	all := make([]Entity, 0, len(certain)+len(validated))
	all = append(all, certain...)
	all = append(all, validated...)
	final := ResolveOverlaps(all)

	span.SetAttributes(
		attribute.Int("anonymizer.uncertain", len(uncertain)),
		attribute.Int("anonymizer.confirmed", len(validated)),
	)
	return final, meanConfidence(final), err == nil
}

func (e *Engine) record(text string, result *Result, th Thresholds) {
	if e.recorder == nil {
		return
	}

	e.recorder.Record(ProcessingRecord{
		Timestamp:   time.Now().UTC(),
		TextLength:  len(text),
		EntityCount: len(result.Entities),
		Confidence:  result.Confidence,
		Method:      result.MethodUsed,
		LatencyMS:   result.ProcessingTimeMS,
	})

	if result.Confidence >= th.LLM {
		return
	}
	types := make([]EntityType, 0, len(result.Entities))
	for _, ent := range result.Entities {
		types = append(types, ent.Type)
	}
	e.recorder.RecordUncertain(UncertainCase{
		Timestamp:   time.Now().UTC(),
		Prefix:      truncateRunes(text, uncertainPrefixRunes),
		EntityTypes: types,
		Confidence:  result.Confidence,
	})
}

// AnonymizeText processes text and substitutes every entity found.
func (e *Engine) AnonymizeText(ctx context.Context, text string, method ReplaceMethod) (string, *Result) {
	result := e.Process(ctx, text)
	result.AnonymizedText = Apply(text, result.Entities, method)

	e.logger.Debug("Text anonymized",
		zap.Int("text_length", len(text)),
		zap.Int("entities", len(result.Entities)),
		zap.Float64("confidence", result.Confidence),
		zap.String("method_used", string(result.MethodUsed)),
	)
	return result.AnonymizedText, result
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
