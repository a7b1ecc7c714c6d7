package anonymizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RecognizerResult is one span reported by a statistical recognizer. Offsets
// are byte offsets into the analyzed text.
type RecognizerResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Recognizer is an external named-entity recognition capability.
type Recognizer interface {
	Analyze(ctx context.Context, text, language string) ([]RecognizerResult, error)
}

// StatisticalDetector adapts a Recognizer into a detection tier.
type StatisticalDetector struct {
	recognizer      Recognizer
	defaultLanguage string
	logger          *zap.Logger
}

// NewStatisticalDetector creates the statistical tier. Requests in a language
// the recognizer rejects are retried in defaultLanguage.
func NewStatisticalDetector(recognizer Recognizer, defaultLanguage string, logger *zap.Logger) *StatisticalDetector {
	if defaultLanguage == "" {
		defaultLanguage = "es"
	}
	return &StatisticalDetector{
		recognizer:      recognizer,
		defaultLanguage: defaultLanguage,
		logger:          logger,
	}
}

// Detect runs the recognizer and converts its results into entities. Spans
// outside the text are dropped.
func (d *StatisticalDetector) Detect(ctx context.Context, text, language string) ([]Entity, float64, error) {
	if language == "" {
		language = d.defaultLanguage
	}

	results, err := d.recognizer.Analyze(ctx, text, language)
	if err != nil && language != d.defaultLanguage {
		d.logger.Debug("Recognizer failed, retrying in default language",
			zap.String("language", language),
			zap.String("default_language", d.defaultLanguage),
			zap.Error(err),
		)
		results, err = d.recognizer.Analyze(ctx, text, d.defaultLanguage)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: statistical recognizer: %v", ErrCollaboratorUnavailable, err)
	}

	entities := make([]Entity, 0, len(results))
	for _, r := range results {
		e := Entity{
			Type:       EntityType(r.EntityType),
			Start:      r.Start,
			End:        r.End,
			Confidence: clamp(r.Score),
			Method:     MethodStatistical,
		}
		if !e.Valid(len(text)) {
			d.logger.Debug("Dropping out-of-range recognizer span",
				zap.String("entity_type", r.EntityType),
				zap.Int("start", r.Start),
				zap.Int("end", r.End),
			)
			continue
		}
		e.Text = text[e.Start:e.End]
		entities = append(entities, e)
	}

	return entities, meanConfidence(entities), nil
}
