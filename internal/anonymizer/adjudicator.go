package anonymizer

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// DefaultLLMBoost is added to the confidence of a confirmed entity.
const DefaultLLMBoost = 0.3

// Verdict is an adjudicator's decision on one candidate entity.
type Verdict struct {
	Entity    Entity `json:"entity"`
	Confirmed bool   `json:"confirmed"`
}

// Adjudicator confirms or rejects uncertain candidates. Implementations must
// be safe to call twice with the same input.
type Adjudicator interface {
	Validate(ctx context.Context, text string, candidates []Entity) ([]Verdict, error)
}

// LLMTier applies adjudicator verdicts to uncertain entities.
type LLMTier struct {
	adjudicator Adjudicator
	boost       float64
	logger      *zap.Logger
}

// NewLLMTier creates the adjudication tier.
func NewLLMTier(adjudicator Adjudicator, boost float64, logger *zap.Logger) *LLMTier {
	if boost <= 0 {
		boost = DefaultLLMBoost
	}
	return &LLMTier{adjudicator: adjudicator, boost: boost, logger: logger}
}

// Validate sends uncertain to the adjudicator, retrying once on a transient
// failure. Confirmed entities are boosted and tagged llm_validated; rejected
// entities are dropped; entities without a verdict are kept unchanged. On
// failure the input is returned unchanged together with the error.
func (t *LLMTier) Validate(ctx context.Context, text string, uncertain []Entity) ([]Entity, error) {
	if len(uncertain) == 0 {
		return []Entity{}, nil
	}

	verdicts, err := t.adjudicator.Validate(ctx, text, uncertain)
	if err != nil && errors.Is(err, ErrTransient) && ctx.Err() == nil {
		t.logger.Debug("Adjudicator transient failure, retrying once", zap.Error(err))
		verdicts, err = t.adjudicator.Validate(ctx, text, uncertain)
	}
	if err != nil {
		return uncertain, err
	}

	type spanKey struct {
		t          EntityType
		start, end int
	}
	decided := make(map[spanKey]bool, len(verdicts))
	for _, v := range verdicts {
		decided[spanKey{v.Entity.Type, v.Entity.Start, v.Entity.End}] = v.Confirmed
	}

	out := make([]Entity, 0, len(uncertain))
	for _, e := range uncertain {
		confirmed, ok := decided[spanKey{e.Type, e.Start, e.End}]
		switch {
		case !ok:
			out = append(out, e)
		case confirmed:
			e.Confidence = clamp(e.Confidence + t.boost)
			e.Method = MethodLLMValidated
			out = append(out, e)
		}
	}
	return out, nil
}
