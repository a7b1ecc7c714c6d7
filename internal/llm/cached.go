package llm

import (
	"context"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"github.com/raaihank/txn-sentinel/internal/cache"
	"go.uber.org/zap"
)

// Cached answers repeated candidates from a verdict store and forwards only
// the misses. Store failures degrade to a miss.
type Cached struct {
	next   anonymizer.Adjudicator
	store  cache.Store
	logger *zap.Logger
}

// NewCached wraps next with store.
func NewCached(next anonymizer.Adjudicator, store cache.Store, logger *zap.Logger) *Cached {
	return &Cached{next: next, store: store, logger: logger}
}

func verdictKey(e anonymizer.Entity) string {
	return cache.Key(string(e.Type), e.Text)
}

func (c *Cached) Validate(ctx context.Context, text string, candidates []anonymizer.Entity) ([]anonymizer.Verdict, error) {
	verdicts := make([]anonymizer.Verdict, 0, len(candidates))
	var misses []anonymizer.Entity

	for _, e := range candidates {
		entry, ok, err := c.store.Get(ctx, verdictKey(e))
		if err != nil {
			c.logger.Debug("Verdict cache lookup failed", zap.Error(err))
		}
		if ok {
			verdicts = append(verdicts, anonymizer.Verdict{Entity: e, Confirmed: entry.Confirmed})
			continue
		}
		misses = append(misses, e)
	}

	if len(misses) == 0 {
		return verdicts, nil
	}

	fresh, err := c.next.Validate(ctx, text, misses)
	if err != nil {
		return nil, err
	}

	for _, v := range fresh {
		if err := c.store.Put(ctx, verdictKey(v.Entity), cache.Entry{Confirmed: v.Confirmed}); err != nil {
			c.logger.Debug("Verdict cache write failed", zap.Error(err))
		}
	}
	return append(verdicts, fresh...), nil
}
