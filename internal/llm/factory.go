package llm

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"github.com/raaihank/txn-sentinel/internal/cache"
	"go.uber.org/zap"
)

// New builds the configured adjudicator chain: provider, then guard, then
// the verdict cache when store is non-nil.
func New(cfg Config, store cache.Store, logger *zap.Logger) (anonymizer.Adjudicator, error) {
	client := &http.Client{}

	var provider anonymizer.Adjudicator
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "qwen2.5:3b"
		}
		provider = NewOllama(endpoint, model, client, logger)
	case "anthropic":
		a, err := NewAnthropic(cfg.Endpoint, cfg.Model, cfg.APIKeyEnv, client, logger)
		if err != nil {
			return nil, err
		}
		provider = a
	default:
		return nil, fmt.Errorf("unknown adjudicator provider: %s (must be ollama or anthropic)", cfg.Provider)
	}

	guarded := NewGuarded(provider, cfg.RateLimit, cfg.Burst, cfg.Timeout,
		NewCircuitBreaker(cfg.Breaker.Threshold, cfg.Breaker.Cooldown), logger)

	logger.Info("Adjudicator configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Duration("timeout", cfg.Timeout),
		zap.Float64("rate_limit", cfg.RateLimit),
		zap.Bool("cached", store != nil))

	if store == nil {
		return guarded, nil
	}
	return NewCached(guarded, store, logger), nil
}
