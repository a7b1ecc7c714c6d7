package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Guarded bounds calls to an adjudicator with a rate limit, a per-call
// timeout and a circuit breaker.
type Guarded struct {
	next    anonymizer.Adjudicator
	limiter *rate.Limiter
	timeout time.Duration
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewGuarded wraps next. A zero rps disables rate limiting and a zero
// timeout disables the per-call deadline.
func NewGuarded(next anonymizer.Adjudicator, rps float64, burst int, timeout time.Duration, breaker *CircuitBreaker, logger *zap.Logger) *Guarded {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(0, 0)
	}
	return &Guarded{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		breaker: breaker,
		logger:  logger,
	}
}

func (g *Guarded) Validate(ctx context.Context, text string, candidates []anonymizer.Entity) ([]anonymizer.Verdict, error) {
	if !g.breaker.Allow() {
		return nil, fmt.Errorf("%w: circuit %s", anonymizer.ErrCollaboratorUnavailable, g.breaker.State())
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.limiter.Wait(callCtx); err != nil {
		g.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: rate limit wait: %v", anonymizer.ErrCollaboratorUnavailable, err)
	}

	verdicts, err := g.next.Validate(callCtx, text, candidates)
	if err != nil {
		g.breaker.RecordFailure()
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			g.logger.Warn("Adjudicator timed out", zap.Duration("timeout", g.timeout))
			return nil, fmt.Errorf("%w: timed out after %s", anonymizer.ErrCollaboratorUnavailable, g.timeout)
		}
		if g.breaker.State() == CircuitOpen {
			g.logger.Warn("Adjudicator circuit opened", zap.Error(err))
		}
		return nil, err
	}

	g.breaker.RecordSuccess()
	return verdicts, nil
}
