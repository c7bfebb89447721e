package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vidrelay/vidrelay/internal/domain"
)

// Chain runs an ordered list of strategies against a page URL and returns the
// first successful MediaReference. Order is significant: strategies are tried
// most-reliable-first, and later entries only run when earlier ones fail.
type Chain struct {
	platform     domain.Platform
	strategies   []domain.Strategy
	perAttempt   time.Duration
	chainCeiling time.Duration
	log          *zap.Logger
}

// NewChain builds an extraction chain for one platform. perAttempt bounds
// each strategy; chainCeiling bounds the whole run.
func NewChain(platform domain.Platform, strategies []domain.Strategy, perAttempt, chainCeiling time.Duration, log *zap.Logger) *Chain {
	return &Chain{
		platform:     platform,
		strategies:   strategies,
		perAttempt:   perAttempt,
		chainCeiling: chainCeiling,
		log:          log.Named("chain").With(zap.String("platform", string(platform))),
	}
}

// Resolve walks the chain until a strategy yields a direct media URL. Every
// failed attempt is recorded; when all fail the returned error aggregates
// them so the caller can log the full picture while clients see one message.
func (c *Chain) Resolve(ctx context.Context, pageURL string) (*domain.MediaReference, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chainCeiling)
	defer cancel()

	failure := &domain.ExtractionFailedError{
		Platform: c.platform,
		URL:      pageURL,
	}

	for _, strat := range c.strategies {
		if err := ctx.Err(); err != nil {
			failure.Attempts = append(failure.Attempts, fmt.Sprintf("%s: chain deadline exhausted", strat.Name()))
			break
		}

		ref, err := c.attempt(ctx, strat, pageURL)
		if err != nil {
			c.log.Warn("strategy failed",
				zap.String("strategy", strat.Name()),
				zap.String("url", pageURL),
				zap.Error(err))
			failure.Attempts = append(failure.Attempts, fmt.Sprintf("%s: %v", strat.Name(), unwrapStrategyErr(err)))
			continue
		}
		if ref == nil || ref.DirectURL == "" {
			failure.Attempts = append(failure.Attempts, fmt.Sprintf("%s: no media url in response", strat.Name()))
			continue
		}

		c.log.Info("strategy succeeded",
			zap.String("strategy", strat.Name()),
			zap.String("url", pageURL))
		return ref, nil
	}

	return nil, failure
}

func (c *Chain) attempt(ctx context.Context, strat domain.Strategy, pageURL string) (*domain.MediaReference, error) {
	budget := c.perAttempt
	if h, ok := strat.(timeoutHinter); ok && h.TimeoutHint() > 0 {
		budget = h.TimeoutHint()
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return strat.Attempt(ctx, pageURL)
}

// timeoutHinter lets a strategy ask for more than the default per-attempt
// budget. Mirror sites do two round-trips and need it.
type timeoutHinter interface {
	TimeoutHint() time.Duration
}

type hintedStrategy struct {
	domain.Strategy
	timeout time.Duration
}

func (h hintedStrategy) TimeoutHint() time.Duration { return h.timeout }

// WithTimeoutHint wraps a strategy with a custom per-attempt budget.
func WithTimeoutHint(s domain.Strategy, timeout time.Duration) domain.Strategy {
	return hintedStrategy{Strategy: s, timeout: timeout}
}

func unwrapStrategyErr(err error) error {
	var se *domain.StrategyError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}
