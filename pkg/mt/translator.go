package mt

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-translator/pkg/retry"
)

// ProviderTranslatorConfig tunes calls made to a provider.
type ProviderTranslatorConfig struct {
	MaxConcurrency int
	Timeout        time.Duration
	Retry          *retry.Config
	CircuitBreaker CircuitBreakerConfig
}

// ProviderTranslator translates texts with a Provider, one call per text,
// bounded by MaxConcurrency.
type ProviderTranslator struct {
	provider Provider
	config   ProviderTranslatorConfig
	breaker  *CircuitBreaker
	logger   *zap.Logger
}

// NewProviderTranslator creates a translator over provider.
func NewProviderTranslator(provider Provider, config ProviderTranslatorConfig, logger *zap.Logger) *ProviderTranslator {
	if config.MaxConcurrency < 1 {
		config.MaxConcurrency = 4
	}
	if config.Retry == nil {
		config.Retry = retry.DefaultConfig()
	}
	if config.CircuitBreaker.Threshold == 0 {
		config.CircuitBreaker = DefaultCircuitBreakerConfig()
	}
	return &ProviderTranslator{
		provider: provider,
		config:   config,
		breaker:  NewCircuitBreaker(config.CircuitBreaker),
		logger:   logger.Named("mt-translator"),
	}
}

var _ Translator = (*ProviderTranslator)(nil)

// Engine returns the provider name.
func (t *ProviderTranslator) Engine() string {
	return t.provider.Name()
}

// Translate returns whatever the provider could translate. It fails only
// when no text could be translated at all.
func (t *ProviderTranslator) Translate(ctx context.Context, texts []string, from, to string) (map[string]map[string]float64, error) {
	result := make(map[string]map[string]float64, len(texts))
	if len(texts) == 0 {
		return result, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.config.MaxConcurrency)

	for _, text := range texts {
		g.Go(func() error {
			candidates, err := t.translateOne(gctx, text, from, to)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			if weights := weigh(candidates); len(weights) > 0 {
				result[text] = weights
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		t.logger.Warn("Some texts could not be machine translated",
			zap.String("engine", t.provider.Name()),
			zap.String("to", to),
			zap.Int("failed", len(errs)),
			zap.Int("total", len(texts)),
			zap.Error(errs[0]))
		if len(result) == 0 {
			return nil, errors.Join(errs...)
		}
	}
	return result, nil
}

func (t *ProviderTranslator) translateOne(ctx context.Context, text, from, to string) ([]string, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}

	var candidates []string
	err := retry.DoIfRetryable(ctx, t.config.Retry, func() error {
		callCtx := ctx
		if t.config.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, t.config.Timeout)
			defer cancel()
		}
		var err error
		candidates, err = t.provider.Candidates(callCtx, text, from, to)
		return err
	})
	if err != nil {
		t.breaker.RecordFailure()
		return nil, err
	}
	t.breaker.RecordSuccess()
	return candidates, nil
}
