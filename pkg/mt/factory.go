package mt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/config"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
	"github.com/ekaya-inc/ekaya-translator/pkg/retry"
)

// NewProvider creates the provider selected by cfg. It returns nil when
// machine translation is disabled.
func NewProvider(cfg *config.MachineTranslationConfig, logger *zap.Logger) (Provider, error) {
	if !cfg.IsAvailable() {
		return nil, nil
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, logger), nil
	default:
		return nil, fmt.Errorf("unknown machine translation provider %q", cfg.Provider)
	}
}

// NewFromConfig builds the cached translator selected by cfg. It returns a
// nil Translator when machine translation is disabled.
func NewFromConfig(
	cfg *config.MachineTranslationConfig,
	scope func(context.Context) (context.Context, func(), error),
	repo repositories.ExternalSuggestionRepository,
	logger *zap.Logger,
) (Translator, error) {
	provider, err := NewProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		logger.Info("Machine translation disabled")
		return nil, nil
	}

	inner := NewProviderTranslator(provider, ProviderTranslatorConfig{
		MaxConcurrency: cfg.MaxConcurrency,
		Timeout:        cfg.Timeout,
		Retry:          retry.DefaultConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}, logger)

	logger.Info("Machine translation enabled",
		zap.String("engine", provider.Name()),
		zap.Int("max_concurrency", cfg.MaxConcurrency))
	return NewCachingTranslator(scope, repo, inner, logger), nil
}
