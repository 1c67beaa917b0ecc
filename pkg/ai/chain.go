package ai

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/resilience"
)

// Chain tries providers in priority order, returning the first success.
// Each provider gets its own retry budget; a section that exhausts every
// provider yields a model.AIError so the caller can degrade instead of
// failing the report.
type Chain struct {
	providers   []Client
	gate        *semaphore.Weighted
	timeout     time.Duration
	retry       resilience.RetryConfig
	maxTokens   int64
	temperature float64
}

// ChainOption configures the chain.
type ChainOption func(*Chain)

// WithSectionTimeout caps the total time spent on one section across all
// providers and retries.
func WithSectionTimeout(d time.Duration) ChainOption {
	return func(c *Chain) { c.timeout = d }
}

// WithMaxConcurrent bounds in-flight generations across all sections.
func WithMaxConcurrent(n int64) ChainOption {
	return func(c *Chain) { c.gate = semaphore.NewWeighted(n) }
}

// WithRetryConfig replaces the per-provider retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) ChainOption {
	return func(c *Chain) { c.retry = cfg }
}

// WithGenerationDefaults sets the output token budget and sampling
// temperature stamped onto prompts that do not carry their own.
func WithGenerationDefaults(maxTokens int64, temperature float64) ChainOption {
	return func(c *Chain) {
		if maxTokens > 0 {
			c.maxTokens = maxTokens
		}
		c.temperature = temperature
	}
}

// NewChain creates a Chain over the given providers, tried in order.
func NewChain(providers []Client, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		gate:      semaphore.NewWeighted(4),
		timeout:   90 * time.Second,
		retry:     resilience.AIRetryConfig(),
		maxTokens: 1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate produces one section's narrative text.
func (c *Chain) Generate(ctx context.Context, p Prompt) (*Result, error) {
	if len(c.providers) == 0 {
		return nil, &model.AIError{Err: eris.New("ai: no providers configured")}
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = c.maxTokens
	}
	if p.Temperature == 0 {
		p.Temperature = c.temperature
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, &model.AIError{Err: eris.Wrap(err, "ai: acquire slot")}
	}
	defer c.gate.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		lastProvider string
		lastErr      error
	)
	for _, provider := range c.providers {
		cfg := c.retry
		cfg.ShouldRetry = retryableProviderError
		cfg.OnRetry = resilience.RetryLogger(provider.Name(), "generate")

		res, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
			return provider.Generate(ctx, p)
		})
		if err == nil {
			res.Usage.Log(res.Provider, res.Model, p.Section)
			return res, nil
		}
		lastProvider, lastErr = provider.Name(), err

		// Once the section budget is spent a fallback cannot succeed.
		if ctx.Err() != nil {
			break
		}
		zap.L().Warn("ai: provider failed, trying next",
			zap.String("provider", provider.Name()),
			zap.String("section", p.Section),
			zap.Error(err),
		)
	}
	return nil, &model.AIError{Provider: lastProvider, Err: lastErr}
}

// retryableProviderError extends the transient check with the throttle and
// overload signals the model APIs put in their error strings.
func retryableProviderError(err error) bool {
	if resilience.IsTransient(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"429",
		"529",
		"overloaded",
		"rate limit",
		"resource exhausted",
		"resource_exhausted",
		"unavailable",
		"internal server error",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
