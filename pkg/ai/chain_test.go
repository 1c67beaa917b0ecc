package ai

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/resilience"
)

type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, p Prompt) (*Result, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, p Prompt) (*Result, error) {
	s.calls.Add(1)
	return s.fn(ctx, p)
}

func okProvider(name, text string) *stubProvider {
	return &stubProvider{
		name: name,
		fn: func(_ context.Context, _ Prompt) (*Result, error) {
			return &Result{Text: text, Provider: name, Model: "stub-model"}, nil
		},
	}
}

func failingProvider(name string, err error) *stubProvider {
	return &stubProvider{
		name: name,
		fn: func(_ context.Context, _ Prompt) (*Result, error) {
			return nil, err
		},
	}
}

func fastChainRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestChain_FirstProviderWins(t *testing.T) {
	t.Parallel()
	primary := okProvider("primary", "the story")
	fallback := okProvider("fallback", "unused")

	chain := NewChain([]Client{primary, fallback}, WithRetryConfig(fastChainRetry()))
	res, err := chain.Generate(context.Background(), Prompt{Section: "executive-summary", Text: "digest"})
	require.NoError(t, err)
	assert.Equal(t, "the story", res.Text)
	assert.Equal(t, "primary", res.Provider)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(0), fallback.calls.Load())
}

func TestChain_FallsThroughToFallback(t *testing.T) {
	t.Parallel()
	primary := failingProvider("primary", eris.New("invalid request"))
	fallback := okProvider("fallback", "rescued")

	chain := NewChain([]Client{primary, fallback}, WithRetryConfig(fastChainRetry()))
	res, err := chain.Generate(context.Background(), Prompt{Section: "trends", Text: "digest"})
	require.NoError(t, err)
	assert.Equal(t, "rescued", res.Text)
	assert.Equal(t, "fallback", res.Provider)

	// Permanent errors burn one attempt, not the whole retry budget.
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestChain_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	flaky := &stubProvider{
		name: "flaky",
		fn: func(_ context.Context, _ Prompt) (*Result, error) {
			if n.Add(1) == 1 {
				return nil, resilience.NewTransientError(eris.New("connection dropped"), 0)
			}
			return &Result{Text: "second try", Provider: "flaky", Model: "stub-model"}, nil
		},
	}

	chain := NewChain([]Client{flaky}, WithRetryConfig(fastChainRetry()))
	res, err := chain.Generate(context.Background(), Prompt{Section: "key-findings", Text: "digest"})
	require.NoError(t, err)
	assert.Equal(t, "second try", res.Text)
	assert.Equal(t, int32(2), flaky.calls.Load())
}

func TestChain_RetriesThrottleResponses(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	throttled := &stubProvider{
		name: "throttled",
		fn: func(_ context.Context, _ Prompt) (*Result, error) {
			if n.Add(1) == 1 {
				return nil, eris.New("api error: 429 rate limit exceeded")
			}
			return &Result{Text: "after backoff", Provider: "throttled", Model: "stub-model"}, nil
		},
	}

	chain := NewChain([]Client{throttled}, WithRetryConfig(fastChainRetry()))
	res, err := chain.Generate(context.Background(), Prompt{Section: "trends", Text: "digest"})
	require.NoError(t, err)
	assert.Equal(t, "after backoff", res.Text)
	assert.Equal(t, int32(2), throttled.calls.Load())
}

func TestChain_AllFailReturnsAIError(t *testing.T) {
	t.Parallel()
	chain := NewChain([]Client{
		failingProvider("primary", eris.New("invalid request")),
		failingProvider("fallback", eris.New("model not found")),
	}, WithRetryConfig(fastChainRetry()))

	_, err := chain.Generate(context.Background(), Prompt{Section: "community-impact", Text: "digest"})
	require.Error(t, err)

	var aiErr *model.AIError
	require.ErrorAs(t, err, &aiErr)
	assert.Equal(t, "fallback", aiErr.Provider)
	assert.Contains(t, aiErr.Error(), "model not found")
}

func TestChain_StampsGenerationDefaults(t *testing.T) {
	t.Parallel()
	var seen Prompt
	capture := &stubProvider{
		name: "capture",
		fn: func(_ context.Context, p Prompt) (*Result, error) {
			seen = p
			return &Result{Text: "ok", Provider: "capture", Model: "stub-model"}, nil
		},
	}

	chain := NewChain([]Client{capture},
		WithGenerationDefaults(2048, 0.3),
		WithRetryConfig(fastChainRetry()))

	_, err := chain.Generate(context.Background(), Prompt{Section: "trends", Text: "digest"})
	require.NoError(t, err)
	assert.Equal(t, int64(2048), seen.MaxTokens)
	assert.InDelta(t, 0.3, seen.Temperature, 0.0001)

	// A prompt that sets its own budget keeps it.
	_, err = chain.Generate(context.Background(), Prompt{Section: "trends", Text: "digest", MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, int64(256), seen.MaxTokens)
}

func TestChain_NoProviders(t *testing.T) {
	t.Parallel()
	chain := NewChain(nil)
	_, err := chain.Generate(context.Background(), Prompt{Section: "trends"})
	var aiErr *model.AIError
	require.ErrorAs(t, err, &aiErr)
}

func TestChain_SectionTimeoutSkipsFallback(t *testing.T) {
	t.Parallel()
	slow := &stubProvider{
		name: "slow",
		fn: func(ctx context.Context, _ Prompt) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	fallback := okProvider("fallback", "unused")

	chain := NewChain([]Client{slow, fallback},
		WithSectionTimeout(20*time.Millisecond),
		WithRetryConfig(fastChainRetry()))

	_, err := chain.Generate(context.Background(), Prompt{Section: "trends", Text: "digest"})
	var aiErr *model.AIError
	require.ErrorAs(t, err, &aiErr)
	assert.Equal(t, "slow", aiErr.Provider)
	assert.Equal(t, int32(0), fallback.calls.Load())
}

func TestChain_BoundsConcurrency(t *testing.T) {
	t.Parallel()
	var current, peak atomic.Int32
	counting := &stubProvider{
		name: "counting",
		fn: func(_ context.Context, _ Prompt) (*Result, error) {
			now := current.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			current.Add(-1)
			return &Result{Text: "ok", Provider: "counting", Model: "stub-model"}, nil
		},
	}

	chain := NewChain([]Client{counting}, WithMaxConcurrent(2), WithRetryConfig(fastChainRetry()))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := chain.Generate(context.Background(), Prompt{Section: "trends", Text: "digest"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRetryableProviderError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient wrapper", resilience.NewTransientError(eris.New("x"), 0), true},
		{"http 429", eris.New("unexpected status 429"), true},
		{"overloaded", eris.New("overloaded_error: try again"), true},
		{"resource exhausted", eris.New("rpc error: RESOURCE_EXHAUSTED quota"), true},
		{"bad request", eris.New("invalid request: missing field"), false},
		{"auth", eris.New("401 unauthorized"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryableProviderError(tt.err))
		})
	}
}

func TestUsage_EstimateCost(t *testing.T) {
	t.Parallel()
	u := Usage{InputTokens: 1_000_000, OutputTokens: 500_000}
	assert.InDelta(t, 3.00+7.50, u.EstimateCost("claude-sonnet-4-5-20250929"), 0.0001)
	assert.InDelta(t, 0.30+1.25, u.EstimateCost("gemini-2.5-flash"), 0.0001)
	assert.Zero(t, u.EstimateCost("unknown-model"))
}
