package census

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// adaptiveLimiter is a token bucket that backs off when the API pushes
// back: a 429 halves the rate (floor base/4), sustained success recovers
// it gradually (ceiling 2x base).
type adaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
	current rate.Limit
}

func newAdaptiveLimiter(perSecond float64) *adaptiveLimiter {
	limit := rate.Limit(perSecond)
	return &adaptiveLimiter{
		limiter: rate.NewLimiter(limit, 1),
		base:    limit,
		current: limit,
	}
}

func (a *adaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *adaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current * 1.2
	if next > a.base*2 {
		next = a.base * 2
	}
	if next != a.current {
		a.current = next
		a.limiter.SetLimit(next)
	}
}

func (a *adaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current * 0.5
	if next < a.base/4 {
		next = a.base / 4
	}
	if next != a.current {
		a.current = next
		a.limiter.SetLimit(next)
		zap.L().Warn("census rate limited, slowing down",
			zap.Float64("requests_per_second", float64(next)))
	}
}
