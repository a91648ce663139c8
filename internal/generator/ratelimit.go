package generator

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited waits on a token bucket before every call to the wrapped
// Generator.
type RateLimited struct {
	Generator
	limiter *rate.Limiter
}

// WithRateLimit limits g to perMinute calls with the given burst. A
// non-positive perMinute returns g unchanged.
func WithRateLimit(g Generator, perMinute float64, burst int) Generator {
	if perMinute <= 0 {
		return g
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Generator: g,
		limiter:   rate.NewLimiter(rate.Limit(perMinute/60), burst),
	}
}

// Generate implements Generator.
func (r *RateLimited) Generate(ctx context.Context, prompt string, opts Options) (*Stream, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limit: %w", err)
	}
	return r.Generator.Generate(ctx, prompt, opts)
}
