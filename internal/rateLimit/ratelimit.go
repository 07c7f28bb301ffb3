package rateLimit

import (
	"context"
	"time"

	"github.com/robertarktes/seatmap-booking/internal/observability"
)

// Counter bumps a fixed-window counter and returns the new count.
type Counter interface {
	IncrWindow(ctx context.Context, key string, period time.Duration) (int64, error)
}

type Rule struct {
	Rate   int
	Period time.Duration
}

type RateLimiter struct {
	counter Counter
	logger  observability.Logger
}

func NewRateLimiter(counter Counter, logger observability.Logger) *RateLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RateLimiter{counter: counter, logger: logger}
}

// Allow reports whether one more request under key fits rule. Counter
// failures let the request through.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rule Rule) bool {
	n, err := rl.counter.IncrWindow(ctx, key, rule.Period)
	if err != nil {
		rl.logger.WithError(err).WithField("key", key).Warn("rate limit counter unavailable")
		return true
	}
	if n > int64(rule.Rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
