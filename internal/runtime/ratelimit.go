package runtime

import (
	"context"
	"fmt"
	"time"

	errorspkg "github.com/drblury/pulsehub/internal/runtime/errors"
	loggingpkg "github.com/drblury/pulsehub/internal/runtime/logging"
)

// Counter is the atomic-increment leg the rate limiter needs from a
// backend key-value store.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimitResult is the outcome of a single rate limit check.
type RateLimitResult struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int64
	// ResetAt is when the current window ends and the counter resets.
	ResetAt time.Time
}

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// KeyPrefix namespaces the counter keys on the shared backend.
	KeyPrefix string
	// FailOpen makes Check allow requests when the backend is unreachable
	// instead of returning an error. Use for limits protecting downstream
	// capacity; keep strict for limits enforcing billing or abuse rules.
	FailOpen bool
	Logger   loggingpkg.ServiceLogger
	Metrics  *Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.Logger == nil {
		c.Logger = loggingpkg.NopServiceLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Limiter is a fixed-window rate limiter counting on the resolved
// backend's atomic counters. Windows are aligned to Unix-epoch multiples
// of the window size, so all instances sharing a backend agree on window
// boundaries without coordination.
type Limiter struct {
	counter Counter
	cfg     LimiterConfig
}

// NewLimiter creates a rate limiter over the given counter backend.
func NewLimiter(counter Counter, cfg LimiterConfig) *Limiter {
	return &Limiter{
		counter: counter,
		cfg:     cfg.withDefaults(),
	}
}

// Check consumes one unit of quota for key and reports whether the request
// is within limit for the current window. Check is check-and-consume:
// every call counts, including denied ones.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (RateLimitResult, error) {
	if key == "" {
		return RateLimitResult{}, errorspkg.ErrKeyRequired
	}
	if limit <= 0 {
		return RateLimitResult{}, fmt.Errorf("%w: got %d", errorspkg.ErrInvalidLimit, limit)
	}
	if window <= 0 {
		return RateLimitResult{}, fmt.Errorf("%w: got %s", errorspkg.ErrInvalidWindow, window)
	}

	now := l.cfg.Now()
	// Windows are anchored at the Unix epoch, so windowStart is always a
	// whole multiple of the window size in Unix time.
	offset := time.Duration(now.UnixNano() % int64(window))
	windowStart := now.Add(-offset)
	resetAt := windowStart.Add(window)

	// One counter per (key, window); the TTL outlives the window slightly
	// so late stragglers still hit the same counter instead of recreating
	// an expired one.
	counterKey := fmt.Sprintf("%s%s.%d", l.cfg.KeyPrefix, key, windowStart.Unix())
	count, err := l.counter.Incr(ctx, counterKey, resetAt.Sub(now)+time.Second)
	if err != nil {
		if l.cfg.FailOpen {
			l.cfg.Logger.Error("Rate limiter failing open, backend unreachable", err, loggingpkg.LogFields{
				"key":    key,
				"window": window.String(),
			})
			l.cfg.Metrics.RateLimitDecision("fail_open")
			return RateLimitResult{
				Allowed:   true,
				Remaining: limit,
				ResetAt:   now.Add(window),
			}, nil
		}
		return RateLimitResult{}, fmt.Errorf("%w: incr %q: %v", errorspkg.ErrBackendUnavailable, key, err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	allowed := count <= limit
	if allowed {
		l.cfg.Metrics.RateLimitDecision("allowed")
	} else {
		l.cfg.Metrics.RateLimitDecision("denied")
	}

	return RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
