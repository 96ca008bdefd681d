package provider

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/errors"
)

// RetryPolicy defines exponential backoff for connection attempts.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a policy doubling the delay after every attempt.
func NewRetryPolicy(maxAttempts int, initialDelay, maxDelay time.Duration) *RetryPolicy {
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        maxDelay,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// Execute runs fn until it succeeds, fails with a non-retryable error, or
// the attempts are exhausted. The last error is returned unchanged.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error
	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == rp.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(rp.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// Delay returns the wait after the given zero-based attempt.
func (rp *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta //nolint:gosec // jitter only
	}
	return time.Duration(delay)
}

// WithConnectRetry returns p with Connect retried under policy while the
// source is unavailable. Listings are not retried.
func WithConnectRetry(p Provider, policy *RetryPolicy, log *zap.Logger) Provider {
	if policy == nil || policy.MaxAttempts <= 1 {
		return p
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &retryingProvider{Provider: p, policy: policy, log: log}
}

type retryingProvider struct {
	Provider
	policy *RetryPolicy
	log    *zap.Logger
}

func (r *retryingProvider) Connect(ctx context.Context) error {
	attempt := 0
	return r.policy.Execute(ctx, func() error {
		attempt++
		err := r.Provider.Connect(ctx)
		if err != nil && attempt < r.policy.MaxAttempts && errors.IsType(err, errors.ErrorTypeSourceUnavailable) {
			r.log.Warn("source unavailable, retrying",
				zap.String("provider", r.Kind()),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}, func(err error) bool {
		return ctx.Err() == nil && errors.IsType(err, errors.ErrorTypeSourceUnavailable)
	})
}
