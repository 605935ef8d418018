// Package retry implements the shared collaborator retry policy: transient
// errors back off exponentially, expired credentials get one refresh and a
// single retry, invalid requests are never retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/types"
)

// Policy configures the retryer.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy matches the documented defaults: three retries at 2s, 4s, 8s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// RefreshFunc refreshes an expired credential. Nil disables the auth path.
type RefreshFunc func(ctx context.Context) error

// Runner executes collaborator calls under the policy.
type Runner struct {
	policy  Policy
	refresh RefreshFunc
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithRefresh installs the credential refresher.
func WithRefresh(fn RefreshFunc) Option {
	return func(r *Runner) { r.refresh = fn }
}

// WithSleep overrides the delay function. Tests use it to avoid real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

// NewRunner creates a runner. Zero or negative policy fields fall back to
// the defaults.
func NewRunner(policy Policy, logger *zap.Logger, opts ...Option) *Runner {
	def := DefaultPolicy()
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = def.InitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = def.Multiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		policy: policy,
		logger: logger.With(zap.String("component", "retry")),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn under the policy. op names the call for logs.
func (r *Runner) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	refreshed := false

	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("call succeeded after retry",
					zap.String("op", op),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		switch kind := types.Kind(lastErr); kind {
		case types.ErrTransient:
			if attempt >= r.policy.MaxRetries {
				r.logger.Warn("retries exhausted",
					zap.String("op", op),
					zap.Int("attempts", attempt+1),
					zap.Error(lastErr),
				)
				return fmt.Errorf("%s failed after %d attempts: %w", op, attempt+1, lastErr)
			}
			delay := r.delayFor(attempt)
			r.logger.Debug("transient failure, backing off",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := r.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s retry canceled: %w", op, err)
			}

		case types.ErrAuthExpired:
			// One refresh + one immediate retry per Do call; a second auth
			// failure means the credential is genuinely unusable.
			if refreshed || r.refresh == nil {
				return fmt.Errorf("%s auth expired: %w", op, lastErr)
			}
			r.logger.Info("credential expired, refreshing", zap.String("op", op))
			if err := r.refresh(ctx); err != nil {
				return fmt.Errorf("%s credential refresh failed: %w", op, err)
			}
			refreshed = true

		case types.ErrQuotaExceeded:
			var e *types.Error
			if errors.As(lastErr, &e) && e.RetryAfter > 0 {
				r.logger.Warn("quota exceeded",
					zap.String("op", op),
					zap.Duration("retry_after", e.RetryAfter),
				)
			} else {
				r.logger.Warn("quota exceeded", zap.String("op", op))
			}
			return lastErr

		default:
			// Invalid requests and anything unclassified: permanent.
			return lastErr
		}
	}
}

// delayFor computes InitialDelay * Multiplier^attempt capped at MaxDelay,
// yielding 2s, 4s, 8s with the defaults.
func (r *Runner) delayFor(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
