package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/metrics"
)

// Provider endpoints, used as log and metric labels.
const (
	EndpointFollowerIDs    = "followers/ids"
	EndpointLookupProfiles = "users/lookup"
)

// caller runs provider calls under a RetryPolicy, drawing a credential from
// the pool for every attempt it rotates on.
type caller struct {
	policy RetryPolicy
	logger *zap.Logger
}

func callWithRetry[T any](
	ctx context.Context,
	c caller,
	pool CredentialPicker,
	endpoint string,
	fn func(ctx context.Context, cred Credential) (T, error),
) (T, error) {
	var zero T
	cred, err := pool.Next()
	if err != nil {
		return zero, fmt.Errorf("%s: %w", endpoint, err)
	}

	lastReason := ""
	attempt := 0
	for {
		res, err := fn(ctx, cred)
		if err == nil {
			metrics.ObserveProviderCall(endpoint, "ok")
			return res, nil
		}

		reason := retryReason(err)
		if reason == lastReason {
			attempt++
		} else {
			lastReason = reason
			attempt = 1
		}

		decision := c.policy.Decide(err, attempt)
		if !decision.Retry || ctx.Err() != nil {
			metrics.ObserveProviderCall(endpoint, "error")
			return zero, err
		}

		metrics.ObserveProviderCall(endpoint, decision.Reason)
		metrics.ObserveRetry(endpoint, decision.Reason)
		c.logger.Warn("provider call failed, retrying",
			zap.String("endpoint", endpoint),
			zap.String("reason", decision.Reason),
			zap.String("credential", cred.Key()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay),
			zap.Error(err),
		)

		if err := sleep(ctx, decision.Delay); err != nil {
			return zero, fmt.Errorf("%s retry wait: %w", endpoint, err)
		}
		if decision.Rotate {
			next, err := pool.NextExcept(cred)
			if err != nil {
				return zero, fmt.Errorf("%s: %w", endpoint, err)
			}
			cred = next
		}
	}
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrInvalidCredential):
		return ReasonInvalidCredential
	case errors.Is(err, ErrTransient):
		return ReasonTransient
	default:
		return ""
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
