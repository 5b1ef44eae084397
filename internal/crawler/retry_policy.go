package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Retry reasons reported to logs and metrics.
const (
	ReasonRateLimited       = "rate_limited"
	ReasonInvalidCredential = "invalid_credential"
	ReasonTransient         = "transient"
)

// RetryDecision tells the caller whether and how to repeat a failed call.
type RetryDecision struct {
	Retry  bool
	Rotate bool
	Delay  time.Duration
	Reason string
}

// RetryPolicy decides how a failed provider call continues. attempt counts
// consecutive failures of the same reason, starting at 1.
type RetryPolicy interface {
	Decide(err error, attempt int) RetryDecision
}

// RetryConfig tunes ExponentialRetryPolicy.
type RetryConfig struct {
	BaseDelay            time.Duration
	RateLimitDelay       time.Duration
	MaxTransientAttempts int
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff. Rate
// limits and credential failures retry forever on a rotated credential;
// transient failures retry a bounded number of times.
type ExponentialRetryPolicy struct {
	baseDelay    time.Duration
	maxDelay     time.Duration
	maxTransient int
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return NewRetryPolicy(RetryConfig{})
}

// NewRetryPolicy builds a policy from cfg, filling zero values with defaults.
func NewRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 60 * time.Second
	}
	if cfg.RateLimitDelay < cfg.BaseDelay {
		cfg.RateLimitDelay = cfg.BaseDelay
	}
	if cfg.MaxTransientAttempts <= 0 {
		cfg.MaxTransientAttempts = 5
	}
	return &ExponentialRetryPolicy{
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.RateLimitDelay,
		maxTransient: cfg.MaxTransientAttempts,
	}
}

// Decide classifies err and returns the retry decision.
func (p *ExponentialRetryPolicy) Decide(err error, attempt int) RetryDecision {
	switch {
	case err == nil:
		return RetryDecision{}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return RetryDecision{}
	case errors.Is(err, ErrRateLimited):
		return RetryDecision{Retry: true, Rotate: true, Delay: p.Backoff(attempt), Reason: ReasonRateLimited}
	case errors.Is(err, ErrInvalidCredential):
		return RetryDecision{Retry: true, Rotate: true, Delay: p.Backoff(attempt), Reason: ReasonInvalidCredential}
	case errors.Is(err, ErrTransient):
		if attempt >= p.maxTransient {
			return RetryDecision{Reason: ReasonTransient}
		}
		return RetryDecision{Retry: true, Rotate: true, Delay: p.Backoff(attempt), Reason: ReasonTransient}
	default:
		return RetryDecision{}
	}
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
