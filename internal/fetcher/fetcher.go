// Package fetcher issues platform requests through a pluggable Transport and
// applies the fixed retry policy: 429 responses back off linearly, every other
// failure waits a fixed delay, and the final attempt's failure is returned.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/metrics"
)

// Request is one HTTP GET exchange.
type Request struct {
	URL     string
	Headers map[string]string
}

// Response is the raw result of a single exchange.
type Response struct {
	Status int
	Body   []byte
}

// Transport performs exactly one exchange. Non-2xx statuses are returned as a
// Response, never as an error; errors are reserved for transport failures.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Waiter paces requests before they hit the transport.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// RetryPolicy holds the attempt budget and wait durations.
type RetryPolicy struct {
	// MaxAttempts is the total number of exchanges, including the first.
	MaxAttempts int
	// RateLimitStep is multiplied by (attempt+1) to get the wait after a 429.
	RateLimitStep time.Duration
	// RetryDelay is the fixed wait after any other failure.
	RetryDelay time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 5s rate-limit step, 2s retry delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		RateLimitStep: 5 * time.Second,
		RetryDelay:    2 * time.Second,
	}
}

// RateLimitBackoff returns the wait that follows a 429 on the given attempt.
func (p RetryPolicy) RateLimitBackoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * p.RateLimitStep
}

// Config wires the optional collaborators of a Fetcher.
type Config struct {
	Policy  RetryPolicy
	Limiter Waiter
	Logger  *zap.Logger
}

// Fetcher implements audit.Fetcher.
type Fetcher struct {
	transport Transport
	clock     audit.Clock
	policy    RetryPolicy
	limiter   Waiter
	logger    *zap.Logger
}

// New builds a Fetcher. A zero Policy falls back to DefaultRetryPolicy.
func New(transport Transport, clock audit.Clock, cfg Config) (*Fetcher, error) {
	if transport == nil {
		return nil, errors.New("fetcher: transport is required")
	}
	if clock == nil {
		return nil, errors.New("fetcher: clock is required")
	}
	policy := cfg.Policy
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		transport: transport,
		clock:     clock,
		policy:    policy,
		limiter:   cfg.Limiter,
		logger:    logger,
	}, nil
}

// Fetch returns the body of the first 2xx response. Failures surface as
// *audit.NetworkError, *audit.HTTPError, or audit.ErrRateLimitExhausted.
func (f *Fetcher) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	last := f.policy.MaxAttempts - 1
	for attempt := 0; attempt <= last; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, url); err != nil {
				return nil, err
			}
		}
		resp, err := f.transport.Do(ctx, Request{URL: url, Headers: headers})
		switch {
		case err == nil && isSuccess(resp.Status):
			metrics.ObserveFetchAttempt(url, "ok", len(resp.Body))
			return resp.Body, nil
		case err == nil && resp.Status == http.StatusTooManyRequests:
			metrics.ObserveFetchAttempt(url, "rate_limited", 0)
			wait := f.policy.RateLimitBackoff(attempt)
			f.logger.Warn("rate limited, backing off",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			metrics.ObserveRetry("rate_limited", wait)
			if err := f.clock.Sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("rate limit backoff: %w", err)
			}
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, ctxErr)
		}
		failure := f.classifyFailure(url, resp, err)
		if attempt == last {
			return nil, failure
		}
		f.logger.Debug("fetch failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(failure),
		)
		metrics.ObserveRetry("failure", f.policy.RetryDelay)
		if err := f.clock.Sleep(ctx, f.policy.RetryDelay); err != nil {
			return nil, fmt.Errorf("retry backoff: %w", err)
		}
	}
	metrics.ObserveRateLimitExhausted(url)
	return nil, fmt.Errorf("fetch %s: %w", url, audit.ErrRateLimitExhausted)
}

func (f *Fetcher) classifyFailure(url string, resp Response, err error) error {
	if err == nil {
		metrics.ObserveFetchAttempt(url, "http_error", len(resp.Body))
		return &audit.HTTPError{URL: url, Status: resp.Status}
	}
	metrics.ObserveFetchAttempt(url, "network_error", 0)
	var netErr *audit.NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}
	return &audit.NetworkError{URL: url, Err: err}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
