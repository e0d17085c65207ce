package providers

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
)

// RetryConfig bounds the retry loop around transient provider errors.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
	}
}

// RetryingProvider wraps a Provider with exponential backoff and
// jitter. Only provider-unavailable errors are retried; everything
// else surfaces immediately.
type RetryingProvider struct {
	inner  Provider
	config RetryConfig
	log    *slog.Logger
}

func WithRetry(inner Provider, config RetryConfig, log *slog.Logger) *RetryingProvider {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 15 * time.Second
	}
	return &RetryingProvider{inner: inner, config: config, log: log}
}

func (r *RetryingProvider) Name() string         { return r.inner.Name() }
func (r *RetryingProvider) DefaultModel() string { return r.inner.DefaultModel() }

func (r *RetryingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	delay := r.config.BaseDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		resp, err := r.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if fault.KindOf(err) != fault.KindProviderUnavailable {
			return nil, err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		sleep := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		if sleep > r.config.MaxDelay {
			sleep = r.config.MaxDelay
		}
		r.log.Warn("provider call failed, retrying",
			"provider", r.inner.Name(),
			"attempt", attempt,
			"backoff", sleep,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
	}
	return nil, lastErr
}
