// Package provider manages pooled clients to pluggable language-model
// backends: per-instance health tracking, sliding-window rate limiting,
// bounded retries, and failover to a configured fallback backend.
//
// The instance cache is an explicit object owned by the Gateway and
// injected where needed; there is no module-level client map.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/thirdeye-labs/overseer/pkg/models"
)

// Config binds a driver kind to one backend configuration. Two configs
// with the same kind, API key, and base URL share a cached instance.
type Config struct {
	Kind    string
	APIKey  string
	BaseURL string
	Model   string
}

func (c Config) cacheKey() string {
	return c.Kind + "|" + c.APIKey + "|" + c.BaseURL
}

// Driver is one backend adapter. Implementations normalize model
// listing, chat completion, and health probing for their backend.
type Driver interface {
	Kind() string
	Complete(ctx context.Context, cfg Config, req *models.CompletionRequest) (*models.CompletionResponse, error)
	ListModels(ctx context.Context, cfg Config) ([]models.ModelInfo, error)
	HealthCheck(ctx context.Context, cfg Config) error
}

// Options are the tunables the reference hard-codes; defaults preserve
// the reference behavior.
type Options struct {
	HealthCheckInterval time.Duration // default 5m
	RateWindow          time.Duration // default 60s
	RateMaxPerWindow    int           // default 100
	MaxRetries          uint64        // completion retries after the first attempt, default 2
	CallTimeout         time.Duration // default 120s
	ProbeTimeout        time.Duration // default 5s
}

func (o *Options) applyDefaults() {
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = 5 * time.Minute
	}
	if o.RateWindow <= 0 {
		o.RateWindow = 60 * time.Second
	}
	if o.RateMaxPerWindow <= 0 {
		o.RateMaxPerWindow = 100
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 120 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
}

// ── Typed errors ────────────────────────────────────────────

// RateLimitError reports a fast-fail rate-limit rejection with the
// remaining wait time. Callers must not queue behind it.
type RateLimitError struct {
	Backend    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Backend, e.RetryAfter.Round(time.Millisecond))
}

// Error wraps a backend failure after retries are exhausted. Completion
// failures are always typed, never partial output.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TimeoutError marks a completion that ran past its deadline.
type TimeoutError struct {
	Backend string
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.Backend, e.Limit)
}
