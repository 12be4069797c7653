package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/thirdeye-labs/overseer/internal/metrics"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

// instance is one cached backend client. At most one live instance per
// configuration key; all state mutation goes through its mutex.
type instance struct {
	cfg Config

	mu                sync.Mutex
	lastRequestAt     time.Time
	requestCount      int
	healthy           bool
	lastHealthCheckAt time.Time
	healthLatencyMs   int64
	healthErr         string
}

// Gateway owns the provider-instance cache and the driver registry.
type Gateway struct {
	opts    Options
	metrics metrics.Metrics

	driverMu sync.RWMutex
	drivers  map[string]Driver

	cacheMu   sync.RWMutex
	instances map[string]*instance

	now func() time.Time // injectable clock for tests
}

// NewGateway creates a provider gateway with the built-in drivers
// registered.
func NewGateway(opts Options, m metrics.Metrics) *Gateway {
	opts.applyDefaults()
	if m == nil {
		m = metrics.Noop{}
	}
	gw := &Gateway{
		opts:      opts,
		metrics:   m,
		drivers:   make(map[string]Driver),
		instances: make(map[string]*instance),
		now:       func() time.Time { return time.Now().UTC() },
	}
	gw.RegisterDriver(&openAIDriver{})
	gw.RegisterDriver(&openAIDriver{kind: "openai-compatible"})
	gw.RegisterDriver(&anthropicDriver{})
	gw.RegisterDriver(&ollamaDriver{})
	return gw
}

// SetClock overrides the gateway's clock. Test hook.
func (gw *Gateway) SetClock(now func() time.Time) { gw.now = now }

// RegisterDriver adds or replaces a backend adapter.
func (gw *Gateway) RegisterDriver(d Driver) {
	gw.driverMu.Lock()
	defer gw.driverMu.Unlock()
	gw.drivers[d.Kind()] = d
}

// ListDrivers returns the registered driver kinds.
func (gw *Gateway) ListDrivers() []string {
	gw.driverMu.RLock()
	defer gw.driverMu.RUnlock()
	out := make([]string, 0, len(gw.drivers))
	for k := range gw.drivers {
		out = append(out, k)
	}
	return out
}

func (gw *Gateway) driver(kind string) (Driver, error) {
	gw.driverMu.RLock()
	defer gw.driverMu.RUnlock()
	d, ok := gw.drivers[kind]
	if !ok {
		return nil, fmt.Errorf("no driver registered for provider kind %q", kind)
	}
	return d, nil
}

// getInstance returns the cached instance for a config, creating it on
// first use. New instances start healthy-unknown with a zero
// lastHealthCheckAt, so the first acquisition always probes.
func (gw *Gateway) getInstance(cfg Config) *instance {
	key := cfg.cacheKey()

	gw.cacheMu.RLock()
	inst, ok := gw.instances[key]
	gw.cacheMu.RUnlock()
	if ok {
		return inst
	}

	gw.cacheMu.Lock()
	defer gw.cacheMu.Unlock()
	if inst, ok = gw.instances[key]; ok {
		return inst
	}
	inst = &instance{cfg: cfg}
	gw.instances[key] = inst
	return inst
}

// Client is a rate-limit-admitted wrapper around one backend instance.
type Client struct {
	gw     *Gateway
	driver Driver
	inst   *instance
	cfg    Config
}

// GetClient acquires a client for the given provider configuration.
//
// Acquisition re-probes health when the cached probe is older than the
// health-check interval, then enforces the sliding-window rate limit:
// the counter resets when the gap since the last request exceeds the
// window, and an admission past the per-window maximum fails fast with
// the remaining wait time.
func (gw *Gateway) GetClient(ctx context.Context, cfg Config) (*Client, error) {
	d, err := gw.driver(cfg.Kind)
	if err != nil {
		return nil, err
	}
	inst := gw.getInstance(cfg)
	now := gw.now()

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if now.Sub(inst.lastHealthCheckAt) > gw.opts.HealthCheckInterval {
		gw.probeLocked(ctx, d, inst, now)
	}

	if now.Sub(inst.lastRequestAt) > gw.opts.RateWindow {
		inst.requestCount = 0
	}
	if inst.requestCount >= gw.opts.RateMaxPerWindow {
		wait := gw.opts.RateWindow - now.Sub(inst.lastRequestAt)
		if wait <= 0 {
			wait = time.Millisecond
		}
		gw.metrics.IncRateLimited(cfg.Kind)
		return nil, &RateLimitError{Backend: cfg.Kind, RetryAfter: wait}
	}

	inst.requestCount++
	inst.lastRequestAt = now

	return &Client{gw: gw, driver: d, inst: inst, cfg: cfg}, nil
}

// probeLocked runs a health check and records the result. Caller holds
// inst.mu.
func (gw *Gateway) probeLocked(ctx context.Context, d Driver, inst *instance, now time.Time) {
	probeCtx, cancel := context.WithTimeout(ctx, gw.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := d.HealthCheck(probeCtx, inst.cfg)
	inst.healthLatencyMs = time.Since(start).Milliseconds()
	inst.lastHealthCheckAt = now
	if err != nil {
		inst.healthy = false
		inst.healthErr = err.Error()
		log.Warn().Str("backend", inst.cfg.Kind).Err(err).Msg("Provider health probe failed")
		return
	}
	inst.healthy = true
	inst.healthErr = ""
}

// Health returns the instance's health, probing first if the cached
// result is stale. Stale health is never trusted past the interval.
func (gw *Gateway) Health(ctx context.Context, cfg Config) (*models.HealthStatus, error) {
	d, err := gw.driver(cfg.Kind)
	if err != nil {
		return nil, err
	}
	inst := gw.getInstance(cfg)
	now := gw.now()

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if now.Sub(inst.lastHealthCheckAt) > gw.opts.HealthCheckInterval {
		gw.probeLocked(ctx, d, inst, now)
	}
	return &models.HealthStatus{
		Healthy:   inst.healthy,
		LatencyMs: inst.healthLatencyMs,
		Error:     inst.healthErr,
	}, nil
}

// ListModels returns normalized model metadata for a backend. Adapters
// fall back to a hard-coded list when the remote listing call fails.
func (gw *Gateway) ListModels(ctx context.Context, cfg Config) ([]models.ModelInfo, error) {
	d, err := gw.driver(cfg.Kind)
	if err != nil {
		return nil, err
	}
	return d.ListModels(ctx, cfg)
}

// Complete runs a completion on the admitted client with bounded
// retries and a per-call timeout. Exhausted retries surface a typed
// *Error; a deadline surfaces a typed *TimeoutError. Never partial
// output.
func (c *Client) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.gw.opts.CallTimeout)
	defer cancel()

	if req.Model == "" {
		req.Model = c.cfg.Model
	}

	var resp *models.CompletionResponse
	operation := func() error {
		start := time.Now()
		r, err := c.driver.Complete(callCtx, c.cfg, req)
		if err != nil {
			if callCtx.Err() != nil {
				return backoff.Permanent(callCtx.Err())
			}
			return err
		}
		r.LatencyMs = time.Since(start).Milliseconds()
		r.Backend = c.cfg.Kind
		resp = r
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.gw.opts.MaxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(policy, callCtx)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Backend: c.cfg.Kind, Limit: c.gw.opts.CallTimeout}
		}
		return nil, &Error{Backend: c.cfg.Kind, Op: "complete", Err: err}
	}
	return resp, nil
}

// Complete acquires a client for the primary config and runs the
// completion, falling over once to the fallback config when the primary
// fails with a provider error. Rate-limit rejections are not retried on
// the same backend.
func (gw *Gateway) Complete(ctx context.Context, primary Config, fallback *Config, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	client, err := gw.GetClient(ctx, primary)
	if err == nil {
		resp, cerr := client.Complete(ctx, req)
		if cerr == nil {
			return resp, nil
		}
		err = cerr
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) || fallback == nil {
		return nil, err
	}

	log.Warn().Str("backend", primary.Kind).Err(err).Msg("Primary backend failed, trying fallback")
	gw.metrics.IncFailover(primary.Kind)

	fbClient, fbErr := gw.GetClient(ctx, *fallback)
	if fbErr != nil {
		return nil, fmt.Errorf("fallback unavailable after primary failure: %w (primary: %v)", fbErr, err)
	}
	resp, fbErr := fbClient.Complete(ctx, req)
	if fbErr != nil {
		return nil, fmt.Errorf("fallback failed after primary failure: %w", fbErr)
	}
	return resp, nil
}
