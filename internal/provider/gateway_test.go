package provider_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thirdeye-labs/overseer/internal/provider"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

// fakeDriver is a scriptable backend adapter for gateway tests.
type fakeDriver struct {
	kind        string
	healthErr   error
	healthCalls atomic.Int64

	completeErr   error
	completeCalls atomic.Int64
}

func (d *fakeDriver) Kind() string { return d.kind }

func (d *fakeDriver) Complete(ctx context.Context, cfg provider.Config, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	d.completeCalls.Add(1)
	if d.completeErr != nil {
		return nil, d.completeErr
	}
	return &models.CompletionResponse{
		Text:      "ack from " + d.kind,
		Model:     req.Model,
		TokensIn:  10,
		TokensOut: 5,
	}, nil
}

func (d *fakeDriver) ListModels(ctx context.Context, cfg provider.Config) ([]models.ModelInfo, error) {
	return []models.ModelInfo{{ID: d.kind + "-small"}}, nil
}

func (d *fakeDriver) HealthCheck(ctx context.Context, cfg provider.Config) error {
	d.healthCalls.Add(1)
	return d.healthErr
}

func newTestGateway(t *testing.T, opts provider.Options) (*provider.Gateway, *fakeDriver) {
	t.Helper()
	gw := provider.NewGateway(opts, nil)
	drv := &fakeDriver{kind: "fake"}
	gw.RegisterDriver(drv)
	return gw, drv
}

func TestGetClientUnknownKind(t *testing.T) {
	gw, _ := newTestGateway(t, provider.Options{})
	_, err := gw.GetClient(context.Background(), provider.Config{Kind: "nope"})
	if err == nil {
		t.Fatal("expected error for unregistered driver kind")
	}
}

func TestBuiltinDriversRegistered(t *testing.T) {
	gw := provider.NewGateway(provider.Options{}, nil)
	kinds := map[string]bool{}
	for _, k := range gw.ListDrivers() {
		kinds[k] = true
	}
	for _, want := range []string{"openai", "openai-compatible", "anthropic", "ollama"} {
		if !kinds[want] {
			t.Errorf("driver %q not registered", want)
		}
	}
}

func TestRateLimitFailsFastPastWindowMax(t *testing.T) {
	gw, _ := newTestGateway(t, provider.Options{
		RateWindow:       60 * time.Second,
		RateMaxPerWindow: 100,
	})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	gw.SetClock(func() time.Time { return now })

	cfg := provider.Config{Kind: "fake", APIKey: "k"}

	// 100 admissions inside one window, spaced well under the window.
	for i := 0; i < 100; i++ {
		now = base.Add(time.Duration(i) * 100 * time.Millisecond)
		if _, err := gw.GetClient(context.Background(), cfg); err != nil {
			t.Fatalf("request %d: unexpected rejection: %v", i+1, err)
		}
	}

	// The 101st must be rejected immediately with a positive wait.
	now = base.Add(10 * time.Second)
	_, err := gw.GetClient(context.Background(), cfg)
	var rl *provider.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("request 101: want RateLimitError, got %v", err)
	}
	if rl.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %s, want positive", rl.RetryAfter)
	}
	if rl.Backend != "fake" {
		t.Errorf("Backend = %q, want fake", rl.Backend)
	}
}

func TestRateLimitWindowResetsAfterQuietGap(t *testing.T) {
	gw, _ := newTestGateway(t, provider.Options{
		RateWindow:       60 * time.Second,
		RateMaxPerWindow: 2,
	})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	gw.SetClock(func() time.Time { return now })

	cfg := provider.Config{Kind: "fake", APIKey: "k"}
	for i := 0; i < 2; i++ {
		if _, err := gw.GetClient(context.Background(), cfg); err != nil {
			t.Fatalf("warmup %d: %v", i, err)
		}
	}
	if _, err := gw.GetClient(context.Background(), cfg); err == nil {
		t.Fatal("third request inside window should be rejected")
	}

	// A gap longer than the window resets the counter.
	now = base.Add(61 * time.Second)
	if _, err := gw.GetClient(context.Background(), cfg); err != nil {
		t.Fatalf("request after window reset: %v", err)
	}
}

func TestInstanceCacheSharedByConfigKey(t *testing.T) {
	gw, _ := newTestGateway(t, provider.Options{RateMaxPerWindow: 1})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gw.SetClock(func() time.Time { return now })

	a := provider.Config{Kind: "fake", APIKey: "k1", Model: "m1"}
	b := provider.Config{Kind: "fake", APIKey: "k1", Model: "m2"} // same key: model not part of identity
	c := provider.Config{Kind: "fake", APIKey: "k2"}

	if _, err := gw.GetClient(context.Background(), a); err != nil {
		t.Fatalf("first config: %v", err)
	}
	if _, err := gw.GetClient(context.Background(), b); err == nil {
		t.Fatal("same cache key should share the rate budget")
	}
	if _, err := gw.GetClient(context.Background(), c); err != nil {
		t.Fatalf("distinct API key should have its own budget: %v", err)
	}
}

func TestHealthProbeRespectsInterval(t *testing.T) {
	gw, drv := newTestGateway(t, provider.Options{
		HealthCheckInterval: 5 * time.Minute,
	})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	gw.SetClock(func() time.Time { return now })

	cfg := provider.Config{Kind: "fake"}
	st, err := gw.Health(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Healthy {
		t.Error("probe should report healthy")
	}
	if got := drv.healthCalls.Load(); got != 1 {
		t.Fatalf("healthCalls = %d, want 1", got)
	}

	// Within the interval the cached result is reused.
	now = base.Add(4 * time.Minute)
	if _, err := gw.Health(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := drv.healthCalls.Load(); got != 1 {
		t.Fatalf("healthCalls = %d, want 1 (cached)", got)
	}

	// Past the interval the gateway re-probes and picks up the failure.
	drv.healthErr = errors.New("backend down")
	now = base.Add(6 * time.Minute)
	st, err = gw.Health(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if st.Healthy {
		t.Error("stale probe must not be trusted past the interval")
	}
	if st.Error == "" {
		t.Error("unhealthy status should carry the probe error")
	}
	if got := drv.healthCalls.Load(); got != 2 {
		t.Fatalf("healthCalls = %d, want 2", got)
	}
}

func TestCompleteRetriesThenTypedError(t *testing.T) {
	gw, drv := newTestGateway(t, provider.Options{MaxRetries: 2})
	drv.completeErr = fmt.Errorf("upstream 500")

	client, err := gw.GetClient(context.Background(), provider.Config{Kind: "fake"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Complete(context.Background(), &models.CompletionRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
	})
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("want typed provider error, got %v", err)
	}
	if perr.Backend != "fake" {
		t.Errorf("Backend = %q, want fake", perr.Backend)
	}
	// Initial attempt plus both retries.
	if got := drv.completeCalls.Load(); got != 3 {
		t.Errorf("completeCalls = %d, want 3", got)
	}
}

func TestCompleteFillsModelAndBackend(t *testing.T) {
	gw, _ := newTestGateway(t, provider.Options{})
	cfg := provider.Config{Kind: "fake", Model: "fake-small"}

	client, err := gw.GetClient(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Complete(context.Background(), &models.CompletionRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "fake-small" {
		t.Errorf("Model = %q, want fake-small from config default", resp.Model)
	}
	if resp.Backend != "fake" {
		t.Errorf("Backend = %q, want fake", resp.Backend)
	}
}

func TestFailoverToFallbackBackend(t *testing.T) {
	gw, primary := newTestGateway(t, provider.Options{MaxRetries: 1})
	primary.completeErr = fmt.Errorf("primary exploded")
	fallback := &fakeDriver{kind: "spare"}
	gw.RegisterDriver(fallback)

	resp, err := gw.Complete(context.Background(),
		provider.Config{Kind: "fake", Model: "m"},
		&provider.Config{Kind: "spare", Model: "m2"},
		&models.CompletionRequest{Messages: []models.ChatMessage{{Role: "user", Content: "hi"}}},
	)
	if err != nil {
		t.Fatalf("failover should succeed: %v", err)
	}
	if resp.Backend != "spare" {
		t.Errorf("Backend = %q, want spare", resp.Backend)
	}
	if fallback.completeCalls.Load() == 0 {
		t.Error("fallback driver was never called")
	}
}

func TestFailoverNoFallbackConfigured(t *testing.T) {
	gw, primary := newTestGateway(t, provider.Options{MaxRetries: 1})
	primary.completeErr = fmt.Errorf("primary exploded")

	_, err := gw.Complete(context.Background(),
		provider.Config{Kind: "fake"},
		nil,
		&models.CompletionRequest{Messages: []models.ChatMessage{{Role: "user", Content: "hi"}}},
	)
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("want primary's typed error, got %v", err)
	}
}
