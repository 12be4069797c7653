package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thirdeye-labs/overseer/internal/api"
	"github.com/thirdeye-labs/overseer/internal/api/handlers"
	"github.com/thirdeye-labs/overseer/internal/config"
	"github.com/thirdeye-labs/overseer/internal/events"
	"github.com/thirdeye-labs/overseer/internal/facade"
	"github.com/thirdeye-labs/overseer/internal/mcpgw"
	"github.com/thirdeye-labs/overseer/internal/metrics"
	"github.com/thirdeye-labs/overseer/internal/pipeline"
	"github.com/thirdeye-labs/overseer/internal/provider"
	"github.com/thirdeye-labs/overseer/internal/sessions"
	"github.com/thirdeye-labs/overseer/internal/store"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

type okDriver struct{}

func (okDriver) Kind() string { return "ok" }

func (okDriver) Complete(ctx context.Context, cfg provider.Config, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	return &models.CompletionResponse{
		Text: `{"tag":"sharingan","ok":true,"code":"OK","md":"clear","data":{},"next":""}`,
	}, nil
}

func (okDriver) ListModels(ctx context.Context, cfg provider.Config) ([]models.ModelInfo, error) {
	return []models.ModelInfo{{ID: "ok-1"}}, nil
}

func (okDriver) HealthCheck(ctx context.Context, cfg provider.Config) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	chain := pipeline.DefaultChain()
	guard := pipeline.NewGuard(chain)
	router := pipeline.NewRouter(chain, guard)
	pg := provider.NewGateway(provider.Options{}, nil)
	pg.RegisterDriver(okDriver{})
	bus := events.NewBus(st, nil, events.Options{})
	primary := provider.Config{Kind: "ok"}
	f := facade.New(st, sessions.NewManager(st, 0), chain, guard, router, pg, bus, nil, nil,
		facade.Options{Primary: primary})
	h := handlers.New(st, f, mcpgw.NewGateway(f), bus, pg, chain, primary)

	cfg := config.Load()
	srv := httptest.NewServer(api.NewRouter(cfg, h, metrics.Noop{}))
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	var health map[string]string
	if code := getJSON(t, srv.URL+"/health", &health); code != http.StatusOK {
		t.Fatalf("/health status %d", code)
	}
	if health["status"] != "healthy" {
		t.Errorf("health status = %q", health["status"])
	}

	var version map[string]string
	if code := getJSON(t, srv.URL+"/version", &version); code != http.StatusOK {
		t.Fatalf("/version status %d", code)
	}
	if version["version"] == "" {
		t.Error("version missing")
	}
}

func TestMCPEndToEnd(t *testing.T) {
	srv, st := newTestServer(t)

	body := `{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"overseer_run","arguments":{"task":"Write a hello world function","identity":"tester"}}}`
	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var rpcResp models.MCPResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatal(err)
	}
	if rpcResp.Error != nil {
		t.Fatalf("rpc error: %+v", rpcResp.Error)
	}

	// The run left a session behind.
	sessList, err := st.ListSessions(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessList) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessList))
	}

	// Query surface sees its events and summary.
	var evs []models.PipelineEvent
	if code := getJSON(t, srv.URL+"/api/v1/sessions/"+sessList[0].ID+"/events", &evs); code != http.StatusOK {
		t.Fatalf("events status %d", code)
	}
	if len(evs) == 0 {
		t.Error("no events recorded for the run")
	}

	var summary models.SessionSummary
	if code := getJSON(t, srv.URL+"/api/v1/sessions/"+sessList[0].ID+"/summary", &summary); code != http.StatusOK {
		t.Fatalf("summary status %d", code)
	}
	if summary.EventCount != len(evs) {
		t.Errorf("summary EventCount = %d, events = %d", summary.EventCount, len(evs))
	}
}

func TestSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	if code := getJSON(t, srv.URL+"/api/v1/sessions/nope", nil); code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", code)
	}
}

func TestPersonaCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	client := srv.Client()

	payload := `{"display_name":"Clarity Check","prompt":"Assess ambiguity.","strictness":"standard"}`
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/personas/sharingan", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status %d", resp.StatusCode)
	}

	var p models.Persona
	if code := getJSON(t, srv.URL+"/api/v1/personas/sharingan", &p); code != http.StatusOK {
		t.Fatalf("get status %d", code)
	}
	if p.Prompt != "Assess ambiguity." || p.Version != 1 {
		t.Errorf("persona = %+v", p)
	}

	// Unknown stages are rejected.
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/api/v1/personas/unknown-gate", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown stage upsert status %d, want 400", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/personas/sharingan", nil)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
}

func TestProviderEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var health map[string]interface{}
	if code := getJSON(t, srv.URL+"/api/v1/providers/health", &health); code != http.StatusOK {
		t.Fatalf("health status %d", code)
	}
	if health["backend"] != "ok" {
		t.Errorf("backend = %v", health["backend"])
	}

	var modelsResp struct {
		Models []models.ModelInfo `json:"models"`
	}
	if code := getJSON(t, srv.URL+"/api/v1/providers/models", &modelsResp); code != http.StatusOK {
		t.Fatalf("models status %d", code)
	}
	if len(modelsResp.Models) != 1 || modelsResp.Models[0].ID != "ok-1" {
		t.Errorf("models = %+v", modelsResp.Models)
	}
}

func TestSSEStreamDeliversReplay(t *testing.T) {
	srv, st := newTestServer(t)

	// Seed a run through MCP so a session with events exists.
	body := `{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"overseer_run","arguments":{"task":"Write a hello world function"}}}`
	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	sessList, _ := st.ListSessions(context.Background(), 1)
	if len(sessList) != 1 {
		t.Fatal("no session created")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/v1/sessions/"+sessList[0].ID+"/events/stream", nil)
	streamResp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer streamResp.Body.Close()
	if ct := streamResp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	buf := make([]byte, 4096)
	n, err := streamResp.Body.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("no SSE data: n=%d err=%v", n, err)
	}
	if !strings.HasPrefix(string(buf[:n]), "data: ") {
		t.Errorf("frame does not start with data prefix: %q", string(buf[:n]))
	}
}
