// Package server provides the public entry point for initializing the
// pipeline gateway.
//
// This package lives in pkg/ so external builds can compose the full
// server and wrap its handler:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/thirdeye-labs/overseer/internal/api"
	"github.com/thirdeye-labs/overseer/internal/api/handlers"
	"github.com/thirdeye-labs/overseer/internal/config"
	"github.com/thirdeye-labs/overseer/internal/envelope"
	"github.com/thirdeye-labs/overseer/internal/events"
	"github.com/thirdeye-labs/overseer/internal/facade"
	"github.com/thirdeye-labs/overseer/internal/mcpgw"
	"github.com/thirdeye-labs/overseer/internal/metrics"
	"github.com/thirdeye-labs/overseer/internal/pipeline"
	"github.com/thirdeye-labs/overseer/internal/provider"
	"github.com/thirdeye-labs/overseer/internal/sessions"
	"github.com/thirdeye-labs/overseer/internal/store"
	"github.com/thirdeye-labs/overseer/internal/telemetry"
)

// Server holds the initialized pipeline gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (in-memory by default).
	Store store.Store

	// Bus is the event bus; run its heartbeat with StartHeartbeat.
	Bus *events.Bus

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the gateway with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var m metrics.Metrics = metrics.Noop{}
	if cfg.Metrics.Enabled {
		m = metrics.NewProm("overseer")
	}

	dataStore := store.NewMemoryStore()
	log.Info().Msg("In-memory store initialized")

	chain := pipeline.DefaultChain()
	guard := pipeline.NewGuard(chain)
	router := pipeline.NewRouter(chain, guard)

	sessionMgr := sessions.NewManager(dataStore, cfg.Pipeline.SessionReuseWindow)

	providerGW := provider.NewGateway(provider.Options{
		HealthCheckInterval: cfg.Provider.HealthCheckInterval,
		RateWindow:          cfg.Provider.RateWindow,
		RateMaxPerWindow:    cfg.Provider.RateMaxPerWindow,
		MaxRetries:          uint64(cfg.Provider.MaxRetries),
		CallTimeout:         cfg.Provider.CallTimeout,
	}, m)

	bus := events.NewBus(dataStore, m, events.Options{
		QueueSize:         cfg.Events.QueueSize,
		HeartbeatInterval: cfg.Events.HeartbeatInterval,
	})

	primary := provider.Config{
		Kind:    cfg.Provider.Kind,
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Model:   cfg.Provider.Model,
	}
	var fallback *provider.Config
	if cfg.Provider.FallbackKind != "" {
		fallback = &provider.Config{
			Kind:    cfg.Provider.FallbackKind,
			APIKey:  cfg.Provider.FallbackAPIKey,
			BaseURL: cfg.Provider.FallbackBaseURL,
			Model:   cfg.Provider.FallbackModel,
		}
	}

	f := facade.New(dataStore, sessionMgr, chain, guard, router, providerGW, bus,
		envelope.NewSchemaRegistry(), m,
		facade.Options{Primary: primary, Fallback: fallback})

	mcpGW := mcpgw.NewGateway(f)

	log.Info().Str("backend", primary.Kind).Msg("Pipeline facade initialized")
	log.Info().Msg("MCP gateway initialized")

	h := handlers.New(dataStore, f, mcpGW, bus, providerGW, chain, primary)
	httpRouter := api.NewRouter(cfg, h, m)

	return &Server{
		Handler:      httpRouter,
		Store:        dataStore,
		Bus:          bus,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// StartHeartbeat runs the event-bus heartbeat until ctx is canceled.
func (s *Server) StartHeartbeat(ctx context.Context) {
	go s.Bus.RunHeartbeat(ctx)
}
