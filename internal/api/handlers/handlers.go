// Package handlers implements the HTTP handlers for the pipeline
// gateway: the MCP endpoint, the session/run/event query surface,
// persona management, and provider introspection.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thirdeye-labs/overseer/internal/events"
	"github.com/thirdeye-labs/overseer/internal/facade"
	"github.com/thirdeye-labs/overseer/internal/mcpgw"
	"github.com/thirdeye-labs/overseer/internal/pipeline"
	"github.com/thirdeye-labs/overseer/internal/provider"
	"github.com/thirdeye-labs/overseer/internal/store"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store      store.Store
	Facade     *facade.Facade
	MCPGateway *mcpgw.Gateway
	Bus        *events.Bus
	Provider   *provider.Gateway
	Chain      *pipeline.Chain

	// PrimaryConfig is the backend the health/model endpoints inspect.
	PrimaryConfig provider.Config
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, f *facade.Facade, gw *mcpgw.Gateway, bus *events.Bus, pg *provider.Gateway, chain *pipeline.Chain, primary provider.Config) *Handlers {
	return &Handlers{
		Store:         s,
		Facade:        f,
		MCPGateway:    gw,
		Bus:           bus,
		Provider:      pg,
		Chain:         chain,
		PrimaryConfig: primary,
	}
}

// ══════════════════════════════════════════════════════════════
// ── MCP Endpoint ─────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// MCPEndpoint serves JSON-RPC 2.0 over HTTP POST.
func (h *Handlers) MCPEndpoint(w http.ResponseWriter, r *http.Request) {
	var req models.MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, &models.MCPResponse{
			Jsonrpc: "2.0",
			Error:   &models.MCPError{Code: -32700, Message: "Parse error", Data: err.Error()},
		})
		return
	}

	resp := h.MCPGateway.HandleJSONRPC(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════
// ── Session Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	sessions, err := h.Store.ListSessions(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (h *Handlers) SessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	afterSeq := uint64(queryInt(r, "after_seq", 0))
	limit := queryInt(r, "limit", 0)

	evs, err := h.Store.ListEvents(r.Context(), sessionID, afterSeq, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if evs == nil {
		evs = []models.PipelineEvent{}
	}
	respondJSON(w, http.StatusOK, evs)
}

func (h *Handlers) SessionRuns(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	runs, err := h.Store.ListRuns(r.Context(), sessionID, queryInt(r, "limit", 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.PipelineRun{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) SessionSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Store.SessionSummary(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// ══════════════════════════════════════════════════════════════
// ── Event Streams ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionEventsWS streams a session's events over WebSocket. The
// after_seq query parameter resumes from a previous position; events
// missed while disconnected are replayed before live delivery.
func (h *Handlers) SessionEventsWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	afterSeq := uint64(queryInt(r, "after_seq", 0))

	sub, err := h.Bus.Subscribe(r.Context(), sessionID, afterSeq)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reader goroutine: consume client pings, detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-sub.C:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// SessionEventsSSE streams a session's events as server-sent events.
func (h *Handlers) SessionEventsSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	afterSeq := uint64(queryInt(r, "after_seq", 0))

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := h.Bus.Subscribe(r.Context(), sessionID, afterSeq)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev := <-sub.C:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// ══════════════════════════════════════════════════════════════
// ── Persona Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := h.Store.ListPersonas(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if personas == nil {
		personas = []models.Persona{}
	}
	respondJSON(w, http.StatusOK, personas)
}

func (h *Handlers) GetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetPersona(r.Context(), chi.URLParam(r, "gate"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) UpsertPersona(w http.ResponseWriter, r *http.Request) {
	gate := chi.URLParam(r, "gate")
	if !h.Chain.Known(gate) {
		respondError(w, http.StatusBadRequest, "unknown stage: "+gate)
		return
	}

	var p models.Persona
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if p.Prompt == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	p.Gate = gate
	p.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpsertPersona(r.Context(), &p); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("gate", gate).Int("version", p.Version).Msg("Persona saved")
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeletePersona(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeletePersona(r.Context(), chi.URLParam(r, "gate")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Provider Handlers ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	status, err := h.Provider.Health(r.Context(), h.PrimaryConfig)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"backend": h.PrimaryConfig.Kind,
		"health":  status,
	})
}

func (h *Handlers) ProviderModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.Provider.ListModels(r.Context(), h.PrimaryConfig)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"backend": h.PrimaryConfig.Kind,
		"models":  list,
	})
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
