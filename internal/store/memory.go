// In-memory Store implementation.
// Concurrent readers are supported; writers serialize on the store lock.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/thirdeye-labs/overseer/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session        // key: session id
	runs     map[string]*models.PipelineRun    // key: run id
	events   map[string][]models.PipelineEvent // key: session id, append-only
	personas map[string]*models.Persona        // key: gate tag
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		runs:     make(map[string]*models.PipelineRun),
		events:   make(map[string][]models.PipelineEvent),
		personas: make(map[string]*models.Persona),
	}
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }
func (m *MemoryStore) Close() error                 { return nil }

// ── Sessions ────────────────────────────────────────────────

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	cp := cloneSession(s)
	return cp, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return &ErrConflict{Entity: "session", Key: session.ID}
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; !exists {
		return &ErrNotFound{Entity: "session", Key: session.ID}
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, limit int) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) LatestSessionByIdentity(_ context.Context, identity string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.Session
	for _, s := range m.sessions {
		if s.Identity != identity {
			continue
		}
		if latest == nil || s.LastActivity.After(latest.LastActivity) {
			latest = s
		}
	}
	if latest == nil {
		return nil, &ErrNotFound{Entity: "session", Key: identity}
	}
	return cloneSession(latest), nil
}

func cloneSession(s *models.Session) *models.Session {
	cp := *s
	cp.ExecutedGates = append([]string(nil), s.ExecutedGates...)
	return &cp
}

// ── Runs ────────────────────────────────────────────────────

func (m *MemoryStore) CreateRun(_ context.Context, run *models.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return &ErrConflict{Entity: "run", Key: run.ID}
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, run *models.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; !exists {
		return &ErrNotFound{Entity: "run", Key: run.ID}
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*models.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "run", Key: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, sessionID string, limit int) ([]models.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PipelineRun
	for _, r := range m.runs {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ── Events ──────────────────────────────────────────────────

func (m *MemoryStore) AppendEvent(_ context.Context, event *models.PipelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.SessionID] = append(m.events[event.SessionID], *event)
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, sessionID string, afterSeq uint64, limit int) ([]models.PipelineEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PipelineEvent
	for _, e := range m.events[sessionID] {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SessionSummary(_ context.Context, sessionID string) (*models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[sessionID]
	summary := &models.SessionSummary{SessionID: sessionID, EventCount: len(events)}

	seen := make(map[string]bool)
	for i, e := range events {
		if i == 0 || e.Timestamp.Before(summary.FirstEvent) {
			summary.FirstEvent = e.Timestamp
		}
		if e.Timestamp.After(summary.LatestEvent) {
			summary.LatestEvent = e.Timestamp
		}
		if e.Gate != "" && !seen[e.Gate] {
			seen[e.Gate] = true
			summary.Gates = append(summary.Gates, e.Gate)
		}
		if e.Metrics != nil {
			summary.TokensIn += e.Metrics.TokensIn
			summary.TokensOut += e.Metrics.TokensOut
			summary.TotalMs += e.Metrics.LatencyMs
		}
	}
	return summary, nil
}

// ── Personas ────────────────────────────────────────────────

func (m *MemoryStore) GetPersona(_ context.Context, gate string) (*models.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.personas[gate]
	if !ok {
		return nil, &ErrNotFound{Entity: "persona", Key: gate}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPersonas(_ context.Context) ([]models.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Persona, 0, len(m.personas))
	for _, p := range m.personas {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gate < out[j].Gate })
	return out, nil
}

func (m *MemoryStore) UpsertPersona(_ context.Context, persona *models.Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *persona
	if prev, ok := m.personas[persona.Gate]; ok {
		cp.Version = prev.Version + 1
	} else if cp.Version == 0 {
		cp.Version = 1
	}
	cp.UpdatedAt = time.Now().UTC()
	m.personas[persona.Gate] = &cp
	return nil
}

func (m *MemoryStore) DeletePersona(_ context.Context, gate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.personas[gate]; !ok {
		return &ErrNotFound{Entity: "persona", Key: gate}
	}
	delete(m.personas, gate)
	return nil
}
