// Package sessions manages per-conversation context: identity-keyed
// create-or-reuse, append-only gate history, and the per-session
// serialization the facade relies on.
//
// There is deliberately no process-wide "current session". Every
// operation takes an explicit session id, so concurrent sessions cannot
// bleed into each other.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thirdeye-labs/overseer/internal/store"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

// DefaultReuseWindow is how long a session stays reusable for the same
// identity after its last activity.
const DefaultReuseWindow = 30 * time.Minute

// ResolveHint carries whatever the caller knows about who is asking.
type ResolveHint struct {
	SessionID    string
	Identity     string
	UserID       string
	Tenant       string
	Lang         models.Lang
	BudgetTokens int64
}

// Manager resolves, creates, and mutates sessions through the
// collaborator store. Creation is atomic per identity, closing the
// check-then-act race of two simultaneous first requests.
type Manager struct {
	store       store.Store
	reuseWindow time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex // key: identity or session id

	now func() time.Time // injectable clock for tests
}

// NewManager creates a session manager with the given reuse window.
// A zero window means DefaultReuseWindow.
func NewManager(s store.Store, reuseWindow time.Duration) *Manager {
	if reuseWindow <= 0 {
		reuseWindow = DefaultReuseWindow
	}
	return &Manager{
		store:       s,
		reuseWindow: reuseWindow,
		locks:       make(map[string]*sync.Mutex),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the manager's clock. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// lockFor returns the mutex serializing operations on one key. Locks are
// never removed; the key space is bounded by live identities/sessions.
func (m *Manager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Resolve returns the session for the hint, creating one when needed.
//
// With an explicit session id the session must exist. With only an
// identity, the most recent session for that identity is reused if its
// last activity falls within the reuse window; otherwise a new session
// is created. Resolution touches LastActivity.
func (m *Manager) Resolve(ctx context.Context, hint ResolveHint) (*models.Session, error) {
	if hint.SessionID != "" {
		sess, err := m.store.GetSession(ctx, hint.SessionID)
		if err != nil {
			return nil, fmt.Errorf("resolve session %s: %w", hint.SessionID, err)
		}
		return sess, m.Touch(ctx, sess.ID)
	}

	identity := hint.Identity
	if identity == "" {
		identity = "anonymous"
	}

	lock := m.lockFor("identity:" + identity)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()
	if existing, err := m.store.LatestSessionByIdentity(ctx, identity); err == nil {
		if now.Sub(existing.LastActivity) <= m.reuseWindow {
			// Touch under the session lock, re-reading first. Writing
			// back the snapshot from the lookup could clobber a gate a
			// concurrent request appended in the meantime.
			err := m.Serialize(ctx, existing.ID, func(h Handle) error {
				sess, err := h.Session()
				if err != nil {
					return err
				}
				sess.LastActivity = now
				if err := m.store.UpdateSession(ctx, sess); err != nil {
					return err
				}
				existing = sess
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("touch reused session: %w", err)
			}
			return existing, nil
		}
	}

	sess := &models.Session{
		ID:            uuid.New().String(),
		Identity:      identity,
		UserID:        hint.UserID,
		Tenant:        hint.Tenant,
		Lang:          hint.Lang,
		BudgetTokens:  hint.BudgetTokens,
		ExecutedGates: []string{},
		CreatedAt:     now,
		LastActivity:  now,
	}
	if sess.Lang == "" {
		sess.Lang = models.LangAuto
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Info().Str("session", sess.ID).Str("identity", identity).Msg("Session created")
	return sess, nil
}

// Handle gives a Serialize callback lock-held access to one session.
type Handle struct {
	m         *Manager
	ctx       context.Context
	sessionID string
}

// Session loads the current session state.
func (h Handle) Session() (*models.Session, error) {
	return h.m.store.GetSession(h.ctx, h.sessionID)
}

// AppendGate appends one gate to the session's history and touches
// LastActivity. ExecutedGates only ever grows.
func (h Handle) AppendGate(gate string) error {
	sess, err := h.m.store.GetSession(h.ctx, h.sessionID)
	if err != nil {
		return fmt.Errorf("append gate: %w", err)
	}
	sess.ExecutedGates = append(sess.ExecutedGates, gate)
	sess.LastActivity = h.m.now()
	return h.m.store.UpdateSession(h.ctx, sess)
}

// Serialize runs fn while holding the session's lock. The facade wraps a
// whole gate invocation in this, making the guard check and the history
// append atomic relative to other requests on the same session. Locks
// are per session id; unrelated sessions never contend.
func (m *Manager) Serialize(ctx context.Context, sessionID string, fn func(h Handle) error) error {
	lock := m.lockFor("session:" + sessionID)
	lock.Lock()
	defer lock.Unlock()
	return fn(Handle{m: m, ctx: ctx, sessionID: sessionID})
}

// AppendGateExecution is the standalone form of Handle.AppendGate.
func (m *Manager) AppendGateExecution(ctx context.Context, sessionID, gate string) error {
	return m.Serialize(ctx, sessionID, func(h Handle) error {
		return h.AppendGate(gate)
	})
}

// Touch updates the session's LastActivity.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	return m.Serialize(ctx, sessionID, func(h Handle) error {
		sess, err := h.Session()
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		sess.LastActivity = m.now()
		return m.store.UpdateSession(ctx, sess)
	})
}
