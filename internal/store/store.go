// Package store provides the storage collaborator interface for the
// pipeline gateway, plus the in-memory implementation.
//
// Durable persistence is owned by the collaborator; the gateway only
// depends on this interface, so tests and the default build run against
// the in-memory store.
package store

import (
	"context"

	"github.com/thirdeye-labs/overseer/pkg/models"
)

// Store is the composed storage interface the gateway depends on.
type Store interface {
	SessionStore
	RunStore
	EventStore
	PersonaStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Session Store ───────────────────────────────────────────

type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// CreateSession is an atomic create-if-absent: it fails if a session
	// with the same ID already exists.
	CreateSession(ctx context.Context, session *models.Session) error

	UpdateSession(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)

	// LatestSessionByIdentity returns the most recent session for an
	// agent identity, by LastActivity.
	LatestSessionByIdentity(ctx context.Context, identity string) (*models.Session, error)
}

// ── Run Store ───────────────────────────────────────────────

type RunStore interface {
	CreateRun(ctx context.Context, run *models.PipelineRun) error
	UpdateRun(ctx context.Context, run *models.PipelineRun) error
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, sessionID string, limit int) ([]models.PipelineRun, error)
}

// ── Event Store ─────────────────────────────────────────────

// EventStore is the durable event log observers reconcile against after
// a reconnect.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.PipelineEvent) error

	// ListEvents returns a session's events with Seq > afterSeq, in
	// sequence order.
	ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]models.PipelineEvent, error)

	// SessionSummary computes event count, participating gates, and
	// aggregate metrics for one session.
	SessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
}

// ── Persona Store ───────────────────────────────────────────

type PersonaStore interface {
	GetPersona(ctx context.Context, gate string) (*models.Persona, error)
	ListPersonas(ctx context.Context) ([]models.Persona, error)
	UpsertPersona(ctx context.Context, persona *models.Persona) error
	DeletePersona(ctx context.Context, gate string) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when an atomic create finds the key taken.
type ErrConflict struct {
	Entity string
	Key    string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " already exists: " + e.Key
}
