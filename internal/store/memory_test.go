package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/thirdeye-labs/overseer/internal/store"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Sessions ────────────────────────────────────────────────

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.Session{
		ID:           "sess-1",
		Identity:     "agent-a",
		Lang:         models.LangAuto,
		LastActivity: time.Now().UTC(),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Identity != "agent-a" {
		t.Errorf("GetSession().Identity = %q, want %q", got.Identity, "agent-a")
	}
}

func TestCreateSessionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.Session{ID: "dup"}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() first call error = %v", err)
	}
	err := s.CreateSession(ctx, &models.Session{ID: "dup"})
	if _, ok := err.(*store.ErrConflict); !ok {
		t.Errorf("CreateSession() duplicate error = %T (%v), want *ErrConflict", err, err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "nope")
	if _, ok := err.(*store.ErrNotFound); !ok {
		t.Errorf("GetSession() error = %T (%v), want *ErrNotFound", err, err)
	}
}

func TestLatestSessionByIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	s.CreateSession(ctx, &models.Session{ID: "old", Identity: "agent-a", LastActivity: base.Add(-time.Hour)})
	s.CreateSession(ctx, &models.Session{ID: "new", Identity: "agent-a", LastActivity: base})
	s.CreateSession(ctx, &models.Session{ID: "other", Identity: "agent-b", LastActivity: base.Add(time.Hour)})

	got, err := s.LatestSessionByIdentity(ctx, "agent-a")
	if err != nil {
		t.Fatalf("LatestSessionByIdentity() error = %v", err)
	}
	if got.ID != "new" {
		t.Errorf("LatestSessionByIdentity().ID = %q, want %q", got.ID, "new")
	}
}

func TestSessionCopyIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.Session{ID: "iso", ExecutedGates: []string{"sharingan"}}
	s.CreateSession(ctx, sess)

	got, _ := s.GetSession(ctx, "iso")
	got.ExecutedGates = append(got.ExecutedGates, "mutated")

	again, _ := s.GetSession(ctx, "iso")
	if len(again.ExecutedGates) != 1 {
		t.Errorf("store state mutated through a returned copy: %v", again.ExecutedGates)
	}
}

// ─── Events & Summary ────────────────────────────────────────

func TestListEventsAfterSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		s.AppendEvent(ctx, &models.PipelineEvent{
			Seq: i, SessionID: "sess", Gate: "sharingan",
			Phase: models.PhaseStarted, Timestamp: time.Now().UTC(),
		})
	}

	events, err := s.ListEvents(ctx, "sess", 2, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("ListEvents(afterSeq=2) returned %d events, want 3", len(events))
	}
	if events[0].Seq != 3 {
		t.Errorf("first event Seq = %d, want 3", events[0].Seq)
	}
}

func TestSessionSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AppendEvent(ctx, &models.PipelineEvent{
		Seq: 1, SessionID: "sess", Gate: "sharingan", Phase: models.PhaseComplete,
		Metrics:   &models.EventMetrics{TokensIn: 100, TokensOut: 40, LatencyMs: 900},
		Timestamp: time.Now().UTC(),
	})
	s.AppendEvent(ctx, &models.PipelineEvent{
		Seq: 2, SessionID: "sess", Gate: "rinnegan", Phase: models.PhaseComplete,
		Metrics:   &models.EventMetrics{TokensIn: 50, TokensOut: 20, LatencyMs: 600},
		Timestamp: time.Now().UTC(),
	})

	sum, err := s.SessionSummary(ctx, "sess")
	if err != nil {
		t.Fatalf("SessionSummary() error = %v", err)
	}
	if sum.EventCount != 2 {
		t.Errorf("EventCount = %d, want 2", sum.EventCount)
	}
	if len(sum.Gates) != 2 {
		t.Errorf("Gates = %v, want 2 distinct gates", sum.Gates)
	}
	if sum.TokensIn != 150 || sum.TokensOut != 60 {
		t.Errorf("tokens = %d/%d, want 150/60", sum.TokensIn, sum.TokensOut)
	}
	if sum.TotalMs != 1500 {
		t.Errorf("TotalMs = %d, want 1500", sum.TotalMs)
	}
}

// ─── Personas ────────────────────────────────────────────────

func TestUpsertPersonaBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Persona{Gate: "sharingan", DisplayName: "Clarifier", Prompt: "v1"}
	if err := s.UpsertPersona(ctx, p); err != nil {
		t.Fatalf("UpsertPersona() error = %v", err)
	}
	p.Prompt = "v2"
	s.UpsertPersona(ctx, p)

	got, err := s.GetPersona(ctx, "sharingan")
	if err != nil {
		t.Fatalf("GetPersona() error = %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	if got.Prompt != "v2" {
		t.Errorf("Prompt = %q, want %q", got.Prompt, "v2")
	}
}

func TestDeletePersona(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertPersona(ctx, &models.Persona{Gate: "jogan", Prompt: "p"})
	if err := s.DeletePersona(ctx, "jogan"); err != nil {
		t.Fatalf("DeletePersona() error = %v", err)
	}
	if _, err := s.GetPersona(ctx, "jogan"); err == nil {
		t.Error("GetPersona() succeeded after delete")
	}
}
