package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/thirdeye-labs/overseer/internal/events"
	"github.com/thirdeye-labs/overseer/internal/store"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

func publishN(t *testing.T, bus *events.Bus, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := bus.Publish(context.Background(), &models.PipelineEvent{
			SessionID: sessionID,
			Gate:      "sharingan",
			Phase:     models.PhaseAnalyzing,
		})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
}

func drain(sub *events.Subscription) []models.PipelineEvent {
	var out []models.PipelineEvent
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	bus := events.NewBus(store.NewMemoryStore(), nil, events.Options{})
	sub, err := bus.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	publishN(t, bus, "s1", 5)

	got := drain(sub)
	if len(got) != 5 {
		t.Fatalf("received %d events, want 5", len(got))
	}
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d: Seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event %d: zero timestamp", i)
		}
	}
}

func TestSessionsHaveIndependentStreams(t *testing.T) {
	bus := events.NewBus(store.NewMemoryStore(), nil, events.Options{})
	subA, _ := bus.Subscribe(context.Background(), "a", 0)
	defer subA.Close()
	subB, _ := bus.Subscribe(context.Background(), "b", 0)
	defer subB.Close()

	publishN(t, bus, "a", 3)
	publishN(t, bus, "b", 1)

	if got := drain(subA); len(got) != 3 {
		t.Errorf("session a received %d events, want 3", len(got))
	}
	gotB := drain(subB)
	if len(gotB) != 1 {
		t.Fatalf("session b received %d events, want 1", len(gotB))
	}
	// Sequence numbers are per session, not global.
	if gotB[0].Seq != 1 {
		t.Errorf("session b Seq = %d, want 1", gotB[0].Seq)
	}
}

func TestSlowSubscriberDropsOldestNotNewest(t *testing.T) {
	bus := events.NewBus(store.NewMemoryStore(), nil, events.Options{QueueSize: 3})
	sub, err := bus.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	// Twice the queue capacity; nobody is receiving.
	publishN(t, bus, "s1", 6)

	got := drain(sub)
	if len(got) != 3 {
		t.Fatalf("received %d events, want queue capacity 3", len(got))
	}
	// The survivors are the newest three.
	for i, want := range []uint64{4, 5, 6} {
		if got[i].Seq != want {
			t.Errorf("event %d: Seq = %d, want %d", i, got[i].Seq, want)
		}
	}
}

func TestReplayOnSubscribe(t *testing.T) {
	bus := events.NewBus(store.NewMemoryStore(), nil, events.Options{})
	publishN(t, bus, "s1", 4)

	sub, err := bus.Subscribe(context.Background(), "s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	got := drain(sub)
	if len(got) != 2 {
		t.Fatalf("replayed %d events, want 2", len(got))
	}
	if got[0].Seq != 3 || got[1].Seq != 4 {
		t.Errorf("replayed Seqs = %d,%d, want 3,4", got[0].Seq, got[1].Seq)
	}
}

func TestReconnectSeesNoDuplicatesAndNoGaps(t *testing.T) {
	bus := events.NewBus(store.NewMemoryStore(), nil, events.Options{})
	sub, err := bus.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}

	publishN(t, bus, "s1", 3)
	first := drain(sub)
	if len(first) != 3 {
		t.Fatalf("first connection received %d events, want 3", len(first))
	}
	lastSeen := first[len(first)-1].Seq
	sub.Close()

	// Events published while disconnected.
	publishN(t, bus, "s1", 2)

	resumed, err := bus.Subscribe(context.Background(), "s1", lastSeen)
	if err != nil {
		t.Fatal(err)
	}
	defer resumed.Close()
	publishN(t, bus, "s1", 1)

	second := drain(resumed)
	if len(second) != 3 {
		t.Fatalf("resumed connection received %d events, want 3", len(second))
	}
	seen := map[uint64]bool{}
	for _, ev := range first {
		seen[ev.Seq] = true
	}
	prev := lastSeen
	for _, ev := range second {
		if seen[ev.Seq] {
			t.Errorf("Seq %d delivered twice across reconnect", ev.Seq)
		}
		if ev.Seq != prev+1 {
			t.Errorf("gap in resumed stream: got Seq %d after %d", ev.Seq, prev)
		}
		prev = ev.Seq
	}
}

func TestCloseDetachesSubscriber(t *testing.T) {
	bus := events.NewBus(store.NewMemoryStore(), nil, events.Options{})
	sub, err := bus.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := bus.SubscriberCount("s1"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}
	sub.Close()
	sub.Close() // idempotent
	if got := bus.SubscriberCount("s1"); got != 0 {
		t.Fatalf("SubscriberCount after Close = %d, want 0", got)
	}
}

func TestHeartbeatReachesLiveSubscribers(t *testing.T) {
	bus := events.NewBus(store.NewMemoryStore(), nil, events.Options{HeartbeatInterval: 10 * time.Millisecond})
	sub, err := bus.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.RunHeartbeat(ctx)

	select {
	case ev := <-sub.C:
		if ev.Phase != models.PhaseHeartbeat {
			t.Fatalf("Phase = %q, want heartbeat", ev.Phase)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat within 2s")
	}
}

func TestHeartbeatNotPersisted(t *testing.T) {
	st := store.NewMemoryStore()
	bus := events.NewBus(st, nil, events.Options{HeartbeatInterval: 10 * time.Millisecond})
	sub, _ := bus.Subscribe(context.Background(), "s1", 0)
	defer sub.Close()

	publishN(t, bus, "s1", 2)

	ctx, cancel := context.WithCancel(context.Background())
	go bus.RunHeartbeat(ctx)
	// Wait until at least one heartbeat lands.
	deadline := time.After(2 * time.Second)
	for got := 0; got < 3; {
		select {
		case <-sub.C:
			got++
		case <-deadline:
			t.Fatal("no heartbeat within 2s")
		}
	}
	cancel()

	stored, err := st.ListEvents(context.Background(), "s1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d events, want 2 (heartbeats excluded)", len(stored))
	}
}

func TestReconnectDelaySchedule(t *testing.T) {
	base := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second, // capped
	}
	for attempt, want := range base {
		got := events.ReconnectDelay(attempt)
		if got < want || got > want+want/10 {
			t.Errorf("attempt %d: delay %s outside [%s, %s]", attempt, got, want, want+want/10)
		}
	}
}

func TestSeqResumesFromStoreWhenReplayEmpty(t *testing.T) {
	st := store.NewMemoryStore()
	busBefore := events.NewBus(st, nil, events.Options{})
	publishN(t, busBefore, "s1", 3)

	// Fresh bus over the same store, as after a restart. The subscriber
	// is already caught up, so nothing replays.
	bus := events.NewBus(st, nil, events.Options{})
	sub, err := bus.Subscribe(context.Background(), "s1", 3)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if replayed := drain(sub); len(replayed) != 0 {
		t.Fatalf("replayed %d events, want 0", len(replayed))
	}

	publishN(t, bus, "s1", 1)
	got := drain(sub)
	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].Seq != 4 {
		t.Errorf("Seq = %d, want 4", got[0].Seq)
	}
}

func TestReconnectDelayClampsNegativeAttempt(t *testing.T) {
	got := events.ReconnectDelay(-1)
	if got < time.Second || got > time.Second+time.Second/10 {
		t.Errorf("ReconnectDelay(-1) = %v, want within [1s, 1.1s]", got)
	}
}
