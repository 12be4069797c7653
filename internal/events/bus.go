// Package events is the per-session pipeline event bus: monotonic
// sequence numbers, bounded subscriber queues with drop-oldest
// overflow, and gap-free replay for reconnecting subscribers.
package events

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thirdeye-labs/overseer/internal/metrics"
	"github.com/thirdeye-labs/overseer/internal/store"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

const (
	// DefaultQueueSize bounds each subscriber's delivery queue. A
	// subscriber that falls further behind loses its oldest events
	// first; publishers never block.
	DefaultQueueSize = 64

	// DefaultHeartbeatInterval is how often idle streams get a
	// keepalive event.
	DefaultHeartbeatInterval = 30 * time.Second
)

// Options tune the bus. Zero values take the defaults above.
type Options struct {
	QueueSize         int
	HeartbeatInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// ── Topics and subscribers ──────────────────────────────────

// subscriber is one bounded delivery queue.
type subscriber struct {
	id int
	ch chan models.PipelineEvent
}

// topic is the fan-out state for one session. seq is the last assigned
// sequence number; assignment, persistence, and fan-out all happen
// under mu, so a subscriber attached mid-stream sees every event
// exactly once.
type topic struct {
	mu      sync.Mutex
	seq     uint64
	nextSub int
	subs    map[int]*subscriber
}

// Bus publishes pipeline events to per-session subscribers and persists
// them for replay.
type Bus struct {
	store   store.EventStore
	metrics metrics.Metrics
	opts    Options

	mu     sync.Mutex
	topics map[string]*topic

	now func() time.Time
}

// NewBus creates an event bus backed by the given event store.
func NewBus(s store.EventStore, m metrics.Metrics, opts Options) *Bus {
	opts.applyDefaults()
	if m == nil {
		m = metrics.Noop{}
	}
	return &Bus{
		store:   s,
		metrics: m,
		opts:    opts,
		topics:  make(map[string]*topic),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the bus clock. Test hook.
func (b *Bus) SetClock(now func() time.Time) { b.now = now }

func (b *Bus) topicFor(sessionID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[sessionID]
	if !ok {
		t = &topic{subs: make(map[int]*subscriber)}
		b.topics[sessionID] = t
	}
	return t
}

// ── Publish ─────────────────────────────────────────────────

// Publish assigns the next sequence number for the event's session,
// persists the event, and fans it out to all live subscribers. A full
// subscriber queue drops its oldest event to make room; publishing
// never blocks on a slow consumer.
func (b *Bus) Publish(ctx context.Context, event *models.PipelineEvent) error {
	t := b.topicFor(event.SessionID)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	event.Seq = t.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	if err := b.store.AppendEvent(ctx, event); err != nil {
		t.seq-- // sequence numbers track persisted events only
		return err
	}

	b.fanOutLocked(t, *event)
	b.metrics.IncEventPublished()
	return nil
}

// fanOutLocked delivers one event to every subscriber. Caller holds
// t.mu.
func (b *Bus) fanOutLocked(t *topic, event models.PipelineEvent) {
	for _, sub := range t.subs {
		for {
			select {
			case sub.ch <- event:
			default:
				// Queue full: evict the oldest and retry.
				select {
				case <-sub.ch:
					b.metrics.IncEventDropped()
					log.Debug().Str("session", event.SessionID).Int("subscriber", sub.id).Msg("Subscriber queue full, dropped oldest event")
				default:
				}
				continue
			}
			break
		}
	}
}

// ── Subscribe ───────────────────────────────────────────────

// Subscription is a live event feed for one session. Receive from C
// until it is closed or the caller is done, then call Close.
type Subscription struct {
	C <-chan models.PipelineEvent

	bus       *Bus
	sessionID string
	subID     int
	closeOnce sync.Once
}

// Close detaches the subscription from the bus. Safe to call more than
// once; the channel is not closed, so in-flight receives stay valid.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		t := s.bus.topicFor(s.sessionID)
		t.mu.Lock()
		delete(t.subs, s.subID)
		t.mu.Unlock()
	})
}

// Subscribe attaches a subscriber to a session's event stream. Events
// already persisted with Seq > afterSeq are replayed into the queue
// first, and the live attachment happens under the same lock that
// assigns sequence numbers, so the subscriber sees no gaps and no
// duplicates across the replay/live boundary. Pass afterSeq 0 for the
// full history.
func (b *Bus) Subscribe(ctx context.Context, sessionID string, afterSeq uint64) (*Subscription, error) {
	t := b.topicFor(sessionID)

	t.mu.Lock()
	defer t.mu.Unlock()

	replay, err := b.store.ListEvents(ctx, sessionID, afterSeq, 0)
	if err != nil {
		return nil, err
	}
	if t.seq == 0 {
		// Topic state was rebuilt (restart); resume from storage. The
		// replay tail is the latest persisted event, but a subscriber
		// whose afterSeq already covers the history gets an empty
		// replay, so fall back to the full log's tail.
		if len(replay) > 0 {
			t.seq = replay[len(replay)-1].Seq
		} else if afterSeq > 0 {
			all, err := b.store.ListEvents(ctx, sessionID, 0, 0)
			if err != nil {
				return nil, err
			}
			if n := len(all); n > 0 {
				t.seq = all[n-1].Seq
			}
		}
	}

	size := b.opts.QueueSize
	if need := len(replay) + 1; need > size {
		size = need
	}
	sub := &subscriber{id: t.nextSub, ch: make(chan models.PipelineEvent, size)}
	t.nextSub++
	for _, ev := range replay {
		sub.ch <- ev
	}
	t.subs[sub.id] = sub

	log.Debug().Str("session", sessionID).Uint64("after_seq", afterSeq).Int("replayed", len(replay)).Msg("Subscriber attached")
	return &Subscription{C: sub.ch, bus: b, sessionID: sessionID, subID: sub.id}, nil
}

// SubscriberCount reports the live subscribers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	t := b.topicFor(sessionID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// ── Heartbeat ───────────────────────────────────────────────

// RunHeartbeat emits a keepalive event to every session with live
// subscribers, once per interval, until the context is canceled.
// Heartbeats are not persisted and reuse the session's current
// sequence number, so they never disturb replay positions.
func (b *Bus) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(b.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.heartbeatOnce()
		}
	}
}

func (b *Bus) heartbeatOnce() {
	b.mu.Lock()
	topics := make(map[string]*topic, len(b.topics))
	for id, t := range b.topics {
		topics[id] = t
	}
	b.mu.Unlock()

	now := b.now()
	for sessionID, t := range topics {
		t.mu.Lock()
		if len(t.subs) > 0 {
			b.fanOutLocked(t, models.PipelineEvent{
				Seq:       t.seq,
				SessionID: sessionID,
				Phase:     models.PhaseHeartbeat,
				Timestamp: now,
			})
		}
		t.mu.Unlock()
	}
}

// ── Reconnect backoff ───────────────────────────────────────

const maxReconnectDelay = 16 * time.Second

// ReconnectDelay returns the wait before reconnect attempt n (0-based):
// 1s, 2s, 4s, 8s, then capped at 16s, plus up to 10% jitter so
// disconnected clients do not reconnect in lockstep.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Second << uint(attempt)
	if attempt >= 4 || d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 10))
	return d + jitter
}
