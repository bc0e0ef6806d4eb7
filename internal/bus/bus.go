// Package bus implements the in-process event fan-out for deployment runs:
// per-run bounded backlog, live subscribers, optional durable persistence,
// mirror sinks, and fire-and-forget webhook callbacks.
package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/agentops/relay/internal/domain/event"
	"github.com/agentops/relay/internal/port/eventstore"
)

// BacklogCap bounds the per-run backlog; the oldest events are evicted
// first. A late subscriber to a very long run misses the head of the
// stream — an accepted lossy-buffer tradeoff.
const BacklogCap = 500

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind is dropped like any other dead subscriber.
const subscriberBuffer = 512

// callbackTimeout bounds the single delivery attempt per callback URL.
const callbackTimeout = 5 * time.Second

// Sink receives a copy of every published event; delivery is best-effort
// and a failing sink never affects the publisher.
type Sink interface {
	Forward(ctx context.Context, deploymentID string, ev event.Event) error
}

// Subscription is a live subscriber's handle. Events arrive on C in publish
// order until Unsubscribe (or the bus drops the subscriber as dead), after
// which C is closed.
type Subscription struct {
	C      chan event.Event
	closed bool // guarded by the bus mutex
}

// Bus is the process-wide event fan-out. Construct one at startup and share
// it; all per-run state is keyed by deployment id and never leaks across
// keys.
type Bus struct {
	mu        sync.Mutex
	backlogs  map[string][]event.Event
	subs      map[string]map[*Subscription]struct{}
	callbacks map[string][]string

	store  eventstore.Store
	sinks  []Sink
	client *http.Client
	log    *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithStore attaches a durable event store. Append failures are logged and
// swallowed.
func WithStore(s eventstore.Store) Option {
	return func(b *Bus) { b.store = s }
}

// WithSink attaches a mirror sink (e.g. a NATS JetStream publisher).
func WithSink(s Sink) Option {
	return func(b *Bus) { b.sinks = append(b.sinks, s) }
}

// WithHTTPClient overrides the client used for callback POSTs.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bus) { b.client = c }
}

// New creates an empty Bus.
func New(log *slog.Logger, opts ...Option) *Bus {
	if log == nil {
		log = slog.Default()
	}
	b := &Bus{
		backlogs:  make(map[string][]event.Event),
		subs:      make(map[string]map[*Subscription]struct{}),
		callbacks: make(map[string][]string),
		client:    &http.Client{Timeout: callbackTimeout},
		log:       log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends ev to the run's backlog, delivers it to every live
// subscriber in order, and forwards it best-effort to the store, sinks, and
// registered callback URLs. Publish never fails: every delivery error is
// swallowed so a dying observer cannot abort a running stage.
func (b *Bus) Publish(ctx context.Context, deploymentID string, ev event.Event) {
	b.mu.Lock()
	// Append and evict as one atomic step to preserve the ordering invariant.
	backlog := append(b.backlogs[deploymentID], ev)
	if len(backlog) > BacklogCap {
		backlog = backlog[len(backlog)-BacklogCap:]
	}
	b.backlogs[deploymentID] = backlog

	var dead []*Subscription
	for sub := range b.subs[deploymentID] {
		select {
		case sub.C <- ev:
		default:
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		b.removeLocked(deploymentID, sub)
	}
	callbacks := append([]string(nil), b.callbacks[deploymentID]...)
	b.mu.Unlock()

	if len(dead) > 0 {
		b.log.Debug("dropped slow subscribers", "deployment_id", deploymentID, "count", len(dead))
	}

	if b.store != nil {
		if err := b.store.Append(ctx, deploymentID, ev); err != nil {
			b.log.Warn("event store append failed", "deployment_id", deploymentID, "error", err)
		}
	}

	for _, sink := range b.sinks {
		if err := sink.Forward(ctx, deploymentID, ev); err != nil {
			b.log.Debug("event sink forward failed", "deployment_id", deploymentID, "error", err)
		}
	}

	for _, url := range callbacks {
		go b.postCallback(url, deploymentID, ev)
	}
}

// Subscribe registers a live subscriber for the run. The subscriber receives
// every event published after registration, in order, until Unsubscribe.
func (b *Bus) Subscribe(deploymentID string) *Subscription {
	sub := &Subscription{C: make(chan event.Event, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.subs[deploymentID]
	if !ok {
		room = make(map[*Subscription]struct{})
		b.subs[deploymentID] = room
	}
	room[sub] = struct{}{}
	return sub
}

// SubscribeWithBacklog atomically snapshots the run's backlog and registers
// a live subscriber, so a consumer that replays the snapshot before draining
// the channel sees every event exactly once, in order.
func (b *Bus) SubscribeWithBacklog(deploymentID string) ([]event.Event, *Subscription) {
	sub := &Subscription{C: make(chan event.Event, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	backlog := append([]event.Event(nil), b.backlogs[deploymentID]...)
	room, ok := b.subs[deploymentID]
	if !ok {
		room = make(map[*Subscription]struct{})
		b.subs[deploymentID] = room
	}
	room[sub] = struct{}{}
	return backlog, sub
}

// Unsubscribe removes a subscriber. Idempotent; once a run has no
// subscribers its registration entry is discarded (the backlog survives).
func (b *Bus) Unsubscribe(deploymentID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(deploymentID, sub)
}

// removeLocked must be called with b.mu held.
func (b *Bus) removeLocked(deploymentID string, sub *Subscription) {
	room, ok := b.subs[deploymentID]
	if !ok {
		return
	}
	if _, member := room[sub]; !member {
		return
	}
	delete(room, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.C)
	}
	if len(room) == 0 {
		delete(b.subs, deploymentID)
	}
}

// Events returns a snapshot of the run's backlog in publish order.
func (b *Bus) Events(deploymentID string) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event.Event(nil), b.backlogs[deploymentID]...)
}

// RegisterCallback adds a webhook target for the run. Delivery is
// fire-and-forget: one POST attempt per event, no retry.
func (b *Bus) RegisterCallback(deploymentID, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[deploymentID] = append(b.callbacks[deploymentID], url)
}

// Forget discards a run's backlog and callback registrations. Live
// subscribers are left untouched; they drain on their own disconnect.
func (b *Bus) Forget(deploymentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.backlogs, deploymentID)
	delete(b.callbacks, deploymentID)
}

func (b *Bus) postCallback(url, deploymentID string, ev event.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		b.log.Debug("callback marshal failed", "deployment_id", deploymentID, "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		b.log.Debug("callback request failed", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Debug("callback delivery failed", "url", url, "error", err)
		return
	}
	_ = resp.Body.Close()
}
