// Package stream multiplexes trimmed event notifications to live
// subscribers, one subscriber set per deal. The broadcaster is an explicit,
// constructed registry with defined teardown - no package-level state. It
// guarantees no buffering or replay: a subscriber that connects mid-run sees
// only events from connection time forward; history lives in the event
// store.
package stream

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"dealdesk/internal/types"
)

// StreamEvent is the public, trimmed view of an event pushed to subscribers.
type StreamEvent struct {
	TS      time.Time       `json:"ts"`
	DealID  string          `json:"deal_id"`
	RunID   string          `json:"run_id,omitempty"`
	Type    types.EventType `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Sink receives stream events. A Send error marks the sink dead; the
// broadcaster drops it so slow or closed subscribers never block a run.
type Sink interface {
	Send(ev StreamEvent) error
}

// Broadcaster holds the per-deal subscriber registries.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[int]Sink
	nextID int
	log    *zap.Logger
}

// NewBroadcaster constructs an empty registry.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs: make(map[string]map[int]Sink),
		log:  logger,
	}
}

// Subscribe registers a sink for a deal and returns its unsubscribe
// function. Unsubscribing is idempotent; callers must invoke it on
// disconnect so the registry never grows unbounded.
func (b *Broadcaster) Subscribe(dealID string, sink Sink) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subs[dealID] == nil {
		b.subs[dealID] = make(map[int]Sink)
	}
	b.subs[dealID][id] = sink

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(dealID, id)
	}
}

// remove must be called with the lock held.
func (b *Broadcaster) remove(dealID string, id int) {
	sinks, ok := b.subs[dealID]
	if !ok {
		return
	}
	delete(sinks, id)
	if len(sinks) == 0 {
		delete(b.subs, dealID)
	}
}

// Broadcast pushes the event's trimmed public payload to every current
// subscriber of the deal. Sinks that fail to accept the event are dropped.
func (b *Broadcaster) Broadcast(dealID string, ev types.Event) {
	out := StreamEvent{
		TS:      ev.TS,
		DealID:  ev.DealID,
		RunID:   ev.RunID,
		Type:    ev.Type,
		Payload: ev.PublicPayload(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sink := range b.subs[dealID] {
		if err := sink.Send(out); err != nil {
			b.log.Debug("dropping dead subscriber",
				zap.String("deal_id", dealID),
				zap.Int("subscriber", id),
				zap.Error(err))
			b.remove(dealID, id)
		}
	}
}

// SubscriberCount reports the live subscriber count for a deal.
func (b *Broadcaster) SubscriberCount(dealID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[dealID])
}
