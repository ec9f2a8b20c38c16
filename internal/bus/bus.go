// Package bus implements the Event Bus (C1): typed, bounded, non-blocking
// broadcast of PipelineEvent (process-wide) and StateChangeEvent
// (per-workspace). It generalizes the teacher's notify.Service — which
// dispatches one notification to many MCP tools/channels concurrently,
// collecting per-recipient results — into a subscribe/publish broadcast:
// publishers never block on a slow subscriber, and a subscriber that falls
// behind is told so (Lagged) rather than stalling the publisher.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/mockforge/core/pkg/models"
)

// DefaultCapacity is used when the caller (or MOCKFORGE_BROADCAST_CAPACITY)
// does not specify one.
const DefaultCapacity = 1000

// PipelineBus is the process-wide singleton broadcaster of PipelineEvent.
// A lazily-initialized instance is returned by Global(); tests may
// construct their own with NewPipelineBus for isolation.
type PipelineBus struct {
	mu       sync.Mutex
	capacity int
	subs     map[*pipelineSub]struct{}
	closed   bool
}

type pipelineSub struct {
	ch chan models.PipelineEvent
}

// NewPipelineBus creates a bus with the given bounded per-subscriber
// channel capacity.
func NewPipelineBus(capacity int) *PipelineBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &PipelineBus{capacity: capacity, subs: make(map[*pipelineSub]struct{})}
}

var (
	globalOnce sync.Once
	globalBus  *PipelineBus
)

// Global returns the process-wide pipeline event bus, created on first use
// with DefaultCapacity (override via NewPipelineBus + dependency injection
// where a non-default capacity is required).
func Global() *PipelineBus {
	globalOnce.Do(func() {
		globalBus = NewPipelineBus(DefaultCapacity)
	})
	return globalBus
}

// Publish delivers event to every current subscriber. Slow subscribers do
// not block the publisher: if a subscriber's channel is full, the event is
// dropped for that subscriber and a warning is logged — the subscriber
// itself is not told (the spec reserves Lagged signaling for the
// state-change bus, where resubscribing via restore_state is cheap;
// pipeline events are best-effort automation triggers).
func (b *PipelineBus) Publish(event models.PipelineEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errChannelClosed
	}
	for s := range b.subs {
		select {
		case s.ch <- event:
		default:
			log.Warn().Str("event_type", string(event.Type)).Msg("pipeline bus: dropping event for slow subscriber")
		}
	}
	return nil
}

// Subscribe returns a channel delivering every event published after this
// call. The caller must drain it (or call Unsubscribe) to avoid leaking
// the slot.
func (b *PipelineBus) Subscribe() (<-chan models.PipelineEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &pipelineSub{ch: make(chan models.PipelineEvent, b.capacity)}
	b.subs[s] = struct{}{}
	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
	}
	return s.ch, unsubscribe
}

// Close shuts down the bus; further Publish calls return errChannelClosed.
func (b *PipelineBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}

type busError string

func (e busError) Error() string { return string(e) }

const errChannelClosed = busError("event bus closed")

// ── Per-workspace StateChangeEvent bus ──────────────────────

// StateBus delivers StateChangeEvent to subscribers of one workspace (or,
// when opened with an empty workspace filter, of all workspaces). Owned
// per-workspace by the Consistency Engine (C11).
type StateBus struct {
	mu       sync.Mutex
	capacity int
	subs     map[*stateSub]struct{}
	nextID   atomic.Uint64
}

type stateSub struct {
	id      uint64
	ch      chan stateEnvelope
	dropped atomic.Uint64
}

type stateEnvelope struct {
	event   models.StateChangeEvent
	lagged  *uint64
}

// NewStateBus creates a state-change bus with the given bounded capacity.
func NewStateBus(capacity int) *StateBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &StateBus{capacity: capacity, subs: make(map[*stateSub]struct{})}
}

// Publish delivers event to all subscribers, in the order Publish is
// called (per spec §5, per-subscriber FIFO == mutation order). A full
// subscriber channel increments that subscriber's drop counter instead of
// blocking; the next successful delivery to it carries the drop count in
// its Lagged field.
func (b *StateBus) Publish(event models.StateChangeEvent) {
	b.mu.Lock()
	subs := make([]*stateSub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		var lagged *uint64
		n := s.dropped.Swap(0)
		if n > 0 {
			lagged = &n
		}
		select {
		case s.ch <- stateEnvelope{event: event, lagged: lagged}:
		default:
			s.dropped.Add(n + 1) // restore the unreported count, plus this drop
		}
	}
}

// Subscribe returns a new ordered event stream starting at the next
// published event.
func (b *StateBus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &stateSub{id: b.nextID.Add(1), ch: make(chan stateEnvelope, b.capacity)}
	b.subs[s] = struct{}{}
	return &Subscription{bus: b, sub: s}
}

// Subscription implements contracts.EventStream for one StateBus consumer.
type Subscription struct {
	bus *StateBus
	sub *stateSub
}

// Next blocks until an event arrives or ctx is done.
func (s *Subscription) Next(ctx context.Context) (models.StateChangeEvent, *uint64, bool) {
	select {
	case env, ok := <-s.sub.ch:
		if !ok {
			return models.StateChangeEvent{}, nil, false
		}
		return env.event, env.lagged, true
	case <-ctx.Done():
		return models.StateChangeEvent{}, nil, false
	}
}

// Close removes the subscription from its bus.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.sub]; ok {
		delete(s.bus.subs, s.sub)
		close(s.sub.ch)
	}
}
