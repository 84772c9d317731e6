// Package bus provides the best-effort broadcast fan-out that couples the
// agent loop to its observers.
//
// Publishing never blocks and never fails from the caller's perspective: with
// no subscribers the event is dropped, and a subscriber that has fallen behind
// by more than the bus capacity observes a lagged indication on its next
// receive and then resumes from the current tail. Observers must never slow
// down the loop; losing the tail of an event stream for a disconnected client
// is acceptable, silently stalling the agent is not.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wovenbot/loom/pkg/models"
)

// DefaultCapacity is the per-subscriber buffer size used when New is given a
// non-positive capacity.
const DefaultCapacity = 256

// ErrLagged is returned once by Subscription.Recv after the subscriber missed
// events; subsequent receives resume from the current tail.
var ErrLagged = errors.New("bus: subscriber lagged, events dropped")

// ErrClosed is returned by Recv after the subscription is closed and its
// buffer drained.
var ErrClosed = errors.New("bus: subscription closed")

// Bus is a multi-producer, multi-consumer broadcast of AgentEvents. Ordering
// is total across all subscribers and matches publication order on a single
// bus instance.
type Bus struct {
	capacity int

	mu          sync.RWMutex
	subs        map[uint64]*Subscription
	nextID      uint64
	dropCounter DropCounter

	dropped atomic.Int64
}

// DropCounter observes each event dropped for a lagged subscriber. Prometheus
// counters satisfy it.
type DropCounter interface {
	Inc()
}

// New creates a bus with the given per-subscriber capacity. Non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[uint64]*Subscription),
	}
}

// Publish broadcasts an event to all current subscribers. It never blocks:
// when a subscriber's buffer is full the oldest retained event is evicted to
// make room, so a lagged subscriber loses the stale head of its backlog and
// keeps the newest events.
func (b *Bus) Publish(ev models.AgentEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		select {
		case <-sub.ch:
			b.countDrop(sub)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			// A concurrent publisher refilled the buffer between the
			// eviction and this send.
			b.countDrop(sub)
		}
	}
}

func (b *Bus) countDrop(sub *Subscription) {
	sub.lagged.Add(1)
	b.dropped.Add(1)
	if b.dropCounter != nil {
		b.dropCounter.Inc()
	}
}

// Subscribe returns a subscription that observes only events published after
// this call.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:  b.nextID,
		bus: b,
		ch:  make(chan models.AgentEvent, b.capacity),
	}
	b.subs[sub.id] = sub
	return sub
}

// Dropped reports the total number of events dropped across all subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// SetDropCounter installs a counter that is incremented once per dropped
// event, e.g. a Prometheus counter.
func (b *Bus) SetDropCounter(c DropCounter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropCounter = c
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		// Publish holds the read lock across its sends, so once we hold
		// the write lock no send can race this close.
		close(sub.ch)
	}
}

// Subscription is one receiver on the bus.
type Subscription struct {
	id     uint64
	bus    *Bus
	ch     chan models.AgentEvent
	lagged atomic.Int64
}

// Recv returns the next event. If events were dropped since the previous
// receive it returns ErrLagged exactly once for that gap; the next call skips
// ahead to the newest retained events.
func (s *Subscription) Recv(ctx context.Context) (models.AgentEvent, error) {
	if n := s.lagged.Swap(0); n > 0 {
		return models.AgentEvent{}, ErrLagged
	}
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return models.AgentEvent{}, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return models.AgentEvent{}, ctx.Err()
	}
}

// Events exposes the raw receive channel for callers that integrate the
// subscription into their own select loops. Lag indications are not surfaced
// on this path; use Lagged to poll for them.
func (s *Subscription) Events() <-chan models.AgentEvent {
	return s.ch
}

// Lagged reports and clears the count of events dropped for this subscriber.
func (s *Subscription) Lagged() int64 {
	return s.lagged.Swap(0)
}

// Close detaches the subscription from the bus. Buffered events may still be
// drained via Events; Recv returns ErrClosed once the buffer is empty.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}
