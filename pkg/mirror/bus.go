// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Bus broadcasts events to every registered subscriber. Each subscriber
// owns an independent unbounded FIFO queue, so a slow consumer never
// blocks the producer or its siblings. Subscribe and Cancel are safe to
// call concurrently with Publish.
type Bus struct {
	log    zerolog.Logger
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:  log.With().Str("component", "bus").Logger(),
		subs: make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new observer and returns its subscription token.
// A subscription created after Close is already completed.
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		bus:    b,
		id:     b.nextID,
		name:   name,
		notify: make(chan struct{}, 1),
		closed: b.closed,
	}
	if !b.closed {
		b.subs[sub.id] = sub
	}
	b.log.Debug().Str("subscriber", name).Msg("Subscribed")
	return sub
}

// Publish enqueues the event on every live subscription.
func (b *Bus) Publish(evt *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.log.Warn().Stringer("type", evt.Type).Msg("Dropping event published after close")
		return
	}
	for _, sub := range b.subs {
		sub.push(evt)
	}
	EventsPublished.WithLabelValues(evt.Type.String()).Inc()
}

// Close completes every subscription. Queued events are still delivered;
// Next reports completion once each queue drains.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.complete()
		delete(b.subs, id)
	}
	b.log.Debug().Msg("Bus closed")
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription is one observer's queue and cursor on the bus.
type Subscription struct {
	bus  *Bus
	id   uint64
	name string

	mu     sync.Mutex
	queue  []*Event
	notify chan struct{}
	closed bool
}

// Name returns the subscriber name given at Subscribe time.
func (s *Subscription) Name() string { return s.name }

func (s *Subscription) push(evt *Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) complete() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the subscription completes, or
// ctx is canceled. It returns ok=false when no further events will
// arrive.
func (s *Subscription) Next(ctx context.Context) (evt *Event, ok bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			evt = s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return evt, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-s.notify:
		}
	}
}

// Pending returns the number of queued, undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Cancel removes the subscription from the bus and completes it.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s.id)
	s.complete()
}
