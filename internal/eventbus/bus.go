// Package eventbus implements spec.md §4.11's in-process event fan-out: a
// single broadcast channel of capacity 128 that publishes
// (event, sender_timestamp_us, source_endpoint) tuples to every subscriber.
// Slow subscribers drop the oldest frames rather than block the publisher;
// a Lagged(n) signal is surfaced instead of terminating the subscription.
// Modeled on the teacher's session broadcast hooks in
// internal/session/session.go, generalized from a single optional callback
// to a multi-subscriber fan-out.
package eventbus

import (
	"sync"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

const capacity = 128

// Message is one published event, carrying the same fields as protocol.Event
// plus the endpoint it arrived from.
type Message struct {
	Event  protocol.Event
	Source string
}

// Lagged is delivered on a subscriber's LaggedSignal channel when a
// message is dropped for it, reporting the total number of messages it has
// missed since it subscribed.
type Lagged struct {
	Count uint64
}

// Bus is a capacity-128 broadcast channel. Safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[*Subscriber]struct{})}
}

// Subscriber receives published messages. Created via Bus.Subscribe.
type Subscriber struct {
	bus     *Bus
	ch      chan Message
	lagged  chan Lagged
	dropped uint64
	mu      sync.Mutex
}

// Subscribe registers a new Subscriber. The caller must call Unsubscribe
// when done to avoid leaking the registration.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{
		ch:     make(chan Message, capacity),
		lagged: make(chan Lagged, 1),
		bus:    b,
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s from the bus. Subsequent publishes are not
// delivered to it.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
}

// Publish fans event out to every current subscriber. A subscriber whose
// channel is full has its oldest buffered message dropped to make room,
// and is notified via its Lagged channel; Publish itself never blocks.
func (b *Bus) Publish(event protocol.Event, source string) {
	msg := Message{Event: event, Source: source}

	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(msg)
	}
}

func (s *Subscriber) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- msg:
		return
	default:
	}

	// Channel full: drop the oldest buffered message to make room, report lag.
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- msg:
	default:
	}

	select {
	case s.lagged <- Lagged{Count: s.dropped}:
	default:
	}
}

// Recv returns the channel of delivered messages.
func (s *Subscriber) Recv() <-chan Message { return s.ch }

// LaggedSignal returns the channel on which Lagged notifications arrive.
func (s *Subscriber) LaggedSignal() <-chan Lagged { return s.lagged }
