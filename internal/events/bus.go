// Package events carries inbound channel events to in-process subscribers.
package events

import (
	"sync"
	"time"

	"castbox/internal/domain"
	"castbox/internal/observability"
)

// Event is an inbound occurrence on a channel. It is also the SQS envelope
// used between the webhook and the API process.
type Event struct {
	Channel     domain.Channel `json:"channel"`
	Trigger     domain.Trigger `json:"trigger"`
	ChatID      string         `json:"chatId"`
	Sender      string         `json:"sender,omitempty"`
	Participant string         `json:"participant,omitempty"`
	Body        string         `json:"body,omitempty"`
	MessageID   string         `json:"messageId,omitempty"`
	IsGroup     bool           `json:"isGroup"`
	FromMe      bool           `json:"fromMe"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: map[*Subscription]struct{}{}}
}

type Subscription struct {
	bus  *Bus
	ch   chan Event
	once sync.Once
}

// C is closed after Unsubscribe or Bus.Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Unsubscribe detaches the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.bus.subs, s)
		close(s.ch)
	})
}

// Subscribe registers a subscriber with the given buffer size. Subscribing
// to a closed bus returns an already closed subscription.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	s := &Subscription{bus: b, ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closeLocked()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish offers e to every subscriber and returns how many accepted it.
func (b *Bus) Publish(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for s := range b.subs {
		select {
		case s.ch <- e:
			n++
		default:
			observability.EventsDropped.Inc()
		}
	}
	return n
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		s.closeLocked()
	}
}
