// Package worker holds the queue side handlers of the API process.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"castbox/internal/events"
)

type Publisher interface {
	Publish(e events.Event) int
}

// Inbound handles events consumed from the inbound queue. SQS delivers at
// least once, so a provider message id seen within TTL is skipped.
type Inbound struct {
	Bus Publisher
	Log *slog.Logger
	Now func() time.Time
	TTL time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// ErrNotDelivered means no listener took the event. The queue message is
// left in place so it is redelivered.
var ErrNotDelivered = errors.New("inbound event not delivered to any listener")

func (p *Inbound) Process(ctx context.Context, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		// leave the message on the queue for the next consumer
		return err
	}
	key, now := p.key(ev), p.now()
	if p.seenWithin(key, now) {
		p.log().Debug("inbound duplicate skipped", "channel", ev.Channel, "message_id", ev.MessageID)
		return nil
	}
	n := p.Bus.Publish(ev)
	if n == 0 {
		p.log().Warn("inbound event not delivered",
			"channel", ev.Channel,
			"trigger", ev.Trigger,
			"message_id", ev.MessageID,
		)
		return ErrNotDelivered
	}
	p.mark(key, now)
	p.log().Debug("inbound event published",
		"channel", ev.Channel,
		"trigger", ev.Trigger,
		"chat_id", ev.ChatID,
		"subscribers", n,
	)
	return nil
}

func (p *Inbound) key(ev events.Event) string {
	if ev.MessageID == "" {
		return ""
	}
	return string(ev.Channel) + ":" + ev.MessageID
}

func (p *Inbound) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// seenWithin reports whether key was delivered within TTL, pruning expired
// ids as it goes. Events without a provider id are never deduplicated.
func (p *Inbound) seenWithin(key string, now time.Time) bool {
	if key == "" {
		return false
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for k, at := range p.seen {
		if now.Sub(at) >= ttl {
			delete(p.seen, k)
		}
	}
	_, ok := p.seen[key]
	return ok
}

func (p *Inbound) mark(key string, now time.Time) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = map[string]time.Time{}
	}
	p.seen[key] = now
}

func (p *Inbound) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
