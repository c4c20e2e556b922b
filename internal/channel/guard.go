package channel

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"castbox/internal/domain"
	"castbox/internal/observability"
)

type GuardOptions struct {
	Limiter     *rate.Limiter
	Breaker     *gobreaker.CircuitBreaker
	Timeout     time.Duration // per provider call
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// Guarded wraps a provider sender with a local rate limit, a circuit breaker,
// a per call timeout and retries on transient errors.
type Guarded struct {
	ch   domain.Channel
	next Sender
	opts GuardOptions
}

func Guard(ch domain.Channel, next Sender, opts GuardOptions) *Guarded {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = Backoff
	}
	return &Guarded{ch: ch, next: next, opts: opts}
}

// NewBreaker returns the breaker settings used for every channel.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		// a rejected target says nothing about provider health
		IsSuccessful: func(err error) bool { return err == nil || !IsTransient(err) },
	})
}

// Validate delegates to the wrapped sender when it is a Validator.
func (g *Guarded) Validate(msg Message, to domain.Recipients) error {
	if v, ok := g.next.(Validator); ok {
		return v.Validate(msg, to)
	}
	return nil
}

func (g *Guarded) Send(ctx context.Context, target string, msg Message) (Receipt, error) {
	start := time.Now()
	defer func() {
		observability.ChannelLatency.WithLabelValues(string(g.ch)).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt < g.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, g.opts.Backoff(attempt-1)); err != nil {
				return Receipt{}, Transient(g.ch, target, err)
			}
		}

		// queueing for a token is bounded by the caller, not the call timeout
		if g.opts.Limiter != nil {
			if err := g.opts.Limiter.Wait(ctx); err != nil {
				observability.ChannelSend.WithLabelValues(string(g.ch), "rate_limited_local").Inc()
				lastErr = Transient(g.ch, target, err)
				continue
			}
		}

		rcpt, err := g.execute(ctx, target, msg)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// provider protection: fail fast without burning retries
			observability.ChannelSend.WithLabelValues(string(g.ch), "cb_open").Inc()
			return Receipt{}, Transient(g.ch, target, err)
		}
		if err == nil {
			observability.ChannelSend.WithLabelValues(string(g.ch), "ok").Inc()
			return rcpt, nil
		}

		observability.ChannelSend.WithLabelValues(string(g.ch), "error").Inc()
		lastErr = err
		if !IsTransient(err) {
			return Receipt{}, asChannelError(g.ch, target, err)
		}
	}
	return Receipt{}, asChannelError(g.ch, target, lastErr)
}

func (g *Guarded) execute(ctx context.Context, target string, msg Message) (Receipt, error) {
	call := func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
		return g.next.Send(callCtx, target, msg)
	}
	if g.opts.Breaker == nil {
		res, err := call()
		return res.(Receipt), err
	}
	res, err := g.opts.Breaker.Execute(call)
	if err != nil {
		return Receipt{}, err
	}
	return res.(Receipt), nil
}

func asChannelError(ch domain.Channel, target string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Channel: ch, Target: target, Err: err, Transient: IsTransient(err)}
}

// Backoff is 200ms, 600ms, then 1400ms for every later attempt.
func Backoff(attempt int) time.Duration {
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
