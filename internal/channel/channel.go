// Package channel defines the outbound send capability shared by every
// messaging provider, plus the guard that wraps a provider with rate
// limiting, a circuit breaker and retries.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"castbox/internal/domain"
)

// ErrUnsupported marks a message shape a provider cannot deliver.
var ErrUnsupported = errors.New("unsupported by channel")

type Message struct {
	Text    string
	Subject string
	Media   *domain.MediaRef
}

type Receipt struct {
	ProviderMsgID string
}

// Sender delivers one message to one target.
type Sender interface {
	Send(ctx context.Context, target string, msg Message) (Receipt, error)
}

// Validator is implemented by senders that know up front which message
// shapes and targets they can never deliver.
type Validator interface {
	Validate(msg Message, to domain.Recipients) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, target string, msg Message) (Receipt, error)

func (f SenderFunc) Send(ctx context.Context, target string, msg Message) (Receipt, error) {
	return f(ctx, target, msg)
}

// Error is a per-recipient send failure.
type Error struct {
	Channel    domain.Channel
	Target     string
	Err        error
	Transient  bool
	HTTPStatus int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s send to %s: %v", e.Channel, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Permanent(ch domain.Channel, target string, err error) *Error {
	return &Error{Channel: ch, Target: target, Err: err}
}

func Transient(ch domain.Channel, target string, err error) *Error {
	return &Error{Channel: ch, Target: target, Err: err, Transient: true}
}

// IsTransient reports whether retrying err may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// TransientStatus is the retry decision for an HTTP status from a provider.
func TransientStatus(status int) bool {
	return status == 429 || status == 408 || (status >= 500 && status <= 599)
}

// Registry resolves a channel to its sender.
type Registry struct {
	mu      sync.RWMutex
	senders map[domain.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: map[domain.Channel]Sender{}}
}

func (r *Registry) Register(ch domain.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[ch] = s
}

func (r *Registry) Get(ch domain.Channel) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[ch]
	return s, ok
}

// Channels lists registered channels in name order.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
