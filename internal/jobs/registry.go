// Package jobs keeps the process-local table of live one-shot timers.
package jobs

import (
	"sync"
	"time"
)

// Timer is the cancellable handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d on its own goroutine.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type entry struct {
	timer  Timer
	gen    uint64
	fireAt time.Time
}

// Registry maps a job id to at most one live timer. An entry leaves the
// registry right before its callback runs, when it is cancelled, or when it
// is replaced by a new Register for the same id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64

	after AfterFunc
	now   func() time.Time
}

type Option func(*Registry)

// WithAfterFunc swaps the timer implementation (tests use a manual clock).
func WithAfterFunc(f AfterFunc) Option {
	return func(r *Registry) { r.after = f }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: map[string]*entry{},
		after:   stdAfterFunc,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register arms fn to run at fireAt. A live timer for the same id is stopped
// first, and a stale callback from it is ignored even if it already fired.
func (r *Registry) Register(id string, fireAt time.Time, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[id]; ok {
		_ = old.timer.Stop()
		delete(r.entries, id)
	}

	r.gen++
	gen := r.gen
	delay := fireAt.Sub(r.now())
	if delay < 0 {
		delay = 0
	}

	e := &entry{gen: gen, fireAt: fireAt}
	e.timer = r.after(delay, func() {
		if !r.claim(id, gen) {
			return
		}
		fn()
	})
	r.entries[id] = e
}

// claim removes the entry if it still belongs to generation gen.
func (r *Registry) claim(id string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok || cur.gen != gen {
		return false
	}
	delete(r.entries, id)
	return true
}

// Cancel stops and removes the timer for id. It reports whether a live timer
// was found; cancelling an unknown or already fired id is a no-op.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	_ = e.timer.Stop()
	delete(r.entries, id)
	return true
}

func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// FireAt returns when the live timer for id is due.
func (r *Registry) FireAt(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.fireAt, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CancelAll stops every live timer and returns how many were stopped.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for id, e := range r.entries {
		_ = e.timer.Stop()
		delete(r.entries, id)
	}
	return n
}
