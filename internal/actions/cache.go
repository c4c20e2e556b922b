// Package actions answers inbound channel events with the canned responses
// configured as action rules.
package actions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"castbox/internal/domain"
)

type RuleLoader interface {
	ListActiveActions(ctx context.Context, trigger domain.Trigger) ([]domain.ScheduledAction, error)
}

type cacheEntry struct {
	rules    []domain.ScheduledAction
	loadedAt time.Time
}

// RuleCache keeps the active rules per trigger for a fixed TTL. A failed
// load is returned to the caller and not cached.
type RuleCache struct {
	loader RuleLoader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[domain.Trigger]cacheEntry
	gen     uint64
}

func NewRuleCache(loader RuleLoader, ttl time.Duration, now func() time.Time) *RuleCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &RuleCache{loader: loader, ttl: ttl, now: now, entries: map[domain.Trigger]cacheEntry{}}
}

func (c *RuleCache) RulesFor(ctx context.Context, trigger domain.Trigger) ([]domain.ScheduledAction, error) {
	c.mu.Lock()
	e, ok := c.entries[trigger]
	gen := c.gen
	c.mu.Unlock()
	if ok && c.now().Sub(e.loadedAt) < c.ttl {
		return e.rules, nil
	}

	rules, err := c.loader.ListActiveActions(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("load %s rules: %w", trigger, err)
	}

	c.mu.Lock()
	// an Invalidate during the load means these rows may already be stale
	if c.gen == gen {
		c.entries[trigger] = cacheEntry{rules: rules, loadedAt: c.now()}
	}
	c.mu.Unlock()
	return rules, nil
}

// Invalidate drops every cached trigger. Rule writes call it.
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = map[domain.Trigger]cacheEntry{}
}
