package actions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DailyGate lets the first qualifying message per contact through once per
// local calendar day. Day keys are compared on every check, so correctness
// does not depend on the midnight purge; the purge only bounds memory.
type DailyGate struct {
	loc *time.Location

	mu   sync.Mutex
	seen map[string]string
}

func NewDailyGate(loc *time.Location) *DailyGate {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyGate{loc: loc, seen: map[string]string{}}
}

func (g *DailyGate) dayKey(at time.Time) string { return at.In(g.loc).Format("2006-01-02") }

// Acquire marks contact as greeted for the day of at. It reports false when
// the contact was already greeted that day.
func (g *DailyGate) Acquire(contact string, at time.Time) bool {
	day := g.dayKey(at)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[contact] == day {
		return false
	}
	g.seen[contact] = day
	return true
}

// Release undoes an Acquire for the same day, letting a later message retry.
func (g *DailyGate) Release(contact string, at time.Time) {
	day := g.dayKey(at)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[contact] == day {
		delete(g.seen, contact)
	}
}

// Purge drops marks from days before now and returns how many it dropped.
func (g *DailyGate) Purge(now time.Time) int {
	today := g.dayKey(now)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for k, day := range g.seen {
		if day != today {
			delete(g.seen, k)
			n++
		}
	}
	return n
}

func (g *DailyGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// StartPurge runs Purge at local midnight. Stop the returned cron on shutdown.
func (g *DailyGate) StartPurge(log *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(g.loc))
	_, err := c.AddFunc("0 0 * * *", func() {
		n := g.Purge(time.Now())
		log.Debug("daily gate purged", "dropped", n)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
