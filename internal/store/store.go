// Package store defines persistence for scheduled messages, delivery
// attempts and action rules. Implementations live in store/pg and
// store/sqlite.
package store

import (
	"context"
	"time"

	"castbox/internal/domain"
)

// ScheduleStatusUpdate moves a schedule from From to To. It only applies
// while the row is still in From, which is what keeps transitions monotonic.
type ScheduleStatusUpdate struct {
	ID        string
	From      domain.Status
	To        domain.Status
	LastError string
	Now       time.Time
}

// ScheduleFilter narrows ListSchedules. Empty fields match everything.
type ScheduleFilter struct {
	OwnerID string
	Status  domain.Status
	Limit   int
}

type Schedules interface {
	CreateSchedule(ctx context.Context, m domain.ScheduledMessage) error
	GetSchedule(ctx context.Context, id string) (domain.ScheduledMessage, error)
	ListPendingSchedules(ctx context.Context) ([]domain.ScheduledMessage, error)
	ListSchedules(ctx context.Context, f ScheduleFilter) ([]domain.ScheduledMessage, error)
	UpdateScheduleStatus(ctx context.Context, in ScheduleStatusUpdate) (bool, error)
	SetScheduleJob(ctx context.Context, id, jobID string) error
	DeleteSchedule(ctx context.Context, id string) error
	InsertAttempt(ctx context.Context, a domain.DeliveryAttempt) error
	ListAttempts(ctx context.Context, scheduleID string) ([]domain.DeliveryAttempt, error)
}

type Actions interface {
	CreateAction(ctx context.Context, a domain.ScheduledAction) error
	GetAction(ctx context.Context, id string) (domain.ScheduledAction, error)
	ListActiveActions(ctx context.Context, trigger domain.Trigger) ([]domain.ScheduledAction, error)
	ListActions(ctx context.Context, ownerID string) ([]domain.ScheduledAction, error)
	SetActionActive(ctx context.Context, id string, active bool) (bool, error)
	RecordActionExecution(ctx context.Context, e domain.ActionExecution) error
	DeleteAction(ctx context.Context, id string) (bool, error)
}

type Store interface {
	Schedules
	Actions
	Ping(ctx context.Context) error
	Close()
}

// DefaultListLimit caps list queries without an explicit limit.
const DefaultListLimit = 500

func (f ScheduleFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > DefaultListLimit {
		return DefaultListLimit
	}
	return f.Limit
}
