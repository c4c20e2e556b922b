package scheduler

import (
	"context"
	"fmt"

	"castbox/internal/domain"
	"castbox/internal/observability"
	"castbox/internal/store"
)

type RestartReport struct {
	Rescheduled int `json:"rescheduled"`
	FiredLate   int `json:"firedLate"`
	Expired     int `json:"expired"`
}

// RestartPending re-arms every pending row after a process start. Future
// rows get their timer back, rows late by at most MissedFireGrace fire now,
// older rows become error with MissedWhileOffline. A recurring expired row
// still chains its next occurrence.
func (s *Service) RestartPending(ctx context.Context) (RestartReport, error) {
	var rep RestartReport
	pending, err := s.store.ListPendingSchedules(ctx)
	if err != nil {
		return rep, fmt.Errorf("restart: list pending: %w", err)
	}

	now := s.now()
	for _, m := range pending {
		switch {
		case m.ScheduledTime.After(now):
			if m.JobID != m.ID {
				if err := s.store.SetScheduleJob(ctx, m.ID, m.ID); err != nil {
					s.log.Warn("restart job id write failed", "schedule_id", m.ID, "err", err)
				}
			}
			s.arm(m)
			rep.Rescheduled++
			observability.RestartRecovery.WithLabelValues("rescheduled").Inc()

		case now.Sub(m.ScheduledTime) <= s.grace:
			s.arm(m)
			rep.FiredLate++
			observability.RestartRecovery.WithLabelValues("fired_late").Inc()

		default:
			ok, err := s.store.UpdateScheduleStatus(ctx, store.ScheduleStatusUpdate{
				ID: m.ID, From: domain.StatusPending, To: domain.StatusError, LastError: MissedWhileOffline, Now: now,
			})
			if err != nil {
				s.log.Error("restart expire failed", "schedule_id", m.ID, "err", err)
				continue
			}
			if !ok {
				continue
			}
			rep.Expired++
			observability.RestartRecovery.WithLabelValues("expired").Inc()
			observability.Firings.WithLabelValues(string(domain.StatusError)).Inc()
			if m.Repeat != domain.RepeatNone && m.Repeat != "" {
				s.scheduleNext(ctx, m)
			}
		}
	}

	s.log.Info("pending schedules restored",
		"rescheduled", rep.Rescheduled,
		"fired_late", rep.FiredLate,
		"expired", rep.Expired,
	)
	return rep, nil
}
