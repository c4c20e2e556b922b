package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"castbox/internal/channel"
	"castbox/internal/domain"
	"castbox/internal/observability"
	"castbox/internal/recurrence"
	"castbox/internal/store"
)

const maxLastError = 1000

type outcome struct {
	target  string
	receipt channel.Receipt
	err     error
	at      time.Time
}

// fire is the timer callback. The registry entry is already gone when it
// runs. It only acts on rows that are still pending.
func (s *Service) fire(id string) {
	if !s.begin() {
		return
	}
	defer s.inflight.Done()
	defer observability.LiveJobs.Set(float64(s.jobs.Len()))

	ctx := s.ctx
	start := time.Now()

	m, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		s.log.Error("firing load failed", "schedule_id", id, "err", err)
		return
	}
	if m.Status != domain.StatusPending {
		s.log.Debug("firing skipped", "schedule_id", id, "status", m.Status)
		return
	}

	results := s.dispatch(ctx, m)
	s.recordAttempts(ctx, m, results)

	failed, summary := summarize(results)
	to := domain.StatusSent
	if failed > 0 {
		to = domain.StatusError
	}

	ok, err := s.writeStatus(ctx, store.ScheduleStatusUpdate{
		ID: m.ID, From: domain.StatusPending, To: to, LastError: summary, Now: s.now(),
	})
	if err != nil {
		observability.StatusWriteFailures.Inc()
		s.log.Error("firing status write failed", "schedule_id", m.ID, "status", to, "err", err)
		return
	}
	if !ok {
		s.log.Info("firing superseded by cancel", "schedule_id", m.ID)
		return
	}
	observability.Firings.WithLabelValues(string(to)).Inc()

	if failed > 0 {
		s.log.Warn("message fired with failures",
			"schedule_id", m.ID,
			"recipients", len(results),
			"failed", failed,
			"duration", time.Since(start),
			"err", summary,
		)
	} else {
		s.log.Info("message fired",
			"schedule_id", m.ID,
			"recipients", len(results),
			"duration", time.Since(start),
		)
	}

	if m.Repeat != domain.RepeatNone && m.Repeat != "" {
		s.scheduleNext(ctx, m)
	}
}

// writeStatus retries the final status write. The sends already happened,
// so leaving the row pending would send them again after a restart.
func (s *Service) writeStatus(ctx context.Context, u store.ScheduleStatusUpdate) (bool, error) {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(s.statusBackoff(i - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return false, fmt.Errorf("%w (last: %v)", ctx.Err(), err)
			case <-t.C:
			}
		}
		var ok bool
		ok, err = s.store.UpdateScheduleStatus(ctx, u)
		if err == nil {
			return ok, nil
		}
		s.log.Warn("firing status write retry", "schedule_id", u.ID, "attempt", i+1, "err", err)
	}
	return false, err
}

// dispatch sends to every recipient with at most s.sends in flight and waits
// for all of them. One recipient failing or panicking never affects the others.
func (s *Service) dispatch(ctx context.Context, m domain.ScheduledMessage) []outcome {
	targets := m.Recipients.All()
	sender, ok := s.senders.Get(m.Channel)
	if !ok {
		results := make([]outcome, len(targets))
		for i, t := range targets {
			results[i] = outcome{target: t, err: channel.Permanent(m.Channel, t, errNotConfigured), at: s.now()}
		}
		return results
	}

	msg := channel.Message{Text: m.Message, Subject: m.Subject, Media: m.Media}
	return s.fanOut(ctx, sender, m.Channel, targets, msg)
}

func (s *Service) fanOut(ctx context.Context, sender channel.Sender, ch domain.Channel, targets []string, msg channel.Message) []outcome {
	results := make([]outcome, len(targets))
	// sendOne never returns an error, so no send cancels its siblings
	var g errgroup.Group
	g.SetLimit(s.sends)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			results[i] = s.sendOne(ctx, sender, ch, t, msg)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) sendOne(ctx context.Context, sender channel.Sender, ch domain.Channel, target string, msg channel.Message) (out outcome) {
	out.target = target
	defer func() {
		if r := recover(); r != nil {
			out.err = channel.Permanent(ch, target, fmt.Errorf("sender panic: %v", r))
		}
		out.at = s.now()
	}()
	out.receipt, out.err = sender.Send(ctx, target, msg)
	return out
}

// recordAttempts writes one attempt per recipient. Write failures are
// logged and never change the firing outcome.
func (s *Service) recordAttempts(ctx context.Context, m domain.ScheduledMessage, results []outcome) {
	for _, r := range results {
		if err := s.store.InsertAttempt(ctx, attempt(m.ID, m.Channel, r)); err != nil {
			s.log.Warn("attempt write failed", "schedule_id", m.ID, "target", r.target, "err", err)
		}
	}
}

func attempt(scheduleID string, ch domain.Channel, r outcome) domain.DeliveryAttempt {
	a := domain.DeliveryAttempt{
		ScheduleID:    scheduleID,
		Channel:       ch,
		Target:        r.target,
		OK:            r.err == nil,
		ProviderMsgID: r.receipt.ProviderMsgID,
		AttemptedAt:   r.at,
	}
	if r.err != nil {
		a.Error = r.err.Error()
	}
	return a
}

func summarize(results []outcome) (int, string) {
	var failed []string
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, r.err.Error())
		}
	}
	if len(failed) == 0 {
		return 0, ""
	}
	msg := fmt.Sprintf("%d/%d recipients failed: %s", len(failed), len(results), strings.Join(failed, "; "))
	return len(failed), truncate(msg, maxLastError)
}

// truncate cuts s to at most n bytes without splitting a rune. Invalid
// sequences from provider errors are replaced so the column stays UTF-8.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// scheduleNext appends the next occurrence of a recurring message. It steps
// from the row's own scheduled time, skipping occurrences that are already
// in the past, so the chain never drifts with firing latency.
func (s *Service) scheduleNext(ctx context.Context, m domain.ScheduledMessage) {
	now := s.now()
	next, ok, err := nextAfter(m.ScheduledTime.In(s.loc), m.Repeat, m.CustomDays, now)
	if err != nil {
		observability.RecurrenceFailures.Inc()
		s.log.Error("recurrence failed", "schedule_id", m.ID, "repeat", m.Repeat, "err", err)
		return
	}
	if !ok {
		return
	}

	id := s.newID()
	n := domain.ScheduledMessage{
		ID:            id,
		OwnerID:       m.OwnerID,
		Channel:       m.Channel,
		Message:       m.Message,
		Subject:       m.Subject,
		Recipients:    m.Recipients,
		ScheduledTime: next,
		Repeat:        m.Repeat,
		CustomDays:    m.CustomDays,
		Status:        domain.StatusPending,
		Media:         m.Media,
		JobID:         id,
		PreviousID:    m.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateSchedule(ctx, n); err != nil {
		observability.RecurrenceFailures.Inc()
		s.log.Error("recurrence persist failed", "schedule_id", m.ID, "err", err)
		return
	}
	s.arm(n)
	s.log.Info("next occurrence scheduled", "schedule_id", n.ID, "previous_id", m.ID, "scheduled_time", next)
}

const maxCatchUp = 100000

func nextAfter(last time.Time, repeat domain.Repeat, customDays int, now time.Time) (time.Time, bool, error) {
	next := last
	for i := 0; i < maxCatchUp; i++ {
		var ok bool
		var err error
		next, ok, err = recurrence.Next(next, repeat, customDays)
		if err != nil || !ok {
			return time.Time{}, ok, err
		}
		if next.After(now) {
			return next, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("no occurrence after %s within %d steps", now, maxCatchUp)
}
