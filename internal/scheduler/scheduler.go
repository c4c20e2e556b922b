// Package scheduler owns the lifecycle of scheduled messages: persisting a
// request, arming its timer, fanning a firing out to every recipient,
// recording the outcome and chaining the next occurrence of a recurring
// message. Timers live only in memory; RestartPending rebuilds them at boot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"castbox/internal/channel"
	"castbox/internal/domain"
	"castbox/internal/jobs"
	"castbox/internal/observability"
	"castbox/internal/store"
	"castbox/internal/util"
)

// MissedWhileOffline is the lastError of a pending row that was too far
// past due when the process came back.
const MissedWhileOffline = "missed_while_offline"

type Senders interface {
	Get(ch domain.Channel) (channel.Sender, bool)
}

// MediaStore tracks staged attachments. Only files it owns may be sent from
// local disk, and it deletes them when their schedule is cancelled.
type MediaStore interface {
	Owns(path string) bool
	Remove(path string) error
}

type Config struct {
	Store   store.Schedules
	Senders Senders
	Jobs    *jobs.Registry
	Media   MediaStore
	Log     *slog.Logger

	// Location is where calendar arithmetic for recurrence happens.
	Location *time.Location
	// MissedFireGrace is how late a pending row found at boot may still fire.
	MissedFireGrace time.Duration
	// SendConcurrency bounds the in-flight sends of one firing. Zero means 16.
	SendConcurrency int

	Now   func() time.Time
	NewID func() string
}

type Service struct {
	store   store.Schedules
	senders Senders
	jobs    *jobs.Registry
	media   MediaStore
	log     *slog.Logger
	loc     *time.Location
	grace   time.Duration
	sends   int
	now     func() time.Time
	newID   func() string

	statusBackoff func(attempt int) time.Duration

	// firings run under ctx, which outlives the request that scheduled them
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

func New(cfg Config) *Service {
	s := &Service{
		store:   cfg.Store,
		senders: cfg.Senders,
		jobs:    cfg.Jobs,
		media:   cfg.Media,
		log:     cfg.Log,
		loc:     cfg.Location,
		grace:   cfg.MissedFireGrace,
		sends:   cfg.SendConcurrency,
		now:     cfg.Now,
		newID:   cfg.NewID,

		statusBackoff: channel.Backoff,
	}
	if s.jobs == nil {
		s.jobs = jobs.NewRegistry()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.grace <= 0 {
		s.grace = 5 * time.Minute
	}
	if s.sends <= 0 {
		s.sends = 16
	}
	if s.now == nil {
		s.now = util.NowUTC
	}
	if s.newID == nil {
		s.newID = util.NewScheduleID
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Schedule validates and persists req as a pending message and arms its
// timer. It returns as soon as the row is stored.
func (s *Service) Schedule(ctx context.Context, req domain.ScheduleRequest) (domain.ScheduledMessage, error) {
	req.Normalize()
	now := s.now()
	if err := req.Validate(now); err != nil {
		return domain.ScheduledMessage{}, err
	}
	msg := channel.Message{Text: req.Message, Subject: req.Subject, Media: req.Media}
	if _, err := s.admit(req.Channel, msg, req.Recipients); err != nil {
		return domain.ScheduledMessage{}, err
	}

	id := s.newID()
	m := domain.ScheduledMessage{
		ID:            id,
		OwnerID:       req.OwnerID,
		Channel:       req.Channel,
		Message:       req.Message,
		Subject:       req.Subject,
		Recipients:    req.Recipients,
		ScheduledTime: req.ScheduledTime,
		Repeat:        req.Repeat,
		CustomDays:    req.CustomDays,
		Status:        domain.StatusPending,
		Media:         req.Media,
		JobID:         id,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateSchedule(ctx, m); err != nil {
		return domain.ScheduledMessage{}, fmt.Errorf("schedule: %w", err)
	}
	s.arm(m)

	s.log.Info("message scheduled",
		"schedule_id", m.ID,
		"owner_id", m.OwnerID,
		"channel", m.Channel,
		"recipients", m.Recipients.Len(),
		"scheduled_time", m.ScheduledTime,
		"repeat", m.Repeat,
	)
	return m, nil
}

// admit resolves the sender for ch and rejects what it could never deliver:
// local files the media store did not stage, and shapes the channel itself
// refuses.
func (s *Service) admit(ch domain.Channel, msg channel.Message, to domain.Recipients) (channel.Sender, error) {
	sender, ok := s.senders.Get(ch)
	if !ok {
		return nil, &domain.ValidationError{Field: "channel", Reason: "channel is not configured"}
	}
	if m := msg.Media; m != nil && m.LocalPath != "" {
		if s.media == nil || !s.media.Owns(m.LocalPath) {
			return nil, &domain.ValidationError{Field: "media.localPath", Reason: "must reference an uploaded file"}
		}
	}
	if v, ok := sender.(channel.Validator); ok {
		if err := v.Validate(msg, to); err != nil {
			return nil, &domain.ValidationError{Field: "channel", Reason: err.Error()}
		}
	}
	return sender, nil
}

func (s *Service) arm(m domain.ScheduledMessage) {
	id := m.ID
	s.jobs.Register(id, m.ScheduledTime, func() { s.fire(id) })
	observability.LiveJobs.Set(float64(s.jobs.Len()))
}

// Cancel stops a pending message. Unknown ids and ids owned by someone else
// are ErrNotFound. Cancelling a message that already left pending is a no-op.
func (s *Service) Cancel(ctx context.Context, ownerID, id string) error {
	m, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}

	s.jobs.Cancel(id)
	observability.LiveJobs.Set(float64(s.jobs.Len()))
	if m.Status != domain.StatusPending {
		return nil
	}

	ok, err := s.store.UpdateScheduleStatus(ctx, store.ScheduleStatusUpdate{
		ID: id, From: domain.StatusPending, To: domain.StatusCancelled, Now: s.now(),
	})
	if err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	if !ok {
		// a firing won the race; its outcome stands
		return nil
	}
	s.releaseMedia(m)
	s.log.Info("message cancelled", "schedule_id", id, "owner_id", ownerID)
	return nil
}

// Delete cancels the message if needed and removes it with its attempts.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.Cancel(ctx, ownerID, id); err != nil {
		return err
	}
	return s.store.DeleteSchedule(ctx, id)
}

func (s *Service) releaseMedia(m domain.ScheduledMessage) {
	if m.Media == nil || !m.Media.Owned || s.media == nil {
		return
	}
	if err := s.media.Remove(m.Media.LocalPath); err != nil {
		s.log.Warn("staged media cleanup failed", "schedule_id", m.ID, "path", m.Media.LocalPath, "err", err)
	}
}

func (s *Service) Get(ctx context.Context, ownerID, id string) (domain.ScheduledMessage, error) {
	m, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return domain.ScheduledMessage{}, err
	}
	if m.OwnerID != ownerID {
		return domain.ScheduledMessage{}, fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// List returns the owner's messages, newest first. An empty status matches all.
func (s *Service) List(ctx context.Context, ownerID string, status domain.Status) ([]domain.ScheduledMessage, error) {
	if status != "" && !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "must be one of pending, sent, cancelled, error"}
	}
	return s.store.ListSchedules(ctx, store.ScheduleFilter{OwnerID: ownerID, Status: status})
}

// Attempts returns the per-recipient outcomes recorded for a message.
func (s *Service) Attempts(ctx context.Context, ownerID, id string) ([]domain.DeliveryAttempt, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.store.ListAttempts(ctx, id)
}

// Pending reports whether a live timer exists for id.
func (s *Service) Pending(id string) bool { return s.jobs.Has(id) }

// Stop disarms every timer, waits for in-flight firings until ctx is done,
// then cancels whatever is still sending.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	n := s.jobs.CancelAll()
	observability.LiveJobs.Set(0)
	s.log.Info("scheduler stopping", "timers_cancelled", n)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	defer s.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

var errNotConfigured = errors.New("channel is not configured")
