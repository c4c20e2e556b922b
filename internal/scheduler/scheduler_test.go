package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"castbox/internal/channel"
	"castbox/internal/domain"
	"castbox/internal/jobs"
	"castbox/internal/store"
	"castbox/internal/store/sqlite"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const owner = "owner-1"

type recorder struct {
	mu      sync.Mutex
	targets []string
	fail    map[string]error
	panics  map[string]bool
	onSend  func(target string)
}

func (r *recorder) Send(ctx context.Context, target string, msg channel.Message) (channel.Receipt, error) {
	r.mu.Lock()
	r.targets = append(r.targets, target)
	err := r.fail[target]
	boom := r.panics[target]
	hook := r.onSend
	r.mu.Unlock()

	if hook != nil {
		hook(target)
	}
	if boom {
		panic("sender exploded")
	}
	if err != nil {
		return channel.Receipt{}, err
	}
	return channel.Receipt{ProviderMsgID: "id-" + target}, nil
}

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets...)
}

type removed struct {
	mu    sync.Mutex
	paths []string
}

func (r *removed) Owns(path string) bool { return strings.HasPrefix(path, "/srv/media/") }

func (r *removed) Remove(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

type harness struct {
	svc     *Service
	clk     *jobs.ManualClock
	store   *sqlite.Store
	senders *channel.Registry
	rec     *recorder
	media   *removed
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	h := &harness{
		clk:   jobs.NewManualClock(t0),
		store: st,
		rec:   &recorder{fail: map[string]error{}, panics: map[string]bool{}},
		media: &removed{},
	}
	senders := channel.NewRegistry()
	senders.Register(domain.ChannelWhatsApp, h.rec)
	senders.Register(domain.ChannelTelegram, h.rec)
	h.senders = senders

	var mu sync.Mutex
	seq := 0
	h.svc = New(Config{
		Store:   st,
		Senders: senders,
		Jobs:    jobs.NewRegistry(jobs.WithAfterFunc(h.clk.AfterFunc), jobs.WithClock(h.clk.Now)),
		Media:   h.media,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     h.clk.Now,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("sch_%03d", seq)
		},
	})
	return h
}

func request(at time.Time, targets ...string) domain.ScheduleRequest {
	return domain.ScheduleRequest{
		OwnerID:       owner,
		Channel:       domain.ChannelWhatsApp,
		Message:       "standup in 5",
		Recipients:    domain.Recipients{Direct: targets},
		ScheduledTime: at,
	}
}

func TestScheduleFutureIsPendingAndArmed(t *testing.T) {
	h := newHarness(t)
	m, err := h.svc.Schedule(context.Background(), request(t0.Add(time.Hour), "+15550000001"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, m.Status)
	assert.Equal(t, domain.RepeatNone, m.Repeat)
	assert.True(t, h.svc.Pending(m.ID))

	stored, err := h.svc.Get(context.Background(), owner, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, m.ID, stored.JobID)
}

func TestSchedulePastIsRejectedAndNotPersisted(t *testing.T) {
	h := newHarness(t)
	for _, at := range []time.Time{t0.Add(-time.Minute), t0} {
		_, err := h.svc.Schedule(context.Background(), request(at, "+15550000001"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	}

	all, err := h.svc.List(context.Background(), owner, "")
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, h.clk.Pending())
}

func TestScheduleRejectsUnconfiguredChannel(t *testing.T) {
	h := newHarness(t)
	req := request(t0.Add(time.Hour), "ana@example.com")
	req.Channel = domain.ChannelEmail

	_, err := h.svc.Schedule(context.Background(), req)
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "channel", ve.Field)
}

func TestScheduleRejectsUnstagedLocalFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, path := range []string{"/etc/passwd", "/srv/mediax/key.pem", "relative/key.pem"} {
		req := request(t0.Add(time.Hour), "42")
		req.Channel = domain.ChannelTelegram
		req.Media = &domain.MediaRef{LocalPath: path}

		_, err := h.svc.Schedule(ctx, req)
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve), path)
		assert.Equal(t, "media.localPath", ve.Field)
	}

	all, err := h.svc.List(ctx, owner, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

type picky struct {
	recorder
}

func (p *picky) Validate(msg channel.Message, to domain.Recipients) error {
	if len(to.Groups) > 0 {
		return fmt.Errorf("%w: no groups", channel.ErrUnsupported)
	}
	return nil
}

func TestScheduleAsksChannelToValidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.senders.Register(domain.ChannelWhatsApp, channel.Guard(domain.ChannelWhatsApp, &picky{}, channel.GuardOptions{}))

	req := request(t0.Add(time.Hour), "+15550000001")
	req.Recipients.Groups = []string{"120363000000@g.us"}
	_, err := h.svc.Schedule(ctx, req)
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "channel", ve.Field)
	assert.Contains(t, ve.Reason, "no groups")

	_, err = h.svc.Schedule(ctx, request(t0.Add(time.Hour), "+15550000001"))
	require.NoError(t, err)
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, err := h.svc.Schedule(ctx, request(t0.Add(time.Hour), "+15550000001"))
	require.NoError(t, err)

	require.NoError(t, h.svc.Cancel(ctx, owner, m.ID))
	assert.False(t, h.svc.Pending(m.ID))
	require.NoError(t, h.svc.Cancel(ctx, owner, m.ID))

	got, err := h.svc.Get(ctx, owner, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	h.clk.Advance(2 * time.Hour)
	assert.Empty(t, h.rec.sent())
}

func TestCancelUnknownOrForeign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, err := h.svc.Schedule(ctx, request(t0.Add(time.Hour), "+15550000001"))
	require.NoError(t, err)

	assert.True(t, errors.Is(h.svc.Cancel(ctx, owner, "sch_missing"), domain.ErrNotFound))
	assert.True(t, errors.Is(h.svc.Cancel(ctx, "intruder", m.ID), domain.ErrNotFound))
	assert.True(t, h.svc.Pending(m.ID))
}

func TestCancelRemovesOwnedMedia(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request(t0.Add(time.Hour), "+15550000001")
	req.Message = ""
	req.Media = &domain.MediaRef{LocalPath: "/srv/media/abc.png", Owned: true}
	m, err := h.svc.Schedule(ctx, req)
	require.NoError(t, err)

	require.NoError(t, h.svc.Cancel(ctx, owner, m.ID))
	require.NoError(t, h.svc.Cancel(ctx, owner, m.ID))
	assert.Equal(t, []string{"/srv/media/abc.png"}, h.media.paths)
}

func TestCancelAfterSendIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, err := h.svc.Schedule(ctx, request(t0.Add(time.Minute), "+15550000001"))
	require.NoError(t, err)
	h.clk.Advance(time.Minute)

	require.NoError(t, h.svc.Cancel(ctx, owner, m.ID))
	got, err := h.svc.Get(ctx, owner, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
}

func TestFanOutIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.rec.fail["+15550000002"] = channel.Permanent(domain.ChannelWhatsApp, "+15550000002", errors.New("blocked"))

	m, err := h.svc.Schedule(ctx, request(t0.Add(time.Minute), "+15550000001", "+15550000002", "+15550000003"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.clk.Advance(time.Minute))

	assert.ElementsMatch(t, []string{"+15550000001", "+15550000002", "+15550000003"}, h.rec.sent())

	got, err := h.svc.Get(ctx, owner, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Contains(t, got.LastError, "1/3 recipients failed")
	assert.Contains(t, got.LastError, "blocked")
	assert.False(t, h.svc.Pending(m.ID))

	attempts, err := h.svc.Attempts(ctx, owner, m.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	okByTarget := map[string]bool{}
	for _, a := range attempts {
		okByTarget[a.Target] = a.OK
	}
	assert.Equal(t, map[string]bool{"+15550000001": true, "+15550000002": false, "+15550000003": true}, okByTarget)
}

func TestLargeFanOutThroughGuardReachesEveryone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// the limiter needs far longer than the per call timeout to admit them all
	guarded := channel.Guard(domain.ChannelTelegram, h.rec, channel.GuardOptions{
		Limiter:     rate.NewLimiter(rate.Every(time.Millisecond), 5),
		Timeout:     5 * time.Millisecond,
		MaxAttempts: 1,
	})
	var inflight, peak atomic.Int32
	h.senders.Register(domain.ChannelTelegram, channel.SenderFunc(
		func(ctx context.Context, target string, msg channel.Message) (channel.Receipt, error) {
			n := inflight.Add(1)
			defer inflight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			return guarded.Send(ctx, target, msg)
		}))

	targets := make([]string, 150)
	for i := range targets {
		targets[i] = fmt.Sprint(1000 + i)
	}
	req := request(t0.Add(time.Minute), targets...)
	req.Channel = domain.ChannelTelegram
	m, err := h.svc.Schedule(ctx, req)
	require.NoError(t, err)
	h.clk.Advance(time.Minute)

	got, err := h.svc.Get(ctx, owner, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status, got.LastError)
	assert.ElementsMatch(t, targets, h.rec.sent())
	assert.LessOrEqual(t, peak.Load(), int32(16))
}

func TestSummarizeKeepsValidUTF8(t *testing.T) {
	failed, msg := summarize([]outcome{{err: errors.New(strings.Repeat("ж", 600))}})
	assert.Equal(t, 1, failed)
	assert.True(t, utf8.ValidString(msg))
	assert.LessOrEqual(t, len(msg), maxLastError)
	assert.Greater(t, len(msg), maxLastError-utf8.UTFMax)

	_, msg = summarize([]outcome{{err: errors.New("bad \xff byte")}})
	assert.True(t, utf8.ValidString(msg))
}

type flakyStatus struct {
	*sqlite.Store
	fails int
	calls int
}

func (f *flakyStatus) UpdateScheduleStatus(ctx context.Context, in store.ScheduleStatusUpdate) (bool, error) {
	f.calls++
	if f.calls <= f.fails {
		return false, errors.New("invalid byte sequence for encoding UTF8")
	}
	return f.Store.UpdateScheduleStatus(ctx, in)
}

func TestFiringRetriesStatusWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	flaky := &flakyStatus{Store: h.store, fails: 2}
	h.svc.store = flaky
	h.svc.statusBackoff = func(int) time.Duration { return 0 }

	m, err := h.svc.Schedule(ctx, request(t0.Add(time.Minute), "+15550000001"))
	require.NoError(t, err)
	h.clk.Advance(time.Minute)

	assert.Equal(t, 3, flaky.calls)
	got, err := h.svc.Get(ctx, owner, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
}

func TestSenderPanicIsContained(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.rec.panics["+15550000001"] = true

	m, err := h.svc.Schedule(ctx, request(t0.Add(time.Minute), "+15550000001", "+15550000002"))
	require.NoError(t, err)
	h.clk.Advance(time.Minute)

	got, err := h.svc.Get(ctx, owner, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Contains(t, got.LastError, "sender panic")
	assert.Len(t, h.rec.sent(), 2)
}

func TestWeeklyFiringChainsNextOccurrence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request(t0.Add(time.Hour), "+15550000001")
	req.Repeat = domain.RepeatWeekly
	first, err := h.svc.Schedule(ctx, req)
	require.NoError(t, err)

	h.clk.Advance(time.Hour)

	got, err := h.svc.Get(ctx, owner, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)

	pending, err := h.svc.List(ctx, owner, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	next := pending[0]
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, first.ID, next.PreviousID)
	assert.True(t, next.ScheduledTime.Equal(t0.Add(time.Hour+7*24*time.Hour)), "got %s", next.ScheduledTime)
	assert.Equal(t, domain.RepeatWeekly, next.Repeat)
	assert.Equal(t, first.Recipients, next.Recipients)
	assert.True(t, h.svc.Pending(next.ID))

	// and the chain keeps going
	h.clk.Advance(7 * 24 * time.Hour)
	pending, err = h.svc.List(ctx, owner, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, next.ID, pending[0].PreviousID)
	assert.Len(t, h.rec.sent(), 2)
}

func TestCancelDuringFiringWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request(t0.Add(time.Minute), "+15550000001")
	req.Repeat = domain.RepeatDaily
	m, err := h.svc.Schedule(ctx, req)
	require.NoError(t, err)

	h.rec.onSend = func(string) {
		assert.NoError(t, h.svc.Cancel(ctx, owner, m.ID))
	}
	h.clk.Advance(time.Minute)

	got, err := h.svc.Get(ctx, owner, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	pending, err := h.svc.List(ctx, owner, domain.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending, "a cancelled occurrence does not chain")
}

func TestDeletePurgesRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, err := h.svc.Schedule(ctx, request(t0.Add(time.Hour), "+15550000001"))
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(ctx, owner, m.ID))
	assert.False(t, h.svc.Pending(m.ID))
	_, err = h.svc.Get(ctx, owner, m.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestListRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.List(context.Background(), owner, domain.Status("done"))
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestRestartPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	row := func(id string, at time.Time, repeat domain.Repeat) domain.ScheduledMessage {
		return domain.ScheduledMessage{
			ID: id, OwnerID: owner, Channel: domain.ChannelTelegram, Message: "hi",
			Recipients: domain.Recipients{Direct: []string{"42"}}, ScheduledTime: at,
			Repeat: repeat, Status: domain.StatusPending, JobID: id,
			CreatedAt: t0.Add(-48 * time.Hour), UpdatedAt: t0.Add(-48 * time.Hour),
		}
	}
	require.NoError(t, h.store.CreateSchedule(ctx, row("sch_future", t0.Add(time.Hour), domain.RepeatNone)))
	require.NoError(t, h.store.CreateSchedule(ctx, row("sch_late", t0.Add(-time.Minute), domain.RepeatNone)))
	require.NoError(t, h.store.CreateSchedule(ctx, row("sch_stale", t0.Add(-time.Hour), domain.RepeatDaily)))

	rep, err := h.svc.RestartPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, RestartReport{Rescheduled: 1, FiredLate: 1, Expired: 1}, rep)
	assert.True(t, h.svc.Pending("sch_future"))

	h.clk.Advance(0)
	late, err := h.svc.Get(ctx, owner, "sch_late")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, late.Status)

	stale, err := h.svc.Get(ctx, owner, "sch_stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stale.Status)
	assert.Equal(t, MissedWhileOffline, stale.LastError)

	pending, err := h.svc.List(ctx, owner, domain.StatusPending)
	require.NoError(t, err)
	var chained *domain.ScheduledMessage
	for i := range pending {
		if pending[i].PreviousID == "sch_stale" {
			chained = &pending[i]
		}
	}
	require.NotNil(t, chained, "expired daily row keeps its chain")
	assert.True(t, chained.ScheduledTime.Equal(t0.Add(23*time.Hour)))
	assert.True(t, h.svc.Pending(chained.ID))
	assert.Equal(t, []string{"42"}, h.rec.sent())
}

func TestStopDisarmsTimers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, err := h.svc.Schedule(ctx, request(t0.Add(time.Minute), "+15550000001"))
	require.NoError(t, err)

	require.NoError(t, h.svc.Stop(ctx))
	assert.False(t, h.svc.Pending(m.ID))
	h.clk.Advance(time.Hour)
	assert.Empty(t, h.rec.sent())
}

func TestNextAfterSkipsPastOccurrences(t *testing.T) {
	last := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	next, ok, err := nextAfter(last, domain.RepeatDaily, 0, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 11, 8, 0, 0, 0, time.UTC), next)

	_, ok, err = nextAfter(last, domain.RepeatNone, 0, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendDeliversNowWithoutPersisting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.rec.fail["+15550000002"] = channel.Permanent(domain.ChannelWhatsApp, "+15550000002", errors.New("blocked"))

	out, err := h.svc.Send(ctx, domain.SendRequest{
		OwnerID:    owner,
		Channel:    domain.ChannelWhatsApp,
		Message:    "doors open",
		Recipients: domain.Recipients{Direct: []string{"+15550000001", " +15550000002 "}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "+15550000001", out[0].Target)
	assert.True(t, out[0].OK)
	assert.Equal(t, "id-+15550000001", out[0].ProviderMsgID)
	assert.False(t, out[1].OK)
	assert.Contains(t, out[1].Error, "blocked")
	assert.Empty(t, out[0].ScheduleID)

	all, err := h.svc.List(ctx, owner, "")
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, h.clk.Pending())
}

func TestSendRejectsBeforeDelivering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Send(ctx, domain.SendRequest{
		OwnerID: owner, Channel: domain.ChannelTelegram,
		Recipients: domain.Recipients{Direct: []string{"42"}},
		Media:      &domain.MediaRef{LocalPath: "/etc/passwd"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.svc.Send(ctx, domain.SendRequest{
		OwnerID: owner, Channel: domain.ChannelEmail, Message: "hi",
		Recipients: domain.Recipients{Direct: []string{"ana@example.com"}},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, h.rec.sent())
}
