// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbox/internal/domain"
	"castbox/internal/store"
)

// Run exercises st, which must start empty.
func Run(t *testing.T, st store.Store) {
	t.Run("ScheduleRoundTrip", func(t *testing.T) { scheduleRoundTrip(t, st) })
	t.Run("StatusCompareAndSet", func(t *testing.T) { statusCompareAndSet(t, st) })
	t.Run("ListFilters", func(t *testing.T) { listFilters(t, st) })
	t.Run("AttemptsAndDelete", func(t *testing.T) { attemptsAndDelete(t, st) })
	t.Run("Actions", func(t *testing.T) { actions(t, st) })
}

var base = time.Date(2030, 1, 31, 10, 0, 0, 0, time.UTC)

func sample(id, owner string, status domain.Status) domain.ScheduledMessage {
	return domain.ScheduledMessage{
		ID:            id,
		OwnerID:       owner,
		Channel:       domain.ChannelWhatsApp,
		Message:       "hello",
		Recipients:    domain.Recipients{Direct: []string{"+15550001111"}, Groups: []string{"1203@g.us"}},
		ScheduledTime: base,
		Repeat:        domain.RepeatCustom,
		CustomDays:    3,
		Status:        status,
		Media:         &domain.MediaRef{LocalPath: "/var/media/a.png", MimeType: "image/png", Owned: true},
		PreviousID:    "sch_prev",
		CreatedAt:     base.Add(-time.Hour),
		UpdatedAt:     base.Add(-time.Hour),
	}
}

func scheduleRoundTrip(t *testing.T, st store.Store) {
	ctx := context.Background()
	in := sample("sch_round", "owner-rt", domain.StatusPending)
	require.NoError(t, st.CreateSchedule(ctx, in))

	got, err := st.GetSchedule(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.OwnerID, got.OwnerID)
	assert.Equal(t, in.Channel, got.Channel)
	assert.Equal(t, in.Recipients, got.Recipients)
	assert.True(t, got.ScheduledTime.Equal(in.ScheduledTime))
	assert.Equal(t, domain.RepeatCustom, got.Repeat)
	assert.Equal(t, 3, got.CustomDays)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, in.Media, got.Media)
	assert.Equal(t, "sch_prev", got.PreviousID)
	assert.Nil(t, got.SentAt)

	require.NoError(t, st.SetScheduleJob(ctx, in.ID, in.ID))
	got, err = st.GetSchedule(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.JobID)

	_, err = st.GetSchedule(ctx, "sch_missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func statusCompareAndSet(t *testing.T, st store.Store) {
	ctx := context.Background()
	in := sample("sch_cas", "owner-cas", domain.StatusPending)
	require.NoError(t, st.CreateSchedule(ctx, in))
	require.NoError(t, st.SetScheduleJob(ctx, in.ID, in.ID))

	now := base.Add(time.Minute)
	ok, err := st.UpdateScheduleStatus(ctx, store.ScheduleStatusUpdate{
		ID: in.ID, From: domain.StatusPending, To: domain.StatusCancelled, Now: now,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// the row already left pending, so a late firing loses
	ok, err = st.UpdateScheduleStatus(ctx, store.ScheduleStatusUpdate{
		ID: in.ID, From: domain.StatusPending, To: domain.StatusSent, Now: now,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetSchedule(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Empty(t, got.JobID)
	assert.Nil(t, got.SentAt)

	sent := sample("sch_sent", "owner-cas", domain.StatusPending)
	require.NoError(t, st.CreateSchedule(ctx, sent))
	ok, err = st.UpdateScheduleStatus(ctx, store.ScheduleStatusUpdate{
		ID: sent.ID, From: domain.StatusPending, To: domain.StatusSent, Now: now,
	})
	require.NoError(t, err)
	require.True(t, ok)
	got, err = st.GetSchedule(ctx, sent.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(now))
}

func listFilters(t *testing.T, st store.Store) {
	ctx := context.Background()
	for i, status := range []domain.Status{domain.StatusPending, domain.StatusPending, domain.StatusError} {
		m := sample("sch_list_"+string(rune('a'+i)), "owner-list", status)
		m.ScheduledTime = base.Add(time.Duration(3-i) * time.Hour)
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.CreateSchedule(ctx, m))
	}
	require.NoError(t, st.CreateSchedule(ctx, sample("sch_list_other", "someone-else", domain.StatusPending)))

	all, err := st.ListSchedules(ctx, store.ScheduleFilter{OwnerID: "owner-list"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "sch_list_c", all[0].ID, "newest first")

	pending, err := st.ListSchedules(ctx, store.ScheduleFilter{OwnerID: "owner-list", Status: domain.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	due, err := st.ListPendingSchedules(ctx)
	require.NoError(t, err)
	for i := 1; i < len(due); i++ {
		assert.False(t, due[i].ScheduledTime.Before(due[i-1].ScheduledTime), "ordered by scheduled time")
	}
	for _, m := range due {
		assert.Equal(t, domain.StatusPending, m.Status)
	}
}

func attemptsAndDelete(t *testing.T, st store.Store) {
	ctx := context.Background()
	m := sample("sch_attempts", "owner-att", domain.StatusPending)
	require.NoError(t, st.CreateSchedule(ctx, m))

	at := base.Add(time.Second)
	require.NoError(t, st.InsertAttempt(ctx, domain.DeliveryAttempt{
		ScheduleID: m.ID, Channel: m.Channel, Target: "+15550001111", OK: true, ProviderMsgID: "SM1", AttemptedAt: at,
	}))
	require.NoError(t, st.InsertAttempt(ctx, domain.DeliveryAttempt{
		ScheduleID: m.ID, Channel: m.Channel, Target: "1203@g.us", OK: false, Error: "unsupported", AttemptedAt: at,
	}))

	attempts, err := st.ListAttempts(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].OK)
	assert.Equal(t, "SM1", attempts[0].ProviderMsgID)
	assert.False(t, attempts[1].OK)
	assert.Equal(t, "unsupported", attempts[1].Error)
	assert.True(t, attempts[1].AttemptedAt.Equal(at))

	require.NoError(t, st.DeleteSchedule(ctx, m.ID))
	_, err = st.GetSchedule(ctx, m.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	attempts, err = st.ListAttempts(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)

	assert.True(t, errors.Is(st.DeleteSchedule(ctx, m.ID), domain.ErrNotFound))
}

func actions(t *testing.T, st store.Store) {
	ctx := context.Background()
	older := domain.ScheduledAction{
		ID: "act_old", OwnerID: "owner-act", Channel: domain.ChannelWhatsApp, Trigger: domain.TriggerGroupJoin,
		Groups: []string{"g1"}, Message: "welcome {participant}", IsActive: true, CreatedAt: base,
	}
	newer := older
	newer.ID, newer.Groups, newer.CreatedAt = "act_new", nil, base.Add(time.Minute)
	other := older
	other.ID, other.Trigger = "act_msg", domain.TriggerNewMessage
	for _, a := range []domain.ScheduledAction{older, newer, other} {
		require.NoError(t, st.CreateAction(ctx, a))
	}

	joins, err := st.ListActiveActions(ctx, domain.TriggerGroupJoin)
	require.NoError(t, err)
	require.Len(t, joins, 2)
	assert.Equal(t, "act_new", joins[0].ID)
	assert.Equal(t, []string{}, joins[0].Groups)
	assert.Equal(t, []string{"g1"}, joins[1].Groups)

	ok, err := st.SetActionActive(ctx, "act_new", false)
	require.NoError(t, err)
	assert.True(t, ok)
	joins, err = st.ListActiveActions(ctx, domain.TriggerGroupJoin)
	require.NoError(t, err)
	require.Len(t, joins, 1)

	at := base.Add(time.Hour)
	require.NoError(t, st.RecordActionExecution(ctx, domain.ActionExecution{
		ActionID: "act_old", At: at, Status: domain.ActionFailed, Error: "boom",
	}))
	got, err := st.GetAction(ctx, "act_old")
	require.NoError(t, err)
	require.NotNil(t, got.LastExecuted)
	assert.True(t, got.LastExecuted.Equal(at))
	assert.Equal(t, domain.ActionFailed, got.LastStatus)
	assert.Equal(t, "boom", got.LastError)

	mine, err := st.ListActions(ctx, "owner-act")
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	ok, err = st.DeleteAction(ctx, "act_msg")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.DeleteAction(ctx, "act_msg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.GetAction(ctx, "act_msg")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
