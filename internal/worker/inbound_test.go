package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbox/internal/domain"
	"castbox/internal/events"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestInboundPublishesAndSkipsRedeliveries(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(8)
	defer sub.Unsubscribe()

	clk := &clock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	p := &Inbound{Bus: bus, Now: clk.now, TTL: time.Minute}
	ev := events.Event{Channel: domain.ChannelWhatsApp, Trigger: domain.TriggerNewMessage, ChatID: "+1555", MessageID: "SM1"}
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, ev))
	require.NoError(t, p.Process(ctx, ev))
	assert.Len(t, sub.C(), 1)

	clk.t = clk.t.Add(2 * time.Minute)
	require.NoError(t, p.Process(ctx, ev))
	assert.Len(t, sub.C(), 2)

	// events without a provider id are never deduplicated
	ev.MessageID = ""
	require.NoError(t, p.Process(ctx, ev))
	require.NoError(t, p.Process(ctx, ev))
	assert.Len(t, sub.C(), 4)
}

func TestInboundLeavesMessageWhenCancelled(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(1)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Inbound{Bus: bus}
	assert.ErrorIs(t, p.Process(ctx, events.Event{Trigger: domain.TriggerGroupJoin}), context.Canceled)
	assert.Len(t, sub.C(), 0)
}

func TestInboundUndeliveredEventIsRedriven(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(1)
	defer sub.Unsubscribe()

	p := &Inbound{Bus: bus, TTL: time.Minute}
	ctx := context.Background()
	first := events.Event{Channel: domain.ChannelWhatsApp, Trigger: domain.TriggerNewMessage, ChatID: "+1555", MessageID: "SM1"}
	second := first
	second.MessageID = "SM2"

	require.NoError(t, p.Process(ctx, first))
	// the listener buffer is full, so SM2 goes nowhere
	assert.ErrorIs(t, p.Process(ctx, second), ErrNotDelivered)

	<-sub.C()
	require.NoError(t, p.Process(ctx, second), "a redelivery is not treated as a duplicate")
	got := <-sub.C()
	assert.Equal(t, "SM2", got.MessageID)
}
