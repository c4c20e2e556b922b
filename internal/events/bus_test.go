package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbox/internal/domain"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)

	n := bus.Publish(Event{Channel: domain.ChannelTelegram, Trigger: domain.TriggerGroupJoin, ChatID: "-100"})
	assert.Equal(t, 2, n)
	assert.Equal(t, "-100", (<-a.C()).ChatID)
	assert.Equal(t, "-100", (<-b.C()).ChatID)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe(1)

	assert.Equal(t, 1, bus.Publish(Event{Body: "first"}))
	assert.Equal(t, 0, bus.Publish(Event{Body: "second"}))
	assert.Equal(t, "first", (<-s.C()).Body)
}

func TestUnsubscribeIsIdempotentAndClosesChannel(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe(0)
	keep := bus.Subscribe(1)

	s.Unsubscribe()
	s.Unsubscribe()
	_, open := <-s.C()
	assert.False(t, open)
	assert.Equal(t, 1, bus.Len())

	assert.Equal(t, 1, bus.Publish(Event{}))
	_, open = <-keep.C()
	assert.True(t, open)
}

func TestCloseDetachesEveryone(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe(1)
	bus.Close()

	_, open := <-s.C()
	assert.False(t, open)
	assert.Equal(t, 0, bus.Publish(Event{}))

	late := bus.Subscribe(1)
	_, open = <-late.C()
	require.False(t, open)
	late.Unsubscribe()
}
