package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbox/internal/channel"
	"castbox/internal/domain"
	"castbox/internal/events"
)

type fakeAPI struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestSendText(t *testing.T) {
	api := &fakeAPI{}
	s := &Sender{API: api}

	rcpt, err := s.Send(context.Background(), "-100123", channel.Message{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "1", rcpt.ProviderMsgID)

	m, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), m.ChatID)
	assert.Equal(t, "hello", m.Text)
}

func TestSendToChannelUsername(t *testing.T) {
	api := &fakeAPI{}
	s := &Sender{API: api}

	_, err := s.Send(context.Background(), "@news", channel.Message{Text: "hello"})
	require.NoError(t, err)
	m := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, "@news", m.ChannelUsername)
}

func TestSendMediaPicksPhotoOrDocument(t *testing.T) {
	api := &fakeAPI{}
	s := &Sender{API: api}

	_, err := s.Send(context.Background(), "42", channel.Message{
		Text:  "caption",
		Media: &domain.MediaRef{URL: "https://cdn.example.com/p.jpg"},
	})
	require.NoError(t, err)
	p, ok := api.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, "caption", p.Caption)

	_, err = s.Send(context.Background(), "42", channel.Message{
		Media: &domain.MediaRef{Data: []byte("%PDF"), MimeType: "application/pdf", Filename: "a.pdf"},
	})
	require.NoError(t, err)
	d, ok := api.sent[1].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, tgbotapi.FileBytes{Name: "a.pdf", Bytes: []byte("%PDF")}, d.File)
}

func TestSendRejectsBadInput(t *testing.T) {
	api := &fakeAPI{}
	s := &Sender{API: api}

	_, err := s.Send(context.Background(), "not-a-chat", channel.Message{Text: "x"})
	require.Error(t, err)
	assert.False(t, channel.IsTransient(err))

	_, err = s.Send(context.Background(), "42", channel.Message{Text: "  "})
	require.Error(t, err)
	assert.Empty(t, api.sent)
}

func TestSendClassifiesAPIErrors(t *testing.T) {
	api := &fakeAPI{err: &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}}
	s := &Sender{API: api}
	_, err := s.Send(context.Background(), "42", channel.Message{Text: "x"})
	assert.True(t, channel.IsTransient(err))

	api.err = &tgbotapi.Error{Code: 403, Message: "bot was blocked by the user"}
	_, err = s.Send(context.Background(), "42", channel.Message{Text: "x"})
	assert.False(t, channel.IsTransient(err))

	api.err = errors.New("connection reset")
	_, err = s.Send(context.Background(), "42", channel.Message{Text: "x"})
	assert.True(t, channel.IsTransient(err))
}

func groupMessage() *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		Date:      int(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC).Unix()),
		Chat:      &tgbotapi.Chat{ID: -100500, Type: "supergroup"},
	}
}

func TestMapUpdateJoinAndLeave(t *testing.T) {
	const self = 999
	msg := groupMessage()
	msg.NewChatMembers = []tgbotapi.User{{ID: 1, UserName: "ana"}, {ID: self, UserName: "castbot"}, {ID: 2, FirstName: "Bo"}}

	evs := MapUpdate(tgbotapi.Update{Message: msg}, self)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.TriggerGroupJoin, evs[0].Trigger)
	assert.Equal(t, "-100500", evs[0].ChatID)
	assert.Equal(t, "@ana", evs[0].Participant)
	assert.Equal(t, "Bo", evs[1].Participant)
	assert.True(t, evs[0].IsGroup)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), evs[0].OccurredAt)

	leave := groupMessage()
	leave.LeftChatMember = &tgbotapi.User{ID: 3, UserName: "cy"}
	evs = MapUpdate(tgbotapi.Update{Message: leave}, self)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TriggerGroupLeave, evs[0].Trigger)
	assert.Equal(t, "3", evs[0].Sender)
}

func TestMapUpdateMessages(t *testing.T) {
	msg := &tgbotapi.Message{
		MessageID: 8,
		Chat:      &tgbotapi.Chat{ID: 77, Type: "private"},
		From:      &tgbotapi.User{ID: 77, FirstName: "Dee"},
		Text:      "hi",
	}
	evs := MapUpdate(tgbotapi.Update{Message: msg}, 999)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TriggerNewMessage, evs[0].Trigger)
	assert.False(t, evs[0].IsGroup)
	assert.False(t, evs[0].FromMe)
	assert.Equal(t, "hi", evs[0].Body)

	msg.From.ID = 999
	evs = MapUpdate(tgbotapi.Update{Message: msg}, 999)
	assert.True(t, evs[0].FromMe)

	assert.Nil(t, MapUpdate(tgbotapi.Update{}, 999))
}

type fakeUpdates struct {
	ch      chan tgbotapi.Update
	stopped bool
}

func (f *fakeUpdates) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.ch }
func (f *fakeUpdates) StopReceivingUpdates()                                        { f.stopped = true }

func TestPollerPublishesUntilChannelCloses(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(4)
	src := &fakeUpdates{ch: make(chan tgbotapi.Update, 1)}
	p := &Poller{Bot: src, SelfID: 999, Bus: bus}

	msg := groupMessage()
	msg.LeftChatMember = &tgbotapi.User{ID: 3}
	src.ch <- tgbotapi.Update{Message: msg}
	close(src.ch)

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, src.stopped)
	ev := <-sub.C()
	assert.Equal(t, domain.TriggerGroupLeave, ev.Trigger)
}
