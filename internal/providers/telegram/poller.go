package telegram

import (
	"context"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"castbox/internal/domain"
	"castbox/internal/events"
)

// Updates is the part of *tgbotapi.BotAPI used for long polling.
type Updates interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Publisher interface {
	Publish(e events.Event) int
}

// Poller long-polls the bot and publishes membership changes and messages.
type Poller struct {
	Bot     Updates
	SelfID  int64
	Timeout int
	Bus     Publisher
	Log     *slog.Logger
}

func (p *Poller) Run(ctx context.Context) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = p.Timeout
	updates := p.Bot.GetUpdatesChan(u)
	defer p.Bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			for _, ev := range MapUpdate(upd, p.SelfID) {
				if p.Bus.Publish(ev) == 0 {
					log.Warn("telegram event not delivered", "trigger", ev.Trigger, "chat_id", ev.ChatID)
				}
			}
		}
	}
}

// MapUpdate converts one update to zero or more events: one group_join per
// new member, a group_leave for a departed member, otherwise a new_message
// for text or captioned messages.
func MapUpdate(upd tgbotapi.Update, selfID int64) []events.Event {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	isGroup := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
	at := msg.Time().UTC()
	msgID := strconv.Itoa(msg.MessageID)

	base := events.Event{
		Channel:    domain.ChannelTelegram,
		ChatID:     chatID,
		IsGroup:    isGroup,
		MessageID:  msgID,
		OccurredAt: at,
	}

	if len(msg.NewChatMembers) > 0 {
		out := make([]events.Event, 0, len(msg.NewChatMembers))
		for _, m := range msg.NewChatMembers {
			if m.ID == selfID {
				continue
			}
			ev := base
			ev.Trigger = domain.TriggerGroupJoin
			ev.Sender = strconv.FormatInt(m.ID, 10)
			ev.Participant = displayName(m)
			out = append(out, ev)
		}
		return out
	}
	if m := msg.LeftChatMember; m != nil {
		if m.ID == selfID {
			return nil
		}
		ev := base
		ev.Trigger = domain.TriggerGroupLeave
		ev.Sender = strconv.FormatInt(m.ID, 10)
		ev.Participant = displayName(*m)
		return []events.Event{ev}
	}

	body := msg.Text
	if body == "" {
		body = msg.Caption
	}
	if body == "" || msg.From == nil {
		return nil
	}
	ev := base
	ev.Trigger = domain.TriggerNewMessage
	ev.Sender = strconv.FormatInt(msg.From.ID, 10)
	ev.Participant = displayName(*msg.From)
	ev.Body = body
	ev.FromMe = msg.From.ID == selfID
	return []events.Event{ev}
}

func displayName(u tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return strconv.FormatInt(u.ID, 10)
}
