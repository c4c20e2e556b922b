// Package telegram sends through the Telegram Bot API and turns bot updates
// into inbound events.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"castbox/internal/channel"
	"castbox/internal/domain"
)

// API is the part of *tgbotapi.BotAPI used for sending.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Sender struct {
	API API
}

// Send implements channel.Sender. Targets are numeric chat ids or @channel
// usernames. Image media goes out as a photo, anything else as a document.
func (s *Sender) Send(ctx context.Context, target string, msg channel.Message) (channel.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return channel.Receipt{}, channel.Transient(domain.ChannelTelegram, target, err)
	}
	c, err := build(target, msg)
	if err != nil {
		return channel.Receipt{}, channel.Permanent(domain.ChannelTelegram, target, err)
	}

	sent, err := s.API.Send(c)
	if err != nil {
		return channel.Receipt{}, classify(target, err)
	}
	return channel.Receipt{ProviderMsgID: strconv.Itoa(sent.MessageID)}, nil
}

type chat struct {
	id       int64
	username string
}

func parseTarget(target string) (chat, error) {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "@") && len(target) > 1 {
		return chat{username: target}, nil
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return chat{}, fmt.Errorf("invalid chat id %q", target)
	}
	return chat{id: id}, nil
}

func build(target string, msg channel.Message) (tgbotapi.Chattable, error) {
	to, err := parseTarget(target)
	if err != nil {
		return nil, err
	}

	if msg.Media == nil {
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("empty message")
		}
		m := tgbotapi.NewMessage(to.id, msg.Text)
		m.ChannelUsername = to.username
		return m, nil
	}

	file, err := fileData(msg.Media)
	if err != nil {
		return nil, err
	}
	if isImage(msg.Media) {
		p := tgbotapi.NewPhoto(to.id, file)
		p.ChannelUsername = to.username
		p.Caption = msg.Text
		return p, nil
	}
	d := tgbotapi.NewDocument(to.id, file)
	d.ChannelUsername = to.username
	d.Caption = msg.Text
	return d, nil
}

func fileData(m *domain.MediaRef) (tgbotapi.RequestFileData, error) {
	switch {
	case m.URL != "":
		return tgbotapi.FileURL(m.URL), nil
	case m.LocalPath != "":
		return tgbotapi.FilePath(m.LocalPath), nil
	case len(m.Data) > 0:
		name := m.Filename
		if name == "" {
			name = "attachment"
		}
		return tgbotapi.FileBytes{Name: name, Bytes: m.Data}, nil
	}
	return nil, errors.New("media has no source")
}

func isImage(m *domain.MediaRef) bool {
	if m.MimeType != "" {
		return strings.HasPrefix(m.MimeType, "image/")
	}
	name := m.Filename
	if name == "" {
		name = m.LocalPath
	}
	if name == "" {
		name = m.URL
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

func classify(target string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &channel.Error{
			Channel:    domain.ChannelTelegram,
			Target:     target,
			Err:        err,
			Transient:  channel.TransientStatus(apiErr.Code),
			HTTPStatus: apiErr.Code,
		}
	}
	// transport failures from the bot client
	return channel.Transient(domain.ChannelTelegram, target, err)
}
