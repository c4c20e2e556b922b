package main

import (
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"castbox/internal/channel"
	"castbox/internal/config"
	"castbox/internal/domain"
	"castbox/internal/providers/email"
	"castbox/internal/providers/telegram"
	"castbox/internal/providers/twilio"
)

// buildChannels registers a guarded sender for every channel that has
// credentials. The Telegram bot is returned for the update poller.
func buildChannels(cfg config.APIConfig, log *slog.Logger) (*channel.Registry, *tgbotapi.BotAPI, error) {
	reg := channel.NewRegistry()
	guard := func(ch domain.Channel, s channel.Sender) channel.Sender {
		return channel.Guard(ch, s, channel.GuardOptions{
			Limiter:     rate.NewLimiter(rate.Limit(cfg.ChannelRPS), cfg.ChannelBurst),
			Breaker:     channel.NewBreaker(string(ch)),
			Timeout:     cfg.SendTimeout,
			MaxAttempts: cfg.SendMaxAttempts,
			Backoff:     channel.Backoff,
		})
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		reg.Register(domain.ChannelWhatsApp, guard(domain.ChannelWhatsApp, &twilio.Client{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioWhatsAppFrom,
			BaseURL:    cfg.TwilioBaseURL,
			HTTP:       &http.Client{Timeout: cfg.SendTimeout},
		}))
	}

	var bot *tgbotapi.BotAPI
	if cfg.TelegramBotToken != "" {
		var err error
		bot, err = tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram bot: %w", err)
		}
		reg.Register(domain.ChannelTelegram, guard(domain.ChannelTelegram, &telegram.Sender{API: bot}))
	}

	if cfg.SMTPHost != "" {
		client, err := email.NewClient(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			TLS:      cfg.SMTPTLS,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("smtp client: %w", err)
		}
		reg.Register(domain.ChannelEmail, guard(domain.ChannelEmail, &email.Sender{Client: client, From: cfg.SMTPFrom}))
	}

	log.Info("channels configured", "channels", reg.Channels())
	return reg, bot, nil
}
