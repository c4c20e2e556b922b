// Package email sends scheduled messages over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"

	"castbox/internal/channel"
	"castbox/internal/domain"
)

// Dialer is satisfied by *mail.Client.
type Dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type Sender struct {
	Client Dialer
	From   string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS is one of starttls (default), ssl, none.
	TLS string
}

func NewClient(cfg SMTPConfig) (*mail.Client, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	switch strings.ToLower(cfg.TLS) {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	return mail.NewClient(cfg.Host, opts...)
}

// Send implements channel.Sender. Local and inline media become attachments;
// a media URL is appended to the body.
func (s *Sender) Send(ctx context.Context, target string, msg channel.Message) (channel.Receipt, error) {
	m, err := s.compose(target, msg)
	if err != nil {
		return channel.Receipt{}, channel.Permanent(domain.ChannelEmail, target, err)
	}

	if err := s.Client.DialAndSendWithContext(ctx, m); err != nil {
		return channel.Receipt{}, classify(target, err)
	}
	return channel.Receipt{ProviderMsgID: firstHeader(m, mail.HeaderMessageID)}, nil
}

func (s *Sender) compose(target string, msg channel.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := m.To(strings.TrimSpace(target)); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetMessageID()

	body := msg.Text
	if media := msg.Media; media != nil {
		switch {
		case media.URL != "":
			if body != "" {
				body += "\n\n"
			}
			body += media.URL
		case media.LocalPath != "":
			// AttachFile drops a missing file without an error
			fi, err := os.Stat(media.LocalPath)
			if err != nil {
				return nil, fmt.Errorf("attachment: %w", err)
			}
			if !fi.Mode().IsRegular() {
				return nil, fmt.Errorf("attachment: %s is not a regular file", media.LocalPath)
			}
			m.AttachFile(media.LocalPath, mail.WithFileName(attachmentName(media)))
		case len(media.Data) > 0:
			if err := m.AttachReader(attachmentName(media), bytes.NewReader(media.Data)); err != nil {
				return nil, fmt.Errorf("attachment: %w", err)
			}
		}
	}
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func attachmentName(m *domain.MediaRef) string {
	if m.Filename != "" {
		return m.Filename
	}
	if m.LocalPath != "" {
		return filepath.Base(m.LocalPath)
	}
	return "attachment"
}

func firstHeader(m *mail.Msg, h mail.Header) string {
	if v := m.GetGenHeader(h); len(v) > 0 {
		return v[0]
	}
	return ""
}

func classify(target string, err error) error {
	var se *mail.SendError
	if errors.As(err, &se) {
		return &channel.Error{Channel: domain.ChannelEmail, Target: target, Err: err, Transient: se.IsTemp()}
	}
	// dial and TLS failures
	return channel.Transient(domain.ChannelEmail, target, err)
}
