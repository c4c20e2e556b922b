package domain

import (
	"strings"
	"time"
)

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
	ChannelEmail    Channel = "email"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelTelegram, ChannelEmail:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusCancelled, StatusError:
		return true
	}
	return false
}

type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
	RepeatCustom  Repeat = "custom"
)

func (r Repeat) Valid() bool {
	switch r {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatMonthly, RepeatCustom:
		return true
	}
	return false
}

// Recipients holds channel specific targets. WhatsApp uses both lists,
// Telegram and email only Direct.
type Recipients struct {
	Direct []string `json:"direct"`
	Groups []string `json:"groups,omitempty"`
}

func (r Recipients) All() []string {
	out := make([]string, 0, len(r.Direct)+len(r.Groups))
	out = append(out, r.Direct...)
	return append(out, r.Groups...)
}

func (r Recipients) Len() int { return len(r.Direct) + len(r.Groups) }

// MediaRef points at a single attachment. Exactly one of URL, LocalPath and
// Data is set. Owned marks a staged file that is deleted when the schedule
// is cancelled.
type MediaRef struct {
	URL       string `json:"url,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
	Data      []byte `json:"data,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Owned     bool   `json:"owned,omitempty"`
}

func (m *MediaRef) Validate() error {
	n := 0
	if strings.TrimSpace(m.URL) != "" {
		n++
	}
	if strings.TrimSpace(m.LocalPath) != "" {
		n++
	}
	if len(m.Data) > 0 {
		n++
	}
	switch {
	case n == 0:
		return invalid("media", "one of url, localPath or data is required")
	case n > 1:
		return invalid("media", "url, localPath and data are mutually exclusive")
	}
	if m.Owned && m.LocalPath == "" {
		return invalid("media.owned", "only staged local files can be owned")
	}
	return nil
}

type ScheduledMessage struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"ownerId"`
	Channel       Channel    `json:"channel"`
	Message       string     `json:"message,omitempty"`
	Subject       string     `json:"subject,omitempty"`
	Recipients    Recipients `json:"recipients"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	Repeat        Repeat     `json:"repeat"`
	CustomDays    int        `json:"customDays,omitempty"`
	Status        Status     `json:"status"`
	Media         *MediaRef  `json:"media,omitempty"`
	JobID         string     `json:"jobId,omitempty"`
	PreviousID    string     `json:"previousId,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// ScheduleRequest is the caller supplied intent behind a ScheduledMessage.
type ScheduleRequest struct {
	OwnerID       string     `json:"-"`
	Channel       Channel    `json:"channel"`
	Message       string     `json:"message"`
	Subject       string     `json:"subject,omitempty"`
	Recipients    Recipients `json:"recipients"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	Repeat        Repeat     `json:"repeat"`
	CustomDays    int        `json:"customDays,omitempty"`
	Media         *MediaRef  `json:"media,omitempty"`
}

// Normalize trims targets, drops empty ones and defaults Repeat.
func (r *ScheduleRequest) Normalize() {
	r.Recipients.Direct = compact(r.Recipients.Direct)
	r.Recipients.Groups = compact(r.Recipients.Groups)
	if r.Repeat == "" {
		r.Repeat = RepeatNone
	}
}

// Validate checks the request against now. The future-time rule is applied
// once here and never re-checked before a firing.
func (r ScheduleRequest) Validate(now time.Time) error {
	if err := validateContent(r.OwnerID, r.Channel, r.Recipients, r.Message, r.Media); err != nil {
		return err
	}
	if r.ScheduledTime.IsZero() {
		return invalid("scheduledTime", "required")
	}
	if !r.ScheduledTime.After(now) {
		return invalid("scheduledTime", "must be in the future")
	}
	if !r.Repeat.Valid() {
		return invalid("repeat", "must be one of none, daily, weekly, monthly, custom")
	}
	if r.Repeat == RepeatCustom && r.CustomDays <= 0 {
		return invalid("customDays", "must be a positive integer when repeat is custom")
	}
	if r.Repeat != RepeatCustom && r.CustomDays != 0 {
		return invalid("customDays", "only allowed when repeat is custom")
	}
	return nil
}

// SendRequest is a message delivered right away, with no stored schedule.
type SendRequest struct {
	OwnerID    string     `json:"-"`
	Channel    Channel    `json:"channel"`
	Message    string     `json:"message"`
	Subject    string     `json:"subject,omitempty"`
	Recipients Recipients `json:"recipients"`
	Media      *MediaRef  `json:"media,omitempty"`
}

func (r *SendRequest) Normalize() {
	r.Recipients.Direct = compact(r.Recipients.Direct)
	r.Recipients.Groups = compact(r.Recipients.Groups)
}

func (r SendRequest) Validate() error {
	return validateContent(r.OwnerID, r.Channel, r.Recipients, r.Message, r.Media)
}

func validateContent(owner string, ch Channel, to Recipients, message string, media *MediaRef) error {
	if strings.TrimSpace(owner) == "" {
		return invalid("ownerId", "required")
	}
	if !ch.Valid() {
		return invalid("channel", "must be one of whatsapp, telegram, email")
	}
	if to.Len() == 0 {
		return invalid("recipients", "at least one recipient is required")
	}
	if ch != ChannelWhatsApp && len(to.Groups) > 0 {
		return invalid("recipients.groups", "groups are only supported on whatsapp")
	}
	if strings.TrimSpace(message) == "" && media == nil {
		return invalid("message", "message or media is required")
	}
	if media != nil {
		if err := media.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DeliveryAttempt is one recipient outcome of one firing.
type DeliveryAttempt struct {
	ScheduleID    string    `json:"scheduleId,omitempty"`
	Channel       Channel   `json:"channel"`
	Target        string    `json:"target"`
	OK            bool      `json:"ok"`
	ProviderMsgID string    `json:"providerMsgId,omitempty"`
	Error         string    `json:"error,omitempty"`
	AttemptedAt   time.Time `json:"attemptedAt"`
}

// compact trims targets and drops blanks and duplicates, keeping order.
func compact(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
