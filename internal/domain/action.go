package domain

import (
	"strings"
	"time"
)

type Trigger string

const (
	TriggerGroupJoin  Trigger = "group_join"
	TriggerGroupLeave Trigger = "group_leave"
	TriggerNewMessage Trigger = "new_message"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerGroupJoin, TriggerGroupLeave, TriggerNewMessage:
		return true
	}
	return false
}

type ActionStatus string

const (
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
)

// ScheduledAction is a standing trigger-response rule. Empty Contacts and
// Groups match everything.
type ScheduledAction struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"ownerId"`
	Channel      Channel      `json:"channel"`
	Trigger      Trigger      `json:"trigger"`
	Contacts     []string     `json:"contacts"`
	Groups       []string     `json:"groups"`
	Message      string       `json:"message"`
	IsActive     bool         `json:"isActive"`
	LastExecuted *time.Time   `json:"lastExecuted,omitempty"`
	LastStatus   ActionStatus `json:"lastStatus,omitempty"`
	LastError    string       `json:"lastError,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

type ActionRequest struct {
	OwnerID  string   `json:"-"`
	Channel  Channel  `json:"channel"`
	Trigger  Trigger  `json:"trigger"`
	Contacts []string `json:"contacts"`
	Groups   []string `json:"groups"`
	Message  string   `json:"message"`
}

func (r *ActionRequest) Normalize() {
	r.Contacts = compact(r.Contacts)
	r.Groups = compact(r.Groups)
	if r.Channel == "" {
		r.Channel = ChannelWhatsApp
	}
}

func (r ActionRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return invalid("ownerId", "required")
	}
	if !r.Trigger.Valid() {
		return invalid("trigger", "must be one of group_join, group_leave, new_message")
	}
	if r.Channel != ChannelWhatsApp && r.Channel != ChannelTelegram {
		return invalid("channel", "actions run on whatsapp or telegram")
	}
	if strings.TrimSpace(r.Message) == "" {
		return invalid("message", "required")
	}
	return nil
}

// ActionExecution is the outcome recorded on a rule after it fired.
type ActionExecution struct {
	ActionID string
	At       time.Time
	Status   ActionStatus
	Error    string
}
