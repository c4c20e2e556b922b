package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"castbox/internal/channel"
	"castbox/internal/domain"
	"castbox/internal/events"
	"castbox/internal/observability"
	"castbox/internal/util"
)

type Senders interface {
	Get(ch domain.Channel) (channel.Sender, bool)
}

type ExecutionRecorder interface {
	RecordActionExecution(ctx context.Context, e domain.ActionExecution) error
}

type ListenerConfig struct {
	Rules    *RuleCache
	Senders  Senders
	Recorder ExecutionRecorder
	Gate     *DailyGate
	Log      *slog.Logger
	Location *time.Location
	Now      func() time.Time
}

// Listener matches inbound events against active rules and sends the
// rendered replies.
type Listener struct {
	rules    *RuleCache
	senders  Senders
	recorder ExecutionRecorder
	gate     *DailyGate
	log      *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewListener(cfg ListenerConfig) *Listener {
	l := &Listener{
		rules:    cfg.Rules,
		senders:  cfg.Senders,
		recorder: cfg.Recorder,
		gate:     cfg.Gate,
		log:      cfg.Log,
		loc:      cfg.Location,
		now:      cfg.Now,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.loc == nil {
		l.loc = time.UTC
	}
	if l.gate == nil {
		l.gate = NewDailyGate(l.loc)
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Result summarises one handled event.
type Result struct {
	Matched   int
	Sent      int
	Failed    int
	Debounced bool
}

func (l *Listener) Handle(ctx context.Context, ev events.Event) Result {
	var res Result
	if !ev.Trigger.Valid() {
		return res
	}
	if ev.Trigger == domain.TriggerNewMessage && (ev.IsGroup || ev.FromMe) {
		return res
	}

	rules, err := l.rules.RulesFor(ctx, ev.Trigger)
	if err != nil {
		l.log.Error("action rules unavailable", "trigger", ev.Trigger, "err", err)
		return res
	}
	matched := make([]domain.ScheduledAction, 0, len(rules))
	for _, r := range rules {
		if Matches(r, ev) {
			matched = append(matched, r)
		}
	}
	res.Matched = len(matched)
	if len(matched) == 0 {
		return res
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = l.now()
	}
	gateKey := string(ev.Channel) + ":" + ev.Sender
	if ev.Trigger == domain.TriggerNewMessage {
		if !l.gate.Acquire(gateKey, at) {
			res.Debounced = true
			return res
		}
	}

	errs := make([]error, len(matched))
	var wg sync.WaitGroup
	for i, r := range matched {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = l.execute(ctx, r, ev, at)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			res.Failed++
		} else {
			res.Sent++
		}
	}
	if ev.Trigger == domain.TriggerNewMessage && res.Sent == 0 {
		l.gate.Release(gateKey, at)
	}
	return res
}

func (l *Listener) execute(ctx context.Context, r domain.ScheduledAction, ev events.Event, at time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sender panic: %v", p)
		}
		l.record(ctx, r, ev, err)
	}()

	sender, ok := l.senders.Get(r.Channel)
	if !ok {
		return errors.New("channel is not configured")
	}
	text := Render(r.Message, ev, at.In(l.loc))
	_, err = sender.Send(ctx, ev.ChatID, channel.Message{Text: text})
	return err
}

func (l *Listener) record(ctx context.Context, r domain.ScheduledAction, ev events.Event, sendErr error) {
	exec := domain.ActionExecution{ActionID: r.ID, At: l.now(), Status: domain.ActionSuccess}
	if sendErr != nil {
		exec.Status = domain.ActionFailed
		exec.Error = sendErr.Error()
		l.log.Warn("action failed", "action_id", r.ID, "trigger", r.Trigger, "chat_id", ev.ChatID, "err", sendErr)
	} else {
		l.log.Info("action executed", "action_id", r.ID, "trigger", r.Trigger, "chat_id", ev.ChatID)
	}
	observability.ActionExecutions.WithLabelValues(string(r.Trigger), string(exec.Status)).Inc()
	if err := l.recorder.RecordActionExecution(ctx, exec); err != nil {
		l.log.Warn("action execution write failed", "action_id", r.ID, "err", err)
	}
}

type Subscriber interface {
	Subscribe(buffer int) *events.Subscription
}

// Run handles bus events until ctx ends or the bus closes.
func (l *Listener) Run(ctx context.Context, bus Subscriber, buffer int) error {
	sub := bus.Subscribe(buffer)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			l.Handle(ctx, ev)
		}
	}
}

// Matches applies channel and scope filters. Membership rules match Groups
// against the chat, message rules match Contacts against the sender. An
// empty list matches everything.
func Matches(r domain.ScheduledAction, ev events.Event) bool {
	if !r.IsActive || r.Trigger != ev.Trigger || r.Channel != ev.Channel {
		return false
	}
	switch ev.Trigger {
	case domain.TriggerGroupJoin, domain.TriggerGroupLeave:
		return inScope(r.Groups, ev.ChatID, ev.Channel)
	case domain.TriggerNewMessage:
		return inScope(r.Contacts, ev.Sender, ev.Channel)
	}
	return false
}

func inScope(scope []string, id string, ch domain.Channel) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if s == id {
			return true
		}
		if ch == domain.ChannelWhatsApp && util.NormalizePhone(s) == util.NormalizePhone(id) {
			return true
		}
	}
	return false
}

// Render fills {participant}, {event}, {message} and {timestamp}.
func Render(tmpl string, ev events.Event, at time.Time) string {
	participant := ev.Participant
	if participant == "" {
		participant = ev.Sender
	}
	return util.RenderTemplate(tmpl, map[string]string{
		"participant": participant,
		"event":       string(ev.Trigger),
		"message":     ev.Body,
		"timestamp":   at.Format("2006-01-02 15:04:05"),
	})
}
