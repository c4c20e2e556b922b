package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"castbox/internal/events"
	"castbox/internal/observability"
	"castbox/internal/providers/twilio"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, ev events.Event) error
}

// Webhook receives Twilio inbound WhatsApp messages and hands them to the
// queue. The API process consumes the queue and runs the action listener.
type Webhook struct {
	Queue           Enqueuer
	VerifySignature func(authToken, fullURL, provided string, form url.Values) bool
	AuthToken       string
	PublicURL       string
	Log             *slog.Logger
	Now             func() time.Time
}

func (w *Webhook) Register(r *mux.Router) {
	r.HandleFunc("/v1/webhooks/twilio/inbound", w.handleTwilioInbound).Methods(http.MethodPost)
}

func (w *Webhook) handleTwilioInbound(rw http.ResponseWriter, r *http.Request) {
	log := orDefault(w.Log)
	if err := r.ParseForm(); err != nil {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}
	verify := w.VerifySignature
	if verify == nil {
		verify = twilio.VerifySignature
	}
	if !verify(w.AuthToken, w.PublicURL, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
		observability.WebhookEvents.WithLabelValues("invalid_signature").Inc()
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ev, err := twilio.ParseInbound(r.PostForm, now())
	if err != nil {
		// status callbacks and other chatter are acknowledged and dropped
		observability.WebhookEvents.WithLabelValues("ignored").Inc()
		rw.WriteHeader(http.StatusOK)
		return
	}

	if err := w.Queue.Enqueue(r.Context(), ev); err != nil {
		observability.WebhookEvents.WithLabelValues("enqueue_failed").Inc()
		log.Error("webhook enqueue failed", "err", err, "message_sid", ev.MessageID, "sender", ev.Sender)
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}
	observability.WebhookEvents.WithLabelValues("accepted").Inc()
	rw.Header().Set("Content-Type", "text/xml")
	_, _ = rw.Write([]byte("<Response/>"))
}
