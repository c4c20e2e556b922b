package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"castbox/internal/domain"
	"castbox/internal/events"
	"castbox/internal/util"
)

// VerifySignature checks X-Twilio-Signature in constant time.
func VerifySignature(authToken, fullURL, provided string, form url.Values) bool {
	expected := Sign(authToken, fullURL, form)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Sign computes the X-Twilio-Signature value for a request.
func Sign(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// fullURL + concatenated sorted key + value
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		// Twilio uses first value for each key in typical webhooks
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

var ErrNotInbound = errors.New("twilio: form is not an inbound whatsapp message")

// ParseInbound maps an incoming WhatsApp message webhook to a new_message
// event. Twilio does not report WhatsApp group membership changes.
func ParseInbound(form url.Values, now time.Time) (events.Event, error) {
	from := form.Get("From")
	sid := form.Get("MessageSid")
	if !strings.HasPrefix(from, whatsappPrefix) || sid == "" {
		return events.Event{}, ErrNotInbound
	}
	sender := util.NormalizePhone(from)
	return events.Event{
		Channel:    domain.ChannelWhatsApp,
		Trigger:    domain.TriggerNewMessage,
		ChatID:     sender,
		Sender:     sender,
		Body:       form.Get("Body"),
		MessageID:  sid,
		OccurredAt: now.UTC(),
	}, nil
}
