// Package twilio sends WhatsApp messages through the Twilio Messages API
// and parses its inbound webhooks.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"castbox/internal/channel"
	"castbox/internal/domain"
	"castbox/internal/util"
)

const whatsappPrefix = "whatsapp:"

type Client struct {
	AccountSID string
	AuthToken  string
	HTTP       *http.Client

	// From is the WhatsApp enabled sender number, with or without prefix.
	From    string
	BaseURL string
}

type SendResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

// Validate implements channel.Validator. It rejects the shapes Send would
// fail permanently on every firing.
func (c *Client) Validate(msg channel.Message, to domain.Recipients) error {
	if len(to.Groups) > 0 {
		return fmt.Errorf("%w: twilio cannot send to whatsapp groups", channel.ErrUnsupported)
	}
	for _, t := range to.Direct {
		if !util.IsE164(util.NormalizePhone(t)) {
			return fmt.Errorf("%w: target %q is not a phone number", channel.ErrUnsupported, t)
		}
	}
	if m := msg.Media; m != nil && m.URL == "" {
		return fmt.Errorf("%w: twilio only accepts media by url", channel.ErrUnsupported)
	}
	return nil
}

// Send implements channel.Sender. Only phone targets and URL media are
// supported; group ids, local files and inline data fail permanently.
func (c *Client) Send(ctx context.Context, target string, msg channel.Message) (channel.Receipt, error) {
	to := util.NormalizePhone(target)
	if !util.IsE164(to) {
		return channel.Receipt{}, channel.Permanent(domain.ChannelWhatsApp, target,
			fmt.Errorf("%w: target %q is not a phone number", channel.ErrUnsupported, target))
	}

	form := url.Values{}
	form.Set("To", whatsappPrefix+to)
	form.Set("From", whatsappPrefix+util.NormalizePhone(c.From))
	if msg.Text != "" {
		form.Set("Body", msg.Text)
	}
	if m := msg.Media; m != nil {
		if m.URL == "" {
			return channel.Receipt{}, channel.Permanent(domain.ChannelWhatsApp, target,
				fmt.Errorf("%w: twilio only accepts media by url", channel.ErrUnsupported))
		}
		form.Set("MediaUrl", m.URL)
	}

	resp, status, err := c.post(ctx, form)
	if err != nil {
		return channel.Receipt{}, &channel.Error{
			Channel:    domain.ChannelWhatsApp,
			Target:     target,
			Err:        err,
			Transient:  channel.IsTransient(err) || channel.TransientStatus(status),
			HTTPStatus: status,
		}
	}
	return channel.Receipt{ProviderMsgID: resp.Sid}, nil
}

func (c *Client) post(ctx context.Context, form url.Values) (SendResponse, int, error) {
	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	endpoint := baseURL + "/2010-04-01/Accounts/" + c.AccountSID + "/Messages.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResponse{}, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.AccountSID, c.AuthToken)

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return SendResponse{}, 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out SendResponse
	_ = json.Unmarshal(b, &out)

	// Twilio returns 201 for created; treat 2xx as success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message != "" {
			return out, resp.StatusCode, fmt.Errorf("twilio %d: %s", resp.StatusCode, out.Message)
		}
		return out, resp.StatusCode, errors.New("twilio send failed")
	}
	return out, resp.StatusCode, nil
}
