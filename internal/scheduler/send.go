package scheduler

import (
	"context"

	"castbox/internal/channel"
	"castbox/internal/domain"
)

// Send delivers req to every recipient right away and returns one outcome
// per recipient. Nothing is persisted. A request the channel rejects up
// front is a ValidationError; per-recipient failures are only reported.
func (s *Service) Send(ctx context.Context, req domain.SendRequest) ([]domain.DeliveryAttempt, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	msg := channel.Message{Text: req.Message, Subject: req.Subject, Media: req.Media}
	sender, err := s.admit(req.Channel, msg, req.Recipients)
	if err != nil {
		return nil, err
	}

	results := s.fanOut(ctx, sender, req.Channel, req.Recipients.All(), msg)
	out := make([]domain.DeliveryAttempt, len(results))
	for i, r := range results {
		out[i] = attempt("", req.Channel, r)
	}

	failed, summary := summarize(results)
	if failed > 0 {
		s.log.Warn("message sent with failures",
			"owner_id", req.OwnerID,
			"channel", req.Channel,
			"recipients", len(results),
			"failed", failed,
			"err", summary,
		)
	} else {
		s.log.Info("message sent", "owner_id", req.OwnerID, "channel", req.Channel, "recipients", len(results))
	}
	return out, nil
}
