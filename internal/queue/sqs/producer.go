// Package sqsqueue carries inbound channel events between the webhook edge
// and the API process over SQS.
package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"castbox/internal/events"
	"castbox/internal/observability"
)

// API is the subset of *sqs.Client the queue uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

const defaultGroupBuckets = 64

type Producer struct {
	SQS      API
	QueueURL string

	// GroupBuckets spreads chats over FIFO message groups. Only used when
	// QueueURL names a .fifo queue.
	GroupBuckets int
}

func (p *Producer) Enqueue(ctx context.Context, ev events.Event) error {
	if !ev.Trigger.Valid() {
		return errors.New("sqs enqueue: event has no valid trigger")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		// per-chat ordering; duplicates of a provider message collapse
		in.MessageGroupId = str(messageGroupIDBucketed(string(ev.Channel), ev.ChatID, p.GroupBuckets))
		if ev.MessageID != "" {
			in.MessageDeduplicationId = str(string(ev.Channel) + ":" + ev.MessageID)
		}
	}

	if _, err := p.SQS.SendMessage(ctx, in); err != nil {
		observability.InboundEnqueues.WithLabelValues("error").Inc()
		return fmt.Errorf("sqs enqueue %s event: %w", ev.Trigger, err)
	}
	observability.InboundEnqueues.WithLabelValues("ok").Inc()
	return nil
}

func messageGroupIDBucketed(channel, chatID string, buckets int) string {
	if buckets <= 0 {
		buckets = defaultGroupBuckets
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	return fmt.Sprintf("%s-%d", channel, h.Sum32()%uint32(buckets))
}

func str(s string) *string { return &s }
