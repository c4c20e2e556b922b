package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"castbox/internal/events"
)

type Consumer struct {
	SQS      API
	QueueURL string
	Log      *slog.Logger

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

type Handler func(ctx context.Context, ev events.Event) error

// Decode parses a queue body into an event, rejecting unknown triggers.
func Decode(body string) (events.Event, error) {
	var ev events.Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return ev, err
	}
	if !ev.Trigger.Valid() {
		return ev, fmt.Errorf("unknown trigger %q", ev.Trigger)
	}
	return ev, nil
}

// PollConcurrent processes inbound events with a worker pool until ctx ends.
// Messages are deleted once the handler succeeds; a failed message is left
// for SQS redrive. Undecodable bodies are deleted.
func (c *Consumer) PollConcurrent(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	// deletes must still land for messages handled while shutting down
	deleteCtx := context.WithoutCancel(ctx)

	jobs := make(chan types.Message, workers*2)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				if m.Body == nil {
					c.delete(deleteCtx, m)
					continue
				}
				ev, err := Decode(*m.Body)
				if err != nil {
					log.Warn("sqs dropping bad inbound event", "err", err)
					c.delete(deleteCtx, m)
					continue
				}
				if err := handler(ctx, ev); err != nil {
					log.Error("sqs inbound handler error", "err", err, "channel", ev.Channel, "trigger", ev.Trigger, "chat_id", ev.ChatID)
					continue
				}
				c.delete(deleteCtx, m)
			}
		}()
	}

	err := c.receive(ctx, jobs, log)
	close(jobs)
	wg.Wait()
	return err
}

func (c *Consumer) receive(ctx context.Context, jobs chan<- types.Message, log *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.QueueURL,
			MaxNumberOfMessages: c.MaxMessages,
			WaitTimeSeconds:     c.WaitTimeSeconds,
			VisibilityTimeout:   c.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("sqs receive message failed", "err", err)
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, m := range out.Messages {
			select {
			case jobs <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *Consumer) delete(ctx context.Context, m types.Message) {
	_, _ = c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	})
}
