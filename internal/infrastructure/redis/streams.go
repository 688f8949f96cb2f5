package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carnil/carnil/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

// WebhookEventStream receives every verified webhook event.
const WebhookEventStream = "carnil:webhook-events"

// Stream message fields.
const (
	fieldEventID    = "event_id"
	fieldType       = "type"
	fieldProvider   = "provider"
	fieldPayload    = "payload"
	fieldReceivedAt = "received_at"
)

// EventPublisher appends verified webhook events to a Redis stream. It
// satisfies webhook.Sink.
type EventPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewEventPublisher returns a publisher for stream, trimming it to roughly
// maxLen entries. maxLen <= 0 disables trimming.
func NewEventPublisher(client *redis.Client, stream string, maxLen int64) *EventPublisher {
	return &EventPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *EventPublisher) Handle(ctx context.Context, evt *event.WebhookEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			fieldEventID:    evt.ID,
			fieldType:       string(evt.Type),
			fieldProvider:   evt.Provider,
			fieldPayload:    string(payload),
			fieldReceivedAt: evt.ReceivedAt.UnixMilli(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish webhook event: %w", err)
	}
	return nil
}

// DecodeEvent rebuilds the webhook event carried by a stream message.
func DecodeEvent(msg redis.XMessage) (*event.WebhookEvent, error) {
	payload, ok := msg.Values[fieldPayload].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no payload", msg.ID)
	}
	var evt event.WebhookEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	return &evt, nil
}

type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client *redis.Client,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string { return c.stream }

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read returns up to batchSize new messages, blocking for at most
// blockDuration. No messages is not an error.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.stream, c.group, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// ClaimStale takes over messages other consumers left pending for longer
// than minIdle.
func (c *StreamConsumer) ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	return msgs, nil
}
