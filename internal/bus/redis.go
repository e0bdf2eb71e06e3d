// Package bus implements the job delivery bus on Redis Streams. Descriptors
// are appended to a per-topic stream and consumed through a consumer group,
// which gives at-least-once delivery: a message that is never acked stays in
// the group's pending list and is claimed by another consumer after its idle
// window passes.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/docsmith/docsmith/internal/core"
)

const (
	// defaultMaxStreamLen bounds stream growth; trimming is approximate.
	defaultMaxStreamLen = 10000

	// payloadField is the single stream entry field carrying the descriptor.
	payloadField = "payload"
)

// StreamPublisher appends messages to Redis Streams.
type StreamPublisher struct {
	client redis.UniversalClient
	group  string
	maxLen int64
	logger *slog.Logger
}

// StreamPublisherOptions configures a StreamPublisher.
type StreamPublisherOptions struct {
	Client redis.UniversalClient
	// Group is the consumer group created by EnsureTopic.
	Group  string
	MaxLen int64
	Logger *slog.Logger
}

// NewStreamPublisher creates a publisher backed by the given Redis client.
func NewStreamPublisher(opts StreamPublisherOptions) (*StreamPublisher, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Group == "" {
		return nil, errors.New("consumer group is required")
	}

	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxStreamLen
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StreamPublisher{
		client: opts.Client,
		group:  opts.Group,
		maxLen: maxLen,
		logger: logger.With("component", "bus_publisher"),
	}, nil
}

// EnsureTopic creates the stream and its consumer group if absent. Safe to
// call repeatedly; an existing group is not an error.
func (p *StreamPublisher) EnsureTopic(ctx context.Context, topic string) error {
	if topic == "" {
		return errors.New("topic is required")
	}

	err := p.client.XGroupCreateMkStream(ctx, topic, p.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group for %s: %w", topic, err)
	}
	return nil
}

// Publish appends the payload to the topic stream and returns the
// stream-assigned message id.
func (p *StreamPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	if len(payload) == 0 {
		return "", errors.New("payload is required")
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to %s: %w", topic, err)
	}
	return id, nil
}

// isBusyGroup reports whether err is Redis' BUSYGROUP reply, meaning the
// consumer group already exists.
func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// StreamConsumer reads messages from a topic through a consumer group. Each
// consumer gets a unique name so crashed consumers leave their deliveries in
// the pending list, where claimStale picks them up once they go idle.
type StreamConsumer struct {
	client       redis.UniversalClient
	topic        string
	group        string
	consumer     string
	blockTimeout time.Duration
	claimMinIdle time.Duration
	logger       *slog.Logger

	// claimed buffers messages taken over from idle consumers.
	claimed []*core.BusMessage
}

// StreamConsumerOptions configures a StreamConsumer.
type StreamConsumerOptions struct {
	Client redis.UniversalClient
	Topic  string
	Group  string
	// BlockTimeout bounds each blocking read; zero means 5s.
	BlockTimeout time.Duration
	// ClaimMinIdle is how long a pending delivery must sit idle before
	// another consumer may claim it; zero means 30s.
	ClaimMinIdle time.Duration
	Logger       *slog.Logger
}

// NewStreamConsumer creates a consumer with a unique consumer name.
func NewStreamConsumer(opts StreamConsumerOptions) (*StreamConsumer, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if opts.Group == "" {
		return nil, errors.New("consumer group is required")
	}

	blockTimeout := opts.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	claimMinIdle := opts.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = 30 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	consumer := "consumer-" + uuid.NewString()

	return &StreamConsumer{
		client:       opts.Client,
		topic:        opts.Topic,
		group:        opts.Group,
		consumer:     consumer,
		blockTimeout: blockTimeout,
		claimMinIdle: claimMinIdle,
		logger:       logger.With("component", "bus_consumer", "consumer", consumer),
	}, nil
}

// Receive blocks until a message arrives or ctx is done. Fresh messages are
// read first; when the stream is quiet the consumer tries to claim stale
// pending deliveries left behind by dead consumers.
func (c *StreamConsumer) Receive(ctx context.Context) (*core.BusMessage, error) {
	for {
		if len(c.claimed) > 0 {
			msg := c.claimed[0]
			c.claimed = c.claimed[1:]
			return msg, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.topic, ">"},
			Count:    1,
			Block:    c.blockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			// Nothing new within the block window; look for abandoned work.
			if claimErr := c.claimStale(ctx); claimErr != nil {
				c.logger.WarnContext(ctx, "claim stale deliveries failed", "error", claimErr)
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("xreadgroup on %s: %w", c.topic, err)
		}

		for _, stream := range streams {
			for i := range stream.Messages {
				return messageFromStream(c.topic, &stream.Messages[i], 1), nil
			}
		}
	}
}

// claimStale takes over pending deliveries that sat idle past the claim
// window, carrying their real delivery counts forward.
func (c *StreamConsumer) claimStale(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.topic,
		Group:  c.group,
		Idle:   c.claimMinIdle,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil || len(pending) == 0 {
		return err
	}

	ids := make([]string, 0, len(pending))
	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		counts[p.ID] = p.RetryCount
	}

	msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.topic,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.claimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("xclaim on %s: %w", c.topic, err)
	}

	for i := range msgs {
		deliveryCount := counts[msgs[i].ID]
		if deliveryCount < 1 {
			deliveryCount = 1
		}
		c.claimed = append(c.claimed, messageFromStream(c.topic, &msgs[i], deliveryCount))
		c.logger.InfoContext(ctx, "claimed stale delivery",
			"message_id", msgs[i].ID,
			"delivery_count", deliveryCount,
		)
	}
	return nil
}

// Ack marks the delivery as done; the message will not be redelivered.
func (c *StreamConsumer) Ack(ctx context.Context, msg *core.BusMessage) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if err := c.client.XAck(ctx, c.topic, c.group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", msg.ID, err)
	}
	return nil
}

// Close releases the consumer. The consumer entry is deliberately left in
// the group: deleting it would drop its pending deliveries from the PEL,
// while an idle entry lets claimStale on a surviving consumer pick them up.
func (c *StreamConsumer) Close() error {
	c.claimed = nil
	return nil
}

func messageFromStream(topic string, msg *redis.XMessage, deliveryCount int64) *core.BusMessage {
	return &core.BusMessage{
		ID:            msg.ID,
		Topic:         topic,
		Payload:       extractPayload(msg.Values),
		DeliveryCount: deliveryCount,
	}
}

// extractPayload pulls the payload field out of a stream entry. go-redis
// decodes entry values as strings.
func extractPayload(values map[string]any) []byte {
	raw, ok := values[payloadField]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}
