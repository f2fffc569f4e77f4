// Package messaging provides the Redis Streams inbound email queue.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"warranty_worker/core/domain"
	"warranty_worker/core/port/out"

	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamInboundEmail = "warranty:inbound"
	deadLetterPrefix   = "dlq:"
)

// dataField is the single stream entry field holding the JSON payload.
const dataField = "data"

// RedisProducer implements out.EmailQueue using Redis Streams.
type RedisProducer struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisProducer creates a new RedisProducer. maxLen caps the stream
// approximately; zero leaves it unbounded.
func NewRedisProducer(client *redis.Client, stream string, maxLen int64) *RedisProducer {
	if stream == "" {
		stream = StreamInboundEmail
	}
	return &RedisProducer{client: client, stream: stream, maxLen: maxLen}
}

// Publish enqueues one inbound email.
func (p *RedisProducer) Publish(ctx context.Context, email domain.RawEmail) error {
	values, err := encodeEmail(email)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.stream, err)
	}
	return nil
}

// Len returns the current stream length.
func (p *RedisProducer) Len(ctx context.Context) (int64, error) {
	return p.client.XLen(ctx, p.stream).Result()
}

func encodeEmail(email domain.RawEmail) (map[string]interface{}, error) {
	data, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email: %w", err)
	}
	return map[string]interface{}{
		dataField:    string(data),
		"message_id": email.MessageID,
	}, nil
}

func decodeEmail(values map[string]interface{}) (domain.RawEmail, error) {
	var email domain.RawEmail

	data, ok := values[dataField]
	if !ok {
		return email, fmt.Errorf("invalid message format: missing data field")
	}
	dataStr, ok := data.(string)
	if !ok {
		return email, fmt.Errorf("invalid message format: data is not a string")
	}
	if err := json.Unmarshal([]byte(dataStr), &email); err != nil {
		return email, fmt.Errorf("invalid message payload: %w", err)
	}
	return email, nil
}

var _ out.EmailQueue = (*RedisProducer)(nil)
