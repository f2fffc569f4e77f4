package messaging

import (
	"context"
	"errors"
	"time"

	"warranty_worker/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EmailHandler processes one email taken off the stream. A nil error acks it.
type EmailHandler interface {
	HandleEmail(ctx context.Context, email domain.RawEmail) error
}

// EmailHandlerFunc adapts a function to EmailHandler.
type EmailHandlerFunc func(ctx context.Context, email domain.RawEmail) error

func (f EmailHandlerFunc) HandleEmail(ctx context.Context, email domain.RawEmail) error {
	return f(ctx, email)
}

// Consumer reads inbound emails from a Redis Stream consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	stream   string
	handler  EmailHandler
	log      zerolog.Logger

	batchSize            int64
	block                time.Duration
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Stream   string
	Handler  EmailHandler
	Logger   zerolog.Logger

	BatchSize            int64
	Block                time.Duration
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		stream:               cfg.Stream,
		handler:              cfg.Handler,
		log:                  cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		batchSize:            cfg.BatchSize,
		block:                cfg.Block,
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
	}
	if c.stream == "" {
		c.stream = StreamInboundEmail
	}
	if c.batchSize == 0 {
		c.batchSize = 10
	}
	if c.block == 0 {
		c.block = 5 * time.Second
	}
	if c.pendingCheckInterval == 0 {
		c.pendingCheckInterval = 30 * time.Second
	}
	if c.pendingIdleTime == 0 {
		// longer than one email's processing budget
		c.pendingIdleTime = 2 * time.Minute
	}
	if c.maxRetries == 0 {
		c.maxRetries = 3
	}
	return c
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Str("stream", c.stream).
		Msg("starting consumer")

	c.createConsumerGroup(ctx)

	go c.processPendingMessages(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    c.batchSize,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from stream")
			sleep(ctx, time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

// handle acks only on success. Failed entries stay pending and are retried
// by the pending processor.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	email, err := decodeEmail(msg.Values)
	if err != nil {
		c.log.Error().Err(err).Str("id", msg.ID).Msg("undecodable entry")
		if err := c.moveToDeadLetterQueue(ctx, msg); err != nil {
			c.log.Error().Err(err).Str("id", msg.ID).Msg("error moving message to DLQ")
		}
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handler.HandleEmail(ctx, email); err != nil {
		c.log.Warn().
			Err(err).
			Str("id", msg.ID).
			Str("email_id", email.MessageID).
			Msg("email not handled, leaving pending")
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.log.Error().Err(err).Str("id", id).Msg("error acknowledging message")
	}
}

func (c *Consumer) processPendingMessages(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimAndProcessPending(ctx)
		}
	}
}

// claimAndProcessPending reclaims entries idle past pendingIdleTime.
// Entries delivered maxRetries times go to the dead letter stream.
func (c *Consumer) claimAndProcessPending(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Idle:   c.pendingIdleTime,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Msg("error getting pending messages")
		}
		return
	}

	for _, p := range pending {
		if int(p.RetryCount) >= c.maxRetries {
			c.log.Warn().
				Str("id", p.ID).
				Int64("retries", p.RetryCount).
				Msg("message exceeded max retries, moving to DLQ")

			msgs, err := c.client.XRange(ctx, c.stream, p.ID, p.ID).Result()
			if err == nil && len(msgs) > 0 {
				if err := c.moveToDeadLetterQueue(ctx, msgs[0]); err != nil {
					c.log.Error().Err(err).Str("id", p.ID).Msg("error moving message to DLQ")
				}
			}
			c.ack(ctx, p.ID)
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.pendingIdleTime,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
			continue
		}
		for _, msg := range claimed {
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) createConsumerGroup(ctx context.Context) {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		c.log.Warn().Err(err).Msg("error creating consumer group")
	}
}

func (c *Consumer) moveToDeadLetterQueue(ctx context.Context, msg redis.XMessage) error {
	values := map[string]interface{}{
		"original_stream": c.stream,
		"original_id":     msg.ID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterPrefix + c.stream,
		Values: values,
	}).Err()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
