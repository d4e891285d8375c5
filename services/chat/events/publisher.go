// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events wraps the pub/sub boundary for streamed reply and
// chat events.
//
// Topics are composite keys built by datatypes.MessageTopic and
// datatypes.ChatTopic; payloads are the JSON event structs from the
// same package. Publishing is fire-and-forget with respect to
// subscribers: a topic with no listener drops the event, which is the
// intended semantics for a client that disconnected mid-stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("brief.chat.events")

// Publisher emits one event payload on a topic.
type Publisher interface {
	// Publish serializes payload as JSON and emits it on topic.
	Publish(ctx context.Context, topic string, payload any) error
}

// Subscriber delivers raw event payloads from a topic.
type Subscriber interface {
	// Subscribe returns a channel of raw JSON payloads published on
	// topic. The channel closes when ctx is canceled.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}

// =============================================================================
// Redis Implementation
// =============================================================================

// RedisBus implements Publisher and Subscriber on Redis pub/sub.
//
// # Thread Safety
//
// Safe for concurrent use. Each Subscribe call owns its own Redis
// subscription.
type RedisBus struct {
	client *redis.Client
}

var (
	_ Publisher  = (*RedisBus)(nil)
	_ Subscriber = (*RedisBus)(nil)
)

// NewRedisBus creates a bus on the given client. The connection is
// verified with a ping so a bad address fails at bootstrap, not at the
// first stream.
func NewRedisBus(ctx context.Context, client *redis.Client) (*RedisBus, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBus{client: client}, nil
}

// Publish serializes payload as JSON and emits it on topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload any) error {
	ctx, span := tracer.Start(ctx, "Publish")
	defer span.End()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	if err := b.client.Publish(ctx, topic, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}

// Close releases the underlying Redis connection. Open subscriptions
// see their channels close.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// Subscribe returns a channel of raw payloads published on topic.
//
// # Description
//
// The subscription is confirmed with the Redis server before this
// returns, so events published afterwards are not missed. The returned
// channel closes when ctx is canceled or the connection drops.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ctx, span := tracer.Start(ctx, "Subscribe")
	defer span.End()

	sub := b.client.Subscribe(ctx, topic)

	// Receive forces the SUBSCRIBE round-trip to complete.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				slog.Warn("Failed to close Redis subscription", "topic", topic, "error", err)
			}
		}()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
