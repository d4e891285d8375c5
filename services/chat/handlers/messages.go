// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/AleutianAI/AleutianBrief/services/chat/events"
	"github.com/AleutianAI/AleutianBrief/services/chat/store"
	"github.com/AleutianAI/AleutianBrief/services/chat/tasks"
)

var tracer = otel.Tracer("brief.chat.handlers")

// heartbeatInterval paces keepalive comments on open SSE streams.
// Stays well under typical LB idle timeouts (60s for ALB/Nginx).
const heartbeatInterval = 15 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// ReplyStarter runs the reply pipeline for a persisted user message.
// *tasks.Pipelines satisfies it.
type ReplyStarter interface {
	ProcessChatMessage(ctx context.Context, messageID uuid.UUID, model string) error
}

// =============================================================================
// Handlers
// =============================================================================

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SendMessage handles POST /v1/chats/:chatId/messages.
//
// # Description
//
// Validates the request body, persists the user message, and dispatches
// the reply pipeline onto the task queue. Responds 202 with the created
// message; streaming output is delivered over the message topic, not
// on this response.
func SendMessage(chats store.ChatStore, queue tasks.TaskQueue, starter ReplyStarter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "SendMessage")
		defer span.End()

		chatID, err := uuid.Parse(c.Param("chatId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
			return
		}

		var req datatypes.SendMessageRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if _, err := chats.GetChat(ctx, chatID); err != nil {
			if errors.Is(err, store.ErrChatNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to load chat", "chat_id", chatID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
			return
		}

		message, err := chats.CreateMessage(ctx, chatID, req.Content, datatypes.RoleUser, datatypes.KindText)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to persist message", "chat_id", chatID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist message"})
			return
		}

		messageID := message.ID
		model := req.Model
		if err := queue.Dispatch("reply", func(taskCtx context.Context) error {
			return starter.ProcessChatMessage(taskCtx, messageID, model)
		}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to dispatch reply task", "message_id", messageID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is busy, try again"})
			return
		}

		c.JSON(http.StatusAccepted, message)
	}
}

// StreamMessage handles GET /v1/chats/:chatId/messages/:messageId/stream.
//
// # Description
//
// Bridges the Redis message topic onto an SSE response. Each published
// payload is forwarded as one frame, named by its type discriminator
// and flushed immediately. The stream terminates on message_end, on
// client disconnect, or when the subscription channel closes. Keepalive
// comments are sent between events so load balancers do not cut idle
// connections.
func StreamMessage(chats store.ChatStore, sub events.Subscriber) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "StreamMessage")
		defer span.End()

		chatID, err := uuid.Parse(c.Param("chatId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
			return
		}
		messageID, err := uuid.Parse(c.Param("messageId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
			return
		}

		chat, err := chats.GetChat(ctx, chatID)
		if err != nil {
			if errors.Is(err, store.ErrChatNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
			return
		}

		topic := datatypes.MessageTopic(chat.UserID, chatID, messageID)
		payloads, err := sub.Subscribe(ctx, topic)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to subscribe", "topic", topic, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
			return
		}

		SetSSEHeaders(c.Writer)
		stream, err := newSSEStream(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		if err := forwardEvents(ctx, stream, payloads); err != nil {
			span.RecordError(err)
			slog.Warn("Stream ended with error", "topic", topic, "error", err)
		}
	}
}

// forwardEvents copies payloads onto the SSE stream until message_end,
// channel close, or context cancellation.
func forwardEvents(ctx context.Context, stream *sseStream, payloads <-chan []byte) error {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			if err := stream.WriteKeepAlive(); err != nil {
				return err
			}
		case payload, ok := <-payloads:
			if !ok {
				return nil
			}
			eventType := payloadType(payload)
			if err := stream.WriteRaw(eventType, payload); err != nil {
				return fmt.Errorf("forward event: %w", err)
			}
			if eventType == string(datatypes.EventMessageEnd) {
				return nil
			}
		}
	}
}

// payloadType extracts the type discriminator from an event payload.
// Returns "" for payloads that do not carry one.
func payloadType(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return head.Type
}
