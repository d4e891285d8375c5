// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Event Types
// =============================================================================

// EventType discriminates the published event payloads. Serialized as
// the "type" field of every event.
type EventType string

const (
	// EventMessageStart opens a streamed reply. Carries the freshly
	// minted reply identity before any content exists.
	EventMessageStart EventType = "message_start"

	// EventMessage carries one raw content fragment of a streamed reply.
	EventMessage EventType = "message"

	// EventMessageEnd closes a streamed reply and carries the persisted
	// message's final identity, timestamp, and full content.
	EventMessageEnd EventType = "message_end"

	// EventChatTitleUpdated announces a derived chat title on the
	// chat-scoped topic.
	EventChatTitleUpdated EventType = "chat_title_updated"
)

// =============================================================================
// Topics
// =============================================================================

// MessageTopic is the per-reply streaming topic for one message.
//
// # Description
//
//	Composes the composite key "{user}:{chat}:{message}". Subscribers of
//	a single reply's stream listen here; message_start, message and
//	message_end events for that reply are published on this topic.
func MessageTopic(userID, chatID, messageID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", userID, chatID, messageID)
}

// ChatTopic is the chat-scoped topic "{user}:{chat}" carrying events
// that outlive a single reply, currently title updates.
func ChatTopic(userID, chatID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", userID, chatID)
}

// =============================================================================
// Event Payloads
// =============================================================================

// MessageStartEvent is published once before streaming begins.
type MessageStartEvent struct {
	Type   EventType `json:"type"`
	ID     uuid.UUID `json:"id"`
	ChatID uuid.UUID `json:"chat_id"`
}

// NewMessageStartEvent builds a message_start payload.
func NewMessageStartEvent(id, chatID uuid.UUID) MessageStartEvent {
	return MessageStartEvent{Type: EventMessageStart, ID: id, ChatID: chatID}
}

// MessageEvent carries a single streamed fragment. Content is the raw
// fragment text exactly as the model produced it.
type MessageEvent struct {
	Type    EventType `json:"type"`
	ID      uuid.UUID `json:"id"`
	ChatID  uuid.UUID `json:"chat_id"`
	Content string    `json:"content"`
}

// NewMessageEvent builds a message payload for one fragment.
func NewMessageEvent(id, chatID uuid.UUID, content string) MessageEvent {
	return MessageEvent{Type: EventMessage, ID: id, ChatID: chatID, Content: content}
}

// MessageEndEvent closes the stream. ID is the provisional identity the
// stream was announced under; NewID is the persisted message's durable
// identity; Content is the full accumulated reply.
type MessageEndEvent struct {
	Type      EventType `json:"type"`
	ID        uuid.UUID `json:"id"`
	NewID     uuid.UUID `json:"new_id"`
	ChatID    uuid.UUID `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
	Content   string    `json:"content"`
}

// NewMessageEndEvent builds a message_end payload.
func NewMessageEndEvent(id, newID, chatID uuid.UUID, createdAt time.Time, content string) MessageEndEvent {
	return MessageEndEvent{
		Type:      EventMessageEnd,
		ID:        id,
		NewID:     newID,
		ChatID:    chatID,
		CreatedAt: createdAt,
		Content:   content,
	}
}

// ChatTitleUpdatedEvent announces a new chat title on the chat topic.
// ID echoes the reply identity whose derivation produced the title.
type ChatTitleUpdatedEvent struct {
	Type    EventType `json:"type"`
	ID      uuid.UUID `json:"id"`
	Content string    `json:"content"`
}

// NewChatTitleUpdatedEvent builds a chat_title_updated payload.
func NewChatTitleUpdatedEvent(id uuid.UUID, title string) ChatTitleUpdatedEvent {
	return ChatTitleUpdatedEvent{Type: EventChatTitleUpdated, ID: id, Content: title}
}
