// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the chat service.
//
// This file contains the chat entities and inbound request types. For
// memo entities see memo.go; for published event payloads see events.go.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message.
	// Byte length, not rune count, to bound allocation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MemoTriggerMarker in a user message requests memo generation
	// instead of a streamed reply.
	MemoTriggerMarker = "@memo"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageContentBytes on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Roles and Kinds
// =============================================================================

// MessageRole tags a chat message with its author.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageKind distinguishes plain replies from memo placeholders.
type MessageKind string

const (
	// KindText is an ordinary conversational message.
	KindText MessageKind = "text"

	// KindMemo marks an assistant placeholder whose content lives in the
	// memo sections attached to it.
	KindMemo MessageKind = "memo"
)

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	// StatusUploading means the document bytes are still arriving.
	StatusUploading DocumentStatus = "uploading"

	// StatusProcessing means the document is being chunked and indexed.
	StatusProcessing DocumentStatus = "processing"

	// StatusReady means the document is retrievable as context.
	StatusReady DocumentStatus = "ready"
)

// =============================================================================
// Entities
// =============================================================================

// ChatMessage is one persisted turn in a chat.
//
// Messages are immutable once persisted except for soft deletion
// (DeletedAt). The assistant reply for a user message is a separate
// ChatMessage created by the reply pipeline.
type ChatMessage struct {
	ID        uuid.UUID   `json:"id"`
	ChatID    uuid.UUID   `json:"chat_id"`
	UserID    uuid.UUID   `json:"user_id"`
	Role      MessageRole `json:"role"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty"`
}

// Chat is a conversation owned by one user.
//
// Title is set at most once under normal operation; see the title
// deriver for the guarded write semantics.
type Chat struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	Title     string        `json:"title,omitempty"`
	Messages  []ChatMessage `json:"messages,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// UserSettings are the per-user knobs the pipelines consult.
type UserSettings struct {
	// Model overrides the caller-supplied model identifier when set.
	Model string `json:"model,omitempty"`

	// SimpleMode selects the simple prompt strategy over the
	// contextual one.
	SimpleMode bool `json:"simple_mode"`
}

// User is the owner of chats and documents.
type User struct {
	ID        uuid.UUID    `json:"id"`
	Email     string       `json:"email"`
	Settings  UserSettings `json:"settings"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
}

// Deleted reports whether the user is soft-deleted.
func (u *User) Deleted() bool {
	return u.DeletedAt != nil
}

// =============================================================================
// Inbound Request Types
// =============================================================================

// SendMessageRequest is the HTTP payload creating a user message.
type SendMessageRequest struct {
	// Content is the user's message text. Required, bounded.
	Content string `json:"content" validate:"required,maxbytes"`

	// Model optionally names the model to reply with. When empty the
	// service default is used.
	Model string `json:"model,omitempty" validate:"omitempty,max=64"`
}

// Validate checks the request against its constraints.
func (r *SendMessageRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid message request: %w", err)
	}
	return nil
}
