// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store defines the data-access contracts for the chat service
// and a Weaviate-backed implementation.
//
// The pipelines in services/chat/tasks depend only on the interfaces
// here; tests substitute in-memory fakes.
package store

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/google/uuid"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrMessageNotFound means the message id resolved to nothing.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUserNotFound means the user id resolved to nothing or to a
	// soft-deleted user.
	ErrUserNotFound = errors.New("user not found")

	// ErrChatNotFound means the chat id resolved to nothing.
	ErrChatNotFound = errors.New("chat not found")
)

// =============================================================================
// Store Interfaces
// =============================================================================

// ChatStore is the data-access contract for chats and messages.
//
// # Description
//
// All methods are safe for concurrent use. SetChatTitle serializes title
// decisions per chat: when overwrite is false, at most one concurrent
// caller observes a true return for a given chat, all others see false.
type ChatStore interface {
	// GetMessage fetches one message by id. Returns ErrMessageNotFound
	// if absent or soft-deleted.
	GetMessage(ctx context.Context, id uuid.UUID) (*datatypes.ChatMessage, error)

	// GetChat fetches one chat by id. Returns ErrChatNotFound if absent.
	GetChat(ctx context.Context, id uuid.UUID) (*datatypes.Chat, error)

	// CreateMessage persists a new message in the given chat and
	// returns it with its durable identity and timestamp.
	CreateMessage(ctx context.Context, chatID uuid.UUID, content string, role datatypes.MessageRole, kind datatypes.MessageKind) (*datatypes.ChatMessage, error)

	// GetChatDocumentIDs returns the ids of documents attached to the
	// chat. When onlyReady is true, documents still uploading or
	// processing are excluded.
	GetChatDocumentIDs(ctx context.Context, chatID uuid.UUID, onlyReady bool) ([]uuid.UUID, error)

	// SetChatTitle writes the chat title. When overwrite is false the
	// write happens only if no title is set yet; the bool reports
	// whether a write occurred.
	SetChatTitle(ctx context.Context, chatID uuid.UUID, title string, overwrite bool) (bool, error)
}

// UserStore fetches users for pipeline precondition checks.
type UserStore interface {
	// GetUser fetches one user by id. Soft-deleted users return
	// ErrUserNotFound.
	GetUser(ctx context.Context, id uuid.UUID) (*datatypes.User, error)
}

// MemoStore is the data-access contract for memos and their sections.
type MemoStore interface {
	// GetOrCreateMemo returns the memo owned by the given trigger
	// message, creating it if absent. userID and userPrompt are
	// persisted on first creation; calling twice with the same
	// message id yields the same memo.
	GetOrCreateMemo(ctx context.Context, messageID, chatID, userID uuid.UUID, userPrompt string) (*datatypes.Memo, error)

	// CreateSection persists one generated memo section. group is the
	// display label, index the 0-based position within the group.
	CreateSection(ctx context.Context, memoID uuid.UUID, group, name, prompt, content string, index int) (*datatypes.MemoSection, error)
}
