// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("brief.chat.store")

// Weaviate class names used by the chat service.
const (
	classChatMessage  = "ChatMessage"
	classChat         = "Chat"
	classUser         = "User"
	classChatDocument = "ChatDocument"
	classMemo         = "Memo"
	classMemoSection  = "MemoSection"
)

// WeaviateStore implements ChatStore, UserStore, and MemoStore on a
// single Weaviate instance.
//
// # Description
//
// Entities live in dedicated classes (ChatMessage, Chat, User,
// ChatDocument, Memo, MemoSection) keyed by their Weaviate object UUID.
// Cross-entity links are plain id properties rather than beacons so
// queries stay single-class.
//
// # Thread Safety
//
// Safe for concurrent use. Title writes and memo creation are
// serialized per chat / per trigger message within this process; see
// SetChatTitle and GetOrCreateMemo.
type WeaviateStore struct {
	client *weaviate.Client

	// titleLocks serializes set-if-unset title decisions per chat id.
	titleLocks sync.Map // uuid.UUID -> *sync.Mutex

	// memoLocks serializes get-or-create per trigger message id.
	memoLocks sync.Map // uuid.UUID -> *sync.Mutex
}

var (
	_ ChatStore = (*WeaviateStore)(nil)
	_ UserStore = (*WeaviateStore)(nil)
	_ MemoStore = (*WeaviateStore)(nil)
)

// NewWeaviateStore creates a store backed by the given Weaviate client.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

// =============================================================================
// ChatStore
// =============================================================================

// GetMessage fetches one message by id.
//
// # Outputs
//
//   - *datatypes.ChatMessage: The message, if present and not soft-deleted.
//   - error: ErrMessageNotFound for absent or deleted messages, or a
//     wrapped Weaviate error.
func (s *WeaviateStore) GetMessage(ctx context.Context, id uuid.UUID) (*datatypes.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "GetMessage")
	defer span.End()

	fields := []graphql.Field{
		{Name: "chat_id"},
		{Name: "user_id"},
		{Name: "role"},
		{Name: "kind"},
		{Name: "content"},
		{Name: "created_at"},
		{Name: "deleted_at"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(classChatMessage).
		WithFields(fields...).
		WithWhere(idFilter(id)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate message query failed: %w", err)
	}

	parsed, err := ParseGraphQLResponse[messageQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message results: %w", err)
	}
	if len(parsed.Get.ChatMessage) == 0 {
		return nil, fmt.Errorf("message %s: %w", id, ErrMessageNotFound)
	}

	raw := parsed.Get.ChatMessage[0]
	if raw.DeletedAt != nil {
		return nil, fmt.Errorf("message %s is deleted: %w", id, ErrMessageNotFound)
	}

	msg, err := raw.toMessage()
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetChat fetches one chat by id.
func (s *WeaviateStore) GetChat(ctx context.Context, id uuid.UUID) (*datatypes.Chat, error) {
	ctx, span := tracer.Start(ctx, "GetChat")
	defer span.End()

	fields := []graphql.Field{
		{Name: "user_id"},
		{Name: "title"},
		{Name: "created_at"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(classChat).
		WithFields(fields...).
		WithWhere(idFilter(id)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate chat query failed: %w", err)
	}

	parsed, err := ParseGraphQLResponse[chatQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chat results: %w", err)
	}
	if len(parsed.Get.Chat) == 0 {
		return nil, fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}

	raw := parsed.Get.Chat[0]
	userID, err := uuid.Parse(raw.UserID)
	if err != nil {
		return nil, fmt.Errorf("chat %s has malformed user_id %q: %w", id, raw.UserID, err)
	}

	return &datatypes.Chat{
		ID:        id,
		UserID:    userID,
		Title:     raw.Title,
		CreatedAt: time.UnixMilli(raw.CreatedAt),
	}, nil
}

// CreateMessage persists a new message in the given chat.
//
// # Description
//
// The chat must exist; its user_id is copied onto the message so the
// message topic can be composed without a second lookup. The object id
// is minted here rather than by Weaviate so callers get a uuid.UUID
// back without re-parsing.
func (s *WeaviateStore) CreateMessage(ctx context.Context, chatID uuid.UUID, content string, role datatypes.MessageRole, kind datatypes.MessageKind) (*datatypes.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "CreateMessage")
	defer span.End()

	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	now := time.Now().UTC()
	props := messageProperties{
		ChatID:    chatID.String(),
		UserID:    chat.UserID.String(),
		Role:      string(role),
		Kind:      string(kind),
		Content:   content,
		CreatedAt: now.UnixMilli(),
	}

	result, err := s.client.Data().Creator().
		WithClassName(classChatMessage).
		WithID(id.String()).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if result == nil || result.Object == nil {
		return nil, fmt.Errorf("weaviate created a message but returned a nil result")
	}

	slog.Debug("Persisted chat message",
		"messageID", id, "chatID", chatID, "role", role, "kind", kind)

	return &datatypes.ChatMessage{
		ID:        id,
		ChatID:    chatID,
		UserID:    chat.UserID,
		Role:      role,
		Kind:      kind,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// GetChatDocumentIDs returns ids of documents attached to the chat,
// optionally restricted to those in the ready state.
func (s *WeaviateStore) GetChatDocumentIDs(ctx context.Context, chatID uuid.UUID, onlyReady bool) ([]uuid.UUID, error) {
	ctx, span := tracer.Start(ctx, "GetChatDocumentIDs")
	defer span.End()

	chatFilter := filters.Where().
		WithPath([]string{"chat_id"}).
		WithOperator(filters.Equal).
		WithValueString(chatID.String())

	where := chatFilter
	if onlyReady {
		readyFilter := filters.Where().
			WithPath([]string{"status"}).
			WithOperator(filters.Equal).
			WithValueString(string(datatypes.StatusReady))
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{chatFilter, readyFilter})
	}

	fields := []graphql.Field{
		{Name: "chat_id"},
		{Name: "status"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(classChatDocument).
		WithFields(fields...).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate document query failed: %w", err)
	}

	parsed, err := ParseGraphQLResponse[documentQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document results: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(parsed.Get.ChatDocument))
	for _, doc := range parsed.Get.ChatDocument {
		docID, err := uuid.Parse(doc.Additional.ID)
		if err != nil {
			slog.Warn("Skipping document with malformed id",
				"chatID", chatID, "rawID", doc.Additional.ID)
			continue
		}
		ids = append(ids, docID)
	}
	return ids, nil
}

// SetChatTitle writes the chat title.
//
// # Description
//
// When overwrite is false this is a guarded set-if-unset: the current
// title is read and the write is skipped if one exists. The
// read-check-write sequence holds a per-chat mutex, so concurrent
// derivation attempts within this process cannot both win.
//
// # Outputs
//
//   - bool: true if the title was written, false if it was left as-is.
//   - error: Non-nil on lookup or write failure.
//
// # Limitations
//
//   - The guard is process-local. Multiple service replicas need a
//     shared lock or a conditional write at the database.
func (s *WeaviateStore) SetChatTitle(ctx context.Context, chatID uuid.UUID, title string, overwrite bool) (bool, error) {
	ctx, span := tracer.Start(ctx, "SetChatTitle")
	defer span.End()

	mu := s.lockFor(&s.titleLocks, chatID)
	mu.Lock()
	defer mu.Unlock()

	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return false, err
	}
	if chat.Title != "" && !overwrite {
		slog.Debug("Chat already titled, skipping", "chatID", chatID)
		return false, nil
	}

	err = s.client.Data().Updater().
		WithClassName(classChat).
		WithID(chatID.String()).
		WithMerge().
		WithProperties(map[string]interface{}{
			"title": title,
		}).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update chat title: %w", err)
	}

	slog.Info("Chat title set", "chatID", chatID, "title", title)
	return true, nil
}

// =============================================================================
// UserStore
// =============================================================================

// GetUser fetches one user by id. Soft-deleted users are reported as
// not found so pipelines treat them like missing users.
func (s *WeaviateStore) GetUser(ctx context.Context, id uuid.UUID) (*datatypes.User, error) {
	ctx, span := tracer.Start(ctx, "GetUser")
	defer span.End()

	fields := []graphql.Field{
		{Name: "email"},
		{Name: "model"},
		{Name: "simple_mode"},
		{Name: "deleted_at"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(classUser).
		WithFields(fields...).
		WithWhere(idFilter(id)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate user query failed: %w", err)
	}

	parsed, err := ParseGraphQLResponse[userQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user results: %w", err)
	}
	if len(parsed.Get.User) == 0 {
		return nil, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}

	raw := parsed.Get.User[0]
	if raw.DeletedAt != nil {
		return nil, fmt.Errorf("user %s is deleted: %w", id, ErrUserNotFound)
	}

	user := &datatypes.User{
		ID:    id,
		Email: raw.Email,
		Settings: datatypes.UserSettings{
			Model: raw.Model,
		},
	}
	if raw.SimpleMode != nil {
		user.Settings.SimpleMode = *raw.SimpleMode
	}
	return user, nil
}

// =============================================================================
// MemoStore
// =============================================================================

// GetOrCreateMemo returns the memo attached to the trigger message,
// creating it if absent. The lookup-then-create holds a per-message
// mutex so concurrent retries of the same memo task share one Memo.
func (s *WeaviateStore) GetOrCreateMemo(ctx context.Context, messageID, chatID, userID uuid.UUID, userPrompt string) (*datatypes.Memo, error) {
	ctx, span := tracer.Start(ctx, "GetOrCreateMemo")
	defer span.End()

	mu := s.lockFor(&s.memoLocks, messageID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.findMemoByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		slog.Debug("Reusing existing memo",
			"memoID", existing.ID, "messageID", messageID)
		return existing, nil
	}

	id := uuid.New()
	now := time.Now().UTC()
	props := memoProperties{
		MessageID:  messageID.String(),
		ChatID:     chatID.String(),
		UserID:     userID.String(),
		UserPrompt: userPrompt,
		CreatedAt:  now.UnixMilli(),
	}

	result, err := s.client.Data().Creator().
		WithClassName(classMemo).
		WithID(id.String()).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create memo: %w", err)
	}
	if result == nil || result.Object == nil {
		return nil, fmt.Errorf("weaviate created a memo but returned a nil result")
	}

	slog.Info("Created memo", "memoID", id, "messageID", messageID, "chatID", chatID)
	return &datatypes.Memo{
		ID:         id,
		MessageID:  messageID,
		ChatID:     chatID,
		UserID:     userID,
		UserPrompt: userPrompt,
		CreatedAt:  now,
	}, nil
}

// CreateSection persists one generated memo section.
func (s *WeaviateStore) CreateSection(ctx context.Context, memoID uuid.UUID, group, name, prompt, content string, index int) (*datatypes.MemoSection, error) {
	ctx, span := tracer.Start(ctx, "CreateSection")
	defer span.End()

	id := uuid.New()
	now := time.Now().UTC()
	props := sectionProperties{
		MemoID:    memoID.String(),
		Group:     group,
		Name:      name,
		Prompt:    prompt,
		Content:   content,
		Index:     index,
		CreatedAt: now.UnixMilli(),
	}

	result, err := s.client.Data().Creator().
		WithClassName(classMemoSection).
		WithID(id.String()).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create memo section: %w", err)
	}
	if result == nil || result.Object == nil {
		return nil, fmt.Errorf("weaviate created a memo section but returned a nil result")
	}

	return &datatypes.MemoSection{
		ID:        id,
		MemoID:    memoID,
		Group:     group,
		Name:      name,
		Prompt:    prompt,
		Content:   content,
		Index:     index,
		CreatedAt: now,
	}, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// findMemoByMessage looks up a memo by its owning message id. Returns
// (nil, nil) when no memo exists yet.
func (s *WeaviateStore) findMemoByMessage(ctx context.Context, messageID uuid.UUID) (*datatypes.Memo, error) {
	where := filters.Where().
		WithPath([]string{"message_id"}).
		WithOperator(filters.Equal).
		WithValueString(messageID.String())

	fields := []graphql.Field{
		{Name: "message_id"},
		{Name: "chat_id"},
		{Name: "user_id"},
		{Name: "user_prompt"},
		{Name: "created_at"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(classMemo).
		WithFields(fields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate memo query failed: %w", err)
	}

	parsed, err := ParseGraphQLResponse[memoQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse memo results: %w", err)
	}
	if len(parsed.Get.Memo) == 0 {
		return nil, nil
	}

	raw := parsed.Get.Memo[0]
	memoID, err := uuid.Parse(raw.Additional.ID)
	if err != nil {
		return nil, fmt.Errorf("memo has malformed id %q: %w", raw.Additional.ID, err)
	}
	chatID, err := uuid.Parse(raw.ChatID)
	if err != nil {
		return nil, fmt.Errorf("memo %s has malformed chat_id %q: %w", memoID, raw.ChatID, err)
	}
	userID, err := uuid.Parse(raw.UserID)
	if err != nil {
		return nil, fmt.Errorf("memo %s has malformed user_id %q: %w", memoID, raw.UserID, err)
	}

	return &datatypes.Memo{
		ID:         memoID,
		MessageID:  messageID,
		ChatID:     chatID,
		UserID:     userID,
		UserPrompt: raw.UserPrompt,
		CreatedAt:  time.UnixMilli(raw.CreatedAt),
	}, nil
}

// lockFor returns the mutex for the given key, creating it on first use.
func (s *WeaviateStore) lockFor(m *sync.Map, key uuid.UUID) *sync.Mutex {
	actual, _ := m.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// idFilter builds a where clause matching one object by Weaviate id.
func idFilter(id uuid.UUID) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"id"}).
		WithOperator(filters.Equal).
		WithValueString(id.String())
}

// toMessage converts a raw query row into a domain message.
func (r messageResult) toMessage() (*datatypes.ChatMessage, error) {
	id, err := uuid.Parse(r.Additional.ID)
	if err != nil {
		return nil, fmt.Errorf("message has malformed id %q: %w", r.Additional.ID, err)
	}
	chatID, err := uuid.Parse(r.ChatID)
	if err != nil {
		return nil, fmt.Errorf("message %s has malformed chat_id %q: %w", id, r.ChatID, err)
	}
	userID, err := uuid.Parse(r.UserID)
	if err != nil {
		return nil, fmt.Errorf("message %s has malformed user_id %q: %w", id, r.UserID, err)
	}

	msg := &datatypes.ChatMessage{
		ID:        id,
		ChatID:    chatID,
		UserID:    userID,
		Role:      datatypes.MessageRole(r.Role),
		Kind:      datatypes.MessageKind(r.Kind),
		Content:   r.Content,
		CreatedAt: time.UnixMilli(r.CreatedAt),
	}
	if r.DeletedAt != nil {
		deleted := time.UnixMilli(*r.DeletedAt)
		msg.DeletedAt = &deleted
	}
	return msg, nil
}
