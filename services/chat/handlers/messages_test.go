// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/AleutianAI/AleutianBrief/services/chat/store"
	"github.com/AleutianAI/AleutianBrief/services/chat/tasks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Doubles
// =============================================================================

// fakeChatStore implements store.ChatStore with canned chats. Methods
// the handlers never touch panic so accidental use is loud.
type fakeChatStore struct {
	chats   map[uuid.UUID]*datatypes.Chat
	created []*datatypes.ChatMessage
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{chats: make(map[uuid.UUID]*datatypes.Chat)}
}

func (s *fakeChatStore) GetChat(_ context.Context, id uuid.UUID) (*datatypes.Chat, error) {
	chat, ok := s.chats[id]
	if !ok {
		return nil, store.ErrChatNotFound
	}
	return chat, nil
}

func (s *fakeChatStore) CreateMessage(_ context.Context, chatID uuid.UUID, content string, role datatypes.MessageRole, kind datatypes.MessageKind) (*datatypes.ChatMessage, error) {
	msg := &datatypes.ChatMessage{
		ID:        uuid.New(),
		ChatID:    chatID,
		UserID:    s.chats[chatID].UserID,
		Role:      role,
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.created = append(s.created, msg)
	return msg, nil
}

func (s *fakeChatStore) GetMessage(context.Context, uuid.UUID) (*datatypes.ChatMessage, error) {
	panic("unexpected GetMessage")
}

func (s *fakeChatStore) GetChatDocumentIDs(context.Context, uuid.UUID, bool) ([]uuid.UUID, error) {
	panic("unexpected GetChatDocumentIDs")
}

func (s *fakeChatStore) SetChatTitle(context.Context, uuid.UUID, string, bool) (bool, error) {
	panic("unexpected SetChatTitle")
}

var _ store.ChatStore = (*fakeChatStore)(nil)

// inlineQueue runs dispatched tasks synchronously.
type inlineQueue struct {
	names []string
	err   error
}

func (q *inlineQueue) Dispatch(name string, task tasks.Task) error {
	if q.err != nil {
		return q.err
	}
	q.names = append(q.names, name)
	return task(context.Background())
}

// recordStarter records ProcessChatMessage invocations.
type recordStarter struct {
	messageIDs []uuid.UUID
	models     []string
}

func (r *recordStarter) ProcessChatMessage(_ context.Context, messageID uuid.UUID, model string) error {
	r.messageIDs = append(r.messageIDs, messageID)
	r.models = append(r.models, model)
	return nil
}

// fakeSubscriber hands out a pre-filled payload channel.
type fakeSubscriber struct {
	payloads chan []byte
	topics   []string
}

func (s *fakeSubscriber) Subscribe(_ context.Context, topic string) (<-chan []byte, error) {
	s.topics = append(s.topics, topic)
	return s.payloads, nil
}

func seedChat(s *fakeChatStore) *datatypes.Chat {
	chat := &datatypes.Chat{ID: uuid.New(), UserID: uuid.New()}
	s.chats[chat.ID] = chat
	return chat
}

// =============================================================================
// SendMessage Tests
// =============================================================================

func postMessage(router *gin.Engine, chatID string, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/chats/"+chatID+"/messages", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestSendMessage_PersistsAndDispatches(t *testing.T) {
	chats := newFakeChatStore()
	chat := seedChat(chats)
	queue := &inlineQueue{}
	starter := &recordStarter{}

	router := gin.New()
	router.POST("/v1/chats/:chatId/messages", SendMessage(chats, queue, starter))

	w := postMessage(router, chat.ID.String(), `{"content":"What was revenue last quarter?","model":"llama3.1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, chats.created, 1)
	created := chats.created[0]
	assert.Equal(t, datatypes.RoleUser, created.Role)
	assert.Equal(t, datatypes.KindText, created.Kind)
	assert.Equal(t, "What was revenue last quarter?", created.Content)

	require.Equal(t, []string{"reply"}, queue.names)
	require.Len(t, starter.messageIDs, 1)
	assert.Equal(t, created.ID, starter.messageIDs[0])
	assert.Equal(t, "llama3.1", starter.models[0])

	var resp datatypes.ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.ID)
}

func TestSendMessage_RejectsEmptyContent(t *testing.T) {
	chats := newFakeChatStore()
	chat := seedChat(chats)

	router := gin.New()
	router.POST("/v1/chats/:chatId/messages", SendMessage(chats, &inlineQueue{}, &recordStarter{}))

	w := postMessage(router, chat.ID.String(), `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, chats.created)
}

func TestSendMessage_UnknownChatIs404(t *testing.T) {
	chats := newFakeChatStore()

	router := gin.New()
	router.POST("/v1/chats/:chatId/messages", SendMessage(chats, &inlineQueue{}, &recordStarter{}))

	w := postMessage(router, uuid.NewString(), `{"content":"hello"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessage_BadChatIDIs400(t *testing.T) {
	router := gin.New()
	router.POST("/v1/chats/:chatId/messages", SendMessage(newFakeChatStore(), &inlineQueue{}, &recordStarter{}))

	w := postMessage(router, "not-a-uuid", `{"content":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessage_FullQueueIs503(t *testing.T) {
	chats := newFakeChatStore()
	chat := seedChat(chats)
	queue := &inlineQueue{err: tasks.ErrQueueFull}

	router := gin.New()
	router.POST("/v1/chats/:chatId/messages", SendMessage(chats, queue, &recordStarter{}))

	w := postMessage(router, chat.ID.String(), `{"content":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// =============================================================================
// StreamMessage Tests
// =============================================================================

func TestStreamMessage_ForwardsUntilMessageEnd(t *testing.T) {
	chats := newFakeChatStore()
	chat := seedChat(chats)
	messageID := uuid.New()
	replyID := uuid.New()

	sub := &fakeSubscriber{payloads: make(chan []byte, 8)}
	start, _ := json.Marshal(datatypes.NewMessageStartEvent(replyID, chat.ID))
	frag, _ := json.Marshal(datatypes.NewMessageEvent(replyID, chat.ID, "Hello"))
	end, _ := json.Marshal(datatypes.NewMessageEndEvent(replyID, uuid.New(), chat.ID, time.Now(), "Hello"))
	sub.payloads <- start
	sub.payloads <- frag
	sub.payloads <- end
	// Left unread: the handler must stop at message_end.
	sub.payloads <- []byte(`{"type":"message","content":"late"}`)

	router := gin.New()
	router.GET("/v1/chats/:chatId/messages/:messageId/stream", StreamMessage(chats, sub))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/chats/"+chat.ID.String()+"/messages/"+messageID.String()+"/stream", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Len(t, sub.topics, 1)
	assert.Equal(t, datatypes.MessageTopic(chat.UserID, chat.ID, messageID), sub.topics[0])

	body := w.Body.String()
	assert.Contains(t, body, "event: message_start\n")
	assert.Contains(t, body, "event: message\n")
	assert.Contains(t, body, "event: message_end\n")
	assert.NotContains(t, body, "late")

	// Frames arrive in publish order.
	startIdx := strings.Index(body, "message_start")
	endIdx := strings.Index(body, "message_end")
	assert.Less(t, startIdx, endIdx)
}

func TestStreamMessage_ClosedChannelEndsStream(t *testing.T) {
	chats := newFakeChatStore()
	chat := seedChat(chats)

	sub := &fakeSubscriber{payloads: make(chan []byte)}
	close(sub.payloads)

	router := gin.New()
	router.GET("/v1/chats/:chatId/messages/:messageId/stream", StreamMessage(chats, sub))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/chats/"+chat.ID.String()+"/messages/"+uuid.NewString()+"/stream", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Empty(t, w.Body.String())
}

func TestStreamMessage_UnknownChatIs404(t *testing.T) {
	sub := &fakeSubscriber{payloads: make(chan []byte)}

	router := gin.New()
	router.GET("/v1/chats/:chatId/messages/:messageId/stream", StreamMessage(newFakeChatStore(), sub))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/chats/"+uuid.NewString()+"/messages/"+uuid.NewString()+"/stream", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, sub.topics)
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}
