// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/AleutianAI/AleutianBrief/services/chat/prompts"
	"github.com/AleutianAI/AleutianBrief/services/chat/store"
	"github.com/AleutianAI/AleutianBrief/services/llm"
	"github.com/google/uuid"
)

// =============================================================================
// In-Memory Store
// =============================================================================

// memStore implements ChatStore, UserStore and MemoStore in memory.
type memStore struct {
	mu sync.Mutex

	users    map[uuid.UUID]*datatypes.User
	chats    map[uuid.UUID]*datatypes.Chat
	messages map[uuid.UUID]*datatypes.ChatMessage

	readyDocs map[uuid.UUID][]uuid.UUID
	allDocs   map[uuid.UUID][]uuid.UUID

	created     []*datatypes.ChatMessage
	memosByMsg  map[uuid.UUID]*datatypes.Memo
	memoCreates int
	sections    []*datatypes.MemoSection
}

var (
	_ store.ChatStore = (*memStore)(nil)
	_ store.UserStore = (*memStore)(nil)
	_ store.MemoStore = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[uuid.UUID]*datatypes.User),
		chats:      make(map[uuid.UUID]*datatypes.Chat),
		messages:   make(map[uuid.UUID]*datatypes.ChatMessage),
		readyDocs:  make(map[uuid.UUID][]uuid.UUID),
		allDocs:    make(map[uuid.UUID][]uuid.UUID),
		memosByMsg: make(map[uuid.UUID]*datatypes.Memo),
	}
}

// seedConversation creates a user, a chat and one user message, and
// returns the message.
func (s *memStore) seedConversation(content string) *datatypes.ChatMessage {
	user := &datatypes.User{ID: uuid.New(), Email: "analyst@example.com"}
	chat := &datatypes.Chat{ID: uuid.New(), UserID: user.ID, CreatedAt: time.Now()}
	msg := &datatypes.ChatMessage{
		ID:        uuid.New(),
		ChatID:    chat.ID,
		UserID:    user.ID,
		Role:      datatypes.RoleUser,
		Kind:      datatypes.KindText,
		Content:   content,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	s.chats[chat.ID] = chat
	s.messages[msg.ID] = msg
	return msg
}

func (s *memStore) GetMessage(_ context.Context, id uuid.UUID) (*datatypes.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, store.ErrMessageNotFound)
	}
	copied := *msg
	return &copied, nil
}

func (s *memStore) GetChat(_ context.Context, id uuid.UUID) (*datatypes.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", id, store.ErrChatNotFound)
	}
	copied := *chat
	return &copied, nil
}

func (s *memStore) CreateMessage(_ context.Context, chatID uuid.UUID, content string, role datatypes.MessageRole, kind datatypes.MessageKind) (*datatypes.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, store.ErrChatNotFound)
	}

	msg := &datatypes.ChatMessage{
		ID:        uuid.New(),
		ChatID:    chatID,
		UserID:    chat.UserID,
		Role:      role,
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.messages[msg.ID] = msg
	s.created = append(s.created, msg)
	copied := *msg
	return &copied, nil
}

func (s *memStore) GetChatDocumentIDs(_ context.Context, chatID uuid.UUID, onlyReady bool) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if onlyReady {
		return s.readyDocs[chatID], nil
	}
	return s.allDocs[chatID], nil
}

func (s *memStore) SetChatTitle(_ context.Context, chatID uuid.UUID, title string, overwrite bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return false, fmt.Errorf("chat %s: %w", chatID, store.ErrChatNotFound)
	}
	if chat.Title != "" && !overwrite {
		return false, nil
	}
	chat.Title = title
	return true, nil
}

func (s *memStore) GetUser(_ context.Context, id uuid.UUID) (*datatypes.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok || user.Deleted() {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrUserNotFound)
	}
	copied := *user
	return &copied, nil
}

func (s *memStore) GetOrCreateMemo(_ context.Context, messageID, chatID, userID uuid.UUID, userPrompt string) (*datatypes.Memo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if memo, ok := s.memosByMsg[messageID]; ok {
		copied := *memo
		return &copied, nil
	}
	memo := &datatypes.Memo{
		ID:         uuid.New(),
		MessageID:  messageID,
		ChatID:     chatID,
		UserID:     userID,
		UserPrompt: userPrompt,
		CreatedAt:  time.Now(),
	}
	s.memosByMsg[messageID] = memo
	s.memoCreates++
	copied := *memo
	return &copied, nil
}

func (s *memStore) CreateSection(_ context.Context, memoID uuid.UUID, group, name, prompt, content string, index int) (*datatypes.MemoSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section := &datatypes.MemoSection{
		ID:        uuid.New(),
		MemoID:    memoID,
		Group:     group,
		Name:      name,
		Prompt:    prompt,
		Content:   content,
		Index:     index,
		CreatedAt: time.Now(),
	}
	s.sections = append(s.sections, section)
	copied := *section
	return &copied, nil
}

func (s *memStore) persistedSections() []*datatypes.MemoSection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*datatypes.MemoSection, len(s.sections))
	copy(out, s.sections)
	return out
}

func (s *memStore) createdMessages() []*datatypes.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*datatypes.ChatMessage, len(s.created))
	copy(out, s.created)
	return out
}

func (s *memStore) chatTitle(chatID uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat, ok := s.chats[chatID]; ok {
		return chat.Title
	}
	return ""
}

// =============================================================================
// Recording Publisher
// =============================================================================

type publishedEvent struct {
	topic   string
	payload any
}

type recordPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordPublisher) Publish(_ context.Context, topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{topic: topic, payload: payload})
	return nil
}

func (p *recordPublisher) onTopic(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, e := range p.events {
		if e.topic == topic {
			out = append(out, e.payload)
		}
	}
	return out
}

// =============================================================================
// Scripted LLM Client
// =============================================================================

// scriptedClient implements llm.Client with canned responses.
type scriptedClient struct {
	model       string
	interleaved bool

	// stream is replayed by ChatStream.
	stream    []llm.StreamEvent
	streamErr error

	// chatFn answers Chat calls; defaults to returning chatResponse.
	chatFn       func(messages []llm.Message) (string, error)
	chatResponse string

	mu         sync.Mutex
	streamSeen [][]llm.Message
	chatSeen   [][]llm.Message
}

var _ llm.Client = (*scriptedClient)(nil)

func (c *scriptedClient) Model() string                { return c.model }
func (c *scriptedClient) RequiresInterleaving() bool   { return c.interleaved }
func (c *scriptedClient) SupportsUsageStreaming() bool { return false }

func (c *scriptedClient) Chat(_ context.Context, messages []llm.Message, _ llm.GenerationParams) (string, error) {
	c.mu.Lock()
	c.chatSeen = append(c.chatSeen, messages)
	c.mu.Unlock()

	if c.chatFn != nil {
		return c.chatFn(messages)
	}
	return c.chatResponse, nil
}

func (c *scriptedClient) ChatStream(_ context.Context, messages []llm.Message, _ llm.GenerationParams, callback llm.StreamCallback) error {
	c.mu.Lock()
	c.streamSeen = append(c.streamSeen, messages)
	c.mu.Unlock()

	if c.streamErr != nil {
		return c.streamErr
	}
	for _, event := range c.stream {
		if err := callback(event); err != nil {
			return err
		}
	}
	return nil
}

func (c *scriptedClient) chatCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chatSeen)
}

// fixedProvider returns the same client for every model, recording the
// models requested.
type fixedProvider struct {
	client llm.Client

	mu        sync.Mutex
	requested []string
}

func (f *fixedProvider) Get(model string) (llm.Client, error) {
	f.mu.Lock()
	f.requested = append(f.requested, model)
	f.mu.Unlock()
	return f.client, nil
}

// =============================================================================
// Counting Limiter
// =============================================================================

type countLimiter struct {
	mu       sync.Mutex
	acquires int
	err      error
}

func (l *countLimiter) Acquire(_ context.Context, _ string, _ []llm.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.acquires++
	return nil
}

func (l *countLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires
}

// =============================================================================
// Retriever Stub
// =============================================================================

// funcRetriever answers Retrieve from a function, defaulting to empty.
type funcRetriever struct {
	fn func(query string, certainty float32) ([]llm.Message, error)
}

func (r *funcRetriever) Retrieve(_ context.Context, _ []uuid.UUID, _ uuid.UUID, query string, certainty float32) ([]llm.Message, error) {
	if r.fn == nil {
		return nil, nil
	}
	return r.fn(query, certainty)
}

// =============================================================================
// Synchronous Queue
// =============================================================================

// syncQueue runs dispatched tasks inline and records their results.
type syncQueue struct {
	mu       sync.Mutex
	names    []string
	taskErrs []error
}

func (q *syncQueue) Dispatch(name string, task Task) error {
	err := task(context.Background())
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	q.taskErrs = append(q.taskErrs, err)
	return nil
}

// =============================================================================
// Pipeline Assembly
// =============================================================================

// testTemplate is a small memo template: 2 groups, 2 + 1 sections.
func testTemplate() prompts.MemoTemplate {
	return prompts.MemoTemplate{
		SystemPrompt: "Write one memo section.",
		Groups: []prompts.MemoGroupTemplate{
			{
				Name: "Business Overview",
				Prompts: []prompts.MemoPrompt{
					{Name: "Company Description", Prompt: "Describe the company."},
					{Name: "Competitive Position", Prompt: "Describe the competition."},
				},
			},
			{
				Name: "Risks",
				Prompts: []prompts.MemoPrompt{
					{Name: "Key Risks", Prompt: "List the key risks."},
				},
			},
		},
	}
}

type pipelineFixture struct {
	store     *memStore
	publisher *recordPublisher
	client    *scriptedClient
	provider  *fixedProvider
	limiter   *countLimiter
	retriever *funcRetriever
	queue     *syncQueue
	pipelines *Pipelines
}

func newFixture(client *scriptedClient) *pipelineFixture {
	st := newMemStore()
	pub := &recordPublisher{}
	lim := &countLimiter{}
	retr := &funcRetriever{}
	queue := &syncQueue{}

	asm := prompts.NewAssembler(prompts.DefaultConfig(), retr, nil, st)
	provider := &fixedProvider{client: client}
	p := NewPipelines(PipelinesConfig{
		Chats:        st,
		Users:        st,
		Memos:        st,
		Retriever:    retr,
		Assembler:    asm,
		Publisher:    pub,
		Clients:      provider,
		Limiter:      lim,
		Queue:        queue,
		MemoTemplate: testTemplate(),
		DefaultModel: "gpt-4o",
	})

	return &pipelineFixture{
		store:     st,
		publisher: pub,
		client:    client,
		provider:  provider,
		limiter:   lim,
		retriever: retr,
		queue:     queue,
		pipelines: p,
	}
}

// tokenStream builds a token-only stream script.
func tokenStream(fragments ...string) []llm.StreamEvent {
	events := make([]llm.StreamEvent, len(fragments))
	for i, f := range fragments {
		events[i] = llm.StreamEvent{Type: llm.StreamEventToken, Content: f}
	}
	return events
}
