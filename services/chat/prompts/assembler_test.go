// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/AleutianAI/AleutianBrief/services/llm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeRetriever returns fixed context and records whether it was called.
type fakeRetriever struct {
	result []llm.Message
	err    error
	called bool
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ []uuid.UUID, _ uuid.UUID, _ string, _ float32) ([]llm.Message, error) {
	f.called = true
	return f.result, f.err
}

type fakeExamples struct {
	result []llm.Message
	err    error
}

func (f *fakeExamples) Examples(_ context.Context, _ string) ([]llm.Message, error) {
	return f.result, f.err
}

// fakeChatDocs implements only GetChatDocumentIDs; the assembler never
// touches the other ChatStore methods.
type fakeChatDocs struct {
	allDocs []uuid.UUID
	err     error
}

func (f *fakeChatDocs) GetMessage(context.Context, uuid.UUID) (*datatypes.ChatMessage, error) {
	panic("not used")
}

func (f *fakeChatDocs) GetChat(context.Context, uuid.UUID) (*datatypes.Chat, error) {
	panic("not used")
}

func (f *fakeChatDocs) CreateMessage(context.Context, uuid.UUID, string, datatypes.MessageRole, datatypes.MessageKind) (*datatypes.ChatMessage, error) {
	panic("not used")
}

func (f *fakeChatDocs) GetChatDocumentIDs(context.Context, uuid.UUID, bool) ([]uuid.UUID, error) {
	return f.allDocs, f.err
}

func (f *fakeChatDocs) SetChatTitle(context.Context, uuid.UUID, string, bool) (bool, error) {
	panic("not used")
}

func testMessage() *datatypes.ChatMessage {
	return &datatypes.ChatMessage{
		ID:      uuid.New(),
		ChatID:  uuid.New(),
		UserID:  uuid.New(),
		Role:    datatypes.RoleUser,
		Kind:    datatypes.KindText,
		Content: "What is the revenue?",
	}
}

// =============================================================================
// Contextual Strategy
// =============================================================================

func TestBuildContextual_NoDocumentsAtAll(t *testing.T) {
	retr := &fakeRetriever{}
	asm := NewAssembler(DefaultConfig(), retr, nil, &fakeChatDocs{})
	msg := testMessage()

	messages, err := asm.BuildContextual(context.Background(), nil, msg)
	require.NoError(t, err)

	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleUser, messages[0].Role)
	assert.Equal(t, msg.Content, messages[0].Content)
	assert.Contains(t, messages[1].Content, "didn't upload any documents")

	// Zero associated documents must not trigger a retrieval call.
	assert.False(t, retr.called)
}

func TestBuildContextual_DocumentsStillProcessing(t *testing.T) {
	retr := &fakeRetriever{}
	docs := &fakeChatDocs{allDocs: []uuid.UUID{uuid.New()}}
	asm := NewAssembler(DefaultConfig(), retr, nil, docs)

	messages, err := asm.BuildContextual(context.Background(), nil, testMessage())
	require.NoError(t, err)

	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Content, "still being analyzed")
	assert.False(t, retr.called)
}

func TestBuildContextual_EmptyRetrieval(t *testing.T) {
	retr := &fakeRetriever{result: nil}
	asm := NewAssembler(DefaultConfig(), retr, nil, &fakeChatDocs{})
	msg := testMessage()

	messages, err := asm.BuildContextual(context.Background(), []uuid.UUID{uuid.New()}, msg)
	require.NoError(t, err)

	require.Len(t, messages, 3)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, msg.Content, messages[1].Content)
	assert.Contains(t, messages[2].Content, "don't have needful data")
	assert.True(t, retr.called)
}

func TestBuildContextual_FullSequence(t *testing.T) {
	rag := []llm.Message{llm.System("Document excerpt:\nRevenue was $10M.")}
	examples := []llm.Message{llm.System("Example of response you provide:\n- ...")}

	asm := NewAssembler(DefaultConfig(),
		&fakeRetriever{result: rag},
		&fakeExamples{result: examples},
		&fakeChatDocs{})
	msg := testMessage()

	messages, err := asm.BuildContextual(context.Background(), []uuid.UUID{uuid.New()}, msg)
	require.NoError(t, err)

	require.Len(t, messages, 4)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[1].Content, "Example of response")
	assert.Contains(t, messages[2].Content, "Revenue was $10M")
	assert.Equal(t, llm.RoleUser, messages[3].Role)
	assert.Equal(t, msg.Content, messages[3].Content)
}

func TestBuildContextual_ExampleFailureIsNonFatal(t *testing.T) {
	rag := []llm.Message{llm.System("Document excerpt:\nRevenue was $10M.")}
	asm := NewAssembler(DefaultConfig(),
		&fakeRetriever{result: rag},
		&fakeExamples{err: errors.New("weaviate down")},
		&fakeChatDocs{})

	messages, err := asm.BuildContextual(context.Background(), []uuid.UUID{uuid.New()}, testMessage())
	require.NoError(t, err)
	require.Len(t, messages, 3) // system + rag + user, no examples
}

// =============================================================================
// Simple Strategy
// =============================================================================

func TestBuildSimple_Sequence(t *testing.T) {
	rag := []llm.Message{llm.System("Document excerpt:\nRevenue was $10M.")}
	asm := NewAssembler(DefaultConfig(), &fakeRetriever{result: rag}, nil, &fakeChatDocs{})
	msg := testMessage()

	messages, err := asm.BuildSimple(context.Background(), []uuid.UUID{uuid.New()}, msg)
	require.NoError(t, err)

	require.Len(t, messages, 3)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, DefaultConfig().SystemSimplePrompt, messages[0].Content)
	assert.Equal(t, msg.Content, messages[2].Content)
}

func TestBuildSimple_EmptyRetrievalKept(t *testing.T) {
	// Simple mode has no fallbacks: empty context still yields
	// system + user.
	asm := NewAssembler(DefaultConfig(), &fakeRetriever{}, nil, &fakeChatDocs{})

	messages, err := asm.BuildSimple(context.Background(), nil, testMessage())
	require.NoError(t, err)
	require.Len(t, messages, 2)
}

// =============================================================================
// YAML Loading
// =============================================================================

func TestLoadMemoTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.yaml")
	content := `short_memo_template:
  system_prompt: Write one memo section.
  groups:
    - name: Business Overview
      prompts:
        - name: Company Description
          prompt: Describe the company.
    - name: Risks
      prompts:
        - name: Key Risks
          prompt: List the key risks.
        - name: Mitigations
          prompt: List the mitigations.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tmpl, err := LoadMemoTemplate(path, "short_memo_template")
	require.NoError(t, err)

	assert.Equal(t, "Write one memo section.", tmpl.SystemPrompt)
	require.Len(t, tmpl.Groups, 2)
	assert.Equal(t, "Business Overview", tmpl.Groups[0].Name)
	require.Len(t, tmpl.Groups[1].Prompts, 2)
	assert.Equal(t, "Mitigations", tmpl.Groups[1].Prompts[1].Name)
}

func TestLoadMemoTemplate_MissingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("other: {system_prompt: x, groups: []}\n"), 0o644))

	_, err := LoadMemoTemplate(path, "short_memo_template")
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	content := "system_prompt: analyst\nsystem_simple_prompt: helper\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "analyst", cfg.SystemPrompt)
	assert.Equal(t, "helper", cfg.SystemSimplePrompt)
}

func TestLoadConfig_MissingPrompt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system_prompt: analyst\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
