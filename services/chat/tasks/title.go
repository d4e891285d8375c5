// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/AleutianAI/AleutianBrief/services/chat/observability"
	"github.com/AleutianAI/AleutianBrief/services/chat/store"
	"github.com/AleutianAI/AleutianBrief/services/llm"
)

// titleInstruction asks the model for the "Company | Topic" format.
const titleInstruction = `You need derive a title for the chat based on context in format as 'Company | Topic'.
Context contains user prompt and LLM response.
Company is a name of the company.
Topic should be not longer than 3 words.`

// TitleRequest carries the inputs for one title derivation.
type TitleRequest struct {
	// AllowRewrite overwrites an existing title unconditionally. When
	// false the derived title is discarded if the chat already has one,
	// including one set concurrently after the model call started.
	AllowRewrite bool

	// UserPrompt is the user's message content.
	UserPrompt string

	// Content is the assistant reply content.
	Content string

	// Model names the model to derive with.
	Model string
}

// DeriveChatTitle derives a short "Company | Topic" title for a chat.
//
// # Description
//
// Invokes the model with the user prompt and AI response as context,
// then writes the title through the store's guarded setter. An empty
// result is an absent title, not an error: the model declining, or the
// race guard discarding the write, both return ("", nil).
//
// # Outputs
//
//   - string: The title that was durably set, or "" if none was.
//   - error: Non-nil only for model or store failures.
func (p *Pipelines) DeriveChatTitle(ctx context.Context, chat *datatypes.Chat, req TitleRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "DeriveChatTitle")
	defer span.End()

	title, err := p.deriveChatTitle(ctx, chat, req)
	p.metrics.RecordRun(observability.PipelineTitle, err == nil)
	return title, err
}

func (p *Pipelines) deriveChatTitle(ctx context.Context, chat *datatypes.Chat, req TitleRequest) (string, error) {
	if chat.Title != "" && !req.AllowRewrite {
		return "", nil
	}

	client, err := p.clients.Get(req.Model)
	if err != nil {
		return "", fmt.Errorf("title deriver: %w", err)
	}

	messages := []llm.Message{
		llm.System(p.assembler.SystemPrompt()),
		llm.User(titleInstruction),
		llm.User(fmt.Sprintf("User prompt: %s", req.UserPrompt)),
		llm.User(fmt.Sprintf("AI response: %s", req.Content)),
	}

	if err := p.limiter.Acquire(ctx, req.Model, messages); err != nil {
		return "", fmt.Errorf("title deriver: rate limiter: %w", err)
	}

	raw, err := client.Chat(ctx, messages, llm.GenerationParams{})
	if err != nil {
		return "", fmt.Errorf("title deriver: model invoke failed: %w", err)
	}

	title := strings.TrimSpace(raw)
	if title == "" {
		slog.Error("Title not derived", "chatID", chat.ID)
		return "", nil
	}

	wrote, err := p.chats.SetChatTitle(ctx, chat.ID, title, req.AllowRewrite)
	if err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			// Chat deleted mid-derivation; discard, same as losing
			// the race.
			slog.Error("Chat not found for title write", "chatID", chat.ID)
			return "", nil
		}
		return "", fmt.Errorf("title deriver: %w", err)
	}
	if !wrote {
		slog.Warn("Chat already has a title", "chatID", chat.ID)
		return "", nil
	}
	return title, nil
}
