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
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/AleutianAI/AleutianBrief/services/chat/observability"
	"github.com/AleutianAI/AleutianBrief/services/llm"
	"github.com/google/uuid"
)

// ProcessChatMessage runs the streaming reply pipeline for one user
// message.
//
// # Description
//
// Resolves the message and its owner, detects the memo trigger marker,
// and otherwise streams a model reply: a message_start event opens the
// stream, each model fragment is published as a message event, the
// accumulated text is persisted exactly once, a title is derived, and a
// message_end event closes the stream with the persisted identity.
//
// A memo trigger short-circuits the stream: a placeholder assistant
// message of memo kind is created and the memo pipeline is dispatched
// as a separate unit of work.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - messageID: The triggering user message. Must exist, be non-empty,
//     and belong to a non-deleted user.
//   - model: Model identifier from the trigger; the user's settings
//     override it.
//
// # Outputs
//
//   - error: Non-nil on precondition violation or mid-pipeline failure.
//     No partial assistant message is persisted on failure.
func (p *Pipelines) ProcessChatMessage(ctx context.Context, messageID uuid.UUID, model string) error {
	ctx, span := tracer.Start(ctx, "ProcessChatMessage")
	defer span.End()

	err := p.processChatMessage(ctx, messageID, model)
	p.metrics.RecordRun(observability.PipelineReply, err == nil)
	return err
}

func (p *Pipelines) processChatMessage(ctx context.Context, messageID uuid.UUID, model string) error {
	message, err := p.chats.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("reply pipeline: %w", err)
	}
	if message.Content == "" {
		// No reply on an empty message.
		slog.Debug("Skipping empty message", "messageID", messageID)
		return nil
	}

	user, err := p.users.GetUser(ctx, message.UserID)
	if err != nil {
		return fmt.Errorf("reply pipeline: %w", err)
	}

	model = p.resolveModel(user.Settings.Model, model)
	logger := slog.With(
		"chatID", message.ChatID, "messageID", message.ID,
		"userID", user.ID, "model", model)

	// The @memo marker switches the whole turn over to the memo
	// pipeline; nothing is streamed here.
	if strings.Contains(message.Content, datatypes.MemoTriggerMarker) {
		placeholder, err := p.chats.CreateMessage(ctx,
			message.ChatID, "", datatypes.RoleAssistant, datatypes.KindMemo)
		if err != nil {
			return fmt.Errorf("reply pipeline: failed to create memo placeholder: %w", err)
		}

		logger.Info("Generating memo", "placeholderID", placeholder.ID)
		userPrompt := message.Content
		placeholderID := placeholder.ID
		if err := p.queue.Dispatch("memo", func(taskCtx context.Context) error {
			return p.GenerateMemo(taskCtx, placeholderID, userPrompt, model)
		}); err != nil {
			return fmt.Errorf("reply pipeline: failed to dispatch memo task: %w", err)
		}
		return nil
	}

	topic := datatypes.MessageTopic(user.ID, message.ChatID, message.ID)
	replyID := uuid.New()

	if err := p.publisher.Publish(ctx, topic,
		datatypes.NewMessageStartEvent(replyID, message.ChatID)); err != nil {
		return fmt.Errorf("reply pipeline: failed to publish start event: %w", err)
	}

	docIDs, err := p.chats.GetChatDocumentIDs(ctx, message.ChatID, true)
	if err != nil {
		return fmt.Errorf("reply pipeline: %w", err)
	}
	logger.Info("Resolved ready documents", "count", len(docIDs))

	client, err := p.clients.Get(model)
	if err != nil {
		return fmt.Errorf("reply pipeline: %w", err)
	}

	var messages []llm.Message
	if user.Settings.SimpleMode {
		messages, err = p.assembler.BuildSimple(ctx, docIDs, message)
	} else {
		messages, err = p.assembler.BuildContextual(ctx, docIDs, message)
	}
	if err != nil {
		return fmt.Errorf("reply pipeline: failed to assemble prompt: %w", err)
	}

	if client.RequiresInterleaving() {
		messages = llm.Interleave(messages)
	}

	if err := p.limiter.Acquire(ctx, model, messages); err != nil {
		return fmt.Errorf("reply pipeline: rate limiter: %w", err)
	}

	content, err := p.streamReply(ctx, client, messages, topic, replyID, message.ChatID)
	if err != nil {
		return fmt.Errorf("reply pipeline: %w", err)
	}

	reply, err := p.chats.CreateMessage(ctx,
		message.ChatID, content, datatypes.RoleAssistant, datatypes.KindText)
	if err != nil {
		return fmt.Errorf("reply pipeline: failed to persist reply: %w", err)
	}
	logger.Info("Persisted reply", "replyID", reply.ID, "bytes", len(reply.Content))

	p.deriveTitleForReply(ctx, message, reply, replyID, model, user.ID)

	if err := p.publisher.Publish(ctx, topic, datatypes.NewMessageEndEvent(
		replyID, reply.ID, reply.ChatID, reply.CreatedAt, reply.Content)); err != nil {
		return fmt.Errorf("reply pipeline: failed to publish end event: %w", err)
	}
	return nil
}

// streamReply drives the model stream, publishing each raw fragment and
// returning the accumulated text.
//
// Leading whitespace is stripped from the first non-empty fragment in
// the accumulator only; subscribers receive every fragment verbatim.
func (p *Pipelines) streamReply(ctx context.Context, client llm.Client, messages []llm.Message, topic string, replyID, chatID uuid.UUID) (string, error) {
	ctx, span := tracer.Start(ctx, "streamReply")
	defer span.End()

	var sb strings.Builder
	first := true
	started := time.Now()

	err := client.ChatStream(ctx, messages, llm.GenerationParams{}, func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			if event.Content == "" {
				return nil
			}
			if first {
				sb.WriteString(strings.TrimLeft(event.Content, " \t\r\n"))
				first = false
			} else {
				sb.WriteString(event.Content)
			}
			p.metrics.RecordFragment(client.Model())
			return p.publisher.Publish(ctx, topic,
				datatypes.NewMessageEvent(replyID, chatID, event.Content))

		case llm.StreamEventUsage:
			slog.Info("Model token usage",
				"model", client.Model(),
				"promptTokens", event.PromptTokens,
				"completionTokens", event.CompletionTokens)
			p.metrics.RecordTokens(client.Model(), event.PromptTokens, event.CompletionTokens)
			return nil

		case llm.StreamEventError:
			// Non-text fragments are logged and skipped, not fatal.
			slog.Error("Skipping non-text stream fragment",
				"model", client.Model(), "error", event.Err)
			return nil

		default:
			slog.Error("Skipping unknown stream event",
				"model", client.Model(), "type", event.Type)
			return nil
		}
	})

	p.metrics.RecordStreamDuration(client.Model(), time.Since(started), err == nil)
	if err != nil {
		return "", fmt.Errorf("model stream failed: %w", err)
	}
	return sb.String(), nil
}

// deriveTitleForReply runs title derivation after a persisted reply.
// Title failures never fail the reply; the stream still ends cleanly.
func (p *Pipelines) deriveTitleForReply(ctx context.Context, message, reply *datatypes.ChatMessage, replyID uuid.UUID, model string, userID uuid.UUID) {
	chat, err := p.chats.GetChat(ctx, message.ChatID)
	if err != nil {
		slog.Warn("Skipping title derivation, chat lookup failed",
			"chatID", message.ChatID, "error", err)
		return
	}

	title, err := p.DeriveChatTitle(ctx, chat, TitleRequest{
		AllowRewrite: true,
		UserPrompt:   message.Content,
		Content:      reply.Content,
		Model:        model,
	})
	if err != nil {
		slog.Warn("Title derivation failed", "chatID", chat.ID, "error", err)
		return
	}
	if title == "" {
		return
	}

	chatTopic := datatypes.ChatTopic(userID, message.ChatID)
	if err := p.publisher.Publish(ctx, chatTopic,
		datatypes.NewChatTitleUpdatedEvent(replyID, title)); err != nil {
		slog.Warn("Failed to publish title event", "chatID", chat.ID, "error", err)
	}
}
