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

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/AleutianAI/AleutianBrief/services/chat/observability"
	"github.com/AleutianAI/AleutianBrief/services/chat/prompts"
	"github.com/AleutianAI/AleutianBrief/services/chat/retrieval"
	"github.com/AleutianAI/AleutianBrief/services/llm"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Memo pipeline precondition errors.
var (
	// ErrNotMemoMessage means the trigger message is not a memo
	// placeholder.
	ErrNotMemoMessage = errors.New("message is not a memo")

	// ErrNoDocuments means the chat has no documents to build a memo
	// from.
	ErrNoDocuments = errors.New("no documents found")
)

// GenerateMemo runs the memo pipeline for one placeholder message.
//
// # Description
//
// Fans the memo template's groups out concurrently; within a group,
// sections run sequentially. Each section independently retrieves
// context at the strict memo threshold, skips itself when retrieval is
// empty, and otherwise runs a rate-limited non-streaming model call and
// persists the result. An unexpected failure in any group aborts the
// whole scope: the sibling groups are canceled and the first error
// propagates.
//
// Re-invoking with the same message id reuses the existing Memo, so a
// retried task appends sections to the same entity rather than
// creating a duplicate.
//
// # Inputs
//
//   - ctx: Context for cancellation; canceling aborts all groups.
//   - messageID: The placeholder assistant message of memo kind.
//   - userPrompt: The user's original trigger content, persisted on
//     the memo.
//   - model: Model identifier from the trigger; user settings override.
//
// # Outputs
//
//   - error: Non-nil on precondition violation or the first group
//     failure. Zero persisted sections with a nil error is a valid
//     outcome.
func (p *Pipelines) GenerateMemo(ctx context.Context, messageID uuid.UUID, userPrompt string, model string) error {
	ctx, span := tracer.Start(ctx, "GenerateMemo")
	defer span.End()

	err := p.generateMemo(ctx, messageID, userPrompt, model)
	p.metrics.RecordRun(observability.PipelineMemo, err == nil)
	return err
}

func (p *Pipelines) generateMemo(ctx context.Context, messageID uuid.UUID, userPrompt string, model string) error {
	message, err := p.chats.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("memo pipeline: %w", err)
	}
	if message.Kind != datatypes.KindMemo {
		return fmt.Errorf("memo pipeline: message %s: %w", messageID, ErrNotMemoMessage)
	}

	user, err := p.users.GetUser(ctx, message.UserID)
	if err != nil {
		return fmt.Errorf("memo pipeline: %w", err)
	}

	docIDs, err := p.chats.GetChatDocumentIDs(ctx, message.ChatID, false)
	if err != nil {
		return fmt.Errorf("memo pipeline: %w", err)
	}
	if len(docIDs) == 0 {
		return fmt.Errorf("memo pipeline: chat %s: %w", message.ChatID, ErrNoDocuments)
	}

	memo, err := p.memos.GetOrCreateMemo(ctx, message.ID, message.ChatID, user.ID, userPrompt)
	if err != nil {
		return fmt.Errorf("memo pipeline: %w", err)
	}

	model = p.resolveModel(user.Settings.Model, model)
	client, err := p.clients.Get(model)
	if err != nil {
		return fmt.Errorf("memo pipeline: %w", err)
	}

	logger := slog.With(
		"memoID", memo.ID, "chatID", message.ChatID,
		"userID", user.ID, "model", model)
	logger.Info("Generating memo",
		"groups", len(p.memoTemplate.Groups), "userPrompt", userPrompt)

	g, gctx := errgroup.WithContext(ctx)
	for i, group := range p.memoTemplate.Groups {
		g.Go(func() error {
			return p.generateMemoGroup(gctx, memo, user.ID, docIDs, client, i, group)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("memo pipeline: %w", err)
	}
	return nil
}

// generateMemoGroup generates one group's sections in order.
//
// An empty retrieval or an empty model output skips the section and
// continues; everything else is an error that fails the group and,
// through the errgroup, the whole memo.
func (p *Pipelines) generateMemoGroup(ctx context.Context, memo *datatypes.Memo, userID uuid.UUID, docIDs []uuid.UUID, client llm.Client, groupIndex int, group prompts.MemoGroupTemplate) error {
	ctx, span := tracer.Start(ctx, "generateMemoGroup")
	defer span.End()

	// Lexically sortable label so clients can reassemble group order.
	label := fmt.Sprintf("%d. %s", groupIndex+1, group.Name)

	for index, section := range group.Prompts {
		rag, err := p.retriever.Retrieve(ctx, docIDs, userID, section.Prompt, retrieval.MemoCertainty)
		if err != nil {
			return fmt.Errorf("group %q section %q: retrieval failed: %w",
				group.Name, section.Name, err)
		}
		if len(rag) == 0 {
			slog.Info("No context for memo section, skipping",
				"group", group.Name, "section", section.Name)
			p.metrics.RecordMemoSection(observability.SectionSkippedNoContext)
			continue
		}

		messages := make([]llm.Message, 0, len(rag)+3)
		messages = append(messages,
			llm.System(p.assembler.SystemPrompt()),
			llm.System(p.memoTemplate.SystemPrompt))
		messages = append(messages, rag...)
		messages = append(messages, llm.User(section.Prompt))

		if client.RequiresInterleaving() {
			messages = llm.Interleave(messages)
		}

		if err := p.limiter.Acquire(ctx, client.Model(), messages); err != nil {
			return fmt.Errorf("group %q section %q: rate limiter: %w",
				group.Name, section.Name, err)
		}

		content, err := client.Chat(ctx, messages, llm.GenerationParams{})
		if err != nil {
			return fmt.Errorf("group %q section %q: model invoke failed: %w",
				group.Name, section.Name, err)
		}
		if content == "" {
			slog.Error("Empty model output for memo section, skipping",
				"group", group.Name, "section", section.Name)
			p.metrics.RecordMemoSection(observability.SectionSkippedEmpty)
			continue
		}

		if _, err := p.memos.CreateSection(ctx,
			memo.ID, label, section.Name, section.Prompt, content, index); err != nil {
			return fmt.Errorf("group %q section %q: persist failed: %w",
				group.Name, section.Name, err)
		}
		p.metrics.RecordMemoSection(observability.SectionPersisted)
		slog.Info("Generated memo section",
			"memoID", memo.ID, "group", label, "section", section.Name)
	}
	return nil
}
