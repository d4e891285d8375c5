// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompts

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianBrief/services/chat/datatypes"
	"github.com/AleutianAI/AleutianBrief/services/chat/retrieval"
	"github.com/AleutianAI/AleutianBrief/services/chat/store"
	"github.com/AleutianAI/AleutianBrief/services/llm"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("brief.chat.prompts")

// Canned fallback instructions for the contextual strategy. These are
// instructions TO the model, not user-visible strings; the model turns
// them into the actual reply.
const (
	noDocumentsPrompt = `Tell the user that he didn't upload any documents yet, and suggest to do it.
Remind that the more documents he uploads, the better the AI will reply on his questions.
As well point that you can work only with the documents that were uploaded to the chat.`

	documentsProcessingPrompt = `Please inform the user that their documents are still being analyzed by the service
and that they should send their message later once the processing is complete.`

	insufficientDataPrompt = "Tell the user that you don't have needful data to provide the answer."
)

// Assembler builds the ordered message sequence for a conversation
// turn.
//
// # Description
//
// Two strategies exist, selected by the caller from the user's
// settings. BuildSimple splices retrieved context straight between the
// simple system prompt and the user turn. BuildContextual adds the
// document-availability fallbacks and curated style examples.
//
// # Thread Safety
//
// Safe for concurrent use; the assembler holds no mutable state.
type Assembler struct {
	cfg       Config
	retriever retrieval.Retriever
	examples  retrieval.ExampleRetriever
	chats     store.ChatStore
}

// NewAssembler creates an assembler.
//
// examples may be nil; the contextual strategy then skips style
// examples rather than failing.
func NewAssembler(cfg Config, retriever retrieval.Retriever, examples retrieval.ExampleRetriever, chats store.ChatStore) *Assembler {
	return &Assembler{
		cfg:       cfg,
		retriever: retriever,
		examples:  examples,
		chats:     chats,
	}
}

// BuildSimple assembles the simple strategy sequence: simple system
// prompt, retrieved context (however weak), user turn.
func (a *Assembler) BuildSimple(ctx context.Context, docIDs []uuid.UUID, message *datatypes.ChatMessage) ([]llm.Message, error) {
	ctx, span := tracer.Start(ctx, "BuildSimple")
	defer span.End()

	rag, err := a.retriever.Retrieve(ctx, docIDs, message.UserID, message.Content, retrieval.ReplyCertainty)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(rag)+2)
	messages = append(messages, llm.System(a.cfg.SystemSimplePrompt))
	messages = append(messages, rag...)
	messages = append(messages, llm.User(message.Content))
	return messages, nil
}

// BuildContextual assembles the contextual strategy sequence.
//
// # Description
//
// Three outcomes depending on what context exists:
//
//   - No ready documents: a canned instruction telling the user to
//     upload documents, or to wait if some are still processing. No
//     retrieval call is made.
//   - Ready documents but empty retrieval: the system prompt plus a
//     canned "insufficient data" instruction.
//   - Otherwise: system prompt, style examples, retrieved context, user
//     turn.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - docIDs: Documents in the ready state for this chat.
//   - message: The triggering user message.
func (a *Assembler) BuildContextual(ctx context.Context, docIDs []uuid.UUID, message *datatypes.ChatMessage) ([]llm.Message, error) {
	ctx, span := tracer.Start(ctx, "BuildContextual")
	defer span.End()

	if len(docIDs) == 0 {
		prompt := noDocumentsPrompt

		// Distinguish "nothing uploaded" from "still processing".
		allIDs, err := a.chats.GetChatDocumentIDs(ctx, message.ChatID, false)
		if err != nil {
			return nil, err
		}
		if len(allIDs) > 0 {
			prompt = documentsProcessingPrompt
		}

		return []llm.Message{
			llm.User(message.Content),
			llm.User(prompt),
		}, nil
	}

	rag, err := a.retriever.Retrieve(ctx, docIDs, message.UserID, message.Content, retrieval.ReplyCertainty)
	if err != nil {
		return nil, err
	}

	if len(rag) == 0 {
		return []llm.Message{
			llm.System(a.cfg.SystemPrompt),
			llm.User(message.Content),
			llm.User(insufficientDataPrompt),
		}, nil
	}

	var examples []llm.Message
	if a.examples != nil {
		examples, err = a.examples.Examples(ctx, message.Content)
		if err != nil {
			// Style examples are an enhancement; a lookup failure must
			// not take down the reply.
			slog.Warn("Failed to fetch prompt examples, continuing without",
				"chatID", message.ChatID, "error", err)
			examples = nil
		}
	}

	messages := make([]llm.Message, 0, len(examples)+len(rag)+2)
	messages = append(messages, llm.System(a.cfg.SystemPrompt))
	messages = append(messages, examples...)
	messages = append(messages, rag...)
	messages = append(messages, llm.User(message.Content))
	return messages, nil
}

// SystemPrompt exposes the framing prompt for auxiliary calls (title
// derivation, memo sections).
func (a *Assembler) SystemPrompt() string {
	return a.cfg.SystemPrompt
}
