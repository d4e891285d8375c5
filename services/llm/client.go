// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides model clients for AleutianBrief.
//
// The package defines a provider-neutral Client interface with explicit
// capability flags. Pipelines branch on capabilities (RequiresInterleaving,
// SupportsUsageStreaming), never on concrete client types, so adding a
// provider is additive.
//
// The package also owns the shared rate limiter that gates every model
// invocation (see ratelimit.go) and the message interleaving transform
// required by some providers (see message.go).
package llm

import "context"

// GenerationParams are optional sampling parameters passed to a model.
// Nil fields mean "use the provider default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType identifies the kind of a streamed fragment.
type StreamEventType string

const (
	// StreamEventToken is a text fragment of the assistant reply.
	StreamEventToken StreamEventType = "token"

	// StreamEventUsage carries token accounting, emitted at most once
	// at the end of a stream by clients that support usage streaming.
	StreamEventUsage StreamEventType = "usage"

	// StreamEventError is a provider-side error surfaced mid-stream.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one fragment produced during streaming generation.
//
// Content is set for token events. PromptTokens/CompletionTokens are set
// for usage events. Err is set for error events.
type StreamEvent struct {
	Type             StreamEventType
	Content          string
	PromptTokens     int
	CompletionTokens int
	Err              error
}

// StreamCallback is called for each event during streaming, in stream
// order. Returning a non-nil error aborts the stream.
type StreamCallback func(event StreamEvent) error

// Client is the contract every model backend implements.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; one Client instance is
// shared by all pipeline tasks targeting its model.
type Client interface {
	// Model returns the model identifier this client targets
	// (e.g. "gpt-4o", "deepseek-reasoner").
	Model() string

	// RequiresInterleaving reports whether the provider rejects
	// consecutive same-role turns. Callers must pass the message
	// sequence through Interleave before invoking such a model.
	RequiresInterleaving() bool

	// SupportsUsageStreaming reports whether ChatStream emits a final
	// usage event with token counts.
	SupportsUsageStreaming() bool

	// Chat runs a single non-streaming completion over the ordered
	// message sequence and returns the assistant text.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream runs a streaming completion, invoking callback for each
	// produced event in order. Returns after the stream completes or the
	// callback aborts it.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}
