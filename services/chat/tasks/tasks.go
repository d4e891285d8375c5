// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tasks implements the asynchronous chat pipelines: streaming
// replies, memo generation, and title derivation.
//
// # Description
//
// Each pipeline runs as one dispatched unit of work (see worker.go).
// Pipelines share no mutable state beyond the rate limiter's per-model
// budgets and the store's own concurrency control; tasks for different
// messages run fully in parallel.
//
// Failures are terminal for the failing task. Precondition violations
// (missing message, deleted user, wrong message kind) return
// descriptive errors with no retry semantics; the dispatcher logs them
// and moves on.
package tasks

import (
	"context"

	"github.com/AleutianAI/AleutianBrief/services/chat/events"
	"github.com/AleutianAI/AleutianBrief/services/chat/observability"
	"github.com/AleutianAI/AleutianBrief/services/chat/prompts"
	"github.com/AleutianAI/AleutianBrief/services/chat/retrieval"
	"github.com/AleutianAI/AleutianBrief/services/chat/store"
	"github.com/AleutianAI/AleutianBrief/services/llm"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("brief.chat.tasks")

// ClientProvider resolves a model identifier to a client. Satisfied by
// *llm.Registry.
type ClientProvider interface {
	Get(model string) (llm.Client, error)
}

// Admitter gates model invocations on the shared per-model budget.
// Satisfied by *llm.RateLimiter.
type Admitter interface {
	Acquire(ctx context.Context, model string, messages []llm.Message) error
}

// Pipelines owns the collaborators shared by all chat tasks.
//
// # Thread Safety
//
// Safe for concurrent use; all fields are set at construction and
// never mutated.
type Pipelines struct {
	chats     store.ChatStore
	users     store.UserStore
	memos     store.MemoStore
	retriever retrieval.Retriever
	assembler *prompts.Assembler
	publisher events.Publisher
	clients   ClientProvider
	limiter   Admitter
	queue     TaskQueue

	memoTemplate prompts.MemoTemplate
	defaultModel string
	metrics      *observability.PipelineMetrics
}

// PipelinesConfig collects the collaborators for NewPipelines.
type PipelinesConfig struct {
	Chats     store.ChatStore
	Users     store.UserStore
	Memos     store.MemoStore
	Retriever retrieval.Retriever
	Assembler *prompts.Assembler
	Publisher events.Publisher
	Clients   ClientProvider
	Limiter   Admitter
	Queue     TaskQueue

	MemoTemplate prompts.MemoTemplate

	// DefaultModel is used when neither the user's settings nor the
	// trigger name a model.
	DefaultModel string

	// Metrics may be nil; pipelines then record nothing.
	Metrics *observability.PipelineMetrics
}

// NewPipelines creates the pipeline set.
func NewPipelines(cfg PipelinesConfig) *Pipelines {
	return &Pipelines{
		chats:        cfg.Chats,
		users:        cfg.Users,
		memos:        cfg.Memos,
		retriever:    cfg.Retriever,
		assembler:    cfg.Assembler,
		publisher:    cfg.Publisher,
		clients:      cfg.Clients,
		limiter:      cfg.Limiter,
		queue:        cfg.Queue,
		memoTemplate: cfg.MemoTemplate,
		defaultModel: cfg.DefaultModel,
		metrics:      cfg.Metrics,
	}
}

// resolveModel picks the model for a task: the user's override wins,
// then the trigger's model, then the service default.
func (p *Pipelines) resolveModel(userModel, triggerModel string) string {
	if userModel != "" {
		return userModel
	}
	if triggerModel != "" {
		return triggerModel
	}
	return p.defaultModel
}
