// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/time/rate"
)

// Budget is the per-model admission budget over a one-minute window.
type Budget struct {
	// RequestsPerMinute caps how many invocations are admitted per minute.
	RequestsPerMinute int

	// TokensPerMinute caps the estimated prompt tokens admitted per minute.
	TokensPerMinute int
}

// DefaultBudget is used for models without an explicit budget.
var DefaultBudget = Budget{
	RequestsPerMinute: 500,
	TokensPerMinute:   200_000,
}

// RateLimiter gates model invocations against shared per-model budgets.
//
// Acquire blocks the calling task until the target model has request and
// token budget for the given message sequence, then debits both budgets
// atomically (the debit is the token-bucket reservation itself, so two
// concurrent callers can never jointly exceed the budget). It delays
// rather than rejects; the only error paths are context cancellation and
// a message sequence larger than the whole per-minute budget.
//
// Admission order follows x/time/rate reservation queueing, which is
// FIFO-tending under contention. No priority classes are supported.
//
// # Thread Safety
//
// RateLimiter is safe for concurrent use; one instance is shared by every
// pipeline task in the process.
type RateLimiter struct {
	mu       sync.Mutex
	budgets  map[string]Budget
	limiters map[string]*modelLimiter

	// waitObserver, when set, receives the time spent blocked per
	// admission. Wired to a Prometheus histogram in bootstrap.
	waitObserver func(model string, wait time.Duration)
}

type modelLimiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
	burst    int
}

// NewRateLimiter creates a rate limiter with the given per-model budgets.
// Models absent from budgets fall back to DefaultBudget.
func NewRateLimiter(budgets map[string]Budget) *RateLimiter {
	if budgets == nil {
		budgets = make(map[string]Budget)
	}
	return &RateLimiter{
		budgets:  budgets,
		limiters: make(map[string]*modelLimiter),
	}
}

// SetWaitObserver installs a callback receiving the blocked duration of
// each admission. Must be called before the limiter is shared.
func (rl *RateLimiter) SetWaitObserver(fn func(model string, wait time.Duration)) {
	rl.waitObserver = fn
}

// Acquire blocks until model has budget for messages, then debits it.
func (rl *RateLimiter) Acquire(ctx context.Context, model string, messages []Message) error {
	ml := rl.limiterFor(model)

	cost := EstimateTokens(model, messages)
	if cost > ml.burst {
		// A single oversized prompt can never be admitted; clamp so the
		// call is delayed by a full window instead of erroring.
		slog.Warn("Prompt estimate exceeds per-minute token budget, clamping",
			"model", model, "estimated_tokens", cost, "budget", ml.burst)
		cost = ml.burst
	}

	start := time.Now()
	if err := ml.requests.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait canceled for model %s: %w", model, err)
	}
	if err := ml.tokens.WaitN(ctx, cost); err != nil {
		return fmt.Errorf("rate limiter wait canceled for model %s: %w", model, err)
	}
	waited := time.Since(start)

	if rl.waitObserver != nil {
		rl.waitObserver(model, waited)
	}
	if waited > time.Second {
		slog.Info("Rate limiter delayed admission",
			"model", model, "waited", waited, "estimated_tokens", cost)
	}
	return nil
}

// limiterFor returns the shared limiter pair for model, creating it on
// first use.
func (rl *RateLimiter) limiterFor(model string) *modelLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if ml, ok := rl.limiters[model]; ok {
		return ml
	}

	budget, ok := rl.budgets[model]
	if !ok {
		budget = DefaultBudget
	}
	ml := &modelLimiter{
		requests: rate.NewLimiter(rate.Limit(float64(budget.RequestsPerMinute)/60.0), budget.RequestsPerMinute),
		tokens:   rate.NewLimiter(rate.Limit(float64(budget.TokensPerMinute)/60.0), budget.TokensPerMinute),
		burst:    budget.TokensPerMinute,
	}
	rl.limiters[model] = ml
	return ml
}

// =============================================================================
// Token Estimation
// =============================================================================

// perMessageOverhead approximates the per-turn framing tokens added by
// chat completion APIs.
const perMessageOverhead = 4

var (
	encodingMu    sync.Mutex
	encodingCache = make(map[string]*tiktoken.Tiktoken)
)

// EstimateTokens estimates the prompt token cost of a message sequence
// for the given model. Uses the model's tiktoken encoding when known,
// the cl100k_base encoding otherwise, and a bytes/4 heuristic if no
// encoding can be loaded.
func EstimateTokens(model string, messages []Message) int {
	enc := encodingFor(model)
	total := 0
	for _, m := range messages {
		if enc != nil {
			total += len(enc.Encode(m.Content, nil, nil))
		} else {
			total += len(m.Content) / 4
		}
		total += perMessageOverhead
	}
	if total < 1 {
		total = 1
	}
	return total
}

// encodingFor returns a cached tiktoken encoding for model, or nil when
// no encoding is available.
func encodingFor(model string) *tiktoken.Tiktoken {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			slog.Warn("No tiktoken encoding available, using byte heuristic", "model", model)
			encodingCache[model] = nil
			return nil
		}
	}
	encodingCache[model] = enc
	return enc
}
