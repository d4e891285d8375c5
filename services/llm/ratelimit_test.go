// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRateLimiter_AdmitsWithinBudget verifies that requests within the
// budget are admitted without noticeable delay.
func TestRateLimiter_AdmitsWithinBudget(t *testing.T) {
	rl := NewRateLimiter(map[string]Budget{
		"test-model": {RequestsPerMinute: 600, TokensPerMinute: 600_000},
	})

	start := time.Now()
	err := rl.Acquire(context.Background(), "test-model", []Message{User("hello")})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond,
		"first admission should not block")
}

// TestRateLimiter_ContextCancellationUnblocks verifies that a canceled
// context aborts a blocked Acquire with an error.
func TestRateLimiter_ContextCancellationUnblocks(t *testing.T) {
	rl := NewRateLimiter(map[string]Budget{
		"test-model": {RequestsPerMinute: 1, TokensPerMinute: 1_000_000},
	})

	// Drain the single request slot.
	require.NoError(t, rl.Acquire(context.Background(), "test-model", []Message{User("x")}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Acquire(ctx, "test-model", []Message{User("y")})
	assert.Error(t, err, "blocked acquire should fail when context expires")
}

// TestRateLimiter_ConcurrentAdmissionsShareBudget verifies that
// concurrent callers debit a single shared budget: with N request slots
// per window, at most N of the concurrent acquires complete promptly.
func TestRateLimiter_ConcurrentAdmissionsShareBudget(t *testing.T) {
	const slots = 3
	rl := NewRateLimiter(map[string]Budget{
		"test-model": {RequestsPerMinute: slots, TokensPerMinute: 1_000_000},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var mu sync.Mutex
	admitted := 0

	var wg sync.WaitGroup
	for i := 0; i < slots*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Acquire(ctx, "test-model", []Message{User("q")}); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// The burst admits exactly `slots` callers; the rest block until the
	// context expires (the refill rate is 1 per 20s here).
	assert.Equal(t, slots, admitted, "admissions must not exceed the shared budget")
}

// TestRateLimiter_UnknownModelUsesDefaultBudget verifies the fallback
// budget path.
func TestRateLimiter_UnknownModelUsesDefaultBudget(t *testing.T) {
	rl := NewRateLimiter(nil)

	err := rl.Acquire(context.Background(), "never-configured", []Message{User("hi")})
	assert.NoError(t, err)
}

// TestRateLimiter_WaitObserver verifies that the wait observer receives
// one observation per admission.
func TestRateLimiter_WaitObserver(t *testing.T) {
	rl := NewRateLimiter(map[string]Budget{
		"test-model": {RequestsPerMinute: 600, TokensPerMinute: 600_000},
	})

	var mu sync.Mutex
	calls := 0
	rl.SetWaitObserver(func(model string, wait time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		assert.Equal(t, "test-model", model)
	})

	require.NoError(t, rl.Acquire(context.Background(), "test-model", []Message{User("a")}))
	require.NoError(t, rl.Acquire(context.Background(), "test-model", []Message{User("b")}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

// TestEstimateTokens_GrowsWithContent verifies the estimate is positive
// and monotone in content size regardless of which encoding loads.
func TestEstimateTokens_GrowsWithContent(t *testing.T) {
	short := EstimateTokens("test-model", []Message{User("hi")})
	long := EstimateTokens("test-model", []Message{
		User("a considerably longer message with many more words in it than the short one"),
		System("plus an additional system turn"),
	})

	assert.GreaterOrEqual(t, short, 1)
	assert.Greater(t, long, short)
}

// TestEstimateTokens_OversizedPromptIsClamped verifies that a prompt
// larger than the whole per-minute budget is still admitted (clamped)
// rather than erroring.
func TestEstimateTokens_OversizedPromptIsClamped(t *testing.T) {
	rl := NewRateLimiter(map[string]Budget{
		"tiny-model": {RequestsPerMinute: 10, TokensPerMinute: 5},
	})

	big := make([]byte, 10_000)
	for i := range big {
		big[i] = 'a'
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := rl.Acquire(ctx, "tiny-model", []Message{User(string(big))})
	assert.NoError(t, err, "oversized prompt should be clamped, not rejected")
}
