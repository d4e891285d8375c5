// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Memo Entities
// =============================================================================

// Memo is a structured document built section-by-section from the
// chat's retrievable context. It hangs off the assistant placeholder
// message that triggered it, which makes memo creation idempotent per
// trigger message. UserPrompt records the user request that started
// the generation so regenerated sections keep their original framing.
type Memo struct {
	ID         uuid.UUID     `json:"id"`
	MessageID  uuid.UUID     `json:"message_id"`
	ChatID     uuid.UUID     `json:"chat_id"`
	UserID     uuid.UUID     `json:"user_id"`
	UserPrompt string        `json:"user_prompt"`
	Sections   []MemoSection `json:"sections,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// MemoSection is one generated unit of a memo.
//
// Group carries the display label "<ordinal>. <group name>" so clients
// can sort groups lexically; Index is the section's 0-based position
// within its group. Prompt is the template prompt that produced the
// content, kept for regeneration.
type MemoSection struct {
	ID        uuid.UUID `json:"id"`
	MemoID    uuid.UUID `json:"memo_id"`
	Group     string    `json:"group"`
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	Content   string    `json:"content"`
	Index     int       `json:"index"`
	CreatedAt time.Time `json:"created_at"`
}
