// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "strings"

// Role tags a message with its author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn in a model conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system-role message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user-role message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant-role message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Interleave reorders messages so no two consecutive turns share a role,
// preserving relative order within each role.
//
// Some providers (DeepSeek R1 among them) reject message sequences with
// consecutive same-role turns. Messages are dealt round-robin from
// per-role queues in first-appearance order; when only a single role has
// turns left, the remainder is folded into the last emitted message of
// that role so the output still strictly alternates.
//
// The input slice is not modified.
func Interleave(messages []Message) []Message {
	if len(messages) < 2 {
		return messages
	}

	var order []Role
	queues := make(map[Role][]Message)
	for _, m := range messages {
		if _, seen := queues[m.Role]; !seen {
			order = append(order, m.Role)
		}
		queues[m.Role] = append(queues[m.Role], m)
	}
	if len(order) == 1 {
		// Single role: nothing to alternate with, fold into one turn.
		return []Message{foldMessages(queues[order[0]])}
	}

	out := make([]Message, 0, len(messages))
	for {
		progressed := false
		remaining := 0
		for _, r := range order {
			q := queues[r]
			if len(q) == 0 {
				continue
			}
			if len(out) > 0 && out[len(out)-1].Role == r {
				remaining += len(q)
				continue
			}
			out = append(out, q[0])
			queues[r] = q[1:]
			remaining += len(q) - 1
			progressed = true
		}
		if remaining == 0 {
			break
		}
		if !progressed {
			// Only the last emitted role has turns left.
			last := &out[len(out)-1]
			for _, r := range order {
				for _, m := range queues[r] {
					last.Content = last.Content + "\n\n" + m.Content
				}
				queues[r] = nil
			}
			break
		}
	}
	return out
}

// foldMessages merges same-role messages into a single turn.
func foldMessages(msgs []Message) Message {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return Message{Role: msgs[0].Role, Content: strings.Join(parts, "\n\n")}
}
