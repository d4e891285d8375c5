// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert
// Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags
// matching the expected response shape.
//
// # Limitations
//
//   - Type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Query Response Types
// =============================================================================

// messageQueryResponse is the shape of a ChatMessage class query.
type messageQueryResponse struct {
	Get struct {
		ChatMessage []messageResult `json:"ChatMessage"`
	} `json:"Get"`
}

type messageResult struct {
	ChatID     string `json:"chat_id"`
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	Kind       string `json:"kind"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"`
	DeletedAt  *int64 `json:"deleted_at"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// chatQueryResponse is the shape of a Chat class query.
type chatQueryResponse struct {
	Get struct {
		Chat []chatResult `json:"Chat"`
	} `json:"Get"`
}

type chatResult struct {
	UserID     string `json:"user_id"`
	Title      string `json:"title"`
	CreatedAt  int64  `json:"created_at"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// userQueryResponse is the shape of a User class query.
type userQueryResponse struct {
	Get struct {
		User []userResult `json:"User"`
	} `json:"Get"`
}

type userResult struct {
	Email      string `json:"email"`
	Model      string `json:"model"`
	SimpleMode *bool  `json:"simple_mode"`
	DeletedAt  *int64 `json:"deleted_at"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// documentQueryResponse is the shape of a ChatDocument class query.
type documentQueryResponse struct {
	Get struct {
		ChatDocument []documentResult `json:"ChatDocument"`
	} `json:"Get"`
}

type documentResult struct {
	ChatID     string `json:"chat_id"`
	Status     string `json:"status"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// memoQueryResponse is the shape of a Memo class query.
type memoQueryResponse struct {
	Get struct {
		Memo []memoResult `json:"Memo"`
	} `json:"Get"`
}

type memoResult struct {
	MessageID  string `json:"message_id"`
	ChatID     string `json:"chat_id"`
	UserID     string `json:"user_id"`
	UserPrompt string `json:"user_prompt"`
	CreatedAt  int64  `json:"created_at"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// =============================================================================
// Property Maps
// =============================================================================

// messageProperties is the Weaviate property map for a ChatMessage object.
type messageProperties struct {
	ChatID    string
	UserID    string
	Role      string
	Kind      string
	Content   string
	CreatedAt int64
}

func (p *messageProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"chat_id":    p.ChatID,
		"user_id":    p.UserID,
		"role":       p.Role,
		"kind":       p.Kind,
		"content":    p.Content,
		"created_at": p.CreatedAt,
	}
}

// memoProperties is the Weaviate property map for a Memo object.
type memoProperties struct {
	MessageID  string
	ChatID     string
	UserID     string
	UserPrompt string
	CreatedAt  int64
}

func (p *memoProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_id":  p.MessageID,
		"chat_id":     p.ChatID,
		"user_id":     p.UserID,
		"user_prompt": p.UserPrompt,
		"created_at":  p.CreatedAt,
	}
}

// sectionProperties is the Weaviate property map for a MemoSection object.
type sectionProperties struct {
	MemoID    string
	Group     string
	Name      string
	Prompt    string
	Content   string
	Index     int
	CreatedAt int64
}

func (p *sectionProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"memo_id":    p.MemoID,
		"group":      p.Group,
		"name":       p.Name,
		"prompt":     p.Prompt,
		"content":    p.Content,
		"index":      p.Index,
		"created_at": p.CreatedAt,
	}
}
