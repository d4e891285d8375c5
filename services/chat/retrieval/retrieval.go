// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval provides semantic context retrieval for the chat
// pipelines.
//
// A Retriever turns a query plus a document scope into context turns
// ready to splice into a prompt. Empty results are normal and signal
// "no relevant context", not an error.
package retrieval

import (
	"context"

	"github.com/AleutianAI/AleutianBrief/services/llm"
	"github.com/google/uuid"
)

// Certainty thresholds used by the pipelines. Certainty is Weaviate's
// normalized [0,1] relevance score.
const (
	// ReplyCertainty is the threshold for conversational replies.
	ReplyCertainty float32 = 0.5

	// MemoCertainty is the stricter threshold for memo sections, where
	// a weakly-relevant excerpt is worse than no section at all.
	MemoCertainty float32 = 0.7
)

// Retriever fetches document context for a query.
type Retriever interface {
	// Retrieve returns context turns for the query, scoped to the given
	// documents and owner, keeping only matches at or above the
	// certainty threshold. The result is ordered most-relevant first
	// and may be empty.
	Retrieve(ctx context.Context, docIDs []uuid.UUID, userID uuid.UUID, query string, certainty float32) ([]llm.Message, error)
}

// ExampleRetriever fetches curated style examples for the contextual
// prompt strategy.
type ExampleRetriever interface {
	// Examples returns zero or one system turns holding reply examples
	// relevant to the query.
	Examples(ctx context.Context, query string) ([]llm.Message, error)
}
