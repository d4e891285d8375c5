// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianBrief/services/chat/store"
	"github.com/AleutianAI/AleutianBrief/services/llm"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("brief.chat.retrieval")

// DefaultChunkLimit bounds how many document chunks one query pulls
// into the prompt.
const DefaultChunkLimit = 10

// exampleLimit bounds how many style examples the contextual strategy
// splices in.
const exampleLimit = 10

// WeaviateRetriever implements Retriever with near-text search over the
// DocumentChunk class.
//
// # Description
//
// Chunks are produced by the ingestion service with document_id,
// user_id and content properties and a text2vec vectorizer. Retrieve
// scopes the search to the given document ids and owner, then keeps
// matches at or above the certainty threshold.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying Weaviate client handles
// connection pooling.
type WeaviateRetriever struct {
	client *weaviate.Client
	limit  int
}

var _ Retriever = (*WeaviateRetriever)(nil)

// NewWeaviateRetriever creates a retriever with the default chunk limit.
func NewWeaviateRetriever(client *weaviate.Client) *WeaviateRetriever {
	return &WeaviateRetriever{client: client, limit: DefaultChunkLimit}
}

// chunkQueryResponse is the shape of a DocumentChunk class query.
type chunkQueryResponse struct {
	Get struct {
		DocumentChunk []chunkResult `json:"DocumentChunk"`
	} `json:"Get"`
}

type chunkResult struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
	Additional struct {
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// Retrieve returns context turns for the query.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - docIDs: Documents eligible as context. Empty means no scope, and
//     an empty result is returned without querying.
//   - userID: Owner; chunks belonging to other users never match.
//   - query: The text to search with.
//   - certainty: Minimum normalized relevance, [0,1].
//
// # Outputs
//
//   - []llm.Message: One system turn per matching chunk, most relevant
//     first. Possibly empty.
//   - error: Non-nil only on query or parse failure.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, docIDs []uuid.UUID, userID uuid.UUID, query string, certainty float32) ([]llm.Message, error) {
	ctx, span := tracer.Start(ctx, "Retrieve")
	defer span.End()

	if len(docIDs) == 0 {
		return nil, nil
	}

	docIDStrings := make([]string, len(docIDs))
	for i, id := range docIDs {
		docIDStrings[i] = id.String()
	}

	docFilter := filters.Where().
		WithPath([]string{"document_id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(docIDStrings...)

	ownerFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID.String())

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{docFilter, ownerFilter})

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query}).
		WithCertainty(certainty)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "document_id"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName("DocumentChunk").
		WithFields(fields...).
		WithWhere(where).
		WithNearText(nearText).
		WithLimit(r.limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate chunk search failed: %w", err)
	}

	parsed, err := store.ParseGraphQLResponse[chunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunk results: %w", err)
	}

	messages := chunksToMessages(parsed.Get.DocumentChunk)

	slog.Debug("Retrieved document context",
		"query_len", len(query), "certainty", certainty, "chunks", len(messages))
	return messages, nil
}

// chunksToMessages formats matching chunks as system turns, skipping
// empty content. Preserves result order (most relevant first).
func chunksToMessages(chunks []chunkResult) []llm.Message {
	messages := make([]llm.Message, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Content == "" {
			continue
		}
		messages = append(messages, llm.System(
			fmt.Sprintf("Document excerpt:\n%s", chunk.Content)))
	}
	return messages
}

// =============================================================================
// Style Examples
// =============================================================================

// WeaviatePromptExamples implements ExampleRetriever against the Prompt
// class of curated question/reply pairs.
type WeaviatePromptExamples struct {
	client *weaviate.Client
}

var _ ExampleRetriever = (*WeaviatePromptExamples)(nil)

// NewWeaviatePromptExamples creates an example retriever.
func NewWeaviatePromptExamples(client *weaviate.Client) *WeaviatePromptExamples {
	return &WeaviatePromptExamples{client: client}
}

// promptQueryResponse is the shape of a Prompt class query.
type promptQueryResponse struct {
	Get struct {
		Prompt []promptResult `json:"Prompt"`
	} `json:"Get"`
}

type promptResult struct {
	Reply string `json:"reply"`
}

// Examples returns at most one system turn listing replies similar to
// the query. No matches yields an empty slice, never an error.
func (r *WeaviatePromptExamples) Examples(ctx context.Context, query string) ([]llm.Message, error) {
	ctx, span := tracer.Start(ctx, "Examples")
	defer span.End()

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query}).
		WithCertainty(ReplyCertainty)

	result, err := r.client.GraphQL().Get().
		WithClassName("Prompt").
		WithFields(graphql.Field{Name: "reply"}).
		WithNearText(nearText).
		WithLimit(exampleLimit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate prompt search failed: %w", err)
	}

	parsed, err := store.ParseGraphQLResponse[promptQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt results: %w", err)
	}
	return promptsToExample(parsed.Get.Prompt), nil
}

// promptsToExample folds curated replies into at most one system turn.
func promptsToExample(results []promptResult) []llm.Message {
	if len(results) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Example of response you provide:\n")
	for _, p := range results {
		if p.Reply == "" {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(p.Reply)
		sb.WriteString("\n")
	}

	return []llm.Message{llm.System(sb.String())}
}
