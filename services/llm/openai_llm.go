// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var openaiTracer = otel.Tracer("brief.llm.openai")

// Compile-time interface implementation check.
var _ Client = (*OpenAIClient)(nil)

// OpenAIClient talks to any OpenAI-compatible chat completion API.
//
// The same struct backs both OpenAI proper and DeepSeek (which exposes an
// OpenAI-compatible endpoint); the two differ only in base URL, API key
// source, and capability flags. See NewOpenAIClient and NewDeepSeekClient.
type OpenAIClient struct {
	client               *openai.Client
	model                string
	requiresInterleaving bool
	supportsUsage        bool
}

// NewOpenAIClient creates a client for the given OpenAI model.
//
// The API key is read from OPENAI_API_KEY, falling back to the container
// secret at /run/secrets/openai_api_key. OpenAI models support usage
// streaming and accept arbitrary role sequences.
func NewOpenAIClient(model string) (*OpenAIClient, error) {
	apiKey, err := readAPIKey("OPENAI_API_KEY", "/run/secrets/openai_api_key")
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = openai.GPT4o
		slog.Warn("OpenAI model not specified, defaulting", "model", model)
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client:        openai.NewClient(apiKey),
		model:         model,
		supportsUsage: true,
	}, nil
}

// NewDeepSeekClient creates a client for a DeepSeek model via the
// OpenAI-compatible API at api.deepseek.com.
//
// The API key is read from DEEPSEEK_API_KEY, falling back to the container
// secret at /run/secrets/deepseek_api_key. The reasoner model rejects
// consecutive same-role turns, so its client reports
// RequiresInterleaving() == true.
func NewDeepSeekClient(model string) (*OpenAIClient, error) {
	apiKey, err := readAPIKey("DEEPSEEK_API_KEY", "/run/secrets/deepseek_api_key")
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "deepseek-chat"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = "https://api.deepseek.com/v1"
	slog.Info("Initializing DeepSeek client", "model", model)
	return &OpenAIClient{
		client:               openai.NewClientWithConfig(cfg),
		model:                model,
		requiresInterleaving: model == "deepseek-reasoner",
	}, nil
}

// Model implements Client.
func (o *OpenAIClient) Model() string { return o.model }

// RequiresInterleaving implements Client.
func (o *OpenAIClient) RequiresInterleaving() bool { return o.requiresInterleaving }

// SupportsUsageStreaming implements Client.
func (o *OpenAIClient) SupportsUsageStreaming() bool { return o.supportsUsage }

// Chat implements Client. It runs one non-streaming chat completion and
// returns the first choice's text.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	req := o.buildRequest(messages, params)
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Chat completion failed", "model", o.model, "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Chat completion returned no choices", "model", o.model)
		return "", fmt.Errorf("model %s returned no choices", o.model)
	}
	if resp.Usage.TotalTokens > 0 {
		slog.Info("Tokens used",
			"model", o.model,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements Client. Token fragments are delivered to callback
// in stream order; a final usage event follows when the provider reports
// token accounting.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	req := o.buildRequest(messages, params)
	req.Stream = true
	if o.supportsUsage {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open completion stream: %w", err)
	}
	defer stream.Close()

	tokens := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("stream receive failed: %w", err)
		}

		// The final usage chunk has no choices.
		if len(chunk.Choices) == 0 {
			if chunk.Usage != nil {
				if err := callback(StreamEvent{
					Type:             StreamEventUsage,
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
				}); err != nil {
					return err
				}
			}
			continue
		}

		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		tokens++
		if err := callback(StreamEvent{Type: StreamEventToken, Content: content}); err != nil {
			return err
		}
	}

	span.SetAttributes(attribute.Int("llm.stream_fragments", tokens))
	return nil
}

// buildRequest converts messages and params to a chat completion request.
func (o *OpenAIClient) buildRequest(messages []Message, params GenerationParams) openai.ChatCompletionRequest {
	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: apiMessages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// readAPIKey reads an API key from the environment, falling back to a
// container secret file.
func readAPIKey(envVar, secretPath string) (string, error) {
	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	keyBytes, err := os.ReadFile(secretPath)
	if err == nil {
		slog.Info("Read API key from container secret", "path", secretPath)
		return strings.TrimSpace(string(keyBytes)), nil
	}
	slog.Error("API key not set and secret not found", "env", envVar, "path", secretPath)
	return "", fmt.Errorf("%s environment variable not set", envVar)
}
