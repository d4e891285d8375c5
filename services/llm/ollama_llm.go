// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("brief.llm.ollama")

var _ Client = (*OllamaClient)(nil)

// OllamaClient talks to a local Ollama server.
//
// Used for self-hosted deployments where no external provider is
// reachable. Ollama accepts arbitrary role sequences and does not report
// usage during streaming.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   Message `json:"message"`
	CreatedAt string  `json:"created_at"`
	Done      bool    `json:"done"`
}

// NewOllamaClient creates a client for the given model served by the
// Ollama instance at OLLAMA_BASE_URL.
func NewOllamaClient(model string) (*OllamaClient, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if model == "" {
		model = "llama3.1"
		slog.Warn("Ollama model not specified, defaulting", "model", model)
	}
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// Model implements Client.
func (o *OllamaClient) Model() string { return o.model }

// RequiresInterleaving implements Client.
func (o *OllamaClient) RequiresInterleaving() bool { return false }

// SupportsUsageStreaming implements Client.
func (o *OllamaClient) SupportsUsageStreaming() bool { return false }

// Chat implements Client via the Ollama /api/chat endpoint.
func (o *OllamaClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	respBody, err := o.post(ctx, ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Options:  o.buildOptions(params),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer respBody.Close()

	body, err := io.ReadAll(respBody)
	if err != nil {
		return "", fmt.Errorf("failed to read Ollama response: %w", err)
	}
	var resp ollamaChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Error("Failed to parse Ollama chat response", "error", err)
		return "", fmt.Errorf("failed to parse Ollama response: %w", err)
	}
	if resp.Message.Role != RoleAssistant {
		slog.Warn("Ollama chat response role was not assistant", "role", resp.Message.Role)
	}
	return resp.Message.Content, nil
}

// ChatStream implements Client. Ollama streams newline-delimited JSON
// chunks; each chunk's message content is forwarded as a token event.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	respBody, err := o.post(ctx, ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
		Options:  o.buildOptions(params),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer respBody.Close()

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fragments := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			slog.Error("Failed to parse Ollama stream chunk", "error", err)
			return fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			fragments++
			if err := callback(StreamEvent{Type: StreamEventToken, Content: chunk.Message.Content}); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("stream read failed: %w", err)
	}

	span.SetAttributes(attribute.Int("llm.stream_fragments", fragments))
	return nil
}

// post sends a chat request and returns the response body on HTTP 200.
func (o *OllamaClient) post(ctx context.Context, payload ollamaChatRequest) (io.ReadCloser, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		slog.Error("Ollama API call failed", "error", err)
		return nil, fmt.Errorf("Ollama API call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		slog.Error("Ollama returned an error", "status_code", resp.StatusCode, "response", string(body))
		return nil, fmt.Errorf("Ollama failed with status %d: %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

func (o *OllamaClient) buildOptions(params GenerationParams) map[string]any {
	options := make(map[string]any)
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}
