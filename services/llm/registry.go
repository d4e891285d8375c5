// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"strings"
	"sync"
)

// Registry resolves model identifiers to constructed clients.
//
// Clients are created lazily on first request and cached; all callers
// asking for the same model share one client instance. Unknown model
// identifiers are routed to Ollama, so locally pulled models work without
// registry changes.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	clients map[string]Client
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Get returns the client for the given model identifier, constructing it
// on first use.
func (r *Registry) Get(model string) (Client, error) {
	if model == "" {
		return nil, fmt.Errorf("model identifier is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[model]; ok {
		return client, nil
	}

	client, err := newClientForModel(model)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for model %q: %w", model, err)
	}
	r.clients[model] = client
	return client, nil
}

// Register installs a pre-constructed client for a model identifier,
// replacing any cached one. Intended for tests and custom deployments.
func (r *Registry) Register(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Model()] = client
}

// newClientForModel picks the backend by model identifier prefix.
func newClientForModel(model string) (Client, error) {
	switch {
	case strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		return NewOpenAIClient(model)
	case strings.HasPrefix(model, "deepseek-"):
		return NewDeepSeekClient(model)
	default:
		return NewOllamaClient(model)
	}
}
