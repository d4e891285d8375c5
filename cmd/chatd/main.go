// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command chatd starts the AleutianBrief chat HTTP server.
//
// This is the main entry point for the containerized chat service. It
// reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - CHAT_PORT: HTTP server port (default: 12310)
//   - WEAVIATE_SERVICE_URL: Weaviate database URL (default: http://localhost:8080)
//   - REDIS_SERVICE_URL: Redis address for event pub/sub (default: localhost:6379)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - CHAT_DEFAULT_MODEL: Model used when requests name none (default: llama3.1)
//   - CHAT_PROMPTS_PATH: System prompt YAML (optional, built-in prompts when empty)
//   - CHAT_MEMO_TEMPLATE_PATH: Memo template YAML (default: configs/memo_templates.yaml)
//   - CHAT_WORKERS: Pipeline worker pool size (default: 8)
//
// # Usage
//
//	# Build
//	go build -o chatd ./cmd/chatd
//
//	# Run
//	./chatd
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianBrief/pkg/logging"
	"github.com/AleutianAI/AleutianBrief/services/chat"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{Service: "chatd", JSON: true})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := chat.Config{
		Port:             getEnvInt("CHAT_PORT", 12310),
		WeaviateURL:      getEnvString("WEAVIATE_SERVICE_URL", "http://localhost:8080"),
		RedisURL:         getEnvString("REDIS_SERVICE_URL", "localhost:6379"),
		OTelEndpoint:     getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		DefaultModel:     getEnvString("CHAT_DEFAULT_MODEL", "llama3.1"),
		PromptsPath:      os.Getenv("CHAT_PROMPTS_PATH"),
		MemoTemplatePath: getEnvString("CHAT_MEMO_TEMPLATE_PATH", "configs/memo_templates.yaml"),
		Workers:          getEnvInt("CHAT_WORKERS", 8),
		EnableMetrics:    true,
	}

	slog.Info("Starting chat service",
		"port", cfg.Port,
		"weaviate_url", cfg.WeaviateURL,
		"redis_url", cfg.RedisURL,
		"default_model", cfg.DefaultModel,
	)

	svc, err := chat.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create chat service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Chat service error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
