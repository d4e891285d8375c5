// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chat provides the chat backend service for AleutianBrief.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing, the asynchronous pipeline workers, model
// clients, the Weaviate store, Redis event publishing, and
// observability infrastructure.
//
// # Usage
//
//	cfg := chat.Config{Port: 12310}
//	svc, err := chat.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianBrief/services/chat/events"
	"github.com/AleutianAI/AleutianBrief/services/chat/observability"
	"github.com/AleutianAI/AleutianBrief/services/chat/prompts"
	"github.com/AleutianAI/AleutianBrief/services/chat/retrieval"
	"github.com/AleutianAI/AleutianBrief/services/chat/routes"
	"github.com/AleutianAI/AleutianBrief/services/chat/store"
	"github.com/AleutianAI/AleutianBrief/services/chat/tasks"
	"github.com/AleutianAI/AleutianBrief/services/llm"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds chat service configuration options.
//
// # Description
//
// Config centralizes all configuration for the chat service. Values
// can be populated from environment variables, config files, or
// programmatically for testing. All fields have defaults applied by
// New().
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// WeaviateURL is the Weaviate database URL.
	// Default: "http://localhost:8080"
	WeaviateURL string

	// RedisURL is the Redis address for event pub/sub.
	// Default: "localhost:6379"
	RedisURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// DefaultModel answers when neither the user's settings nor the
	// request name one. Default: "llama3.1"
	DefaultModel string

	// PromptsPath locates the system prompt YAML. When empty the
	// built-in prompts are used.
	PromptsPath string

	// MemoTemplatePath locates the memo template YAML.
	// Default: "configs/memo_templates.yaml"
	MemoTemplatePath string

	// MemoTemplateKey selects the template within the file.
	// Default: "short_memo_template"
	MemoTemplateKey string

	// Workers sizes the pipeline worker pool. Default: 8
	Workers int

	// QueueSize bounds pending pipeline tasks. Default: 256
	QueueSize int

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// Service is the assembled chat backend.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type Service struct {
	config        Config
	router        *gin.Engine
	dispatcher    *tasks.Dispatcher
	pipelines     *tasks.Pipelines
	bus           *events.RedisBus
	tracerCleanup func(context.Context)
	cancelWorkers context.CancelFunc
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a chat Service with the given configuration.
//
// # Description
//
// New initializes all components in dependency order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Connects Weaviate and Redis
//  4. Builds the model registry, rate limiter, stores, retrievers,
//     and prompt assembler
//  5. Starts the pipeline worker pool
//  6. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - *Service: Ready-to-run chat service
//   - error: Non-nil if initialization fails
func New(cfg Config) (*Service, error) {
	s := &Service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.PipelineMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for chat pipelines")
	}

	weaviateClient, err := s.initWeaviate()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize Weaviate: %w", err)
	}

	s.bus, err = events.NewRedisBus(context.Background(),
		redis.NewClient(&redis.Options{Addr: s.config.RedisURL}))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to connect Redis: %w", err)
	}

	registry := llm.NewRegistry()
	limiter := llm.NewRateLimiter(nil)
	if metrics != nil {
		limiter.SetWaitObserver(metrics.RecordRateLimitWait)
	}

	promptCfg := prompts.DefaultConfig()
	if s.config.PromptsPath != "" {
		promptCfg, err = prompts.LoadConfig(s.config.PromptsPath)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
	}

	memoTemplate, err := prompts.LoadMemoTemplate(s.config.MemoTemplatePath, s.config.MemoTemplateKey)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load memo template: %w", err)
	}

	chatStore := store.NewWeaviateStore(weaviateClient)
	retriever := retrieval.NewWeaviateRetriever(weaviateClient)
	examples := retrieval.NewWeaviatePromptExamples(weaviateClient)
	assembler := prompts.NewAssembler(promptCfg, retriever, examples, chatStore)

	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancelWorkers = cancel
	s.dispatcher = tasks.NewDispatcher(workerCtx, s.config.Workers, s.config.QueueSize)

	s.pipelines = tasks.NewPipelines(tasks.PipelinesConfig{
		Chats:        chatStore,
		Users:        chatStore,
		Memos:        chatStore,
		Retriever:    retriever,
		Assembler:    assembler,
		Publisher:    s.bus,
		Clients:      registry,
		Limiter:      limiter,
		Queue:        s.dispatcher,
		MemoTemplate: memoTemplate,
		DefaultModel: s.config.DefaultModel,
		Metrics:      metrics,
	})

	s.initRouter(chatStore)

	return s, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *Service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting chat server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// cleanup releases all resources held by the service. Called when
// Run() exits or on initialization failure.
func (s *Service) cleanup() {
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.cancelWorkers != nil {
		s.cancelWorkers()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			slog.Warn("Redis close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.WeaviateURL == "" {
		cfg.WeaviateURL = "http://localhost:8080"
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "llama3.1"
	}
	if cfg.MemoTemplatePath == "" {
		cfg.MemoTemplatePath = "configs/memo_templates.yaml"
	}
	if cfg.MemoTemplateKey == "" {
		cfg.MemoTemplateKey = "short_memo_template"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *Service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chat-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate creates the Weaviate client from the configured URL.
func (s *Service) initWeaviate() (*weaviate.Client, error) {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return client, nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *Service) initRouter(chats store.ChatStore) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("chat-service"))

	routes.SetupRoutes(s.router, chats, s.bus, s.dispatcher, s.pipelines, s.config.EnableMetrics)
}
