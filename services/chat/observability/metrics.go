// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the chat
// pipelines.
//
// # Description
//
// Metrics cover the two pipelines end to end:
//   - Pipeline run counters (by pipeline and outcome)
//   - Streamed fragment counters and stream duration histograms
//   - Memo section outcomes (persisted vs skipped)
//   - Rate-limiter admission wait histograms
//   - Token usage by direction and model
//
// # Integration
//
// Exposed via the /metrics endpoint. All helper methods are nil-safe so
// tests and tools can run pipelines without a registry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aleutian"

const chatSubsystem = "chat"

// Pipeline identifies a task pipeline for metrics labeling.
type Pipeline string

const (
	PipelineReply Pipeline = "reply"
	PipelineMemo  Pipeline = "memo"
	PipelineTitle Pipeline = "title"
)

// PipelineMetrics holds all Prometheus metrics for the chat pipelines.
//
// Initialize once at startup via InitMetrics; a nil *PipelineMetrics is
// valid and records nothing.
type PipelineMetrics struct {
	// RunsTotal counts pipeline runs.
	// Labels: pipeline (reply, memo, title), status (success, error)
	RunsTotal *prometheus.CounterVec

	// FragmentsTotal counts streamed fragments published.
	// Labels: model
	FragmentsTotal *prometheus.CounterVec

	// StreamDurationSeconds measures model stream duration.
	// Labels: model, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// MemoSectionsTotal counts memo section outcomes.
	// Labels: outcome (persisted, skipped_no_context, skipped_empty_output)
	MemoSectionsTotal *prometheus.CounterVec

	// RateLimitWaitSeconds measures time spent blocked in admission.
	// Labels: model
	RateLimitWaitSeconds *prometheus.HistogramVec

	// TokensTotal counts tokens by direction and model.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all pipeline metrics on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "pipeline_runs_total",
				Help:      "Total pipeline runs by pipeline and status",
			},
			[]string{"pipeline", "status"},
		),

		FragmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "fragments_total",
				Help:      "Total streamed fragments published",
			},
			[]string{"model"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Model stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"model", "status"},
		),

		MemoSectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "memo_sections_total",
				Help:      "Memo section outcomes",
			},
			[]string{"outcome"},
		),

		RateLimitWaitSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "rate_limit_wait_seconds",
				Help:      "Time spent blocked waiting for rate-limiter admission",
				Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 15, 60},
			},
			[]string{"model"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRun records one pipeline run outcome.
func (m *PipelineMetrics) RecordRun(pipeline Pipeline, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(string(pipeline), status).Inc()
}

// RecordFragment records one published stream fragment.
func (m *PipelineMetrics) RecordFragment(model string) {
	if m == nil {
		return
	}
	m.FragmentsTotal.WithLabelValues(model).Inc()
}

// RecordStreamDuration records the duration of one model stream.
func (m *PipelineMetrics) RecordStreamDuration(model string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(model, status).Observe(d.Seconds())
}

// RecordMemoSection records one memo section outcome.
func (m *PipelineMetrics) RecordMemoSection(outcome string) {
	if m == nil {
		return
	}
	m.MemoSectionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRateLimitWait records time spent blocked in admission. Wired as
// the rate limiter's wait observer at bootstrap.
func (m *PipelineMetrics) RecordRateLimitWait(model string, wait time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWaitSeconds.WithLabelValues(model).Observe(wait.Seconds())
}

// RecordTokens records token usage for one model call.
func (m *PipelineMetrics) RecordTokens(model string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}

// Memo section outcome labels.
const (
	SectionPersisted        = "persisted"
	SectionSkippedNoContext = "skipped_no_context"
	SectionSkippedEmpty     = "skipped_empty_output"
)
