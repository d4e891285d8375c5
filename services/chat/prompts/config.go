// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompts holds the prompt configuration and the assembler that
// turns a conversation turn into an ordered message sequence.
package prompts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the system prompts used across the pipelines. Loaded
// from YAML at bootstrap so prompt tuning needs no rebuild.
type Config struct {
	// SystemPrompt frames the contextual strategy and auxiliary calls
	// like title derivation.
	SystemPrompt string `yaml:"system_prompt"`

	// SystemSimplePrompt frames the simple strategy.
	SystemSimplePrompt string `yaml:"system_simple_prompt"`
}

// DefaultConfig returns the built-in prompts used when no YAML file is
// configured.
func DefaultConfig() Config {
	return Config{
		SystemPrompt: "You are a financial analyst assistant. Answer questions " +
			"strictly from the document excerpts provided in the conversation. " +
			"Be concise and cite figures exactly as they appear.",
		SystemSimplePrompt: "You are a helpful assistant. Answer the user's " +
			"question using any document excerpts provided in the conversation.",
	}
}

// LoadConfig reads prompt configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read prompts file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse prompts file %s: %w", path, err)
	}

	if cfg.SystemPrompt == "" || cfg.SystemSimplePrompt == "" {
		return Config{}, fmt.Errorf("prompts file %s is missing required prompts", path)
	}
	return cfg, nil
}

// =============================================================================
// Memo Template
// =============================================================================

// MemoPrompt is one section of a memo template.
type MemoPrompt struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// MemoGroupTemplate is one concurrently-generated group of sections.
type MemoGroupTemplate struct {
	Name    string       `yaml:"name"`
	Prompts []MemoPrompt `yaml:"prompts"`
}

// MemoTemplate is the full memo structure: a framing system prompt and
// ordered groups of section prompts. Groups run concurrently, sections
// within a group sequentially.
type MemoTemplate struct {
	SystemPrompt string              `yaml:"system_prompt"`
	Groups       []MemoGroupTemplate `yaml:"groups"`
}

// LoadMemoTemplate reads a memo template from a YAML file.
//
// # Description
//
// The file maps template names to templates so one file can carry
// several memo shapes; key selects which one to load.
//
// # Outputs
//
//   - MemoTemplate: The selected template with at least one group.
//   - error: Non-nil if the file is unreadable, the key is absent, or
//     the template has no groups.
func LoadMemoTemplate(path, key string) (MemoTemplate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return MemoTemplate{}, fmt.Errorf("failed to read memo template file %s: %w", path, err)
	}

	var templates map[string]MemoTemplate
	if err := yaml.Unmarshal(raw, &templates); err != nil {
		return MemoTemplate{}, fmt.Errorf("failed to parse memo template file %s: %w", path, err)
	}

	tmpl, ok := templates[key]
	if !ok {
		return MemoTemplate{}, fmt.Errorf("memo template %q not found in %s", key, path)
	}
	if len(tmpl.Groups) == 0 {
		return MemoTemplate{}, fmt.Errorf("memo template %q in %s has no groups", key, path)
	}
	for _, group := range tmpl.Groups {
		if group.Name == "" || len(group.Prompts) == 0 {
			return MemoTemplate{}, fmt.Errorf("memo template %q in %s has an empty group", key, path)
		}
	}
	return tmpl, nil
}
