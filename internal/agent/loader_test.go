package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleAgentYAML = `id: support
name: Support Agent
system_prompt: You are a polite call-center agent.
greeting: "Hello, how can I help?"
language: en-US
voice_provider: mock
voice_id: default
llm_provider: mock
functions:
  - end_call
  - transfer_call
max_turns: 10
max_call_duration: 5m
`

func writeAgentFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write agent file: %v", err)
	}
}

func TestLoadParsesAndValidates(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "support.yaml", sampleAgentYAML)

	cfg, err := Load(filepath.Join(dir, "support.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ID != "support" || cfg.Greeting != "Hello, how can I help?" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.MaxTurns != 10 || cfg.MaxCallDuration.Std() != 5*time.Minute {
		t.Fatalf("limits = (%d, %v), want (10, 5m)", cfg.MaxTurns, cfg.MaxCallDuration.Std())
	}
	if !cfg.FunctionEnabled("end_call") || cfg.FunctionEnabled("capture_data") {
		t.Fatalf("function enablement wrong: %v", cfg.Functions)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "min.yaml", "id: min\nsystem_prompt: p\ngreeting: g\n")

	cfg, err := Load(filepath.Join(dir, "min.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxTurns != DefaultMaxTurns || cfg.MaxCallDuration.Std() != DefaultMaxCallDuration {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.LLMProvider != "mock" || cfg.Language != DefaultLanguage {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsMissingGreeting(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "bad.yaml", "id: bad\nsystem_prompt: p\n")
	if _, err := Load(filepath.Join(dir, "bad.yaml")); err == nil {
		t.Fatalf("Load() accepted an agent without a greeting")
	}
}

func TestLoadDirRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "a.yaml", sampleAgentYAML)
	writeAgentFile(t, dir, "b.yaml", sampleAgentYAML)
	if _, err := LoadDir(dir); err == nil {
		t.Fatalf("LoadDir() accepted duplicate agent ids")
	}
}

func TestLoadDirSkipsNonYAML(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "support.yaml", sampleAgentYAML)
	writeAgentFile(t, dir, "notes.txt", "not yaml")

	agents, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("LoadDir() loaded %d agents, want 1", len(agents))
	}
}
