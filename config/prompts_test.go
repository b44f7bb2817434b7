package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPromptsNoFile(t *testing.T) {
	prompts, err := LoadPrompts("")
	if err != nil {
		t.Fatalf("LoadPrompts failed: %v", err)
	}
	if prompts.System != defaultSystemPrompt || prompts.Summarization != defaultSummarizationPrompt {
		t.Error("expected built-in defaults")
	}
}

func TestLoadPromptsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "system: |\n  Custom persona. Model: %s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write prompts file: %v", err)
	}

	prompts, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("LoadPrompts failed: %v", err)
	}
	if prompts.System == defaultSystemPrompt {
		t.Error("system prompt not overridden")
	}
	// Fields absent from the file keep their defaults.
	if prompts.Summarization != defaultSummarizationPrompt {
		t.Error("summarization prompt should keep its default")
	}
}

func TestLoadPromptsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte(":\n  - not valid yaml {"), 0o644); err != nil {
		t.Fatalf("failed to write prompts file: %v", err)
	}
	if _, err := LoadPrompts(path); err == nil {
		t.Error("expected parse error")
	}

	if _, err := LoadPrompts(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected read error for missing file")
	}
}
