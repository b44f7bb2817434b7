package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.APIPort != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.APIPort)
	}
	if cfg.SQLiteJournalMode != "WAL" {
		t.Errorf("expected WAL journal mode, got %s", cfg.SQLiteJournalMode)
	}
	if cfg.PoolSize != 5 {
		t.Errorf("expected pool size 5, got %d", cfg.PoolSize)
	}
	if !cfg.PersistentDefault {
		t.Error("expected persistent sessions by default")
	}
	if cfg.SummaryTrigger != 20 {
		t.Errorf("expected summary trigger 20, got %d", cfg.SummaryTrigger)
	}
	if cfg.SessionTTL.Hours() != 30*24 {
		t.Errorf("expected 30 day TTL, got %v", cfg.SessionTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9001")
	t.Setenv("SQLITE_JOURNAL_MODE", "DELETE")
	t.Setenv("PERSISTENT_SESSIONS_DEFAULT", "false")
	t.Setenv("LLM_TEMPERATURE", "0.9")

	cfg := Load()
	if cfg.APIPort != 9001 {
		t.Errorf("expected port 9001, got %d", cfg.APIPort)
	}
	if cfg.SQLiteJournalMode != "DELETE" {
		t.Errorf("expected DELETE journal mode, got %s", cfg.SQLiteJournalMode)
	}
	if cfg.PersistentDefault {
		t.Error("expected persistent default off")
	}
	if cfg.ChatTemperature != 0.9 {
		t.Errorf("expected temperature 0.9, got %v", cfg.ChatTemperature)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cfg := Load()
	cfg.SQLiteJournalMode = "BOGUS"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for bad journal mode")
	}

	cfg = Load()
	cfg.SQLiteSyncMode = "MAYBE"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for bad sync mode")
	}

	cfg = Load()
	cfg.SummaryTrigger = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero summary trigger")
	}
}

func TestRenderSystemPrompt(t *testing.T) {
	prompts := DefaultPrompts()
	rendered := prompts.RenderSystem("test-model")
	if !strings.Contains(rendered, "Current model: test-model") {
		t.Errorf("model name not substituted:\n%s", rendered)
	}
	if strings.Contains(rendered, "%s") {
		t.Error("unfilled placeholder left in rendered prompt")
	}
}
