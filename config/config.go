// Package config provides configuration for the chat backend.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

var validJournalModes = []string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}
var validSyncModes = []string{"NORMAL", "FULL", "OFF"}

// Config holds the backend configuration. It is constructed once at startup
// and passed explicitly to every component.
type Config struct {
	// Server settings
	APIHost string
	APIPort int
	Debug   bool

	// LLM provider
	LLMBaseURL         string
	LLMAPIKey          string
	LLMTimeout         time.Duration
	LLMMaxTokens       int
	ChatTemperature    float64
	SummaryTemperature float64
	DefaultModel       string
	SummarizationModel string

	// Database
	DatabasePath      string
	SQLiteJournalMode string
	SQLiteSyncMode    string
	PoolSize          int

	// Sessions
	SessionDir        string
	SessionTTL        time.Duration
	PersistentDefault bool

	// Messages
	MaxMessageLength int
	MaxContextLength int
	HistoryPageSize  int

	// Summarization
	SummaryTrigger   int
	SummaryMaxChars  int
	SummaryMaxTokens int

	// Admission control
	MaxConcurrentRequests int
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		APIHost: getEnv("API_HOST", "0.0.0.0"),
		APIPort: getEnvInt("API_PORT", 8000),
		Debug:   getEnvBool("DEBUG", false),

		LLMBaseURL:         getEnv("LLM_BASE_URL", "https://api.hyperbolic.xyz/v1"),
		LLMAPIKey:          getEnv("LLM_API_KEY", ""),
		LLMTimeout:         time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second,
		LLMMaxTokens:       getEnvInt("LLM_MAX_TOKENS", 4096),
		ChatTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.7),
		SummaryTemperature: getEnvFloat("SUMMARY_TEMPERATURE", 0.3),
		DefaultModel:       getEnv("LLM_MODEL", "deepseek-ai/DeepSeek-V3-0324"),
		SummarizationModel: getEnv("SUMMARY_MODEL", "meta-llama/Llama-3.3-70B-Instruct"),

		DatabasePath:      getEnv("DATABASE_PATH", "data/chat.db"),
		SQLiteJournalMode: getEnv("SQLITE_JOURNAL_MODE", "WAL"),
		SQLiteSyncMode:    getEnv("SQLITE_SYNC_MODE", "NORMAL"),
		PoolSize:          getEnvInt("CONNECTION_POOL_SIZE", 5),

		SessionDir:        getEnv("SESSION_DIR", "data/sessions"),
		SessionTTL:        time.Duration(getEnvInt("SESSION_TTL_DAYS", 30)) * 24 * time.Hour,
		PersistentDefault: getEnvBool("PERSISTENT_SESSIONS_DEFAULT", true),

		MaxMessageLength: getEnvInt("MAX_MESSAGE_LENGTH", 5000),
		MaxContextLength: getEnvInt("MAX_CONTEXT_LENGTH", 40),
		HistoryPageSize:  getEnvInt("HISTORY_PAGE_SIZE", 10),

		SummaryTrigger:   getEnvInt("SUMMARY_TRIGGER", 20),
		SummaryMaxChars:  getEnvInt("SUMMARY_MAX_CHARS", 1500),
		SummaryMaxTokens: getEnvInt("SUMMARY_MAX_TOKENS", 100),

		MaxConcurrentRequests: getEnvInt("MAX_CONCURRENT_REQUESTS", 100),
	}
}

// Validate checks critical settings and returns the first violation found.
func (c *Config) Validate() error {
	if !contains(validJournalModes, c.SQLiteJournalMode) {
		return fmt.Errorf("invalid SQLITE_JOURNAL_MODE %q, must be one of %v", c.SQLiteJournalMode, validJournalModes)
	}
	if !contains(validSyncModes, c.SQLiteSyncMode) {
		return fmt.Errorf("invalid SQLITE_SYNC_MODE %q, must be one of %v", c.SQLiteSyncMode, validSyncModes)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("CONNECTION_POOL_SIZE must be positive, got %d", c.PoolSize)
	}
	if c.SummaryTrigger <= 0 {
		return fmt.Errorf("SUMMARY_TRIGGER must be positive, got %d", c.SummaryTrigger)
	}
	if c.MaxContextLength <= 0 {
		return fmt.Errorf("MAX_CONTEXT_LENGTH must be positive, got %d", c.MaxContextLength)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
