package llm

import (
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	// EnvKaliMode is the environment variable name for mode selection.
	EnvKaliMode = "KALI_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewClient creates an LLM client based on the KALI_MODE environment
// variable. If KALI_MODE=MOCK, returns a MockClient; otherwise returns a
// real HTTP client.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) Client {
	if os.Getenv(EnvKaliMode) == ModeMock {
		logger.Info("KALI_MODE=MOCK detected, using mock LLM client")
		return NewMockClient()
	}
	return NewHTTPClient(baseURL, apiKey, timeout)
}
