package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kalichat/chat"
	"kalichat/config"
	"kalichat/llm"
	"kalichat/policy"
	"kalichat/session"
	"kalichat/store"
	"kalichat/summary"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabasePath:       ":memory:",
		SQLiteJournalMode:  "WAL",
		SQLiteSyncMode:     "NORMAL",
		PoolSize:           5,
		PersistentDefault:  true,
		SessionDir:         t.TempDir(),
		SessionTTL:         30 * 24 * time.Hour,
		MaxMessageLength:   5000,
		MaxContextLength:   40,
		HistoryPageSize:    10,
		SummaryTrigger:     20,
		SummaryMaxChars:    1500,
		SummaryMaxTokens:   100,
		LLMTimeout:         5 * time.Second,
		DefaultModel:       "mock-chat",
		SummarizationModel: "mock-chat",

		MaxConcurrentRequests: 4,
	}
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := testConfig(t)
	logger := zap.NewNop()

	st, err := store.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry, err := session.NewRegistry(cfg, st, logger)
	require.NoError(t, err)

	client := llm.NewMockClient()
	prompts := config.DefaultPrompts()
	summaries := summary.NewService(client, cfg, prompts, logger)
	chatSvc := chat.NewService(st, registry, client, summaries, cfg, prompts, logger)
	t.Cleanup(chatSvc.Wait)

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	return NewHandler(chatSvc, registry, st, client, engine, cfg, logger)
}

func newContext(e *echo.Echo, req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}
