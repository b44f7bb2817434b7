package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kalichat/config"
	"kalichat/domain"
	"kalichat/llm"
	"kalichat/session"
	"kalichat/store"
	"kalichat/summary"
)

// fakeClient is a scripted provider. Chat and summarization calls are told
// apart by the requested model.
type fakeClient struct {
	mu sync.Mutex

	chatReply    string
	chatErr      error
	chunks       []string
	streamErr    error
	summaryReply string
	summaryErr   error

	summaryCalls int
}

func (f *fakeClient) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.Model == "summarizer" {
		f.summaryCalls++
		if f.summaryErr != nil {
			return nil, f.summaryErr
		}
		return completion(f.summaryReply), nil
	}
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return completion(f.chatReply), nil
}

func (f *fakeClient) CreateChatCompletionStream(ctx context.Context, req *llm.ChatCompletionRequest, callback llm.StreamCallback) (*llm.Usage, error) {
	for _, c := range f.chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		chunk := &llm.StreamChunk{Choices: []llm.Choice{{Delta: &llm.ChatMessage{Role: "assistant", Content: c}}}}
		if err := callback(chunk); err != nil {
			return nil, err
		}
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &llm.Usage{}, nil
}

func (f *fakeClient) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }
func (f *fakeClient) HealthCheck(ctx context.Context, model string) error { return nil }

func (f *fakeClient) summaryCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaryCalls
}

func completion(content string) *llm.ChatCompletionResponse {
	return &llm.ChatCompletionResponse{
		Choices: []llm.Choice{{Message: &llm.ChatMessage{Role: "assistant", Content: content}}},
	}
}

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
		SummaryTrigger:     20,
		SummaryMaxChars:    1500,
		SummaryMaxTokens:   100,
		LLMTimeout:         5 * time.Second,
		DefaultModel:       "chat-model",
		SummarizationModel: "summarizer",
	}
}

func newTestService(t *testing.T, cfg *config.Config, client *fakeClient) (*Service, store.Store) {
	t.Helper()
	logger := zap.NewNop()
	st, err := store.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry, err := session.NewRegistry(cfg, st, logger)
	require.NoError(t, err)

	prompts := config.DefaultPrompts()
	summaries := summary.NewService(client, cfg, prompts, logger)
	return NewService(st, registry, client, summaries, cfg, prompts, logger), st
}

func boolPtr(b bool) *bool { return &b }

func TestProcessNewSession(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client := &fakeClient{chatReply: "hello back"}
	svc, st := newTestService(t, cfg, client)

	resp, err := svc.Process(ctx, domain.ChatRequest{Message: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "hello back", resp.Response)
	assert.Len(t, resp.SessionID, domain.SessionIDLength)
	// System preamble plus the just-persisted user message.
	assert.Equal(t, 2, resp.ContextLength)

	messages, err := st.Messages(ctx, resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)
	assert.Equal(t, "hello back", messages[1].Content)
}

func TestProcessContinuesSession(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client := &fakeClient{chatReply: "ok"}
	svc, _ := newTestService(t, cfg, client)

	first, err := svc.Process(ctx, domain.ChatRequest{Message: "first"})
	require.NoError(t, err)

	second, err := svc.Process(ctx, domain.ChatRequest{Message: "second", SessionID: first.SessionID})
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	// System preamble + first user + first assistant + second user.
	assert.Equal(t, 4, second.ContextLength)
}

func TestProcessRejectsInvalidRequest(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg, &fakeClient{chatReply: "ok"})

	_, err := svc.Process(ctx, domain.ChatRequest{Message: "   "})
	assert.True(t, domain.IsValidation(err))
}

func TestBuildContextInjectsSystemPreambleOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client := &fakeClient{chatReply: "ok"}
	svc, st := newTestService(t, cfg, client)

	resp, err := svc.Process(ctx, domain.ChatRequest{Message: "hello"})
	require.NoError(t, err)

	messages, err := svc.BuildContext(ctx, resp.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	assert.Equal(t, domain.RoleSystem, messages[0].Role)
	for _, msg := range messages[1:] {
		assert.NotEqual(t, domain.RoleSystem, msg.Role)
	}

	// A stored system message suppresses the synthetic one.
	require.NoError(t, st.AppendMessage(ctx, resp.SessionID, domain.RoleSystem, "custom instructions"))
	messages, err = svc.BuildContext(ctx, resp.SessionID)
	require.NoError(t, err)
	systems := 0
	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
}

func TestGenerationFailureDegradesToApology(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client := &fakeClient{chatErr: errors.New("provider down")}
	svc, st := newTestService(t, cfg, client)

	resp, err := svc.Process(ctx, domain.ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, apologyResponse, resp.Response)

	messages, err := st.Messages(ctx, resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, apologyResponse, messages[1].Content)
}

func TestEmptyGenerationDegradesToApology(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client := &fakeClient{chatReply: ""}
	svc, _ := newTestService(t, cfg, client)

	resp, err := svc.Process(ctx, domain.ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, apologyResponse, resp.Response)
}

func TestSummaryTriggerBoundary(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.SummaryTrigger = 4
	client := &fakeClient{chatReply: "ok", summaryReply: "- point one\n- point two\n- point three"}
	svc, st := newTestService(t, cfg, client)

	// Turn one leaves 2 messages: below the trigger, no summary.
	resp, err := svc.Process(ctx, domain.ChatRequest{Message: "first"})
	require.NoError(t, err)
	svc.Wait()
	got, err := st.Summary(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, client.summaryCallCount())

	// Turn two reaches exactly 4 messages: summary fires.
	_, err = svc.Process(ctx, domain.ChatRequest{Message: "second", SessionID: resp.SessionID})
	require.NoError(t, err)
	svc.Wait()
	got, err = st.Summary(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "- point one\n- point two\n- point three", got)

	// Turn three (6 messages) is past the boundary: no new call.
	_, err = svc.Process(ctx, domain.ChatRequest{Message: "third", SessionID: resp.SessionID})
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, 1, client.summaryCallCount())
}

func TestEphemeralSessionNeverSummarized(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.SummaryTrigger = 2
	client := &fakeClient{chatReply: "ok", summaryReply: "- something"}
	svc, st := newTestService(t, cfg, client)

	resp, err := svc.Process(ctx, domain.ChatRequest{Message: "hello", Persistent: boolPtr(false)})
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, 0, client.summaryCallCount())
	got, err := st.Summary(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSummaryFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.SummaryTrigger = 2
	client := &fakeClient{chatReply: "ok", summaryReply: "- first summary"}
	svc, st := newTestService(t, cfg, client)

	resp, err := svc.Process(ctx, domain.ChatRequest{Message: "one"})
	require.NoError(t, err)
	svc.Wait()
	got, err := st.Summary(ctx, resp.SessionID)
	require.NoError(t, err)
	require.Equal(t, "- first summary", got)

	// Next boundary fails; stored summary must survive.
	client.mu.Lock()
	client.summaryErr = errors.New("provider down")
	client.mu.Unlock()
	_, err = svc.Process(ctx, domain.ChatRequest{Message: "two", SessionID: resp.SessionID})
	require.NoError(t, err)
	svc.Wait()
	got, err = st.Summary(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "- first summary", got)
}

func TestStreamPersistsConcatenation(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client := &fakeClient{chunks: []string{"Hel", "lo ", "there"}}
	svc, st := newTestService(t, cfg, client)

	var fragments []string
	resp, err := svc.Stream(ctx, domain.ChatRequest{Message: "hi"}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo ", "there"}, fragments)
	assert.Equal(t, "Hello there", resp.Response)

	messages, err := st.Messages(ctx, resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hello there", messages[1].Content)
}

func TestStreamCancelledNoAssistantRow(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{chatReply: "ok", chunks: []string{"partial ", "never sent"}}
	svc, st := newTestService(t, cfg, client)

	// Pin the session id by creating the session with a normal turn first.
	seed, err := svc.Process(context.Background(), domain.ChatRequest{Message: "seed"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = svc.Stream(ctx, domain.ChatRequest{Message: "hi", SessionID: seed.SessionID}, func(fragment string) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	svc.Wait()

	messages, err := st.Messages(context.Background(), seed.SessionID, 10)
	require.NoError(t, err)
	// Seed turn wrote 2 rows; the cancelled stream added only its user row.
	require.Len(t, messages, 3)
	assert.Equal(t, domain.RoleUser, messages[2].Role)
	assert.Equal(t, "hi", messages[2].Content)
}

func TestStreamFailureBeforeOutputEmitsApology(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client := &fakeClient{streamErr: errors.New("provider down")}
	svc, st := newTestService(t, cfg, client)

	var fragments []string
	resp, err := svc.Stream(ctx, domain.ChatRequest{Message: "hi"}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{apologyResponse}, fragments)
	assert.Equal(t, apologyResponse, resp.Response)

	messages, err := st.Messages(ctx, resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, apologyResponse, messages[1].Content)
}

func TestStreamInterruptedMidwayNotPersisted(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client := &fakeClient{chunks: []string{"partial"}, streamErr: errors.New("connection reset")}
	svc, st := newTestService(t, cfg, client)

	resp, err := svc.Stream(ctx, domain.ChatRequest{Message: "hi"}, func(fragment string) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", resp.Response)

	messages, err := st.Messages(ctx, resp.SessionID, 10)
	require.NoError(t, err)
	// Only the user row; the partial assistant output is dropped.
	require.Len(t, messages, 1)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
}
