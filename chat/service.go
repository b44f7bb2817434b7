// Package chat sequences one conversational turn: session resolution,
// user-message persistence, context building, generation, assistant-message
// persistence, and the conditional summarization check.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kalichat/config"
	"kalichat/domain"
	"kalichat/llm"
	"kalichat/session"
	"kalichat/store"
	"kalichat/summary"
)

// stage labels the step of the turn pipeline currently executing; it only
// feeds logs and wrapped errors.
type stage string

const (
	stageResolvingSession    stage = "resolving_session"
	stagePersistingUser      stage = "persisting_user_message"
	stageBuildingContext     stage = "building_context"
	stageGenerating          stage = "generating"
	stagePersistingAssistant stage = "persisting_assistant_message"
	stageMaybeSummarizing    stage = "maybe_summarizing"
)

// apologyResponse is persisted and returned when generation fails, so the
// assistant message for a turn is never empty.
const apologyResponse = "⚠️ I encountered an error processing your request."

// Service orchestrates turns. Safe for concurrent use; concurrent turns on
// the same session are not serialized against each other (last write wins).
type Service struct {
	store     store.Store
	registry  *session.Registry
	client    llm.Client
	summaries *summary.Service
	cfg       *config.Config
	prompts   *config.Prompts
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewService creates a turn orchestrator.
func NewService(st store.Store, registry *session.Registry, client llm.Client, summaries *summary.Service, cfg *config.Config, prompts *config.Prompts, logger *zap.Logger) *Service {
	logger.Info("chat service initialized",
		zap.Int("max_context_length", cfg.MaxContextLength),
		zap.Int("summary_trigger", cfg.SummaryTrigger))
	return &Service{
		store:     st,
		registry:  registry,
		client:    client,
		summaries: summaries,
		cfg:       cfg,
		prompts:   prompts,
		logger:    logger,
	}
}

// Wait blocks until all in-flight background summarizations finish. Called
// on shutdown and by tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Process handles one single-shot turn.
func (s *Service) Process(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := req.Validate(s.cfg.MaxMessageLength); err != nil {
		return nil, err
	}

	sess, messages, err := s.beginTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	assistant := s.generate(ctx, messages)

	if err := s.store.AppendMessage(ctx, sess.ID, domain.RoleAssistant, assistant); err != nil {
		return nil, fmt.Errorf("%s: %w", stagePersistingAssistant, err)
	}

	s.maybeSummarize(sess)

	return &domain.ChatResponse{
		Response:      assistant,
		SessionID:     sess.ID,
		ContextLength: len(messages),
		Timestamp:     time.Now(),
	}, nil
}

// Stream handles one streamed turn. Fragments are forwarded through emit as
// they arrive; the concatenation of all fragments is the assistant message.
// The assistant message is persisted only if the stream is fully drained —
// a cancelled stream keeps the user message but writes no assistant row.
func (s *Service) Stream(ctx context.Context, req domain.ChatRequest, emit func(fragment string) error) (*domain.ChatResponse, error) {
	if err := req.Validate(s.cfg.MaxMessageLength); err != nil {
		return nil, err
	}

	sess, messages, err := s.beginTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	_, streamErr := s.client.CreateChatCompletionStream(ctx, s.completionRequest(messages, true), func(chunk *llm.StreamChunk) error {
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			return nil
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			return nil
		}
		full.WriteString(text)
		return emit(text)
	})

	if streamErr != nil {
		// Caller disconnected or cancelled: flushed fragments are not
		// retracted, but the accumulated assistant message is dropped.
		if ctx.Err() != nil {
			s.logger.Info("stream cancelled, assistant message not persisted",
				zap.String("session_id", sess.ID),
				zap.Int("flushed_chars", full.Len()))
			return nil, ctx.Err()
		}

		if full.Len() == 0 {
			// Nothing flushed yet; degrade like a single-shot failure.
			s.logger.Error("stream generation failed, degrading",
				zap.String("session_id", sess.ID),
				zap.String("stage", string(stageGenerating)),
				zap.Error(streamErr))
			if err := emit(apologyResponse); err != nil {
				return nil, err
			}
			full.WriteString(apologyResponse)
		} else {
			// Interrupted mid-stream: stream never completed, so the
			// partial assistant message is not persisted.
			s.logger.Error("stream interrupted, assistant message not persisted",
				zap.String("session_id", sess.ID),
				zap.Int("flushed_chars", full.Len()),
				zap.Error(streamErr))
			return &domain.ChatResponse{
				Response:      full.String(),
				SessionID:     sess.ID,
				ContextLength: len(messages),
				Timestamp:     time.Now(),
			}, nil
		}
	}

	assistant := full.String()
	if assistant == "" {
		assistant = apologyResponse
	}
	if err := s.store.AppendMessage(ctx, sess.ID, domain.RoleAssistant, assistant); err != nil {
		return nil, fmt.Errorf("%s: %w", stagePersistingAssistant, err)
	}

	s.maybeSummarize(sess)

	return &domain.ChatResponse{
		Response:      assistant,
		SessionID:     sess.ID,
		ContextLength: len(messages),
		Timestamp:     time.Now(),
	}, nil
}

// beginTurn runs the stages shared by both modes: resolve the session,
// persist the user message, build the context window. Failures here are
// fatal to the turn; no response can be produced without a session and a
// recorded prompt.
func (s *Service) beginTurn(ctx context.Context, req domain.ChatRequest) (domain.ResolvedSession, []domain.Message, error) {
	sess, err := s.registry.Resolve(ctx, req.SessionID, req.Persistent)
	if err != nil {
		return domain.ResolvedSession{}, nil, fmt.Errorf("%s: %w", stageResolvingSession, err)
	}
	s.logger.Debug("processing turn",
		zap.String("session_id", sess.ID),
		zap.String("tier", string(sess.Tier)))

	if err := s.store.AppendMessage(ctx, sess.ID, domain.RoleUser, req.Message); err != nil {
		return domain.ResolvedSession{}, nil, fmt.Errorf("%s: %w", stagePersistingUser, err)
	}
	s.registry.Touch(sess.ID)

	messages, err := s.BuildContext(ctx, sess.ID)
	if err != nil {
		return domain.ResolvedSession{}, nil, fmt.Errorf("%s: %w", stageBuildingContext, err)
	}
	return sess, messages, nil
}

// generate produces the assistant reply for the built context. Provider
// failures and empty outputs degrade to a fixed apology so the persisted
// assistant message is never empty.
func (s *Service) generate(ctx context.Context, messages []domain.Message) string {
	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, s.completionRequest(messages, false))
	if err != nil {
		s.logger.Error("generation failed, degrading",
			zap.String("stage", string(stageGenerating)),
			zap.Error(err))
		return apologyResponse
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == "" {
		s.logger.Error("generation returned empty output, degrading",
			zap.String("stage", string(stageGenerating)))
		return apologyResponse
	}

	s.logger.Debug("generated response",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(resp.Choices[0].Message.Content)))
	return resp.Choices[0].Message.Content
}

func (s *Service) completionRequest(messages []domain.Message, stream bool) *llm.ChatCompletionRequest {
	chatMessages := make([]llm.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		chatMessages = append(chatMessages, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	temperature := s.cfg.ChatTemperature
	maxTokens := s.cfg.LLMMaxTokens
	return &llm.ChatCompletionRequest{
		Model:       s.cfg.DefaultModel,
		Messages:    chatMessages,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Stream:      stream,
	}
}

// maybeSummarize kicks off the post-turn summarization check without
// blocking the request path. Failures never affect the response already
// returned to the caller; a stale summary is retried at the next trigger
// boundary.
func (s *Service) maybeSummarize(sess domain.ResolvedSession) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LLMTimeout)
		defer cancel()
		s.summarizeIfDue(ctx, sess)
	}()
}

// summarizeIfDue summarizes the session when its exact message count is a
// multiple of the trigger interval. Ephemeral sessions are never
// summarized; their history is already disposable.
func (s *Service) summarizeIfDue(ctx context.Context, sess domain.ResolvedSession) {
	if !sess.IsPersistent() {
		s.logger.Debug("skipping summarization for ephemeral session",
			zap.String("session_id", sess.ID),
			zap.String("stage", string(stageMaybeSummarizing)))
		return
	}

	count, err := s.store.CountMessages(ctx, sess.ID)
	if err != nil {
		s.logger.Error("summarization count failed",
			zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	if count == 0 || count%s.cfg.SummaryTrigger != 0 {
		return
	}

	s.logger.Info("triggering summarization",
		zap.String("session_id", sess.ID),
		zap.Int("message_count", count))

	messages, err := s.BuildContext(ctx, sess.ID)
	if err != nil {
		s.logger.Error("summarization context build failed",
			zap.String("session_id", sess.ID), zap.Error(err))
		return
	}

	text, err := s.summaries.Generate(ctx, messages)
	if err != nil {
		s.logger.Warn("summary generation failed, keeping previous summary",
			zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	if err := s.store.SaveSummary(ctx, sess.ID, text); err != nil {
		s.logger.Error("summary save failed",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
}
