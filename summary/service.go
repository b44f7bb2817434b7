// Package summary compresses conversation history into short summaries via
// the LLM provider.
package summary

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"kalichat/config"
	"kalichat/domain"
	"kalichat/llm"
)

// wordsPerToken approximates how many words one output token yields when
// converting the word budget into max_tokens.
const wordsPerToken = 3

// Service generates conversation summaries with a lower creativity setting
// than regular chat turns.
type Service struct {
	client  llm.Client
	cfg     *config.Config
	prompts *config.Prompts
	logger  *zap.Logger
}

// NewService creates a summarization service.
func NewService(client llm.Client, cfg *config.Config, prompts *config.Prompts, logger *zap.Logger) *Service {
	return &Service{client: client, cfg: cfg, prompts: prompts, logger: logger}
}

// Generate summarizes the given context snapshot. The result is hard
// truncated at the configured character cap. Empty provider output is an
// error; callers treat any error as "keep the previous summary".
func (s *Service) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	prompt := s.buildPrompt(messages)
	s.logger.Debug("starting summarization",
		zap.Int("messages", len(messages)),
		zap.Int("prompt_chars", len(prompt)))

	temperature := s.cfg.SummaryTemperature
	maxTokens := s.cfg.SummaryMaxTokens
	if maxTokens <= 0 {
		maxTokens = s.cfg.SummaryMaxChars / wordsPerToken
	}

	resp, err := s.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:       s.cfg.SummarizationModel,
		Messages:    []llm.ChatMessage{{Role: "user", Content: prompt}},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarization request failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", fmt.Errorf("summarization returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("summarization returned empty output")
	}
	if strings.HasPrefix(text, "⚠️") {
		return "", fmt.Errorf("summarization returned error sentinel")
	}
	if len(text) > s.cfg.SummaryMaxChars {
		text = clip(text, s.cfg.SummaryMaxChars)
	}

	s.logger.Info("summary generated",
		zap.Int("chars", len(text)),
		zap.Int("quality", EstimateQuality(text)))
	return text, nil
}

// buildPrompt renders the conversation as a transcript under the
// summarization instruction. Overlong messages are clipped so the prompt
// stays bounded.
func (s *Service) buildPrompt(messages []domain.Message) string {
	var b strings.Builder
	b.WriteString(s.prompts.Summarization)
	b.WriteString("\n\nConversation:\n")
	for _, msg := range messages {
		content := clip(msg.Content, s.cfg.MaxMessageLength)
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, content)
	}
	return b.String()
}

// clip truncates s to at most max bytes without splitting a rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// EstimateQuality scores a summary 1-5 from its length and bullet-point
// structure. The score feeds logs and metrics only; it never gates storage.
func EstimateQuality(summary string) int {
	if strings.TrimSpace(summary) == "" {
		return 1
	}

	var lines []string
	for _, line := range strings.Split(summary, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) == 0 {
		return 1
	}

	bullets := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "•") {
			bullets++
		}
	}

	switch {
	case bullets >= 3:
		return 5
	case bullets >= 1:
		return 3
	case len(summary) >= 100:
		return 2
	default:
		return 1
	}
}
