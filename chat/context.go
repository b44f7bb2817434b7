package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kalichat/domain"
)

// BuildContext assembles the bounded context window for one turn: the last
// N stored messages oldest-first, with exactly one synthetic system message
// prepended when none is present among them. The synthetic message is never
// persisted and never counts toward N. For a fixed message set and template
// the output is identical on every call.
func (s *Service) BuildContext(ctx context.Context, sessionID string) ([]domain.Message, error) {
	messages, err := s.store.Messages(ctx, sessionID, s.cfg.MaxContextLength)
	if err != nil {
		return nil, fmt.Errorf("failed to read context window: %w", err)
	}

	hasSystem := false
	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			hasSystem = true
			break
		}
	}
	if !hasSystem {
		preamble := domain.Message{
			Role:    domain.RoleSystem,
			Content: s.prompts.RenderSystem(s.cfg.DefaultModel),
		}
		messages = append([]domain.Message{preamble}, messages...)
		s.logger.Debug("injected system preamble",
			zap.String("session_id", sessionID),
			zap.String("model", s.cfg.DefaultModel))
	}

	s.logger.Debug("context prepared",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(messages)),
		zap.Int("window", s.cfg.MaxContextLength))
	return messages, nil
}
