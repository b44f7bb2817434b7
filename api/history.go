package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"kalichat/domain"
)

// History handles GET /history/:session_id. It returns the most recent
// page of messages oldest-first, plus the stored summary when one exists.
func (h *Handler) History(c echo.Context) error {
	sessionID := c.Param("session_id")
	probe := domain.ChatRequest{Message: "x", SessionID: sessionID}
	if err := probe.Validate(h.cfg.MaxMessageLength); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Bad Request", "invalid session_id", http.StatusBadRequest))
	}

	ctx := c.Request().Context()
	if !h.registry.Validate(ctx, sessionID) {
		return c.JSON(http.StatusBadRequest, errorBody("Bad Request", "session expired or does not exist", http.StatusBadRequest))
	}

	messages, err := h.store.Messages(ctx, sessionID, h.cfg.HistoryPageSize)
	if err != nil {
		h.logger.Error("history read failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("Internal Server Error", "failed to read history", http.StatusInternalServerError))
	}

	summary, err := h.store.Summary(ctx, sessionID)
	if err != nil {
		h.logger.Error("summary read failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("Internal Server Error", "failed to read history", http.StatusInternalServerError))
	}

	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(http.StatusOK, domain.MessageHistory{
		Messages: messages,
		Summary:  summary,
	})
}
