package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"kalichat/domain"
	"kalichat/policy"
)

// Chat handles POST /chat, one single-shot conversational turn.
func (h *Handler) Chat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Bad Request", "invalid request body", http.StatusBadRequest))
	}
	if p := c.QueryParam("persistent"); p != "" {
		persistent := p == "true" || p == "1"
		req.Persistent = &persistent
	}

	if resp := h.enforcePolicy(c, req, false); resp != nil {
		return resp
	}

	result, err := h.chat.Process(c.Request().Context(), req)
	if err != nil {
		return h.turnError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ChatStream handles GET /chat/stream, a streamed turn over SSE. Each
// fragment is flushed as its own data event; a final "end" event carries
// the [DONE] sentinel.
func (h *Handler) ChatStream(c echo.Context) error {
	req := domain.ChatRequest{
		Message:   c.QueryParam("message"),
		SessionID: c.QueryParam("session_id"),
		Stream:    true,
	}
	if p := c.QueryParam("persistent"); p != "" {
		persistent := p == "true" || p == "1"
		req.Persistent = &persistent
	}

	if resp := h.enforcePolicy(c, req, true); resp != nil {
		return resp
	}
	if err := req.Validate(h.cfg.MaxMessageLength); err != nil {
		return h.turnError(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	result, err := h.chat.Stream(c.Request().Context(), req, func(fragment string) error {
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", fragment); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if c.Request().Context().Err() != nil {
			h.logger.Info("stream client disconnected")
			return nil
		}
		// Headers are already written; all we can do is log and close.
		h.logger.Error("stream turn failed", zap.Error(err))
		return nil
	}

	fmt.Fprintf(w, "event: end\ndata: [DONE]\n\n")
	flusher.Flush()

	h.logger.Debug("stream completed",
		zap.String("session_id", result.SessionID),
		zap.Int("context_length", result.ContextLength))
	return nil
}

// enforcePolicy consults the admission policy and answers the rejection
// itself. A nil return means the request may proceed.
func (h *Handler) enforcePolicy(c echo.Context, req domain.ChatRequest, stream bool) error {
	if h.policy == nil {
		return nil
	}
	decision, reason, err := h.policy.Evaluate(c.Request().Context(), policy.Input{
		MessageLength:      len(req.Message),
		SessionID:          req.SessionID,
		PersistentOverride: req.Persistent != nil,
		Stream:             stream,
	})
	if err != nil {
		h.logger.Error("policy evaluation failed, allowing request", zap.Error(err))
		return nil
	}
	if decision == "reject" {
		h.logger.Warn("request rejected by policy",
			zap.String("reason", reason),
			zap.Int("message_length", len(req.Message)))
		details := "request rejected by policy"
		if reason != "" {
			details = reason
		}
		return c.JSON(http.StatusUnprocessableEntity, errorBody("Unprocessable Entity", details, http.StatusUnprocessableEntity))
	}
	return nil
}

// turnError maps orchestration errors onto the API error shape.
func (h *Handler) turnError(c echo.Context, err error) error {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return c.JSON(http.StatusUnprocessableEntity, errorBody("Unprocessable Entity", vErr.Error(), http.StatusUnprocessableEntity))
	}

	if domain.IsStorage(err) {
		h.logger.Error("storage failure", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("Internal Server Error", "storage failure", http.StatusInternalServerError))
	}

	h.logger.Error("turn failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorBody("Internal Server Error", "failed to process request", http.StatusInternalServerError))
}
