// Package api exposes the chat backend over HTTP.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"kalichat/chat"
	"kalichat/config"
	"kalichat/llm"
	"kalichat/policy"
	"kalichat/session"
	"kalichat/store"
)

// Handler handles HTTP requests.
type Handler struct {
	chat     *chat.Service
	registry *session.Registry
	store    store.Store
	client   llm.Client
	policy   *policy.Engine
	cfg      *config.Config
	logger   *zap.Logger

	// admission caps in-flight requests; acquisition is non-blocking and
	// saturation answers 503.
	admission chan struct{}
}

// NewHandler creates a new API handler.
func NewHandler(chatSvc *chat.Service, registry *session.Registry, st store.Store, client llm.Client, engine *policy.Engine, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		chat:      chatSvc,
		registry:  registry,
		store:     st,
		client:    client,
		policy:    engine,
		cfg:       cfg,
		logger:    logger,
		admission: make(chan struct{}, cfg.MaxConcurrentRequests),
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/chat", h.Chat, h.admit)
	e.GET("/chat/stream", h.ChatStream, h.admit)
	e.GET("/history/:session_id", h.History)
	e.GET("/models", h.Models)
	e.GET("/health", h.Health)
}

// admit is the concurrency-cap middleware.
func (h *Handler) admit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		select {
		case h.admission <- struct{}{}:
			defer func() { <-h.admission }()
			return next(c)
		default:
			h.logger.Warn("request rejected, concurrency cap reached",
				zap.Int("cap", h.cfg.MaxConcurrentRequests))
			return c.JSON(http.StatusServiceUnavailable, errorBody("Too Many Requests", "server at capacity", http.StatusServiceUnavailable))
		}
	}
}

// errorBody is the error response shape.
func errorBody(errType, details string, code int) map[string]interface{} {
	return map[string]interface{}{
		"error":   errType,
		"details": details,
		"code":    code,
	}
}
