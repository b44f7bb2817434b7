package api

import (
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// healthResponse reports the readiness of each dependency.
type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Config    map[string]any    `json:"config"`
}

// Health handles GET /health. Degraded dependencies flip the status but the
// endpoint itself still answers 200 so probes can read the detail.
func (h *Handler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	checks := map[string]string{}
	status := "healthy"

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health: store unreachable", zap.Error(err))
		checks["database"] = "unreachable"
		status = "degraded"
	} else {
		checks["database"] = "ok"
	}

	if info, err := os.Stat(h.cfg.SessionDir); err != nil || !info.IsDir() {
		h.logger.Warn("health: session dir missing", zap.String("dir", h.cfg.SessionDir))
		checks["sessions"] = "unreachable"
		status = "degraded"
	} else {
		checks["sessions"] = "ok"
	}

	if err := h.client.HealthCheck(ctx, h.cfg.DefaultModel); err != nil {
		h.logger.Warn("health: llm provider unreachable", zap.Error(err))
		checks["llm"] = "unreachable"
		status = "degraded"
	} else {
		checks["llm"] = "ok"
	}

	return c.JSON(http.StatusOK, healthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Config: map[string]any{
			"default_model":       h.cfg.DefaultModel,
			"summarization_model": h.cfg.SummarizationModel,
			"max_context_length":  h.cfg.MaxContextLength,
			"summary_trigger":     h.cfg.SummaryTrigger,
			"persistent_default":  h.cfg.PersistentDefault,
		},
	})
}
