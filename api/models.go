package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"kalichat/llm"
)

// Models handles GET /models, exposing the provider's model list.
func (h *Handler) Models(c echo.Context) error {
	models, err := h.client.ListModels(c.Request().Context())
	if err != nil {
		h.logger.Error("model list failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorBody("Bad Gateway", "failed to list models", http.StatusBadGateway))
	}
	return c.JSON(http.StatusOK, llm.ModelsResponse{Object: "list", Data: models})
}
