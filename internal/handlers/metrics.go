package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/metrics"
)

// MetricsHandler exposes the Prometheus registry.
type MetricsHandler struct{}

func NewMetricsHandler() *MetricsHandler { return &MetricsHandler{} }

func (h *MetricsHandler) Register(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}
