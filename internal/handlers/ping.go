package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/healthcheck"
)

type PingHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewPingHandler(log *slog.Logger, checkers ...healthcheck.Checker) *PingHandler {
	return &PingHandler{
		logger:   log.With(slog.String("handler", "ping")),
		checkers: checkers,
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.HealthHead)
	e.GET("/health", h.Health)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// HealthHead answers 200 while the node can serve files and 503 otherwise.
func (h *PingHandler) HealthHead(c echo.Context) error {
	report := healthcheck.Run(c.Request().Context(), h.checkers...)
	return c.NoContent(reportStatus(report))
}

// Health godoc
// @Summary Session pool and store health
// @Tags system
// @Produce json
// @Success 200 {object} healthcheck.Report
// @Failure 503 {object} healthcheck.Report
// @Router /health [get]
func (h *PingHandler) Health(c echo.Context) error {
	report := healthcheck.Run(c.Request().Context(), h.checkers...)
	if !report.Healthy() {
		h.logger.Warn("node unhealthy", slog.String("status", report.Status))
	}
	return c.JSON(reportStatus(report), report)
}

func reportStatus(r healthcheck.Report) int {
	if r.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
