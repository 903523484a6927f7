package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/metrics"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/workers"
)

// Handler registers routes on the shared echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(log *slog.Logger, addr string, limiter *workers.Limiter, handlers ...Handler) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		HandleError:  true,
		LogStatus:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := v.RoutePath
			if route == "" {
				route = "unmatched"
			}
			metrics.RecordHTTPRequest(v.Method, route, v.Status, v.Latency)
			level := slog.LevelInfo
			if shouldSkipLimiter(v.URIPath) {
				level = slog.LevelDebug
			}
			log.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			)
			return nil
		},
	}))
	if limiter != nil {
		e.Use(limiter.Middleware(func(c echo.Context) bool {
			return shouldSkipLimiter(c.Request().URL.Path)
		}))
	}
	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

// shouldSkipLimiter exempts cheap probe endpoints so a saturated node still
// reports its health.
func shouldSkipLimiter(path string) bool {
	switch path {
	case "/ping", "/health", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/debug/")
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
