package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/workers"
)

func TestShouldSkipLimiter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/ping", want: true},
		{path: "/health", want: true},
		{path: "/metrics", want: true},
		{path: "/dl/abc", want: false},
		{path: "/watch/abc", want: false},
		{path: "/api/upload", want: false},
		{path: "/healthz", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipLimiter(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}

type routes struct{}

func (routes) Register(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/dl/:token", func(c echo.Context) error { return c.String(http.StatusOK, c.Param("token")) })
	e.GET("/panic", func(c echo.Context) error { panic("boom") })
}

func TestServerLimiterAndRecover(t *testing.T) {
	t.Parallel()

	limiter := workers.NewLimiter(1)
	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)), "", limiter, routes{}, nil)

	serve := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := serve("/dl/abc"); rec.Code != http.StatusOK || rec.Body.String() != "abc" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve("/panic"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected recovered panic to yield 500, got %d", rec.Code)
	}
	if limiter.InFlight() != 0 {
		t.Fatalf("limiter slot leaked after panic")
	}

	if !limiter.TryAcquire() {
		t.Fatalf("expected free slot")
	}
	defer limiter.Release()
	if rec := serve("/dl/abc"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while saturated, got %d", rec.Code)
	}
	if rec := serve("/ping"); rec.Code != http.StatusOK {
		t.Fatalf("expected probe to bypass limiter, got %d", rec.Code)
	}
}
