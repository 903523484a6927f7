package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/access"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/auth"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/flood"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/ingest"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/pool"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/records"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/stream"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Message string `json:"message"`
}

// statusClientClosed is logged, never sent, for requests the client dropped.
const statusClientClosed = 499

// httpError maps a domain error onto an HTTP error, setting any headers the
// status needs. updates is the channel named in subscription errors.
func httpError(c echo.Context, err error, updates string) *echo.HTTPError {
	h := c.Response().Header()
	var (
		busy      *flood.BusyError
		noSession *pool.NoSessionError
	)
	switch {
	case errors.Is(err, records.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	case errors.Is(err, auth.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusForbidden, "invalid or expired link")
	case errors.Is(err, access.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "you are not authorized to access this file")
	case errors.Is(err, access.ErrSubscriptionRequired):
		msg := "join the updates channel to access this file"
		if updates != "" {
			msg = "join " + updates + " to access this file"
		}
		return echo.NewHTTPError(http.StatusForbidden, msg)
	case errors.Is(err, stream.ErrRangeNotSatisfiable):
		return echo.NewHTTPError(http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable")
	case errors.Is(err, ingest.ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ingest.ErrEmpty):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrUpstreamWrite), errors.Is(err, stream.ErrUpstreamRead):
		return echo.NewHTTPError(http.StatusBadGateway, "upstream storage error")
	case errors.As(err, &busy):
		h.Set(echo.HeaderRetryAfter, retryAfterSeconds(busy.RetryAfter))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream busy, retry later")
	case errors.Is(err, flood.ErrUpstreamBusy):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream busy, retry later")
	case errors.As(err, &noSession):
		if !noSession.RetryAt.IsZero() {
			h.Set(echo.HeaderRetryAfter, retryAfterSeconds(time.Until(noSession.RetryAt)))
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no backend session available")
	case errors.Is(err, pool.ErrNoSessionAvailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no backend session available")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(statusClientClosed, "request cancelled")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
