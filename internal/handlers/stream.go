package handlers

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/access"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/auth"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/metrics"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/records"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/stream"
)

const (
	dispositionAttachment = "attachment"
	dispositionInline     = "inline"
	defaultMimeType       = "application/octet-stream"
	headerContentRange    = "Content-Range"
)

// StreamHandler serves stored files by token.
type StreamHandler struct {
	gate   *access.Gate
	engine *stream.Engine
	secret string
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(log *slog.Logger, gate *access.Gate, engine *stream.Engine, cfg config.Config) *StreamHandler {
	return &StreamHandler{
		gate:   gate,
		engine: engine,
		secret: cfg.Auth.JWTSecret,
		logger: log.With(slog.String("handler", "stream")),
	}
}

// Register registers the download and watch routes.
func (h *StreamHandler) Register(e *echo.Echo) {
	e.GET("/dl/:token", h.Download)
	e.HEAD("/dl/:token", h.Download)
	e.GET("/watch/:token", h.Watch)
	e.HEAD("/watch/:token", h.Watch)
}

// Download godoc
// @Summary Download a stored file
// @Tags files
// @Param token path string true "File token"
// @Param sig query string false "Requester signature"
// @Param Range header string false "Byte range"
// @Success 200 {file} binary
// @Success 206 {file} binary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 416 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /dl/{token} [get]
func (h *StreamHandler) Download(c echo.Context) error {
	return h.serve(c, dispositionAttachment)
}

// Watch serves the same bytes as Download for in-browser playback.
func (h *StreamHandler) Watch(c echo.Context) error {
	return h.serve(c, dispositionInline)
}

func (h *StreamHandler) serve(c echo.Context, disposition string) error {
	ctx := c.Request().Context()
	token := c.Param("token")
	updates := h.gate.Policy().UpdatesChannel

	requester, err := h.requester(c, token)
	if err != nil {
		return h.fail(c, err, updates)
	}
	rec, err := h.gate.Resolve(ctx, token, requester)
	if err != nil {
		return h.fail(c, err, updates)
	}
	resp, err := h.engine.Stream(ctx, rec, c.Request().Header.Get("Range"))
	if err != nil {
		if errors.Is(err, stream.ErrRangeNotSatisfiable) {
			c.Response().Header().Set(headerContentRange, "bytes */"+strconv.FormatInt(rec.Size, 10))
		}
		return h.fail(c, err, updates)
	}

	// Read the first piece before committing to a status so early backend
	// failures still become proper error responses.
	var first []byte
	if c.Request().Method != http.MethodHead && resp.Length() > 0 {
		first, err = resp.Body.Next(ctx)
		if err != nil {
			return h.fail(c, err, updates)
		}
	}

	setFileHeaders(c.Response().Header(), rec, disposition, resp)
	c.Response().WriteHeader(resp.Status)
	if c.Request().Method == http.MethodHead || resp.Length() == 0 {
		metrics.RecordStream("ok")
		return nil
	}

	written, err := c.Response().Write(first)
	total := int64(written)
	metrics.RecordBytesStreamed(int64(written))
	if err == nil {
		var n int64
		n, err = resp.Body.CopyTo(ctx, c.Response())
		total += n
	}
	switch {
	case err == nil:
		metrics.RecordStream("ok")
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		metrics.RecordStream("cancelled")
		h.logger.Debug("client went away", slog.String("token", token), slog.Int64("sent", total))
	default:
		// Headers are out; the client sees a short body.
		metrics.RecordStream("truncated")
		h.logger.Warn("stream truncated",
			slog.String("token", token),
			slog.Int64("sent", total),
			slog.Int64("expected", resp.Length()),
			slog.Any("error", err))
	}
	return nil
}

// requester returns the user named by the sig parameter, or nil when the
// link carries none.
func (h *StreamHandler) requester(c echo.Context, token string) (*int64, error) {
	sig := c.QueryParam("sig")
	if sig == "" || h.secret == "" {
		return nil, nil
	}
	id, err := auth.ParseLink(sig, token, h.secret)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (h *StreamHandler) fail(c echo.Context, err error, updates string) error {
	he := httpError(c, err, updates)
	outcome := "error"
	switch {
	case he.Code == statusClientClosed:
		outcome = "cancelled"
	case he.Code >= http.StatusInternalServerError:
		h.logger.Warn("stream request failed", slog.String("token", c.Param("token")), slog.Int("status", he.Code), slog.Any("error", err))
	}
	metrics.RecordStream(outcome)
	return he
}

func setFileHeaders(hdr http.Header, rec records.Record, disposition string, resp *stream.Response) {
	ct := rec.MimeType
	if ct == "" {
		ct = defaultMimeType
	}
	hdr.Set(echo.HeaderContentType, ct)
	hdr.Set(echo.HeaderContentDisposition, contentDisposition(disposition, rec.FileName))
	hdr.Set("Accept-Ranges", "bytes")
	hdr.Set(echo.HeaderContentLength, strconv.FormatInt(resp.Length(), 10))
	if cr := resp.ContentRange(); cr != "" {
		hdr.Set(headerContentRange, cr)
	}
}

func contentDisposition(disposition, name string) string {
	if name == "" {
		return disposition
	}
	if v := mime.FormatMediaType(disposition, map[string]string{"filename": name}); v != "" {
		return v
	}
	return disposition
}
