package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/access"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/auth"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/ingest"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/links"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/records"
)

const uploadField = "file"

// UploadHandler accepts files over HTTP and stores them like the bot does.
type UploadHandler struct {
	pipeline *ingest.Pipeline
	gate     *access.Gate
	links    *links.Builder
	secret   string
	logger   *slog.Logger
}

type UploadResponse struct {
	Record records.Record `json:"record"`
	Links  links.Links    `json:"links"`
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(log *slog.Logger, pipeline *ingest.Pipeline, gate *access.Gate, builder *links.Builder, cfg config.Config) *UploadHandler {
	return &UploadHandler{
		pipeline: pipeline,
		gate:     gate,
		links:    builder,
		secret:   cfg.Auth.JWTSecret,
		logger:   log.With(slog.String("handler", "upload")),
	}
}

func (h *UploadHandler) Register(e *echo.Echo) {
	e.POST("/api/upload", h.Upload, auth.JWTMiddleware(h.secret, nil))
}

// Upload godoc
// @Summary Upload a file and get its links
// @Tags files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File to store"
// @Success 201 {object} UploadResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 413 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/upload [post]
func (h *UploadHandler) Upload(c echo.Context) error {
	ctx := c.Request().Context()
	updates := h.gate.Policy().UpdatesChannel

	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if err := h.gate.Authorize(ctx, &userID); err != nil {
		return httpError(c, err, updates)
	}

	mr, err := c.Request().MultipartReader()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}

		rec, err := h.pipeline.Ingest(ctx, ingest.Input{
			OwnerID:  userID,
			Name:     part.FileName(),
			MimeType: part.Header.Get(echo.HeaderContentType),
			Reader:   part,
		})
		_ = part.Close()
		if err != nil {
			he := httpError(c, err, updates)
			if he.Code >= http.StatusInternalServerError {
				h.logger.Error("upload failed", slog.Int64("user_id", userID), slog.Any("error", err))
			}
			return he
		}
		l, err := h.links.For(rec.Token, userID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, UploadResponse{Record: rec, Links: l})
	}
}
