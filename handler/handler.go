package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kelly-nie213/rallycoachAIDemo/dto"
	"github.com/kelly-nie213/rallycoachAIDemo/repository"
	"github.com/kelly-nie213/rallycoachAIDemo/service"
)

// Uploader stores a request-time upload in the object store.
type Uploader interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error)
}

type Handler struct {
	service service.Service
	uploads Uploader
}

func New(svc service.Service, uploads Uploader) *Handler {
	return &Handler{
		service: svc,
		uploads: uploads,
	}
}

// SubmitVideo creates a job for an already-stored source reference.
func (h *Handler) SubmitVideo(c *gin.Context) {
	var req dto.SubmitVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	job, err := h.service.Submit(c.Request.Context(), req.SourcePath)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewJobResponse(job))
}

// UploadVideo streams a multipart video into the object store and
// creates the job in one call.
func (h *Handler) UploadVideo(c *gin.Context) {
	file, header, err := c.Request.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "video file is required"})
		return
	}
	defer file.Close()

	objectName := fmt.Sprintf("uploads/%s_%s", uuid.New().String(), filepath.Base(header.Filename))
	contentType := header.Header.Get("Content-Type")
	sourcePath, err := h.uploads.Put(c.Request.Context(), objectName, file, header.Size, contentType)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to store uploaded video")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to store video"})
		return
	}

	job, err := h.service.Submit(c.Request.Context(), sourcePath)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewJobResponse(job))
}

// ProcessVideo triggers the pipeline. It acknowledges with the job in
// PROCESSING; the outcome is observed by polling GetVideo.
func (h *Handler) ProcessVideo(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	job, err := h.service.Begin(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewJobResponse(job))
}

// GetVideo is the polling read: a plain stateless lookup of current
// job state. Clients re-read at the advertised pollAfterMs until the
// status is terminal.
func (h *Handler) GetVideo(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	job, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptySourcePath):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
	case errors.Is(err, repository.ErrJobConflict):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "job is not pending"})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}

func jobID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid job id"})
		return 0, false
	}
	return uint(id), true
}
