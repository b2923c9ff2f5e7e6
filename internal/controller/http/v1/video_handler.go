package v1

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/usecase"
)

type UploadUseCase interface {
	Submit(ctx context.Context, clientID, filename string, file io.Reader) (string, error)
}

type StatusUseCase interface {
	Job(ctx context.Context, fileID string) (*entity.Job, error)
	ProcessStatus(ctx context.Context, fileID string, pt entity.ProcessType) (*entity.ProcessState, error)
}

type VideoHandler struct {
	Upload   UploadUseCase
	Status   StatusUseCase
	MaxBytes int64
}

func NewVideoHandler(upload UploadUseCase, status StatusUseCase, maxBytes int64) *VideoHandler {
	return &VideoHandler{Upload: upload, Status: status, MaxBytes: maxBytes}
}

func (h *VideoHandler) UploadVideo(c *gin.Context) {
	clientID := c.Query("client_id")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBytes)
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	fileID, err := h.Upload.Submit(c.Request.Context(), clientID, file.Filename, f)
	if err != nil {
		if errors.Is(err, usecase.ErrUnsupportedFormat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file must be a video"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue video for processing"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"file_id": fileID, "message": "Video uploaded successfully"})
}

func (h *VideoHandler) VideoEnhancementStatus(c *gin.Context) {
	h.processStatus(c, entity.ProcessVideoEnhancement)
}

func (h *VideoHandler) MetadataExtractionStatus(c *gin.Context) {
	h.processStatus(c, entity.ProcessMetadataExtraction)
}

func (h *VideoHandler) processStatus(c *gin.Context, pt entity.ProcessType) {
	fileID := c.Param("file_id")
	state, err := h.Status.ProcessStatus(c.Request.Context(), fileID, pt)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *VideoHandler) JobState(c *gin.Context) {
	fileID := c.Param("file_id")
	job, err := h.Status.Job(c.Request.Context(), fileID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}
