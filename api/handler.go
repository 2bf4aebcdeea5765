package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"mediatranscoder/config"
	"mediatranscoder/logging"
	"mediatranscoder/task"

	"github.com/gin-gonic/gin"
)

const queuedMessage = "Transcoding task queued"

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
	logger      *slog.Logger
	// pollInterval paces the websocket progress stream.
	pollInterval time.Duration
}

func NewHandler(tm *task.Manager, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		taskManager:  tm,
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "api"),
		pollInterval: time.Second,
	}
}

type TranscodeRequest struct {
	SourceCID    string `json:"source_cid" form:"source_cid" binding:"required"`
	MediaFormats string `json:"media_formats" form:"media_formats"`
	IsEncrypted  bool   `json:"is_encrypted" form:"is_encrypted"`
	IsGPU        bool   `json:"is_gpu" form:"is_gpu"`
}

type statusResponse struct {
	StatusCode int    `json:"status_code"`
	Metadata   string `json:"metadata"`
	Progress   int    `json:"progress"`
}

func newStatusResponse(res task.QueryResult) statusResponse {
	return statusResponse{StatusCode: http.StatusOK, Metadata: res.Metadata, Progress: res.Progress}
}

// handleTranscode queues a transcoding task. It blocks while the queue is
// full, for as long as the client waits.
func (h *Handler) handleTranscode(c *gin.Context) {
	var req TranscodeRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status_code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	t, err := h.taskManager.Submit(c.Request.Context(), task.Request{
		SourceCID:    req.SourceCID,
		MediaFormats: req.MediaFormats,
		Encrypted:    req.IsEncrypted,
		GPU:          req.IsGPU,
	})
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, task.ErrEmptySource) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("task not queued", "source_cid", req.SourceCID, "error", err)
		c.JSON(status, gin.H{"status_code": status, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status_code": http.StatusOK,
		"message":     queuedMessage,
		"task_id":     t.ID,
	})
}

// handleGetTranscoded reports the result or progress of a task.
func (h *Handler) handleGetTranscoded(c *gin.Context) {
	taskID := c.Param("task_id")
	c.JSON(http.StatusOK, newStatusResponse(h.taskManager.Query(taskID)))
}

// handleGetFile serves a transcoded output from the cache.
func (h *Handler) handleGetFile(c *gin.Context) {
	filename := c.Param("filename")
	// Security: Prevent path traversal
	if filepath.Base(filename) != filename || filename == "." || filename == ".." {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}

	fullPath := filepath.Join(h.cfg.TranscodedDir, filename)
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.File(fullPath)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pending": h.taskManager.Pending()})
}
