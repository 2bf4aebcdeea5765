package api

import (
	"log/slog"

	"mediatranscoder/config"
	"mediatranscoder/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm *task.Manager, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	r := gin.Default()
	r.Use(CORSMiddleware())
	h := NewHandler(tm, cfg, logger)
	registerRoutes(r, h, cfg)
	return r
}

func registerRoutes(r *gin.Engine, h *Handler, cfg *config.Config) {
	// Health check
	r.GET("/health", h.handleHealth)

	authed := r.Group("/")
	authed.Use(AuthMiddleware(cfg))
	{
		authed.GET("/transcode", h.handleTranscode)
		authed.POST("/transcode", h.handleTranscode)
		authed.GET("/get_transcoded/:task_id", h.handleGetTranscoded)
		authed.GET("/ws/progress/:task_id", h.handleProgressStream)
		authed.GET("/files/:filename", h.handleGetFile)
	}
}
