package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolioPro/internal/api/middleware"
	"portfolioPro/internal/config"
	"portfolioPro/internal/metrics"
)

// NewRouter 构建 Gin 引擎并挂载通用中间件与健康检查端点。
func NewRouter(cfg *config.Config, logger *slog.Logger, recorder *metrics.Recorder) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(recorder, cfg.Limits.SlowRequest),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
