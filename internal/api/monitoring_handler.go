package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolioPro/internal/metrics"
)

// MonitoringHandler 暴露最近的安全事件与慢请求。
type MonitoringHandler struct {
	recorder *metrics.Recorder
}

// NewMonitoringHandler 构造监控处理器。
func NewMonitoringHandler(recorder *metrics.Recorder) *MonitoringHandler {
	return &MonitoringHandler{recorder: recorder}
}

// Snapshot 返回环形缓冲中的记录，最新的在前。
func (h *MonitoringHandler) Snapshot(c *gin.Context) {
	events := h.recorder.SecurityEvents()
	slow := h.recorder.SlowRequests()
	c.JSON(http.StatusOK, gin.H{
		"security_events": events,
		"slow_requests":   slow,
		"counts": gin.H{
			"security_events": len(events),
			"slow_requests":   len(slow),
		},
	})
}
