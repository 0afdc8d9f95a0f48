package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portfoliopro"

var (
	registerOnce sync.Once

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时分布（秒）。",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP 请求总数。",
		},
		[]string{"method", "path", "status"},
	)

	requestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "当前正在处理的 HTTP 请求数量。",
		},
	)

	slowRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "slow_requests_total",
			Help:      "超过慢请求阈值的 HTTP 请求数。",
		},
		[]string{"method", "path"},
	)
)

// GinMiddleware 为 Gin 路由注册 Prometheus 指标采集逻辑。
// rec 非空时，耗时超过 slow 的请求会写入 rec 的慢请求列表。
func GinMiddleware(rec *Recorder, slow time.Duration) gin.HandlerFunc {
	registerOnce.Do(func() {
		prometheus.MustRegister(requestDuration, requestTotal, requestsInFlight, slowRequestsTotal)
	})

	return func(c *gin.Context) {
		start := time.Now()
		requestsInFlight.Inc()
		defer requestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := strconv.Itoa(c.Writer.Status())
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"path":   path,
			"status": status,
		}

		elapsed := time.Since(start)
		requestDuration.With(labels).Observe(elapsed.Seconds())
		requestTotal.With(labels).Inc()

		if slow > 0 && elapsed > slow {
			slowRequestsTotal.WithLabelValues(c.Request.Method, path).Inc()
			if rec != nil {
				rec.RecordSlowRequest(SlowRequest{
					Method:   c.Request.Method,
					Path:     c.Request.URL.Path,
					Status:   c.Writer.Status(),
					Duration: elapsed,
					At:       start,
				})
			}
		}
	}
}
