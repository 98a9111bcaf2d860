package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/mcvol/metrics"
)

// MetricsOptions 指标中间件可选参数。
type MetricsOptions struct {
	SkipPaths []string
}

// HTTPMetricsMiddleware 采集请求数、耗时与在途请求数。
func HTTPMetricsMiddleware(m *metrics.Metrics, opts ...MetricsOptions) gin.HandlerFunc {
	skip := make(map[string]struct{})
	for _, o := range opts {
		for _, path := range o.SkipPaths {
			skip[path] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			// 未匹配路由，避免把任意 URL 作为标签值
			path = "unmatched"
		}
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}

		m.HTTPInFlight.Inc()
		defer m.HTTPInFlight.Dec()

		start := time.Now()
		c.Next()

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
