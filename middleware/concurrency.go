package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/mcvol/limiter"
	"github.com/wyfcoding/mcvol/logging"
	"github.com/wyfcoding/mcvol/metrics"
	"github.com/wyfcoding/mcvol/response"
	"github.com/wyfcoding/mcvol/xerrors"
)

// ConcurrencyLimitOptions 并发控制配置.
type ConcurrencyLimitOptions struct {
	// WaitTimeout 获取令牌的最长等待时间，<= 0 时快速失败.
	WaitTimeout time.Duration
	// Metrics 非空时记录被拒绝的请求.
	Metrics *metrics.Metrics
}

// ConcurrencyLimitWithLimiter 使用指定限流器限制同时处理的请求数，超限返回 503。
func ConcurrencyLimitWithLimiter(l *limiter.SemaphoreLimiter, opt ConcurrencyLimitOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := l.AcquireWithTimeout(ctx, opt.WaitTimeout); err != nil {
			logging.Warn(ctx, "http concurrency limit exceeded", "path", c.FullPath(), "error", err)
			if opt.Metrics != nil {
				opt.Metrics.HTTPRejectedTotal.WithLabelValues(c.FullPath()).Inc()
			}
			response.Error(c, xerrors.ErrBusy.WithCause(err))
			c.Abort()
			return
		}
		defer l.Release()
		c.Next()
	}
}

// NewConcurrencyLimitMiddleware 创建并发限流中间件. max <= 0 时不限制.
func NewConcurrencyLimitMiddleware(max int, waitTimeout time.Duration, m *metrics.Metrics) gin.HandlerFunc {
	if max <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return ConcurrencyLimitWithLimiter(limiter.NewSemaphoreLimiter(max), ConcurrencyLimitOptions{WaitTimeout: waitTimeout, Metrics: m})
}
