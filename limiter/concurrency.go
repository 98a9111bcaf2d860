// Package limiter 提供进程内并发信号量限流器。
package limiter

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrConcurrencyLimit 表示并发上限已触发。
var ErrConcurrencyLimit = errors.New("concurrency limit exceeded")

// ConcurrencyLimiter 定义并发控制的通用接口。
type ConcurrencyLimiter interface {
	Acquire(ctx context.Context) error
	TryAcquire() bool
	Release()
}

// SemaphoreLimiter 使用带缓冲的信号量实现并发控制。Release 必须与成功的 Acquire 成对使用。
type SemaphoreLimiter struct {
	sem      chan struct{}
	disabled bool
}

// NewSemaphoreLimiter 创建一个并发信号量限流器，max <= 0 表示禁用并发限制。
func NewSemaphoreLimiter(max int) *SemaphoreLimiter {
	if max <= 0 {
		return &SemaphoreLimiter{disabled: true}
	}
	return &SemaphoreLimiter{sem: make(chan struct{}, max)}
}

// Acquire 获取一个并发令牌，支持 Context 取消。
func (l *SemaphoreLimiter) Acquire(ctx context.Context) error {
	if l == nil || l.disabled {
		return nil
	}

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireWithTimeout 在 wait 内等待令牌，超时返回 ErrConcurrencyLimit。wait <= 0 时快速失败。
func (l *SemaphoreLimiter) AcquireWithTimeout(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		if l.TryAcquire() {
			return nil
		}
		return ErrConcurrencyLimit
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := l.Acquire(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrConcurrencyLimit
	}
	return nil
}

// TryAcquire 尝试获取一个并发令牌，快速失败。
func (l *SemaphoreLimiter) TryAcquire() bool {
	if l == nil || l.disabled {
		return true
	}

	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release 释放一个并发令牌。
func (l *SemaphoreLimiter) Release() {
	if l == nil || l.disabled {
		return
	}

	select {
	case <-l.sem:
	default:
		slog.Warn("concurrency limiter release without acquire")
	}
}

// InUse 返回当前占用的令牌数。
func (l *SemaphoreLimiter) InUse() int {
	if l == nil || l.disabled {
		return 0
	}
	return len(l.sem)
}
