// Package async 提供带 panic 恢复的 goroutine 启动工具。
package async

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrPanicRecovered 表示异步任务中恢复的 panic。
var ErrPanicRecovered = errors.New("async task panic recovered")

// SafeGo 启动 goroutine，panic 被恢复并记录堆栈，不会导致进程退出。
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Async task panic recovered",
					"error", fmt.Errorf("%w: %v", ErrPanicRecovered, rec),
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// RunGroup 类似于 errgroup，但 panic 会被转换为错误。
type RunGroup struct {
	err     error
	wg      sync.WaitGroup
	errOnce sync.Once
}

// Go 在组中启动一个任务。
func (g *RunGroup) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				g.setErr(fmt.Errorf("%w: %v", ErrPanicRecovered, rec))
			}
		}()
		if err := fn(); err != nil {
			g.setErr(err)
		}
	}()
}

func (g *RunGroup) setErr(err error) {
	g.errOnce.Do(func() {
		g.err = err
	})
}

// Wait 等待所有任务完成，并返回第一个错误（如果有）。
func (g *RunGroup) Wait() error {
	g.wg.Wait()
	return g.err
}
