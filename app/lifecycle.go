package app

import (
	"context"
	"log/slog"
	"sync"
)

// Hook 组件的启动与停止逻辑，任一函数可为 nil.
type Hook struct {
	Name    string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Lifecycle 管理多个组件的启停顺序
type Lifecycle struct {
	logger  *slog.Logger
	mu      sync.Mutex
	hooks   []Hook
	started int // 已成功启动的钩子数
}

// NewLifecycle 创建生命周期管理器
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Append 添加钩子
func (l *Lifecycle) Append(hook Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Start 按注册顺序启动，遇到错误立即返回. 已启动的组件仍会被 Stop 停止.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := l.started; i < len(l.hooks); i++ {
		hook := l.hooks[i]
		if hook.OnStart != nil {
			l.logger.Info("Lifecycle: starting component", "name", hook.Name)
			if err := hook.OnStart(ctx); err != nil {
				l.logger.Error("Lifecycle: failed to start component", "name", hook.Name, "error", err)
				return err
			}
		}
		l.started = i + 1
	}
	return nil
}

// Stop 逆序停止已启动的组件，返回第一个错误
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for i := l.started - 1; i >= 0; i-- {
		hook := l.hooks[i]
		if hook.OnStop == nil {
			continue
		}
		l.logger.Info("Lifecycle: stopping component", "name", hook.Name)
		if err := hook.OnStop(ctx); err != nil {
			l.logger.Error("Lifecycle: failed to stop component", "name", hook.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	l.started = 0
	return firstErr
}
