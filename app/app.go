// Package app 负责应用的组装、启动、信号处理与优雅关闭.
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wyfcoding/mcvol/async"
	"github.com/wyfcoding/mcvol/server"
)

const shutdownTimeout = 10 * time.Second

// App 应用容器，管理服务器与组件的生命周期.
type App struct {
	name      string
	logger    *slog.Logger
	opts      options
	lifecycle *Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
}

// New 创建应用实例.
func New(name string, logger *slog.Logger, opts ...Option) *App {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	lc := NewLifecycle(logger)
	for _, hook := range o.hooks {
		lc.Append(hook)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		name:      name,
		logger:    logger,
		opts:      o,
		lifecycle: lc,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run 启动组件与服务器并阻塞，直到收到 SIGINT/SIGTERM、调用 Shutdown 或某个服务器异常退出.
func (a *App) Run() error {
	a.logger.Info("Application starting...", "name", a.name, "pid", os.Getpid())

	if err := a.lifecycle.Start(a.ctx); err != nil {
		a.shutdown()
		return err
	}

	serveErr := make(chan error, len(a.opts.servers))
	for _, srv := range a.opts.servers {
		go func(s server.Server) {
			if err := s.Start(a.ctx); err != nil {
				a.logger.Error("server failed", "error", err)
				serveErr <- err
				a.cancel()
			}
		}(srv)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		a.logger.Info("shutting down application", "name", a.name, "signal", sig.String())
	case <-a.ctx.Done():
		a.logger.Info("shutting down application", "name", a.name)
	}

	stopErr := a.shutdown()

	select {
	case err := <-serveErr:
		return errors.Join(err, stopErr)
	default:
		return stopErr
	}
}

// Shutdown 触发 Run 返回.
func (a *App) Shutdown() {
	a.cancel()
}

func (a *App) shutdown() error {
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	var group async.RunGroup
	for _, srv := range a.opts.servers {
		group.Go(func() error {
			if err := srv.Stop(ctx); err != nil {
				a.logger.Error("server failed to stop", "error", err)
				return err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		errs = append(errs, err)
	}
	if err := a.lifecycle.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, cleanup := range a.opts.cleanups {
		cleanup()
	}

	a.logger.Info("application shut down")
	return errors.Join(errs...)
}
