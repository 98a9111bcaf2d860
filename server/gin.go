package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultShutdownTimeout = 5 * time.Second

// HTTPTimeouts http.Server 的各项超时，零值表示不限制.
type HTTPTimeouts struct {
	Read       time.Duration
	ReadHeader time.Duration
	Write      time.Duration
	Idle       time.Duration
}

// GinServer 以 http.Server 承载 Gin 引擎，支持优雅关闭.
type GinServer struct {
	server *http.Server
	addr   string
	logger *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewGinServer 创建 Gin 服务器.
func NewGinServer(engine *gin.Engine, addr string, logger *slog.Logger, timeouts ...HTTPTimeouts) *GinServer {
	var t HTTPTimeouts
	if len(timeouts) > 0 {
		t = timeouts[0]
	}
	return &GinServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadTimeout:       t.Read,
			ReadHeaderTimeout: t.ReadHeader,
			WriteTimeout:      t.Write,
			IdleTimeout:       t.Idle,
		},
		addr:   addr,
		logger: logger,
	}
}

// Handler 返回底层 HTTP 处理器，便于测试.
func (s *GinServer) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动监听. ctx 取消时执行优雅关闭.
func (s *GinServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定 listener 上提供服务.
func (s *GinServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting Gin server", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Gin server stopping due to context cancellation")
		return s.shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Stop 优雅停止，最多等待 5 秒.
func (s *GinServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Gin server gracefully")
	return s.shutdown(ctx)
}

// shutdown 只执行一次，重复调用返回首次结果.
func (s *GinServer) shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
		s.shutdownErr = s.server.Shutdown(ctx)
	})
	return s.shutdownErr
}
