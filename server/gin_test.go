package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestGinServerServeAndShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := NewDefaultGinEngine()
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewGinServer(engine, ln.Addr().String(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		HTTPTimeouts{Read: time.Second, Write: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q, want pong", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewDefaultGinEngineMethodNotAllowed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := NewDefaultGinEngine()
	engine.POST("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	srv := NewGinServer(engine, "", slog.Default())
	req, _ := http.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
