package main

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/mcvol/app"
	"github.com/wyfcoding/mcvol/cache"
	"github.com/wyfcoding/mcvol/config"
	"github.com/wyfcoding/mcvol/internal/pricing/application"
	httphandler "github.com/wyfcoding/mcvol/internal/pricing/interfaces/http"
	"github.com/wyfcoding/mcvol/metrics"
	"github.com/wyfcoding/mcvol/worker"
)

const BootstrapName = "pricing"

var pricingService *application.PricingService

func main() {
	a, err := app.NewBuilder(BootstrapName).
		WithConfig(&config.Config{}).
		WithService(initService).
		WithGin(registerGin).
		WithHealthChecker(func() error { return pricingService.Health() }).
		Build()
	if err != nil {
		slog.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	if err := a.Run(); err != nil {
		slog.Error("application exited with error", "error", err)
		os.Exit(1)
	}
}

func initService(conf *config.Config, m *metrics.Metrics) (any, func(), error) {
	slog.Info("initializing service dependencies...")
	config.PrintWithMask(conf)

	pool := worker.NewPool(
		worker.WithName("batch-calibration"),
		worker.WithSize(conf.Batch.PoolSize),
		worker.WithQueueSize(conf.Batch.QueueSize),
		worker.WithMetrics(m),
		worker.WithLogger(slog.Default()),
	)
	opts := []application.Option{application.WithPool(pool)}

	var resultCache *cache.BigCache
	if conf.Cache.Enabled {
		var err error
		resultCache, err = cache.NewBigCache(BootstrapName, conf.Cache.TTL, conf.Cache.MaxMB, m)
		if err != nil {
			pool.Stop()
			return nil, nil, err
		}
		opts = append(opts, application.WithCache(resultCache, conf.Cache.TTL))
	}

	svc, err := application.NewPricingService(conf, m, opts...)
	if err != nil {
		pool.Stop()
		if resultCache != nil {
			_ = resultCache.Close()
		}
		return nil, nil, err
	}
	config.RegisterReloadHook(svc.Reload)
	pricingService = svc

	cleanup := func() {
		slog.Info("cleaning up resources...")
		svc.Close()
	}
	return svc, cleanup, nil
}

func registerGin(e *gin.Engine, svc any) {
	handler := httphandler.NewPricingHandler(svc.(*application.PricingService))
	handler.RegisterRoutes(e)
	slog.Default().Info("HTTP routes registered", "service", BootstrapName)
}
