package app

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/mcvol/config"
	"github.com/wyfcoding/mcvol/logging"
	"github.com/wyfcoding/mcvol/metrics"
	"github.com/wyfcoding/mcvol/middleware"
	"github.com/wyfcoding/mcvol/response"
	"github.com/wyfcoding/mcvol/server"
	"github.com/wyfcoding/mcvol/tracing"
)

const defaultMetricsPath = "/metrics"

// ServiceInit 初始化业务服务，返回服务实例、清理函数与错误.
type ServiceInit func(conf *config.Config, m *metrics.Metrics) (svc any, cleanup func(), err error)

// RouteRegistrar 在 Gin 引擎上注册业务路由.
type RouteRegistrar func(engine *gin.Engine, svc any)

// Builder 组装配置、日志、追踪、指标与 HTTP 服务器.
type Builder struct {
	serviceName    string
	configPath     string
	conf           *config.Config
	initService    ServiceInit
	registerGin    RouteRegistrar
	appOpts        []Option
	healthCheckers []func() error
	ginMiddleware  []gin.HandlerFunc
	tracingMW      gin.HandlerFunc
	engine         *gin.Engine
}

// NewBuilder 创建构建器.
func NewBuilder(serviceName string) *Builder {
	return &Builder{serviceName: serviceName}
}

// WithConfig 设置配置实例，Build 时从文件加载到该实例.
func (b *Builder) WithConfig(conf *config.Config) *Builder {
	b.conf = conf
	return b
}

// WithConfigPath 指定配置文件路径. 未指定时读取 -conf 命令行参数，默认 ./configs/<service>/config.toml.
func (b *Builder) WithConfigPath(path string) *Builder {
	b.configPath = path
	return b
}

// WithService 注册业务初始化逻辑.
func (b *Builder) WithService(init ServiceInit) *Builder {
	b.initService = init
	return b
}

// WithGin 注册业务路由.
func (b *Builder) WithGin(register RouteRegistrar) *Builder {
	b.registerGin = register
	return b
}

// WithHealthChecker 添加健康检查，任一失败时 /sys/health 返回 503.
func (b *Builder) WithHealthChecker(checker func() error) *Builder {
	b.healthCheckers = append(b.healthCheckers, checker)
	return b
}

// WithGinMiddleware 追加业务中间件，位于内置治理中间件之后.
func (b *Builder) WithGinMiddleware(mw ...gin.HandlerFunc) *Builder {
	b.ginMiddleware = append(b.ginMiddleware, mw...)
	return b
}

// WithOption 追加 App 选项.
func (b *Builder) WithOption(opts ...Option) *Builder {
	b.appOpts = append(b.appOpts, opts...)
	return b
}

// Build 构建 App. 配置加载或服务初始化失败时返回错误.
func (b *Builder) Build() (*App, error) {
	if b.conf == nil {
		b.conf = new(config.Config)
	}
	if err := config.Load(b.resolveConfigPath(), b.conf); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return b.BuildWithConfig(b.conf)
}

// BuildWithConfig 使用已加载的配置构建 App，不读取文件也不监听变更.
func (b *Builder) BuildWithConfig(cfg *config.Config) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	b.conf = cfg
	logger := b.initLogger(cfg)

	if cfg.Tracing.Enabled {
		b.initTracing(cfg, logger)
	}

	m := b.initMetrics(cfg)

	var svc any
	if b.initService != nil {
		instance, cleanup, err := b.initService(cfg, m)
		if err != nil {
			logger.Error("failed to initialize service", "error", err)
			return nil, err
		}
		svc = instance
		b.appOpts = append(b.appOpts, WithCleanup(cleanup))
	}

	engine := b.newEngine(cfg, m, logger.Logger)
	if b.registerGin != nil {
		b.registerGin(engine, svc)
	}
	b.engine = engine

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Addr, cfg.Server.HTTP.Port)
	srv := server.NewGinServer(engine, addr, logger.Logger, server.HTTPTimeouts{
		Read:       cfg.Server.HTTP.ReadTimeout,
		ReadHeader: cfg.Server.HTTP.ReadHeaderTimeout,
		Write:      cfg.Server.HTTP.WriteTimeout,
		Idle:       cfg.Server.HTTP.IdleTimeout,
	})
	b.appOpts = append(b.appOpts, WithServer(srv))

	return New(b.serviceName, logger.Logger, b.appOpts...), nil
}

// Engine 返回构建出的 Gin 引擎，Build 之前为 nil.
func (b *Builder) Engine() *gin.Engine {
	return b.engine
}

func (b *Builder) resolveConfigPath() string {
	if b.configPath != "" {
		return b.configPath
	}
	defaultPath := fmt.Sprintf("./configs/%s/config.toml", b.serviceName)
	if flag.Lookup("conf") == nil {
		flag.String("conf", defaultPath, "path to config file")
	}
	if !flag.Parsed() {
		flag.Parse()
	}
	return flag.Lookup("conf").Value.String()
}

func (b *Builder) initLogger(cfg *config.Config) *logging.Logger {
	logger := logging.InitLogger(logging.Config{
		Service:      b.serviceName,
		Module:       "app",
		Level:        cfg.Log.Level,
		File:         cfg.Log.File,
		Console:      cfg.Log.Console,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		MaxSize:      cfg.Log.MaxSize,
		MaxBackups:   cfg.Log.MaxBackups,
		MaxAge:       cfg.Log.MaxAge,
		Compress:     cfg.Log.Compress,
	})
	slog.SetDefault(logger.Logger)
	return logger
}

func (b *Builder) initTracing(cfg *config.Config, logger *logging.Logger) {
	tracingCfg := cfg.Tracing
	if tracingCfg.ServiceName == "" {
		tracingCfg.ServiceName = b.serviceName
	}
	shutdown, err := tracing.InitTracer(tracingCfg)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		return
	}

	b.appOpts = append(b.appOpts, WithCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}))

	b.tracingMW = middleware.TracingMiddleware(tracingCfg.ServiceName)
}

func (b *Builder) initMetrics(cfg *config.Config) *metrics.Metrics {
	m := metrics.NewMetrics(b.serviceName)
	m.RegisterBuildInfo(b.serviceName, cfg.Version)

	// 配置了独立端口时单独暴露，否则挂在业务引擎上
	if cfg.Metrics.Enabled && cfg.Metrics.Port != "" {
		b.appOpts = append(b.appOpts, WithCleanup(m.ExposeHTTP(cfg.Metrics.Port, cfg.Metrics.Path)))
	}
	return m
}

// newEngine 按固定顺序装配治理中间件：
// recovery → request id → tracing → access log → metrics → 请求体限制 → 并发限制 → 错误处理 → 业务中间件.
func (b *Builder) newEngine(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *gin.Engine {
	if cfg.Server.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	mws := []gin.HandlerFunc{
		middleware.Recovery(logger),
		middleware.RequestID(),
	}
	if b.tracingMW != nil {
		mws = append(mws, b.tracingMW)
	}

	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = defaultMetricsPath
	}
	mws = append(mws,
		middleware.Logger(logger, cfg.Log.SlowThreshold),
		middleware.HTTPMetricsMiddleware(m, middleware.MetricsOptions{SkipPaths: []string{"/sys/health", metricsPath}}),
		middleware.MaxBodyBytes(cfg.Server.HTTP.MaxBodyBytes),
	)
	if cfg.Concurrency.HTTP.Enabled {
		mws = append(mws, middleware.NewConcurrencyLimitMiddleware(cfg.Concurrency.HTTP.Max, cfg.Concurrency.HTTP.WaitTimeout, m))
	}
	mws = append(mws, middleware.HTTPErrorHandler())
	mws = append(mws, b.ginMiddleware...)

	engine := server.NewDefaultGinEngine(mws...)
	b.registerAdminRoutes(engine, cfg, m, metricsPath)
	return engine
}

func (b *Builder) registerAdminRoutes(engine *gin.Engine, cfg *config.Config, m *metrics.Metrics, metricsPath string) {
	sys := engine.Group("/sys")
	sys.GET("/health", func(c *gin.Context) {
		for _, check := range b.healthCheckers {
			if err := check(); err != nil {
				response.ErrorWithStatus(c, http.StatusServiceUnavailable, "DOWN", err.Error())
				return
			}
		}
		response.SuccessWithRawData(c, gin.H{
			"status":    "UP",
			"service":   b.serviceName,
			"version":   cfg.Version,
			"timestamp": time.Now().Unix(),
		})
	})

	if cfg.Metrics.Enabled && cfg.Metrics.Port == "" {
		engine.GET(metricsPath, gin.WrapH(m.Handler()))
	}
}
