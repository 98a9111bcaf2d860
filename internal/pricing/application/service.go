// Package application 定价服务的应用层：参数快照、结果缓存、追踪、指标与批量调度.
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wyfcoding/mcvol/algorithm/finance"
	"github.com/wyfcoding/mcvol/algorithm/types"
	"github.com/wyfcoding/mcvol/cache"
	"github.com/wyfcoding/mcvol/config"
	"github.com/wyfcoding/mcvol/logging"
	"github.com/wyfcoding/mcvol/metrics"
	"github.com/wyfcoding/mcvol/tracing"
	"github.com/wyfcoding/mcvol/worker"
	"github.com/wyfcoding/mcvol/xerrors"
)

const (
	opEstimate  = "estimate"
	opCalibrate = "calibrate"

	// 闭式对照波动率的收敛精度
	referenceTolerance = 1e-8
)

// ErrServiceClosed 服务已关闭.
var ErrServiceClosed = errors.New("pricing service closed")

// settings 一次请求使用的参数快照，热更新只影响之后的请求.
type settings struct {
	estimator   finance.EstimatorConfig
	calibration finance.CalibrationConfig
	maxQuotes   int
}

func settingsFromConfig(conf *config.Config) (settings, error) {
	s := settings{
		estimator: finance.EstimatorConfig{
			Simulations:    conf.Pricing.Simulations,
			TimeSteps:      conf.Pricing.TimeSteps,
			Workers:        conf.Pricing.Workers,
			Seed:           conf.Pricing.Seed,
			PathsPerStream: conf.Pricing.PathsPerStream,
		},
		calibration: finance.CalibrationConfig{
			LowVolatility:   conf.Calibration.LowVolatility,
			HighVolatility:  conf.Calibration.HighVolatility,
			Tolerance:       conf.Calibration.Tolerance,
			SamplesPerTrial: conf.Calibration.SamplesPerTrial,
		},
		maxQuotes: conf.Batch.MaxQuotes,
	}
	if err := s.estimator.Validate(); err != nil {
		return settings{}, err
	}
	if err := s.calibration.Validate(); err != nil {
		return settings{}, err
	}
	if s.maxQuotes < 1 {
		return settings{}, xerrors.ErrInvalidConfig.WithDetail("batch max quotes must be at least 1, got %d", s.maxQuotes)
	}
	return s, nil
}

// Option PricingService 配置项.
type Option func(*PricingService)

// WithCache 启用结果缓存.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *PricingService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithPool 批量校准使用的工作池. 未设置时批量请求在调用方 goroutine 中顺序执行.
func WithPool(p *worker.Pool) Option {
	return func(s *PricingService) {
		s.pool = p
	}
}

// PricingService 权利金估算与隐含波动率校准服务.
type PricingService struct {
	mu       sync.RWMutex
	settings settings
	closed   bool

	cache    cache.Cache
	cacheTTL time.Duration
	pool     *worker.Pool
	metrics  *pricingMetrics
}

// NewPricingService 创建服务. m 不能为空.
func NewPricingService(conf *config.Config, m *metrics.Metrics, opts ...Option) (*PricingService, error) {
	if m == nil {
		return nil, xerrors.ErrInvalidConfig.WithDetail("metrics is required")
	}
	set, err := settingsFromConfig(conf)
	if err != nil {
		return nil, err
	}
	s := &PricingService{settings: set, metrics: newPricingMetrics(m)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reload 应用新配置中的估算、校准与批量参数. 新参数非法时保留旧值.
func (s *PricingService) Reload(conf *config.Config) {
	set, err := settingsFromConfig(conf)
	if err != nil {
		logging.Warn(context.Background(), "pricing settings reload rejected", "error", err)
		return
	}
	s.mu.Lock()
	s.settings = set
	s.mu.Unlock()
	logging.Info(context.Background(), "pricing settings reloaded",
		"simulations", set.estimator.Simulations,
		"time_steps", set.estimator.TimeSteps,
		"workers", set.estimator.Workers,
		"tolerance", set.calibration.Tolerance,
	)
}

func (s *PricingService) snapshot() (settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return settings{}, xerrors.ErrBusy.WithCause(ErrServiceClosed)
	}
	return s.settings, nil
}

// Health 服务关闭后返回错误.
func (s *PricingService) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrServiceClosed
	}
	return nil
}

// Close 停止工作池并释放缓存. 可重复调用.
func (s *PricingService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.pool != nil {
		s.pool.Stop()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			logging.Warn(context.Background(), "failed to close result cache", "error", err)
		}
	}
}

// EstimatePremium 按当前参数估算看涨与看跌权利金，并附带 Black-Scholes 参照值.
func (s *PricingService) EstimatePremium(ctx context.Context, cmd EstimatePremiumCommand) (*PremiumDTO, error) {
	ctx, span := tracing.StartSpan(ctx, "pricing.EstimatePremium")
	defer span.End()
	start := time.Now()

	dto, err := s.estimatePremium(ctx, cmd)
	s.metrics.observe(opEstimate, start, err)
	if err != nil {
		tracing.SetError(ctx, err)
		logging.Warn(ctx, "premium estimation failed", "error", err)
		return nil, err
	}

	logging.Info(ctx, "premium estimated",
		"spot", cmd.Spot, "strike", cmd.Strike, "volatility", cmd.Volatility,
		"call", dto.Call, "put", dto.Put, "duration", time.Since(start))
	return dto, nil
}

func (s *PricingService) estimatePremium(ctx context.Context, cmd EstimatePremiumCommand) (*PremiumDTO, error) {
	contract, err := finance.NewOptionContract(cmd.TimeToMaturity, cmd.Spot, cmd.Strike, cmd.RiskFreeRate, cmd.Volatility)
	if err != nil {
		return nil, err
	}
	set, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	// 结果与 Workers 无关，不参与键
	est := set.estimator
	key := cache.Key("premium",
		contract.TimeToMaturity, contract.Spot, contract.Strike, contract.RiskFreeRate, contract.Volatility,
		est.Simulations, est.TimeSteps, est.Seed, est.PathsPerStream)

	var dto PremiumDTO
	if s.lookup(ctx, opEstimate, key, &dto) {
		return &dto, nil
	}

	tracing.AddTag(ctx, "pricing.simulations", est.Simulations)
	tracing.AddTag(ctx, "pricing.time_steps", est.TimeSteps)

	estimator, err := finance.NewPremiumEstimator(est)
	if err != nil {
		return nil, err
	}
	res, err := estimator.Estimate(contract)
	if err != nil {
		return nil, err
	}
	ref, err := finance.BlackScholes(contract)
	if err != nil {
		return nil, err
	}

	dto = PremiumDTO{Call: res.Call, Put: res.Put, ReferenceCall: ref.Call, ReferencePut: ref.Put}
	s.remember(ctx, key, dto)
	return &dto, nil
}

// Calibrate 反解使估算权利金匹配观测值的波动率.
func (s *PricingService) Calibrate(ctx context.Context, cmd CalibrateCommand) (*CalibrationDTO, error) {
	ctx, span := tracing.StartSpan(ctx, "pricing.Calibrate")
	defer span.End()
	start := time.Now()

	dto, err := s.calibrate(ctx, cmd)
	s.metrics.observe(opCalibrate, start, err)
	if err != nil {
		tracing.SetError(ctx, err)
		logging.Warn(ctx, "calibration failed", "option_type", cmd.OptionType, "premium", cmd.Premium, "error", err)
		return nil, err
	}

	tracing.AddTag(ctx, "pricing.volatility", dto.Volatility)
	level := logging.Info
	if dto.PinnedToBound {
		level = logging.Warn
	}
	level(ctx, "calibration finished",
		"option_type", cmd.OptionType, "premium", cmd.Premium,
		"volatility", dto.Volatility, "iterations", dto.Iterations,
		"pinned_to_bound", dto.PinnedToBound, "duration", time.Since(start))
	return dto, nil
}

func (s *PricingService) calibrate(ctx context.Context, cmd CalibrateCommand) (*CalibrationDTO, error) {
	optionType, err := types.ParseOptionType(cmd.OptionType)
	if err != nil {
		return nil, err
	}
	contract, err := finance.NewOptionContract(cmd.TimeToMaturity, cmd.Spot, cmd.Strike, cmd.RiskFreeRate, 0)
	if err != nil {
		return nil, err
	}
	set, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	calCfg := set.calibration
	if cmd.Tolerance != 0 {
		calCfg.Tolerance = cmd.Tolerance
	}

	est := set.estimator
	key := cache.Key("iv", optionType,
		contract.TimeToMaturity, contract.Spot, contract.Strike, contract.RiskFreeRate, cmd.Premium,
		calCfg.LowVolatility, calCfg.HighVolatility, calCfg.Tolerance, calCfg.SamplesPerTrial,
		est.Simulations, est.TimeSteps, est.Seed, est.PathsPerStream)

	var dto CalibrationDTO
	if s.lookup(ctx, opCalibrate, key, &dto) {
		return &dto, nil
	}

	estimator, err := finance.NewPremiumEstimator(est)
	if err != nil {
		return nil, err
	}
	calibrator, err := finance.NewVolatilityCalibrator(estimator, calCfg)
	if err != nil {
		return nil, err
	}
	calibrator.OnIteration = func(it finance.Iteration) {
		logging.Debug(ctx, "calibration iteration",
			"index", it.Index, "volatility", it.Volatility, "premium", it.Premium,
			"low", it.Interval.Low, "high", it.Interval.High)
	}

	res, err := calibrator.Calibrate(contract, optionType, cmd.Premium)
	if err != nil {
		return nil, err
	}

	reference, err := finance.BlackScholesImpliedVolatility(contract, optionType, cmd.Premium,
		res.Bounds, referenceTolerance)
	if err != nil {
		return nil, err
	}

	s.metrics.iterations.Observe(float64(res.Iterations))
	pinned := res.PinnedToBound()
	if pinned {
		s.metrics.pinned.Inc()
	}

	dto = CalibrationDTO{
		Volatility:    res.Volatility,
		VolatilityPct: res.Volatility * 100,
		Low:           res.Interval.Low,
		High:          res.Interval.High,
		Iterations:    res.Iterations,
		Exact:         res.Exact,
		PinnedToBound: pinned,

		ReferenceVolatility: reference,
	}
	s.remember(ctx, key, dto)
	return &dto, nil
}

// BatchCalibrate 并行校准一组报价，结果顺序与输入一致. 单个报价失败不影响其他报价.
func (s *PricingService) BatchCalibrate(ctx context.Context, cmd BatchCalibrateCommand) ([]BatchItemDTO, error) {
	set, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	n := len(cmd.Quotes)
	if n == 0 {
		return nil, xerrors.ErrInvalidInput.WithDetail("quotes must not be empty")
	}
	if n > set.maxQuotes {
		return nil, xerrors.ErrBatchTooLarge.WithDetail("got %d quotes, limit is %d", n, set.maxQuotes)
	}

	ctx, span := tracing.StartSpan(ctx, "pricing.BatchCalibrate")
	defer span.End()
	tracing.AddTag(ctx, "pricing.quotes", n)
	defer logging.LogDuration(ctx, "batch calibration", "quotes", n)()
	if s.pool != nil {
		logging.Debug(ctx, "dispatching batch calibration", "quotes", n, "busy_workers", s.pool.Busy())
	}

	items := make([]BatchItemDTO, n)
	var wg sync.WaitGroup
	for i, quote := range cmd.Quotes {
		items[i].Index = i
		wg.Add(1)
		task := func(context.Context) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					items[i].Error = fmt.Sprintf("internal error: %v", r)
					logging.Error(ctx, "batch calibration panic", "index", i, "panic", r)
				}
			}()
			if err := ctx.Err(); err != nil {
				items[i].Error = err.Error()
				return
			}
			res, err := s.Calibrate(ctx, quote)
			if err != nil {
				items[i].Error = err.Error()
				return
			}
			items[i].Result = res
		}

		if s.pool == nil {
			task(ctx)
			continue
		}
		if err := s.pool.Submit(ctx, task); err != nil {
			items[i].Error = err.Error()
			wg.Done()
		}
	}
	wg.Wait()
	return items, nil
}

func (s *PricingService) lookup(ctx context.Context, operation, key string, value any) bool {
	if s.cache == nil {
		return false
	}
	err := s.cache.Get(ctx, key, value)
	if err == nil {
		s.metrics.cacheHits.WithLabelValues(operation).Inc()
		tracing.AddTag(ctx, "pricing.cached", true)
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logging.Warn(ctx, "result cache read failed", "key", key, "error", err)
	}
	return false
}

func (s *PricingService) remember(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		logging.Warn(ctx, "result cache write failed", "key", key, "error", err)
	}
}
