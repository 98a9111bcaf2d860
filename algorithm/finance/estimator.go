package finance

import (
	"github.com/wyfcoding/mcvol/algorithm/sim"
	"github.com/wyfcoding/mcvol/xerrors"
)

// 估算器默认参数.
const (
	DefaultSimulations    = 10000
	DefaultTimeSteps      = 100
	DefaultPathsPerStream = sim.DefaultBlockSize
)

// EstimatorConfig 蒙特卡洛估算参数.
type EstimatorConfig struct {
	Simulations    int    // 路径数
	TimeSteps      int    // 时间步数
	Workers        int    // 并行度，1 为同步
	Seed           uint64 // 0 表示每次运行取新熵
	PathsPerStream int    // 每个随机子流负责的路径数
}

// DefaultEstimatorConfig 返回默认估算参数.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Simulations:    DefaultSimulations,
		TimeSteps:      DefaultTimeSteps,
		Workers:        1,
		PathsPerStream: DefaultPathsPerStream,
	}
}

// Validate 校验估算参数.
func (c EstimatorConfig) Validate() error {
	if c.Simulations <= 0 {
		return xerrors.ErrInvalidSimulation.WithDetail("simulations must be positive, got %d", c.Simulations)
	}
	if c.TimeSteps <= 0 {
		return xerrors.ErrInvalidSimulation.WithDetail("time steps must be positive, got %d", c.TimeSteps)
	}
	if c.Workers < 0 || c.PathsPerStream < 0 {
		return xerrors.ErrInvalidSimulation.WithDetail("workers and paths per stream must not be negative")
	}
	return nil
}

// EstimatorOption 估算器配置项.
type EstimatorOption func(*PremiumEstimator)

// WithSampler 为每个路径块注入正态采样器，用于测试或自定义随机源.
func WithSampler(f func(block int) sim.NormalSampler) EstimatorOption {
	return func(e *PremiumEstimator) {
		e.sampler = f
	}
}

// PremiumEstimator 蒙特卡洛权利金估算器.
//
// 每个时间步对全部路径求看涨/看跌平均收益，取所有步中的最大平均值作为权利金，
// 基准为 0. 收益不折现.
type PremiumEstimator struct {
	cfg     EstimatorConfig
	sampler func(block int) sim.NormalSampler
}

// NewPremiumEstimator 创建估算器.
func NewPremiumEstimator(cfg EstimatorConfig, opts ...EstimatorOption) (*PremiumEstimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &PremiumEstimator{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config 返回估算参数.
func (e *PremiumEstimator) Config() EstimatorConfig { return e.cfg }

// Estimate 估算合约的看涨/看跌权利金.
func (e *PremiumEstimator) Estimate(contract OptionContract) (PremiumResult, error) {
	return e.estimate(contract, e.cfg.Seed)
}

// estimate 以指定基础种子运行一次估算.
func (e *PremiumEstimator) estimate(contract OptionContract, seed uint64) (PremiumResult, error) {
	if err := contract.Validate(); err != nil {
		return PremiumResult{}, err
	}

	dt := contract.TimeToMaturity / float64(e.cfg.TimeSteps)
	gbm, err := sim.NewGeometricBrownianMotion(contract.RiskFreeRate, contract.Volatility, dt)
	if err != nil {
		return PremiumResult{}, err
	}

	opts := []sim.PopulationOption{
		sim.WithWorkers(e.cfg.Workers),
		sim.WithBlockSize(e.cfg.PathsPerStream),
		sim.WithSeed(seed),
	}
	if e.sampler != nil {
		opts = append(opts, sim.WithSamplerFactory(e.sampler))
	}
	paths, err := sim.NewPopulation(e.cfg.Simulations, contract.Spot, opts...)
	if err != nil {
		return PremiumResult{}, err
	}

	strike := contract.Strike
	n := float64(paths.Len())
	callSums := make([]float64, paths.Blocks())
	putSums := make([]float64, paths.Blocks())
	accumulate := func(block int, prices []float64) {
		var call, put float64
		for _, s := range prices {
			call += payoff(s, strike, false)
			put += payoff(s, strike, true)
		}
		callSums[block] = call
		putSums[block] = put
	}

	var best PremiumResult
	for range e.cfg.TimeSteps {
		paths.Step(gbm, accumulate)

		// 按块顺序合并，保证结果与并行度无关
		var call, put float64
		for b := range callSums {
			call += callSums[b]
			put += putSums[b]
		}
		best.Call = max(best.Call, call/n)
		best.Put = max(best.Put, put/n)
	}
	return best, nil
}

// payoff 计算期权内在价值.
func payoff(s, k float64, isPut bool) float64 {
	if isPut {
		return max(0, k-s)
	}
	return max(0, s-k)
}

// EstimatePremium 使用默认并行度与随机种子估算权利金.
func EstimatePremium(contract OptionContract, simulations, timeSteps int) (PremiumResult, error) {
	cfg := DefaultEstimatorConfig()
	cfg.Simulations = simulations
	cfg.TimeSteps = timeSteps
	e, err := NewPremiumEstimator(cfg)
	if err != nil {
		return PremiumResult{}, err
	}
	return e.Estimate(contract)
}
