// Package sim - 价格路径模拟.
package sim

import (
	"math"

	"github.com/sourcegraph/conc"
	"github.com/wyfcoding/mcvol/xerrors"
)

// DefaultBlockSize 每个随机子流负责的路径数.
const DefaultBlockSize = 1024

// GeometricBrownianMotion 几何布朗运动的精确单步转移.
// 下一步对数价格服从 N(ln S + (r - σ²/2)dt, σ√dt).
type GeometricBrownianMotion struct {
	drift     float64 // (r - σ²/2)dt
	diffusion float64 // σ√dt
}

// NewGeometricBrownianMotion 创建 GBM 模拟. 要求 dt > 0, σ >= 0.
func NewGeometricBrownianMotion(rate, volatility, timeStep float64) (*GeometricBrownianMotion, error) {
	if !(timeStep > 0) || math.IsInf(timeStep, 0) {
		return nil, xerrors.ErrInvalidSimulation.WithDetail("time step must be positive, got %v", timeStep)
	}
	if !(volatility >= 0) || math.IsInf(volatility, 0) {
		return nil, xerrors.ErrInvalidContract.WithDetail("volatility must be non-negative, got %v", volatility)
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, xerrors.ErrInvalidContract.WithDetail("risk-free rate must be finite, got %v", rate)
	}
	return &GeometricBrownianMotion{
		drift:     (rate - 0.5*volatility*volatility) * timeStep,
		diffusion: volatility * math.Sqrt(timeStep),
	}, nil
}

// Next 由当前价格抽取下一步价格. σ = 0 时结果为 S·exp(r·dt)，不消耗随机数.
func (g *GeometricBrownianMotion) Next(price float64, sampler NormalSampler) float64 {
	mean := math.Log(price) + g.drift
	logNext := mean
	if g.diffusion > 0 {
		logNext = sampler.Normal(mean, g.diffusion)
	}
	next := math.Exp(logNext)
	if next <= 0 {
		return math.SmallestNonzeroFloat64
	}
	return next
}

// Population 一组同步推进的路径当前价格.
// 路径按固定大小分块，每块持有独立子流，因此结果与并发度无关.
type Population struct {
	prices    []float64
	samplers  []NormalSampler
	blockSize int
	workers   int
	seed      uint64
	factory   func(block int) NormalSampler
}

// PopulationOption 路径集合配置项.
type PopulationOption func(*Population)

// WithWorkers 设置并行推进的最大协程数，<= 1 时同步执行.
func WithWorkers(n int) PopulationOption {
	return func(p *Population) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithBlockSize 设置每个子流负责的路径数.
func WithBlockSize(n int) PopulationOption {
	return func(p *Population) {
		if n > 0 {
			p.blockSize = n
		}
	}
}

// WithSeed 设置基础种子，0 表示每次从系统熵源取种.
func WithSeed(seed uint64) PopulationOption {
	return func(p *Population) {
		p.seed = seed
	}
}

// WithSamplerFactory 注入每个路径块的采样器，覆盖种子派生的默认实现.
func WithSamplerFactory(f func(block int) NormalSampler) PopulationOption {
	return func(p *Population) {
		p.factory = f
	}
}

// NewPopulation 创建 size 条路径，初始价格均为 spot.
func NewPopulation(size int, spot float64, opts ...PopulationOption) (*Population, error) {
	if size <= 0 {
		return nil, xerrors.ErrInvalidSimulation.WithDetail("simulations must be positive, got %d", size)
	}
	if !(spot > 0) || math.IsInf(spot, 0) {
		return nil, xerrors.ErrInvalidContract.WithDetail("spot must be positive, got %v", spot)
	}

	p := &Population{
		blockSize: DefaultBlockSize,
		workers:   1,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.factory == nil {
		base := p.seed
		if base == 0 {
			base = EntropySeed()
		}
		p.factory = func(block int) NormalSampler {
			return NewGaussianSource(SubstreamSeed(base, block))
		}
	}

	p.prices = make([]float64, size)
	for i := range p.prices {
		p.prices[i] = spot
	}

	blocks := (size + p.blockSize - 1) / p.blockSize
	p.samplers = make([]NormalSampler, blocks)
	for b := range p.samplers {
		p.samplers[b] = p.factory(b)
	}
	return p, nil
}

// Len 返回路径数量.
func (p *Population) Len() int { return len(p.prices) }

// Blocks 返回路径块数量.
func (p *Population) Blocks() int { return len(p.samplers) }

// Prices 返回当前价格的副本.
func (p *Population) Prices() []float64 {
	out := make([]float64, len(p.prices))
	copy(out, p.prices)
	return out
}

// Step 将所有路径推进一个时间步，随后以块为单位回调 visit.
// 不同块可能并发回调，visit 只应写入以 block 为下标的独立位置.
func (p *Population) Step(g *GeometricBrownianMotion, visit func(block int, prices []float64)) {
	advance := func(b int) {
		lo := b * p.blockSize
		hi := min(lo+p.blockSize, len(p.prices))
		block := p.prices[lo:hi]
		sampler := p.samplers[b]
		for i, s := range block {
			block[i] = g.Next(s, sampler)
		}
		if visit != nil {
			visit(b, block)
		}
	}

	n := len(p.samplers)
	if p.workers <= 1 || n == 1 {
		for b := range n {
			advance(b)
		}
		return
	}

	// 信号量限制并发块数，步与步之间保持严格顺序.
	sem := make(chan struct{}, p.workers)
	var wg conc.WaitGroup
	for b := range n {
		sem <- struct{}{}
		wg.Go(func() {
			defer func() { <-sem }()
			advance(b)
		})
	}
	wg.Wait()
}
