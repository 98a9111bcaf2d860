package sim

import (
	crypto_rand "crypto/rand"
	"encoding/binary"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// NormalSampler 按给定均值与标准差产生正态分布样本.
// 实现不要求并发安全，每个路径块持有独立实例.
type NormalSampler interface {
	Normal(mean, stddev float64) float64
}

// GaussianSource 基于 PCG 随机源的正态采样器.
type GaussianSource struct {
	src rand.Source
}

// NewGaussianSource 使用给定种子创建采样器，相同种子产生相同序列.
func NewGaussianSource(seed uint64) *GaussianSource {
	return &GaussianSource{src: rand.NewSource(seed)}
}

// Normal 抽取 N(mean, stddev²) 样本. stddev <= 0 时退化为均值点，不消耗随机数.
func (g *GaussianSource) Normal(mean, stddev float64) float64 {
	if !(stddev > 0) {
		return mean
	}
	return distuv.Normal{Mu: mean, Sigma: stddev, Src: g.src}.Rand()
}

// SubstreamSeed 由基础种子与流编号派生子流种子 (splitmix64).
func SubstreamSeed(seed uint64, stream int) uint64 {
	z := seed + uint64(stream+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// EntropySeed 从 crypto/rand 读取种子，失败时退回纳秒时间戳.
func EntropySeed() uint64 {
	var b [8]byte
	if _, err := crypto_rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	if s := binary.LittleEndian.Uint64(b[:]); s != 0 {
		return s
	}
	return 1
}
