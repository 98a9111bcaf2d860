package finance

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/wyfcoding/mcvol/algorithm/sim"
	"github.com/wyfcoding/mcvol/algorithm/types"
	"github.com/wyfcoding/mcvol/xerrors"
)

// 校准默认参数.
const (
	DefaultLowVolatility  = 0.03
	DefaultHighVolatility = 6.0
	DefaultTolerance      = 1e-5
)

// CalibrationConfig 二分校准参数.
type CalibrationConfig struct {
	LowVolatility   float64
	HighVolatility  float64
	Tolerance       float64
	SamplesPerTrial int // 每个试探波动率运行估算的次数，取中位数
}

// DefaultCalibrationConfig 返回默认校准参数.
func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{
		LowVolatility:   DefaultLowVolatility,
		HighVolatility:  DefaultHighVolatility,
		Tolerance:       DefaultTolerance,
		SamplesPerTrial: 1,
	}
}

// Validate 校验校准参数.
func (c CalibrationConfig) Validate() error {
	if !positiveFinite(c.Tolerance) {
		return xerrors.ErrInvalidTolerance.WithDetail("tolerance must be positive and finite, got %v", c.Tolerance)
	}
	if !(c.LowVolatility >= 0) || math.IsInf(c.HighVolatility, 0) || !(c.LowVolatility < c.HighVolatility) {
		return xerrors.ErrInvalidBounds.WithDetail("got [%v, %v]", c.LowVolatility, c.HighVolatility)
	}
	if c.SamplesPerTrial < 1 {
		return xerrors.ErrInvalidConfig.WithDetail("samples per trial must be at least 1, got %d", c.SamplesPerTrial)
	}
	return nil
}

// Iteration 单次二分迭代的观测.
type Iteration struct {
	Index      int                 `json:"index"`
	Volatility float64             `json:"volatility"`
	Premium    float64             `json:"premium"`
	Interval   CalibrationInterval `json:"interval"` // 本次迭代更新后的区间
}

// Calibration 校准结果.
type Calibration struct {
	Volatility float64             `json:"volatility"`
	Interval   CalibrationInterval `json:"interval"` // 终止时的区间
	Bounds     CalibrationInterval `json:"bounds"`   // 初始搜索区间
	Iterations int                 `json:"iterations"`
	Exact      bool                `json:"exact"` // 某次估算恰好等于目标
}

// PinnedToBound 结果是否停留在初始区间端点附近，通常意味着目标不在可达范围内.
func (c Calibration) PinnedToBound() bool {
	if c.Exact {
		return false
	}
	return c.Interval.Low == c.Bounds.Low || c.Interval.High == c.Bounds.High
}

// VolatilityCalibrator 以二分法反解波动率.
//
// 前提：权利金关于波动率单调不减. 估算含蒙特卡洛噪声，局部单调性可能被破坏，
// 此时结果会偏离真实根，可通过增加路径数或 SamplesPerTrial 缓解.
// 目标超出可达范围时静默收敛到端点.
type VolatilityCalibrator struct {
	estimator *PremiumEstimator
	cfg       CalibrationConfig

	// OnIteration 每次迭代后回调，可为 nil.
	OnIteration func(Iteration)
}

// NewVolatilityCalibrator 创建校准器.
func NewVolatilityCalibrator(estimator *PremiumEstimator, cfg CalibrationConfig) (*VolatilityCalibrator, error) {
	if estimator == nil {
		return nil, xerrors.ErrInvalidConfig.WithDetail("estimator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &VolatilityCalibrator{estimator: estimator, cfg: cfg}, nil
}

// Config 返回校准参数.
func (vc *VolatilityCalibrator) Config() CalibrationConfig { return vc.cfg }

// Calibrate 求使估算权利金匹配 observed 的波动率. contract.Volatility 被忽略.
func (vc *VolatilityCalibrator) Calibrate(contract OptionContract, optionType types.OptionType, observed float64) (Calibration, error) {
	contract = contract.WithVolatility(0)
	if err := contract.Validate(); err != nil {
		return Calibration{}, err
	}
	if !optionType.Valid() {
		return Calibration{}, xerrors.ErrInvalidOptionType.WithDetail("unrecognized option type %q", string(optionType))
	}
	if !(observed >= 0) || math.IsInf(observed, 0) {
		return Calibration{}, xerrors.ErrInvalidPremium.WithDetail("got %v", observed)
	}

	bounds := CalibrationInterval{Low: vc.cfg.LowVolatility, High: vc.cfg.HighVolatility}
	iv := bounds
	result := Calibration{Bounds: bounds}

	for iv.Width() > vc.cfg.Tolerance {
		mid := iv.Mid()
		// 浮点精度耗尽，区间无法继续缩小
		if mid <= iv.Low || mid >= iv.High {
			break
		}

		premium, err := vc.trial(contract.WithVolatility(mid), optionType)
		if err != nil {
			return Calibration{}, err
		}
		result.Iterations++

		exact := false
		switch {
		case premium > observed:
			iv.High = mid
		case premium < observed:
			iv.Low = mid
		default:
			exact = true
		}

		if vc.OnIteration != nil {
			vc.OnIteration(Iteration{Index: result.Iterations, Volatility: mid, Premium: premium, Interval: iv})
		}
		if exact {
			result.Volatility = mid
			result.Interval = iv
			result.Exact = true
			return result, nil
		}
	}

	result.Volatility = iv.Low
	result.Interval = iv
	return result, nil
}

// trial 在给定波动率下估算权利金，多次采样时取中位数.
func (vc *VolatilityCalibrator) trial(contract OptionContract, optionType types.OptionType) (float64, error) {
	samples := make([]float64, 0, vc.cfg.SamplesPerTrial)
	base := vc.estimator.cfg.Seed
	for j := range vc.cfg.SamplesPerTrial {
		res, err := vc.estimator.estimate(contract, sampleSeed(base, j))
		if err != nil {
			return 0, err
		}
		p, err := res.Premium(optionType)
		if err != nil {
			return 0, err
		}
		samples = append(samples, p)
	}
	if len(samples) == 1 {
		return samples[0], nil
	}
	median, err := stats.Median(samples)
	if err != nil {
		return 0, xerrors.WrapInternal(err, "median of trial premiums")
	}
	return median, nil
}

// sampleSeed 第 j 次采样的基础种子. 第 0 次沿用原种子，其余派生独立子流；0 仍表示每次取熵.
func sampleSeed(base uint64, j int) uint64 {
	if base == 0 || j == 0 {
		return base
	}
	return sim.SubstreamSeed(base, j)
}

// ImpliedVolatility 使用默认估算参数与搜索区间计算隐含波动率.
func ImpliedVolatility(timeToMaturity, spot, strike, riskFreeRate float64, optionType types.OptionType, observed, tolerance float64) (float64, error) {
	contract, err := NewOptionContract(timeToMaturity, spot, strike, riskFreeRate, 0)
	if err != nil {
		return 0, err
	}
	estimator, err := NewPremiumEstimator(DefaultEstimatorConfig())
	if err != nil {
		return 0, err
	}
	cfg := DefaultCalibrationConfig()
	cfg.Tolerance = tolerance
	calibrator, err := NewVolatilityCalibrator(estimator, cfg)
	if err != nil {
		return 0, err
	}
	res, err := calibrator.Calibrate(contract, optionType, observed)
	if err != nil {
		return 0, err
	}
	return res.Volatility, nil
}
