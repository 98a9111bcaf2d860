// Package finance - 蒙特卡洛期权定价与隐含波动率校准.
package finance

import (
	"math"

	"github.com/wyfcoding/mcvol/algorithm/types"
	"github.com/wyfcoding/mcvol/xerrors"
)

// OptionContract 单次定价所用的合约与市场参数，构造后不可变.
type OptionContract struct {
	TimeToMaturity float64 `json:"time_to_maturity"` // 年
	Spot           float64 `json:"spot"`
	Strike         float64 `json:"strike"`
	RiskFreeRate   float64 `json:"risk_free_rate"`
	Volatility     float64 `json:"volatility"`
}

// NewOptionContract 创建并校验合约.
func NewOptionContract(timeToMaturity, spot, strike, riskFreeRate, volatility float64) (OptionContract, error) {
	c := OptionContract{
		TimeToMaturity: timeToMaturity,
		Spot:           spot,
		Strike:         strike,
		RiskFreeRate:   riskFreeRate,
		Volatility:     volatility,
	}
	if err := c.Validate(); err != nil {
		return OptionContract{}, err
	}
	return c, nil
}

// Validate 校验合约前置条件.
func (c OptionContract) Validate() error {
	switch {
	case !positiveFinite(c.TimeToMaturity):
		return xerrors.ErrInvalidContract.WithDetail("time to maturity must be positive, got %v", c.TimeToMaturity)
	case !positiveFinite(c.Spot):
		return xerrors.ErrInvalidContract.WithDetail("spot must be positive, got %v", c.Spot)
	case !positiveFinite(c.Strike):
		return xerrors.ErrInvalidContract.WithDetail("strike must be positive, got %v", c.Strike)
	case math.IsNaN(c.RiskFreeRate) || math.IsInf(c.RiskFreeRate, 0):
		return xerrors.ErrInvalidContract.WithDetail("risk-free rate must be finite, got %v", c.RiskFreeRate)
	case !(c.Volatility >= 0) || math.IsInf(c.Volatility, 0):
		return xerrors.ErrInvalidContract.WithDetail("volatility must be non-negative, got %v", c.Volatility)
	}
	return nil
}

// WithVolatility 返回替换了波动率的副本.
func (c OptionContract) WithVolatility(vol float64) OptionContract {
	c.Volatility = vol
	return c
}

func positiveFinite(x float64) bool {
	return x > 0 && !math.IsInf(x, 0)
}

// PremiumResult 一次估算得到的看涨/看跌权利金.
type PremiumResult struct {
	Call float64 `json:"call"`
	Put  float64 `json:"put"`
}

// Premium 按期权类型取值.
func (r PremiumResult) Premium(t types.OptionType) (float64, error) {
	switch t {
	case types.OptionTypeCall:
		return r.Call, nil
	case types.OptionTypePut:
		return r.Put, nil
	default:
		return 0, xerrors.ErrInvalidOptionType.WithDetail("unrecognized option type %q", string(t))
	}
}

// CalibrationInterval 波动率二分搜索区间，Low <= High.
type CalibrationInterval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Width 区间宽度.
func (iv CalibrationInterval) Width() float64 { return iv.High - iv.Low }

// Mid 区间中点.
func (iv CalibrationInterval) Mid() float64 { return (iv.Low + iv.High) / 2 }
