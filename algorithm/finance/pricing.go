package finance

import (
	"math"

	"github.com/wyfcoding/mcvol/algorithm/types"
	"github.com/wyfcoding/mcvol/xerrors"
	"gonum.org/v1/gonum/stat/distuv"
)

// BlackScholes 欧式期权闭式解，作为蒙特卡洛估算的参照值. 无分红.
func BlackScholes(c OptionContract) (PremiumResult, error) {
	if err := c.Validate(); err != nil {
		return PremiumResult{}, err
	}
	s, k, t, r, sigma := c.Spot, c.Strike, c.TimeToMaturity, c.RiskFreeRate, c.Volatility
	discK := k * math.Exp(-r*t)

	// σ = 0 时价格确定，取远期内在价值.
	if sigma == 0 {
		return PremiumResult{Call: max(0, s-discK), Put: max(0, discK-s)}, nil
	}

	d1, d2 := d1d2(s, k, t, r, sigma)
	n := distuv.UnitNormal
	return PremiumResult{
		Call: max(0, s*n.CDF(d1)-discK*n.CDF(d2)),
		Put:  max(0, discK*n.CDF(-d2)-s*n.CDF(-d1)),
	}, nil
}

// BlackScholesVega 计算 Vega.
func BlackScholesVega(c OptionContract) (float64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if c.Volatility == 0 {
		return 0, nil
	}
	d1, _ := d1d2(c.Spot, c.Strike, c.TimeToMaturity, c.RiskFreeRate, c.Volatility)
	return c.Spot * distuv.UnitNormal.Prob(d1) * math.Sqrt(c.TimeToMaturity), nil
}

func d1d2(s, k, t, r, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

// BlackScholesImpliedVolatility 以 Newton 法反解闭式模型的隐含波动率，
// 牛顿步越界或 Vega 过小时退回二分. 结果限制在 bounds 内.
func BlackScholesImpliedVolatility(c OptionContract, optionType types.OptionType, observed float64, bounds CalibrationInterval, tolerance float64) (float64, error) {
	if err := c.WithVolatility(0).Validate(); err != nil {
		return 0, err
	}
	if !optionType.Valid() {
		return 0, xerrors.ErrInvalidOptionType.WithDetail("unrecognized option type %q", string(optionType))
	}
	if !(observed >= 0) || math.IsInf(observed, 0) {
		return 0, xerrors.ErrInvalidPremium.WithDetail("got %v", observed)
	}
	if !positiveFinite(tolerance) {
		return 0, xerrors.ErrInvalidTolerance.WithDetail("got %v", tolerance)
	}

	if !(bounds.Low >= 0) || !(bounds.Low < bounds.High) || math.IsInf(bounds.High, 0) {
		return 0, xerrors.ErrInvalidBounds.WithDetail("got [%v, %v]", bounds.Low, bounds.High)
	}

	const maxIterations = 100
	lo, hi := bounds.Low, bounds.High
	sigma := 0.3
	if sigma <= lo || sigma >= hi {
		sigma = (lo + hi) / 2
	}

	for range maxIterations {
		res, err := BlackScholes(c.WithVolatility(sigma))
		if err != nil {
			return 0, err
		}
		price, _ := res.Premium(optionType)
		diff := price - observed
		if math.Abs(diff) < tolerance {
			return sigma, nil
		}
		if diff > 0 {
			hi = sigma
		} else {
			lo = sigma
		}
		if hi-lo < tolerance*1e-3 {
			break
		}

		vega, _ := BlackScholesVega(c.WithVolatility(sigma))
		next := sigma - diff/vega
		if vega < 1e-12 || !(next > lo && next < hi) {
			next = (lo + hi) / 2
		}
		sigma = next
	}
	return sigma, nil
}
