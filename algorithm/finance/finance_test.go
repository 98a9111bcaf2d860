package finance

import (
	"errors"
	"math"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/wyfcoding/mcvol/algorithm/sim"
	"github.com/wyfcoding/mcvol/algorithm/types"
	"github.com/wyfcoding/mcvol/xerrors"
)

type zeroSampler struct{}

func (zeroSampler) Normal(mean, _ float64) float64 { return mean }

func mustContract(t *testing.T, T, s, k, r, vol float64) OptionContract {
	t.Helper()
	c, err := NewOptionContract(T, s, k, r, vol)
	if err != nil {
		t.Fatalf("NewOptionContract: %v", err)
	}
	return c
}

func mustEstimator(t *testing.T, sims, steps int, seed uint64) *PremiumEstimator {
	t.Helper()
	cfg := DefaultEstimatorConfig()
	cfg.Simulations = sims
	cfg.TimeSteps = steps
	cfg.Seed = seed
	e, err := NewPremiumEstimator(cfg)
	if err != nil {
		t.Fatalf("NewPremiumEstimator: %v", err)
	}
	return e
}

func TestOptionContractValidate(t *testing.T) {
	tests := []struct {
		name            string
		T, s, k, r, vol float64
		wantErr         bool
	}{
		{"valid", 1, 100, 100, 0.05, 0.2, false},
		{"zero vol", 1, 100, 100, 0.05, 0, false},
		{"negative rate", 1, 100, 100, -0.01, 0.2, false},
		{"zero maturity", 0, 100, 100, 0.05, 0.2, true},
		{"negative spot", 1, -1, 100, 0.05, 0.2, true},
		{"zero strike", 1, 100, 0, 0.05, 0.2, true},
		{"nan rate", 1, 100, 100, math.NaN(), 0.2, true},
		{"negative vol", 1, 100, 100, 0.05, -0.2, true},
		{"inf spot", 1, math.Inf(1), 100, 0.05, 0.2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOptionContract(tt.T, tt.s, tt.k, tt.r, tt.vol)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, xerrors.ErrInvalidContract) {
				t.Errorf("err = %v, want ErrInvalidContract", err)
			}
		})
	}
}

func TestEstimateRejectsZeroCounts(t *testing.T) {
	c := mustContract(t, 1, 100, 100, 0.05, 0.2)
	for _, tc := range []struct{ sims, steps int }{{0, 100}, {100, 0}, {-5, 10}} {
		_, err := EstimatePremium(c, tc.sims, tc.steps)
		if !errors.Is(err, xerrors.ErrInvalidSimulation) {
			t.Errorf("EstimatePremium(%d, %d) err = %v", tc.sims, tc.steps, err)
		}
	}
}

func TestEstimateNonNegative(t *testing.T) {
	contracts := []OptionContract{
		mustContract(t, 1, 100, 100, 0.05, 0.2),
		mustContract(t, 0.1, 50, 80, 0, 0.1),   // 深度虚值看涨
		mustContract(t, 2, 120, 60, -0.02, 1.5), // 深度虚值看跌
		mustContract(t, 0.5, 10, 10, 0.1, 0),
	}
	e := mustEstimator(t, 2000, 20, 0)
	for i, c := range contracts {
		res, err := e.Estimate(c)
		if err != nil {
			t.Fatalf("contract %d: %v", i, err)
		}
		if res.Call < 0 || res.Put < 0 || math.IsNaN(res.Call) || math.IsNaN(res.Put) {
			t.Errorf("contract %d: negative premium %+v", i, res)
		}
	}
}

func TestEstimateZeroVolatilityDeterministic(t *testing.T) {
	c := mustContract(t, 1, 100, 95, 0.08, 0)
	e := mustEstimator(t, 500, 50, 0)

	first, err := e.Estimate(c)
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		again, _ := e.Estimate(c)
		if again != first {
			t.Fatalf("σ=0 estimate changed: %+v != %+v", again, first)
		}
	}

	want := 100*math.Exp(0.08) - 95
	if math.Abs(first.Call-want) > 1e-9 {
		t.Errorf("Call = %v, want %v", first.Call, want)
	}
	if first.Put != 0 {
		t.Errorf("Put = %v, want 0", first.Put)
	}
}

func TestEstimateWorkerIndependent(t *testing.T) {
	c := mustContract(t, 0.5, 100, 105, 0.03, 0.35)
	base := DefaultEstimatorConfig()
	base.Simulations = 3000
	base.TimeSteps = 10
	base.Seed = 2024
	base.PathsPerStream = 128

	var want PremiumResult
	for i, workers := range []int{1, 2, 4, 8} {
		cfg := base
		cfg.Workers = workers
		e, err := NewPremiumEstimator(cfg)
		if err != nil {
			t.Fatal(err)
		}
		got, err := e.Estimate(c)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			want = got
			continue
		}
		if got != want {
			t.Errorf("workers=%d: %+v, want %+v", workers, got, want)
		}
	}
}

func TestEstimateConvergence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping convergence test in short mode")
	}
	c := mustContract(t, 1, 100, 100, 0.05, 0.25)
	spread := func(sims int) float64 {
		e := mustEstimator(t, sims, 10, 0)
		calls := make([]float64, 20)
		for i := range calls {
			res, err := e.Estimate(c)
			if err != nil {
				t.Fatal(err)
			}
			calls[i] = res.Call
		}
		sd, _ := stats.StandardDeviation(calls)
		return sd
	}

	small, large := spread(100), spread(10000)
	if !(large*2 < small) {
		t.Errorf("spread did not tighten: 100 paths sd=%v, 10000 paths sd=%v", small, large)
	}
}

func TestEstimateMonotoneInVolatility(t *testing.T) {
	c := mustContract(t, 1, 100, 100, 0.02, 0)
	e := mustEstimator(t, 2000, 20, 0)
	mean := func(vol float64) float64 {
		calls := make([]float64, 10)
		for i := range calls {
			res, err := e.Estimate(c.WithVolatility(vol))
			if err != nil {
				t.Fatal(err)
			}
			calls[i] = res.Call
		}
		m, _ := stats.Mean(calls)
		return m
	}

	prev := mean(0.1)
	for _, vol := range []float64{0.3, 0.6, 1.0} {
		cur := mean(vol)
		if cur < prev {
			t.Errorf("mean call decreased at σ=%v: %v < %v", vol, cur, prev)
		}
		prev = cur
	}
}

func TestEstimateAgreesWithBlackScholesAtZeroRate(t *testing.T) {
	c := mustContract(t, 1, 100, 100, 0, 0.2)
	e := mustEstimator(t, 20000, 20, 77)
	mc, err := e.Estimate(c)
	if err != nil {
		t.Fatal(err)
	}
	bs, err := BlackScholes(c)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mc.Call-bs.Call) > 0.5 || math.Abs(mc.Put-bs.Put) > 0.5 {
		t.Errorf("mc=%+v bs=%+v", mc, bs)
	}
}

func TestCalibrationConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CalibrationConfig)
		wantErr error
	}{
		{"default", func(*CalibrationConfig) {}, nil},
		{"zero tol", func(c *CalibrationConfig) { c.Tolerance = 0 }, xerrors.ErrInvalidTolerance},
		{"negative tol", func(c *CalibrationConfig) { c.Tolerance = -1e-3 }, xerrors.ErrInvalidTolerance},
		{"nan tol", func(c *CalibrationConfig) { c.Tolerance = math.NaN() }, xerrors.ErrInvalidTolerance},
		{"inverted", func(c *CalibrationConfig) { c.LowVolatility, c.HighVolatility = 1, 0.5 }, xerrors.ErrInvalidBounds},
		{"negative low", func(c *CalibrationConfig) { c.LowVolatility = -0.1 }, xerrors.ErrInvalidBounds},
		{"no samples", func(c *CalibrationConfig) { c.SamplesPerTrial = 0 }, xerrors.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCalibrationConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected err %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCalibrateRejectsInvalidInput(t *testing.T) {
	vc, err := NewVolatilityCalibrator(mustEstimator(t, 100, 5, 1), DefaultCalibrationConfig())
	if err != nil {
		t.Fatal(err)
	}
	c := mustContract(t, 1, 100, 100, 0.05, 0)

	if _, err := vc.Calibrate(c, types.OptionType("STRADDLE"), 1); !errors.Is(err, xerrors.ErrInvalidOptionType) {
		t.Errorf("bad type err = %v", err)
	}
	for _, p := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := vc.Calibrate(c, types.OptionTypeCall, p); !errors.Is(err, xerrors.ErrInvalidPremium) {
			t.Errorf("premium %v err = %v", p, err)
		}
	}
	bad := c
	bad.Spot = 0
	if _, err := vc.Calibrate(bad, types.OptionTypeCall, 1); !errors.Is(err, xerrors.ErrInvalidContract) {
		t.Errorf("bad contract err = %v", err)
	}
	if _, err := ImpliedVolatility(1, 100, 100, 0.05, types.OptionTypeCall, 5, 0); !errors.Is(err, xerrors.ErrInvalidTolerance) {
		t.Errorf("zero tolerance err = %v", err)
	}
	if _, err := NewVolatilityCalibrator(nil, DefaultCalibrationConfig()); err == nil {
		t.Error("expected error for nil estimator")
	}
}

func TestCalibrateRoundTrip(t *testing.T) {
	const sigma0 = 0.3
	c := mustContract(t, 0.5, 100, 100, 0.05, sigma0)
	e := mustEstimator(t, 5000, 20, 31337)

	target, err := e.Estimate(c)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultCalibrationConfig()
	cfg.Tolerance = 1e-4
	vc, _ := NewVolatilityCalibrator(e, cfg)

	var widths []float64
	vc.OnIteration = func(it Iteration) {
		widths = append(widths, it.Interval.Width())
	}

	res, err := vc.Calibrate(c, types.OptionTypeCall, target.Call)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Volatility-sigma0) > 0.01 {
		t.Errorf("Volatility = %v, want ≈ %v", res.Volatility, sigma0)
	}
	if res.PinnedToBound() {
		t.Errorf("round trip should not pin to a bound: %+v", res)
	}
	if len(widths) != res.Iterations {
		t.Errorf("observer saw %d iterations, result reports %d", len(widths), res.Iterations)
	}
	for i := 1; i < len(widths); i++ {
		if widths[i] > widths[i-1] {
			t.Fatalf("interval widened at iteration %d: %v > %v", i, widths[i], widths[i-1])
		}
	}
	if !res.Exact && res.Interval.Width() > cfg.Tolerance {
		t.Errorf("final width %v > tolerance", res.Interval.Width())
	}
}

func TestCalibrateBoundaries(t *testing.T) {
	c := mustContract(t, 1, 100, 100, 0.05, 0)
	cfg := DefaultCalibrationConfig()
	cfg.Tolerance = 1e-3
	vc, _ := NewVolatilityCalibrator(mustEstimator(t, 5000, 10, 7), cfg)

	high, err := vc.Calibrate(c, types.OptionTypeCall, 10*c.Spot)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(high.Volatility-DefaultHighVolatility) > cfg.Tolerance || !high.PinnedToBound() {
		t.Errorf("10x spot target: %+v", high)
	}

	low, err := vc.Calibrate(c, types.OptionTypeCall, 0)
	if err != nil {
		t.Fatal(err)
	}
	if low.Volatility != DefaultLowVolatility || !low.PinnedToBound() {
		t.Errorf("zero target: %+v", low)
	}
}

func TestCalibrateExactMatch(t *testing.T) {
	e, _ := NewPremiumEstimator(EstimatorConfig{Simulations: 10, TimeSteps: 5},
		WithSampler(func(int) sim.NormalSampler { return zeroSampler{} }))
	c := mustContract(t, 1, 100, 100, 0.05, 0)

	mid := (DefaultLowVolatility + DefaultHighVolatility) / 2
	target, err := e.Estimate(c.WithVolatility(mid))
	if err != nil {
		t.Fatal(err)
	}

	vc, _ := NewVolatilityCalibrator(e, DefaultCalibrationConfig())
	res, err := vc.Calibrate(c, types.OptionTypePut, target.Put)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Exact || res.Volatility != mid || res.Iterations != 1 {
		t.Errorf("expected exact match at first midpoint, got %+v", res)
	}
}

func TestCalibrateMedianOfSamples(t *testing.T) {
	const seed = 99
	c := mustContract(t, 0.25, 50, 52, 0.01, 0)
	mid := (DefaultLowVolatility + DefaultHighVolatility) / 2

	// 每次采样使用独立子流，样本之间应有差异
	samples := make([]float64, 3)
	for j := range samples {
		res, err := mustEstimator(t, 1000, 10, sampleSeed(seed, j)).Estimate(c.WithVolatility(mid))
		if err != nil {
			t.Fatal(err)
		}
		samples[j] = res.Call
	}
	if samples[0] == samples[1] || samples[1] == samples[2] || samples[0] == samples[2] {
		t.Fatalf("samples not independent: %v", samples)
	}
	want, err := stats.Median(samples)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultCalibrationConfig()
	cfg.Tolerance = 1e-3
	cfg.SamplesPerTrial = 3
	vc, _ := NewVolatilityCalibrator(mustEstimator(t, 1000, 10, seed), cfg)
	var first *Iteration
	vc.OnIteration = func(it Iteration) {
		if first == nil {
			first = &it
		}
	}
	if _, err := vc.Calibrate(c, types.OptionTypeCall, 2.5); err != nil {
		t.Fatal(err)
	}
	if first == nil || first.Volatility != mid {
		t.Fatalf("first iteration = %+v", first)
	}
	if first.Premium != want {
		t.Errorf("trial premium = %v, want median %v of %v", first.Premium, want, samples)
	}

	// 单次采样沿用基础种子
	single, err := mustEstimator(t, 1000, 10, seed).Estimate(c.WithVolatility(mid))
	if err != nil {
		t.Fatal(err)
	}
	if single.Call != samples[0] {
		t.Errorf("sample 0 = %v, Estimate = %v", samples[0], single.Call)
	}
}

func TestSampleSeed(t *testing.T) {
	if sampleSeed(0, 3) != 0 {
		t.Error("entropy seed must stay 0")
	}
	if sampleSeed(7, 0) != 7 {
		t.Error("first sample must keep the base seed")
	}
	if sampleSeed(7, 1) == 7 || sampleSeed(7, 1) == sampleSeed(7, 2) {
		t.Error("derived seeds must differ")
	}
}

func TestImpliedVolatilityScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full-size calibration in short mode")
	}
	iv, err := ImpliedVolatility(0.0493, 75.576, 75, 0.08, types.OptionTypePut, 1.298, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	if iv < DefaultLowVolatility || iv > DefaultHighVolatility {
		t.Fatalf("iv %v outside search range", iv)
	}
	if iv < 0.05 || iv > 1.5 {
		t.Errorf("iv %v implausible for this quote", iv)
	}

	c := mustContract(t, 0.0493, 75.576, 75, 0.08, 0)
	vc, _ := NewVolatilityCalibrator(mustEstimator(t, DefaultSimulations, DefaultTimeSteps, 2024), DefaultCalibrationConfig())
	res, err := vc.Calibrate(c, types.OptionTypePut, 1.298)
	if err != nil {
		t.Fatal(err)
	}
	if !(res.Interval.Width() <= DefaultTolerance || res.Exact) {
		t.Errorf("stopped with interval %+v, tolerance %v", res.Interval, DefaultTolerance)
	}
	if res.Volatility < res.Bounds.Low || res.Volatility > res.Bounds.High {
		t.Errorf("volatility %v outside %+v", res.Volatility, res.Bounds)
	}
}

func TestBlackScholes(t *testing.T) {
	c := mustContract(t, 1, 100, 100, 0.05, 0.2)
	res, err := BlackScholes(c)
	if err != nil {
		t.Fatal(err)
	}
	// 参考值 10.4506 / 5.5735
	if math.Abs(res.Call-10.4506) > 1e-3 || math.Abs(res.Put-5.5735) > 1e-3 {
		t.Errorf("BlackScholes = %+v", res)
	}
	parity := res.Call - res.Put - (c.Spot - c.Strike*math.Exp(-c.RiskFreeRate*c.TimeToMaturity))
	if math.Abs(parity) > 1e-9 {
		t.Errorf("put-call parity off by %v", parity)
	}

	zero, _ := BlackScholes(c.WithVolatility(0))
	if want := 100 - 100*math.Exp(-0.05); math.Abs(zero.Call-want) > 1e-12 || zero.Put != 0 {
		t.Errorf("σ=0 BlackScholes = %+v", zero)
	}
}

func TestBlackScholesImpliedVolatility(t *testing.T) {
	c := mustContract(t, 0.5, 75, 80, 0.03, 0.27)
	res, _ := BlackScholes(c)
	bounds := CalibrationInterval{Low: DefaultLowVolatility, High: DefaultHighVolatility}

	for _, typ := range []types.OptionType{types.OptionTypeCall, types.OptionTypePut} {
		p, _ := res.Premium(typ)
		iv, err := BlackScholesImpliedVolatility(c, typ, p, bounds, 1e-8)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(iv-0.27) > 1e-4 {
			t.Errorf("%s iv = %v, want 0.27", typ, iv)
		}
	}

	if _, err := BlackScholesImpliedVolatility(c, types.OptionTypeCall, 1, CalibrationInterval{Low: 1, High: 1}, 1e-6); !errors.Is(err, xerrors.ErrInvalidBounds) {
		t.Errorf("bad bounds err = %v", err)
	}
}
