package application

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/mcvol/algorithm/finance"
	"github.com/wyfcoding/mcvol/algorithm/types"
	"github.com/wyfcoding/mcvol/cache"
	"github.com/wyfcoding/mcvol/config"
	"github.com/wyfcoding/mcvol/metrics"
	"github.com/wyfcoding/mcvol/worker"
	"github.com/wyfcoding/mcvol/xerrors"
)

func testConfig() *config.Config {
	conf := config.Default()
	conf.Pricing.Simulations = 2000
	conf.Pricing.TimeSteps = 20
	conf.Pricing.Seed = 42
	conf.Pricing.Workers = 2
	conf.Calibration.Tolerance = 1e-3
	conf.Batch.MaxQuotes = 5
	return conf
}

func newService(t *testing.T, conf *config.Config, opts ...Option) *PricingService {
	t.Helper()
	m := metrics.NewMetrics("test")
	svc, err := NewPricingService(conf, m, opts...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

var atTheMoney = EstimatePremiumCommand{TimeToMaturity: 0.5, Spot: 100, Strike: 100, RiskFreeRate: 0.02, Volatility: 0.3}

func TestEstimatePremium(t *testing.T) {
	svc := newService(t, testConfig())

	dto, err := svc.EstimatePremium(context.Background(), atTheMoney)
	require.NoError(t, err)
	assert.Greater(t, dto.Call, 0.0)
	assert.Greater(t, dto.Put, 0.0)

	contract, err := finance.NewOptionContract(0.5, 100, 100, 0.02, 0.3)
	require.NoError(t, err)
	ref, err := finance.BlackScholes(contract)
	require.NoError(t, err)
	assert.Equal(t, ref.Call, dto.ReferenceCall)
	assert.Equal(t, ref.Put, dto.ReferencePut)

	again, err := svc.EstimatePremium(context.Background(), atTheMoney)
	require.NoError(t, err)
	assert.Equal(t, dto, again, "fixed seed must reproduce the estimate")
	assert.Equal(t, 2.0, testutil.ToFloat64(svc.metrics.requests.WithLabelValues(opEstimate, "ok")))
}

func TestEstimatePremiumInvalidContract(t *testing.T) {
	svc := newService(t, testConfig())
	cmd := atTheMoney
	cmd.Spot = -1
	_, err := svc.EstimatePremium(context.Background(), cmd)
	assert.ErrorIs(t, err, xerrors.ErrInvalidContract)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.requests.WithLabelValues(opEstimate, "error")))
}

func TestEstimatePremiumUsesCache(t *testing.T) {
	m := metrics.NewMetrics("test")
	bc, err := cache.NewBigCache("pricing", time.Minute, 8, m)
	require.NoError(t, err)
	svc, err := NewPricingService(testConfig(), m, WithCache(bc, time.Minute))
	require.NoError(t, err)
	defer svc.Close()

	first, err := svc.EstimatePremium(context.Background(), atTheMoney)
	require.NoError(t, err)
	second, err := svc.EstimatePremium(context.Background(), atTheMoney)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.cacheHits.WithLabelValues(opEstimate)))
}

func TestCalibrateRecoversVolatility(t *testing.T) {
	svc := newService(t, testConfig())

	dto, err := svc.EstimatePremium(context.Background(), atTheMoney)
	require.NoError(t, err)

	res, err := svc.Calibrate(context.Background(), CalibrateCommand{
		TimeToMaturity: 0.5, Spot: 100, Strike: 100, RiskFreeRate: 0.02,
		OptionType: "call", Premium: dto.Call,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, res.Volatility, 0.01)
	assert.InDelta(t, res.Volatility*100, res.VolatilityPct, 1e-9)
	assert.LessOrEqual(t, res.High-res.Low, 1e-3)
	assert.False(t, res.PinnedToBound)
	assert.Positive(t, res.Iterations)

	contract, err := finance.NewOptionContract(0.5, 100, 100, 0.02, 0)
	require.NoError(t, err)
	bounds := finance.CalibrationInterval{Low: finance.DefaultLowVolatility, High: finance.DefaultHighVolatility}
	ref, err := finance.BlackScholesImpliedVolatility(contract, types.OptionTypeCall, dto.Call, bounds, referenceTolerance)
	require.NoError(t, err)
	assert.Equal(t, ref, res.ReferenceVolatility)
	assert.Greater(t, res.ReferenceVolatility, finance.DefaultLowVolatility)
}

func TestCalibrateToleranceOverride(t *testing.T) {
	svc := newService(t, testConfig())
	cmd := CalibrateCommand{TimeToMaturity: 0.5, Spot: 100, Strike: 100, RiskFreeRate: 0.02, OptionType: "put", Premium: 5, Tolerance: 0.1}
	coarse, err := svc.Calibrate(context.Background(), cmd)
	require.NoError(t, err)
	assert.LessOrEqual(t, coarse.High-coarse.Low, 0.1)

	cmd.Tolerance = 1e-4
	fine, err := svc.Calibrate(context.Background(), cmd)
	require.NoError(t, err)
	assert.Greater(t, fine.Iterations, coarse.Iterations)

	cmd.Tolerance = -1
	_, err = svc.Calibrate(context.Background(), cmd)
	assert.ErrorIs(t, err, xerrors.ErrInvalidTolerance)
}

func TestCalibrateRejectsBadInput(t *testing.T) {
	svc := newService(t, testConfig())
	base := CalibrateCommand{TimeToMaturity: 0.5, Spot: 100, Strike: 100, RiskFreeRate: 0.02, OptionType: "put", Premium: 5}

	tests := []struct {
		name   string
		mutate func(*CalibrateCommand)
		want   error
	}{
		{"option type", func(c *CalibrateCommand) { c.OptionType = "straddle" }, xerrors.ErrInvalidOptionType},
		{"maturity", func(c *CalibrateCommand) { c.TimeToMaturity = 0 }, xerrors.ErrInvalidContract},
		{"negative premium", func(c *CalibrateCommand) { c.Premium = -1 }, xerrors.ErrInvalidPremium},
		{"nan premium", func(c *CalibrateCommand) { c.Premium = math.NaN() }, xerrors.ErrInvalidPremium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := base
			tt.mutate(&cmd)
			_, err := svc.Calibrate(context.Background(), cmd)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, xerrors.IsInvalidArg(err))
		})
	}
}

func TestCalibratePinnedToBound(t *testing.T) {
	svc := newService(t, testConfig())
	res, err := svc.Calibrate(context.Background(), CalibrateCommand{
		TimeToMaturity: 0.5, Spot: 100, Strike: 100, RiskFreeRate: 0.02, OptionType: "call", Premium: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, finance.DefaultLowVolatility, res.Volatility)
	assert.True(t, res.PinnedToBound)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.pinned))
}

func TestBatchCalibrate(t *testing.T) {
	m := metrics.NewMetrics("test")
	pool := worker.NewPool(worker.WithName("test"), worker.WithSize(2), worker.WithQueueSize(4), worker.WithMetrics(m))
	svc, err := NewPricingService(testConfig(), m, WithPool(pool))
	require.NoError(t, err)
	defer svc.Close()

	quote := CalibrateCommand{TimeToMaturity: 0.5, Spot: 100, Strike: 100, RiskFreeRate: 0.02, OptionType: "put", Premium: 7}
	bad := quote
	bad.OptionType = "x"
	otm := quote
	otm.Strike = 90
	otm.Premium = 2

	items, err := svc.BatchCalibrate(context.Background(), BatchCalibrateCommand{Quotes: []CalibrateCommand{quote, bad, otm}})
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, i, item.Index)
	}
	require.NotNil(t, items[0].Result)
	assert.Empty(t, items[0].Error)
	assert.Nil(t, items[1].Result)
	assert.Contains(t, items[1].Error, "invalid option type")
	require.NotNil(t, items[2].Result)

	single, err := svc.Calibrate(context.Background(), quote)
	require.NoError(t, err)
	assert.Equal(t, single.Volatility, items[0].Result.Volatility)
}

func TestBatchCalibrateLimits(t *testing.T) {
	svc := newService(t, testConfig())
	_, err := svc.BatchCalibrate(context.Background(), BatchCalibrateCommand{})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	quotes := make([]CalibrateCommand, 6)
	_, err = svc.BatchCalibrate(context.Background(), BatchCalibrateCommand{Quotes: quotes})
	assert.ErrorIs(t, err, xerrors.ErrBatchTooLarge)
}

func TestBatchCalibrateCancelled(t *testing.T) {
	svc := newService(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, err := svc.BatchCalibrate(ctx, BatchCalibrateCommand{Quotes: []CalibrateCommand{{OptionType: "call"}}})
	require.NoError(t, err)
	assert.Equal(t, context.Canceled.Error(), items[0].Error)
}

func TestReload(t *testing.T) {
	svc := newService(t, testConfig())

	next := testConfig()
	next.Pricing.Simulations = 500
	svc.Reload(next)
	set, err := svc.snapshot()
	require.NoError(t, err)
	assert.Equal(t, 500, set.estimator.Simulations)

	broken := testConfig()
	broken.Calibration.Tolerance = 0
	svc.Reload(broken)
	set, err = svc.snapshot()
	require.NoError(t, err)
	assert.Equal(t, 500, set.estimator.Simulations)
	assert.Equal(t, 1e-3, set.calibration.Tolerance)
}

func TestNewPricingServiceRejectsInvalidConfig(t *testing.T) {
	conf := testConfig()
	conf.Pricing.TimeSteps = 0
	_, err := NewPricingService(conf, metrics.NewMetrics("test"))
	assert.ErrorIs(t, err, xerrors.ErrInvalidSimulation)

	_, err = NewPricingService(testConfig(), nil)
	assert.ErrorIs(t, err, xerrors.ErrInvalidConfig)
}

func TestClose(t *testing.T) {
	svc := newService(t, testConfig())
	require.NoError(t, svc.Health())
	svc.Close()
	svc.Close()

	assert.ErrorIs(t, svc.Health(), ErrServiceClosed)
	_, err := svc.EstimatePremium(context.Background(), atTheMoney)
	assert.ErrorIs(t, err, xerrors.ErrBusy)
}
