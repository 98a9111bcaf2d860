package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/wyfcoding/mcvol/algorithm/finance"
	"github.com/wyfcoding/mcvol/algorithm/types"
	"github.com/wyfcoding/mcvol/logging"
)

// contractFlags 合约与模拟参数，iv 与 premium 共用.
type contractFlags struct {
	timeToMaturity float64
	spot           float64
	strike         float64
	rate           float64
	simulations    int
	steps          int
	seed           uint64
	workers        int
}

func (f *contractFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Float64Var(&f.timeToMaturity, "time", 0.0493, "time to maturity in years")
	fs.Float64Var(&f.spot, "spot", 75.576, "spot price of the underlying")
	fs.Float64Var(&f.strike, "strike", 75, "strike price")
	fs.Float64Var(&f.rate, "rate", 0.08, "continuously compounded risk-free rate")
	fs.IntVar(&f.simulations, "simulations", finance.DefaultSimulations, "number of simulated paths")
	fs.IntVar(&f.steps, "steps", finance.DefaultTimeSteps, "number of time steps per path")
	fs.Uint64Var(&f.seed, "seed", 0, "random seed, 0 draws fresh entropy")
	fs.IntVar(&f.workers, "workers", 1, "parallel workers for path simulation")
}

func (f *contractFlags) estimator() (*finance.PremiumEstimator, error) {
	return finance.NewPremiumEstimator(finance.EstimatorConfig{
		Simulations:    f.simulations,
		TimeSteps:      f.steps,
		Workers:        f.workers,
		Seed:           f.seed,
		PathsPerStream: finance.DefaultPathsPerStream,
	})
}

func newRootCmd(out io.Writer) *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "impliedvol",
		Short:         "Monte Carlo option premiums and implied volatility",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.InitLogger(logging.Config{Service: "impliedvol", Module: "cli", Level: logLevel, Stderr: true})
			logging.SetLevel(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.SetOut(out)
	root.AddCommand(newIVCmd(out), newPremiumCmd(out))
	return root
}

func newIVCmd(out io.Writer) *cobra.Command {
	var (
		cf         contractFlags
		optionType string
		premium    float64
		tolerance  float64
		samples    int
		showTrace  bool
	)
	cmd := &cobra.Command{
		Use:   "iv",
		Short: "Calibrate the volatility that reproduces an observed premium",
		Example: "  impliedvol iv --time 0.0493 --spot 75.576 --strike 75 --rate 0.08 --type put --premium 1.298\n" +
			"  impliedvol iv --seed 42 --trace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ot, err := types.ParseOptionType(optionType)
			if err != nil {
				return err
			}
			contract, err := finance.NewOptionContract(cf.timeToMaturity, cf.spot, cf.strike, cf.rate, 0)
			if err != nil {
				return err
			}
			est, err := cf.estimator()
			if err != nil {
				return err
			}
			cfg := finance.DefaultCalibrationConfig()
			cfg.Tolerance = tolerance
			cfg.SamplesPerTrial = samples
			calibrator, err := finance.NewVolatilityCalibrator(est, cfg)
			if err != nil {
				return err
			}

			var trace *tablewriter.Table
			if showTrace {
				trace = tablewriter.NewWriter(out)
				trace.SetHeader([]string{"#", "Volatility", "Premium", "Low", "High"})
				trace.SetAlignment(tablewriter.ALIGN_RIGHT)
			}
			ctx := cmd.Context()
			calibrator.OnIteration = func(it finance.Iteration) {
				logging.Debug(ctx, "calibration iteration", "index", it.Index, "volatility", it.Volatility, "premium", it.Premium)
				if trace != nil {
					trace.Append([]string{
						strconv.Itoa(it.Index),
						formatFloat(it.Volatility),
						formatFloat(it.Premium),
						formatFloat(it.Interval.Low),
						formatFloat(it.Interval.High),
					})
				}
			}

			res, err := calibrator.Calibrate(contract, ot, premium)
			if err != nil {
				return err
			}
			if trace != nil {
				trace.Render()
			}
			if res.PinnedToBound() {
				logging.Warn(ctx, "calibration ended at a search bound, the premium may be unreachable",
					"volatility", res.Volatility, "low", res.Bounds.Low, "high", res.Bounds.High)
			}
			fmt.Fprintf(out, "%s%%\n", formatFloat(res.Volatility*100))
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVar(&optionType, "type", "put", "option type: call or put")
	cmd.Flags().Float64Var(&premium, "premium", 1.298, "observed market premium")
	cmd.Flags().Float64Var(&tolerance, "tol", finance.DefaultTolerance, "stop when the volatility interval is narrower than this")
	cmd.Flags().IntVar(&samples, "samples", 1, "estimations per trial volatility, the median is used")
	cmd.Flags().BoolVar(&showTrace, "trace", false, "print every bisection iteration")
	return cmd
}

func newPremiumCmd(out io.Writer) *cobra.Command {
	var (
		cf         contractFlags
		volatility float64
	)
	cmd := &cobra.Command{
		Use:   "premium",
		Short: "Estimate call and put premiums at a given volatility",
		RunE: func(*cobra.Command, []string) error {
			contract, err := finance.NewOptionContract(cf.timeToMaturity, cf.spot, cf.strike, cf.rate, volatility)
			if err != nil {
				return err
			}
			est, err := cf.estimator()
			if err != nil {
				return err
			}
			mc, err := est.Estimate(contract)
			if err != nil {
				return err
			}
			bs, err := finance.BlackScholes(contract)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Type", "Monte Carlo", "Black-Scholes"})
			table.SetAlignment(tablewriter.ALIGN_RIGHT)
			table.Append([]string{types.OptionTypeCall.String(), formatFloat(mc.Call), formatFloat(bs.Call)})
			table.Append([]string{types.OptionTypePut.String(), formatFloat(mc.Put), formatFloat(bs.Put)})
			table.Render()
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().Float64Var(&volatility, "vol", 0.2, "annualised volatility")
	return cmd
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
