package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fiber/config"
	"github.com/wippyai/wasm-fiber/driver"
	"github.com/wippyai/wasm-fiber/errors"
)

// shutdownGrace bounds how long the loops keep running after a signal.
const shutdownGrace = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run guest invocations to completion",
	Long: `Run drives guest invocations on the event loop until they complete,
fail or are interrupted, then prints one row per driver.

Drivers come from:
  - --workload: fiber run --workload fib --arg 25 --drivers 4
  - the drivers section of --config
  - otherwise fib(25) next to a host.sleep guest`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("workload", "w", "", "Sample workload to invoke (see 'fiber workloads')")
	cmd.Flags().Int64Slice("arg", nil, "Guest argument (repeatable)")
	cmd.Flags().IntP("drivers", "n", 1, "Number of concurrent invocations of --workload")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	drivers, err := driverConfigs(cmd, cfg)
	if err != nil {
		return err
	}

	results, err := drive(cmd.Context(), cfg, logger, drivers)
	printResults(cmd.OutOrStdout(), results)
	return exitError(results, err)
}

// driverConfigs resolves which invocations to drive.
func driverConfigs(cmd *cobra.Command, cfg *config.Config) ([]config.DriverConfig, error) {
	workload, _ := cmd.Flags().GetString("workload")
	if workload == "" {
		if len(cfg.Drivers) > 0 {
			return cfg.Drivers, nil
		}
		return defaultDrivers(), nil
	}

	args, _ := cmd.Flags().GetInt64Slice("arg")
	n, _ := cmd.Flags().GetInt("drivers")
	if n < 1 {
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("--drivers: %d, need at least 1", n))
	}
	out := make([]config.DriverConfig, n)
	for i := range out {
		out[i] = config.DriverConfig{Workload: workload, Args: args}
	}

	check := *cfg
	check.Drivers = out
	if err := check.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func defaultDrivers() []config.DriverConfig {
	return []config.DriverConfig{
		{Name: "fib", Workload: "fib", Args: []int64{25}},
		{Name: "sleep", Workload: "sleep"},
	}
}

// drive runs the given drivers on a fresh session and returns their
// results in order.
func drive(parent context.Context, cfg *config.Config, logger *zap.Logger, drivers []config.DriverConfig, obs ...driver.Observer) ([]driver.Result, error) {
	if parent == nil {
		parent = context.Background()
	}
	soft, stop := signalContext(parent)
	defer stop()
	hard, cancel := hardStop(parent, soft, shutdownGrace)
	defer cancel()

	s, err := newSession(parent, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer s.close(context.Background())

	for i, dc := range drivers {
		if _, err := s.add(parent, soft, i, dc, obs...); err != nil {
			return nil, err
		}
	}
	err = s.run(hard)
	return s.results(), err
}

// exitError reports the loop error, or an error summarising failed drivers
// so the process exits non-zero.
func exitError(results []driver.Result, err error) error {
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if r.Outcome == driver.OutcomeFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d drivers failed", failed, len(results))
	}
	return nil
}
