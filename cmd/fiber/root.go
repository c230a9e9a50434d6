package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fiber/config"
	"github.com/wippyai/wasm-fiber/fiber"
	"github.com/wippyai/wasm-fiber/hostcall"
)

var rootCmd = &cobra.Command{
	Use:   "fiber",
	Short: "Drive fuel-bounded wasm invocations on a cooperative event loop",
	Long: `fiber - Run guest WebAssembly functions as cooperative tasks.

Each invocation runs for at most one fuel quota per scheduling turn and
suspends inside host.sleep until the event loop resolves it, so busy
guests never starve sleeping ones. Drivers come from the config file or
from --workload.`,
	Args:          cobra.NoArgs,
	RunE:          runRun, // Default to run command behavior
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (yaml, json or toml)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.Bool("log-development", false, "Human readable development logging")
	pf.Uint64("fuel", fiber.DefaultQuota, "Fuel quota per advance (0 is unlimited)")
	pf.Uint64("max-refills", 0, "Fail an invocation after this many exhausted quotas (0 is no limit)")
	pf.Duration("sleep", hostcall.DefaultSleep, "Duration of host.sleep")
	pf.String("fault-policy", hostcall.FaultInvocation.String(), "Host failure policy: invocation, trap, fatal")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.Int("shards", 1, "Number of event loops, each on its own OS thread")
	pf.Uint32("memory-pages", 0, "Guest memory limit in 64KiB pages (0 is the wazero default)")
	pf.String("cache-dir", "", "Persist compiled modules in this directory")
	pf.Bool("interpreter", false, "Use the wazero interpreter instead of the compiler")

	addRunFlags(rootCmd)
}

// loadConfig reads --config and applies the command line over it.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFlags(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// signalContext is canceled on SIGINT or SIGTERM. Drivers watch it and end
// as canceled at their next turn.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// hardStop returns a context that ends grace after soft ends. The loops run
// on it and stop with an error if drivers have not wound down by then.
func hardStop(parent, soft context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-soft.Done():
		case <-ctx.Done():
			return
		}
		select {
		case <-time.After(grace):
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
