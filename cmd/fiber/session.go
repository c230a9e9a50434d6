package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fiber/config"
	"github.com/wippyai/wasm-fiber/driver"
	"github.com/wippyai/wasm-fiber/engine"
	"github.com/wippyai/wasm-fiber/errors"
	"github.com/wippyai/wasm-fiber/fiber"
	"github.com/wippyai/wasm-fiber/hostcall"
	"github.com/wippyai/wasm-fiber/metrics"
	"github.com/wippyai/wasm-fiber/reactor"
	"github.com/wippyai/wasm-fiber/sample"
)

// session owns everything one command needs to drive guest invocations:
// the engine, the host bridge, one loop per shard and the drivers spawned
// onto them.
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	eng      *engine.Engine
	bridge   *hostcall.Bridge
	registry *prometheus.Registry
	metrics  *metrics.Collector
	loops    []*reactor.Loop
	drivers  []*driver.Driver
	modules  map[string]*engine.Module
	server   *http.Server
}

func newSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session, error) {
	engine.SetLogger(logger)

	s := &session{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		modules:  make(map[string]*engine.Module),
	}
	col, err := metrics.New(s.registry)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidState, err, "register metrics")
	}
	s.metrics = col

	s.bridge = hostcall.New(
		hostcall.WithSleep(cfg.Host.Sleep),
		hostcall.WithFaultPolicy(cfg.Policy()),
		hostcall.WithObserver(col),
		hostcall.WithLogger(logger),
	)
	s.eng, err = engine.New(ctx, cfg.EngineOptions(), s.bridge)
	if err != nil {
		return nil, err
	}

	for i := 0; i < cfg.Shards; i++ {
		s.loops = append(s.loops, reactor.New(
			reactor.WithName(shardName(i)),
			reactor.WithLogger(logger),
		))
	}
	return s, nil
}

func shardName(i int) string {
	return "shard-" + strconv.Itoa(i)
}

// compile returns the compiled module for a workload, compiling it once.
func (s *session) compile(ctx context.Context, w sample.Workload) (*engine.Module, error) {
	if m, ok := s.modules[w.Name]; ok {
		return m, nil
	}
	m, err := s.eng.Compile(ctx, w.Build())
	if err != nil {
		return nil, err
	}
	s.modules[w.Name] = m
	return m, nil
}

// add instantiates the workload for dc, starts its invocation and spawns a
// driver for it on shard i modulo the shard count. Drivers stop at their
// next turn once cancel is done.
func (s *session) add(ctx, cancel context.Context, i int, dc config.DriverConfig, obs ...driver.Observer) (*driver.Driver, error) {
	w, ok := sample.Lookup(dc.Workload)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseConfig, "unknown workload "+dc.Workload)
	}
	mod, err := s.compile(ctx, w)
	if err != nil {
		return nil, err
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return nil, err
	}

	name := dc.DriverName(i)
	loop := s.loops[i%len(s.loops)]
	inv, err := fiber.Invoke(hostcall.WithSchedulerContext(ctx, loop), inst, w.Export, dc.Arguments(),
		fiber.WithQuota(dc.Quota(s.cfg.Fuel.Quota)),
		fiber.WithMaxRefills(s.cfg.Fuel.MaxRefills),
		fiber.WithLogger(s.logger),
	)
	if err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}

	opts := []driver.Option{driver.WithLogger(s.logger), driver.WithObserver(s.metrics.Track())}
	for _, o := range obs {
		opts = append(opts, driver.WithObserver(o))
	}
	d := driver.New(name, inv, cancel, opts...)
	loop.Spawn(name, d)
	s.drivers = append(s.drivers, d)
	s.logger.Debug("driver added",
		zap.String("driver", name),
		zap.String("workload", w.Name),
		zap.String("shard", loop.Name()),
		zap.Uint64("quota", inv.Quota()))
	return d, nil
}

// run serves metrics when configured and runs every shard until its drivers
// are done or ctx ends.
func (s *session) run(ctx context.Context) error {
	if s.cfg.Metrics.Addr != "" {
		s.server = &http.Server{
			Addr:              s.cfg.Metrics.Addr,
			Handler:           metrics.Handler(s.registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		s.logger.Info("serving metrics", zap.String("addr", s.cfg.Metrics.Addr))
	}

	start := time.Now()
	err := reactor.RunShards(ctx, s.loops...)
	s.logger.Info("drivers finished",
		zap.Int("drivers", len(s.drivers)),
		zap.Int("shards", len(s.loops)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return err
}

func (s *session) results() []driver.Result {
	return driver.Results(s.drivers...)
}

func (s *session) close(ctx context.Context) {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		_ = s.server.Shutdown(shutdownCtx)
		cancel()
	}
	if s.eng != nil {
		_ = s.eng.Close(ctx)
	}
	_ = s.logger.Sync()
}
