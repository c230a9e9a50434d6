package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-fiber/engine"
	"github.com/wippyai/wasm-fiber/errors"
	"github.com/wippyai/wasm-fiber/fiber"
	"github.com/wippyai/wasm-fiber/hostcall"
	"github.com/wippyai/wasm-fiber/sample"
)

// EnvPrefix prefixes environment overrides, e.g. FIBER_FUEL_QUOTA.
const EnvPrefix = "FIBER"

// Config is the process configuration.
type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	Engine  EngineConfig   `mapstructure:"engine"`
	Fuel    FuelConfig     `mapstructure:"fuel"`
	Host    HostConfig     `mapstructure:"host"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Shards  int            `mapstructure:"shards"`
	Drivers []DriverConfig `mapstructure:"drivers"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type EngineConfig struct {
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`
	CacheDir         string `mapstructure:"cache_dir"`
	Interpreter      bool   `mapstructure:"interpreter"`
}

// FuelConfig sets the default fuel quota per advance. 0 is unlimited.
type FuelConfig struct {
	Quota      uint64 `mapstructure:"quota"`
	MaxRefills uint64 `mapstructure:"max_refills"`
}

type HostConfig struct {
	Sleep       time.Duration `mapstructure:"sleep"`
	FaultPolicy string        `mapstructure:"fault_policy"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DriverConfig describes one guest invocation to drive.
type DriverConfig struct {
	Name     string  `mapstructure:"name"`
	Workload string  `mapstructure:"workload"`
	Args     []int64 `mapstructure:"args"`
	Fuel     *uint64 `mapstructure:"fuel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("engine.memory_limit_pages", 0)
	v.SetDefault("engine.cache_dir", "")
	v.SetDefault("engine.interpreter", false)
	v.SetDefault("fuel.quota", fiber.DefaultQuota)
	v.SetDefault("fuel.max_refills", 0)
	v.SetDefault("host.sleep", hostcall.DefaultSleep)
	v.SetDefault("host.fault_policy", hostcall.FaultInvocation.String())
	v.SetDefault("metrics.addr", "")
	v.SetDefault("shards", 1)
	v.SetDefault("drivers", []map[string]any{})
}

// FlagKeys maps command-line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"log-level":       "log.level",
	"log-development": "log.development",
	"memory-pages":    "engine.memory_limit_pages",
	"cache-dir":       "engine.cache_dir",
	"interpreter":     "engine.interpreter",
	"fuel":            "fuel.quota",
	"max-refills":     "fuel.max_refills",
	"sleep":           "host.sleep",
	"fault-policy":    "host.fault_policy",
	"metrics-addr":    "metrics.addr",
	"shards":          "shards",
}

// Load reads the optional config file at path, applies FIBER_* environment
// overrides and validates the result. An empty path uses defaults and the
// environment only.
func Load(path string) (*Config, error) {
	return LoadFlags(path, nil)
}

// LoadFlags is Load with flags from fs that were set on the command line
// taking precedence over the environment and the file. Flags are matched
// through FlagKeys.
func LoadFlags(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range FlagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "bind flag --"+name)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config "+path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration without file or environment input.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info"},
		Fuel:   FuelConfig{Quota: fiber.DefaultQuota},
		Host:   HostConfig{Sleep: hostcall.DefaultSleep, FaultPolicy: hostcall.FaultInvocation.String()},
		Shards: 1,
	}
}

// Validate checks values that cannot be caught while decoding.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("log.level: %v", err))
	}
	if c.Engine.MemoryLimitPages > 65536 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("engine.memory_limit_pages: %d exceeds 65536", c.Engine.MemoryLimitPages))
	}
	if c.Host.Sleep < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "host.sleep: negative duration")
	}
	if _, err := hostcall.ParsePolicy(c.Host.FaultPolicy); err != nil {
		return err
	}
	if c.Shards < 1 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("shards: %d, need at least 1", c.Shards))
	}

	seen := make(map[string]bool, len(c.Drivers))
	for i, d := range c.Drivers {
		w, ok := sample.Lookup(d.Workload)
		if !ok {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("drivers[%d]: unknown workload %q", i, d.Workload))
		}
		if len(d.Args) != w.Params {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("drivers[%d]: workload %s takes %d arguments, got %d", i, w.Name, w.Params, len(d.Args)))
		}
		name := d.DriverName(i)
		if seen[name] {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("drivers[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
	}
	return nil
}

// EngineOptions converts the engine section.
func (c *Config) EngineOptions() *engine.Config {
	return &engine.Config{
		MemoryLimitPages: c.Engine.MemoryLimitPages,
		CacheDir:         c.Engine.CacheDir,
		Interpreter:      c.Engine.Interpreter,
	}
}

// Policy returns the parsed host fault policy. Validate has checked it.
func (c *Config) Policy() hostcall.FaultPolicy {
	p, _ := hostcall.ParsePolicy(c.Host.FaultPolicy)
	return p
}

// Logger builds the process logger from the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("log.level: %v", err))
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// DriverName returns the configured name, or workload-index.
func (d DriverConfig) DriverName(i int) string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("%s-%d", d.Workload, i)
}

// Quota returns the driver's fuel quota, falling back to def.
func (d DriverConfig) Quota(def uint64) uint64 {
	if d.Fuel != nil {
		return *d.Fuel
	}
	return def
}

// Arguments converts Args to guest argument values.
func (d DriverConfig) Arguments() []any {
	out := make([]any, len(d.Args))
	for i, a := range d.Args {
		out[i] = a
	}
	return out
}
