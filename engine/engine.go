package engine

import (
	"bytes"
	"context"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fiber/errors"
	"github.com/wippyai/wasm-fiber/meter"
	"github.com/wippyai/wasm-fiber/wat"
)

var wasmMagic = []byte("\x00asm")

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CacheDir persists compiled modules across processes. Empty keeps the
	// compilation cache in memory.
	CacheDir string

	// Interpreter forces the wazero interpreter instead of the compiler.
	Interpreter bool

	// DisableMetering compiles modules without fuel instrumentation.
	// Invocations of such modules never suspend on fuel.
	DisableMetering bool
}

// HostModule contributes host functions under one import namespace.
type HostModule interface {
	Namespace() string
	Define(b wazero.HostModuleBuilder) error
}

// Engine compiles and instantiates guest modules against a fixed set of
// host modules. It is safe for concurrent use.
type Engine struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	cfg     Config
	exports map[string]map[string]struct{}
	logger  *zap.Logger
}

// New creates an engine and instantiates the fuel import and the given
// host modules.
func New(ctx context.Context, cfg *Config, hosts ...HostModule) (*Engine, error) {
	e := &Engine{
		exports: make(map[string]map[string]struct{}),
		logger:  Logger().Named("engine"),
	}
	if cfg != nil {
		e.cfg = *cfg
	}

	var err error
	if e.cfg.CacheDir != "" {
		e.cache, err = wazero.NewCompilationCacheWithDir(e.cfg.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "compilation cache dir")
		}
	} else {
		e.cache = wazero.NewCompilationCache()
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if e.cfg.Interpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	}
	runtimeCfg = runtimeCfg.WithCompilationCache(e.cache)
	if e.cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if err := e.instantiateFuel(ctx); err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	for _, h := range hosts {
		if err := e.instantiateHost(ctx, h); err != nil {
			_ = e.Close(ctx)
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) instantiateFuel(ctx context.Context) error {
	mod, err := e.runtime.NewHostModuleBuilder(meter.ImportModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(consumeFuel), []api.ValueType{api.ValueTypeI32}, nil).
		WithName(meter.ImportName).
		Export(meter.ImportName).
		Instantiate(ctx)
	if err != nil {
		return errors.Registration(meter.ImportModule, meter.ImportName, err)
	}
	e.record(meter.ImportModule, mod)
	return nil
}

func (e *Engine) instantiateHost(ctx context.Context, h HostModule) error {
	ns := h.Namespace()
	if _, dup := e.exports[ns]; dup {
		return errors.Registration(ns, "*", errors.InvalidInput(errors.PhaseHost, "namespace already registered"))
	}
	b := e.runtime.NewHostModuleBuilder(ns)
	if err := h.Define(b); err != nil {
		return errors.Registration(ns, "*", err)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		return errors.Registration(ns, "*", err)
	}
	e.record(ns, mod)
	e.logger.Debug("host module registered", zap.String("namespace", ns), zap.Int("functions", len(e.exports[ns])))
	return nil
}

func (e *Engine) record(ns string, mod api.Module) {
	names := make(map[string]struct{})
	for name := range mod.ExportedFunctionDefinitions() {
		names[name] = struct{}{}
	}
	e.exports[ns] = names
}

// Metered reports whether compiled modules carry fuel instrumentation.
func (e *Engine) Metered() bool {
	return !e.cfg.DisableMetering
}

// Compile instruments and compiles a module. Input without the binary magic
// is parsed as the text format.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (*Module, error) {
	if !bytes.HasPrefix(wasm, wasmMagic) {
		text, err := wat.Compile(string(wasm))
		if err != nil {
			return nil, errors.CompileFailed("parse text module", err)
		}
		e.logger.Debug("text module parsed", zap.Int("source", len(wasm)), zap.Int("size", len(text)))
		wasm = text
	}

	bin := wasm
	var rep *meter.Report
	if !e.cfg.DisableMetering {
		var err error
		bin, rep, err = meter.Instrument(wasm)
		if err != nil {
			return nil, err
		}
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.CompileFailed("compile module", err)
	}

	fields := []zap.Field{zap.Int("size", len(wasm))}
	if rep != nil {
		fields = append(fields, zap.Int("functions", rep.Functions), zap.Int("charge_points", rep.ChargePoints))
	}
	e.logger.Debug("module compiled", fields...)

	return &Module{engine: e, compiled: compiled, report: rep}, nil
}

// Close releases the runtime, every instance created from it, and the
// in-memory compilation cache.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// Module is a compiled guest module.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
	report   *meter.Report
}

// Report returns the metering report, nil when metering is disabled.
func (m *Module) Report() *meter.Report {
	return m.report
}

// Exports lists exported function names, sorted.
func (m *Module) Exports() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Imports lists imported functions as "namespace#name", excluding the fuel import.
func (m *Module) Imports() []string {
	var out []string
	for _, def := range m.compiled.ImportedFunctions() {
		ns, name, _ := def.Import()
		if ns == meter.ImportModule && name == meter.ImportName {
			continue
		}
		out = append(out, ns+"#"+name)
	}
	return out
}

// Instantiate creates a fresh instance with its own memory and globals.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	var missing []string
	for _, def := range m.compiled.ImportedFunctions() {
		ns, name, _ := def.Import()
		if _, ok := m.engine.exports[ns][name]; !ok {
			missing = append(missing, ns+"#"+name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.LinkFailed("unresolved imports", errors.NewMissingImportsError(missing))
	}

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.LinkFailed("instantiate module", err)
	}
	return &Instance{module: mod, metered: m.report != nil}, nil
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Instance is an instantiated guest module.
type Instance struct {
	module  api.Module
	metered bool
}

// Metered reports whether the instance charges fuel.
func (i *Instance) Metered() bool {
	return i.metered
}

// Memory returns the instance's exported memory, if any.
func (i *Instance) Memory() api.Memory {
	return i.module.Memory()
}

// Lookup returns the exported function name.
func (i *Instance) Lookup(name string) (*Function, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseInvoke, "export", name)
	}
	def := fn.Definition()
	return &Function{
		name:    name,
		fn:      fn,
		params:  def.ParamTypes(),
		results: def.ResultTypes(),
	}, nil
}

// Close releases the instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

// Function is an exported guest function.
type Function struct {
	name    string
	fn      api.Function
	params  []api.ValueType
	results []api.ValueType
}

func (f *Function) Name() string { return f.name }
func (f *Function) Params() []api.ValueType { return f.params }
func (f *Function) Results() []api.ValueType { return f.results }

// Call runs the function to completion on the calling goroutine. Fuel
// charges reach the FuelSink carried by ctx, if any.
func (f *Function) Call(ctx context.Context, args ...uint64) ([]uint64, error) {
	return f.fn.Call(ctx, args...)
}
