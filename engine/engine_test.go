package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-fiber/errors"
	"github.com/wippyai/wasm-fiber/sample"
)

type fuelRecorder struct {
	charges int
	total   uint64
}

func (r *fuelRecorder) ConsumeFuel(_ context.Context, cost uint32) {
	r.charges++
	r.total += uint64(cost)
}

type testHost struct {
	ns    string
	names []string
}

func (h testHost) Namespace() string { return h.ns }

func (h testHost) Define(b wazero.HostModuleBuilder) error {
	for _, name := range h.names {
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(context.Context, api.Module, []uint64) {}), nil, nil).
			Export(name)
	}
	return nil
}

func newEngine(t *testing.T, cfg *Config, hosts ...HostModule) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, cfg, hosts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func instantiate(t *testing.T, e *Engine, wasm []byte) *Instance {
	t.Helper()
	ctx := context.Background()
	mod, err := e.Compile(ctx, wasm)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	return inst
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{Interpreter: true}, "interpreter"},
		{&Config{CacheDir: t.TempDir()}, "cache dir"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, tc.cfg)
			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
			if _, ok := e.exports["fiber"]["consume_fuel"]; !ok {
				t.Error("fuel import not registered")
			}
		})
	}
}

func TestNew_DuplicateNamespace(t *testing.T) {
	_, err := New(context.Background(), nil, testHost{ns: "host"}, testHost{ns: "host"})
	if err == nil {
		t.Fatal("expected registration error")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindRegistration {
		t.Errorf("error = %v, want registration", err)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		wasm []byte
	}{
		{"garbage metered", nil, []byte("not wasm at all")},
		{"garbage unmetered", &Config{DisableMetering: true}, []byte("not wasm at all")},
		{"malformed text", nil, []byte(`(module (func (i32.bogus)))`)},
		{"invalid text body", nil, []byte(`(module (func (result i32)))`)},
		{"invalid body", nil, func() []byte {
			m := &sample.Module{}
			m.Func("f", nil, []byte{sample.I32}, nil, []byte{0x0B}) // missing result
			return m.Encode()
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.cfg)
			_, err := e.Compile(context.Background(), tt.wasm)
			if !errors.Is(err, errors.ErrCompile) {
				t.Errorf("error = %v, want compile error", err)
			}
		})
	}
}

func TestCompile_Text(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"metered", nil},
		{"unmetered", &Config{DisableMetering: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.cfg)
			ctx := context.Background()
			mod, err := e.Compile(ctx, sample.FibText())
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			if got := mod.Exports(); !slices.Contains(got, "fib") {
				t.Errorf("Exports() = %v, want fib", got)
			}
			if (mod.Report() != nil) != e.Metered() {
				t.Errorf("Report() = %+v with metering %v", mod.Report(), e.Metered())
			}
			inst, err := mod.Instantiate(ctx)
			if err != nil {
				t.Fatalf("Instantiate failed: %v", err)
			}
			defer inst.Close(ctx)

			fn, err := inst.Lookup("fib")
			if err != nil {
				t.Fatal(err)
			}
			res, err := fn.Call(ctx, api.EncodeI32(10))
			if err != nil {
				t.Fatalf("fib(10): %v", err)
			}
			if int32(res[0]) != sample.NativeFib(10) {
				t.Errorf("fib(10) = %d, want %d", int32(res[0]), sample.NativeFib(10))
			}
		})
	}
}

func TestInstantiate_MissingImports(t *testing.T) {
	e := newEngine(t, nil)
	mod, err := e.Compile(context.Background(), sample.SleepThenAnswer())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if got := mod.Imports(); len(got) != 1 || got[0] != "host#sleep" {
		t.Errorf("Imports() = %v, want [host#sleep]", got)
	}

	_, err = mod.Instantiate(context.Background())
	if !errors.Is(err, errors.ErrLink) {
		t.Fatalf("error = %v, want link error", err)
	}
	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("error %v does not carry MissingImportsError", err)
	}
	if len(missing.Imports) != 1 || missing.Imports[0].Namespace != "host" || missing.Imports[0].Function != "sleep" {
		t.Errorf("missing = %+v", missing.Imports)
	}
}

func TestInstantiate_WithHost(t *testing.T) {
	e := newEngine(t, nil, testHost{ns: "host", names: []string{"sleep"}})
	inst := instantiate(t, e, sample.SleepThenAnswer())

	fn, err := inst.Lookup("run")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	results, err := fn.Call(context.Background())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if api.DecodeI32(results[0]) != 42 {
		t.Errorf("run() = %d, want 42", api.DecodeI32(results[0]))
	}
}

func TestLookup(t *testing.T) {
	e := newEngine(t, nil)
	inst := instantiate(t, e, sample.Fib())

	fn, err := inst.Lookup("fib")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if fn.Name() != "fib" {
		t.Errorf("Name() = %q", fn.Name())
	}
	if len(fn.Params()) != 1 || fn.Params()[0] != api.ValueTypeI32 {
		t.Errorf("Params() = %v", fn.Params())
	}
	if len(fn.Results()) != 1 || fn.Results()[0] != api.ValueTypeI32 {
		t.Errorf("Results() = %v", fn.Results())
	}

	_, err = inst.Lookup("missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestFuelSink(t *testing.T) {
	e := newEngine(t, nil)
	inst := instantiate(t, e, sample.Count())
	fn, err := inst.Lookup("count")
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range []int32{0, 1, 10, 100} {
		rec := &fuelRecorder{}
		results, err := fn.Call(WithFuelSink(context.Background(), rec), api.EncodeI32(n))
		if err != nil {
			t.Fatalf("count(%d): %v", n, err)
		}
		if got := api.DecodeI32(results[0]); got != n {
			t.Errorf("count(%d) = %d", n, got)
		}
		// entry + loop entry + ten per iteration (plus the exit test) + epilogue
		want := uint64(10*n + 14)
		if rec.total != want {
			t.Errorf("count(%d) consumed %d, want %d", n, rec.total, want)
		}
	}

	// No sink: charges are free.
	results, err := fn.Call(context.Background(), api.EncodeI32(3))
	if err != nil || api.DecodeI32(results[0]) != 3 {
		t.Errorf("count(3) without sink = %v, %v", results, err)
	}
}

func TestDisableMetering(t *testing.T) {
	e := newEngine(t, &Config{DisableMetering: true})
	if e.Metered() {
		t.Error("Metered() should be false")
	}
	mod, err := e.Compile(context.Background(), sample.Fib())
	if err != nil {
		t.Fatal(err)
	}
	if mod.Report() != nil {
		t.Error("unmetered module has a report")
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if inst.Metered() {
		t.Error("instance should not be metered")
	}

	fn, _ := inst.Lookup("fib")
	rec := &fuelRecorder{}
	results, err := fn.Call(WithFuelSink(context.Background(), rec), api.EncodeI32(10))
	if err != nil {
		t.Fatal(err)
	}
	if api.DecodeI32(results[0]) != 89 {
		t.Errorf("fib(10) = %d, want 89", api.DecodeI32(results[0]))
	}
	if rec.charges != 0 {
		t.Errorf("unmetered call charged %d times", rec.charges)
	}
}

func TestTrapReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"host error", stderrors.New("boom"), ""},
		{"unreachable", stderrors.New("wasm error: unreachable\nwasm stack trace:\n\t.$0()"), "unreachable"},
		{"oob", stderrors.New("wasm error: out of bounds memory access"), "out of bounds memory access"},
		{"stack overflow", stderrors.New("stack overflow"), "stack overflow"},
		{"wrapped stack overflow", fmt.Errorf("call recurse: %w", stderrors.New("stack overflow")), "stack overflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrapReason(tt.err); got != tt.want {
				t.Errorf("TrapReason() = %q, want %q", got, tt.want)
			}
		})
	}

	e := newEngine(t, nil)
	inst := instantiate(t, e, sample.Trap())
	fn, _ := inst.Lookup("trap")
	_, err := fn.Call(context.Background())
	if err == nil {
		t.Fatal("trap() returned no error")
	}
	if got := TrapReason(err); got != "unreachable" {
		t.Errorf("TrapReason(%v) = %q, want unreachable", err, got)
	}

	inst = instantiate(t, e, sample.Recurse())
	fn, _ = inst.Lookup("recurse")
	_, err = fn.Call(context.Background())
	if err == nil {
		t.Fatal("recurse() returned no error")
	}
	if got := TrapReason(err); got != "stack overflow" {
		t.Errorf("TrapReason(%v) = %q, want stack overflow", err, got)
	}
}

func TestModuleExports(t *testing.T) {
	e := newEngine(t, nil)
	mod, err := e.Compile(context.Background(), sample.Fib())
	if err != nil {
		t.Fatal(err)
	}
	if got := mod.Exports(); len(got) != 1 || got[0] != "fib" {
		t.Errorf("Exports() = %v", got)
	}
	if rep := mod.Report(); rep == nil || rep.Functions != 1 {
		t.Errorf("Report() = %+v", rep)
	}
}

func TestSetLogger(t *testing.T) {
	if Logger() == nil {
		t.Fatal("default logger is nil")
	}
	SetLogger(nil)
	if Logger() == nil {
		t.Fatal("SetLogger(nil) left a nil logger")
	}
}
