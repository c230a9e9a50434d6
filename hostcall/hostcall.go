package hostcall

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fiber/engine"
	"github.com/wippyai/wasm-fiber/errors"
	"github.com/wippyai/wasm-fiber/fiber"
	"github.com/wippyai/wasm-fiber/future"
)

// Namespace is the import module host capabilities are registered under.
const Namespace = "host"

// DefaultSleep is the delay of host.sleep.
const DefaultSleep = time.Second

// Scheduler starts delay operations on the event loop that drives the
// calling invocation.
type Scheduler interface {
	After(d time.Duration) future.Source
}

// Capability starts one host operation for a guest call. args holds the
// raw guest arguments. The returned source is polled until it resolves;
// its value becomes the call's result when the capability has one.
// Sources are expected to be resolved by the event loop (a timer or a
// submitted function) so an idle loop wakes up for them.
type Capability func(ctx context.Context, args []uint64) future.Source

// Observer is notified about capability calls.
type Observer interface {
	CapabilityStarted(name string)
	CapabilityFinished(name string, elapsed time.Duration, err error)
}

type capability struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	start   Capability
	started atomic.Uint64
}

// Bridge exposes capabilities as guest imports and suspends the calling
// invocation until the started operation resolves.
type Bridge struct {
	namespace string
	sched     Scheduler
	sleep     time.Duration
	policy    FaultPolicy
	logger    *zap.Logger
	observers []Observer

	mu      sync.Mutex
	caps    map[string]*capability
	defined bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithScheduler sets the scheduler used when the invocation context
// carries none.
func WithScheduler(s Scheduler) Option {
	return func(b *Bridge) { b.sched = s }
}

// WithSleep sets the delay of host.sleep.
func WithSleep(d time.Duration) Option {
	return func(b *Bridge) { b.sleep = d }
}

func WithFaultPolicy(p FaultPolicy) Option {
	return func(b *Bridge) { b.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observers = append(b.observers, o) }
}

// WithNamespace registers the capabilities under ns instead of "host".
func WithNamespace(ns string) Option {
	return func(b *Bridge) { b.namespace = ns }
}

// New creates a bridge with the built-in capabilities sleep, sleep_ms
// and yield.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		namespace: Namespace,
		sleep:     DefaultSleep,
		logger:    engine.Logger(),
		caps:      make(map[string]*capability),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("hostcall")

	b.mustRegister("sleep", nil, nil, b.startSleep)
	b.mustRegister("sleep_ms", []api.ValueType{api.ValueTypeI32}, nil, b.startSleepMillis)
	b.mustRegister("yield", nil, nil, nil)
	return b
}

// Register adds a capability. It must be called before the bridge is
// passed to engine.New.
func (b *Bridge) Register(name string, params, results []api.ValueType, fn Capability) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "capability name cannot be empty")
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseHost, "capability "+name+" has no implementation")
	}
	if len(results) > 1 {
		return errors.Registration(b.namespace, name, fmt.Errorf("at most one result supported, got %d", len(results)))
	}
	return b.add(name, params, results, fn)
}

func (b *Bridge) mustRegister(name string, params, results []api.ValueType, fn Capability) {
	if err := b.add(name, params, results, fn); err != nil {
		panic(err)
	}
}

func (b *Bridge) add(name string, params, results []api.ValueType, fn Capability) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.defined {
		return errors.Registration(b.namespace, name, fmt.Errorf("bridge already bound to an engine"))
	}
	if _, ok := b.caps[name]; ok {
		return errors.Registration(b.namespace, name, fmt.Errorf("capability already registered"))
	}
	b.caps[name] = &capability{name: name, params: params, results: results, start: fn}
	return nil
}

// Namespace implements engine.HostModule.
func (b *Bridge) Namespace() string { return b.namespace }

// Define implements engine.HostModule.
func (b *Bridge) Define(hb wazero.HostModuleBuilder) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defined = true

	for _, name := range b.namesLocked() {
		c := b.caps[name]
		fn := b.handler(c)
		if c.start == nil {
			fn = b.yieldHandler(c)
		}
		hb.NewFunctionBuilder().
			WithGoModuleFunction(fn, c.params, c.results).
			WithName(name).
			Export(name)
	}
	return nil
}

// Capabilities returns the registered capability names, sorted.
func (b *Bridge) Capabilities() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.namesLocked()
}

func (b *Bridge) namesLocked() []string {
	names := make([]string, 0, len(b.caps))
	for name := range b.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Started returns how many operations the named capability has started.
func (b *Bridge) Started(name string) uint64 {
	b.mu.Lock()
	c := b.caps[name]
	b.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.started.Load()
}

// Policy returns the configured fault policy.
func (b *Bridge) Policy() FaultPolicy { return b.policy }

// handler starts the capability once per call, then polls the handle,
// suspending the invocation while it is not ready.
func (b *Bridge) handler(c *capability) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		inv := fiber.GetInvocation(ctx)
		if inv == nil {
			panic(errors.InvalidState(errors.PhaseHost, b.namespace+"."+c.name+" called outside of an invocation"))
		}

		begin := time.Now()
		h := inv.Outstanding()
		if h == nil {
			args := make([]uint64, len(c.params))
			copy(args, stack)
			h = future.Adapt(b.start(ctx, c, args))
			if err := inv.Hold(h); err != nil {
				b.fail(inv, c, begin, err)
			}
		}

		for {
			r := h.Poll()
			if r.IsReady() {
				inv.Release()
				if r.Err != nil {
					b.fail(inv, c, begin, r.Err)
				}
				if len(c.results) > 0 {
					stack[0] = r.Value
				}
				b.finished(c, begin, nil)
				return
			}
			if err := inv.Suspend(); err != nil {
				panic(err)
			}
		}
	}
}

// yieldHandler suspends the invocation exactly once without an operation.
func (b *Bridge) yieldHandler(c *capability) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, _ []uint64) {
		inv := fiber.GetInvocation(ctx)
		if inv == nil {
			panic(errors.InvalidState(errors.PhaseHost, b.namespace+"."+c.name+" called outside of an invocation"))
		}
		begin := time.Now()
		c.started.Add(1)
		for _, o := range b.observers {
			o.CapabilityStarted(c.name)
		}
		if err := inv.Suspend(); err != nil {
			panic(err)
		}
		b.finished(c, begin, nil)
	}
}

func (b *Bridge) start(ctx context.Context, c *capability, args []uint64) (src future.Source) {
	c.started.Add(1)
	for _, o := range b.observers {
		o.CapabilityStarted(c.name)
	}
	defer func() {
		if r := recover(); r != nil {
			src = future.Rejected(fmt.Errorf("capability panicked: %v", r))
		}
	}()
	src = c.start(ctx, args)
	if src == nil {
		src = future.Rejected(fmt.Errorf("capability returned no operation"))
	}
	return src
}

// fail records the failure on the invocation according to the fault
// policy and unwinds the guest. It does not return.
func (b *Bridge) fail(inv *fiber.Invocation, c *capability, begin time.Time, cause error) {
	var err error
	switch b.policy {
	case FaultTrap:
		err = errors.Trap(inv.Name(), "host capability "+c.name+" failed", cause)
	case FaultFatal:
		err = errors.New(errors.PhaseHost, errors.KindHostFailure).
			Function(c.name).
			Detail("host capability failed").
			Cause(cause).
			Fatal().
			Build()
	default:
		err = errors.HostFailure(c.name, cause)
	}
	b.finished(c, begin, err)
	b.logger.Debug("capability failed",
		zap.String("capability", c.name),
		zap.String("policy", b.policy.String()),
		zap.Error(cause))
	inv.Fail(err)
	panic(err)
}

func (b *Bridge) finished(c *capability, begin time.Time, err error) {
	elapsed := time.Since(begin)
	for _, o := range b.observers {
		o.CapabilityFinished(c.name, elapsed, err)
	}
}

func (b *Bridge) scheduler(ctx context.Context) Scheduler {
	if s := GetScheduler(ctx); s != nil {
		return s
	}
	return b.sched
}

func (b *Bridge) after(ctx context.Context, d time.Duration) future.Source {
	s := b.scheduler(ctx)
	if s == nil {
		return future.Rejected(errors.InvalidState(errors.PhaseHost, "no scheduler to start a delay on"))
	}
	return s.After(d)
}

func (b *Bridge) startSleep(ctx context.Context, _ []uint64) future.Source {
	b.logger.Debug("Hello from inside WASM FFI function!", zap.Duration("delay", b.sleep))
	return b.after(ctx, b.sleep)
}

func (b *Bridge) startSleepMillis(ctx context.Context, args []uint64) future.Source {
	ms := api.DecodeI32(args[0])
	if ms < 0 {
		return future.Rejected(errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("negative delay %dms", ms)))
	}
	return b.after(ctx, time.Duration(ms)*time.Millisecond)
}

type ctxKeyScheduler struct{}

// WithSchedulerContext attaches the scheduler host capabilities start
// their operations on. Pass the result to fiber.Invoke.
func WithSchedulerContext(ctx context.Context, s Scheduler) context.Context {
	return context.WithValue(ctx, ctxKeyScheduler{}, s)
}

func GetScheduler(ctx context.Context) Scheduler {
	if v := ctx.Value(ctxKeyScheduler{}); v != nil {
		return v.(Scheduler)
	}
	return nil
}
