package fiber

import (
	"context"
	"fmt"
	"iter"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fiber/engine"
	"github.com/wippyai/wasm-fiber/errors"
	"github.com/wippyai/wasm-fiber/future"
)

// DefaultQuota is the fuel granted per Advance when no quota is configured.
const DefaultQuota uint64 = 100_000_000

// Unlimited disables fuel suspension.
const Unlimited uint64 = 0

// ErrAbandoned is raised inside host code when the invocation is discarded
// while suspended. It unwinds the guest stack without running more guest code.
var ErrAbandoned = errors.New(errors.PhaseAdvance, errors.KindCanceled).Detail("invocation abandoned").Build()

// Status of an invocation.
type Status uint8

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Progress is the outcome of one Advance: Pending, Completed(Values) or Failed(Err).
type Progress struct {
	Values []any
	Raw    []uint64
	Err    error
	Status Status
}

// Pending reports whether the invocation needs another Advance.
func (p Progress) Pending() bool {
	return p.Status == StatusPending
}

// Terminal reports whether the invocation has finished.
func (p Progress) Terminal() bool {
	return p.Status != StatusPending
}

// Option configures an Invocation.
type Option func(*Invocation)

// WithQuota sets the fuel granted per Advance. Unlimited (0) never suspends on fuel.
func WithQuota(q uint64) Option {
	return func(inv *Invocation) { inv.quota = q }
}

// WithMaxRefills fails the invocation with KindFuelExhausted once fuel
// has run out more than n times. 0 means no limit.
func WithMaxRefills(n uint64) Option {
	return func(inv *Invocation) { inv.maxRefills = n }
}

// WithLogger sets the invocation logger.
func WithLogger(l *zap.Logger) Option {
	return func(inv *Invocation) { inv.logger = l }
}

// Invocation is one call into guest code that can be advanced a quantum
// at a time. It is owned by a single driver and is not safe for
// concurrent use.
type Invocation struct {
	id     uuid.UUID
	fn     *engine.Function
	ctx    context.Context
	logger *zap.Logger
	args   []uint64

	quota      uint64
	maxRefills uint64
	budget     int64
	consumed   uint64
	exhausted  uint64
	advances   int

	next  func() (struct{}, bool)
	stop  func()
	yield func(struct{}) bool

	running   bool
	abandoned bool
	status    Status
	result    Progress

	outstanding *future.Handle
	fault       error
	results     []uint64
	callErr     error
}

// Invoke prepares a call of the exported function name with args. Nothing
// runs until the first Advance. Arguments are Go values matching the
// function's parameter types: int32/uint32 for i32, int64/uint64 for i64,
// float32, float64; int is accepted for either integer type when it fits.
func Invoke(ctx context.Context, inst *engine.Instance, name string, args []any, opts ...Option) (*Invocation, error) {
	fn, err := inst.Lookup(name)
	if err != nil {
		return nil, err
	}
	raw, err := encodeArgs(fn, args)
	if err != nil {
		return nil, err
	}

	inv := &Invocation{
		id:     uuid.New(),
		fn:     fn,
		args:   raw,
		quota:  DefaultQuota,
		logger: engine.Logger(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	if !inst.Metered() && inv.quota != Unlimited {
		inv.logger.Debug("instance is not metered, fuel quota has no effect", zap.String("function", name))
	}
	inv.logger = inv.logger.With(zap.String("invocation", inv.id.String()), zap.String("function", name))

	// The guest must not observe the caller's cancellation mid-quantum.
	base := context.WithoutCancel(ctx)
	inv.ctx = withInvocation(engine.WithFuelSink(base, inv), inv)
	return inv, nil
}

func (inv *Invocation) ID() uuid.UUID  { return inv.id }
func (inv *Invocation) Name() string   { return inv.fn.Name() }
func (inv *Invocation) Status() Status { return inv.status }

// Fuel returns the total fuel consumed so far.
func (inv *Invocation) Fuel() uint64 { return inv.consumed }

// Advances returns how many times Advance ran guest code.
func (inv *Invocation) Advances() int { return inv.advances }

// Exhaustions returns how many quanta ended because fuel ran out.
func (inv *Invocation) Exhaustions() uint64 { return inv.exhausted }

// Quota returns the fuel granted per Advance.
func (inv *Invocation) Quota() uint64 { return inv.quota }

// Result returns the terminal progress, or a Pending progress while running.
func (inv *Invocation) Result() Progress { return inv.result }

// Advance refills fuel and runs the guest until it completes, fails,
// exhausts the quantum, or waits on an unresolved host operation.
// Calling Advance after a terminal result or after Abandon is an
// InvalidState error.
func (inv *Invocation) Advance() (Progress, error) {
	switch {
	case inv.abandoned:
		return Progress{}, errors.InvalidState(errors.PhaseAdvance, "advance after abandon")
	case inv.status != StatusPending:
		return Progress{}, errors.InvalidState(errors.PhaseAdvance, "advance after "+inv.status.String())
	case inv.running:
		return Progress{}, errors.InvalidState(errors.PhaseAdvance, "advance re-entered from guest code")
	}

	inv.advances++
	// Quotas past MaxInt64 cannot be overdrawn in practice.
	inv.budget = int64(min(inv.quota, math.MaxInt64))
	if inv.next == nil {
		inv.next, inv.stop = iter.Pull(inv.run)
	}

	inv.running = true
	_, more := inv.next()
	inv.running = false

	if !more {
		return inv.settle(inv.outcome()), nil
	}
	if inv.maxRefills > 0 && inv.exhausted > inv.maxRefills {
		inv.halt()
		err := errors.New(errors.PhaseAdvance, errors.KindFuelExhausted).
			Function(inv.Name()).
			Detail("fuel ran out %d times", inv.exhausted).
			Build()
		return inv.settle(Progress{Status: StatusFailed, Err: err}), nil
	}
	return Progress{Status: StatusPending}, nil
}

func (inv *Invocation) run(yield func(struct{}) bool) {
	inv.yield = yield
	inv.results, inv.callErr = inv.fn.Call(inv.ctx, inv.args...)
	inv.yield = nil
}

func (inv *Invocation) outcome() Progress {
	switch {
	case inv.fault != nil:
		return Progress{Status: StatusFailed, Err: inv.fault}
	case inv.callErr != nil:
		reason := engine.TrapReason(inv.callErr)
		if reason == "" {
			reason = "host function panicked"
		}
		return Progress{Status: StatusFailed, Err: errors.Trap(inv.Name(), reason, inv.callErr)}
	}
	return Progress{
		Status: StatusCompleted,
		Raw:    inv.results,
		Values: decodeResults(inv.fn, inv.results),
	}
}

func (inv *Invocation) settle(p Progress) Progress {
	inv.status = p.Status
	inv.result = p
	inv.outstanding = nil
	if p.Err != nil {
		inv.logger.Debug("invocation failed", zap.Error(p.Err), zap.Int("advances", inv.advances), zap.Uint64("fuel", inv.consumed))
	} else {
		inv.logger.Debug("invocation completed", zap.Int("advances", inv.advances), zap.Uint64("fuel", inv.consumed))
	}
	return p
}

// halt unwinds a suspended guest without resuming it.
func (inv *Invocation) halt() {
	inv.outstanding = nil
	if inv.stop != nil {
		inv.stop()
	}
}

// Abandon discards a pending invocation. A suspended guest is unwound and
// any outstanding host operation is dropped without being cancelled.
func (inv *Invocation) Abandon() {
	if inv.abandoned || inv.status != StatusPending {
		return
	}
	inv.abandoned = true
	inv.halt()
	inv.logger.Debug("invocation abandoned", zap.Int("advances", inv.advances))
}

// Abandoned reports whether Abandon was called before completion.
func (inv *Invocation) Abandoned() bool { return inv.abandoned }

// ConsumeFuel charges cost against the current quantum and suspends the
// guest once the quantum is overdrawn.
func (inv *Invocation) ConsumeFuel(_ context.Context, cost uint32) {
	inv.consumed += uint64(cost)
	if inv.quota == Unlimited {
		return
	}
	inv.budget -= int64(cost)
	if inv.budget >= 0 {
		return
	}
	inv.exhausted++
	if err := inv.Suspend(); err != nil {
		panic(err)
	}
}

// Suspend returns control to the caller of Advance. It returns when the
// next Advance resumes the guest, or ErrAbandoned when the invocation was
// discarded instead. Host code must propagate ErrAbandoned by panicking.
func (inv *Invocation) Suspend() error {
	if inv.yield == nil || !inv.running {
		return errors.InvalidState(errors.PhaseHost, "suspend outside of advance")
	}
	if !inv.yield(struct{}{}) {
		return ErrAbandoned
	}
	return nil
}

// Outstanding returns the host operation the guest is waiting on, if any.
func (inv *Invocation) Outstanding() *future.Handle {
	return inv.outstanding
}

// Hold records h as the outstanding operation for the current call site.
// Only one operation may be outstanding at a time.
func (inv *Invocation) Hold(h *future.Handle) error {
	if inv.outstanding != nil {
		return errors.InvalidState(errors.PhaseHost, "host operation already outstanding")
	}
	inv.outstanding = h
	return nil
}

// Release clears the outstanding operation after its result was extracted.
func (inv *Invocation) Release() {
	inv.outstanding = nil
}

// Fail records err as the invocation's failure. Host code raises it with
// panic afterwards to unwind the guest. The first failure wins.
func (inv *Invocation) Fail(err error) {
	if inv.fault == nil {
		inv.fault = err
	}
}

type ctxKeyInvocation struct{}

func withInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, ctxKeyInvocation{}, inv)
}

// GetInvocation returns the invocation whose guest code is running on ctx.
func GetInvocation(ctx context.Context) *Invocation {
	if v := ctx.Value(ctxKeyInvocation{}); v != nil {
		return v.(*Invocation)
	}
	return nil
}
