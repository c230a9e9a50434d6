package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-fiber/engine"
	"github.com/wippyai/wasm-fiber/errors"
	"github.com/wippyai/wasm-fiber/fiber"
	"github.com/wippyai/wasm-fiber/reactor"
)

// State of a driver.
type State uint8

const (
	Running State = iota
	Suspended
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Outcome of a finished driver.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Result summarises a driver run.
type Result struct {
	Name       string
	Invocation uuid.UUID
	Outcome    Outcome
	Values     []any
	Err        error
	Advances   int
	Fuel       uint64
	Elapsed    time.Duration
}

// Observer is notified on every advance and once when the driver is done.
type Observer interface {
	DriverAdvanced(name string, p fiber.Progress, fuel uint64)
	DriverFinished(r Result)
}

// Driver advances one invocation per scheduling turn. It implements
// reactor.Task.
type Driver struct {
	name   string
	inv    *fiber.Invocation
	cancel context.Context
	logger *zap.Logger

	observers []Observer
	state     State
	result    Result
	started   time.Time
}

// Option configures a Driver.
type Option func(*Driver)

func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

func WithObserver(o Observer) Option {
	return func(d *Driver) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// New creates a driver for inv. Once cancel is done the driver abandons
// the invocation at its next turn instead of advancing it. A nil cancel
// never cancels.
func New(name string, inv *fiber.Invocation, cancel context.Context, opts ...Option) *Driver {
	if cancel == nil {
		cancel = context.Background()
	}
	d := &Driver{
		name:   name,
		inv:    inv,
		cancel: cancel,
		logger: engine.Logger(),
		state:  Running,
		result: Result{Name: name, Invocation: inv.ID()},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("driver").With(zap.String("driver", name))
	return d
}

func (d *Driver) Name() string                  { return d.name }
func (d *Driver) State() State                  { return d.state }
func (d *Driver) Invocation() *fiber.Invocation { return d.inv }

// Result returns the outcome once the driver is done.
func (d *Driver) Result() Result { return d.result }

// Turn performs at most one advance and hands control back to the loop.
// Invocation failures finish the driver without an error; only fatal
// host failures and contract violations are returned to the loop.
func (d *Driver) Turn(_ context.Context) (reactor.Status, error) {
	if d.state == Done {
		return reactor.Done, nil
	}
	if d.started.IsZero() {
		d.started = time.Now()
	}

	if d.cancel.Err() != nil {
		d.inv.Abandon()
		d.finish(OutcomeCanceled, nil, errors.Canceled(errors.PhaseDrive, context.Cause(d.cancel)))
		return reactor.Done, nil
	}

	d.state = Running
	before := d.inv.Fuel()
	p, err := d.inv.Advance()
	if err != nil {
		d.finish(OutcomeFailed, nil, err)
		return reactor.Done, err
	}
	for _, obs := range d.observers {
		obs.DriverAdvanced(d.name, p, d.inv.Fuel()-before)
	}

	switch p.Status {
	case fiber.StatusPending:
		d.state = Suspended
		// Only a source that wakes the loop may let it park. Poll-driven
		// sources resolve by being polled on a later turn.
		if h := d.inv.Outstanding(); h != nil && h.Notifies() {
			return reactor.Wait, nil
		}
		return reactor.Yield, nil
	case fiber.StatusCompleted:
		d.finish(OutcomeCompleted, p.Values, nil)
		return reactor.Done, nil
	default:
		d.finish(OutcomeFailed, nil, p.Err)
		if errors.IsFatal(p.Err) {
			return reactor.Done, p.Err
		}
		return reactor.Done, nil
	}
}

func (d *Driver) finish(o Outcome, values []any, err error) {
	d.state = Done
	d.result.Outcome = o
	d.result.Values = values
	d.result.Err = err
	d.result.Advances = d.inv.Advances()
	d.result.Fuel = d.inv.Fuel()
	d.result.Elapsed = time.Since(d.started)

	fields := []zap.Field{
		zap.String("outcome", o.String()),
		zap.Int("advances", d.result.Advances),
		zap.Uint64("fuel", d.result.Fuel),
		zap.Duration("elapsed", d.result.Elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	d.logger.Debug("driver finished", fields...)

	for _, obs := range d.observers {
		obs.DriverFinished(d.result)
	}
}

// Results collects the results of ds in order.
func Results(ds ...*Driver) []Result {
	out := make([]Result, len(ds))
	for i, d := range ds {
		out[i] = d.Result()
	}
	return out
}
