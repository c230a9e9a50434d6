// Package future adapts scheduler-native asynchronous values into handles
// a suspended guest call can poll without blocking.
package future

import (
	"github.com/wippyai/wasm-fiber/errors"
)

// Source is a scheduler-native asynchronous value.
//
// Available reports whether the value has resolved, successfully or not.
// Failed reports whether it resolved with an error. Get returns the
// resolved value or error and is only meaningful once Available is true.
type Source interface {
	Available() bool
	Failed() bool
	Get() (uint64, error)
}

// Notifier is implemented by sources that call back when they resolve,
// such as the reactor's timer futures. A source without it only makes
// progress when polled.
type Notifier interface {
	Then(fn func())
}

// State of a poll.
type State uint8

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "not_ready"
}

// Result is the outcome of one Poll: NotReady, Ready(value) or Ready(err).
type Result struct {
	State State
	Value uint64
	Err   error
}

// IsReady reports whether the handle resolved.
func (r Result) IsReady() bool {
	return r.State == Ready
}

// Handle wraps one in-flight operation. Its result is extracted exactly once.
type Handle struct {
	src      Source
	consumed bool
	polls    int
}

// Adapt wraps src in a Handle.
func Adapt(src Source) *Handle {
	return &Handle{src: src}
}

// Poll checks the operation without blocking. Once it has returned Ready,
// further polls return Ready with an InvalidState error.
func (h *Handle) Poll() Result {
	if h.consumed {
		return Result{State: Ready, Err: errors.InvalidState(errors.PhasePoll, "poll after ready")}
	}
	h.polls++
	if !h.src.Available() {
		return Result{State: NotReady}
	}
	h.consumed = true
	v, err := h.src.Get()
	if h.src.Failed() && err == nil {
		err = errors.New(errors.PhasePoll, errors.KindHostFailure).Detail("operation failed without an error").Build()
	}
	if err != nil {
		return Result{State: Ready, Err: err}
	}
	return Result{State: Ready, Value: v}
}

// Polls returns how many times Poll inspected the source.
func (h *Handle) Polls() int {
	return h.polls
}

// Notifies reports whether the source announces its own resolution.
// A caller may stop polling a notifying handle until it is told to resume.
func (h *Handle) Notifies() bool {
	_, ok := h.src.(Notifier)
	return ok
}

// Consumed reports whether the result has been extracted.
func (h *Handle) Consumed() bool {
	return h.consumed
}

type value struct {
	v   uint64
	err error
}

func (c value) Available() bool { return true }
func (c value) Failed() bool { return c.err != nil }
func (c value) Get() (uint64, error) { return c.v, c.err }

// Resolved returns a Source that is already available with v.
func Resolved(v uint64) Source {
	return value{v: v}
}

// Rejected returns a Source that is already failed with err.
func Rejected(err error) Source {
	return value{err: err}
}

// Deferred becomes available after it has been polled n times while
// unavailable. It models an operation that completes on a later turn.
type Deferred struct {
	remaining int
	v         uint64
	err       error
}

// After returns a Deferred that reports unavailable n times, then resolves to v.
func After(n int, v uint64) *Deferred {
	return &Deferred{remaining: n, v: v}
}

// FailAfter returns a Deferred that reports unavailable n times, then fails.
func FailAfter(n int, err error) *Deferred {
	return &Deferred{remaining: n, err: err}
}

func (d *Deferred) Available() bool {
	if d.remaining > 0 {
		d.remaining--
		return false
	}
	return true
}

func (d *Deferred) Failed() bool { return d.err != nil }
func (d *Deferred) Get() (uint64, error) { return d.v, d.err }
