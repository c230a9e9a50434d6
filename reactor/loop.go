package reactor

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-fiber/engine"
	"github.com/wippyai/wasm-fiber/errors"
)

// ErrLoopRunning is returned when Run is called on a loop that is already running.
var ErrLoopRunning = errors.InvalidState(errors.PhaseLoop, "loop is already running")

// Status is what a task reports after one turn.
type Status uint8

const (
	// Yield means the task has more work and wants another turn.
	Yield Status = iota
	// Wait means the task only waits on a timer or a submitted event.
	// It still gets a turn every pass.
	Wait
	// Done removes the task from the loop.
	Done
)

func (s Status) String() string {
	switch s {
	case Yield:
		return "yield"
	case Wait:
		return "wait"
	case Done:
		return "done"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Task is a unit of cooperative work. Turn runs one bounded step on the
// loop goroutine and must not block. A non-nil error is fatal to the loop.
type Task interface {
	Turn(ctx context.Context) (Status, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) (Status, error)

func (f TaskFunc) Turn(ctx context.Context) (Status, error) { return f(ctx) }

type entry struct {
	name string
	task Task
	done bool
}

// Loop is a single-goroutine cooperative scheduler. Tasks take turns in
// FIFO order, timers fire between turns, and functions submitted from
// other goroutines run on the loop.
//
// Spawn, Sleep and After must be called from the loop goroutine (inside a
// task turn, a timer or a submitted function) or before Run. Submit is
// safe from any goroutine.
type Loop struct {
	name   string
	logger *zap.Logger
	now    func() time.Time

	tasks  []*entry
	timers timerHeap
	seq    uint64
	turns  uint64

	ingressMu sync.Mutex
	ingress   []func()
	wake      chan struct{}
	running   atomic.Bool
}

// Option configures a Loop.
type Option func(*Loop)

func WithName(name string) Option {
	return func(l *Loop) { l.name = name }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates an idle loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		name:   "loop",
		logger: engine.Logger(),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("reactor").With(zap.String("loop", l.name))
	return l
}

func (l *Loop) Name() string { return l.name }

// Spawn adds a task. It gets its first turn in the next pass.
func (l *Loop) Spawn(name string, t Task) {
	l.tasks = append(l.tasks, &entry{name: name, task: t})
}

// Len returns the number of tasks that are not done.
func (l *Loop) Len() int {
	n := 0
	for _, e := range l.tasks {
		if !e.done {
			n++
		}
	}
	return n
}

// Turns returns how many task turns the loop has run.
func (l *Loop) Turns() uint64 { return l.turns }

// Submit queues fn to run on the loop goroutine and wakes an idle loop.
func (l *Loop) Submit(fn func()) {
	l.ingressMu.Lock()
	l.ingress = append(l.ingress, fn)
	l.ingressMu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the tasks until all of them are done, a task returns an
// error, or ctx is done. Pending timers are dropped when Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	l.logger.Debug("loop started", zap.Int("tasks", len(l.tasks)))
	for {
		if err := ctx.Err(); err != nil {
			return errors.Canceled(errors.PhaseLoop, context.Cause(ctx))
		}
		l.runIngress()
		l.runTimers()

		waiting, fired, err := l.pass(ctx)
		if err != nil {
			return err
		}
		l.compact()
		if len(l.tasks) == 0 {
			l.logger.Debug("loop finished", zap.Uint64("turns", l.turns))
			return nil
		}
		// Tasks spawned during the pass have not run yet, and a timer that
		// fired mid-pass may have resolved a task that already reported Wait.
		if waiting == len(l.tasks) && !fired {
			if err := l.park(ctx); err != nil {
				return err
			}
		}
	}
}

// pass gives every live task one turn and counts the tasks that
// reported Wait. fired reports whether a timer ran between turns.
func (l *Loop) pass(ctx context.Context) (waiting int, fired bool, err error) {
	n := len(l.tasks)
	for i := 0; i < n; i++ {
		e := l.tasks[i]
		if e.done {
			continue
		}
		if l.runTimers() {
			fired = true
		}

		st, err := e.task.Turn(ctx)
		l.turns++
		if err != nil {
			e.done = true
			l.logger.Error("task failed", zap.String("task", e.name), zap.Error(err))
			return waiting, fired, err
		}
		switch st {
		case Done:
			e.done = true
		case Wait:
			waiting++
		}
	}
	return waiting, fired, nil
}

func (l *Loop) compact() {
	live := l.tasks[:0]
	for _, e := range l.tasks {
		if !e.done {
			live = append(live, e)
		}
	}
	for i := len(live); i < len(l.tasks); i++ {
		l.tasks[i] = nil
	}
	l.tasks = live
}

// park blocks until the next timer is due, a function is submitted, or
// ctx is done.
func (l *Loop) park(ctx context.Context) error {
	var timeout <-chan time.Time
	if len(l.timers) > 0 {
		d := l.timers[0].when.Sub(l.now())
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ctx.Done():
		return errors.Canceled(errors.PhaseLoop, context.Cause(ctx))
	case <-l.wake:
	case <-timeout:
	}
	return nil
}

func (l *Loop) runIngress() {
	l.ingressMu.Lock()
	batch := l.ingress
	l.ingress = nil
	l.ingressMu.Unlock()

	for _, fn := range batch {
		fn()
	}
}

// runTimers fires every due timer and reports whether any ran.
func (l *Loop) runTimers() bool {
	if len(l.timers) == 0 {
		return false
	}
	now := l.now()
	ran := false
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := heap.Pop(&l.timers).(*timer)
		t.fn()
		ran = true
	}
	return ran
}
