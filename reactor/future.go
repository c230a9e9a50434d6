package reactor

import (
	"context"
	"fmt"
)

// Future is a value resolved on the loop goroutine. It implements
// future.Source.
type Future struct {
	done      bool
	value     uint64
	err       error
	callbacks []func()
}

func (f *Future) resolve(v uint64, err error) {
	if f.done {
		return
	}
	f.done = true
	f.value = v
	f.err = err
	for _, cb := range f.callbacks {
		cb()
	}
	f.callbacks = nil
}

func (f *Future) Available() bool      { return f.done }
func (f *Future) Failed() bool         { return f.done && f.err != nil }
func (f *Future) Get() (uint64, error) { return f.value, f.err }

// Then runs fn on the loop once the future resolves, or immediately if it
// already has.
func (f *Future) Then(fn func()) {
	if f.done {
		fn()
		return
	}
	f.callbacks = append(f.callbacks, fn)
}

// Go runs fn on its own goroutine and resolves the returned future on the
// loop with its result. A panic in fn fails the future.
func (l *Loop) Go(ctx context.Context, fn func(ctx context.Context) (uint64, error)) *Future {
	f := &Future{}
	go func() {
		var (
			v   uint64
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("reactor: background function panicked: %v", r)
				}
			}()
			v, err = fn(ctx)
		}()
		l.Submit(func() { f.resolve(v, err) })
	}()
	return f
}
