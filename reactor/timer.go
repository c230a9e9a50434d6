package reactor

import (
	"container/heap"
	"time"

	"github.com/wippyai/wasm-fiber/future"
)

type timer struct {
	when time.Time
	seq  uint64
	fn   func()
}

// timerHeap orders timers by deadline, then by scheduling order.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// Schedule runs fn on the loop once d has elapsed.
func (l *Loop) Schedule(d time.Duration, fn func()) {
	l.seq++
	heap.Push(&l.timers, &timer{when: l.now().Add(d), seq: l.seq, fn: fn})
}

// Sleep returns a future that resolves once d has elapsed.
func (l *Loop) Sleep(d time.Duration) *Future {
	f := &Future{}
	l.Schedule(d, func() { f.resolve(0, nil) })
	return f
}

// After is Sleep as a future.Source, for host capabilities.
func (l *Loop) After(d time.Duration) future.Source {
	return l.Sleep(d)
}

// Timers returns the number of pending timers.
func (l *Loop) Timers() int { return len(l.timers) }
