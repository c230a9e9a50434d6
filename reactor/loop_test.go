package reactor

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/wasm-fiber/errors"
)

// counter yields n times, then finishes.
func counter(n int, turns *[]string, name string) Task {
	left := n
	return TaskFunc(func(context.Context) (Status, error) {
		*turns = append(*turns, name)
		left--
		if left <= 0 {
			return Done, nil
		}
		return Yield, nil
	})
}

func TestRoundRobin(t *testing.T) {
	var turns []string
	l := New()
	l.Spawn("a", counter(3, &turns, "a"))
	l.Spawn("b", counter(1, &turns, "b"))
	l.Spawn("c", counter(2, &turns, "c"))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"a", "b", "c", "a", "c", "a"}
	if len(turns) != len(want) {
		t.Fatalf("turns = %v, want %v", turns, want)
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Fatalf("turns = %v, want %v", turns, want)
		}
	}
	if l.Turns() != uint64(len(want)) {
		t.Errorf("Turns() = %d", l.Turns())
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d after Run", l.Len())
	}
}

func TestRunEmpty(t *testing.T) {
	if err := New().Run(context.Background()); err != nil {
		t.Errorf("Run on empty loop: %v", err)
	}
}

func TestSleepParksLoop(t *testing.T) {
	l := New()
	var f *Future
	polls := 0
	start := time.Now()
	l.Spawn("sleeper", TaskFunc(func(context.Context) (Status, error) {
		polls++
		if f == nil {
			f = l.Sleep(30 * time.Millisecond)
		}
		if f.Available() {
			return Done, nil
		}
		return Wait, nil
	}))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("finished after %s, before the timer", elapsed)
	}
	// parked instead of spinning
	if polls > 5 {
		t.Errorf("task polled %d times while waiting", polls)
	}
}

func TestTimerFiredDuringPassIsNotMissed(t *testing.T) {
	l := New()
	start := time.Now()
	var (
		short *Future
		woke  time.Duration
	)
	l.Spawn("short", TaskFunc(func(context.Context) (Status, error) {
		if short == nil {
			short = l.Sleep(5 * time.Millisecond)
		}
		if short.Available() {
			woke = time.Since(start)
			return Done, nil
		}
		return Wait, nil
	}))

	// waiter sleeps long; slow also burns its first turn past the short timer.
	waiter := func(slow bool) Task {
		var f *Future
		return TaskFunc(func(context.Context) (Status, error) {
			if woke > 0 {
				return Done, nil
			}
			if f == nil {
				if slow {
					time.Sleep(20 * time.Millisecond)
				}
				f = l.Sleep(time.Second)
			}
			return Wait, nil
		})
	}
	l.Spawn("slow", waiter(true))
	l.Spawn("idle", waiter(false))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if woke == 0 || woke > 500*time.Millisecond {
		t.Errorf("5ms sleeper observed completion after %s", woke)
	}
}

func TestTimersFireInOrder(t *testing.T) {
	l := New()
	var order []int
	l.Schedule(20*time.Millisecond, func() { order = append(order, 3) })
	l.Schedule(0, func() { order = append(order, 1) })
	l.Schedule(0, func() { order = append(order, 2) })
	if l.Timers() != 3 {
		t.Fatalf("Timers() = %d", l.Timers())
	}

	deadline := l.Sleep(40 * time.Millisecond)
	l.Spawn("wait", TaskFunc(func(context.Context) (Status, error) {
		if deadline.Available() {
			return Done, nil
		}
		return Wait, nil
	}))
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v", order)
	}
}

func TestSleeperNotStarvedByBusyTask(t *testing.T) {
	l := New()
	const delay = 20 * time.Millisecond
	var f *Future
	var woke time.Duration
	start := time.Now()

	busy := TaskFunc(func(context.Context) (Status, error) {
		if woke > 0 {
			return Done, nil
		}
		time.Sleep(time.Millisecond)
		return Yield, nil
	})
	sleeper := TaskFunc(func(context.Context) (Status, error) {
		if f == nil {
			f = l.Sleep(delay)
		}
		if f.Available() {
			woke = time.Since(start)
			return Done, nil
		}
		return Wait, nil
	})
	l.Spawn("busy", busy)
	l.Spawn("sleeper", sleeper)

	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if woke < delay || woke > delay+50*time.Millisecond {
		t.Errorf("sleeper woke after %s, want about %s", woke, delay)
	}
}

func TestTaskErrorStopsLoop(t *testing.T) {
	boom := stderrors.New("boom")
	l := New()
	other := 0
	l.Spawn("ok", TaskFunc(func(context.Context) (Status, error) {
		other++
		return Yield, nil
	}))
	l.Spawn("bad", TaskFunc(func(context.Context) (Status, error) {
		return Done, boom
	}))

	if err := l.Run(context.Background()); !stderrors.Is(err, boom) {
		t.Fatalf("Run = %v, want %v", err, boom)
	}
	if other != 1 {
		t.Errorf("sibling ran %d turns", other)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New()
	l.Spawn("forever", TaskFunc(func(context.Context) (Status, error) {
		return Wait, nil
	}))
	time.AfterFunc(10*time.Millisecond, cancel)

	err := l.Run(ctx)
	if !errors.Is(err, errors.ErrCanceled) {
		t.Fatalf("Run = %v, want canceled", err)
	}
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("Run = %v does not wrap context.Canceled", err)
	}
}

func TestRunTwice(t *testing.T) {
	l := New()
	release := make(chan struct{})
	l.Spawn("block", TaskFunc(func(context.Context) (Status, error) {
		select {
		case <-release:
			return Done, nil
		default:
			return Wait, nil
		}
	}))
	errc := make(chan error, 1)
	go func() { errc <- l.Run(context.Background()) }()

	for !l.running.Load() {
		time.Sleep(time.Millisecond)
	}
	if err := l.Run(context.Background()); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("second Run = %v, want invalid state", err)
	}
	close(release)
	l.Submit(func() {})
	if err := <-errc; err != nil {
		t.Errorf("first Run = %v", err)
	}
}

func TestSubmitWakesLoop(t *testing.T) {
	l := New()
	var got atomic.Int32
	l.Spawn("wait", TaskFunc(func(context.Context) (Status, error) {
		if got.Load() == 7 {
			return Done, nil
		}
		return Wait, nil
	}))
	time.AfterFunc(10*time.Millisecond, func() {
		l.Submit(func() { got.Store(7) })
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not wake the loop")
	}
}

func TestGo(t *testing.T) {
	l := New()
	boom := stderrors.New("boom")
	ok := l.Go(context.Background(), func(context.Context) (uint64, error) { return 11, nil })
	bad := l.Go(context.Background(), func(context.Context) (uint64, error) { return 0, boom })
	panicky := l.Go(context.Background(), func(context.Context) (uint64, error) { panic("nope") })

	thenRan := false
	ok.Then(func() { thenRan = true })

	l.Spawn("join", TaskFunc(func(context.Context) (Status, error) {
		if ok.Available() && bad.Available() && panicky.Available() {
			return Done, nil
		}
		return Wait, nil
	}))
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if v, err := ok.Get(); v != 11 || err != nil || ok.Failed() {
		t.Errorf("ok = %d, %v", v, err)
	}
	if _, err := bad.Get(); !bad.Failed() || !stderrors.Is(err, boom) {
		t.Errorf("bad = %v", err)
	}
	if !panicky.Failed() {
		t.Error("panicking function did not fail its future")
	}
	if !thenRan {
		t.Error("Then callback did not run")
	}
}

func TestSpawnDuringRun(t *testing.T) {
	l := New()
	var turns []string
	l.Spawn("parent", TaskFunc(func(context.Context) (Status, error) {
		turns = append(turns, "parent")
		l.Spawn("child", counter(2, &turns, "child"))
		return Done, nil
	}))
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 || turns[0] != "parent" || turns[1] != "child" || turns[2] != "child" {
		t.Errorf("turns = %v", turns)
	}
}

func TestRunShards(t *testing.T) {
	var total atomic.Int64
	loops := make([]*Loop, 3)
	for i := range loops {
		l := New(WithName("shard"))
		for j := 0; j < 4; j++ {
			n := 5
			l.Spawn("task", TaskFunc(func(context.Context) (Status, error) {
				total.Add(1)
				n--
				if n == 0 {
					return Done, nil
				}
				return Yield, nil
			}))
		}
		loops[i] = l
	}
	if err := RunShards(context.Background(), loops...); err != nil {
		t.Fatal(err)
	}
	if total.Load() != 3*4*5 {
		t.Errorf("turns = %d", total.Load())
	}
}

func TestRunShardsFailure(t *testing.T) {
	boom := stderrors.New("boom")
	failing := New(WithName("bad"))
	failing.Spawn("bad", TaskFunc(func(context.Context) (Status, error) { return Done, boom }))
	forever := New(WithName("good"))
	forever.Spawn("spin", TaskFunc(func(context.Context) (Status, error) { return Wait, nil }))

	err := RunShards(context.Background(), failing, forever)
	if !stderrors.Is(err, boom) {
		t.Errorf("RunShards = %v, want %v", err, boom)
	}
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{Yield: "yield", Wait: "wait", Done: "done", Status(7): "status(7)"} {
		if s.String() != want {
			t.Errorf("String() = %q, want %q", s.String(), want)
		}
	}
}
