// Package reactor is a single-goroutine cooperative event loop.
//
// A Loop owns a FIFO list of Tasks, a timer heap and a thread-safe ingress
// queue. Each pass gives every live task one Turn; timers fire between
// turns. When every live task reported Wait, the loop parks until the
// next timer, a Submit, or context cancellation:
//
//	loop := reactor.New(reactor.WithName("shard-0"))
//	loop.Spawn("sleeper", reactor.TaskFunc(func(ctx context.Context) (reactor.Status, error) {
//		...
//	}))
//	err := loop.Run(ctx)
//
// Run returns nil once all tasks are done, or the first error a task
// returned. RunShards runs several loops side by side on locked OS
// threads.
package reactor
