// Package fiber runs a guest function call as a resumable unit of work.
//
// An Invocation executes its guest call on a coroutine (iter.Pull). The
// guest runs only inside Advance; when the fuel quantum is overdrawn, or a
// host function waits on an unresolved operation, the coroutine parks and
// Advance returns a Pending progress. The next Advance resumes it exactly
// where it stopped, including inside a host call:
//
//	inv, err := fiber.Invoke(ctx, inst, "fib", []any{int32(25)}, fiber.WithQuota(10_000))
//	for {
//		p, err := inv.Advance()
//		if err != nil || p.Terminal() {
//			break
//		}
//		// yield to the scheduler
//	}
//
// Fuel is charged by the instrumentation inserted at compile time (see
// package meter). A quota of Unlimited runs the call to completion in a
// single Advance.
//
// Host functions find the running Invocation with GetInvocation and use
// Suspend, Hold, Release and Fail to wait on host operations. Package
// hostcall builds on these.
package fiber
