// Package hostcall bridges guest imports to asynchronous host operations.
//
// A Bridge is an engine.HostModule. Each registered capability becomes a
// guest import under the "host" namespace. When the guest calls one, the
// bridge starts the operation once, stores its handle on the running
// fiber.Invocation and suspends the invocation until the handle resolves.
// The following Advance resumes the guest inside the same host call, which
// polls again and either returns the result to the guest or fails the
// invocation according to the FaultPolicy.
//
// Built-in capabilities:
//
//	sleep    : () -> ()     delay for the configured duration (1s by default)
//	sleep_ms : (i32) -> ()  delay for the given milliseconds
//	yield    : () -> ()     suspend exactly once
//
// Delays are started on the Scheduler attached to the invocation context
// with WithSchedulerContext, or on the bridge's default scheduler.
package hostcall
