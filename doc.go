// Package wasmfiber runs fuel-bounded guest WebAssembly invocations as
// cooperative tasks on single-threaded event loops.
//
// A guest function never blocks its loop. It runs for at most one fuel
// quota per scheduling turn, and a call into an asynchronous host capability
// such as host.sleep suspends the guest at the call site until the loop
// resolves the operation. The next turn resumes the guest exactly where it
// stopped.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmfiber/
//	├── wat/        Text format front end for core modules
//	├── meter/      Fuel instrumentation of guest binaries
//	├── engine/     wazero integration: compile, instantiate, lookup, fuel import
//	├── fiber/      Resumable guest invocations bounded by a fuel quota
//	├── future/     Pollable handles for in-flight host operations
//	├── hostcall/   The host module: sleep, sleep_ms, yield and custom capabilities
//	├── reactor/    Single-threaded event loop with timers and sharding
//	├── driver/     Cooperative driver advancing one invocation per turn
//	├── metrics/    Prometheus collectors for drivers and host operations
//	├── config/     File, environment and flag configuration
//	├── sample/     Sample guest workloads built in Go
//	├── errors/     Structured error types for debugging
//	└── cmd/fiber/  Command line: run, bench, watch
//
// # Quick Start
//
// Drive a guest that sleeps on the host and then returns 42:
//
//	loop := reactor.New()
//	bridge := hostcall.New(hostcall.WithScheduler(loop))
//	eng, err := engine.New(ctx, nil, bridge)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	mod, _ := eng.Compile(ctx, sample.SleepThenAnswer())
//	inst, _ := mod.Instantiate(ctx)
//	inv, err := fiber.Invoke(ctx, inst, "run", nil, fiber.WithQuota(10_000))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d := driver.New("sleep", inv, ctx)
//	loop.Spawn(d.Name(), d)
//	if err := loop.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(d.Result().Values) // [42]
//
// # Thread Safety
//
// Engine and Bridge are safe for concurrent use. An Invocation, its Driver
// and the Loop running it belong to one goroutine. Several loops may share
// an engine and a bridge; each invocation finds its loop through
// hostcall.WithSchedulerContext.
package wasmfiber
