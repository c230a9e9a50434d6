// Package engine wraps wazero with the compile, instantiate and lookup
// steps guest invocations are built on.
//
// Every module compiled by an Engine is first rewritten by package meter so
// that it reports executed work through the fiber.consume_fuel import. The
// engine instantiates that import once per runtime and forwards each charge
// to the FuelSink found in the call context:
//
//	eng, _ := engine.New(ctx, nil, bridge)
//	mod, _ := eng.Compile(ctx, wasmBytes)      // CompileError
//	inst, _ := mod.Instantiate(ctx)            // LinkError
//	fn, _ := inst.Lookup("fib")                // NotFound
//	fn.Call(engine.WithFuelSink(ctx, sink), 5)
//
// Host modules passed to New are instantiated before any guest module and
// decide which imports link. Instantiate reports every unresolved function
// import at once through errors.MissingImportsError.
package engine
