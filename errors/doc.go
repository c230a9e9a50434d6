// Package errors provides structured error types for wasm-fiber.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the guest function or host capability involved and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAdvance, errors.KindTrap).
//		Function("fib").
//		Detail("unreachable").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseInvoke, "export", "fib")
//	err := errors.HostFailure("sleep", cause)
//
// The Err* sentinels carry only a Kind and match any error of that kind:
//
//	if errors.Is(err, errors.ErrTrap) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
