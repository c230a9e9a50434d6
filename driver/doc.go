// Package driver runs a fiber.Invocation as a reactor task.
//
// A Driver starts Running, moves to Suspended whenever an advance returns
// Pending and to Done on completion, failure or cancellation. Every turn
// performs at most one advance, so a hot guest never takes two quanta in a
// row while other tasks are runnable. The cancellation signal is a context
// given to New; it is checked before each advance, and a canceled driver
// abandons its invocation without advancing it again.
package driver
