// Package errors provides structured error types for the script-host library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the resource handle involved, a detail
// message, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRun, errors.KindScript).
//		Detail("run %s", path).
//		Cause(luaErr).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseRegistry, "record", handle)
//	err := errors.Script("demo.lua", cause)
//
// Classify maps any error to its Kind, recognizing context cancellation and
// deadline errors anywhere in the chain:
//
//	switch errors.Classify(err) {
//	case errors.KindCanceled:
//		// cooperative shutdown, not a failure
//	}
//
// Note the scheduler core itself reports almost nothing through error values:
// broken invariants are panics and unknown handles are (value, bool) results.
// This package serves the host and CLI surfaces around the core.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
