// Package transform defines the per-line transform contract and the worker
// body that applies a transform to one chunk file.
//
// A [Func] receives one line including its terminator and returns the text to
// write for it. [ApplyFile] streams a chunk file through a Func into a result
// file, checking for cancellation between lines.
//
// # Registry
//
// Transforms that must run in isolated worker processes are looked up by
// name, because a Go func value cannot be sent to another process:
//
//	transform.Register("upper", upperFunc)
//	fn, err := transform.Lookup("repeat:10")
//
// Built-ins: identity, upper, lower, trim-space, reverse, repeat:N and
// fail-on:TEXT.
package transform
