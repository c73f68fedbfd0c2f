// Package errors provides the structured error taxonomy for the boundary
// layer.
//
// Every failure that can cross the boundary is one of a small set of
// kinds: a missing or malformed argument, a stale handle, a typed VM
// failure, an iterator protocol violation, or a recovered panic. Errors
// carry a Phase (where) and a Kind (what) so callers and tests can match
// on category with errors.Is while the rendered message stays stable for
// the caller-visible error buffer.
package errors
