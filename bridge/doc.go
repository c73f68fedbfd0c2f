// Package bridge defines the callback vtables the driving process
// supplies for a contract call, and the iterator adapter that turns its
// step-wise range-scan callback into a pull-based sequence.
//
// Each vtable is a struct of nullable function slots plus an opaque
// State value the callbacks receive back untouched. Callbacks report
// the gas their I/O consumed; the bridge accessors charge that figure
// to the call's meter immediately, so metering stays consistent however
// the callback side is implemented. A nil slot that a call needs is a
// reportable configuration error, never an unchecked invocation.
package bridge
