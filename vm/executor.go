package vm

import (
	"context"

	"github.com/wippyai/enclave-rt/bridge"
	"github.com/wippyai/enclave-rt/gas"
)

// Entry names a contract lifecycle entry point.
type Entry string

const (
	EntryInit    Entry = "init"
	EntryHandle  Entry = "handle"
	EntryMigrate Entry = "migrate"
	EntryQuery   Entry = "query"
)

// Contract is an opaque compiled artifact. Only the Executor that
// produced it can interpret it.
type Contract interface{}

// Executor runs compiled contracts. The boundary layer consumes it
// through this narrow contract; the production implementation is the
// wazero Engine, tests substitute doubles.
type Executor interface {
	// Compile validates and compiles a wasm blob into a reusable artifact.
	Compile(ctx context.Context, wasm []byte) (Contract, error)

	// Call runs one entry point of a compiled contract against the
	// supplied bridges and meter, returning the raw response bytes.
	// Query entries receive no params; pass nil.
	Call(ctx context.Context, entry Entry, contract Contract, deps bridge.Deps, meter *gas.Meter, params, msg []byte) ([]byte, error)

	// Close releases the executor. Compiled artifacts are invalid after.
	Close(ctx context.Context) error
}
