package cache

import (
	"context"

	"github.com/wippyai/enclave-rt/bridge"
	"github.com/wippyai/enclave-rt/gas"
	"github.com/wippyai/enclave-rt/types"
	"github.com/wippyai/enclave-rt/vm"
)

// Instance is a contract checked out of the cache for exactly one call.
// It is bound to that call's gas meter and bridges and is never shared;
// Recycle returns it after gas has been read.
type Instance struct {
	cache    *Cache
	checksum Checksum
	contract vm.Contract
	meter    *gas.Meter
	deps     bridge.Deps
	recycled bool
}

// Call runs one lifecycle entry of the instance's contract.
func (i *Instance) Call(ctx context.Context, entry vm.Entry, params, msg []byte) ([]byte, error) {
	return i.cache.exec.Call(ctx, entry, i.contract, i.deps, i.meter, params, msg)
}

// GasLimit returns the limit the instance was checked out with.
func (i *Instance) GasLimit() uint64 {
	return i.meter.Limit()
}

// GasRemaining returns the gas left on the instance's meter. Valid after
// the call, whether it succeeded or failed, so usage can always be
// reported.
func (i *Instance) GasRemaining() uint64 {
	return i.meter.Remaining()
}

// GasReport snapshots the instance's meter as a wire report. Valid after
// the call, whether it succeeded or failed.
func (i *Instance) GasReport() types.GasReport {
	return i.meter.Report()
}

// Recycle returns the instance to the cache. Must run after gas has been
// read and before the call's result is surfaced. Idempotent.
func (i *Instance) Recycle() {
	i.recycled = true
}
