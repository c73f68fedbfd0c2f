// Package gas implements the per-call gas meter the boundary binds to a
// contract instance. The meter is owned by the caller of the entry
// point; callback bridges charge it for I/O they perform and the VM
// consults it to enforce the call's limit.
package gas

import (
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/types"
)

// Meter tracks gas consumption against a fixed limit for one call.
// Calls are synchronous and single-threaded per instance, so the meter
// does no locking of its own.
type Meter struct {
	limit    uint64
	consumed uint64
}

// NewMeter creates a meter with the given limit.
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Consume charges amount, returning an out-of-gas error once the limit
// is crossed. The descriptor names the operation for the error message.
// On exhaustion the meter saturates at the limit so the reported usage
// never exceeds it.
func (m *Meter) Consume(amount uint64, descriptor string) error {
	if amount > m.limit-m.consumed {
		m.consumed = m.limit
		return errors.OutOfGas(descriptor)
	}
	m.consumed += amount
	return nil
}

// Limit returns the call's gas limit.
func (m *Meter) Limit() uint64 {
	return m.limit
}

// Remaining returns the gas left under the limit.
func (m *Meter) Remaining() uint64 {
	return m.limit - m.consumed
}

// Consumed returns the gas charged so far.
func (m *Meter) Consumed() uint64 {
	return m.consumed
}

// Report summarizes the meter for the caller.
func (m *Meter) Report() types.GasReport {
	return types.GasReport{
		Limit:     m.limit,
		Remaining: m.Remaining(),
		Used:      m.consumed,
	}
}
