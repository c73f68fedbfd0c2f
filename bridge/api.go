package bridge

import (
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/gas"
)

// APIVtable holds the address-translation callbacks.
type APIVtable struct {
	CanonicalAddress func(state any, meter *gas.Meter, human string) (canonical []byte, usedGas uint64, err error)
	HumanAddress     func(state any, meter *gas.Meter, canonical []byte) (human string, usedGas uint64, err error)
}

// API is the chain-API bridge bound to one contract call.
type API struct {
	State  any
	Meter  *gas.Meter
	Vtable APIVtable
}

// CanonicalAddress converts a human-readable address to its binary form.
func (a API) CanonicalAddress(human string) ([]byte, uint64, error) {
	if a.Vtable.CanonicalAddress == nil {
		return nil, 0, errors.VtableUnset("canonicalize_address")
	}
	canonical, used, err := a.Vtable.CanonicalAddress(a.State, a.Meter, human)
	if err := charge(a.Meter, used, "canonicalize_address", err); err != nil {
		return nil, used, err
	}
	return canonical, used, nil
}

// HumanAddress converts a canonical address back to its readable form.
func (a API) HumanAddress(canonical []byte) (string, uint64, error) {
	if a.Vtable.HumanAddress == nil {
		return "", 0, errors.VtableUnset("humanize_address")
	}
	human, used, err := a.Vtable.HumanAddress(a.State, a.Meter, canonical)
	if err := charge(a.Meter, used, "humanize_address", err); err != nil {
		return "", used, err
	}
	return human, used, nil
}
