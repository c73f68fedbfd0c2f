package bridge

import (
	"fmt"

	"github.com/wippyai/enclave-rt/errors"
)

// Result is the raw integer return code of a callback. Callbacks live on
// the far side of the boundary, so the code is not trusted to be a valid
// enum value: conversion to an error happens through Err, and unknown
// codes degrade to a generic failure instead of being interpreted.
type Result int32

const (
	ResultOk          Result = 0
	ResultPanic       Result = 1
	ResultBadArgument Result = 2
	ResultOutOfGas    Result = 3
	ResultOther       Result = -1
)

// Err converts the raw code into a structured error, nil for ResultOk.
func (r Result) Err() error {
	switch r {
	case ResultOk:
		return nil
	case ResultPanic:
		return errors.Panic("panic in callback")
	case ResultBadArgument:
		return errors.InvalidInput(errors.PhaseCall, "bad argument passed to callback")
	case ResultOutOfGas:
		return errors.OutOfGas("callback")
	default:
		return errors.InvalidInput(errors.PhaseCall, fmt.Sprintf("callback failed with code %d", int32(r)))
	}
}
