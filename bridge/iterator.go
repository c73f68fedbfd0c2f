package bridge

import (
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/gas"
	"github.com/wippyai/enclave-rt/types"
)

// IteratorVtable holds the single step callback of a range scan. The
// callback fills three output slots (gas used, key, value) and returns a
// raw Result code; the code is converted, not trusted.
type IteratorVtable struct {
	Next func(state any, meter *gas.Meter, usedGas *uint64, key, value *types.Buffer) int32
}

// IteratorItem is one (key, value) pair plus the gas the step consumed
// on the caller's side. The adapter has already charged that figure to
// the call meter when the item is returned; it is surfaced per step,
// never batched, so consumers can attribute usage.
type IteratorItem struct {
	Key     []byte
	Value   []byte
	UsedGas uint64
}

// Iter adapts the step callback into a pull-based sequence. Constructing
// an Iter never fails, even with an unset vtable; the first Next reports
// that instead.
//
// After a failed step the sequence is not resumable: every later Next
// returns the same terminal error.
type Iter struct {
	Meter  *gas.Meter
	State  any
	Vtable IteratorVtable

	err error // sticky terminal error
}

// NewIter builds an adapter over the caller's scan state.
func NewIter(state any, meter *gas.Meter, vtable IteratorVtable) *Iter {
	return &Iter{Meter: meter, State: state, Vtable: vtable}
}

// Next advances the scan. It returns (nil, nil) when the sequence is
// naturally exhausted, signalled by the callback leaving the key slot
// empty. A present key with an absent value is a protocol violation and
// yields a terminal error.
func (it *Iter) Next() (*IteratorItem, error) {
	if it.err != nil {
		return nil, it.err
	}

	next := it.Vtable.Next
	if next == nil {
		it.err = errors.IteratorUnset()
		return nil, it.err
	}

	var (
		usedGas uint64
		keyBuf  types.Buffer
		valBuf  types.Buffer
	)
	code := Result(next(it.State, it.Meter, &usedGas, &keyBuf, &valBuf))

	// the step did its work whatever the code says; book its gas first
	if usedGas > 0 && it.Meter != nil {
		if err := it.Meter.Consume(usedGas, "iterator step"); err != nil {
			it.err = err
			return nil, it.err
		}
	}

	if err := code.Err(); err != nil {
		it.err = errors.IteratorFailed(err)
		return nil, it.err
	}

	key, ok := keyBuf.Read()
	if !ok {
		// empty key slot is the natural end of the sequence
		return nil, nil
	}
	value, ok := valBuf.Read()
	if !ok {
		it.err = errors.IteratorMissingValue()
		return nil, it.err
	}

	return &IteratorItem{Key: key, Value: value, UsedGas: usedGas}, nil
}
