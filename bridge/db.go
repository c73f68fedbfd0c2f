package bridge

import (
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/gas"
)

// Order controls the direction of a range scan.
type Order int32

const (
	Ascending  Order = 1
	Descending Order = 2
)

// DBVtable holds the storage callbacks. Every slot receives the opaque
// state and the call's gas meter, and reports the gas the operation
// consumed on the caller's side; the bridge charges that figure to the
// meter, callbacks must not charge it themselves. Unset slots are legal
// at construction; invoking one is caught by the accessor methods below.
type DBVtable struct {
	Get    func(state any, meter *gas.Meter, key []byte) (value []byte, usedGas uint64, err error)
	Set    func(state any, meter *gas.Meter, key, value []byte) (usedGas uint64, err error)
	Delete func(state any, meter *gas.Meter, key []byte) (usedGas uint64, err error)
	Scan   func(state any, meter *gas.Meter, start, end []byte, order Order) (iter *Iter, usedGas uint64, err error)
}

// DB is the storage bridge bound to one contract call.
type DB struct {
	State  any
	Meter  *gas.Meter
	Vtable DBVtable
}

// Get reads a key through the caller's storage. A nil return value with
// nil error means the key is absent.
func (db DB) Get(key []byte) ([]byte, uint64, error) {
	if db.Vtable.Get == nil {
		return nil, 0, errors.VtableUnset("read_db")
	}
	value, used, err := db.Vtable.Get(db.State, db.Meter, key)
	if err := charge(db.Meter, used, "read_db", err); err != nil {
		return nil, used, err
	}
	return value, used, nil
}

// Set writes a key through the caller's storage.
func (db DB) Set(key, value []byte) (uint64, error) {
	if db.Vtable.Set == nil {
		return 0, errors.VtableUnset("write_db")
	}
	used, err := db.Vtable.Set(db.State, db.Meter, key, value)
	return used, charge(db.Meter, used, "write_db", err)
}

// Delete removes a key through the caller's storage.
func (db DB) Delete(key []byte) (uint64, error) {
	if db.Vtable.Delete == nil {
		return 0, errors.VtableUnset("remove_db")
	}
	used, err := db.Vtable.Delete(db.State, db.Meter, key)
	return used, charge(db.Meter, used, "remove_db", err)
}

// Scan opens a range scan over [start, end) in the given order and
// returns the iterator adapter for it.
func (db DB) Scan(start, end []byte, order Order) (*Iter, uint64, error) {
	if db.Vtable.Scan == nil {
		return nil, 0, errors.VtableUnset("scan_db")
	}
	iter, used, err := db.Vtable.Scan(db.State, db.Meter, start, end, order)
	if err := charge(db.Meter, used, "scan_db", err); err != nil {
		return nil, used, err
	}
	return iter, used, nil
}

// charge books the gas a callback reported against the call meter. The
// callback's own error wins; exhaustion is reported when the charge
// itself fails.
func charge(meter *gas.Meter, used uint64, descriptor string, opErr error) error {
	if meter != nil && used > 0 {
		if cerr := meter.Consume(used, descriptor); opErr == nil {
			return cerr
		}
	}
	return opErr
}
