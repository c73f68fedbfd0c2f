package types

import (
	"github.com/wippyai/enclave-rt/errors"
)

// Ownership tags who is responsible for a Buffer's backing bytes.
type Ownership uint8

const (
	// OwnershipNone marks the empty/null sentinel. Reading it yields
	// "no data"; freeing it is a no-op.
	OwnershipNone Ownership = iota
	// BorrowedByCaller marks bytes owned by the driving process. The
	// runtime reads them for the duration of a call and never frees them.
	BorrowedByCaller
	// OwnedByRuntime marks bytes allocated on this side. Ownership
	// transfers to the caller, who must release them exactly once via
	// FreeBuffer.
	OwnedByRuntime
	// released is the post-free state of a runtime-owned buffer; a
	// second free is detected against it.
	released
)

// Buffer is the byte-range descriptor that crosses the boundary in both
// directions. The zero value is the empty/null sentinel.
//
// A Buffer is passed by value; the ownership tag travels with it so that
// every call site knows whether the bytes may be freed.
type Buffer struct {
	data []byte
	mode Ownership
}

// NewBuffer wraps data in a runtime-owned Buffer. The caller of the
// boundary operation that returned it must release it exactly once with
// FreeBuffer. A nil slice yields the empty sentinel.
func NewBuffer(data []byte) Buffer {
	if data == nil {
		return Buffer{}
	}
	return Buffer{data: data, mode: OwnedByRuntime}
}

// BorrowedBuffer wraps caller memory. The runtime never frees it and the
// view is only valid for the duration of the current call.
func BorrowedBuffer(data []byte) Buffer {
	if data == nil {
		return Buffer{}
	}
	return Buffer{data: data, mode: BorrowedByCaller}
}

// Read borrows the buffer's bytes without taking ownership. The second
// return is false for the empty sentinel, distinguishing "no data" from
// a present-but-zero-length payload.
func (b Buffer) Read() ([]byte, bool) {
	if b.mode == OwnershipNone || b.mode == released {
		return nil, false
	}
	return b.data, true
}

// IsEmpty reports whether b is the empty/null sentinel.
func (b Buffer) IsEmpty() bool {
	_, ok := b.Read()
	return !ok
}

// Ownership returns the buffer's ownership tag.
func (b Buffer) Ownership() Ownership {
	if b.mode == released {
		return OwnershipNone
	}
	return b.mode
}

// Free releases a runtime-owned buffer. On a sentinel or a borrowed
// buffer it is a no-op. A second free of the same buffer is a caller
// error, detected and reported instead of faulting.
func (b *Buffer) Free() error {
	if b == nil {
		return nil
	}
	switch b.mode {
	case released:
		return errors.DoubleFree()
	case OwnedByRuntime:
		b.data = nil
		b.mode = released
		return nil
	default:
		return nil
	}
}
