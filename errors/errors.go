package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in a boundary call the error occurred
type Phase string

const (
	PhaseValidate Phase = "validate" // argument decoding and checks
	PhaseCache    Phase = "cache"    // code cache operations
	PhaseCall     Phase = "call"     // contract execution
	PhaseIterator Phase = "iterator" // range-scan callback protocol
	PhaseEnclave  Phase = "enclave"  // key/seed/attestation operations
)

// Kind categorizes the error
type Kind string

const (
	KindEmptyArg     Kind = "empty_arg"
	KindInvalidUTF8  Kind = "invalid_utf8"
	KindChecksumLen  Kind = "checksum_length"
	KindStaleHandle  Kind = "stale_handle"
	KindDoubleFree   Kind = "double_free"
	KindVM           Kind = "vm"
	KindOutOfGas     Kind = "out_of_gas"
	KindVtableUnset  Kind = "vtable_unset"
	KindBadIterator  Kind = "bad_iterator"
	KindPanic        Kind = "panic"
	KindInvalidInput Kind = "invalid_input"
	KindEnclave      Kind = "enclave"
)

// Error is the structured error type used throughout the boundary layer.
// Its message is what ends up in the caller-visible error buffer.
type Error struct {
	Phase  Phase
	Kind   Kind
	Arg    string // named argument for empty_arg / checksum errors
	Detail string
	Cause  error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Arg != "" {
		b.WriteString(": ")
		b.WriteString(e.Arg)
	}

	if e.Detail != "" {
		if e.Arg != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Convenience constructors for the boundary error taxonomy

// EmptyArg reports a required Buffer argument that was absent.
// The argument name is part of the boundary contract.
func EmptyArg(name string) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindEmptyArg,
		Arg:    name,
		Detail: "required argument is empty",
	}
}

// InvalidUTF8 reports a text argument that failed UTF-8 validation.
func InvalidUTF8(name string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindInvalidUTF8,
		Arg:    name,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// ChecksumLength reports a checksum argument of the wrong byte length.
func ChecksumLength(name string, got, want int) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindChecksumLen,
		Arg:    name,
		Detail: fmt.Sprintf("expected %d bytes, got %d", want, got),
	}
}

// StaleHandle reports a cache handle that was already released or was
// never issued by this process.
func StaleHandle() *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindStaleHandle,
		Detail: "cache handle was released or is unknown",
	}
}

// DoubleFree reports a second free of a runtime-owned buffer.
func DoubleFree() *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindDoubleFree,
		Detail: "buffer was already freed",
	}
}

// VMErr wraps a typed failure from the contract VM, keeping its message.
func VMErr(cause error) *Error {
	return &Error{
		Phase: PhaseCall,
		Kind:  KindVM,
		Cause: cause,
	}
}

// VMErrf builds a VM failure from a message.
func VMErrf(format string, args ...any) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindVM,
		Detail: fmt.Sprintf(format, args...),
	}
}

// OutOfGas reports gas exhaustion during a call.
func OutOfGas(descriptor string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindOutOfGas,
		Detail: fmt.Sprintf("out of gas: %s", descriptor),
	}
}

// VtableUnset reports a required callback slot that was nil.
func VtableUnset(slot string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindVtableUnset,
		Arg:    slot,
		Detail: "callback not set",
	}
}

// IteratorUnset reports a range scan whose vtable has no next callback
// bound. Raised on the first Next, never at construction.
func IteratorUnset() *Error {
	return &Error{
		Phase:  PhaseIterator,
		Kind:   KindVtableUnset,
		Detail: "iterator vtable not set",
	}
}

// IteratorFailed annotates a failed iterator step with the fixed
// context message the consumer expects.
func IteratorFailed(cause error) *Error {
	return &Error{
		Phase:  PhaseIterator,
		Kind:   KindBadIterator,
		Detail: "failed to fetch next item from iterator",
		Cause:  cause,
	}
}

// IteratorMissingValue reports a step that produced a key without a value.
func IteratorMissingValue() *Error {
	return &Error{
		Phase:  PhaseIterator,
		Kind:   KindBadIterator,
		Detail: "failed to read value for next key",
	}
}

// Panic wraps a recovered native fault at a boundary entry point.
func Panic(recovered any) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindPanic,
		Detail: fmt.Sprintf("caught panic: %v", recovered),
	}
}

// Enclave wraps a failure from an enclave collaborator.
func Enclave(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseEnclave,
		Kind:   KindEnclave,
		Detail: op,
		Cause:  cause,
	}
}

// InvalidInput reports malformed non-buffer input.
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap attaches phase/kind context to an existing error.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
