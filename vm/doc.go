// Package vm executes compiled contracts on wazero.
//
// The boundary layer treats execution as an external collaborator behind
// the Executor interface: it compiles wasm into opaque artifacts and
// runs one lifecycle entry per call, with storage, chain-API, and query
// access flowing back out through the bridges bound to that call.
//
// # Guest ABI
//
// Contracts are core wasm modules exporting a linear memory, an
// allocator, and their lifecycle entries:
//
//	allocate(size: i32) -> i32            returns a Region pointer
//	init(params: i32, msg: i32) -> i32    Region pointers in, Region out
//	handle(params: i32, msg: i32) -> i32
//	migrate(params: i32, msg: i32) -> i32
//	query(msg: i32) -> i32
//
// A Region is 12 bytes of little-endian u32s: offset, capacity, length.
// The host writes inputs through allocate and reads the returned Region
// for the response.
//
// Imports are provided under the "env" module:
//
//	db_read(key: i32) -> i32              0 when the key is absent
//	db_write(key: i32, value: i32)
//	db_remove(key: i32)
//	db_scan(start: i32, end: i32, order: i32) -> i32   iterator id
//	db_next(iterator_id: i32) -> i32      0 when exhausted
//	canonicalize_address(human: i32) -> i32
//	humanize_address(canonical: i32) -> i32
//	query_chain(request: i32) -> i32
//	debug(msg: i32)
//
// Host I/O charges the call's gas meter through the bridges; meter
// exhaustion traps the instance and is reported as the call's error.
// That trap is the only cooperative abort: there is no mid-call
// cancellation.
package vm
