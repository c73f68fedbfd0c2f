// Package enclavert is the boundary layer of a confidential-computing
// smart-contract engine: a foreign host process drives the contract VM
// through the exported entry points here, passing storage, API, and
// query callbacks in and receiving results, gas usage, and errors out.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct
// responsibilities:
//
//	enclavert/      Root package with the exported entry points and Buffer/Handle surface
//	├── types/      Buffer ownership protocol and caller-facing wire types
//	├── errors/     Structured boundary errors (phase and kind taxonomy)
//	├── gas/        The per-call gas meter
//	├── bridge/     Caller-supplied vtables (storage, API, querier) and the iterator adapter
//	├── registry/   Opaque handle table for cache handles
//	├── cache/      Content-addressed code store with a compiled-module LRU
//	├── vm/         Contract executor (wazero engine and the env host module)
//	└── enclave/    Key generation, seed exchange, and attestation collaborators
//
// # Boundary Contract
//
// Every entry point follows one template: resolve the cache handle,
// decode and validate the Buffer arguments, check the instance out of
// the cache bound to the call's gas limit and bridges, run the VM
// entry, write gas used to the caller-owned output, recycle the
// instance, and only then surface the result or error. Gas is always
// reported, whether the call succeeded or not.
//
// Buffers returned by entry points are runtime-owned; the caller must
// release each exactly once with FreeBuffer. Buffers passed as
// arguments stay caller-owned and are never freed here. A panic inside
// an entry point never crosses the boundary; it is recovered and
// reported through the error output like any other failure.
//
// # Quick Start
//
//	var errOut enclavert.Buffer
//	h := enclavert.InitCache(enclavert.BorrowedBuffer([]byte(dir)),
//		enclavert.BorrowedBuffer([]byte("staking")), 100, &errOut)
//	defer enclavert.ReleaseCache(h)
//
//	checksum := enclavert.Create(h, enclavert.BorrowedBuffer(wasm), &errOut)
//
//	var gasUsed uint64
//	res := enclavert.Instantiate(h, checksum,
//		enclavert.BorrowedBuffer(params), enclavert.BorrowedBuffer(msg),
//		db, api, querier, 1_000_000, &gasUsed, &errOut)
//	defer enclavert.FreeBuffer(&res)
package enclavert
