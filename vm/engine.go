package vm

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/enclave-rt/bridge"
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/gas"
)

// Gas schedule for execution itself. Host I/O is charged by the bridges;
// these cover instantiation and moving call data across the memory.
const (
	costCallBase      = 5_000
	costMemoryPerByte = 1
)

// Engine is the production Executor on a shared wazero runtime. Safe for
// concurrent calls; per-call state travels in the context, never in the
// engine.
type Engine struct {
	runtime wazero.Runtime
	log     *zap.Logger

	envOnce sync.Once
	envErr  error
}

// NewEngine creates a wazero-backed executor.
func NewEngine(ctx context.Context) (*Engine, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, cfg),
		log:     Logger(),
	}, nil
}

type contract struct {
	compiled wazero.CompiledModule
	size     int
}

// Compile validates and compiles a wasm blob.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (Contract, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCache, errors.KindVM, err, "compile contract")
	}
	return &contract{compiled: compiled, size: len(wasm)}, nil
}

// Call runs one lifecycle entry of a compiled contract.
func (e *Engine) Call(ctx context.Context, entry Entry, c Contract, deps bridge.Deps, meter *gas.Meter, params, msg []byte) ([]byte, error) {
	ct, ok := c.(*contract)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseCall, "contract was not compiled by this executor")
	}

	if err := e.ensureEnv(ctx); err != nil {
		return nil, err
	}

	if err := meter.Consume(costCallBase, "instantiate contract"); err != nil {
		return nil, err
	}

	session := newSession(deps, meter)
	ctx = withSession(ctx, session)

	// anonymous instance so concurrent calls never collide on a name
	mod, err := e.runtime.InstantiateModule(ctx, ct.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, session.wrap(err, "instantiate contract")
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(string(entry))
	if fn == nil {
		return nil, errors.VMErrf("contract has no %q entry point", entry)
	}

	var args []uint64
	if entry == EntryQuery {
		msgPtr, err := writeToContract(ctx, mod, meter, msg)
		if err != nil {
			return nil, err
		}
		args = []uint64{uint64(msgPtr)}
	} else {
		paramsPtr, err := writeToContract(ctx, mod, meter, params)
		if err != nil {
			return nil, err
		}
		msgPtr, err := writeToContract(ctx, mod, meter, msg)
		if err != nil {
			return nil, err
		}
		args = []uint64{uint64(paramsPtr), uint64(msgPtr)}
	}

	ret, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, session.wrap(err, "contract execution failed")
	}
	if len(ret) != 1 {
		return nil, errors.VMErrf("entry %q returned %d values, expected a region pointer", entry, len(ret))
	}

	result, err := readRegion(mod.Memory(), uint32(ret[0]))
	if err != nil {
		return nil, err
	}

	e.log.Debug("contract call finished",
		zap.String("entry", string(entry)),
		zap.Uint64("gas_used", meter.Consumed()),
		zap.Uint64("gas_externally_used", session.externallyUsed),
		zap.Int("result_bytes", len(result)))
	return result, nil
}

// Close shuts the underlying runtime down, invalidating all artifacts.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
