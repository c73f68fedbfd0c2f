package vm

import (
	"context"
	"encoding/binary"
	stderrors "errors"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/enclave-rt/bridge"
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/gas"
)

// session is the per-call state the env host functions operate on. It
// travels in the call context so one shared host module serves
// concurrent calls.
type session struct {
	deps         bridge.Deps
	meter        *gas.Meter
	iterators    map[uint32]*bridge.Iter
	nextIterator uint32
	// externallyUsed attributes the portion of the meter's consumption
	// that callbacks reported. The bridges have already charged it.
	externallyUsed uint64
	hostErr        error
}

func newSession(deps bridge.Deps, meter *gas.Meter) *session {
	return &session{
		deps:      deps,
		meter:     meter,
		iterators: make(map[uint32]*bridge.Iter),
	}
}

type sessionKey struct{}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

// fail aborts the running instance. The panic is recovered by wazero and
// comes back as the call's error; wrap prefers the structured hostErr
// over the raw trap.
func (s *session) fail(err error) {
	s.hostErr = err
	panic(err)
}

func (s *session) wrap(err error, detail string) error {
	if s.hostErr != nil {
		var be *errors.Error
		if stderrors.As(s.hostErr, &be) {
			return be
		}
		return errors.VMErr(s.hostErr)
	}
	return errors.Wrap(errors.PhaseCall, errors.KindVM, err, detail)
}

// ensureEnv instantiates the shared env host module once per engine.
func (e *Engine) ensureEnv(ctx context.Context) error {
	e.envOnce.Do(func() {
		b := e.runtime.NewHostModuleBuilder("env")
		b.NewFunctionBuilder().WithFunc(hostDBRead).Export("db_read")
		b.NewFunctionBuilder().WithFunc(hostDBWrite).Export("db_write")
		b.NewFunctionBuilder().WithFunc(hostDBRemove).Export("db_remove")
		b.NewFunctionBuilder().WithFunc(hostDBScan).Export("db_scan")
		b.NewFunctionBuilder().WithFunc(hostDBNext).Export("db_next")
		b.NewFunctionBuilder().WithFunc(hostCanonicalize).Export("canonicalize_address")
		b.NewFunctionBuilder().WithFunc(hostHumanize).Export("humanize_address")
		b.NewFunctionBuilder().WithFunc(hostQueryChain).Export("query_chain")
		b.NewFunctionBuilder().WithFunc(e.hostDebug).Export("debug")
		_, e.envErr = b.Instantiate(ctx)
	})
	return e.envErr
}

func hostDBRead(ctx context.Context, m api.Module, keyPtr uint32) uint32 {
	s := sessionFrom(ctx)
	key := mustReadRegion(s, m.Memory(), keyPtr)

	value, used, err := s.deps.DB.Get(key)
	s.externallyUsed += used
	if err != nil {
		s.fail(err)
	}
	if value == nil {
		return 0
	}
	return mustAllocRegion(ctx, s, m, value)
}

func hostDBWrite(ctx context.Context, m api.Module, keyPtr, valuePtr uint32) {
	s := sessionFrom(ctx)
	key := mustReadRegion(s, m.Memory(), keyPtr)
	value := mustReadRegion(s, m.Memory(), valuePtr)

	used, err := s.deps.DB.Set(key, value)
	s.externallyUsed += used
	if err != nil {
		s.fail(err)
	}
}

func hostDBRemove(ctx context.Context, m api.Module, keyPtr uint32) {
	s := sessionFrom(ctx)
	key := mustReadRegion(s, m.Memory(), keyPtr)

	used, err := s.deps.DB.Delete(key)
	s.externallyUsed += used
	if err != nil {
		s.fail(err)
	}
}

func hostDBScan(ctx context.Context, m api.Module, startPtr, endPtr uint32, order int32) uint32 {
	s := sessionFrom(ctx)
	var start, end []byte
	if startPtr != 0 {
		start = mustReadRegion(s, m.Memory(), startPtr)
	}
	if endPtr != 0 {
		end = mustReadRegion(s, m.Memory(), endPtr)
	}

	iter, used, err := s.deps.DB.Scan(start, end, bridge.Order(order))
	s.externallyUsed += used
	if err != nil {
		s.fail(err)
	}

	s.nextIterator++
	s.iterators[s.nextIterator] = iter
	return s.nextIterator
}

func hostDBNext(ctx context.Context, m api.Module, iteratorID uint32) uint32 {
	s := sessionFrom(ctx)
	iter, ok := s.iterators[iteratorID]
	if !ok {
		s.fail(errors.InvalidInput(errors.PhaseIterator, "unknown iterator id"))
	}

	item, err := iter.Next()
	if err != nil {
		s.fail(err)
	}
	if item == nil {
		return 0
	}
	s.externallyUsed += item.UsedGas

	// key and value packed as u32-le length prefixed pairs
	packed := make([]byte, 0, 8+len(item.Key)+len(item.Value))
	packed = binary.LittleEndian.AppendUint32(packed, uint32(len(item.Key)))
	packed = append(packed, item.Key...)
	packed = binary.LittleEndian.AppendUint32(packed, uint32(len(item.Value)))
	packed = append(packed, item.Value...)
	return mustAllocRegion(ctx, s, m, packed)
}

func hostCanonicalize(ctx context.Context, m api.Module, humanPtr uint32) uint32 {
	s := sessionFrom(ctx)
	human := mustReadRegion(s, m.Memory(), humanPtr)

	canonical, used, err := s.deps.API.CanonicalAddress(string(human))
	s.externallyUsed += used
	if err != nil {
		s.fail(err)
	}
	return mustAllocRegion(ctx, s, m, canonical)
}

func hostHumanize(ctx context.Context, m api.Module, canonicalPtr uint32) uint32 {
	s := sessionFrom(ctx)
	canonical := mustReadRegion(s, m.Memory(), canonicalPtr)

	human, used, err := s.deps.API.HumanAddress(canonical)
	s.externallyUsed += used
	if err != nil {
		s.fail(err)
	}
	return mustAllocRegion(ctx, s, m, []byte(human))
}

func hostQueryChain(ctx context.Context, m api.Module, requestPtr uint32) uint32 {
	s := sessionFrom(ctx)
	request := mustReadRegion(s, m.Memory(), requestPtr)

	response, used, err := s.deps.Querier.Query(request)
	s.externallyUsed += used
	if err != nil {
		s.fail(err)
	}
	return mustAllocRegion(ctx, s, m, response)
}

func (e *Engine) hostDebug(ctx context.Context, m api.Module, msgPtr uint32) {
	s := sessionFrom(ctx)
	msg := mustReadRegion(s, m.Memory(), msgPtr)
	e.log.Debug("contract debug", zap.ByteString("message", msg))
}

// Region layout: 12 bytes of little-endian u32s (offset, capacity, length).

func readRegion(mem api.Memory, ptr uint32) ([]byte, error) {
	if ptr == 0 {
		return nil, nil
	}
	raw, ok := mem.Read(ptr, 12)
	if !ok {
		return nil, errors.VMErrf("region pointer %d out of bounds", ptr)
	}
	offset := binary.LittleEndian.Uint32(raw[0:4])
	length := binary.LittleEndian.Uint32(raw[8:12])
	if length == 0 {
		return []byte{}, nil
	}
	data, ok := mem.Read(offset, length)
	if !ok {
		return nil, errors.VMErrf("region %d: data [%d, %d) out of bounds", ptr, offset, offset+length)
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

func writeRegion(mem api.Memory, ptr uint32, data []byte) error {
	raw, ok := mem.Read(ptr, 12)
	if !ok {
		return errors.VMErrf("region pointer %d out of bounds", ptr)
	}
	offset := binary.LittleEndian.Uint32(raw[0:4])
	capacity := binary.LittleEndian.Uint32(raw[4:8])
	if uint32(len(data)) > capacity {
		return errors.VMErrf("data of %d bytes exceeds region capacity %d", len(data), capacity)
	}
	if !mem.Write(offset, data) {
		return errors.VMErrf("region %d: write at %d out of bounds", ptr, offset)
	}
	if !mem.WriteUint32Le(ptr+8, uint32(len(data))) {
		return errors.VMErrf("region %d: length update out of bounds", ptr)
	}
	return nil
}

func mustReadRegion(s *session, mem api.Memory, ptr uint32) []byte {
	data, err := readRegion(mem, ptr)
	if err != nil {
		s.fail(err)
	}
	return data
}

// mustAllocRegion allocates guest memory through the contract's own
// allocator and fills it. Used by host functions returning data.
func mustAllocRegion(ctx context.Context, s *session, m api.Module, data []byte) uint32 {
	ptr, err := allocRegion(ctx, m, data)
	if err != nil {
		s.fail(err)
	}
	return ptr
}

func allocRegion(ctx context.Context, m api.Module, data []byte) (uint32, error) {
	alloc := m.ExportedFunction("allocate")
	if alloc == nil {
		return 0, errors.VMErrf("contract has no allocate export")
	}
	ret, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseCall, errors.KindVM, err, "allocate in contract")
	}
	if len(ret) != 1 || uint32(ret[0]) == 0 {
		return 0, errors.VMErrf("contract allocator returned no region")
	}
	regionPtr := uint32(ret[0])
	if err := writeRegion(m.Memory(), regionPtr, data); err != nil {
		return 0, err
	}
	return regionPtr, nil
}

// writeToContract moves call input into guest memory, charging the meter
// by size.
func writeToContract(ctx context.Context, m api.Module, meter *gas.Meter, data []byte) (uint32, error) {
	if err := meter.Consume(uint64(len(data))*costMemoryPerByte, "write call data"); err != nil {
		return 0, err
	}
	return allocRegion(ctx, m, data)
}
