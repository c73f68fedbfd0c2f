package bridge

import (
	"bytes"
	"sort"
	"sync"

	"github.com/wippyai/enclave-rt/gas"
	"github.com/wippyai/enclave-rt/types"
)

// Gas schedule for the in-memory reference storage. Reads and writes
// are metered by data size, the way a disk-backed caller implementation
// would report them. Costs are only reported; the bridge accessors
// charge them to the call meter.
const (
	memDBGetBase    = 100
	memDBSetBase    = 200
	memDBDeleteCost = 150
	memDBNextCost   = 30
	memDBPerByte    = 1
)

// MemDB is an ordered in-memory key/value store exposing itself as a DB
// bridge. It backs the CLI driver and tests; production callers bind
// their own storage the same way.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB creates an empty store.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

// Len returns the number of stored keys.
func (m *MemDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Bridge binds the store to a call's gas meter as a storage vtable.
func (m *MemDB) Bridge(meter *gas.Meter) DB {
	return DB{
		State: m,
		Meter: meter,
		Vtable: DBVtable{
			Get:    memDBGet,
			Set:    memDBSet,
			Delete: memDBDelete,
			Scan:   memDBScan,
		},
	}
}

func memDBGet(state any, _ *gas.Meter, key []byte) ([]byte, uint64, error) {
	m := state.(*MemDB)
	m.mu.RLock()
	value, found := m.data[string(key)]
	m.mu.RUnlock()

	cost := uint64(memDBGetBase + memDBPerByte*len(value))
	if !found {
		return nil, cost, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, cost, nil
}

func memDBSet(state any, _ *gas.Meter, key, value []byte) (uint64, error) {
	m := state.(*MemDB)
	cost := uint64(memDBSetBase + memDBPerByte*(len(key)+len(value)))
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	m.data[string(key)] = stored
	m.mu.Unlock()
	return cost, nil
}

func memDBDelete(state any, _ *gas.Meter, key []byte) (uint64, error) {
	m := state.(*MemDB)
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return memDBDeleteCost, nil
}

// memDBScan snapshots the matching range so the iterator stays stable
// under concurrent writes.
func memDBScan(state any, meter *gas.Meter, start, end []byte, order Order) (*Iter, uint64, error) {
	m := state.(*MemDB)

	m.mu.RLock()
	var keys []string
	for k := range m.data {
		kb := []byte(k)
		if start != nil && bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if order == Descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	snapshot := make([]IteratorItem, 0, len(keys))
	for _, k := range keys {
		v := m.data[k]
		value := make([]byte, len(v))
		copy(value, v)
		snapshot = append(snapshot, IteratorItem{Key: []byte(k), Value: value})
	}
	m.mu.RUnlock()

	scan := &memDBScanState{items: snapshot}
	iter := NewIter(scan, meter, IteratorVtable{Next: memDBNext})
	return iter, memDBGetBase, nil
}

type memDBScanState struct {
	items []IteratorItem
	pos   int
}

// memDBNext implements the raw step protocol: fill the output slots,
// return a Result code, leave the key slot empty at the end. The step
// cost goes into the usedGas slot; the iterator adapter charges it.
func memDBNext(state any, _ *gas.Meter, usedGas *uint64, key, value *types.Buffer) int32 {
	scan, ok := state.(*memDBScanState)
	if !ok {
		return int32(ResultBadArgument)
	}
	*usedGas = memDBNextCost
	if scan.pos >= len(scan.items) {
		return int32(ResultOk) // key left empty: end of sequence
	}
	item := scan.items[scan.pos]
	scan.pos++
	*key = types.BorrowedBuffer(item.Key)
	*value = types.BorrowedBuffer(item.Value)
	return int32(ResultOk)
}
