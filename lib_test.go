package enclavert

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/wippyai/enclave-rt/bridge"
	"github.com/wippyai/enclave-rt/cache"
	"github.com/wippyai/enclave-rt/gas"
	"github.com/wippyai/enclave-rt/vm"
)

var validWasm = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

// fakeExecutor is the executor double behind the entry-point tests. It
// compiles everything and replays a scripted call result.
type fakeExecutor struct {
	closes  int
	calls   int
	result  []byte
	callErr error
	gasCost uint64
	panics  bool
}

type fakeContract struct{ wasm []byte }

func (f *fakeExecutor) Compile(_ context.Context, wasm []byte) (vm.Contract, error) {
	return &fakeContract{wasm: wasm}, nil
}

func (f *fakeExecutor) Call(_ context.Context, _ vm.Entry, _ vm.Contract, _ bridge.Deps, meter *gas.Meter, _, _ []byte) ([]byte, error) {
	f.calls++
	if f.panics {
		panic("executor blew up")
	}
	if f.gasCost > 0 {
		if err := meter.Consume(f.gasCost, "fake call"); err != nil {
			return nil, err
		}
	}
	return f.result, f.callErr
}

func (f *fakeExecutor) Close(context.Context) error {
	f.closes++
	return nil
}

// useExecutor routes InitCache at the double for the test's duration.
func useExecutor(t *testing.T, exec vm.Executor) {
	t.Helper()
	newExecutor = func(context.Context) (vm.Executor, error) { return exec, nil }
	t.Cleanup(func() { newExecutor = nil })
}

func initTestCache(t *testing.T, exec vm.Executor) CacheHandle {
	t.Helper()
	useExecutor(t, exec)

	var errOut Buffer
	h := InitCache(BorrowedBuffer([]byte(t.TempDir())), BorrowedBuffer([]byte("feat_a,feat_b")), 10, &errOut)
	if h == 0 {
		t.Fatalf("InitCache failed: %s", errText(errOut))
	}
	t.Cleanup(func() { ReleaseCache(h) })
	return h
}

func errText(errOut Buffer) string {
	data, ok := errOut.Read()
	if !ok {
		return "<no error>"
	}
	return string(data)
}

func TestEndToEnd(t *testing.T) {
	exec := &fakeExecutor{result: []byte(`{"ok":{"messages":[]}}`), gasCost: 400}
	h := initTestCache(t, exec)

	var errOut Buffer
	checksum := Create(h, BorrowedBuffer(validWasm), &errOut)
	sum, ok := checksum.Read()
	if !ok {
		t.Fatalf("Create failed: %s", errText(errOut))
	}
	if len(sum) != cache.ChecksumLen {
		t.Fatalf("checksum has %d bytes, want %d", len(sum), cache.ChecksumLen)
	}

	code := GetCode(h, checksum, &errOut)
	data, ok := code.Read()
	if !ok {
		t.Fatalf("GetCode failed: %s", errText(errOut))
	}
	if !bytes.Equal(data, validWasm) {
		t.Fatal("GetCode returned different bytes than stored")
	}

	var gasUsed uint64
	res := Instantiate(h, checksum, BorrowedBuffer([]byte(`{}`)), BorrowedBuffer([]byte(`{}`)),
		bridge.DB{}, bridge.API{}, bridge.Querier{}, 1_000_000, &gasUsed, &errOut)
	out, ok := res.Read()
	if !ok {
		t.Fatalf("Instantiate failed: %s", errText(errOut))
	}
	if !bytes.Equal(out, exec.result) {
		t.Fatalf("result = %q, want the executor's bytes", out)
	}
	if gasUsed == 0 || gasUsed > 1_000_000 {
		t.Fatalf("gasUsed = %d, want within (0, limit]", gasUsed)
	}
	if _, ok := errOut.Read(); ok {
		t.Fatal("error buffer populated on success")
	}

	FreeBuffer(&res)
	FreeBuffer(&code)
	FreeBuffer(&checksum)
}

func TestNullHandleRejected(t *testing.T) {
	var errOut Buffer
	var gasUsed uint64

	checks := map[string]func() Buffer{
		"create":   func() Buffer { return Create(0, BorrowedBuffer(validWasm), &errOut) },
		"get_code": func() Buffer { return GetCode(0, BorrowedBuffer(make([]byte, 32)), &errOut) },
		"instantiate": func() Buffer {
			return Instantiate(0, BorrowedBuffer(make([]byte, 32)), BorrowedBuffer([]byte(`{}`)), BorrowedBuffer([]byte(`{}`)),
				bridge.DB{}, bridge.API{}, bridge.Querier{}, 100, &gasUsed, &errOut)
		},
		"query": func() Buffer {
			return Query(0, BorrowedBuffer(make([]byte, 32)), BorrowedBuffer([]byte(`{}`)),
				bridge.DB{}, bridge.API{}, bridge.Querier{}, 100, &gasUsed, &errOut)
		},
	}
	for name, call := range checks {
		res := call()
		if !res.IsEmpty() {
			t.Fatalf("%s: non-empty result for null handle", name)
		}
		msg := errText(errOut)
		if !strings.Contains(msg, "cache") {
			t.Fatalf("%s: error %q does not name the cache argument", name, msg)
		}
	}
}

func TestReleasedHandleRejected(t *testing.T) {
	exec := &fakeExecutor{}
	useExecutor(t, exec)

	var errOut Buffer
	h := InitCache(BorrowedBuffer([]byte(t.TempDir())), BorrowedBuffer([]byte("")), 1, &errOut)
	if h == 0 {
		t.Fatalf("InitCache failed: %s", errText(errOut))
	}
	ReleaseCache(h)

	res := Create(h, BorrowedBuffer(validWasm), &errOut)
	if !res.IsEmpty() {
		t.Fatal("released handle still serves calls")
	}
}

func TestReleaseCacheExactlyOnce(t *testing.T) {
	exec := &fakeExecutor{}
	useExecutor(t, exec)

	var errOut Buffer
	h := InitCache(BorrowedBuffer([]byte(t.TempDir())), BorrowedBuffer([]byte("feat_a")), 1, &errOut)
	if h == 0 {
		t.Fatalf("InitCache failed: %s", errText(errOut))
	}

	ReleaseCache(h)
	ReleaseCache(h) // second release must be inert
	ReleaseCache(0) // null handle is a no-op
	if exec.closes != 1 {
		t.Fatalf("executor closed %d times, want exactly 1", exec.closes)
	}
}

func TestInvalidArguments(t *testing.T) {
	exec := &fakeExecutor{}
	h := initTestCache(t, exec)

	var errOut Buffer
	if got := InitCache(Buffer{}, BorrowedBuffer(nil), 1, &errOut); got != 0 {
		t.Fatal("InitCache accepted an absent data_dir")
	}
	if msg := errText(errOut); !strings.Contains(msg, "data_dir") {
		t.Fatalf("error %q does not name data_dir", msg)
	}

	if got := InitCache(BorrowedBuffer([]byte{0xff, 0xfe, 0xfd}), BorrowedBuffer([]byte("")), 1, &errOut); got != 0 {
		t.Fatal("InitCache accepted invalid UTF-8")
	}
	if msg := errText(errOut); !strings.Contains(msg, "invalid_utf8") {
		t.Fatalf("error %q does not report invalid UTF-8", msg)
	}

	if res := Create(h, Buffer{}, &errOut); !res.IsEmpty() {
		t.Fatal("Create accepted an absent wasm argument")
	}
	if msg := errText(errOut); !strings.Contains(msg, "wasm") {
		t.Fatalf("error %q does not name the wasm argument", msg)
	}

	var gasUsed uint64
	short := BorrowedBuffer([]byte("too-short"))
	if res := Query(h, short, BorrowedBuffer([]byte(`{}`)), bridge.DB{}, bridge.API{}, bridge.Querier{}, 100, &gasUsed, &errOut); !res.IsEmpty() {
		t.Fatal("Query accepted a short checksum")
	}
	if msg := errText(errOut); !strings.Contains(msg, "code_id") {
		t.Fatalf("error %q does not name code_id", msg)
	}
}

func TestMissingGasUsedRejected(t *testing.T) {
	exec := &fakeExecutor{result: []byte(`{}`)}
	h := initTestCache(t, exec)

	var errOut Buffer
	checksum := Create(h, BorrowedBuffer(validWasm), &errOut)
	defer FreeBuffer(&checksum)
	created := exec.calls

	res := Handle(h, checksum, BorrowedBuffer([]byte(`{}`)), BorrowedBuffer([]byte(`{}`)),
		bridge.DB{}, bridge.API{}, bridge.Querier{}, 10_000, nil, &errOut)
	if !res.IsEmpty() {
		t.Fatal("call without a gas_used out-param returned a result")
	}
	if msg := errText(errOut); !strings.Contains(msg, "gas_used") {
		t.Fatalf("error %q does not name gas_used", msg)
	}
	if exec.calls != created {
		t.Fatal("contract ran despite the missing gas_used out-param")
	}
}

func TestGasReportedOnFailure(t *testing.T) {
	exec := &fakeExecutor{gasCost: 750, callErr: contractError("contract says no")}
	h := initTestCache(t, exec)

	var errOut Buffer
	checksum := Create(h, BorrowedBuffer(validWasm), &errOut)
	defer FreeBuffer(&checksum)

	var gasUsed uint64
	res := Handle(h, checksum, BorrowedBuffer([]byte(`{}`)), BorrowedBuffer([]byte(`{}`)),
		bridge.DB{}, bridge.API{}, bridge.Querier{}, 10_000, &gasUsed, &errOut)
	if !res.IsEmpty() {
		t.Fatal("failed call returned a result")
	}
	if !strings.Contains(errText(errOut), "contract says no") {
		t.Fatalf("error %q lost the contract's message", errText(errOut))
	}
	// gas is accounted before the error is surfaced
	if gasUsed != 750 {
		t.Fatalf("gasUsed = %d, want 750 despite the failure", gasUsed)
	}
}

func TestPanicContained(t *testing.T) {
	exec := &fakeExecutor{panics: true}
	h := initTestCache(t, exec)

	var errOut Buffer
	checksum := Create(h, BorrowedBuffer(validWasm), &errOut)
	defer FreeBuffer(&checksum)

	var gasUsed uint64
	res := Migrate(h, checksum, BorrowedBuffer([]byte(`{}`)), BorrowedBuffer([]byte(`{}`)),
		bridge.DB{}, bridge.API{}, bridge.Querier{}, 10_000, &gasUsed, &errOut)
	if !res.IsEmpty() {
		t.Fatal("panicking call returned a result")
	}
	if !strings.Contains(errText(errOut), "panic") {
		t.Fatalf("error %q does not report the contained panic", errText(errOut))
	}
}

func TestQueryWithMemDB(t *testing.T) {
	exec := &fakeExecutor{result: []byte(`"stored"`), gasCost: 50}
	h := initTestCache(t, exec)

	var errOut Buffer
	checksum := Create(h, BorrowedBuffer(validWasm), &errOut)
	defer FreeBuffer(&checksum)

	store := bridge.NewMemDB()
	db := store.Bridge(nil) // GetInstance binds the call's meter

	var gasUsed uint64
	res := Query(h, checksum, BorrowedBuffer([]byte(`{"get":{}}`)),
		db, bridge.API{}, bridge.Querier{}, 100_000, &gasUsed, &errOut)
	out, ok := res.Read()
	if !ok {
		t.Fatalf("Query failed: %s", errText(errOut))
	}
	if string(out) != `"stored"` {
		t.Fatalf("result = %q", out)
	}
	FreeBuffer(&res)
}

func TestFreeBufferProtocol(t *testing.T) {
	buf := NewBuffer([]byte("payload"))
	FreeBuffer(&buf)
	FreeBuffer(&buf) // second free is a caller error but must not crash
	FreeBuffer(nil)

	var empty Buffer
	FreeBuffer(&empty)

	borrowed := BorrowedBuffer([]byte("caller memory"))
	FreeBuffer(&borrowed)
	if data, ok := borrowed.Read(); !ok || string(data) != "caller memory" {
		t.Fatal("freeing a borrowed buffer must not touch caller memory")
	}
}

func TestEnclaveEntryPoints(t *testing.T) {
	SetEnclaveHome(t.TempDir())
	t.Cleanup(func() { SetEnclaveHome(t.TempDir()) })

	var errOut Buffer
	bootPub := InitBootstrap(&errOut)
	if _, ok := bootPub.Read(); !ok {
		t.Fatalf("InitBootstrap failed: %s", errText(errOut))
	}
	nodePub := KeyGen(&errOut)
	if _, ok := nodePub.Read(); !ok {
		t.Fatalf("KeyGen failed: %s", errText(errOut))
	}
	if !CreateAttestationReport(&errOut) {
		t.Fatalf("CreateAttestationReport failed: %s", errText(errOut))
	}

	// the single-node round trip: this node certifies itself and
	// unseals the seed it just issued
	n, err := enclaveNode()
	if err != nil {
		t.Fatal(err)
	}
	cert, err := n.AttestationReport()
	if err != nil {
		t.Fatal(err)
	}
	masterCert, err := n.MasterCert()
	if err != nil {
		t.Fatal(err)
	}
	sealed := GetEncryptedSeed(BorrowedBuffer(cert), &errOut)
	sealedBytes, ok := sealed.Read()
	if !ok {
		t.Fatalf("GetEncryptedSeed failed: %s", errText(errOut))
	}
	if !InitNode(BorrowedBuffer(masterCert), BorrowedBuffer(sealedBytes), &errOut) {
		t.Fatalf("InitNode failed: %s", errText(errOut))
	}

	if InitNode(Buffer{}, BorrowedBuffer(sealedBytes), &errOut) {
		t.Fatal("InitNode accepted an absent master cert")
	}
	if msg := errText(errOut); !strings.Contains(msg, "master_cert") {
		t.Fatalf("error %q does not name master_cert", msg)
	}

	FreeBuffer(&sealed)
	FreeBuffer(&nodePub)
	FreeBuffer(&bootPub)
}

type contractError string

func (e contractError) Error() string { return string(e) }
