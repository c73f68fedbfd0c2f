package enclavert

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wippyai/enclave-rt/bridge"
	"github.com/wippyai/enclave-rt/cache"
	"github.com/wippyai/enclave-rt/enclave"
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/types"
	"github.com/wippyai/enclave-rt/vm"
)

// Buffer is the ownership-tagged byte range crossing the boundary. See
// the types package for the full protocol.
type Buffer = types.Buffer

// NewBuffer wraps data in a runtime-owned Buffer the caller must
// release with FreeBuffer.
func NewBuffer(data []byte) Buffer { return types.NewBuffer(data) }

// BorrowedBuffer wraps caller memory without taking ownership. The
// runtime only reads it and never frees it.
func BorrowedBuffer(data []byte) Buffer { return types.BorrowedBuffer(data) }

// FreeBuffer releases a runtime-owned Buffer. Each such Buffer must be
// freed exactly once; freeing a borrowed or empty Buffer is a no-op.
func FreeBuffer(buf *Buffer) {
	if buf == nil {
		return
	}
	if err := buf.Free(); err != nil {
		Logger().Warn("buffer released twice", zap.Error(err))
	}
}

// newExecutor overrides the cache's production executor when set.
var newExecutor func(ctx context.Context) (vm.Executor, error)

// InitCache opens a code cache under dataDir and returns its handle.
// The handle must be released exactly once with ReleaseCache. Features
// is a comma separated list of capabilities contracts may require. On
// failure the zero handle is returned and errOut is populated.
func InitCache(dataDir, supportedFeatures Buffer, cacheSize int, errOut *Buffer) (h CacheHandle) {
	defer recoverTo(errOut, func() { h = 0 })
	clearError(errOut)

	dir, err := readText(dataDir, "data_dir")
	if err != nil {
		setError(errOut, err)
		return 0
	}
	featuresCSV, err := readText(supportedFeatures, "supported_features")
	if err != nil {
		setError(errOut, err)
		return 0
	}

	cfg := cache.Config{
		DataDir:   dir,
		Features:  cache.ParseFeatures(featuresCSV),
		CacheSize: cacheSize,
	}
	ctx := context.Background()
	if newExecutor != nil {
		exec, err := newExecutor(ctx)
		if err != nil {
			setError(errOut, err)
			return 0
		}
		cfg.Executor = exec
	}

	c, err := cache.New(ctx, cfg, Logger())
	if err != nil {
		setError(errOut, err)
		return 0
	}
	h = caches.Insert(c)
	Logger().Debug("cache initialized", zap.String("dir", dir), zap.Uint64("handle", uint64(h)))
	return h
}

// ReleaseCache releases the cache behind a handle. It must be called
// exactly once per successful InitCache; the zero handle is a no-op.
// The handle is dead afterwards and every later use of it fails.
func ReleaseCache(h CacheHandle) {
	if h == 0 {
		return
	}
	if _, ok := caches.Remove(h); !ok {
		Logger().Warn("release of unknown cache handle", zap.Uint64("handle", uint64(h)))
	}
}

// Create validates and stores contract code, returning its checksum as
// a runtime-owned Buffer.
func Create(h CacheHandle, wasm Buffer, errOut *Buffer) (out Buffer) {
	defer recoverTo(errOut, func() { out = Buffer{} })
	clearError(errOut)

	c, err := resolveCache(h)
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	code, err := readBytes(wasm, "wasm")
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	checksum, err := c.SaveWasm(context.Background(), code)
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	return NewBuffer(checksum)
}

// GetCode returns the stored contract code for a checksum as a
// runtime-owned Buffer.
func GetCode(h CacheHandle, id Buffer, errOut *Buffer) (out Buffer) {
	defer recoverTo(errOut, func() { out = Buffer{} })
	clearError(errOut)

	c, err := resolveCache(h)
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	checksum, err := readChecksum(id, "code_id")
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	code, err := c.LoadWasm(checksum)
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	return NewBuffer(code)
}

// Instantiate runs a contract's init entry. The result bytes come back
// as a runtime-owned Buffer; gasUsed is written whether the call
// succeeds or fails.
func Instantiate(h CacheHandle, codeID, params, msg Buffer, db bridge.DB, api bridge.API, q bridge.Querier, gasLimit uint64, gasUsed *uint64, errOut *Buffer) (out Buffer) {
	defer recoverTo(errOut, func() { out = Buffer{} })
	return callContract(h, vm.EntryInit, codeID, &params, msg, db, api, q, gasLimit, gasUsed, errOut)
}

// Handle runs a contract's handle entry. Same contract as Instantiate.
func Handle(h CacheHandle, codeID, params, msg Buffer, db bridge.DB, api bridge.API, q bridge.Querier, gasLimit uint64, gasUsed *uint64, errOut *Buffer) (out Buffer) {
	defer recoverTo(errOut, func() { out = Buffer{} })
	return callContract(h, vm.EntryHandle, codeID, &params, msg, db, api, q, gasLimit, gasUsed, errOut)
}

// Migrate runs a contract's migrate entry. Same contract as Instantiate.
func Migrate(h CacheHandle, codeID, params, msg Buffer, db bridge.DB, api bridge.API, q bridge.Querier, gasLimit uint64, gasUsed *uint64, errOut *Buffer) (out Buffer) {
	defer recoverTo(errOut, func() { out = Buffer{} })
	return callContract(h, vm.EntryMigrate, codeID, &params, msg, db, api, q, gasLimit, gasUsed, errOut)
}

// Query runs a contract's query entry. Queries take no params.
func Query(h CacheHandle, codeID, msg Buffer, db bridge.DB, api bridge.API, q bridge.Querier, gasLimit uint64, gasUsed *uint64, errOut *Buffer) (out Buffer) {
	defer recoverTo(errOut, func() { out = Buffer{} })
	return callContract(h, vm.EntryQuery, codeID, nil, msg, db, api, q, gasLimit, gasUsed, errOut)
}

// callContract is the shared template behind the lifecycle entry
// points. Gas used is written and the instance recycled before any
// error is surfaced, so the caller always learns gas consumption.
func callContract(h CacheHandle, entry vm.Entry, codeID Buffer, params *Buffer, msg Buffer, db bridge.DB, api bridge.API, q bridge.Querier, gasLimit uint64, gasUsed *uint64, errOut *Buffer) Buffer {
	clearError(errOut)
	if gasUsed == nil {
		setError(errOut, errors.EmptyArg("gas_used"))
		return Buffer{}
	}
	*gasUsed = 0

	c, err := resolveCache(h)
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	checksum, err := readChecksum(codeID, "code_id")
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	var paramsBytes []byte
	if params != nil {
		paramsBytes, err = readBytes(*params, "params")
		if err != nil {
			setError(errOut, err)
			return Buffer{}
		}
	}
	msgBytes, err := readBytes(msg, "msg")
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}

	ctx := context.Background()
	deps := bridge.Deps{DB: db, API: api, Querier: q}
	inst, err := c.GetInstance(ctx, checksum, deps, gasLimit)
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}

	data, callErr := func() (d []byte, err error) {
		// faults in the executor or the bridges stop here so gas still
		// gets accounted below
		defer func() {
			if r := recover(); r != nil {
				err = errors.Panic(r)
			}
		}()
		return inst.Call(ctx, entry, paramsBytes, msgBytes)
	}()

	report := inst.GasReport()
	*gasUsed = report.Used

	Logger().Debug("contract call",
		zap.String("entry", string(entry)),
		zap.Uint64("gas_limit", report.Limit),
		zap.Uint64("gas_used", report.Used),
		zap.Bool("ok", callErr == nil))
	inst.Recycle()

	if callErr != nil {
		setError(errOut, callErr)
		return Buffer{}
	}
	return NewBuffer(data)
}

// Enclave key and seed entry points. They share one node state rooted
// at the enclave home directory.

var (
	enclaveMu   sync.Mutex
	enclaveHome = defaultEnclaveHome()
	node        *enclave.Enclave
)

func defaultEnclaveHome() string {
	if dir := os.Getenv("ENCLAVERT_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".enclave-rt"
	}
	return filepath.Join(home, ".enclave-rt")
}

// SetEnclaveHome points the key and seed entry points at a directory.
// Call it before the first of them runs; changing it later discards the
// in-memory node state.
func SetEnclaveHome(dir string) {
	enclaveMu.Lock()
	defer enclaveMu.Unlock()
	enclaveHome = dir
	node = nil
}

func enclaveNode() (*enclave.Enclave, error) {
	enclaveMu.Lock()
	defer enclaveMu.Unlock()
	if node == nil {
		n, err := enclave.New(enclaveHome, Logger())
		if err != nil {
			return nil, err
		}
		node = n
	}
	return node, nil
}

// KeyGen creates (or returns) the node's registration key and hands
// back its public key as a runtime-owned Buffer.
func KeyGen(errOut *Buffer) (out Buffer) {
	defer recoverTo(errOut, func() { out = Buffer{} })
	clearError(errOut)

	n, err := enclaveNode()
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	pub, err := n.KeyGen()
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	return NewBuffer(pub)
}

// InitBootstrap makes this node the bootstrap node and returns the
// bootstrap public key.
func InitBootstrap(errOut *Buffer) (out Buffer) {
	defer recoverTo(errOut, func() { out = Buffer{} })
	clearError(errOut)

	n, err := enclaveNode()
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	pub, err := n.InitBootstrap()
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	return NewBuffer(pub)
}

// GetEncryptedSeed seals the consensus seed to the node identified by
// an attestation certificate. Only the bootstrap node can answer.
func GetEncryptedSeed(cert Buffer, errOut *Buffer) (out Buffer) {
	defer recoverTo(errOut, func() { out = Buffer{} })
	clearError(errOut)

	certBytes, err := readBytes(cert, "cert")
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	n, err := enclaveNode()
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	sealed, err := n.GetEncryptedSeed(certBytes)
	if err != nil {
		setError(errOut, err)
		return Buffer{}
	}
	return NewBuffer(sealed)
}

// InitNode unseals and installs the consensus seed issued by the
// bootstrap node. Reports success.
func InitNode(masterCert, encryptedSeed Buffer, errOut *Buffer) (ok bool) {
	defer recoverTo(errOut, func() { ok = false })
	clearError(errOut)

	certBytes, err := readBytes(masterCert, "master_cert")
	if err != nil {
		setError(errOut, err)
		return false
	}
	seedBytes, err := readBytes(encryptedSeed, "encrypted_seed")
	if err != nil {
		setError(errOut, err)
		return false
	}
	n, err := enclaveNode()
	if err != nil {
		setError(errOut, err)
		return false
	}
	if err := n.InitNode(certBytes, seedBytes); err != nil {
		setError(errOut, err)
		return false
	}
	return true
}

// CreateAttestationReport writes the node's attestation report to the
// enclave home. Reports success.
func CreateAttestationReport(errOut *Buffer) (ok bool) {
	defer recoverTo(errOut, func() { ok = false })
	clearError(errOut)

	n, err := enclaveNode()
	if err != nil {
		setError(errOut, err)
		return false
	}
	if err := n.CreateAttestationReport(); err != nil {
		setError(errOut, err)
		return false
	}
	return true
}

// Argument decoding and the error channel.

func readBytes(buf Buffer, name string) ([]byte, error) {
	data, ok := buf.Read()
	if !ok {
		return nil, errors.EmptyArg(name)
	}
	return data, nil
}

func readText(buf Buffer, name string) (string, error) {
	data, err := readBytes(buf, name)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(name, data)
	}
	return string(data), nil
}

func readChecksum(buf Buffer, name string) (cache.Checksum, error) {
	data, err := readBytes(buf, name)
	if err != nil {
		return nil, err
	}
	if len(data) != cache.ChecksumLen {
		return nil, errors.ChecksumLength(name, len(data), cache.ChecksumLen)
	}
	return cache.Checksum(data), nil
}

// setError hands err to the caller as a runtime-owned Buffer. A nil
// errOut drops the message; the call still fails through its primary
// return.
func setError(errOut *Buffer, err error) {
	if errOut == nil {
		return
	}
	*errOut = NewBuffer([]byte(err.Error()))
}

func clearError(errOut *Buffer) {
	if errOut == nil {
		return
	}
	*errOut = Buffer{}
}

// recoverTo is the barrier at every exported entry point: a panic never
// crosses the boundary, it becomes an error in errOut and the zero
// result via reset.
func recoverTo(errOut *Buffer, reset func()) {
	if r := recover(); r != nil {
		setError(errOut, errors.Panic(r))
		if reset != nil {
			reset()
		}
	}
}
