// Package cache manages compiled contract code and hands out per-call
// contract instances. Code is stored content-addressed by checksum; a
// bounded in-memory cache keeps recently used compiled artifacts so
// repeat calls skip recompilation. The cache is the only shared mutable
// resource of the boundary layer and does its own locking.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/wippyai/enclave-rt/bridge"
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/gas"
	"github.com/wippyai/enclave-rt/vm"
)

// ChecksumLen is the fixed byte length of a code checksum (sha256).
const ChecksumLen = sha256.Size

// Checksum identifies stored contract code by content hash.
type Checksum []byte

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// Config describes a cache. Executor defaults to the production wazero
// engine when nil.
type Config struct {
	DataDir   string
	Features  []string
	CacheSize int
	Executor  vm.Executor
}

// Cache is a code cache rooted at a data directory. It holds an
// exclusive lock on the directory for its lifetime so two caches never
// share one.
type Cache struct {
	dir      string
	features map[string]struct{}
	lock     *flock.Flock
	modules  *lru.Cache[string, vm.Contract]
	exec     vm.Executor
	log      *zap.Logger

	mu        sync.Mutex
	released  bool
	closeOnce sync.Once
}

// ParseFeatures splits a comma-separated feature list, trimming
// whitespace and dropping empty entries.
func ParseFeatures(csv string) []string {
	var features []string
	for _, f := range strings.Split(csv, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			features = append(features, f)
		}
	}
	return features
}

// New opens (or creates) a cache under cfg.DataDir.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Cache, error) {
	if cfg.DataDir == "" {
		return nil, errors.InvalidInput(errors.PhaseCache, "data directory must not be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}

	wasmDir := filepath.Join(cfg.DataDir, "wasm")
	if err := os.MkdirAll(wasmDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseCache, errors.KindInvalidInput, err, "create cache directory")
	}

	// one cache per directory, enforced across processes
	lock := flock.New(filepath.Join(cfg.DataDir, "exclusive.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCache, errors.KindInvalidInput, err, "lock cache directory")
	}
	if !locked {
		return nil, errors.InvalidInput(errors.PhaseCache,
			fmt.Sprintf("cache directory %q is locked by another instance", cfg.DataDir))
	}

	size := cfg.CacheSize
	if size < 1 {
		size = 1
	}
	modules, err := lru.New[string, vm.Contract](size)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrap(errors.PhaseCache, errors.KindInvalidInput, err, "create module cache")
	}

	exec := cfg.Executor
	if exec == nil {
		exec, err = vm.NewEngine(ctx)
		if err != nil {
			_ = lock.Unlock()
			return nil, errors.Wrap(errors.PhaseCache, errors.KindVM, err, "create executor")
		}
	}

	features := make(map[string]struct{}, len(cfg.Features))
	for _, f := range cfg.Features {
		features[f] = struct{}{}
	}

	log.Debug("cache opened",
		zap.String("dir", cfg.DataDir),
		zap.Strings("features", cfg.Features),
		zap.Int("module_cache_size", size))
	return &Cache{
		dir:      cfg.DataDir,
		features: features,
		lock:     lock,
		modules:  modules,
		exec:     exec,
		log:      log,
	}, nil
}

// HasFeature reports whether the cache was opened with a feature.
func (c *Cache) HasFeature(name string) bool {
	_, ok := c.features[name]
	return ok
}

// SaveWasm validates and stores contract code, returning its checksum.
// Compilation is attempted up front so broken code never enters the
// store.
func (c *Cache) SaveWasm(ctx context.Context, wasm []byte) (Checksum, error) {
	if len(wasm) < len(wasmMagic) || !bytes.Equal(wasm[:len(wasmMagic)], wasmMagic) {
		return nil, errors.InvalidInput(errors.PhaseCache, "not a wasm binary")
	}

	contract, err := c.exec.Compile(ctx, wasm)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(wasm)
	checksum := Checksum(sum[:])
	if err := os.WriteFile(c.wasmPath(checksum), wasm, 0o644); err != nil {
		return nil, errors.Wrap(errors.PhaseCache, errors.KindInvalidInput, err, "store contract code")
	}
	c.modules.Add(hex.EncodeToString(checksum), contract)

	c.log.Debug("stored contract code",
		zap.String("checksum", hex.EncodeToString(checksum)),
		zap.Int("size", len(wasm)))
	return checksum, nil
}

// LoadWasm returns the stored code for a checksum.
func (c *Cache) LoadWasm(checksum Checksum) ([]byte, error) {
	if len(checksum) != ChecksumLen {
		return nil, errors.ChecksumLength("code_id", len(checksum), ChecksumLen)
	}
	wasm, err := os.ReadFile(c.wasmPath(checksum))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCache, errors.KindInvalidInput, err,
			fmt.Sprintf("no contract with checksum %s", hex.EncodeToString(checksum)))
	}
	return wasm, nil
}

// GetInstance checks a contract instance out of the cache for a single
// call, bound to a fresh meter for gasLimit and the given bridges.
func (c *Cache) GetInstance(ctx context.Context, checksum Checksum, deps bridge.Deps, gasLimit uint64) (*Instance, error) {
	contract, err := c.compiled(ctx, checksum)
	if err != nil {
		return nil, err
	}
	meter := gas.NewMeter(gasLimit)
	deps.DB.Meter = meter
	deps.API.Meter = meter
	deps.Querier.Meter = meter
	return &Instance{
		cache:    c,
		checksum: checksum,
		contract: contract,
		meter:    meter,
		deps:     deps,
	}, nil
}

func (c *Cache) compiled(ctx context.Context, checksum Checksum) (vm.Contract, error) {
	if len(checksum) != ChecksumLen {
		return nil, errors.ChecksumLength("code_id", len(checksum), ChecksumLen)
	}
	key := hex.EncodeToString(checksum)

	c.mu.Lock()
	defer c.mu.Unlock()
	if contract, ok := c.modules.Get(key); ok {
		return contract, nil
	}

	wasm, err := c.LoadWasm(checksum)
	if err != nil {
		return nil, err
	}
	contract, err := c.exec.Compile(ctx, wasm)
	if err != nil {
		return nil, err
	}
	c.modules.Add(key, contract)
	return contract, nil
}

// Release closes the cache: the directory lock is dropped and the
// executor shut down. Runs at most once; later calls are no-ops.
func (c *Cache) Release() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.released = true
		c.mu.Unlock()
		if err := c.lock.Unlock(); err != nil {
			c.log.Warn("unlock cache directory", zap.Error(err))
		}
		if err := c.exec.Close(context.Background()); err != nil {
			c.log.Warn("close executor", zap.Error(err))
		}
		c.log.Debug("cache released", zap.String("dir", c.dir))
	})
}

// Drop implements registry.Dropper so releasing the handle releases the
// cache.
func (c *Cache) Drop() {
	c.Release()
}

func (c *Cache) wasmPath(checksum Checksum) string {
	return filepath.Join(c.dir, "wasm", hex.EncodeToString(checksum)+".wasm")
}
