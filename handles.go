package enclavert

import (
	"github.com/wippyai/enclave-rt/cache"
	"github.com/wippyai/enclave-rt/errors"
	"github.com/wippyai/enclave-rt/registry"
)

// CacheHandle is the opaque cache token handed to the foreign caller.
// Zero stands for "no handle". Tokens are never reused, so a released
// or fabricated handle fails resolution instead of aliasing a live
// cache.
type CacheHandle = registry.Handle

// caches holds every live cache behind its handle. The foreign caller
// only ever sees the token.
var caches = registry.NewTable()

// resolveCache maps a handle back to its cache, reporting the empty
// cache argument error on zero or released handles.
func resolveCache(h CacheHandle) (*cache.Cache, error) {
	if h == 0 {
		return nil, errors.EmptyArg("cache")
	}
	value, ok := caches.Get(h)
	if !ok {
		return nil, errors.StaleHandle()
	}
	return value.(*cache.Cache), nil
}
