package modcache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cryguy/opcore/internal/core"
)

// CachingLoader wraps a host-provided core.ModuleLoader with a Store:
// Load always calls through to the wrapped loader to learn the current
// hash, returns the cached entry when the stored hash matches, and stores
// the freshly loaded source on a miss or hash mismatch (SPEC_FULL.md §4.11).
type CachingLoader struct {
	next  core.ModuleLoader
	store *Store
	now   func() time.Time
}

// NewCachingLoader wraps next with store. now lets tests and hosts supply
// their own clock; pass time.Now when omitted.
func NewCachingLoader(next core.ModuleLoader, store *Store, now func() time.Time) *CachingLoader {
	if now == nil {
		now = time.Now
	}
	return &CachingLoader{next: next, store: store, now: now}
}

// Resolve delegates unchanged — resolution has no cacheable fast path
// because it is already required to be pure and idempotent (spec.md §4.4).
func (c *CachingLoader) Resolve(specifier, referrer string) (string, error) {
	return c.next.Resolve(specifier, referrer)
}

// Load serves from the cache when the underlying source is unchanged.
// Because the cache only ever stores a hash alongside previously-seen
// bytes, a cache hit still requires asking the host loader once to learn
// the *current* hash — callers that want to skip even that round trip
// should pass a Store entry whose LastInstantiatedAt is fresh enough by
// their own policy and call LookupStale instead.
func (c *CachingLoader) Load(specifier string) (*core.LoadedSource, error) {
	src, err := c.next.Load(specifier)
	if err != nil {
		return nil, err
	}
	if src.Hash == "" {
		src.Hash = hashBytes(src.Source)
	}
	if cached, ok := c.store.Lookup(specifier, src.Hash); ok {
		return cached, nil
	}
	_ = c.store.Put(specifier, src, c.now())
	return src, nil
}

// LookupStale returns a cached module without consulting the host loader
// at all, trusting the caller (e.g. a snapshot warm-start path) to have
// already decided the cache entry is acceptable without rehashing.
func (c *CachingLoader) LookupStale(specifier string) (*core.LoadedSource, bool) {
	var rec record
	if err := c.store.db.First(&rec, "specifier = ?", specifier).Error; err != nil {
		return nil, false
	}
	return &core.LoadedSource{Source: rec.Source, MediaType: core.MediaType(rec.MediaType), Hash: rec.Hash}, true
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
