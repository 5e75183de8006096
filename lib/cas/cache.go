// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/tessera-data/tessera/lib/format"
)

// Cache holds decoded immutable objects keyed by kind and identifier,
// and chunk bytes keyed by object key and byte range. Cost is the
// encoded body size, so MaxBytes bounds roughly the serialized
// footprint. Chunks are cached when read, never when written.
//
// All methods are safe on a nil *Cache, which caches nothing.
type Cache struct {
	inner *ristretto.Cache[string, any]
}

// NewCache returns a cache bounded to about maxBytes.
func NewCache(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cas: cache size must be positive, got %d", maxBytes)
	}
	// Ristretto recommends ten counters per expected item; objects
	// average well over a kilobyte.
	counters := max(maxBytes/100, 1000)
	inner, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object cache: %w", err)
	}
	return &Cache{inner: inner}, nil
}

func cacheKey(kind format.Kind, id format.ObjectID) string {
	var key [1 + len(id)]byte
	key[0] = byte(kind)
	copy(key[1:], id[:])
	return string(key[:])
}

// rangeKey never collides with cacheKey: kinds are below 0xff.
func rangeKey(key string, offset, length uint64) string {
	return fmt.Sprintf("\xff%s\x00%d:%d", key, offset, length)
}

// getRange returns a copy of cached chunk bytes.
func (c *Cache) getRange(key string, offset, length uint64) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	cached, ok := c.inner.Get(rangeKey(key, offset, length))
	if !ok {
		return nil, false
	}
	data, ok := cached.([]byte)
	if !ok {
		return nil, false
	}
	return bytes.Clone(data), true
}

func (c *Cache) setRange(key string, offset, length uint64, data []byte) {
	if c == nil {
		return
	}
	c.inner.Set(rangeKey(key, offset, length), bytes.Clone(data), int64(max(len(data), 1)))
}

func (c *Cache) get(kind format.Kind, id format.ObjectID) (any, bool) {
	if c == nil || kind == format.KindChunk {
		return nil, false
	}
	return c.inner.Get(cacheKey(kind, id))
}

func (c *Cache) set(kind format.Kind, id format.ObjectID, value any, cost int) {
	if c == nil || kind == format.KindChunk {
		return
	}
	c.inner.Set(cacheKey(kind, id), value, int64(max(cost, 1)))
}

// Wait blocks until buffered writes are applied. Tests use it to make
// cache contents deterministic.
func (c *Cache) Wait() {
	if c != nil {
		c.inner.Wait()
	}
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// Stats returns hit and miss counts since creation.
func (c *Cache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	return CacheStats{Hits: c.inner.Metrics.Hits(), Misses: c.inner.Metrics.Misses()}
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	if c != nil {
		c.inner.Close()
	}
}
