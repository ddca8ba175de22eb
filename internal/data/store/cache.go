package store

import (
	"context"
	"fmt"

	"csharp-provider/internal/engine/index"
	"csharp-provider/internal/shared/observability"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedEntry struct {
	idx  *index.Index
	meta Metadata
}

// Cached keeps recently used decoded indexes in memory in front of another
// Store. Indexes are immutable, so entries are shared with callers.
type Cached struct {
	Store
	cache *lru.Cache[string, cachedEntry]
}

func NewCached(backend Store, entries int) (*Cached, error) {
	cache, err := lru.New[string, cachedEntry](entries)
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}
	return &Cached{Store: backend, cache: cache}, nil
}

func (c *Cached) Put(ctx context.Context, fingerprint string, idx *index.Index, meta Metadata) error {
	c.cache.Remove(fingerprint)
	if err := c.Store.Put(ctx, fingerprint, idx, meta); err != nil {
		return err
	}
	meta.Fingerprint = fingerprint
	c.cache.Add(fingerprint, cachedEntry{idx: idx, meta: meta})
	return nil
}

func (c *Cached) Get(ctx context.Context, fingerprint string) (*index.Index, Metadata, bool, error) {
	if entry, ok := c.cache.Get(fingerprint); ok {
		observability.StoreCacheHits.Inc()
		return entry.idx, entry.meta, true, nil
	}
	observability.StoreCacheMisses.Inc()

	idx, meta, ok, err := c.Store.Get(ctx, fingerprint)
	if err != nil || !ok {
		return idx, meta, ok, err
	}
	c.cache.Add(fingerprint, cachedEntry{idx: idx, meta: meta})
	return idx, meta, true, nil
}

func (c *Cached) PutMetadata(ctx context.Context, meta Metadata) error {
	c.cache.Remove(meta.Fingerprint)
	return c.Store.PutMetadata(ctx, meta)
}

func (c *Cached) Invalidate(ctx context.Context, fingerprint string) error {
	c.cache.Remove(fingerprint)
	return c.Store.Invalidate(ctx, fingerprint)
}

func (c *Cached) Len() int {
	return c.cache.Len()
}

func (c *Cached) Close() error {
	c.cache.Purge()
	return c.Store.Close()
}
