// Package blobcache implements the content-addressed blob cache: an
// LRU-by-last-access table over a Store, with in-flight fetch
// deduplication so two concurrent requests for the same missing blob
// only fetch it once.
package blobcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/federatedfm/p2pcore/internal/perrors"
	"github.com/federatedfm/p2pcore/pkg/logging"
)

// entry is the bookkeeping the cache keeps per cached blob.
type entry struct {
	size         uint64
	lastAccessed time.Time
}

// Cache is the LRU accounting layer over a Store. It does not move
// bytes itself (the caller fetches into the Store and then calls
// RecordAccess); it only tracks sizes, recency, in-flight fetches, and
// eviction.
type Cache struct {
	store   Store
	maxSize uint64
	log     logging.Logger

	mu      sync.Mutex
	entries map[Hash]entry
	total   uint64

	fetchMu  sync.Mutex
	inFlight map[Hash]struct{}
}

// New builds a Cache over store with the given byte ceiling.
func New(store Store, maxSize uint64, logger logging.Logger) *Cache {
	return &Cache{
		store:    store,
		maxSize:  maxSize,
		log:      logger,
		entries:  make(map[Hash]entry),
		inFlight: make(map[Hash]struct{}),
	}
}

// RecordAccess notes that hash (of the given size) was just read or
// written, refreshing its recency. If this is the first time the
// cache has seen hash, the entry is created with no store tag — use
// RecordAccessWithTag when the blob should be protected from GC.
func (c *Cache) RecordAccess(hash Hash, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordAccessLocked(hash, size)
}

func (c *Cache) recordAccessLocked(hash Hash, size uint64) (isNew bool) {
	e, exists := c.entries[hash]
	now := time.Now()
	if exists {
		c.total = c.total - e.size + size
		c.entries[hash] = entry{size: size, lastAccessed: now}
		return false
	}
	c.entries[hash] = entry{size: size, lastAccessed: now}
	c.total += size
	return true
}

// RecordAccessWithTag records access the same way RecordAccess does,
// and additionally tags the blob in the Store the first time it is
// seen — the tag is created outside the cache's critical section so a
// slow store call never blocks other cache operations.
func (c *Cache) RecordAccessWithTag(ctx context.Context, hash Hash, size uint64) error {
	c.mu.Lock()
	isNew := c.recordAccessLocked(hash, size)
	c.mu.Unlock()

	if !isNew {
		return nil
	}
	if err := c.store.TagSet(ctx, CacheTag(hash), hash); err != nil {
		return perrors.Wrap(perrors.Store, fmt.Sprintf("tag blob %s", hash), err)
	}
	return nil
}

// TryStartFetch reports whether the caller should begin fetching hash:
// true the first time it's called for a given hash while no fetch is
// outstanding, false if another caller is already fetching it. Callers
// that get false should wait for the in-flight fetch to land instead
// of issuing a duplicate one.
func (c *Cache) TryStartFetch(hash Hash) bool {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if _, ok := c.inFlight[hash]; ok {
		return false
	}
	c.inFlight[hash] = struct{}{}
	return true
}

// FinishFetch clears the in-flight marker for hash, whether the fetch
// succeeded or failed.
func (c *Cache) FinishFetch(hash Hash) {
	c.fetchMu.Lock()
	delete(c.inFlight, hash)
	c.fetchMu.Unlock()
}

// Remove drops hash from the cache and releases its store tag.
func (c *Cache) Remove(ctx context.Context, hash Hash) error {
	c.mu.Lock()
	e, ok := c.entries[hash]
	if ok {
		delete(c.entries, hash)
		c.total -= e.size
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.store.TagDelete(ctx, CacheTag(hash)); err != nil {
		return perrors.Wrap(perrors.Store, fmt.Sprintf("untag blob %s", hash), err)
	}
	return nil
}

// EvictIfNeeded removes the least-recently-accessed blobs until the
// cache is at or under its size ceiling. Entries whose tag fails to
// delete are skipped (left cached) rather than retried, so a single
// stuck tag doesn't spin the eviction loop.
func (c *Cache) EvictIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	if c.total <= c.maxSize {
		c.mu.Unlock()
		return nil
	}
	type candidate struct {
		hash Hash
		e    entry
	}
	candidates := make([]candidate, 0, len(c.entries))
	for h, e := range c.entries {
		candidates = append(candidates, candidate{hash: h, e: e})
	}
	c.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].e.lastAccessed.Before(candidates[j].e.lastAccessed)
	})

	for _, cand := range candidates {
		c.mu.Lock()
		if c.total <= c.maxSize {
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		if err := c.store.TagDelete(ctx, CacheTag(cand.hash)); err != nil {
			if c.log != nil {
				c.log.WithError(err).WithField("hash", cand.hash).Warn("skipping eviction candidate: tag delete failed")
			}
			continue
		}

		c.mu.Lock()
		if e, ok := c.entries[cand.hash]; ok {
			delete(c.entries, cand.hash)
			c.total -= e.size
		}
		c.mu.Unlock()
	}
	return nil
}

// TotalSize returns the sum of all currently cached blob sizes.
func (c *Cache) TotalSize() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// MaxSize returns the cache's configured ceiling.
func (c *Cache) MaxSize() uint64 {
	return c.maxSize
}

// EntryCount returns the number of distinct blobs currently cached.
func (c *Cache) EntryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
