package pager

import (
	"sync"
	"sync/atomic"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
)

// frame is one resident page in a cache shard.
type frame struct {
	id         storage.PageID
	buf        []byte
	pinCount   int
	dirty      bool
	tombstoned bool
	refBit     bool
}

// shard is one clock ring of frames, its own lock, own eviction sweep.
// Sharding spreads pinPage/unpinPage contention across goroutines touching
// different pages, the way a single centralized LRU lock would not (§5,
// "per-shard locks").
type shard struct {
	mu             sync.Mutex
	capacity       int
	byID           map[storage.PageID]*frame
	ring           []*frame
	hand           int
	tombstoneCount int
}

func newShard(capacity int) *shard {
	return &shard{
		capacity: capacity,
		byID:     make(map[storage.PageID]*frame, capacity),
		ring:     make([]*frame, 0, capacity),
	}
}

// splitmix64 gives a cheap, well-mixed hash for shard selection — the
// "sharded clock eviction with splitmix64 hashing" variant the spec
// recommends for scaling (§4.2).
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// Cache is a fixed-capacity, sharded clock page cache.
type Cache struct {
	shards   []*shard
	pageSize int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// CacheStats is a point-in-time snapshot of cache traffic counters.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns a snapshot of this cache's hit/miss/eviction counters,
// for the metrics package to report as a gauge sync (§10).
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// NewCache builds a cache with room for totalPages resident pages spread
// across a fixed number of shards.
func NewCache(totalPages, pageSize int) *Cache {
	if totalPages < 1 {
		totalPages = 1
	}
	shardCount := 8
	if totalPages < shardCount {
		shardCount = 1
	}
	per := (totalPages + shardCount - 1) / shardCount
	c := &Cache{shards: make([]*shard, shardCount), pageSize: pageSize}
	for i := range c.shards {
		c.shards[i] = newShard(per)
	}
	return c
}

func (c *Cache) shardFor(id storage.PageID) *shard {
	h := splitmix64(uint64(id))
	return c.shards[h%uint64(len(c.shards))]
}

// pin returns the resident buffer for id, incrementing its pin count, or
// (nil, false) on a cache miss.
func (c *Cache) pin(id storage.PageID) ([]byte, bool) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok || f.tombstoned {
		c.misses.Add(1)
		return nil, false
	}
	f.pinCount++
	f.refBit = true
	c.hits.Add(1)
	return f.buf, true
}

// insert adds a freshly read page to the cache, pinned once. It evicts a
// victim if the shard is at capacity; returns dberrors.Resource if no
// victim is evictable (§4.2, pinPage contract).
func (c *Cache) insert(id storage.PageID, buf []byte, inTransaction bool) error {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.byID[id]; ok {
		f.tombstoned = false
		f.buf = buf
		f.pinCount++
		f.refBit = true
		return nil
	}
	if len(s.ring) >= s.capacity {
		if !s.evictLocked(inTransaction) {
			return dberrors.New(dberrors.Resource, "no evictable page in shard", "")
		}
		c.evictions.Add(1)
	}
	f := &frame{id: id, buf: buf, pinCount: 1, refBit: true}
	s.byID[id] = f
	s.ring = append(s.ring, f)
	return nil
}

// evictLocked runs the clock sweep: skip pinned/dirty-during-txn/tombstoned
// entries, clear reference bits on a hit, tombstone the first miss (§4.2,
// "Key algorithm — eviction with tombstones").
func (s *shard) evictLocked(inTransaction bool) bool {
	n := len(s.ring)
	if n == 0 {
		return false
	}
	for i := 0; i < 2*n; i++ {
		f := s.ring[s.hand]
		s.hand = (s.hand + 1) % n
		if f.tombstoned || f.pinCount > 0 {
			continue
		}
		if inTransaction && f.dirty {
			continue
		}
		if f.refBit {
			f.refBit = false
			continue
		}
		f.tombstoned = true
		s.tombstoneCount++
		delete(s.byID, f.id)
		if s.tombstoneCount*2 > n {
			s.compactLocked()
		}
		return true
	}
	return false
}

// compactLocked drops tombstoned slots from the ring in one pass.
func (s *shard) compactLocked() {
	kept := s.ring[:0]
	for _, f := range s.ring {
		if !f.tombstoned {
			kept = append(kept, f)
		}
	}
	s.ring = kept
	s.hand = 0
	s.tombstoneCount = 0
}

// unpin decrements the pin count and optionally marks the frame dirty.
func (c *Cache) unpin(id storage.PageID, dirty bool) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok {
		return
	}
	if f.pinCount > 0 {
		f.pinCount--
	}
	if dirty {
		f.dirty = true
	}
}

// dropClean evicts id immediately if it is unpinned and not dirty. Used
// when a page is freed: there is no reason to keep it resident.
func (c *Cache) dropClean(id storage.PageID) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok || f.pinCount > 0 || f.dirty {
		return
	}
	f.tombstoned = true
	delete(s.byID, id)
}

// discard forcibly removes id regardless of dirty/pin state — used by
// rollback to undo a transaction's cache writes.
func (c *Cache) discard(id storage.PageID) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.byID[id]; ok {
		f.tombstoned = true
		delete(s.byID, id)
	}
}

// dirtyPages returns every dirty, non-tombstoned frame across all shards.
func (c *Cache) dirtyPages() []struct {
	ID  storage.PageID
	Buf []byte
} {
	var out []struct {
		ID  storage.PageID
		Buf []byte
	}
	for _, s := range c.shards {
		s.mu.Lock()
		for _, f := range s.ring {
			if f.dirty && !f.tombstoned {
				out = append(out, struct {
					ID  storage.PageID
					Buf []byte
				}{f.id, f.buf})
			}
		}
		s.mu.Unlock()
	}
	return out
}

// clearDirty clears the dirty flag on id, called once its bytes are durably
// written to the main file (flushAll / checkpoint).
func (c *Cache) clearDirty(id storage.PageID) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.byID[id]; ok {
		f.dirty = false
	}
}
