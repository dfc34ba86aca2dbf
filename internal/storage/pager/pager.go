// Package pager implements the fixed-size page cache over the main
// database file: allocate/free/pin/unpin/read/write, a durable freelist
// for reclaimed pages, and overflow chains for values too large to fit
// inline in a B+Tree leaf cell (§4.2).
package pager

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sphildreth/decentdb/internal/dberrors"
	"github.com/sphildreth/decentdb/internal/storage"
	"github.com/sphildreth/decentdb/internal/vfs"
)

// Config bundles the operational knobs of §6 that pertain to the pager.
type Config struct {
	CachePages int // buffer pool capacity; 0 selects a small default.
}

// Pager owns the main database file, its page cache, and the in-memory
// freelist mirror. It has no knowledge of the WAL: per the Design Notes,
// the pager↔WAL relationship is a non-owning back-reference owned by the
// database handle (internal/decentdb), not a direct import cycle.
type Pager struct {
	mu            sync.Mutex // guards header, freelist, inTransaction, dirty tracking set
	v             vfs.VFS
	file          vfs.File
	path          string
	pageSize      int
	cache         *Cache
	header        storage.Header
	free          *freeSet
	nextPageID    storage.PageID
	inTransaction bool
	trackedDirty  map[storage.PageID]struct{}
	closed        bool
	log           *logrus.Entry
}

// Open opens or creates the main database file at path. A fresh file gets
// a new DB header written and fsynced before returning.
func Open(v vfs.VFS, path string, cfg Config) (*Pager, error) {
	cachePages := cfg.CachePages
	if cachePages <= 0 {
		cachePages = 256
	}

	isNew := !v.Exists(path)
	f, err := v.Open(path)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "open database file", err)
	}

	p := &Pager{
		v:            v,
		file:         f,
		path:         path,
		trackedDirty: make(map[storage.PageID]struct{}),
		free:         newFreeSet(),
		log:          logrus.WithField("component", "pager"),
	}

	if isNew {
		p.pageSize = storage.DefaultPageSize
		p.header = *storage.NewHeader(uint32(p.pageSize))
		p.nextPageID = 1
		p.cache = NewCache(cachePages, p.pageSize)
		if err := p.writeHeaderToDisk(); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, dberrors.Wrap(dberrors.IO, "fsync new database file", err)
		}
		return p, nil
	}

	hdrBuf := make([]byte, storage.HeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, dberrors.Wrap(dberrors.IO, "read database header", err)
	}
	hdr, err := storage.DecodeHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.header = *hdr
	p.pageSize = int(hdr.PageSize)
	p.cache = NewCache(cachePages, p.pageSize)

	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, dberrors.Wrap(dberrors.IO, "stat database file", err)
	}
	p.nextPageID = storage.PageID(size / int64(p.pageSize))
	if p.nextPageID < 1 {
		p.nextPageID = 1
	}

	if hdr.FreelistHead != storage.InvalidPageID {
		if err := loadFreelist(p.free, hdr.FreelistHead, p.ReadPageDirect); err != nil {
			f.Close()
			return nil, err
		}
	}

	return p, nil
}

// PageSize returns the fixed page size in effect for this database file.
func (p *Pager) PageSize() int { return p.pageSize }

// Header returns a copy of the in-memory DB header.
func (p *Pager) Header() storage.Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header
}

// UpdateHeader mutates the in-memory header under lock. It does not write
// to disk; callers persist via WriteHeaderToDisk (typically from checkpoint).
func (p *Pager) UpdateHeader(fn func(h *storage.Header)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.header)
}

func (p *Pager) writeHeaderToDisk() error {
	buf := storage.EncodeHeader(&p.header)
	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return dberrors.Wrap(dberrors.IO, "write database header", err)
	}
	return nil
}

// WriteHeaderToDisk persists and fsyncs the current in-memory header.
func (p *Pager) WriteHeaderToDisk() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writeHeaderToDisk(); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return dberrors.Wrap(dberrors.IO, "fsync database header", err)
	}
	return nil
}

// BeginTxnPageTracking starts recording dirty page IDs for the active
// writer so that rollback can discard them from cache (§4.2).
func (p *Pager) BeginTxnPageTracking() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inTransaction = true
	p.trackedDirty = make(map[storage.PageID]struct{})
}

// RollbackTxnPages discards every page this transaction dirtied from the
// cache, reverting future reads to the on-disk (or WAL-visible) image.
func (p *Pager) RollbackTxnPages() {
	p.mu.Lock()
	ids := make([]storage.PageID, 0, len(p.trackedDirty))
	for id := range p.trackedDirty {
		ids = append(ids, id)
	}
	p.inTransaction = false
	p.trackedDirty = make(map[storage.PageID]struct{})
	p.mu.Unlock()
	for _, id := range ids {
		p.cache.discard(id)
	}
}

// EndTxnPageTracking stops tracking without discarding — called after a
// successful commit, once the WAL durably owns the new images.
func (p *Pager) EndTxnPageTracking() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inTransaction = false
}

// AllocatePage pops a page from the freelist if non-empty, else extends
// the file on first write. Must not block on checkpoint (§4.2).
func (p *Pager) AllocatePage() (storage.PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.free.pop(); ok {
		if p.header.FreelistCount > 0 {
			p.header.FreelistCount--
		}
		return id, nil
	}
	id := p.nextPageID
	p.nextPageID++
	return id, nil
}

// FreePage pushes id onto the in-memory freelist; the on-disk chain and the
// header's freelistHead/Count are only rewritten by FlushFreelist, which
// Checkpoint and ClosePager call on the caller's behalf (§4.2).
func (p *Pager) FreePage(id storage.PageID) error {
	p.mu.Lock()
	p.free.push(id)
	p.header.FreelistCount = uint32(p.free.count())
	p.mu.Unlock()
	p.cache.dropClean(id)
	return nil
}

// PageHandle is a pinned, resident page buffer returned by PinPage.
type PageHandle struct {
	ID  storage.PageID
	Buf []byte
}

// PinPage ensures the page is resident, incrementing its pin count.
func (p *Pager) PinPage(id storage.PageID) (*PageHandle, error) {
	if buf, ok := p.cache.pin(id); ok {
		return &PageHandle{ID: id, Buf: buf}, nil
	}
	buf, err := p.readRaw(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	inTxn := p.inTransaction
	p.mu.Unlock()
	if err := p.cache.insert(id, buf, inTxn); err != nil {
		return nil, err
	}
	return &PageHandle{ID: id, Buf: buf}, nil
}

// UnpinPage decrements pinCount; if dirty, marks the entry dirty and
// records the PageId in the transaction tracking set (§4.2).
func (p *Pager) UnpinPage(h *PageHandle, dirty bool) {
	p.cache.unpin(h.ID, dirty)
	if dirty {
		p.mu.Lock()
		if p.inTransaction {
			p.trackedDirty[h.ID] = struct{}{}
		}
		p.mu.Unlock()
	}
}

// ReadPage is a convenience wrapper around pin/unpin for a full copy read.
func (p *Pager) ReadPage(id storage.PageID) ([]byte, error) {
	h, err := p.PinPage(id)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(h.Buf))
	copy(out, h.Buf)
	p.UnpinPage(h, false)
	return out, nil
}

// WritePage is a convenience wrapper around pin/unpin that overwrites the
// page's resident bytes and marks it dirty.
func (p *Pager) WritePage(id storage.PageID, buf []byte) error {
	h, err := p.PinPage(id)
	if err != nil {
		return err
	}
	copy(h.Buf, buf)
	p.UnpinPage(h, true)
	return nil
}

func (p *Pager) readRaw(id storage.PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	n, err := p.file.ReadAt(buf, off)
	if err != nil && n < len(buf) {
		// A short read at a page not yet extended on disk reads as zeros —
		// callers (btree.InitRoot, etc.) are responsible for initializing
		// a freshly allocated page before relying on its contents.
		return buf, nil
	}
	return buf, nil
}

// ReadPageDirect bypasses any WAL overlay and reads straight from the main
// file, bypassing the cache too — used by checkpoint verification and
// freelist loading, where the exact on-disk bytes matter (§4.2).
func (p *Pager) ReadPageDirect(id storage.PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, dberrors.Wrap(dberrors.IO, fmt.Sprintf("read page %d direct", id), err)
	}
	return buf, nil
}

// WritePageDirect writes straight to the main file, bypassing the cache.
// Used by checkpoint to apply WAL-resident images.
func (p *Pager) WritePageDirect(id storage.PageID, buf []byte) error {
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return dberrors.Wrap(dberrors.IO, fmt.Sprintf("write page %d direct", id), err)
	}
	p.cache.clearDirty(id)
	return nil
}

// Sync fsyncs the main database file.
func (p *Pager) Sync() error {
	if err := p.file.Sync(); err != nil {
		return dberrors.Wrap(dberrors.IO, "fsync database file", err)
	}
	return nil
}

// FlushAll writes dirty pages to the main file and fsyncs, when NOT in a
// transaction. Has no effect during a transaction (§4.2).
func (p *Pager) FlushAll() error {
	p.mu.Lock()
	inTxn := p.inTransaction
	p.mu.Unlock()
	if inTxn {
		return nil
	}
	for _, d := range p.cache.dirtyPages() {
		if err := p.WritePageDirect(d.ID, d.Buf); err != nil {
			return err
		}
	}
	return p.Sync()
}

// FlushFreelist rewrites the on-disk freelist chain from the in-memory
// set and updates the header's freelistHead/Count fields. Called by
// checkpoint and Close.
func (p *Pager) FlushFreelist() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	head, err := flushFreelist(p.free, p.pageSize,
		func() storage.PageID {
			id := p.nextPageID
			p.nextPageID++
			return id
		},
		p.WritePageDirect,
	)
	if err != nil {
		return err
	}
	p.header.FreelistHead = head
	p.header.FreelistCount = uint32(p.free.count())
	return nil
}

// ClosePager flushes the freelist chain and header, then releases buffers
// (§4.2). Pages freed since the last checkpoint would otherwise be invisible
// to the next Open, since Open only rebuilds the in-memory freeSet from the
// on-disk chain rooted at the header's freelistHead.
func (p *Pager) ClosePager() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	if err := p.FlushFreelist(); err != nil {
		return err
	}
	if err := p.WriteHeaderToDisk(); err != nil {
		return err
	}
	return p.file.Close()
}

// FreelistCount reports how many pages are currently free, for metrics
// and the inspection CLI.
func (p *Pager) FreelistCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.count()
}

// FreePageIDs returns a snapshot of every page currently on the in-memory
// freelist, for the garbage collector's reachability scan.
func (p *Pager) FreePageIDs() []storage.PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.all()
}

// HighWaterMark reports the smallest PageId that has never been handed out
// by AllocatePage; every allocated page has an ID in [1, HighWaterMark).
func (p *Pager) HighWaterMark() storage.PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextPageID
}

// CacheStats reports the buffer pool's hit/miss/eviction counters since
// open, for a caller to sync into a metrics.Registry.
func (p *Pager) CacheStats() CacheStats {
	return p.cache.Stats()
}

// FileSize returns the current size of the main database file in bytes.
func (p *Pager) FileSize() (int64, error) {
	size, err := p.file.Size()
	if err != nil {
		return 0, dberrors.Wrap(dberrors.IO, "stat database file", err)
	}
	return size, nil
}
