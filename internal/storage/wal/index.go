package wal

import (
	"sort"
	"sync"

	"github.com/sphildreth/decentdb/internal/storage"
)

// indexEntry is one committed image of a page: the LSN it was written at
// and its byte offset in the WAL file.
type indexEntry struct {
	lsn    storage.LSN
	offset int64
}

// pageIndex is the in-memory WAL index (§3): PageId -> ordered vector of
// (lsn, fileOffset), binary-searchable by LSN. A single mutex protects the
// whole map; commits publish all of a transaction's entries under one
// critical section so readers never see partial visibility (§5).
type pageIndex struct {
	mu      sync.RWMutex
	entries map[storage.PageID][]indexEntry
}

func newPageIndex() *pageIndex {
	return &pageIndex{entries: make(map[storage.PageID][]indexEntry)}
}

// publish appends entries for a single commit. images holds one offset per
// page (the frame the writer appended last for that page), so each page
// gains exactly one entry at lsn.
func (idx *pageIndex) publish(images map[storage.PageID]int64, lsn storage.LSN) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for pageID, offset := range images {
		idx.entries[pageID] = append(idx.entries[pageID], indexEntry{lsn: lsn, offset: offset})
	}
}

// getAtOrBefore binary-searches the vector for pageID for the greatest
// entry with lsn <= snapshot.
func (idx *pageIndex) getAtOrBefore(pageID storage.PageID, snapshot storage.LSN) (int64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	vec := idx.entries[pageID]
	if len(vec) == 0 {
		return 0, false
	}
	// vec is append-ordered by increasing LSN (commits are monotonic), so a
	// plain ascending binary search on lsn applies directly.
	i := sort.Search(len(vec), func(i int) bool { return vec[i].lsn > snapshot })
	if i == 0 {
		return 0, false
	}
	return vec[i-1].offset, true
}

// highestLSN reports the tip LSN visible for pageID, or 0 if none.
func (idx *pageIndex) highestLSN(pageID storage.PageID) storage.LSN {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	vec := idx.entries[pageID]
	if len(vec) == 0 {
		return 0
	}
	return vec[len(vec)-1].lsn
}

// compact drops entries with lsn <= horizon for every page, except it
// always keeps the single greatest entry with lsn <= horizon — that entry
// is still the answer for any live reader whose snapshot falls in
// (previous horizon, horizon], and for any reader below minPinned it is
// safe to drop. minPinned is the oldest snapshot any active reader holds
// (Checkpoint passes horizon itself when there are no readers, meaning
// nothing needs protecting below the horizon).
func (idx *pageIndex) compact(horizon storage.LSN, minPinned storage.LSN) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	keepBelow := horizon
	if minPinned < keepBelow {
		keepBelow = minPinned
	}
	for pageID, vec := range idx.entries {
		cut := sort.Search(len(vec), func(i int) bool { return vec[i].lsn > keepBelow })
		if cut <= 1 {
			continue
		}
		trimmed := append([]indexEntry(nil), vec[cut-1:]...)
		idx.entries[pageID] = trimmed
	}
}

// reset drops the entire index — used after a checkpoint truncates the WAL
// to its header (§4.3.1 step 4).
func (idx *pageIndex) reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[storage.PageID][]indexEntry)
}

// pageIDsInRange returns every page that has at least one entry with
// lsn in (after, atOrBefore], paired with the offset of its greatest such
// entry — the checkpoint's per-page work list (§4.3.1 step 1).
func (idx *pageIndex) pageIDsInRange(after, atOrBefore storage.LSN) map[storage.PageID]int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[storage.PageID]int64)
	for pageID, vec := range idx.entries {
		i := sort.Search(len(vec), func(i int) bool { return vec[i].lsn > atOrBefore })
		if i == 0 {
			continue
		}
		best := vec[i-1]
		if best.lsn > after {
			out[pageID] = best.offset
		}
	}
	return out
}
